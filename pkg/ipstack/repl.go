package ipstack

import (
	"fmt"
	"io"
	"net/netip"
	"strings"
)

// Reference file:
// https://brown-csci1680.github.io/iptcp-docs/specs/repl-commands/

// HandleCommand runs one of the IP layer commands and reports whether it knew the command
func (s *IPStack) HandleCommand(args []string, out io.Writer) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "li":
		// List interfaces
		// In format Name / Addr/Prefix / State
		fmt.Fprintln(out, "Name  Addr/Prefix  State")
		for _, name := range s.interfaceNames() {
			iface := s.Interfaces[name]
			state := "up"
			if iface.IsDown() {
				state = "down"
			}
			fmt.Fprintf(out, "%s  %s/%d  %s\n", iface.Name, iface.IPAddr, iface.Netmask.Bits(), state)
		}
	case "ln":
		// List neighbors
		// In format Iface / VIP / UDPAddr
		fmt.Fprintln(out, "Iface  VIP  UDPAddr")
		for _, name := range s.interfaceNames() {
			iface := s.Interfaces[name]
			if iface.IsDown() {
				continue
			}
			for neighbor, udpaddr := range iface.Neighbors {
				fmt.Fprintf(out, "%s  %s  %s\n", iface.Name, neighbor, udpaddr)
			}
		}
	case "down", "up":
		// Command should be formatted as "down <ifname>"
		if len(args) != 2 {
			fmt.Fprintf(out, "Usage: %s <ifname>\n", args[0])
			return true
		}
		iface, ok := s.Interfaces[args[1]]
		if !ok {
			fmt.Fprintf(out, "Unknown interface %s\n", args[1])
			return true
		}
		iface.SetDown(args[0] == "down")
	case "send":
		// Command should be formatted as send <addr> <message ...>
		if len(args) < 3 {
			fmt.Fprintln(out, "Usage: send <addr> <message ...>")
			return true
		}
		dst, err := netip.ParseAddr(args[1])
		if err != nil {
			fmt.Fprintln(out, "Error parsing address")
			return true
		}
		err = s.SendIP(dst, TEST_PROTOCOL, DEFAULT_TTL, []byte(strings.Join(args[2:], " ")))
		if err != nil {
			fmt.Fprintf(out, "Error sending packet: %v\n", err)
		}
	default:
		return false
	}
	return true
}

// PrintPacket returns a handler that prints test packets to out
func PrintPacket(out io.Writer) HandlerFunc {
	return func(packet *IPPacket, stack *IPStack) {
		fmt.Fprintf(out, "Received test packet: Src: %s, Dst: %s, TTL: %d, Data: %s\n",
			packet.SourceIP, packet.DestinationIP, packet.TTL, string(packet.Payload))
	}
}
