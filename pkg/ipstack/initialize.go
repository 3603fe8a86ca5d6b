package ipstack

import (
	"net"
	"net/netip"

	"github.com/pkg/errors"

	"trippy-tcp/pkg/lnxconfig"
)

// InitNode opens a UDP socket per interface and fills in the neighbor tables
func InitNode(ipconfig *lnxconfig.IPConfig) (*IPStack, error) {
	ipstack := &IPStack{
		IPConfig:   ipconfig,
		Handlers:   make(map[Protocol]HandlerFunc),
		Interfaces: make(map[string]*Interface),
	}

	for _, iface := range ipconfig.Interfaces {
		// Convert from netip.AddrPort to net.UDPAddr
		udpaddr := net.UDPAddrFromAddrPort(iface.UDPAddr)

		conn, err := net.ListenUDP("udp4", udpaddr)
		if err != nil {
			ipstack.Close()
			return nil, errors.Wrapf(err, "opening interface %s on %s", iface.Name, iface.UDPAddr)
		}

		ipstack.Interfaces[iface.Name] = &Interface{
			Name:      iface.Name,
			IPAddr:    iface.AssignedIP,
			Netmask:   iface.AssignedPrefix,
			UDPAddr:   udpaddr,
			Socket:    conn,
			Neighbors: make(map[netip.Addr]*net.UDPAddr),
		}
	}

	// Add the neighbors to the interfaces
	for _, neighbor := range ipconfig.Neighbors {
		ipstack.Interfaces[neighbor.InterfaceName].Neighbors[neighbor.DestAddr] = net.UDPAddrFromAddrPort(neighbor.UDPAddr)
	}

	return ipstack, nil
}

// Close shuts every interface socket
func (s *IPStack) Close() error {
	var firstErr error
	for _, iface := range s.Interfaces {
		if iface.Socket == nil {
			continue
		}
		if err := iface.Socket.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
