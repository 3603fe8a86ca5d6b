package ipstack

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const MAX_PACKET_SIZE = 1400

var (
	ErrInterfaceDown   = errors.New("interface is down")
	ErrUnknownNeighbor = errors.New("nextHop not in neighbors table")
)

// Here, we also define the interface struct
type Interface struct {
	Name      string
	IPAddr    netip.Addr
	Netmask   netip.Prefix
	UDPAddr   *net.UDPAddr
	Socket    *net.UDPConn
	Neighbors map[netip.Addr]*net.UDPAddr // Neighbor IP to UDP address mapping
	down      atomic.Bool
}

func (i *Interface) SetDown(down bool) {
	i.down.Store(down)
}

func (i *Interface) IsDown() bool {
	return i.down.Load()
}

func (i *Interface) SendPacket(packet *IPPacket, nextHop netip.Addr) error {
	if i.IsDown() {
		return ErrInterfaceDown
	}

	udpAddr, ok := i.Neighbors[nextHop]
	if !ok {
		return ErrUnknownNeighbor
	}

	marshalledPacket, err := packet.Marshal()
	if err != nil {
		return err
	}

	_, err = i.Socket.WriteToUDP(marshalledPacket, udpAddr)
	return err
}

// InterfaceListen reads packets off the interface's UDP socket until ctx is done
func InterfaceListen(ctx context.Context, i *Interface, stack *IPStack) error {
	go func() {
		<-ctx.Done()
		// Unblocks the read below
		i.Socket.SetReadDeadline(time.Now())
	}()

	buffer := make([]byte, MAX_PACKET_SIZE)
	for {
		n, _, err := i.Socket.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Error reading from interface", "error", err, "interface", i.Name)
			return err
		}

		// A down interface drops everything it hears
		if i.IsDown() {
			continue
		}

		packet, err := UnmarshalPacket(buffer[:n])
		if err != nil {
			slog.Debug("Dropping bad packet", "interface", i.Name, "error", err)
			continue
		}

		ReceivePacket(&packet, stack)
	}
}
