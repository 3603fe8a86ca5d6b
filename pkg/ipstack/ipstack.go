package ipstack

import (
	"log/slog"
	"net/netip"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"trippy-tcp/pkg/lnxconfig"
)

var ErrNoRoute = errors.New("no route to host")

type IPStack struct {
	Interfaces map[string]*Interface
	Mutex      sync.RWMutex // Protects Handlers
	IPConfig   *lnxconfig.IPConfig
	Handlers   map[Protocol]HandlerFunc
}

type HandlerFunc func(*IPPacket, *IPStack)

// SendIP sends data to a directly connected neighbor, or straight back up the stack if it's for us
func (s *IPStack) SendIP(dst netip.Addr, protocol Protocol, ttl uint8, data []byte) error {
	src := s.LocalAddr()

	for _, iface := range s.Interfaces {
		if iface.IPAddr == dst {
			packet := CreatePacket(dst, dst, ttl, protocol, data)
			go s.HandlePacket(&packet)
			return nil
		}
	}

	for _, name := range s.interfaceNames() {
		iface := s.Interfaces[name]
		if _, ok := iface.Neighbors[dst]; ok {
			packet := CreatePacket(iface.IPAddr, dst, ttl, protocol, data)
			return iface.SendPacket(&packet, dst)
		}
	}

	return errors.Wrapf(ErrNoRoute, "from %s to %s", src, dst)
}

// LocalAddr is the address of the first interface by name
func (s *IPStack) LocalAddr() netip.Addr {
	names := s.interfaceNames()
	if len(names) == 0 {
		return netip.Addr{}
	}
	return s.Interfaces[names[0]].IPAddr
}

func (s *IPStack) interfaceNames() []string {
	names := make([]string, 0, len(s.Interfaces))
	for name := range s.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *IPStack) RegisterHandler(protocol Protocol, handler HandlerFunc) {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	s.Handlers[protocol] = handler
}

func (s *IPStack) HandlePacket(packet *IPPacket) {
	s.Mutex.RLock()
	handler, ok := s.Handlers[packet.Protocol]
	s.Mutex.RUnlock()

	if !ok {
		slog.Debug("No handler for protocol", "protocol", packet.Protocol)
		return
	}

	handler(packet, s)
}

func ReceivePacket(packet *IPPacket, ipstack *IPStack) {
	// 1. Validate packet
	if !ValidatePacket(*packet) {
		return
	}

	// 2. For me? Check all interfaces
	for _, iface := range ipstack.Interfaces {
		if iface.IPAddr == packet.DestinationIP {
			ipstack.HandlePacket(packet)
			return
		}
	}

	// 3. Hosts don't forward
	slog.Debug("Dropping packet not addressed to us", "dst", packet.DestinationIP)
}
