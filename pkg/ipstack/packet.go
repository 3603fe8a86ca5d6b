package ipstack

import (
	"log/slog"
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

type IPPacket struct {
	SourceIP      netip.Addr
	DestinationIP netip.Addr
	TTL           uint8
	Protocol      Protocol
	Payload       []byte
	Checksum      uint16
}

type Protocol uint8

const (
	TEST_PROTOCOL Protocol = 0
	TCP_PROTOCOL  Protocol = 6
)

const DEFAULT_TTL = 16

var ErrBadIPChecksum = errors.New("ip header checksum mismatch")

func CreatePacket(source, destination netip.Addr, ttl uint8, protocol Protocol, payload []byte) IPPacket {
	return IPPacket{
		SourceIP:      source,
		DestinationIP: destination,
		TTL:           ttl,
		Protocol:      protocol,
		Payload:       payload,
	}
}

func (p *IPPacket) header() ipv4header.IPv4Header {
	return ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen, // no options
		TotalLen: ipv4header.HeaderLen + len(p.Payload),
		TTL:      int(p.TTL),
		Protocol: int(p.Protocol),
		Checksum: 0, // Zero until computed
		Src:      p.SourceIP,
		Dst:      p.DestinationIP,
		Options:  []byte{},
	}
}

// Marshal writes a real IPv4 header in front of the payload and fills in p.Checksum
func (p *IPPacket) Marshal() ([]byte, error) {
	hdr := p.header()
	headerBytes, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshalling ip header")
	}

	hdr.Checksum = int(computeChecksum(headerBytes))
	headerBytes, err = hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshalling ip header")
	}
	p.Checksum = uint16(hdr.Checksum)

	packet := make([]byte, 0, len(headerBytes)+len(p.Payload))
	packet = append(packet, headerBytes...)
	packet = append(packet, p.Payload...)
	return packet, nil
}

func UnmarshalPacket(data []byte) (IPPacket, error) {
	hdr, err := ipv4header.ParseHeader(data)
	if err != nil {
		return IPPacket{}, errors.Wrap(err, "parsing ip header")
	}
	if hdr.Len < ipv4header.HeaderLen || hdr.TotalLen < hdr.Len || hdr.TotalLen > len(data) {
		return IPPacket{}, errors.Errorf("bad ip lengths: header %d total %d buffer %d", hdr.Len, hdr.TotalLen, len(data))
	}

	// A header that carries its checksum sums to all ones
	if header.Checksum(data[:hdr.Len], 0) != 0xffff {
		return IPPacket{}, errors.Wrapf(ErrBadIPChecksum, "from %s", hdr.Src)
	}

	payload := make([]byte, hdr.TotalLen-hdr.Len)
	copy(payload, data[hdr.Len:hdr.TotalLen])

	return IPPacket{
		SourceIP:      hdr.Src,
		DestinationIP: hdr.Dst,
		TTL:           uint8(hdr.TTL),
		Protocol:      Protocol(hdr.Protocol),
		Payload:       payload,
		Checksum:      uint16(hdr.Checksum),
	}, nil
}

// This function validates a packet by checking TTL, the checksum is checked on unmarshal
func ValidatePacket(packet IPPacket) bool {
	if packet.TTL == 0 {
		slog.Debug("Invalid TTL", "src", packet.SourceIP, "dst", packet.DestinationIP)
		return false
	}
	return true
}

func computeChecksum(headerBytes []byte) uint16 {
	checksum := header.Checksum(headerBytes, 0)
	return checksum ^ 0xffff
}
