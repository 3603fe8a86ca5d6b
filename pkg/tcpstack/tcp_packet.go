package tcpstack

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"

	"trippy-tcp/pkg/ipstack"
)

var (
	ErrShortSegment = errors.New("tcp segment too short")
	ErrBadChecksum  = errors.New("tcp checksum mismatch")
)

// Marshal encodes the segment with a 20 byte header and fills in the checksum
func (s *Segment) Marshal(src, dst netip.Addr, srcPort, dstPort uint16) []byte {
	packet := make([]byte, header.TCPMinimumSize+len(s.Payload))

	fields := header.TCPFields{
		SrcPort:    srcPort,
		DstPort:    dstPort,
		SeqNum:     uint32(s.SeqNum),
		AckNum:     uint32(s.AckNum),
		DataOffset: header.TCPMinimumSize,
		Flags:      s.Flags,
		WindowSize: s.Window,
		Checksum:   0, // Zero until computed below
	}
	header.TCP(packet).Encode(&fields)
	copy(packet[header.TCPMinimumSize:], s.Payload)

	header.TCP(packet).SetChecksum(computeChecksum(src, dst, packet))
	return packet
}

// ParseTCPPacket validates the checksum and splits a TCP packet into its header fields and segment
func ParseTCPPacket(src, dst netip.Addr, packet []byte) (header.TCPFields, Segment, error) {
	if len(packet) < header.TCPMinimumSize {
		return header.TCPFields{}, Segment{}, errors.Wrapf(ErrShortSegment, "got %d bytes", len(packet))
	}

	tcpHdr := header.TCP(packet)
	offset := int(tcpHdr.DataOffset())
	if offset < header.TCPMinimumSize || offset > len(packet) {
		return header.TCPFields{}, Segment{}, errors.Wrapf(ErrShortSegment, "bad data offset %d for %d bytes", offset, len(packet))
	}

	fields := header.TCPFields{
		SrcPort:    tcpHdr.SourcePort(),
		DstPort:    tcpHdr.DestinationPort(),
		SeqNum:     tcpHdr.SequenceNumber(),
		AckNum:     tcpHdr.AckNumber(),
		DataOffset: tcpHdr.DataOffset(),
		Flags:      tcpHdr.Flags(),
		WindowSize: tcpHdr.WindowSize(),
		Checksum:   tcpHdr.Checksum(),
	}

	// A packet that already carries its checksum sums to zero
	if computeChecksum(src, dst, packet) != 0 {
		return fields, Segment{}, errors.Wrapf(ErrBadChecksum, "from %s:%d", src, fields.SrcPort)
	}

	payload := make([]byte, len(packet)-offset)
	copy(payload, packet[offset:])

	seg := Segment{
		SeqNum:  seqnum.Value(fields.SeqNum),
		AckNum:  seqnum.Value(fields.AckNum),
		Flags:   fields.Flags,
		Window:  fields.WindowSize,
		Payload: payload,
	}
	return fields, seg, nil
}

func computeChecksum(src, dst netip.Addr, tcpPacket []byte) uint16 {
	// Create pseudo header (12 bytes)
	pseudoHeader := make([]byte, 12)
	src4 := src.As4()
	dst4 := dst.As4()
	copy(pseudoHeader[0:4], src4[:])
	copy(pseudoHeader[4:8], dst4[:])
	pseudoHeader[8] = 0
	pseudoHeader[9] = uint8(ipstack.TCP_PROTOCOL)
	binary.BigEndian.PutUint16(pseudoHeader[10:12], uint16(len(tcpPacket)))

	// The pseudo header is an even length so the sums chain cleanly
	sum := header.Checksum(pseudoHeader, 0)
	sum = header.Checksum(tcpPacket, sum)

	// One's complement
	return ^sum
}
