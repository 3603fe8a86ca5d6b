package tcpstack

import (
	"fmt"
	"strings"

	"github.com/google/netstack/tcpip/seqnum"
)

// Segment is the part of a TCP packet the connection logic cares about.
// Ports and checksum live in the codec.
type Segment struct {
	SeqNum  seqnum.Value
	AckNum  seqnum.Value
	Flags   uint8
	Window  uint16
	Payload []byte
}

func (s *Segment) Has(flag uint8) bool {
	return s.Flags&flag != 0
}

// LogicalLen is how much sequence space the segment takes up. SYN and FIN count as one each.
func (s *Segment) LogicalLen() uint64 {
	n := uint64(len(s.Payload))
	if s.Has(TCP_SYN) {
		n++
	}
	if s.Has(TCP_FIN) {
		n++
	}
	return n
}

func (s Segment) String() string {
	var flags []string
	for _, f := range []struct {
		bit  uint8
		name string
	}{{TCP_SYN, "S"}, {TCP_ACK, "A"}, {TCP_FIN, "F"}, {TCP_RST, "R"}} {
		if s.Flags&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("[%s] seq=%d ack=%d win=%d len=%d", strings.Join(flags, ""), s.SeqNum, s.AckNum, s.Window, len(s.Payload))
}
