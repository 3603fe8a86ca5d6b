package tcpstack

import (
	"github.com/google/netstack/tcpip/seqnum"
)

// Sender turns the outgoing stream into segments and keeps resending the
// oldest unacked one until the peer owns up to it.
//
// All sequence numbers here are absolute stream indexes. SYN is index 0.
type Sender struct {
	stream     *FlowBuffer
	ISS        seqnum.Value
	maxPayload int

	UNA   uint64 // oldest unacknowledged sequence number
	NXT   uint64 // next sequence number to be sent
	WND   uint16 // peer's advertised window size
	ackno uint64 // highest ackno the peer has sent us

	initialRTO       uint64
	calculatedRTO    uint64
	RTOtimer         Timer
	retransmissions  int // consecutive, reset by every useful ack
	totalRetransmits uint64

	inFlightPackets []InFlightPacket
	segmentsOut     []Segment
}

func NewSender(capacity int, rto uint64, maxPayload int, isn seqnum.Value) *Sender {
	return &Sender{
		stream:        NewFlowBuffer(capacity),
		ISS:           isn,
		maxPayload:    maxPayload,
		WND:           1, // Enough for the SYN
		initialRTO:    rto,
		calculatedRTO: rto,
	}
}

// FillWindow sends as much as the peer's window lets us
func (s *Sender) FillWindow() {
	// A zero window still gets one byte so we can find out when it opens
	window := uint64(max(s.WND, 1))

	for s.NXT < s.ackno+window {
		remaining := s.ackno + window - s.NXT
		seg := Segment{SeqNum: Wrap(s.NXT, s.ISS)}

		if s.NXT == 0 {
			seg.Flags |= TCP_SYN
		} else {
			seg.Payload = s.stream.Read(int(min(remaining, uint64(s.maxPayload))))
			if s.stream.EOF() && s.NXT < s.stream.BytesWritten()+2 && uint64(len(seg.Payload)) < remaining {
				seg.Flags |= TCP_FIN
			}
		}

		length := seg.LogicalLen()
		if length == 0 {
			return
		}

		s.segmentsOut = append(s.segmentsOut, seg)
		s.inFlightPackets = append(s.inFlightPackets, InFlightPacket{seg: seg, absSeqNo: s.NXT})
		s.NXT += length

		if !s.RTOtimer.Running() {
			s.RTOtimer.Start(s.calculatedRTO)
		}

		if seg.Has(TCP_FIN) {
			return
		}
	}
}

// AckReceived processes an ackno and window from the peer. Acks for data we
// never sent are dropped.
func (s *Sender) AckReceived(ackno seqnum.Value, window uint16) {
	abs := Unwrap(ackno, s.ISS, s.NXT)
	if abs == 0 || abs > s.NXT {
		return
	}

	retired := false
	for len(s.inFlightPackets) > 0 {
		front := s.inFlightPackets[0]
		if front.absSeqNo+front.seg.LogicalLen() > abs {
			break
		}
		s.inFlightPackets = s.inFlightPackets[1:]
		s.UNA = front.absSeqNo + front.seg.LogicalLen()
		retired = true
	}

	if retired {
		s.calculatedRTO = s.initialRTO
		s.retransmissions = 0
		s.RTOtimer.Start(s.calculatedRTO)
	}
	if len(s.inFlightPackets) == 0 {
		s.RTOtimer.Stop()
	}

	// An older ack can't shrink what a newer one already opened
	if abs >= s.ackno {
		s.ackno = abs
		s.WND = window
	}

	s.FillWindow()
}

// Tick moves the retransmission clock forward by ms
func (s *Sender) Tick(ms uint64) {
	if !s.RTOtimer.Running() {
		return
	}

	s.RTOtimer.Elapse(ms)
	if !s.RTOtimer.Expired() || len(s.inFlightPackets) == 0 {
		return
	}

	s.segmentsOut = append(s.segmentsOut, s.inFlightPackets[0].seg)
	s.totalRetransmits++

	// Probes into a zero window don't mean the network is congested
	if s.WND > 0 {
		s.retransmissions++
		s.calculatedRTO *= 2
	}
	s.RTOtimer.Start(s.calculatedRTO)
}

// SendEmptySegment queues a bare segment at NXT for acks and keepalive replies
func (s *Sender) SendEmptySegment() {
	s.segmentsOut = append(s.segmentsOut, Segment{SeqNum: Wrap(s.NXT, s.ISS)})
}

// DrainSegments hands over everything queued since the last drain
func (s *Sender) DrainSegments() []Segment {
	out := s.segmentsOut
	s.segmentsOut = nil
	return out
}

func (s *Sender) Stream() *FlowBuffer {
	return s.stream
}

func (s *Sender) BytesInFlight() uint64 {
	var n uint64
	for _, p := range s.inFlightPackets {
		n += p.seg.LogicalLen()
	}
	return n
}

func (s *Sender) NextSeqNoAbsolute() uint64 {
	return s.NXT
}

func (s *Sender) NextSeqNo() seqnum.Value {
	return Wrap(s.NXT, s.ISS)
}

func (s *Sender) ConsecutiveRetransmissions() int {
	return s.retransmissions
}

func (s *Sender) TotalRetransmissions() uint64 {
	return s.totalRetransmits
}

func (s *Sender) RTO() uint64 {
	return s.calculatedRTO
}

// finSent is true once FIN has gone out at least once
func (s *Sender) finSent() bool {
	return s.stream.EOF() && s.NXT == s.stream.BytesWritten()+2
}
