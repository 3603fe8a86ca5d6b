package tcpstack

import (
	"bytes"
	"testing"

	"github.com/google/netstack/tcpip/seqnum"
)

func newTestSender(t *testing.T, isn seqnum.Value) *Sender {
	t.Helper()
	return NewSender(4096, 1000, MAX_PAYLOAD_SIZE, isn)
}

func TestSenderSynRetransmitAndAck(t *testing.T) {
	isn := seqnum.Value(12345)
	s := newTestSender(t, isn)

	s.FillWindow()
	segs := s.DrainSegments()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	syn := segs[0]
	if !syn.Has(TCP_SYN) || syn.LogicalLen() != 1 || syn.SeqNum != isn {
		t.Fatalf("unexpected first segment %v", syn)
	}
	if s.BytesInFlight() != 1 {
		t.Fatalf("BytesInFlight = %d, want 1", s.BytesInFlight())
	}

	s.Tick(999)
	if len(s.DrainSegments()) != 0 {
		t.Fatal("retransmitted too early")
	}
	s.Tick(1)
	segs = s.DrainSegments()
	if len(segs) != 1 || segs[0].SeqNum != syn.SeqNum || !segs[0].Has(TCP_SYN) {
		t.Fatalf("expected SYN retransmission, got %v", segs)
	}
	if s.RTO() != 2000 || s.ConsecutiveRetransmissions() != 1 {
		t.Fatalf("RTO=%d retx=%d, want 2000 and 1", s.RTO(), s.ConsecutiveRetransmissions())
	}

	s.AckReceived(Wrap(1, isn), 64)
	if s.BytesInFlight() != 0 {
		t.Fatalf("BytesInFlight = %d, want 0", s.BytesInFlight())
	}
	if s.RTOtimer.Running() {
		t.Fatal("timer should stop once everything is acked")
	}
	if s.RTO() != 1000 || s.ConsecutiveRetransmissions() != 0 {
		t.Fatalf("RTO=%d retx=%d after ack", s.RTO(), s.ConsecutiveRetransmissions())
	}
}

func establishedSender(t *testing.T, isn seqnum.Value, window uint16) *Sender {
	t.Helper()
	s := newTestSender(t, isn)
	s.FillWindow()
	s.AckReceived(Wrap(1, isn), window)
	s.DrainSegments()
	return s
}

func TestSenderRespectsWindow(t *testing.T) {
	isn := seqnum.Value(0)
	s := establishedSender(t, isn, 5)

	s.Stream().Write([]byte("hello world"))
	s.FillWindow()

	segs := s.DrainSegments()
	if len(segs) != 1 || string(segs[0].Payload) != "hello" {
		t.Fatalf("got %v, want a single 5 byte segment", segs)
	}
	if s.BytesInFlight() != 5 {
		t.Fatalf("BytesInFlight = %d", s.BytesInFlight())
	}

	// Partial ack retires nothing, the whole segment must be covered
	s.AckReceived(Wrap(3, isn), 3)
	if s.BytesInFlight() != 5 {
		t.Fatalf("BytesInFlight after partial ack = %d", s.BytesInFlight())
	}

	s.AckReceived(Wrap(6, isn), 3)
	segs = s.DrainSegments()
	if len(segs) != 1 || string(segs[0].Payload) != " wo" {
		t.Fatalf("got %v after window moved", segs)
	}
}

func TestSenderSplitsAtMaxPayload(t *testing.T) {
	isn := seqnum.Value(1 << 31)
	s := establishedSender(t, isn, 5000)

	data := bytes.Repeat([]byte("x"), 2500)
	s.Stream().Write(data)
	s.FillWindow()

	segs := s.DrainSegments()
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	want := []int{1000, 1000, 500}
	for i, seg := range segs {
		if len(seg.Payload) != want[i] {
			t.Errorf("segment %d has %d bytes, want %d", i, len(seg.Payload), want[i])
		}
	}
	if segs[1].SeqNum != Wrap(1001, isn) {
		t.Errorf("second segment seqno %d, want %d", segs[1].SeqNum, Wrap(1001, isn))
	}
}

func TestSenderFinOnlyWhenItFits(t *testing.T) {
	isn := seqnum.Value(7)
	s := establishedSender(t, isn, 3)

	s.Stream().Write([]byte("abc"))
	s.Stream().EndInput()
	s.FillWindow()

	segs := s.DrainSegments()
	if len(segs) != 1 || segs[0].Has(TCP_FIN) {
		t.Fatalf("FIN should wait for window, got %v", segs)
	}

	s.AckReceived(Wrap(4, isn), 1)
	segs = s.DrainSegments()
	if len(segs) != 1 || !segs[0].Has(TCP_FIN) || len(segs[0].Payload) != 0 {
		t.Fatalf("expected a bare FIN, got %v", segs)
	}
	if s.NextSeqNoAbsolute() != 5 || !s.finSent() {
		t.Fatalf("NXT=%d finSent=%v", s.NextSeqNoAbsolute(), s.finSent())
	}

	// Nothing more to send after FIN
	s.AckReceived(Wrap(5, isn), 100)
	if segs := s.DrainSegments(); len(segs) != 0 {
		t.Fatalf("sent after FIN: %v", segs)
	}
}

func TestSenderIgnoresImpossibleAcks(t *testing.T) {
	isn := seqnum.Value(100)
	s := newTestSender(t, isn)
	s.FillWindow()
	s.DrainSegments()

	s.AckReceived(Wrap(2, isn), 100)
	if s.BytesInFlight() != 1 {
		t.Fatal("ack beyond NXT should be ignored")
	}
	s.AckReceived(Wrap(0, isn), 100)
	if s.BytesInFlight() != 1 {
		t.Fatal("ack of 0 should be ignored")
	}
}

func TestSenderZeroWindowProbeDoesNotBackOff(t *testing.T) {
	isn := seqnum.Value(0)
	s := establishedSender(t, isn, 0)

	s.Stream().Write([]byte("probe"))
	s.FillWindow()

	segs := s.DrainSegments()
	if len(segs) != 1 || string(segs[0].Payload) != "p" {
		t.Fatalf("expected one byte probe, got %v", segs)
	}

	for i := 0; i < 5; i++ {
		s.Tick(1000)
		if got := s.DrainSegments(); len(got) != 1 || string(got[0].Payload) != "p" {
			t.Fatalf("tick %d: got %v", i, got)
		}
	}
	if s.RTO() != 1000 || s.ConsecutiveRetransmissions() != 0 {
		t.Fatalf("RTO=%d retx=%d, zero window probes must not back off", s.RTO(), s.ConsecutiveRetransmissions())
	}
	if s.TotalRetransmissions() != 5 {
		t.Fatalf("TotalRetransmissions = %d", s.TotalRetransmissions())
	}
}

func TestSenderExponentialBackoff(t *testing.T) {
	isn := seqnum.Value(0)
	s := newTestSender(t, isn)
	s.FillWindow()
	s.DrainSegments()

	rto := uint64(1000)
	for i := 1; i <= 4; i++ {
		s.Tick(rto - 1)
		if len(s.DrainSegments()) != 0 {
			t.Fatalf("round %d: early retransmit", i)
		}
		s.Tick(1)
		if len(s.DrainSegments()) != 1 {
			t.Fatalf("round %d: missing retransmit", i)
		}
		rto *= 2
		if s.RTO() != rto || s.ConsecutiveRetransmissions() != i {
			t.Fatalf("round %d: RTO=%d retx=%d", i, s.RTO(), s.ConsecutiveRetransmissions())
		}
	}
}

func TestSenderEmptySegment(t *testing.T) {
	isn := seqnum.Value(1<<32 - 1)
	s := establishedSender(t, isn, 10)

	s.SendEmptySegment()
	segs := s.DrainSegments()
	if len(segs) != 1 || segs[0].LogicalLen() != 0 || segs[0].SeqNum != Wrap(1, isn) {
		t.Fatalf("got %v", segs)
	}
	if s.BytesInFlight() != 0 {
		t.Fatal("empty segment should not be tracked")
	}
}
