package tcpstack

import (
	"testing"

	"github.com/google/netstack/tcpip/seqnum"
)

func TestReceiverIgnoresDataBeforeSyn(t *testing.T) {
	r := NewReceiver(100)

	r.SegmentReceived(&Segment{SeqNum: 5, Payload: []byte("early")})
	if _, ok := r.AckNo(); ok {
		t.Fatal("ackno should be unknown before SYN")
	}
	if r.Output().BufferSize() != 0 {
		t.Fatal("data before SYN must be dropped")
	}
}

func TestReceiverHandshakeAndData(t *testing.T) {
	isn := seqnum.Value(1<<32 - 2)
	r := NewReceiver(100)

	r.SegmentReceived(&Segment{SeqNum: isn, Flags: TCP_SYN})
	ackno, ok := r.AckNo()
	if !ok || ackno != isn+1 {
		t.Fatalf("AckNo = %d,%v want %d", ackno, ok, isn+1)
	}
	if r.WindowSize() != 100 {
		t.Fatalf("WindowSize = %d", r.WindowSize())
	}

	// Out of order across the wrap point
	r.SegmentReceived(&Segment{SeqNum: Wrap(4, isn), Payload: []byte("def")})
	if ackno, _ := r.AckNo(); ackno != Wrap(1, isn) {
		t.Fatalf("AckNo moved on out of order data: %d", ackno)
	}
	if r.UnassembledBytes() != 3 {
		t.Fatalf("UnassembledBytes = %d", r.UnassembledBytes())
	}

	r.SegmentReceived(&Segment{SeqNum: Wrap(1, isn), Payload: []byte("abc")})
	if ackno, _ := r.AckNo(); ackno != Wrap(7, isn) {
		t.Fatalf("AckNo = %d, want %d", ackno, Wrap(7, isn))
	}
	if r.WindowSize() != 94 {
		t.Fatalf("WindowSize = %d, want 94", r.WindowSize())
	}
	if got := r.Output().Read(6); string(got) != "abcdef" {
		t.Fatalf("got %q", got)
	}

	r.SegmentReceived(&Segment{SeqNum: Wrap(7, isn), Flags: TCP_FIN})
	if ackno, _ := r.AckNo(); ackno != Wrap(8, isn) {
		t.Fatalf("FIN should be acked, AckNo = %d", ackno)
	}
	if !r.Output().EOF() {
		t.Fatal("expected EOF after FIN")
	}
}

func TestReceiverSynWithPayloadAndFin(t *testing.T) {
	isn := seqnum.Value(42)
	r := NewReceiver(10)

	r.SegmentReceived(&Segment{SeqNum: isn, Flags: TCP_SYN | TCP_FIN, Payload: []byte("hi")})
	ackno, _ := r.AckNo()
	if ackno != isn+4 {
		t.Fatalf("AckNo = %d, want %d", ackno, isn+4)
	}
	if got := r.Output().Read(10); string(got) != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestReceiverDropsSegmentAtSynIndex(t *testing.T) {
	isn := seqnum.Value(0)
	r := NewReceiver(10)
	r.SegmentReceived(&Segment{SeqNum: isn, Flags: TCP_SYN})

	r.SegmentReceived(&Segment{SeqNum: isn, Payload: []byte("bad")})
	if r.Output().BufferSize() != 0 || r.UnassembledBytes() != 0 {
		t.Fatal("payload claiming the SYN slot should be dropped")
	}
}

func TestReceiverIgnoresDuplicateSyn(t *testing.T) {
	isn := seqnum.Value(9)
	r := NewReceiver(10)
	r.SegmentReceived(&Segment{SeqNum: isn, Flags: TCP_SYN})
	r.SegmentReceived(&Segment{SeqNum: isn + 1, Payload: []byte("ok")})

	r.SegmentReceived(&Segment{SeqNum: 500, Flags: TCP_SYN})
	if r.IRS != isn {
		t.Fatalf("IRS changed to %d", r.IRS)
	}
	if ackno, _ := r.AckNo(); ackno != isn+3 {
		t.Fatalf("AckNo = %d", ackno)
	}
}

func TestReceiverWindowShrinksWithUnreadData(t *testing.T) {
	isn := seqnum.Value(0)
	r := NewReceiver(4)
	r.SegmentReceived(&Segment{SeqNum: isn, Flags: TCP_SYN})

	r.SegmentReceived(&Segment{SeqNum: 1, Payload: []byte("abcdef")})
	if r.WindowSize() != 0 {
		t.Fatalf("WindowSize = %d, want 0", r.WindowSize())
	}
	if ackno, _ := r.AckNo(); ackno != 5 {
		t.Fatalf("AckNo = %d, want 5", ackno)
	}
}
