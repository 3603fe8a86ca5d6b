package tcpstack

import (
	"github.com/google/netstack/tcpip/seqnum"
)

// Receiver feeds segments into the reassembler and works out what to ack
type Receiver struct {
	reassembler *Reassembler
	capacity    int
	IRS         seqnum.Value // initial receive sequence number
	synReceived bool
	checkpoint  uint64
}

func NewReceiver(capacity int) *Receiver {
	return &Receiver{
		reassembler: NewReassembler(capacity),
		capacity:    capacity,
	}
}

func (r *Receiver) SegmentReceived(seg *Segment) {
	if !r.synReceived {
		if !seg.Has(TCP_SYN) {
			return
		}
		r.synReceived = true
		r.IRS = seg.SeqNum
	} else if seg.Has(TCP_SYN) {
		// Retransmitted handshake, we already have what it carries
		return
	}

	abs := Unwrap(seg.SeqNum, r.IRS, r.checkpoint)
	// Payload that rides on a SYN starts one past it
	if seg.Has(TCP_SYN) {
		abs++
	}

	// Index 0 is the SYN, a bare payload can't sit there
	if abs == 0 {
		return
	}
	r.checkpoint = abs

	r.reassembler.Push(seg.Payload, abs-1, seg.Has(TCP_FIN))
}

// AckNo is the next sequence number we want from the peer, if we've seen its SYN
func (r *Receiver) AckNo() (seqnum.Value, bool) {
	if !r.synReceived {
		return 0, false
	}

	next := r.reassembler.BaseIndex() + 1
	if r.Output().InputEnded() {
		next++
	}
	return Wrap(next, r.IRS), true
}

func (r *Receiver) WindowSize() int {
	return r.capacity - r.Output().BufferSize()
}

func (r *Receiver) UnassembledBytes() int {
	return r.reassembler.UnassembledBytes()
}

func (r *Receiver) Output() *FlowBuffer {
	return r.reassembler.Output()
}
