package tcpstack

import (
	"math"

	"github.com/google/btree"
)

// fragment is a run of bytes waiting for the gap in front of it to fill
type fragment struct {
	start uint64
	data  []byte
}

func (f fragment) end() uint64 {
	return f.start + uint64(len(f.data))
}

func fragmentLess(a, b fragment) bool {
	return a.start < b.start
}

// Reassembler puts byte ranges that arrive out of order back into a FlowBuffer.
// Stored fragments never overlap, so the first copy of any byte is the one that sticks.
type Reassembler struct {
	output      *FlowBuffer
	capacity    int
	pending     *btree.BTreeG[fragment]
	unassembled int
	baseIndex   uint64
	lastIndex   uint64
	eofIndex    uint64
}

func NewReassembler(capacity int) *Reassembler {
	return &Reassembler{
		output:   NewFlowBuffer(capacity),
		capacity: capacity,
		pending:  btree.NewG[fragment](8, fragmentLess),
		eofIndex: math.MaxUint64,
	}
}

// Push hands over data starting at absolute index. isLast marks the end of the stream.
func (r *Reassembler) Push(data []byte, index uint64, isLast bool) {
	if isLast {
		r.eofIndex = index + uint64(len(data))
	}

	// Nothing past the end of the stream gets in
	windowEnd := min(r.baseIndex+uint64(r.capacity-r.output.BufferSize()), r.eofIndex)
	start := max(index, r.baseIndex)
	end := min(index+uint64(len(data)), windowEnd)

	if start < end {
		r.insert(start, data[start-index:end-index])
		r.lastIndex = max(r.lastIndex, end)
		r.flush()
	}

	if r.baseIndex >= r.eofIndex {
		r.output.EndInput()
	}
}

// insert stores only the parts of [start, start+len(data)) that nobody has filled yet
func (r *Reassembler) insert(start uint64, data []byte) {
	end := start + uint64(len(data))

	// Everything that already covers part of the range, in order
	var covered []fragment
	r.pending.DescendLessOrEqual(fragment{start: start}, func(f fragment) bool {
		if f.end() > start {
			covered = append(covered, f)
		}
		return false
	})
	r.pending.AscendRange(fragment{start: start + 1}, fragment{start: end}, func(f fragment) bool {
		covered = append(covered, f)
		return true
	})

	cursor := start
	for _, f := range covered {
		if f.start > cursor {
			r.store(cursor, data[cursor-start:f.start-start])
		}
		cursor = max(cursor, f.end())
		if cursor >= end {
			return
		}
	}
	if cursor < end {
		r.store(cursor, data[cursor-start:])
	}
}

func (r *Reassembler) store(start uint64, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	r.pending.ReplaceOrInsert(fragment{start: start, data: buf})
	r.unassembled += len(buf)
}

func (r *Reassembler) flush() {
	for {
		f, ok := r.pending.Min()
		if !ok || f.start != r.baseIndex {
			return
		}
		r.pending.DeleteMin()
		r.unassembled -= len(f.data)

		// The acceptance window guarantees the output has room
		r.output.Write(f.data)
		r.baseIndex = f.end()
	}
}

func (r *Reassembler) UnassembledBytes() int {
	return r.unassembled
}

// Empty reports whether nothing is waiting on a gap
func (r *Reassembler) Empty() bool {
	return r.baseIndex == r.lastIndex
}

// Output is the stream the assembled bytes come out of
func (r *Reassembler) Output() *FlowBuffer {
	return r.output
}

// BaseIndex is the next index the output is waiting for
func (r *Reassembler) BaseIndex() uint64 {
	return r.baseIndex
}
