package tcpstack

import (
	"github.com/smallnest/ringbuffer"
)

// FlowBuffer is a fixed-capacity FIFO of bytes. A full buffer never blocks
// or fails a write, it just takes fewer bytes.
type FlowBuffer struct {
	buf        *ringbuffer.RingBuffer
	capacity   int
	written    uint64
	read       uint64
	inputEnded bool
	err        bool
}

func NewFlowBuffer(capacity int) *FlowBuffer {
	return &FlowBuffer{
		buf:      ringbuffer.New(capacity),
		capacity: capacity,
	}
}

// Write copies as much of data as fits and returns how many bytes it took.
func (b *FlowBuffer) Write(data []byte) int {
	if b.err || b.inputEnded {
		return 0
	}

	n := min(len(data), b.buf.Free())
	if n == 0 {
		return 0
	}

	// We never hand the ring more than it has free, so it can't complain
	n, _ = b.buf.Write(data[:n])
	b.written += uint64(n)
	return n
}

// Read removes and returns up to n bytes in the order they were written.
func (b *FlowBuffer) Read(n int) []byte {
	if b.err {
		return nil
	}

	n = min(n, b.buf.Length())
	if n <= 0 {
		return nil
	}

	out := make([]byte, n)
	n, _ = b.buf.Read(out)
	b.read += uint64(n)
	return out[:n]
}

// Peek returns up to n bytes without consuming them.
func (b *FlowBuffer) Peek(n int) []byte {
	if b.err {
		return nil
	}

	n = min(n, b.buf.Length())
	if n <= 0 {
		return nil
	}

	out := make([]byte, n)
	got, _ := b.buf.Peek(out)
	return out[:got]
}

func (b *FlowBuffer) EndInput() {
	b.inputEnded = true
}

func (b *FlowBuffer) InputEnded() bool {
	return b.inputEnded
}

func (b *FlowBuffer) BufferSize() int {
	return b.buf.Length()
}

func (b *FlowBuffer) BufferEmpty() bool {
	return b.buf.Length() == 0
}

func (b *FlowBuffer) RemainingCapacity() int {
	return b.buf.Free()
}

func (b *FlowBuffer) Capacity() int {
	return b.capacity
}

// EOF is true once input has ended and every byte has been read out.
func (b *FlowBuffer) EOF() bool {
	return b.inputEnded && b.buf.Length() == 0
}

func (b *FlowBuffer) BytesWritten() uint64 {
	return b.written
}

func (b *FlowBuffer) BytesRead() uint64 {
	return b.read
}

// SetError poisons the stream. There is no way back.
func (b *FlowBuffer) SetError() {
	b.err = true
}

func (b *FlowBuffer) Error() bool {
	return b.err
}
