package tcpstack

import (
	"io"
	"log/slog"
	"net/netip"

	"github.com/pkg/errors"
)

func (socket *NormalSocket) GetSID() int {
	return socket.SID
}

func (socket *NormalSocket) tuple() FourTuple {
	return FourTuple{
		LocalAddress:  socket.LocalAddress,
		LocalPort:     socket.LocalPort,
		RemoteAddress: socket.RemoteAddress,
		RemotePort:    socket.RemotePort,
	}
}

func (socket *NormalSocket) State() TCPState {
	socket.mutex.Lock()
	defer socket.mutex.Unlock()
	return socket.conn.State()
}

// VConnect opens a connection to remoteAddress:remotePort and blocks until the
// handshake finishes or the connection dies trying
func VConnect(tcpStack *TCPStack, remoteAddress netip.Addr, remotePort uint16) (*NormalSocket, error) {
	tcpStack.mutex.Lock()
	tuple := FourTuple{
		LocalAddress:  tcpStack.localAddr(),
		LocalPort:     tcpStack.allocatePort(),
		RemoteAddress: remoteAddress,
		RemotePort:    remotePort,
	}
	socket, err := tcpStack.newSocketLocked(tuple)
	tcpStack.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	socket.mutex.Lock()
	socket.conn.Connect()
	segs := socket.conn.SegmentsOut()
	socket.mutex.Unlock()
	tcpStack.sendSegments(tuple, segs)

	socket.mutex.Lock()
	for socket.conn.State() == TCP_SYN_SENT && !socket.closed {
		socket.changed.Wait()
	}
	state := socket.conn.State()
	socket.mutex.Unlock()

	if state == TCP_RESET || socket.isClosed() {
		tcpStack.VDeleteSocket(socket)
		return nil, errors.Wrapf(ErrConnectionReset, "connecting to %s:%d", remoteAddress, remotePort)
	}

	slog.Debug("Connected", "sid", socket.SID, "remote", remoteAddress, "port", remotePort)
	return socket, nil
}

// VWrite queues all of data for sending, blocking while the send buffer is full
func (socket *NormalSocket) VWrite(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		socket.mutex.Lock()
		for socket.conn.RemainingOutboundCapacity() == 0 && socket.writeErrLocked() == nil {
			socket.changed.Wait()
		}
		if err := socket.writeErrLocked(); err != nil {
			socket.mutex.Unlock()
			return written, err
		}
		written += socket.conn.Write(data[written:])
		segs := socket.conn.SegmentsOut()
		socket.mutex.Unlock()

		socket.tcpStack.sendSegments(socket.tuple(), segs)
	}
	return written, nil
}

// Caller holds socket.mutex
func (socket *NormalSocket) writeErrLocked() error {
	switch {
	case socket.conn.State() == TCP_RESET:
		return ErrConnectionReset
	case socket.closed || socket.conn.Outbound().InputEnded():
		return ErrConnectionClosed
	}
	return nil
}

// VRead blocks until there's something to read. Returns io.EOF once the peer
// has closed and everything it sent has been read.
func (socket *NormalSocket) VRead(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	socket.mutex.Lock()
	inbound := socket.conn.Inbound()
	for inbound.BufferEmpty() && !inbound.InputEnded() && socket.conn.State() != TCP_RESET && !socket.closed {
		socket.changed.Wait()
	}

	data := socket.conn.Read(len(buf))
	state := socket.conn.State()
	socket.mutex.Unlock()

	if len(data) > 0 {
		return copy(buf, data), nil
	}
	switch {
	case state == TCP_RESET:
		return 0, ErrConnectionReset
	case inbound.EOF():
		return 0, io.EOF
	default:
		return 0, ErrConnectionClosed
	}
}

// VClose sends a FIN once everything written so far has gone out. Reading still works
// until the peer closes its side.
func (socket *NormalSocket) VClose() error {
	socket.mutex.Lock()
	if socket.closed {
		socket.mutex.Unlock()
		return ErrConnectionClosed
	}
	socket.conn.EndInputStream()
	segs := socket.conn.SegmentsOut()
	socket.changed.Broadcast()
	socket.mutex.Unlock()

	socket.tcpStack.sendSegments(socket.tuple(), segs)
	return nil
}

// VAbort drops the connection right away, resetting the peer if it's still around
func (socket *NormalSocket) VAbort() error {
	socket.mutex.Lock()
	if socket.closed {
		socket.mutex.Unlock()
		return ErrConnectionClosed
	}
	socket.conn.Close()
	socket.closed = true
	segs := socket.conn.SegmentsOut()
	socket.changed.Broadcast()
	socket.mutex.Unlock()

	socket.tcpStack.sendSegments(socket.tuple(), segs)
	socket.tcpStack.VDeleteSocket(socket)
	return nil
}

func (socket *NormalSocket) isClosed() bool {
	socket.mutex.Lock()
	defer socket.mutex.Unlock()
	return socket.closed
}

// segmentReceived hands seg to the connection and sends whatever comes back
func (socket *NormalSocket) segmentReceived(seg *Segment) {
	socket.mutex.Lock()
	if socket.closed {
		socket.mutex.Unlock()
		return
	}
	socket.conn.SegmentReceived(seg)
	segs := socket.conn.SegmentsOut()
	socket.changed.Broadcast()
	socket.mutex.Unlock()

	socket.tcpStack.sendSegments(socket.tuple(), segs)
}

// tick advances the connection's clock, returns false once it's finished
func (socket *NormalSocket) tick(ms uint64) bool {
	socket.mutex.Lock()
	if socket.closed {
		socket.mutex.Unlock()
		return false
	}
	socket.conn.Tick(ms)
	segs := socket.conn.SegmentsOut()
	active := socket.conn.Active()
	socket.changed.Broadcast()
	socket.mutex.Unlock()

	socket.tcpStack.sendSegments(socket.tuple(), segs)
	return active
}

// release marks a finished connection closed and wakes anyone waiting on it
func (socket *NormalSocket) release() {
	socket.mutex.Lock()
	defer socket.mutex.Unlock()

	socket.conn.Close()
	socket.closed = true
	socket.changed.Broadcast()
}
