package tcpstack

import (
	"log/slog"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"

	"trippy-tcp/pkg/metrics"
)

var (
	ErrConnectionReset  = errors.New("connection reset")
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection glues a Sender and a Receiver together and decides when the
// whole thing is finished. It never blocks and never looks at a clock, the
// owner drives it with SegmentReceived, Tick and the stream calls and then
// drains SegmentsOut.
type Connection struct {
	cfg      Config
	sender   *Sender
	receiver *Receiver

	// Time since the peer last sent us anything
	inactivity Timer

	segmentsOut []Segment

	// Cleared when the peer closes first, nothing to wait for after our FIN
	linger          bool
	clientInitiated bool
	reset           bool
	closed          bool

	metrics *metrics.Metrics
}

func NewConnection(cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	isn, err := cfg.initialSeqNum()
	if err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:      cfg,
		sender:   NewSender(cfg.Capacity, cfg.RTTimeout, cfg.MaxPayloadSize, isn),
		receiver: NewReceiver(cfg.Capacity),
		linger:   true,
	}
	c.inactivity.Start(c.lingerTime())
	return c, nil
}

// SetMetrics attaches counters, nil turns them off
func (c *Connection) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

func (c *Connection) lingerTime() uint64 {
	return 10 * c.cfg.RTTimeout
}

// Connect sends our SYN
func (c *Connection) Connect() {
	c.clientInitiated = true
	c.sender.FillWindow()
	c.flush()
}

// Write queues as much of data as fits in the outgoing stream
func (c *Connection) Write(data []byte) int {
	n := c.sender.Stream().Write(data)
	c.metrics.AddBytesWritten(n)
	c.sender.FillWindow()
	c.flush()
	return n
}

// EndInputStream closes our direction. FIN goes out once the window allows.
func (c *Connection) EndInputStream() {
	c.sender.Stream().EndInput()
	c.sender.FillWindow()
	c.flush()
}

// Read takes up to n bytes the peer has sent
func (c *Connection) Read(n int) []byte {
	data := c.receiver.Output().Read(n)
	c.metrics.AddBytesRead(len(data))
	return data
}

func (c *Connection) SegmentReceived(seg *Segment) {
	if c.reset || c.closed {
		return
	}
	c.metrics.SegmentReceived()

	if seg.Has(TCP_RST) {
		slog.Debug("Connection reset by peer", "segment", seg.String())
		c.metrics.Reset("received")
		c.poison()
		return
	}

	if seg.Has(TCP_FIN) && !c.sender.finSent() {
		c.linger = false
	}

	// Once the inbound stream is done a retransmitted FIN has nothing left to tell us
	if !c.receiver.Output().InputEnded() {
		c.receiver.SegmentReceived(seg)
	}

	c.inactivity.Restart()

	if seg.Has(TCP_ACK) {
		c.sender.AckReceived(seg.AckNum, seg.Window)
	} else if seg.Has(TCP_SYN) {
		if c.duplicateSyn() {
			// Our SYN-ACK goes out again on its own timer
			slog.Debug("Ignoring duplicate SYN", "segment", seg.String())
			return
		}
		c.sender.FillWindow()
	}

	if seg.LogicalLen() > 0 {
		if len(c.sender.segmentsOut) == 0 {
			c.sender.SendEmptySegment()
		}
	} else if c.isKeepAlive(seg) {
		c.sender.SendEmptySegment()
	}

	c.flush()
}

// duplicateSyn is a retransmitted SYN that reached us while our SYN-ACK is still unacked
func (c *Connection) duplicateSyn() bool {
	nxt := c.sender.NextSeqNoAbsolute()
	return !c.clientInitiated && nxt != 0 && nxt == c.sender.BytesInFlight()
}

// isKeepAlive reports whether a segment with no sequence space sits outside
// what we'd accept. Those get a bare ack so the peer learns where we are.
func (c *Connection) isKeepAlive(seg *Segment) bool {
	if seg.LogicalLen() != 0 {
		return false
	}
	ackno, ok := c.receiver.AckNo()
	if !ok {
		return false
	}
	window := seqnum.Size(max(c.receiver.WindowSize(), 1))
	return !seg.SeqNum.InWindow(ackno, window)
}

func (c *Connection) Tick(ms uint64) {
	if c.reset || c.closed {
		return
	}

	before := c.sender.TotalRetransmissions()
	c.sender.Tick(ms)
	c.inactivity.Elapse(ms)
	c.metrics.Retransmitted(int(c.sender.TotalRetransmissions() - before))

	if c.sender.ConsecutiveRetransmissions() > c.cfg.MaxRetxAttempts {
		slog.Warn("Too many retransmissions, resetting connection",
			"attempts", c.sender.ConsecutiveRetransmissions(),
			"max", c.cfg.MaxRetxAttempts)
		c.sendReset()
		return
	}

	c.flush()
}

// flush moves the sender's segments to our queue, stamping ack and window on the way
func (c *Connection) flush() {
	ackno, ok := c.receiver.AckNo()
	window := uint16(min(c.receiver.WindowSize(), MAX_WINDOW))

	for _, seg := range c.sender.DrainSegments() {
		if ok {
			seg.Flags |= TCP_ACK
			seg.AckNum = ackno
			seg.Window = window
		}
		c.segmentsOut = append(c.segmentsOut, seg)
	}
}

// sendReset drops anything the sender had queued and replaces it with a RST
func (c *Connection) sendReset() {
	c.sender.DrainSegments()

	rst := Segment{SeqNum: c.sender.NextSeqNo(), Flags: TCP_RST}
	if ackno, ok := c.receiver.AckNo(); ok {
		rst.Flags |= TCP_ACK
		rst.AckNum = ackno
		rst.Window = uint16(min(c.receiver.WindowSize(), MAX_WINDOW))
	}
	c.segmentsOut = append(c.segmentsOut, rst)

	c.metrics.Reset("sent")
	c.poison()
}

func (c *Connection) poison() {
	c.reset = true
	c.sender.Stream().SetError()
	c.receiver.Output().SetError()
}

// Active is false once there's nothing left for this connection to do
func (c *Connection) Active() bool {
	if c.reset {
		return false
	}

	inboundDone := c.receiver.Output().InputEnded()
	finAcked := c.sender.finSent() && c.sender.BytesInFlight() == 0
	if !inboundDone || !finAcked {
		return true
	}

	return c.linger && c.inactivity.Elapsed() < c.lingerTime()
}

// Close abandons the connection. A peer that might still be talking to us gets a RST.
func (c *Connection) Close() {
	if c.closed {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Failed to reset connection on close", "error", r)
		}
		c.closed = true
	}()

	if c.Active() {
		slog.Debug("Closing active connection, sending RST")
		c.sendReset()
	}
}

// SegmentsOut drains the segments waiting to go on the wire
func (c *Connection) SegmentsOut() []Segment {
	out := c.segmentsOut
	c.segmentsOut = nil
	return out
}

func (c *Connection) RemainingOutboundCapacity() int {
	return c.sender.Stream().RemainingCapacity()
}

func (c *Connection) BytesInFlight() uint64 {
	return c.sender.BytesInFlight()
}

func (c *Connection) UnassembledBytes() int {
	return c.receiver.UnassembledBytes()
}

func (c *Connection) TimeSinceLastSegmentReceived() uint64 {
	return c.inactivity.Elapsed()
}

// Inbound is the stream of bytes the peer sent us
func (c *Connection) Inbound() *FlowBuffer {
	return c.receiver.Output()
}

// Outbound is the stream of bytes we're sending
func (c *Connection) Outbound() *FlowBuffer {
	return c.sender.Stream()
}

// State maps where the sender and receiver are onto the usual TCP state names
func (c *Connection) State() TCPState {
	if c.reset {
		return TCP_RESET
	}
	if !c.Active() || c.closed {
		return TCP_CLOSED
	}

	_, synReceived := c.receiver.AckNo()
	nxt := c.sender.NextSeqNoAbsolute()
	inFlight := c.sender.BytesInFlight()
	inboundDone := c.receiver.Output().InputEnded()
	finSent := c.sender.finSent()

	switch {
	case !synReceived && nxt == 0:
		return TCP_LISTEN
	case !synReceived:
		return TCP_SYN_SENT
	case nxt == 0 || nxt == inFlight:
		return TCP_SYN_RECEIVED
	case !finSent && !inboundDone:
		return TCP_ESTABLISHED
	case !finSent:
		return TCP_CLOSE_WAIT
	case !inboundDone && inFlight > 0:
		return TCP_FIN_WAIT_1
	case !inboundDone:
		return TCP_FIN_WAIT_2
	case inFlight > 0 && c.linger:
		return TCP_CLOSING
	case inFlight > 0:
		return TCP_LAST_ACK
	default:
		return TCP_TIME_WAIT
	}
}
