package tcpstack

import (
	"log/slog"
	"net/netip"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"trippy-tcp/pkg/ipstack"
	"trippy-tcp/pkg/metrics"
)

const (
	EPHEMERAL_PORT_START = 49152
	ACCEPT_BACKLOG       = 16
)

var (
	ErrNoSocket  = errors.New("no such socket")
	ErrPortInUse = errors.New("port already in use")
)

func InitTCPStack(network Network, cfg Config, m *metrics.Metrics) (*TCPStack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &TCPStack{
		network:   network,
		cfg:       cfg,
		metrics:   m,
		sockets:   make(map[FourTuple]*NormalSocket),
		listeners: make(map[uint16]*ListenSocket),
		nextPort:  EPHEMERAL_PORT_START,
	}, nil
}

// Caller holds ts.mutex
func (ts *TCPStack) generateSID() int {
	nextSID := ts.nextSID
	ts.nextSID++
	return nextSID
}

// Caller holds ts.mutex
func (ts *TCPStack) allocatePort() uint16 {
	for {
		port := ts.nextPort
		ts.nextPort++
		if ts.nextPort == 0 { //uint wraps
			ts.nextPort = EPHEMERAL_PORT_START
		}
		if _, taken := ts.listeners[port]; !taken {
			return port
		}
	}
}

// newSocketLocked builds a connection for tuple and puts it in the table. Caller holds ts.mutex.
func (ts *TCPStack) newSocketLocked(tuple FourTuple) (*NormalSocket, error) {
	if _, exists := ts.sockets[tuple]; exists {
		return nil, errors.Wrapf(ErrPortInUse, "%s:%d", tuple.LocalAddress, tuple.LocalPort)
	}

	conn, err := NewConnection(ts.cfg)
	if err != nil {
		return nil, err
	}
	conn.SetMetrics(ts.metrics)

	socket := &NormalSocket{
		SID:           ts.generateSID(),
		LocalAddress:  tuple.LocalAddress,
		LocalPort:     tuple.LocalPort,
		RemoteAddress: tuple.RemoteAddress,
		RemotePort:    tuple.RemotePort,
		tcpStack:      ts,
		conn:          conn,
	}
	socket.changed = sync.NewCond(&socket.mutex)

	ts.sockets[tuple] = socket
	ts.metrics.ConnectionOpened()
	return socket, nil
}

func (ts *TCPStack) VDeleteSocket(socket *NormalSocket) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	tuple := socket.tuple()
	if ts.sockets[tuple] == socket {
		delete(ts.sockets, tuple)
		ts.metrics.ConnectionClosed()
	}
}

func (ts *TCPStack) VFindSocket(tuple FourTuple) *NormalSocket {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	return ts.sockets[tuple]
}

func (ts *TCPStack) GetSocketByID(id int) (Socket, error) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	for _, s := range ts.sockets {
		if s.SID == id {
			return s, nil
		}
	}
	for _, l := range ts.listeners {
		if l.SID == id {
			return l, nil
		}
	}
	return nil, errors.Wrapf(ErrNoSocket, "sid %d", id)
}

// Sockets lists listeners and connections ordered by SID
func (ts *TCPStack) Sockets() []SocketInfo {
	ts.mutex.Lock()
	listeners := make([]*ListenSocket, 0, len(ts.listeners))
	for _, l := range ts.listeners {
		listeners = append(listeners, l)
	}
	sockets := ts.snapshotLocked()
	ts.mutex.Unlock()

	infos := make([]SocketInfo, 0, len(listeners)+len(sockets))
	for _, l := range listeners {
		infos = append(infos, SocketInfo{
			SID:       l.SID,
			LocalPort: l.localPort,
			State:     TCP_LISTEN,
		})
	}
	for _, s := range sockets {
		infos = append(infos, SocketInfo{
			SID:           s.SID,
			LocalAddress:  s.LocalAddress,
			LocalPort:     s.LocalPort,
			RemoteAddress: s.RemoteAddress,
			RemotePort:    s.RemotePort,
			State:         s.State(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].SID < infos[j].SID })
	return infos
}

func (ts *TCPStack) snapshotLocked() []*NormalSocket {
	sockets := make([]*NormalSocket, 0, len(ts.sockets))
	for _, s := range ts.sockets {
		sockets = append(sockets, s)
	}
	return sockets
}

// Tick advances every connection's clock by ms and drops the ones that are finished
func (ts *TCPStack) Tick(ms uint64) {
	ts.mutex.Lock()
	sockets := ts.snapshotLocked()
	ts.mutex.Unlock()

	for _, s := range sockets {
		if !s.tick(ms) {
			slog.Debug("Connection finished", "sid", s.SID, "remote", s.RemoteAddress, "port", s.RemotePort)
			s.release()
			ts.VDeleteSocket(s)
		}
	}
}

// sendSegments puts segments on the wire for tuple. Call without holding any socket lock.
func (ts *TCPStack) sendSegments(tuple FourTuple, segs []Segment) {
	for i := range segs {
		data := segs[i].Marshal(tuple.LocalAddress, tuple.RemoteAddress, tuple.LocalPort, tuple.RemotePort)
		if err := ts.network.SendIP(tuple.RemoteAddress, ipstack.TCP_PROTOCOL, ipstack.DEFAULT_TTL, data); err != nil {
			slog.Debug("Failed to send segment", "dst", tuple.RemoteAddress, "segment", segs[i].String(), "error", err)
			continue
		}
		ts.metrics.SegmentSent()
	}
}

// Close aborts every connection and listener
func (ts *TCPStack) Close() {
	ts.mutex.Lock()
	sockets := ts.snapshotLocked()
	listeners := make([]*ListenSocket, 0, len(ts.listeners))
	for _, l := range ts.listeners {
		listeners = append(listeners, l)
	}
	ts.mutex.Unlock()

	for _, l := range listeners {
		l.VClose()
	}
	for _, s := range sockets {
		s.VAbort()
	}
}

func (ts *TCPStack) localAddr() netip.Addr {
	return ts.network.LocalAddr()
}
