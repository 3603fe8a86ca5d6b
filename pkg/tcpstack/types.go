package tcpstack

import (
	"net/netip"
	"sync"

	"github.com/google/netstack/tcpip/header"

	"trippy-tcp/pkg/ipstack"
	"trippy-tcp/pkg/metrics"
)

const (
	TCP_FIN = header.TCPFlagFin
	TCP_SYN = header.TCPFlagSyn
	TCP_RST = header.TCPFlagRst
	TCP_PSH = header.TCPFlagPsh
	TCP_ACK = header.TCPFlagAck
)

// Network is what the stack needs from the layer underneath it
type Network interface {
	SendIP(dst netip.Addr, protocol ipstack.Protocol, ttl uint8, data []byte) error
	LocalAddr() netip.Addr
}

type TCPStack struct {
	mutex     sync.Mutex
	network   Network
	cfg       Config
	metrics   *metrics.Metrics
	sockets   map[FourTuple]*NormalSocket
	listeners map[uint16]*ListenSocket
	nextPort  uint16 // For ephemeral port allocation
	nextSID   int
}

type FourTuple struct {
	LocalAddress  netip.Addr
	LocalPort     uint16
	RemoteAddress netip.Addr
	RemotePort    uint16
}

type Socket interface {
	VClose() error
	GetSID() int
}

type TCPState int

const (
	TCP_LISTEN       TCPState = 0
	TCP_SYN_SENT     TCPState = 1
	TCP_SYN_RECEIVED TCPState = 2
	TCP_ESTABLISHED  TCPState = 3
	TCP_FIN_WAIT_1   TCPState = 4
	TCP_FIN_WAIT_2   TCPState = 5
	TCP_CLOSING      TCPState = 6
	TCP_TIME_WAIT    TCPState = 7
	TCP_CLOSE_WAIT   TCPState = 8
	TCP_LAST_ACK     TCPState = 9
	TCP_CLOSED       TCPState = 10
	TCP_RESET        TCPState = 11
)

func (s TCPState) String() string {
	switch s {
	case TCP_LISTEN:
		return "LISTEN"
	case TCP_SYN_SENT:
		return "SYN_SENT"
	case TCP_SYN_RECEIVED:
		return "SYN_RECEIVED"
	case TCP_ESTABLISHED:
		return "ESTABLISHED"
	case TCP_FIN_WAIT_1:
		return "FIN_WAIT_1"
	case TCP_FIN_WAIT_2:
		return "FIN_WAIT_2"
	case TCP_CLOSING:
		return "CLOSING"
	case TCP_TIME_WAIT:
		return "TIME_WAIT"
	case TCP_CLOSE_WAIT:
		return "CLOSE_WAIT"
	case TCP_LAST_ACK:
		return "LAST_ACK"
	case TCP_CLOSED:
		return "CLOSED"
	case TCP_RESET:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// InFlightPacket is a segment we've sent but the peer hasn't fully acked yet
type InFlightPacket struct {
	seg      Segment
	absSeqNo uint64
}

type NormalSocket struct {
	SID           int
	LocalAddress  netip.Addr
	LocalPort     uint16
	RemoteAddress netip.Addr
	RemotePort    uint16
	tcpStack      *TCPStack
	conn          *Connection

	// Guards conn, signalled whenever the connection makes progress
	mutex   sync.Mutex
	changed *sync.Cond
	closed  bool
}

type ListenSocket struct {
	SID       int
	localPort uint16
	tcpStack  *TCPStack
	// Channel for pending connections
	acceptQueue chan *NormalSocket
	done        chan struct{}
	closeOnce   sync.Once
}

// SocketInfo is one row of the socket table
type SocketInfo struct {
	SID           int
	LocalAddress  netip.Addr
	LocalPort     uint16
	RemoteAddress netip.Addr
	RemotePort    uint16
	State         TCPState
}
