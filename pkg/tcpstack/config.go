package tcpstack

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"

	"trippy-tcp/pkg/lnxconfig"
)

const (
	DEFAULT_CAPACITY  = 64000
	MAX_PAYLOAD_SIZE  = 1000
	TIMEOUT_DEFAULT   = 1000 // ms
	MAX_RETX_ATTEMPTS = 8
	MAX_TCP_PAYLOAD   = 1360 // What fits in a 1400 byte link with IP and TCP headers
	MAX_WINDOW        = 65535
)

var ErrInvalidConfig = errors.New("invalid tcp config")

type Config struct {
	Capacity        int    // size of both stream buffers and the reassembly window
	RTTimeout       uint64 // initial retransmission timeout in ms
	MaxRetxAttempts int    // consecutive retransmissions before we give up
	MaxPayloadSize  int
	FixedISN        *seqnum.Value // if nil, a random ISN is drawn from Rand
	Rand            io.Reader
}

func DefaultConfig() Config {
	return Config{
		Capacity:        DEFAULT_CAPACITY,
		RTTimeout:       TIMEOUT_DEFAULT,
		MaxRetxAttempts: MAX_RETX_ATTEMPTS,
		MaxPayloadSize:  MAX_PAYLOAD_SIZE,
		Rand:            rand.Reader,
	}
}

func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "capacity must be positive, got %d", c.Capacity)
	}
	if c.RTTimeout == 0 {
		return errors.Wrap(ErrInvalidConfig, "retransmission timeout must be positive")
	}
	if c.MaxRetxAttempts < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max retransmissions can't be negative, got %d", c.MaxRetxAttempts)
	}
	if c.MaxPayloadSize <= 0 || c.MaxPayloadSize > MAX_TCP_PAYLOAD {
		return errors.Wrapf(ErrInvalidConfig, "payload size must be in (0, %d], got %d", MAX_TCP_PAYLOAD, c.MaxPayloadSize)
	}
	return nil
}

// ConfigFromLnx fills in the defaults for anything the config file left out
func ConfigFromLnx(tcp lnxconfig.TCPConfig) Config {
	cfg := DefaultConfig()
	if tcp.Capacity > 0 {
		cfg.Capacity = tcp.Capacity
	}
	if tcp.RTTimeoutMs > 0 {
		cfg.RTTimeout = tcp.RTTimeoutMs
	}
	if tcp.MaxRetxAttempts > 0 {
		cfg.MaxRetxAttempts = tcp.MaxRetxAttempts
	}
	if tcp.MaxPayloadSize > 0 {
		cfg.MaxPayloadSize = tcp.MaxPayloadSize
	}
	if tcp.FixedISN != nil {
		isn := seqnum.Value(*tcp.FixedISN)
		cfg.FixedISN = &isn
	}
	return cfg
}

func (c Config) initialSeqNum() (seqnum.Value, error) {
	if c.FixedISN != nil {
		return *c.FixedISN, nil
	}

	r := c.Rand
	if r == nil {
		r = rand.Reader
	}
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "drawing initial sequence number")
	}
	return seqnum.Value(binary.BigEndian.Uint32(b[:])), nil
}
