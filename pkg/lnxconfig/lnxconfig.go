package lnxconfig

import (
	"log/slog"
	"net/netip"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DEFAULT_TICK_INTERVAL_MS = 10
	DEFAULT_LOG_LEVEL        = "info"
)

type InterfaceConfig struct {
	Name           string
	AssignedIP     netip.Addr
	AssignedPrefix netip.Prefix
	UDPAddr        netip.AddrPort
}

type NeighborConfig struct {
	DestAddr      netip.Addr
	UDPAddr       netip.AddrPort
	InterfaceName string
}

// TCPConfig holds the transport knobs. Zero means use the stack default.
type TCPConfig struct {
	Capacity        int     `yaml:"capacity"`
	RTTimeoutMs     uint64  `yaml:"rt_timeout_ms"`
	MaxRetxAttempts int     `yaml:"max_retx_attempts"`
	MaxPayloadSize  int     `yaml:"max_payload_size"`
	FixedISN        *uint32 `yaml:"fixed_isn"`
}

type IPConfig struct {
	Interfaces     []InterfaceConfig
	Neighbors      []NeighborConfig
	TCP            TCPConfig
	TickIntervalMs int
	MetricsListen  string // empty turns the metrics server off
	LogLevel       string
}

// What the file looks like before addresses are parsed
type rawInterface struct {
	Name       string `yaml:"name"`
	AssignedIP string `yaml:"assigned_ip"` // address with prefix length, like 10.0.0.1/24
	UDP        string `yaml:"udp"`
}

type rawNeighbor struct {
	Dest      string `yaml:"dest"`
	UDP       string `yaml:"udp"`
	Interface string `yaml:"interface"`
}

type rawConfig struct {
	Interfaces     []rawInterface `yaml:"interfaces"`
	Neighbors      []rawNeighbor  `yaml:"neighbors"`
	TCP            TCPConfig      `yaml:"tcp"`
	TickIntervalMs int            `yaml:"tick_interval_ms"`
	MetricsListen  string         `yaml:"metrics_listen"`
	LogLevel       string         `yaml:"log_level"`
}

func ParseConfig(path string) (*IPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func Parse(data []byte) (*IPConfig, error) {
	raw := rawConfig{
		TickIntervalMs: DEFAULT_TICK_INTERVAL_MS,
		LogLevel:       DEFAULT_LOG_LEVEL,
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing yaml")
	}

	cfg := &IPConfig{
		TCP:            raw.TCP,
		TickIntervalMs: raw.TickIntervalMs,
		MetricsListen:  raw.MetricsListen,
		LogLevel:       raw.LogLevel,
	}

	for _, iface := range raw.Interfaces {
		prefix, err := netip.ParsePrefix(iface.AssignedIP)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %s", iface.Name)
		}
		udp, err := netip.ParseAddrPort(iface.UDP)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %s udp address", iface.Name)
		}
		cfg.Interfaces = append(cfg.Interfaces, InterfaceConfig{
			Name:           iface.Name,
			AssignedIP:     prefix.Addr(),
			AssignedPrefix: prefix.Masked(),
			UDPAddr:        udp,
		})
	}

	for _, neighbor := range raw.Neighbors {
		dest, err := netip.ParseAddr(neighbor.Dest)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbor on %s", neighbor.Interface)
		}
		udp, err := netip.ParseAddrPort(neighbor.UDP)
		if err != nil {
			return nil, errors.Wrapf(err, "neighbor %s udp address", neighbor.Dest)
		}
		cfg.Neighbors = append(cfg.Neighbors, NeighborConfig{
			DestAddr:      dest,
			UDPAddr:       udp,
			InterfaceName: neighbor.Interface,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *IPConfig) Validate() error {
	if len(c.Interfaces) == 0 {
		return errors.New("at least one interface is required")
	}

	names := make(map[string]bool)
	for _, iface := range c.Interfaces {
		if iface.Name == "" {
			return errors.New("interface without a name")
		}
		if names[iface.Name] {
			return errors.Errorf("duplicate interface %s", iface.Name)
		}
		if !iface.AssignedIP.Is4() {
			return errors.Errorf("interface %s: only IPv4 is supported, got %s", iface.Name, iface.AssignedIP)
		}
		names[iface.Name] = true
	}

	for _, neighbor := range c.Neighbors {
		if !names[neighbor.InterfaceName] {
			return errors.Errorf("neighbor %s refers to unknown interface %q", neighbor.DestAddr, neighbor.InterfaceName)
		}
	}

	if c.TickIntervalMs <= 0 {
		return errors.Errorf("tick_interval_ms must be positive, got %d", c.TickIntervalMs)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown log level %q", level)
	}
}
