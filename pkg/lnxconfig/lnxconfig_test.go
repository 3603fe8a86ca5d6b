package lnxconfig

import (
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
)

const hostConfig = `
interfaces:
  - name: if0
    assigned_ip: 10.0.0.1/24
    udp: 127.0.0.1:5000
neighbors:
  - dest: 10.0.0.2
    udp: 127.0.0.1:5001
    interface: if0
tcp:
  capacity: 8192
  rt_timeout_ms: 200
  fixed_isn: 4294967290
metrics_listen: 127.0.0.1:9100
log_level: debug
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(hostConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Interfaces) != 1 {
		t.Fatalf("got %d interfaces", len(cfg.Interfaces))
	}
	iface := cfg.Interfaces[0]
	if iface.Name != "if0" || iface.AssignedIP != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("bad interface %+v", iface)
	}
	if iface.AssignedPrefix != netip.MustParsePrefix("10.0.0.0/24") {
		t.Errorf("prefix %s, want 10.0.0.0/24", iface.AssignedPrefix)
	}
	if iface.UDPAddr != netip.MustParseAddrPort("127.0.0.1:5000") {
		t.Errorf("udp %s", iface.UDPAddr)
	}

	if len(cfg.Neighbors) != 1 || cfg.Neighbors[0].DestAddr != netip.MustParseAddr("10.0.0.2") || cfg.Neighbors[0].InterfaceName != "if0" {
		t.Errorf("bad neighbors %+v", cfg.Neighbors)
	}

	if cfg.TCP.Capacity != 8192 || cfg.TCP.RTTimeoutMs != 200 {
		t.Errorf("bad tcp config %+v", cfg.TCP)
	}
	if cfg.TCP.FixedISN == nil || *cfg.TCP.FixedISN != 4294967290 {
		t.Errorf("fixed isn not parsed")
	}
	if cfg.TickIntervalMs != DEFAULT_TICK_INTERVAL_MS {
		t.Errorf("tick interval %d, want default", cfg.TickIntervalMs)
	}
	if cfg.MetricsListen != "127.0.0.1:9100" {
		t.Errorf("metrics listen %q", cfg.MetricsListen)
	}
	if level, _ := ParseLogLevel(cfg.LogLevel); level != slog.LevelDebug {
		t.Errorf("log level %v", level)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no interfaces", "interfaces: []"},
		{"bad prefix", "interfaces: [{name: if0, assigned_ip: 10.0.0.1, udp: \"127.0.0.1:5000\"}]"},
		{"bad udp", "interfaces: [{name: if0, assigned_ip: 10.0.0.1/24, udp: nope}]"},
		{"ipv6", "interfaces: [{name: if0, assigned_ip: \"fd00::1/64\", udp: \"127.0.0.1:5000\"}]"},
		{"duplicate", "interfaces: [{name: if0, assigned_ip: 10.0.0.1/24, udp: \"127.0.0.1:5000\"}, {name: if0, assigned_ip: 10.1.0.1/24, udp: \"127.0.0.1:5001\"}]"},
		{"unknown neighbor interface", "interfaces: [{name: if0, assigned_ip: 10.0.0.1/24, udp: \"127.0.0.1:5000\"}]\nneighbors: [{dest: 10.0.0.2, udp: \"127.0.0.1:5001\", interface: if9}]"},
		{"bad log level", "interfaces: [{name: if0, assigned_ip: 10.0.0.1/24, udp: \"127.0.0.1:5000\"}]\nlog_level: loud"},
		{"not yaml", "interfaces: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	if err := os.WriteFile(path, []byte(hostConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Interfaces[0].Name != "if0" {
		t.Errorf("got %+v", cfg.Interfaces)
	}

	if _, err := ParseConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
