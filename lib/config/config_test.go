package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func write(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	is := is.New(t)
	path := write(t, `
serial:
  baud: 115200
gpib:
  - port: /dev/ttyUSB0
    addresses: [24, 14]
    write_delay: 100ms
static:
  - TCPIP0::192.168.1.20::INSTR
acquisition:
  stall_timeout: 8
log:
  level: debug
`)
	cfg, err := Load(path)
	is.NoErr(err)

	is.Equal(cfg.Filter, "?*::INSTR")
	is.Equal(cfg.Serial.Baud, 115200)
	is.Equal(cfg.Serial.Settle, 2*time.Second)
	is.Equal(cfg.TCP.SocketPort, 5555)
	is.Equal(cfg.GPIB[0].Addresses, []int{24, 14})
	is.Equal(cfg.GPIB[0].WriteDelay, 100*time.Millisecond)
	is.Equal(cfg.Acquisition.PollInterval, 500*time.Millisecond)
	is.Equal(cfg.Acquisition.StallTimeout, 8)
	is.Equal(cfg.Metrics.Addr, ":9100")
	is.Equal(cfg.Level(), zerolog.DebugLevel)

	// baud, timeout, socket port, dial timeout, static, usb, logger, one bus
	is.Equal(len(cfg.ManagerOptions(zerolog.Nop())), 8)
	is.Equal(len(cfg.RegistryOptions(zerolog.Nop())), 3)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name, yaml, want string
	}{
		{"filter", "filter: \"ASRL[0-9\"\n", "filter"},
		{"gpib port", "gpib:\n  - board: 0\n", "port is required"},
		{"gpib board", "gpib:\n  - port: a\n  - port: b\n", "configured twice"},
		{"gpib address", "gpib:\n  - port: a\n    addresses: [31]\n", "out of range"},
		{"static", "static: [\"PXI0::1::INSTR\"]\n", "static"},
		{"level", "log:\n  level: loud\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := Load(write(t, tt.yaml))
			is.True(err != nil)
			is.True(strings.Contains(err.Error(), tt.want))
		})
	}
}

func TestDefault(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	is.NoErr(cfg.validate())
	is.Equal(cfg.Serial.Baud, 9600)
	is.Equal(len(cfg.GPIB), 0)
}
