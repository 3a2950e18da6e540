// Package connutil sets up a bench from command line flags for the example
// programs.
package connutil

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/cmdlog"
	"github.com/gotmc/labbench/lib/config"
	"github.com/gotmc/labbench/lib/find"
	"github.com/gotmc/labbench/lib/visa"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

type Conn struct {
	ConfigPath string
	SerialPort string // Prologix adapter, GPIB0
	GpibPADs   []int
	Filter     string
	Debug      bool

	// Set by Setup.
	Config *config.Config
	Logger zerolog.Logger

	finderr error
}

// AddFlags is to be called before [flag.Parse].
func (c *Conn) AddFlags() { c.AddFlagSet(flag.CommandLine) }

// AddFlagSet registers the flags on fs.
func (c *Conn) AddFlagSet(fs *flag.FlagSet) {
	if c.SerialPort == "" {
		c.SerialPort, c.finderr = find.Find(find.PrologixFilter)
	}

	fs.StringVar(&c.ConfigPath, "config", c.ConfigPath, "bench description (YAML)")
	fs.StringVar(&c.SerialPort, "port", c.SerialPort,
		"serial port of a Prologix GPIB controller, used as GPIB0 when the config has no gpib section")
	fs.Func("pad", "GPIB primary addresses on -port, comma separated", func(s string) error {
		pads, err := parsePADs(s)
		if err != nil {
			return err
		}
		c.GpibPADs = pads
		return nil
	})
	fs.StringVar(&c.Filter, "filter", c.Filter, "VISA resource expression (default from config)")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log instrument traffic")
}

func parsePADs(s string) ([]int, error) {
	var pads []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > 30 {
			return nil, fmt.Errorf("invalid GPIB address %q", f)
		}
		pads = append(pads, n)
	}
	return pads, nil
}

// config merges the flags into the bench description.
func (c *Conn) config() (*config.Config, error) {
	cfg := config.Default()
	if c.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(c.ConfigPath); err != nil {
			return nil, err
		}
	}
	if c.Filter != "" {
		if _, err := labbench.CompilePattern(c.Filter); err != nil {
			return nil, err
		}
		cfg.Filter = c.Filter
	}
	if c.Debug {
		cfg.Log.Level = zerolog.LevelDebugValue
	}
	if c.SerialPort != "" && len(cfg.GPIB) == 0 && len(c.GpibPADs) > 0 {
		cfg.GPIB = []config.GPIBConfig{{Port: c.SerialPort, Addresses: c.GpibPADs}}
	}
	return cfg, nil
}

// Setup is to be called after variables are initialized, i.e. after both
// [(Conn).AddFlags] and [flag.Parse] are called. It returns a refreshed
// registry and a cleanup func closing every instrument.
func (c *Conn) Setup() (reg *labbench.Registry, cleanup func(), err error) {
	nocleanup := func() {}

	cfg, err := c.config()
	if err != nil {
		return nil, nocleanup, err
	}
	c.Config = cfg
	c.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		Level(cfg.Level()).With().Timestamp().Logger()

	if c.finderr != nil && len(c.GpibPADs) > 0 {
		// only relevant when GPIB addresses were asked for
		c.Logger.Warn().Err(c.finderr).Msg("locating Prologix adapter failed")
	}

	m, err := visa.New(cfg.ManagerOptions(c.Logger)...)
	if err != nil {
		return nil, nocleanup, err
	}
	var rm labbench.ResourceManager = m
	if c.Debug {
		rm = cmdlog.WrapManager(m, c.Logger)
	}

	reg = labbench.NewRegistry(rm, cfg.RegistryOptions(c.Logger)...)
	if err := reg.Refresh(""); err != nil {
		return nil, nocleanup, multierr.Append(err, m.Close())
	}
	for _, e := range reg.Entries() {
		c.Logger.Info().Str("resource", e.Resource).Stringer("idn", e.Identity).Msg("instrument")
	}

	cleanup = func() {
		if err := multierr.Append(reg.Close(), m.Close()); err != nil {
			c.Logger.Error().Err(err).Msg("closing bench")
		}
	}
	return reg, cleanup, nil
}
