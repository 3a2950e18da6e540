// Package ds4024 drives a Rigol DS4024 oscilloscope and implements the
// single-shot acquisition handshake used by the bench scripts.
package ds4024

import (
	"fmt"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/enum"
	"github.com/gotmc/labbench/lib/scpi"
	"github.com/rs/zerolog"
)

// Name is the model field of the *IDN? reply.
const Name = "DS4024"

// Channel is an analog input.
type Channel int

const (
	Channel1 Channel = iota + 1
	Channel2
	Channel3
	Channel4
)

var channels = enum.Must("channel", map[Channel]string{
	Channel1: "CHAN1",
	Channel2: "CHAN2",
	Channel3: "CHAN3",
	Channel4: "CHAN4",
}, enum.WithAlias("CHANNEL1", "CHAN1"), enum.WithAlias("CHANNEL2", "CHAN2"),
	enum.WithAlias("CHANNEL3", "CHAN3"), enum.WithAlias("CHANNEL4", "CHAN4"))

func (c Channel) String() string {
	if tok, err := channels.Token(c); err == nil {
		return tok
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// Source is a trigger source. Do not mix up with Channel.
type Source int

const (
	SourceChannel1 Source = iota + 1
	SourceChannel2
	SourceChannel3
	SourceChannel4
	SourceExternal
	SourceExternal5
	SourceACLine
)

var sources = enum.Must("trigger source", map[Source]string{
	SourceChannel1:  "CHAN1",
	SourceChannel2:  "CHAN2",
	SourceChannel3:  "CHAN3",
	SourceChannel4:  "CHAN4",
	SourceExternal:  "EXT",
	SourceExternal5: "EXT5",
	SourceACLine:    "ACL",
}, enum.WithAlias("CHANNEL1", "CHAN1"), enum.WithAlias("CHANNEL2", "CHAN2"),
	enum.WithAlias("CHANNEL3", "CHAN3"), enum.WithAlias("CHANNEL4", "CHAN4"),
	enum.WithAlias("ACLINE", "ACL"))

// SourceOf returns the trigger source wired to channel c.
func SourceOf(c Channel) Source { return Source(c) }

// Slope is the triggering edge.
type Slope int

const (
	Positive Slope = iota
	Negative
	Either
)

var slopes = enum.Must("slope", map[Slope]string{
	Positive: "POS",
	Negative: "NEG",
	Either:   "RFAL",
}, enum.WithAlias("POSITIVE", "POS"), enum.WithAlias("NEGATIVE", "NEG"))

// Coupling of the trigger path.
type Coupling int

const (
	CouplingDC Coupling = iota
	CouplingAC
	LFReject
	HFReject
)

var couplings = enum.Must("coupling", map[Coupling]string{
	CouplingDC: "DC",
	CouplingAC: "AC",
	LFReject:   "LFR",
	HFReject:   "HFR",
})

// Sweep is the trigger mode. Acquisition requires Single.
type Sweep int

const (
	Auto Sweep = iota
	Normal
	Single
)

var sweeps = enum.Must("sweep", map[Sweep]string{
	Auto:   "AUTO",
	Normal: "NORM",
	Single: "SING",
}, enum.WithAlias("NORMAL", "NORM"), enum.WithAlias("SINGLE", "SING"))

// Status is the trigger status.
type Status int

const (
	Run Status = iota
	Stop
	Triggered
	Wait
	AutoTrig
)

var statuses = enum.Must("trigger status", map[Status]string{
	Run:       "RUN",
	Stop:      "STOP",
	Triggered: "TD",
	Wait:      "WAIT",
	AutoTrig:  "AUTO",
})

func (s Status) String() string {
	if tok, err := statuses.Token(s); err == nil {
		return tok
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Ratio is a probe attenuation ratio.
type Ratio int

const (
	X0_01 Ratio = iota
	X0_02
	X0_05
	X0_1
	X0_2
	X0_5
	X1
	X2
	X5
	X10
	X20
	X50
	X100
	X200
	X500
	X1000
)

var ratios = enum.Must("probe ratio", map[Ratio]string{
	X0_01: "0.01", X0_02: "0.02", X0_05: "0.05",
	X0_1: "0.1", X0_2: "0.2", X0_5: "0.5",
	X1: "1", X2: "2", X5: "5",
	X10: "10", X20: "20", X50: "50",
	X100: "100", X200: "200", X500: "500",
	X1000: "1000",
}, enum.WithNormalizer(enum.Float))

// Fault is one bit of the *TST? self-test word.
type Fault struct {
	Bit         int
	Description string
}

var faults = []Fault{
	{0, "system voltage error"},
	{1, "analog voltage error"},
	{2, "storage voltage error"},
	{3, "digital core voltage error"},
	{4, "digital PER voltage error"},
	{8, "battery error"},
	{9, "FAN1 error"},
	{10, "FAN2 error"},
	{12, "temperature 1 error"},
	{13, "temperature 2 error"},
	{16, "timeout error"},
}

// DecodeFaults lists the faults set in a *TST? word.
func DecodeFaults(word int) []Fault {
	var out []Fault
	for _, f := range faults {
		if (word>>f.Bit)&1 == 1 {
			out = append(out, f)
		}
	}
	return out
}

// ChannelConfig is applied to one channel before arming.
type ChannelConfig struct {
	Channel  Channel
	Enabled  bool
	Probe    Ratio
	Scale    float64 // volts per division
	Offset   float64 // volts
	Inverted bool
}

// TriggerConfig describes an edge trigger.
type TriggerConfig struct {
	Source Source
	Slope  Slope
	Level  float64
	Sweep  Sweep
}

// Observer is told about completed and failed captures.
type Observer interface {
	CaptureDone(ch Channel, polls int, stalled bool, samples int)
	FetchFault(ch Channel, err error)
}

type nopObserver struct{}

func (nopObserver) CaptureDone(Channel, int, bool, int) {}
func (nopObserver) FetchFault(Channel, error)           {}

// Scope is a DS4024 bound to one handle. It is not safe for concurrent use.
type Scope struct {
	h        labbench.Handle
	id       labbench.Identity
	poll     time.Duration
	stopPoll time.Duration
	obs      Observer
	logger   zerolog.Logger
	state    State
}

// Option applies an option to the Scope.
type Option func(*Scope)

// WithPollInterval sets the delay between two :WAV:STAT? polls (default
// 500 ms). The stall timeout of GetCurve counts polls, so this also scales it.
func WithPollInterval(d time.Duration) Option { return func(s *Scope) { s.poll = d } }

// WithStopPollInterval sets the delay between two :TRIG:STAT? polls in
// WaitStopped (default 20 ms).
func WithStopPollInterval(d time.Duration) Option { return func(s *Scope) { s.stopPoll = d } }

// WithObserver reports captures to o.
func WithObserver(o Observer) Option { return func(s *Scope) { s.obs = o } }

// WithLogger sets the scope logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Scope) { s.logger = l } }

// New checks that h is a DS4024 and returns its driver.
func New(h labbench.Handle, opts ...Option) (*Scope, error) {
	id, err := labbench.CheckIdentity(h, Name)
	if err != nil {
		return nil, err
	}
	s := &Scope{
		h:        h,
		id:       id,
		poll:     500 * time.Millisecond,
		stopPoll: 20 * time.Millisecond,
		obs:      nopObserver{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("instrument", Name).Str("resource", h.Resource()).Logger()
	return s, nil
}

// Identity returns the identity read at construction.
func (s *Scope) Identity() labbench.Identity { return s.id }

// SetDisplay shows or hides a channel.
func (s *Scope) SetDisplay(ch Channel, on bool) error {
	tok, err := channels.Token(ch)
	if err != nil {
		return err
	}
	return s.h.Command(":%s:DISP %d", tok, scpi.OnOff(on))
}

// Displayed reports whether the channel is shown.
func (s *Scope) Displayed(ch Channel) (bool, error) {
	tok, err := channels.Token(ch)
	if err != nil {
		return false, err
	}
	return scpi.Boolf(s.h, ":%s:DISP?", tok)
}

// SetInverted inverts the channel.
func (s *Scope) SetInverted(ch Channel, inv bool) error {
	tok, err := channels.Token(ch)
	if err != nil {
		return err
	}
	return s.h.Command(":%s:INV %d", tok, scpi.OnOff(inv))
}

// Inverted reports whether the channel is inverted.
func (s *Scope) Inverted(ch Channel) (bool, error) {
	tok, err := channels.Token(ch)
	if err != nil {
		return false, err
	}
	return scpi.Boolf(s.h, ":%s:INV?", tok)
}

// SetScale sets the vertical scale in volts per division.
func (s *Scope) SetScale(ch Channel, v float64) error {
	tok, err := channels.Token(ch)
	if err != nil {
		return err
	}
	return s.h.Command(":%s:SCAL %g", tok, v)
}

func (s *Scope) Scale(ch Channel) (float64, error) {
	tok, err := channels.Token(ch)
	if err != nil {
		return 0, err
	}
	return scpi.Floatf(s.h, ":%s:SCAL?", tok)
}

// SetOffset sets the vertical offset in volts.
func (s *Scope) SetOffset(ch Channel, v float64) error {
	tok, err := channels.Token(ch)
	if err != nil {
		return err
	}
	return s.h.Command(":%s:OFFS %g", tok, v)
}

func (s *Scope) Offset(ch Channel) (float64, error) {
	tok, err := channels.Token(ch)
	if err != nil {
		return 0, err
	}
	return scpi.Floatf(s.h, ":%s:OFFS?", tok)
}

// SetProbe sets the probe ratio.
func (s *Scope) SetProbe(ch Channel, r Ratio) error {
	tok, err := channels.Token(ch)
	if err != nil {
		return err
	}
	rt, err := ratios.Token(r)
	if err != nil {
		return err
	}
	return s.h.Command(":%s:PROB %s", tok, rt)
}

func (s *Scope) Probe(ch Channel) (Ratio, error) {
	tok, err := channels.Token(ch)
	if err != nil {
		return 0, err
	}
	return scpi.Enum(s.h, ratios, fmt.Sprintf(":%s:PROB?", tok))
}

// ConfigureChannel applies cfg.
func (s *Scope) ConfigureChannel(cfg ChannelConfig) error {
	steps := []func() error{
		func() error { return s.SetDisplay(cfg.Channel, cfg.Enabled) },
		func() error { return s.SetProbe(cfg.Channel, cfg.Probe) },
		func() error { return s.SetScale(cfg.Channel, cfg.Scale) },
		func() error { return s.SetOffset(cfg.Channel, cfg.Offset) },
		func() error { return s.SetInverted(cfg.Channel, cfg.Inverted) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// ConfigureTrigger applies cfg. The sweep mode is set last since Single arms
// the acquisition.
func (s *Scope) ConfigureTrigger(cfg TriggerConfig) error {
	if err := s.SetTriggerSource(cfg.Source); err != nil {
		return err
	}
	if err := s.SetSlope(cfg.Slope); err != nil {
		return err
	}
	if err := s.SetLevel(cfg.Level); err != nil {
		return err
	}
	return s.SetSweep(cfg.Sweep)
}

// SetRunning sends :RUN or :STOP.
func (s *Scope) SetRunning(run bool) error {
	if run {
		return s.h.Command(":RUN")
	}
	return s.h.Command(":STOP")
}

// TriggerStatus queries :TRIG:STAT?.
func (s *Scope) TriggerStatus() (Status, error) {
	return scpi.Enum(s.h, statuses, ":TRIG:STAT?")
}

// Running reports whether the trigger status is RUN.
func (s *Scope) Running() (bool, error) {
	st, err := s.TriggerStatus()
	return st == Run, err
}

// Stopped reports whether the trigger status is STOP.
func (s *Scope) Stopped() (bool, error) {
	st, err := s.TriggerStatus()
	return st == Stop, err
}

func (s *Scope) SetTimeScale(v float64) error  { return s.h.Command(":TIM:SCAL %g", v) }
func (s *Scope) TimeScale() (float64, error)   { return scpi.Float(s.h, ":TIM:SCAL?") }
func (s *Scope) SetTimeOffset(v float64) error { return s.h.Command(":TIM:OFFS %g", v) }
func (s *Scope) TimeOffset() (float64, error)  { return scpi.Float(s.h, ":TIM:OFFS?") }

func (s *Scope) SetCoupling(c Coupling) error {
	return scpi.SetEnum(s.h, couplings, ":TRIG:COUP %s", c)
}

func (s *Scope) Coupling() (Coupling, error) { return scpi.Enum(s.h, couplings, ":TRIG:COUP?") }

func (s *Scope) SetSweep(sw Sweep) error { return scpi.SetEnum(s.h, sweeps, ":TRIG:SWE %s", sw) }

func (s *Scope) Sweep() (Sweep, error) { return scpi.Enum(s.h, sweeps, ":TRIG:SWE?") }

func (s *Scope) SetLevel(v float64) error { return s.h.Command(":TRIG:EDG:LEV %g", v) }

func (s *Scope) Level() (float64, error) { return scpi.Float(s.h, ":TRIG:EDG:LEV?") }

func (s *Scope) SetTriggerSource(src Source) error {
	return scpi.SetEnum(s.h, sources, ":TRIG:EDG:SOUR %s", src)
}

func (s *Scope) TriggerSource() (Source, error) { return scpi.Enum(s.h, sources, ":TRIG:EDG:SOUR?") }

func (s *Scope) SetSlope(sl Slope) error { return scpi.SetEnum(s.h, slopes, ":TRIG:EDG:SLOP %s", sl) }

func (s *Scope) Slope() (Slope, error) { return scpi.Enum(s.h, slopes, ":TRIG:EDG:SLOP?") }

// MemoryDepth queries the configured acquisition memory depth.
func (s *Scope) MemoryDepth() (int, error) { return scpi.Int(s.h, ":ACQ:MDEP?") }

// Faults runs the self-test query and decodes its fault bits.
func (s *Scope) Faults() ([]Fault, error) {
	word, err := scpi.Int(s.h, "*TST?")
	if err != nil {
		return nil, err
	}
	return DecodeFaults(word), nil
}
