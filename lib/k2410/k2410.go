// Package k2410 drives a Keithley 2410 source-measure unit.
package k2410

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/enum"
	"github.com/gotmc/labbench/lib/scpi"
	"github.com/rs/zerolog"
)

// Name is the model field of the *IDN? reply.
const Name = "MODEL 2410"

// Source is the source function.
type Source int

const (
	SourceVoltage Source = iota
	SourceCurrent
	SourceMemory
)

var sourceFuncs = enum.Must("source function", map[Source]string{
	SourceVoltage: "VOLT",
	SourceCurrent: "CURR",
	SourceMemory:  "MEM",
}, enum.WithAlias("VOLTAGE", "VOLT"), enum.WithAlias("CURRENT", "CURR"), enum.WithAlias("MEMORY", "MEM"))

// OutputMode is the state of the output when it is off.
type OutputMode int

const (
	HighZ OutputMode = iota
	NormalOff
	ZeroOff
	Guard
)

var outputModes = enum.Must("output off mode", map[OutputMode]string{
	HighZ:     "HIMP",
	NormalOff: "NORM",
	ZeroOff:   "ZERO",
	Guard:     "GUAR",
}, enum.WithAlias("NORMAL", "NORM"), enum.WithAlias("GUARD", "GUAR"))

// Key is a front panel key, for :SYST:KEY.
type Key int

const (
	KeyRangeUp Key = iota + 1
	KeySourceDown
	KeyLeft
	KeyMenu
	KeyFctn
	KeyFilter
	KeySpeed
	KeyEdit
	KeyAuto
	KeyRight
	KeyExit
	KeyVSource
	KeyLimits
	KeyStore
	KeyVMeas
	KeyToggle
	KeyRangeDown
	KeyEnter
	KeyISource
	KeyTrig
	KeyRecall
	KeyIMeas
	KeyLocal
	KeyOnOff
	_
	KeySource
	KeySweep
	KeyConfig
	KeyOhm
	KeyRel
	KeyDigits
	KeyFrontRear
)

var keys = func() *enum.Table[Key] {
	m := map[Key]string{}
	for k := KeyRangeUp; k <= KeyFrontRear; k++ {
		if k == KeyOnOff+1 {
			continue
		}
		m[k] = fmt.Sprint(int(k))
	}
	return enum.Must("key", m)
}()

// StatusBit is a bit of the status word of a reading.
type StatusBit uint

const (
	Overflow StatusBit = iota
	FilterOn
	FrontTerminals
	Compliance
	OverVoltage
	MathOn
	NullOn
	LimitsOn
	LimitBit8
	LimitBit9
	AutoOhms
	VMeasure
	IMeasure
	OhmsMeasure
	VSource
	ISource
	RangeCompliance
	OffsetOhms
	ContactFailure
	LimitBit19
	LimitBit20
	LimitBit21
	RemoteSense
	PulseMode
)

var statusText = [...]string{
	"over-range during measurement",
	"averaging filter enabled",
	"front terminals selected",
	"in real compliance",
	"over voltage protection reached",
	"CALC1 enabled",
	"null enabled",
	"limit test on CALC2 enabled",
	"limit test result bit 8",
	"limit test result bit 9",
	"auto ohms enabled",
	"V-measure enabled",
	"I-measure enabled",
	"ohms measure enabled",
	"V-source used",
	"I-source used",
	"in range compliance",
	"offset compensated ohms enabled",
	"contact check failure",
	"limit test result bit 19",
	"limit test result bit 20",
	"limit test result bit 21",
	"4-wire remote sense selected",
	"pulse mode",
}

func (b StatusBit) String() string {
	if int(b) < len(statusText) {
		return statusText[b]
	}
	return fmt.Sprintf("bit %d", uint(b))
}

// Status is the status word attached to each reading.
type Status uint32

// Has reports whether bit b is set.
func (s Status) Has(b StatusBit) bool { return s>>b&1 == 1 }

// Bits lists the set bits.
func (s Status) Bits() []StatusBit {
	var out []StatusBit
	for b := Overflow; b <= PulseMode; b++ {
		if s.Has(b) {
			out = append(out, b)
		}
	}
	return out
}

// Reading is one element of a :READ? reply.
type Reading struct {
	Voltage    float64 // V
	Current    float64 // A
	Resistance float64 // Ohm
	Timestamp  float64 // s
	Status     Status
}

// ParseReadings splits a :READ? reply into 5-tuples.
func ParseReadings(cmd, s string) ([]Reading, error) {
	v, err := scpi.ParseFloats(cmd, s)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 || len(v)%5 != 0 {
		return nil, labbench.NewDecodeError(cmd, strings.TrimSpace(s), fmt.Errorf("%d values is not a multiple of 5", len(v)))
	}
	out := make([]Reading, 0, len(v)/5)
	for i := 0; i < len(v); i += 5 {
		out = append(out, Reading{
			Voltage:    v[i],
			Current:    v[i+1],
			Resistance: v[i+2],
			Timestamp:  v[i+3],
			Status:     Status(uint32(v[i+4])),
		})
	}
	return out, nil
}

// SMU is a 2410 bound to one handle.
type SMU struct {
	h      labbench.Handle
	id     labbench.Identity
	logger zerolog.Logger
	obs    Observer
}

// Option applies an option to the SMU.
type Option func(*SMU)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *SMU) { s.logger = l } }

// WithObserver reports sweep points to o.
func WithObserver(o Observer) Option { return func(s *SMU) { s.obs = o } }

// New checks that h is a 2410.
func New(h labbench.Handle, opts ...Option) (*SMU, error) {
	id, err := labbench.CheckIdentity(h, Name)
	if err != nil {
		return nil, err
	}
	s := &SMU{h: h, id: id, logger: zerolog.Nop(), obs: nopObserver{}}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("instrument", Name).Str("resource", h.Resource()).Logger()
	return s, nil
}

func (s *SMU) Identity() labbench.Identity { return s.id }

// Read triggers and returns readings.
func (s *SMU) Read() ([]Reading, error) {
	const q = ":READ?"
	r, err := s.h.Query(q)
	if err != nil {
		return nil, err
	}
	return ParseReadings(q, r)
}

// SetOutput switches the output. The beeper is muted around the switch.
func (s *SMU) SetOutput(on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	for _, cmd := range []string{":SYST:BEEP:STAT 0", ":OUTP:STATE " + state, ":SYST:BEEP:STAT 1"} {
		if err := s.h.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *SMU) Output() (bool, error) { return scpi.Bool(s.h, ":OUTP:STATE?") }

func (s *SMU) SetOutputMode(m OutputMode) error {
	return scpi.SetEnum(s.h, outputModes, ":OUTP:SMOD %s", m)
}

func (s *SMU) OutputMode() (OutputMode, error) { return scpi.Enum(s.h, outputModes, ":OUTP:SMOD?") }

// Press simulates a front panel key press.
func (s *SMU) Press(k Key) error { return scpi.SetEnum(s.h, keys, ":SYST:KEY %s", k) }

// LastKey returns the last key pressed.
func (s *SMU) LastKey() (Key, error) { return scpi.Enum(s.h, keys, ":SYST:KEY?") }

func (s *SMU) SetSource(src Source) error {
	return scpi.SetEnum(s.h, sourceFuncs, ":SOUR:FUNC:MODE %s", src)
}

func (s *SMU) Source() (Source, error) { return scpi.Enum(s.h, sourceFuncs, ":SOUR:FUNC:MODE?") }

func (s *SMU) SetSourceVoltage(v float64) error       { return s.h.Command(":SOUR:VOLT %g", v) }
func (s *SMU) SourceVoltage() (float64, error)        { return scpi.Float(s.h, ":SOUR:VOLT?") }
func (s *SMU) SetSourceVoltageRange(v float64) error  { return s.h.Command(":SOUR:VOLT:RANG %g", v) }
func (s *SMU) SetComplianceCurrent(a float64) error   { return s.h.Command(":SENS:CURR:PROT %g", a) }
func (s *SMU) ComplianceCurrent() (float64, error)    { return scpi.Float(s.h, ":SENS:CURR:PROT?") }
func (s *SMU) SetSenseCurrentRange(a float64) error   { return s.h.Command(":SENS:CURR:RANG %g", a) }
func (s *SMU) SetSourceCurrent(a float64) error       { return s.h.Command(":SOUR:CURR %g", a) }
func (s *SMU) SourceCurrent() (float64, error)        { return scpi.Float(s.h, ":SOUR:CURR?") }
func (s *SMU) SetSourceCurrentRange(a float64) error  { return s.h.Command(":SOUR:CURR:RANG %g", a) }
func (s *SMU) SetComplianceVoltage(v float64) error   { return s.h.Command(":SENS:VOLT:PROT %g", v) }
func (s *SMU) ComplianceVoltage() (float64, error)    { return scpi.Float(s.h, ":SENS:VOLT:PROT?") }
func (s *SMU) SetSenseVoltageRange(v float64) error   { return s.h.Command(":SENS:VOLT:RANG %g", v) }

// VoltageSourceWizard sources volt with a current compliance. Ranges follow
// the values so the instrument picks the best one.
func (s *SMU) VoltageSourceWizard(volt, compliance float64) error {
	steps := []func() error{
		func() error { return s.SetSource(SourceVoltage) },
		func() error { return s.SetComplianceCurrent(compliance) },
		func() error { return s.SetSenseCurrentRange(compliance) },
		func() error { return s.SetSourceVoltageRange(volt) },
		func() error { return s.SetSourceVoltage(volt) },
	}
	return run(steps)
}

// CurrentSourceWizard sources amp with a voltage compliance.
func (s *SMU) CurrentSourceWizard(amp, compliance float64) error {
	steps := []func() error{
		func() error { return s.SetSource(SourceCurrent) },
		func() error { return s.SetSenseVoltageRange(compliance) },
		func() error { return s.SetComplianceVoltage(compliance) },
		func() error { return s.SetSourceCurrentRange(amp) },
		func() error { return s.SetSourceCurrent(amp) },
	}
	return run(steps)
}

func run(steps []func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Line is a line of the front panel display.
type Line int

const (
	Top    Line = 1 // 20 characters
	Bottom Line = 2 // 32 characters
)

func (l Line) width() (int, error) {
	switch l {
	case Top:
		return 20, nil
	case Bottom:
		return 32, nil
	}
	return 0, fmt.Errorf("invalid display line %d", int(l))
}

// SetText writes a custom message on line l, truncated to the line width.
func (s *SMU) SetText(l Line, text string) error {
	w, err := l.width()
	if err != nil {
		return err
	}
	if len(text) > w {
		text = text[:w]
	}
	return s.h.Command(`:DISP:WIND%d:TEXT:DATA "%s"`, int(l), text)
}

// Text reads back the custom message of line l.
func (s *SMU) Text(l Line) (string, error) {
	if _, err := l.width(); err != nil {
		return "", err
	}
	t, err := scpi.String(s.h, fmt.Sprintf(":DISP:WIND%d:TEXT:DATA?", int(l)))
	return strings.Trim(t, `"`), err
}

// ShowText shows or hides the custom message of line l.
func (s *SMU) ShowText(l Line, on bool) error {
	if _, err := l.width(); err != nil {
		return err
	}
	return s.h.Command(":DISP:WIND%d:TEXT:STAT %d", int(l), scpi.OnOff(on))
}

// Beep sounds the beeper. freq is clamped to 65 Hz..2 MHz and d to 7.9 s.
func (s *SMU) Beep(freq float64, d time.Duration) error {
	freq = min(max(freq, 65), 2e6)
	d = min(max(d, 0), 7900*time.Millisecond)
	if err := s.h.Command(":SYST:BEEP:STAT 1"); err != nil {
		return err
	}
	return s.h.Command(":SYST:BEEP %g, %g", freq, d.Seconds())
}

// Note is a tone of a melody.
type Note struct {
	Freq     float64
	Duration time.Duration
}

// Melody plays notes one after the other, waiting for each to finish.
func (s *SMU) Melody(ctx context.Context, notes ...Note) error {
	for _, n := range notes {
		if err := s.Beep(n.Freq, n.Duration); err != nil {
			return err
		}
		if err := sleep(ctx, n.Duration); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
