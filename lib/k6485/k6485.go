// Package k6485 drives a Keithley 6485 picoammeter.
package k6485

import (
	"fmt"
	"strings"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/enum"
	"github.com/gotmc/labbench/lib/scpi"
	"github.com/rs/zerolog"
)

// Name is the model field of the *IDN? reply.
const Name = "MODEL 6485"

// Speed is the integration time in power line cycles.
type Speed int

const (
	Slow Speed = iota
	Medium
	Fast
)

var speeds = enum.Must("speed", map[Speed]string{
	Slow:   "5",
	Medium: "1",
	Fast:   "0.1",
}, enum.WithNormalizer(enum.Float))

// Key is a front panel key, for :SYST:KEY.
type Key int

const (
	KeyConfigLocal Key = 1
	KeyMedian      Key = 2
	KeyAverage     Key = 3
	KeyMxB         Key = 4
	KeyMOverXB     Key = 5
	KeyLog         Key = 6
	KeyRel         Key = 7
	KeyZeroCheck   Key = 8
	KeyRangeUp     Key = 11
	KeyAuto        Key = 12
	KeyRangeDown   Key = 13
	KeyEnter       Key = 14
	KeyRight       Key = 15
	KeyZeroCorrect Key = 16
	KeyMenu        Key = 17
	KeyComm        Key = 18
	KeyDisp        Key = 19
	KeyTrig        Key = 20
	KeyHalt        Key = 21
	KeyDigits      Key = 22
	KeyRate        Key = 23
	KeyLeft        Key = 24
	KeySave        Key = 26
	KeySetup       Key = 27
	KeyStore       Key = 28
	KeyRecall      Key = 29
	KeyLimit       Key = 30
	KeyAutoZero    Key = 31
	KeyExit        Key = 32
)

var keys = func() *enum.Table[Key] {
	m := map[Key]string{}
	for _, k := range []Key{
		KeyConfigLocal, KeyMedian, KeyAverage, KeyMxB, KeyMOverXB, KeyLog, KeyRel,
		KeyZeroCheck, KeyRangeUp, KeyAuto, KeyRangeDown, KeyEnter, KeyRight,
		KeyZeroCorrect, KeyMenu, KeyComm, KeyDisp, KeyTrig, KeyHalt, KeyDigits,
		KeyRate, KeyLeft, KeySave, KeySetup, KeyStore, KeyRecall, KeyLimit,
		KeyAutoZero, KeyExit,
	} {
		m[k] = fmt.Sprint(int(k))
	}
	return enum.Must("key", m)
}()

// Status is the status word attached to each reading.
type Status uint32

// Status bits.
const (
	Overflow    Status = 1 << 0
	FilterOn    Status = 1 << 1
	MathOn      Status = 1 << 2
	NullOn      Status = 1 << 3
	LimitsOn    Status = 1 << 4
	Limit1Fail  Status = 1 << 5
	Limit2Fail  Status = 1 << 6
	OverVoltage Status = 1 << 7
	ZeroCheck   Status = 1 << 9
	ZeroCorrect Status = 1 << 10
)

// Reading is one element of a :READ? reply.
type Reading struct {
	Current   float64 // A
	Timestamp float64 // s
	Status    Status
}

// ParseReadings splits a :READ? reply into 3-tuples. The current carries an
// "A" suffix.
func ParseReadings(cmd, s string) ([]Reading, error) {
	v, err := scpi.ParseFloats(cmd, s)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 || len(v)%3 != 0 {
		return nil, labbench.NewDecodeError(cmd, strings.TrimSpace(s), fmt.Errorf("%d values is not a multiple of 3", len(v)))
	}
	out := make([]Reading, 0, len(v)/3)
	for i := 0; i < len(v); i += 3 {
		out = append(out, Reading{Current: v[i], Timestamp: v[i+1], Status: Status(uint32(v[i+2]))})
	}
	return out, nil
}

// Picoammeter is a 6485 bound to one handle.
type Picoammeter struct {
	h      labbench.Handle
	id     labbench.Identity
	logger zerolog.Logger
}

// New checks that h is a 6485.
func New(h labbench.Handle, logger zerolog.Logger) (*Picoammeter, error) {
	id, err := labbench.CheckIdentity(h, Name)
	if err != nil {
		return nil, err
	}
	return &Picoammeter{h: h, id: id, logger: logger.With().Str("instrument", Name).Logger()}, nil
}

func (p *Picoammeter) Identity() labbench.Identity { return p.id }

// Read triggers and returns readings.
func (p *Picoammeter) Read() ([]Reading, error) {
	const q = ":READ?"
	r, err := p.h.Query(q)
	if err != nil {
		return nil, err
	}
	return ParseReadings(q, r)
}

// SetText writes a custom message, truncated to 12 characters.
func (p *Picoammeter) SetText(text string) error {
	if len(text) > 12 {
		text = text[:12]
	}
	return p.h.Command(`:DISP:WIND1:TEXT:DATA "%s"`, text)
}

func (p *Picoammeter) ShowText(on bool) error {
	return p.h.Command(":DISP:WIND1:TEXT:STAT %d", scpi.OnOff(on))
}

func (p *Picoammeter) SetRange(amps float64) error { return p.h.Command(":RANG %g", amps) }
func (p *Picoammeter) Range() (float64, error)     { return scpi.Float(p.h, ":RANG?") }

func (p *Picoammeter) SetSpeed(s Speed) error {
	return scpi.SetEnum(p.h, speeds, ":SENS:CURR:NPLC %s", s)
}

func (p *Picoammeter) Speed() (Speed, error) { return scpi.Enum(p.h, speeds, ":SENS:CURR:NPLC?") }

func (p *Picoammeter) SetAutoZero(on bool) error {
	return p.h.Command(":SYST:AZER %d", scpi.OnOff(on))
}

func (p *Picoammeter) AutoZero() (bool, error) { return scpi.Bool(p.h, ":SYST:AZER?") }

func (p *Picoammeter) SetZeroCheck(on bool) error {
	return p.h.Command(":SYST:ZCH %d", scpi.OnOff(on))
}

func (p *Picoammeter) ZeroCheck() (bool, error) { return scpi.Bool(p.h, ":SYST:ZCH?") }

func (p *Picoammeter) SetZeroCorrection(on bool) error {
	return p.h.Command(":SYST:ZCOR %d", scpi.OnOff(on))
}

func (p *Picoammeter) ZeroCorrection() (bool, error) { return scpi.Bool(p.h, ":SYST:ZCOR?") }

func checkRange(what string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s %d out of range [%d, %d]", what, v, lo, hi)
	}
	return nil
}

// SetTriggerCount sets the number of readings per burst (0..2500).
func (p *Picoammeter) SetTriggerCount(n int) error {
	if err := checkRange("trigger count", n, 0, 2500); err != nil {
		return err
	}
	return p.h.Command(":TRIG:COUN %d", n)
}

func (p *Picoammeter) TriggerCount() (int, error) { return scpi.Int(p.h, ":TRIG:COUN?") }

// SetArmCount sets the number of bursts (0..2500).
func (p *Picoammeter) SetArmCount(n int) error {
	if err := checkRange("arm count", n, 0, 2500); err != nil {
		return err
	}
	return p.h.Command(":ARM:COUN %d", n)
}

func (p *Picoammeter) ArmCount() (int, error) { return scpi.Int(p.h, ":ARM:COUN?") }

// SetMedian sets the median filter rank (0..5); 0 disables the filter.
func (p *Picoammeter) SetMedian(rank int) error {
	return p.setFilter("median rank", ":SENS:MED", "RANK", rank, 5)
}

// Median returns the median filter rank, 0 when disabled.
func (p *Picoammeter) Median() (int, error) { return p.filter(":SENS:MED", "RANK") }

// SetAverage sets the averaging filter count (0..100); 0 disables the
// filter.
func (p *Picoammeter) SetAverage(count int) error {
	return p.setFilter("average count", ":SENS:AVER", "COUN", count, 100)
}

// Average returns the averaging count, 0 when disabled.
func (p *Picoammeter) Average() (int, error) { return p.filter(":SENS:AVER", "COUN") }

func (p *Picoammeter) setFilter(what, node, param string, v, hi int) error {
	if err := checkRange(what, v, 0, hi); err != nil {
		return err
	}
	if v == 0 {
		return p.h.Command("%s:STAT 0", node)
	}
	if err := p.h.Command("%s:%s %d", node, param, v); err != nil {
		return err
	}
	return p.h.Command("%s:STAT 1", node)
}

func (p *Picoammeter) filter(node, param string) (int, error) {
	on, err := scpi.Boolf(p.h, "%s:STAT?", node)
	if err != nil || !on {
		return 0, err
	}
	return scpi.Intf(p.h, "%s:%s?", node, param)
}

// Press simulates a front panel key press.
func (p *Picoammeter) Press(k Key) error { return scpi.SetEnum(p.h, keys, ":SYST:KEY %s", k) }
