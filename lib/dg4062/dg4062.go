// Package dg4062 drives a Rigol DG4062 function/arbitrary waveform
// generator.
package dg4062

import (
	"fmt"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/enum"
	"github.com/gotmc/labbench/lib/scpi"
)

// Name is the model field of the *IDN? reply.
const Name = "DG4062"

// Output is one of the two generator outputs.
type Output int

const (
	Out1 Output = iota + 1
	Out2
)

var outputs = enum.Must("output", map[Output]string{Out1: "SOUR1", Out2: "SOUR2"})

// Shape is the waveform shape. Only the built-in shapes and a few of the
// arbitrary ones are listed.
type Shape int

const (
	Sine Shape = iota
	Square
	Ramp
	Pulse
	Noise
	User
	Harmonic
	Custom
	DC
	NegRamp
	StairUp
	StairDown
	Trapezia
)

var shapes = enum.Must("shape", map[Shape]string{
	Sine:      "SIN",
	Square:    "SQU",
	Ramp:      "RAMP",
	Pulse:     "PULS",
	Noise:     "NOIS",
	User:      "USER",
	Harmonic:  "HARM",
	Custom:    "CUST",
	DC:        "DC",
	NegRamp:   "NEGRAMP",
	StairUp:   "STAIRUP",
	StairDown: "STAIRDN",
	Trapezia:  "TRAPEZIA",
}, enum.WithAlias("SINUSOID", "SIN"), enum.WithAlias("SQUARE", "SQU"),
	enum.WithAlias("PULSE", "PULS"), enum.WithAlias("NOISE", "NOIS"))

// VoltUnit is the amplitude unit.
type VoltUnit int

const (
	Vpp VoltUnit = iota
	Vrms
	DBm
)

var voltUnits = enum.Must("voltage unit", map[VoltUnit]string{Vpp: "VPP", Vrms: "VRMS", DBm: "DBM"})

// TrigSource is the burst trigger source.
type TrigSource int

const (
	Internal TrigSource = iota
	External
	Manual
)

var trigSources = enum.Must("burst trigger source", map[TrigSource]string{
	Internal: "INT",
	External: "EXT",
	Manual:   "MAN",
})

// Generator is a DG4062 bound to one handle.
type Generator struct {
	h  labbench.Handle
	id labbench.Identity
}

// New checks that h is a DG4062.
func New(h labbench.Handle) (*Generator, error) {
	id, err := labbench.CheckIdentity(h, Name)
	if err != nil {
		return nil, err
	}
	return &Generator{h: h, id: id}, nil
}

func (g *Generator) Identity() labbench.Identity { return g.id }

func (g *Generator) cmd(o Output, format string, a ...any) error {
	tok, err := outputs.Token(o)
	if err != nil {
		return err
	}
	return g.h.Command(":"+tok+format, a...)
}

func (g *Generator) float(o Output, q string) (float64, error) {
	tok, err := outputs.Token(o)
	if err != nil {
		return 0, err
	}
	return scpi.Float(g.h, ":"+tok+q)
}

// Beep sounds the beeper once.
func (g *Generator) Beep() error {
	if err := g.h.Command(":SYST:BEEP:STAT 1"); err != nil {
		return err
	}
	return g.h.Command(":SYST:BEEP")
}

func (g *Generator) SetShape(o Output, s Shape) error {
	tok, err := shapes.Token(s)
	if err != nil {
		return err
	}
	return g.cmd(o, ":FUNC:SHAP %s", tok)
}

func (g *Generator) Shape(o Output) (Shape, error) {
	tok, err := outputs.Token(o)
	if err != nil {
		return 0, err
	}
	return scpi.Enum(g.h, shapes, ":"+tok+":FUNC:SHAP?")
}

func (g *Generator) SetFrequency(o Output, hz float64) error {
	return g.cmd(o, ":FREQ:FIX %g", hz)
}

func (g *Generator) Frequency(o Output) (float64, error) { return g.float(o, ":FREQ:FIX?") }

func (g *Generator) SetPeriod(o Output, s float64) error { return g.cmd(o, ":PER:FIX %g", s) }

func (g *Generator) Period(o Output) (float64, error) { return g.float(o, ":PER:FIX?") }

func (g *Generator) SetVoltUnit(o Output, u VoltUnit) error {
	tok, err := voltUnits.Token(u)
	if err != nil {
		return err
	}
	return g.cmd(o, ":VOLT:UNIT %s", tok)
}

func (g *Generator) VoltUnit(o Output) (VoltUnit, error) {
	tok, err := outputs.Token(o)
	if err != nil {
		return 0, err
	}
	return scpi.Enum(g.h, voltUnits, ":"+tok+":VOLT:UNIT?")
}

// SetHighLow sets the high and low levels.
func (g *Generator) SetHighLow(o Output, high, low float64) error {
	if high < low {
		return fmt.Errorf("high level %g below low level %g", high, low)
	}
	if err := g.cmd(o, ":VOLT:HIGH %g", high); err != nil {
		return err
	}
	return g.cmd(o, ":VOLT:LOW %g", low)
}

func (g *Generator) HighLow(o Output) (high, low float64, err error) {
	if high, err = g.float(o, ":VOLT:HIGH?"); err != nil {
		return 0, 0, err
	}
	low, err = g.float(o, ":VOLT:LOW?")
	return high, low, err
}

// SetAmplitudeOffset sets amplitude and offset.
func (g *Generator) SetAmplitudeOffset(o Output, amplitude, offset float64) error {
	if err := g.cmd(o, ":VOLT:AMPL %g", amplitude); err != nil {
		return err
	}
	return g.cmd(o, ":VOLT:OFFS %g", offset)
}

func (g *Generator) AmplitudeOffset(o Output) (amplitude, offset float64, err error) {
	if amplitude, err = g.float(o, ":VOLT:AMPL?"); err != nil {
		return 0, 0, err
	}
	offset, err = g.float(o, ":VOLT:OFFS?")
	return amplitude, offset, err
}

func (g *Generator) SetDutyCycle(o Output, pct float64) error { return g.cmd(o, ":PULS:DCYC %g", pct) }

func (g *Generator) DutyCycle(o Output) (float64, error) { return g.float(o, ":PULS:DCYC?") }

func (g *Generator) SetPulseWidth(o Output, s float64) error { return g.cmd(o, ":PULS:WIDT %g", s) }

func (g *Generator) PulseWidth(o Output) (float64, error) { return g.float(o, ":PULS:WIDT?") }

// SetBurst enables burst mode.
func (g *Generator) SetBurst(o Output, on bool) error {
	return g.cmd(o, ":BURS:STATE %s", onOff(on))
}

func (g *Generator) Burst(o Output) (bool, error) {
	tok, err := outputs.Token(o)
	if err != nil {
		return false, err
	}
	return scpi.Bool(g.h, ":"+tok+":BURS:STATE?")
}

func (g *Generator) SetBurstTrigger(o Output, src TrigSource) error {
	tok, err := trigSources.Token(src)
	if err != nil {
		return err
	}
	return g.cmd(o, ":BURS:TRIG:SOUR %s", tok)
}

func (g *Generator) BurstTrigger(o Output) (TrigSource, error) {
	tok, err := outputs.Token(o)
	if err != nil {
		return 0, err
	}
	return scpi.Enum(g.h, trigSources, ":"+tok+":BURS:TRIG:SOUR?")
}

// TriggerBurst fires a burst manually. The burst trigger source must be
// Manual.
func (g *Generator) TriggerBurst(o Output) error { return g.cmd(o, ":BURS:TRIG") }

// SetOutput enables the output connector.
func (g *Generator) SetOutput(o Output, on bool) error {
	if _, err := outputs.Token(o); err != nil {
		return err
	}
	return g.h.Command(":OUTP%d:STATE %s", int(o), onOff(on))
}

func (g *Generator) OutputEnabled(o Output) (bool, error) {
	if _, err := outputs.Token(o); err != nil {
		return false, err
	}
	return scpi.Boolf(g.h, ":OUTP%d:STATE?", int(o))
}

// Error pops the oldest entry of the error queue.
func (g *Generator) Error() (string, error) { return scpi.String(g.h, ":SYST:ERR?") }

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
