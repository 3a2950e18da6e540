package dg4062

import (
	"testing"

	"github.com/gotmc/labbench/lib/simdev"
	"github.com/matryer/is"
)

func newGen(t *testing.T) (*Generator, *simdev.Device) {
	t.Helper()
	dev := simdev.NewIdentified("TCPIP0::192.168.0.11::inst0::INSTR", "Rigol Technologies", Name, "DG4E153100321", "00.01.12")
	g, err := New(dev)
	if err != nil {
		t.Fatal(err)
	}
	return g, dev
}

func TestBurstPulse(t *testing.T) {
	is := is.New(t)
	g, dev := newGen(t)

	is.NoErr(g.SetShape(Out1, Pulse))
	is.NoErr(g.SetPulseWidth(Out1, 1e-5))
	is.NoErr(g.SetHighLow(Out1, 5, 0))
	is.NoErr(g.SetBurst(Out1, true))
	is.NoErr(g.SetBurstTrigger(Out1, Manual))
	is.NoErr(g.SetOutput(Out1, true))
	is.NoErr(g.TriggerBurst(Out1))

	is.Equal(dev.Commands(), []string{
		":SOUR1:FUNC:SHAP PULS",
		":SOUR1:PULS:WIDT 1e-05",
		":SOUR1:VOLT:HIGH 5",
		":SOUR1:VOLT:LOW 0",
		":SOUR1:BURS:STATE ON",
		":SOUR1:BURS:TRIG:SOUR MAN",
		":OUTP1:STATE ON",
		":SOUR1:BURS:TRIG",
	})

	is.True(g.SetHighLow(Out1, 0, 5) != nil)
	is.True(g.SetShape(Output(3), Sine) != nil)
}

func TestShapeParsing(t *testing.T) {
	is := is.New(t)
	g, dev := newGen(t)
	dev.On(":SOUR2:FUNC:SHAP?", "NEGRAMP", "RAMP", "SQUARE")

	for _, want := range []Shape{NegRamp, Ramp, Square} {
		s, err := g.Shape(Out2)
		is.NoErr(err)
		is.Equal(s, want)
	}
}

func TestOutputState(t *testing.T) {
	is := is.New(t)
	g, dev := newGen(t)
	dev.On(":OUTP2:STATE?", "ON").On(":SYST:ERR?", `0,"No error"`)

	on, err := g.OutputEnabled(Out2)
	is.NoErr(err)
	is.True(on)

	e, err := g.Error()
	is.NoErr(err)
	is.Equal(e, `0,"No error"`)
}
