package cmdlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gotmc/labbench/lib/simdev"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestIsAscii(t *testing.T) {
	is := is.New(t)
	is.True(isAscii("+1.000E+00\r\n"))
	is.True(!isAscii("\x01\x02"))
	is.True(!isAscii("\xff"))
}

func TestRender(t *testing.T) {
	is := is.New(t)
	is.True(strings.Contains(Render(""), "<no response>"))
	is.True(strings.Contains(Render("OK\n"), `[2] "OK"`))
	is.True(strings.Contains(Render("\x01A"), "01 41"))
}

func TestHandle(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	d := simdev.New("GPIB0::24::INSTR")
	d.On(":SOUR:VOLT?", "+1.0E+00")
	h := Wrap(d, logger)

	v, err := h.Query(":SOUR:VOLT?")
	is.NoErr(err)
	is.Equal(v, "+1.0E+00")
	is.NoErr(h.Command(":OUTP %d", 1))
	is.Equal(d.Traffic(), []string{":SOUR:VOLT?", ":OUTP 1"})

	out := buf.String()
	is.True(strings.Contains(out, `"resource":"GPIB0::24::INSTR"`))
	is.True(strings.Contains(out, ":OUTP 1"))
	is.True(strings.Contains(out, `"level":"debug"`))
}

func TestManager(t *testing.T) {
	is := is.New(t)
	m := simdev.NewManager()
	m.Plug(simdev.NewIdentified("ASRL/dev/ttyACM0::INSTR", "Arduino", "HTRB_test", "0", "V1.1"))

	wm := WrapManager(m, zerolog.Nop())
	h, err := wm.OpenResource("ASRL/dev/ttyACM0::INSTR")
	is.NoErr(err)
	_, ok := h.(*Handle)
	is.True(ok)

	_, err = wm.OpenResource("ASRL/dev/ttyACM9::INSTR")
	is.True(err != nil)
}
