package prologix

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gotmc/labbench"
	"github.com/matryer/is"
)

type bus struct {
	in     *strings.Reader
	out    bytes.Buffer
	closed bool
}

func (b *bus) Read(p []byte) (int, error)  { return b.in.Read(p) }
func (b *bus) Write(p []byte) (int, error) { return b.out.Write(p) }
func (b *bus) Close() error                { b.closed = true; return nil }

// lines returns what was written since the last call, split on LF.
func (b *bus) lines() []string {
	s := strings.TrimSuffix(b.out.String(), "\n")
	b.out.Reset()
	return strings.Split(s, "\n")
}

func TestNewAdapter(t *testing.T) {
	is := is.New(t)
	b := &bus{in: strings.NewReader("")}
	_, err := NewAdapter("/dev/ttyUSB0", b)
	is.NoErr(err)
	is.Equal(b.lines(), []string{
		"++verbose 0",
		"++savecfg 0",
		"++mode 1",
		"++auto 0",
		"++eoi 1",
		"++eos 0",
		"++read_tmo_ms 500",
		"++eot_char 10",
		"++eot_enable 1",
		"++savecfg 1",
	})

	b = &bus{in: strings.NewReader("")}
	_, err = NewAdapter("/dev/ttyACM0", b, WithAR488(), WithGPIBTermination(AppendLF))
	is.NoErr(err)
	lines := b.lines()
	is.Equal(lines[0], "++mode 1")
	is.Equal(lines[3], "++eos 2")
	is.Equal(len(lines), 7)
}

func TestDevicesShareAdapter(t *testing.T) {
	is := is.New(t)
	b := &bus{in: strings.NewReader("KEITHLEY INSTRUMENTS INC.,MODEL 2410,4096612,C33\r\n+1.5E+00\n")}
	a, err := NewAdapter("/dev/ttyUSB0", b)
	is.NoErr(err)
	b.lines()

	smu, err := a.Open("GPIB0::24::INSTR", 24, -1, false)
	is.NoErr(err)
	pico, err := a.Open("GPIB0::14::96::INSTR", 14, 96, true)
	is.NoErr(err)
	is.Equal(b.lines(), []string{"++addr 14 96", "++clr"})

	id, err := labbench.Identify(smu)
	is.NoErr(err)
	is.Equal(id.Name, "MODEL 2410")
	v, err := smu.Query(":SOUR:VOLT?")
	is.NoErr(err)
	is.Equal(v, "+1.5E+00")
	is.NoErr(pico.Command(":SYST:ZCH %d", 0))
	is.NoErr(smu.Close())

	is.Equal(b.lines(), []string{
		"++addr 24",
		"*IDN?",
		"++read eoi",
		":SOUR:VOLT?",
		"++read eoi",
		"++addr 14 96",
		":SYST:ZCH 0",
		"++addr 24",
		"++loc",
	})

	err = smu.Command("*RST")
	is.True(errors.Is(err, labbench.ErrClosed))

	is.NoErr(a.Close())
	is.True(b.closed)
	err = pico.Command("*RST")
	is.True(errors.Is(err, labbench.ErrCommunication))
	is.NoErr(pico.Close())
}

func TestQueryBlock(t *testing.T) {
	is := is.New(t)
	b := &bus{in: strings.NewReader("#14\x01\x02\n\x04\n")}
	a, err := NewAdapter("/dev/ttyUSB0", b, WithAR488())
	is.NoErr(err)
	d, err := a.Open("GPIB0::7::INSTR", 7, -1, false)
	is.NoErr(err)

	data, err := d.QueryBlock(":WAV:DATA?")
	is.NoErr(err)
	is.Equal(data, []byte{1, 2, '\n', 4})
}

func TestAddressValidation(t *testing.T) {
	is := is.New(t)
	a, err := NewAdapter("/dev/ttyUSB0", &bus{in: strings.NewReader("")})
	is.NoErr(err)
	_, err = a.Open("GPIB0::31::INSTR", 31, -1, false)
	is.True(err != nil)
	_, err = a.Open("GPIB0::1::5::INSTR", 1, 5, false)
	is.True(err != nil)
}

func TestEscape(t *testing.T) {
	is := is.New(t)
	is.Equal(Escape([]byte("a+\r\n\x1bz")), []byte("a\x1b+\x1b\r\x1b\n\x1b\x1bz"))
	is.Equal(AppendLF.String(), `Append LF (\n) to instrument commands`)
}
