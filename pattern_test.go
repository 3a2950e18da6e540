package labbench

import (
	"testing"

	"github.com/matryer/is"
)

func TestPattern(t *testing.T) {
	is := is.New(t)
	cases := []struct {
		expr     string
		resource string
		match    bool
	}{
		{DefaultFilter, "ASRL3::INSTR", true},
		{DefaultFilter, "TCPIP0::10.0.0.2::5025::SOCKET", false},
		{"ASRL?*::INSTR", "ASRL/dev/ttyACM0::INSTR", true},
		{"ASRL?*::INSTR", "GPIB0::24::INSTR", false},
		{"asrl?*", "ASRL14::INSTR", true},
		{"GPIB0::[0-9]+::INSTR", "GPIB0::24::INSTR", true},
		{"GPIB0::[0-9]+::INSTR", "GPIB0::24::2::INSTR", false},
		{"GPIB0::[^2]?::INSTR", "GPIB0::14::INSTR", true},
		{"(ASRL|GPIB)?*::INSTR", "GPIB1::3::INSTR", true},
		{"(ASRL|GPIB)?*::INSTR", "USB0::0x1AB1::0x0641::DG4E1::INSTR", false},
		{"TCPIP0::192.168.0.10::?*", "TCPIP0::192.168.0.10::inst0::INSTR", true},
		{"TCPIP0::192.168.0.10::?*", "TCPIP0::192x168.0.10::inst0::INSTR", false},
		{"ASRL13::INSTR", "ASRL13::INSTR", true},
		{"ASRL1::INSTR", "ASRL13::INSTR", false},
	}
	for _, c := range cases {
		p, err := CompilePattern(c.expr)
		is.NoErr(err)
		if p.Match(c.resource) != c.match {
			t.Errorf("%q matching %q: want %v", c.expr, c.resource, c.match)
		}
	}
}

func TestPatternErrors(t *testing.T) {
	is := is.New(t)
	_, err := CompilePattern("GPIB0::[0-9::INSTR")
	is.True(err != nil)
	_, err = CompilePattern("(ASRL::INSTR")
	is.True(err != nil)
}

func TestFilter(t *testing.T) {
	is := is.New(t)
	p := MustCompilePattern("ASRL?*")
	is.Equal(p.Filter([]string{"ASRL3::INSTR", "GPIB0::1::INSTR", "ASRL1::INSTR"}), []string{"ASRL3::INSTR", "ASRL1::INSTR"})
	is.Equal(p.String(), "ASRL?*")
}
