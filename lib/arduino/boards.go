package arduino

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/enum"
	"github.com/gotmc/labbench/lib/scpi"
	"github.com/rs/zerolog"
)

// Identity names and firmware versions of the bench controllers.
const (
	HTRBName    = "HTRB_test"
	HTRBVersion = "V1.1"

	CaracName    = "Carac_test"
	CaracVersion = "V1.31"

	CLDName    = "CLD_burning"
	CLDVersion = "V1.6"

	AlimName    = "Alim0_1500V"
	AlimVersion = "v2.0"
)

// board holds what every SCPI-like controller shares: the identity check
// against a registry entry and the two signal lights.
type board struct {
	h      labbench.Handle
	id     labbench.Identity
	logger zerolog.Logger
}

func newBoard(e labbench.Entry, name, version string, logger zerolog.Logger) (board, error) {
	if e.Identity.Name != name {
		return board{}, &labbench.IdentityMismatchError{Resource: e.Resource, Want: name, Got: e.Identity.Name}
	}
	logger = logger.With().Str("instrument", name).Str("resource", e.Resource).Logger()
	if e.Identity.Version != version {
		logger.Warn().
			Str("have", e.Identity.Version).
			Str("want", version).
			Msg("unexpected firmware version, flash the board")
	}
	return board{h: e.Handle, id: e.Identity, logger: logger}, nil
}

func (b board) Identity() labbench.Identity { return b.id }

// Orange switches the orange light.
func (b board) Orange(on bool) error { return b.h.Command(":LIGH:ORAN %d", scpi.OnOff(on)) }

// Red switches the red light.
func (b board) Red(on bool) error { return b.h.Command(":LIGH:RED %d", scpi.OnOff(on)) }

// sequence starts a firmware sequence and returns its estimated duration,
// which the board reports in milliseconds.
func (b board) sequence(format string, a ...any) (time.Duration, error) {
	ms, err := scpi.Intf(b.h, format, a...)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Slot is a device position on a relay board, such as "A3" or "B10".
type Slot string

func slots(name string, rows string, from, to int) *enum.Table[Slot] {
	m := map[Slot]string{}
	for _, r := range rows {
		for i := from; i <= to; i++ {
			s := fmt.Sprintf("%c%d", r, i)
			m[Slot(s)] = s
		}
	}
	return enum.Must(name, m)
}

var (
	htrbSlots  = slots("HTRB slot", "AB", 1, 12)
	caracSlots = slots("characterization slot", "AB", 0, 6)
)

// HTRB drives the high temperature reverse bias bench: 24 devices in rows
// A and B, numbered 1 to 12.
type HTRB struct{ board }

// NewHTRB wraps the handle of a registry entry identifying as HTRBName.
func NewHTRB(e labbench.Entry, logger zerolog.Logger) (*HTRB, error) {
	b, err := newBoard(e, HTRBName, HTRBVersion, logger)
	if err != nil {
		return nil, err
	}
	return &HTRB{b}, nil
}

// Enable runs the enable or disable sequence for the device in slot s.
func (h *HTRB) Enable(s Slot, on bool) (time.Duration, error) {
	tok, err := htrbSlots.Token(s)
	if err != nil {
		return 0, err
	}
	return h.sequence(":ENAB %s,%d", tok, scpi.OnOff(on))
}

// Measure runs the measure and stress sequence, or stress only when measure
// is false.
func (h *HTRB) Measure(s Slot, measure bool) (time.Duration, error) {
	tok, err := htrbSlots.Token(s)
	if err != nil {
		return 0, err
	}
	return h.sequence(":MES %s,%d", tok, scpi.OnOff(measure))
}

// Relay is one of the three relays per HTRB slot. Driving relays directly
// bypasses the sequences and is meant for debugging.
type Relay int

const (
	RelayOn Relay = iota
	RelayGnd
	RelayMes
)

var htrbRelays = enum.Must("HTRB relay", map[Relay]string{RelayOn: "ON", RelayGnd: "GND", RelayMes: "MES"})

func (h *HTRB) SetRelay(r Relay, s Slot, on bool) error {
	rt, err := htrbRelays.Token(r)
	if err != nil {
		return err
	}
	st, err := htrbSlots.Token(s)
	if err != nil {
		return err
	}
	return h.h.Command(":RELA:%s %s,%d", rt, st, scpi.OnOff(on))
}

// MuxChannel is the position of the characterization bench multiplexer.
type MuxChannel int

const (
	MuxNone MuxChannel = iota
	MuxMes
	MuxHT
	MuxSurge
)

var muxChannels = enum.Must("mux channel", map[MuxChannel]string{
	MuxNone: "0", MuxMes: "1", MuxHT: "2", MuxSurge: "3",
})

// Gain is the ADC programmable gain.
type Gain int

const (
	Gain1 Gain = 1
	Gain2 Gain = 2
	Gain4 Gain = 4
	Gain8 Gain = 8
)

var gains = enum.Must("ADC gain", map[Gain]string{Gain1: "1", Gain2: "2", Gain4: "4", Gain8: "8"})

// ADCReading is the voltage across a board's current sense resistor.
type ADCReading struct {
	Raw     int // signed 16 bit ADC code
	Voltage float64
	Invalid bool // the board answered -1,-1
}

// Carac drives the characterization bench: surge, HTRB and measurement
// relays for 14 boards in rows A and B, numbered 0 to 6.
type Carac struct{ board }

func NewCarac(e labbench.Entry, logger zerolog.Logger) (*Carac, error) {
	b, err := newBoard(e, CaracName, CaracVersion, logger)
	if err != nil {
		return nil, err
	}
	return &Carac{b}, nil
}

func (c *Carac) slotSequence(format string, s Slot, a ...any) (time.Duration, error) {
	tok, err := caracSlots.Token(s)
	if err != nil {
		return 0, err
	}
	return c.sequence(format, append([]any{tok}, a...)...)
}

// Surge runs the surge sequence on board s.
func (c *Carac) Surge(s Slot) (time.Duration, error) { return c.slotSequence(":SURG %s", s) }

// HTRB switches the reverse bias sequence on board s.
func (c *Carac) HTRB(s Slot, on bool) (time.Duration, error) {
	return c.slotSequence(":HTRB %s,%d", s, scpi.OnOff(on))
}

// Measure runs the measure sequence on board s.
func (c *Carac) Measure(s Slot) (time.Duration, error) { return c.slotSequence(":MES %s", s) }

// Read samples the current sense voltage of board s.
func (c *Carac) Read(s Slot) (ADCReading, error) {
	tok, err := caracSlots.Token(s)
	if err != nil {
		return ADCReading{}, err
	}
	q := ":READ " + tok
	r, err := c.h.Query(q)
	if err != nil {
		return ADCReading{}, err
	}
	v, err := scpi.ParseFloats(q, r)
	if err != nil {
		return ADCReading{}, err
	}
	if len(v) != 2 {
		return ADCReading{}, labbench.NewDecodeError(q, strings.TrimSpace(r), fmt.Errorf("want 2 values, got %d", len(v)))
	}
	return ADCReading{Raw: int(v[0]), Voltage: v[1], Invalid: v[0] == -1 && v[1] == -1}, nil
}

// SetGain sets the ADC gain and returns the gain the board applied.
func (c *Carac) SetGain(g Gain) (Gain, error) {
	tok, err := gains.Token(g)
	if err != nil {
		return 0, err
	}
	return scpi.Enum(c.h, gains, ":GAIN "+tok)
}

// Stop opens every relay.
func (c *Carac) Stop() (time.Duration, error) { return c.sequence(":STOP") }

// CaracRelay is one of the per board relays of the characterization bench.
type CaracRelay int

const (
	RelaySurge CaracRelay = iota
	RelayHT
	RelayMeasure
)

var caracRelays = enum.Must("characterization relay", map[CaracRelay]string{
	RelaySurge: "SURG", RelayHT: "HT", RelayMeasure: "MES",
})

// SetRelay drives one relay of board s directly.
func (c *Carac) SetRelay(r CaracRelay, s Slot, on bool) (time.Duration, error) {
	rt, err := caracRelays.Token(r)
	if err != nil {
		return 0, err
	}
	return c.slotSequence(":RELA:"+rt+" %s,%d", s, scpi.OnOff(on))
}

// SetMux moves the main multiplexer.
func (c *Carac) SetMux(ch MuxChannel) (time.Duration, error) {
	tok, err := muxChannels.Token(ch)
	if err != nil {
		return 0, err
	}
	return c.sequence(":RELA:MUX %s", tok)
}

// StopRelays opens every relay of the selected kinds on all boards.
func (c *Carac) StopRelays(surge, ht, mes bool) (time.Duration, error) {
	code := 4*scpi.OnOff(surge) + 2*scpi.OnOff(ht) + scpi.OnOff(mes)
	return c.sequence(":BRDS:STOP %d", code)
}

// CLD drives the CLD burn-in pulser.
type CLD struct{ board }

func NewCLD(e labbench.Entry, logger zerolog.Logger) (*CLD, error) {
	b, err := newBoard(e, CLDName, CLDVersion, logger)
	if err != nil {
		return nil, err
	}
	return &CLD{b}, nil
}

// Pulse fires one pulse of the given width and returns the board's
// acknowledgement once the pulse is done.
func (c *CLD) Pulse(width time.Duration) (string, error) {
	return scpi.Stringf(c.h, ":PULS %d", width.Microseconds())
}

// LongPulse starts a long pulse of the given width without waiting for it.
func (c *CLD) LongPulse(width time.Duration) error {
	return c.h.Command(":LPUL %d", width.Milliseconds())
}

// Alim drives the 0-1500 V high voltage supply controller.
type Alim struct{ board }

func NewAlim(e labbench.Entry, logger zerolog.Logger) (*Alim, error) {
	b, err := newBoard(e, AlimName, AlimVersion, logger)
	if err != nil {
		return nil, err
	}
	return &Alim{b}, nil
}

func (a *Alim) SetVoltage(v float64) error { return a.h.Command(":VOLT:OUT,%g", v) }

// Ramp lets the board raise the output to final in steps, each held for
// stepTime.
func (a *Alim) Ramp(final float64, steps int, stepTime time.Duration) error {
	if steps < 1 {
		return fmt.Errorf("ramp needs at least one step, got %d", steps)
	}
	return a.h.Command(":VOLT:RAMPE:AUTO,%g;%d/%d", final, steps, stepTime.Milliseconds())
}

// Step moves the output by one manual ramp step of dv volts.
func (a *Alim) Step(dv float64) error { return a.h.Command(":VOLT:RAMPE:MANU,%g", dv) }

func (a *Alim) SetOutputRelay(on bool) error { return a.h.Command(":RELA:OUT %d", scpi.OnOff(on)) }

func (a *Alim) SetInputRelay(on bool) error { return a.h.Command(":RELA:IN %d", scpi.OnOff(on)) }

// Voltage measures the output voltage in volts.
func (a *Alim) Voltage() (int, error) { return scpi.Int(a.h, ":MEAS:VOLT?") }
