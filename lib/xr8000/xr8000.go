// Package xr8000 drives a Magna-Power XR8000 programmable DC supply.
package xr8000

import (
	"context"
	"fmt"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/scpi"
	"github.com/rs/zerolog"
)

// Name is the model field of the *IDN? reply.
const Name = "XR8000-0.25"

// Headroom is the factor between a set point and its protection limit.
const Headroom = 1.1

// Supply is an XR8000 bound to one handle.
type Supply struct {
	h      labbench.Handle
	id     labbench.Identity
	logger zerolog.Logger
	sleep  func(context.Context, time.Duration) error
}

type Option func(*Supply)

func WithLogger(l zerolog.Logger) Option { return func(s *Supply) { s.logger = l } }

// WithSleep replaces the wait used between ramp steps.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(s *Supply) { s.sleep = f }
}

// New checks that h is an XR8000.
func New(h labbench.Handle, opts ...Option) (*Supply, error) {
	id, err := labbench.CheckIdentity(h, Name)
	if err != nil {
		return nil, err
	}
	s := &Supply{h: h, id: id, logger: zerolog.Nop(), sleep: sleep}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("instrument", Name).Str("resource", h.Resource()).Logger()
	return s, nil
}

func (s *Supply) Identity() labbench.Identity { return s.id }

// SetOutput starts or stops the output.
func (s *Supply) SetOutput(on bool) error {
	if on {
		return s.h.Command("OUTP:START")
	}
	return s.h.Command("OUTP:STOP")
}

func (s *Supply) Output() (bool, error) { return scpi.Bool(s.h, "OUTP?") }

func (s *Supply) SetVoltage(v float64) error { return s.h.Command("VOLT %g", v) }

// Voltage measures the output voltage.
func (s *Supply) Voltage() (float64, error) { return scpi.Float(s.h, "MEAS:VOLT?") }

func (s *Supply) SetCurrent(a float64) error { return s.h.Command("CURR %g", a) }

// Current measures the output current.
func (s *Supply) Current() (float64, error) { return scpi.Float(s.h, "MEAS:CURR?") }

func (s *Supply) SetVoltageProtection(v float64) error { return s.h.Command("VOLT:PROT %g", v) }

func (s *Supply) VoltageProtection() (float64, error) { return scpi.Float(s.h, "VOLT:PROT?") }

func (s *Supply) SetCurrentProtection(a float64) error { return s.h.Command("CURR:PROT %g", a) }

func (s *Supply) CurrentProtection() (float64, error) { return scpi.Float(s.h, "CURR:PROT?") }

// LockFrontPanel disables the front panel controls.
func (s *Supply) LockFrontPanel(lock bool) error {
	return s.h.Command("CONT:INT %d", scpi.OnOff(!lock))
}

func (s *Supply) FrontPanelLocked() (bool, error) {
	internal, err := scpi.Bool(s.h, "CONT:INT?")
	return !internal, err
}

// VoltageSourceWizard sets a constant voltage with a current compliance and
// puts both protection limits 10% above them.
func (s *Supply) VoltageSourceWizard(volt, compliance float64) error {
	if err := s.SetVoltage(volt); err != nil {
		return err
	}
	if err := s.SetCurrent(compliance); err != nil {
		return err
	}
	if err := s.SetVoltageProtection(volt * Headroom); err != nil {
		return err
	}
	return s.SetCurrentProtection(compliance * Headroom)
}

// RampSettle is the wait between enabling the output at 0 V and the first
// ramp step.
const RampSettle = time.Second

// Ramp enables the output at 0 V and raises the voltage to final in steps of
// stepTime spread over duration, to avoid the overshoot of a direct set.
// The output stays on when ctx is cancelled mid ramp.
func (s *Supply) Ramp(ctx context.Context, final float64, duration, stepTime time.Duration) error {
	if stepTime <= 0 || duration < stepTime {
		return fmt.Errorf("ramp step %v must be positive and not longer than the ramp %v", stepTime, duration)
	}
	if final <= 0 {
		return fmt.Errorf("ramp target %g V must be positive", final)
	}
	step := final / (float64(duration) / float64(stepTime))

	if err := s.SetVoltage(0); err != nil {
		return err
	}
	if err := s.SetOutput(true); err != nil {
		return err
	}
	if err := s.sleep(ctx, RampSettle); err != nil {
		return err
	}
	for v := step; v < final; v += step {
		if err := s.SetVoltage(v); err != nil {
			return err
		}
		s.logger.Debug().Float64("volt", v).Msg("ramp step")
		if err := s.sleep(ctx, stepTime); err != nil {
			return err
		}
	}
	return s.SetVoltage(final)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
