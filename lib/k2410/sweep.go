package k2410

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
)

// SourceKind selects what a sweep sources. The other quantity is measured
// and limited by the compliance.
type SourceKind int

const (
	VoltageSource SourceKind = iota + 1
	CurrentSource
)

func (k SourceKind) String() string {
	switch k {
	case VoltageSource:
		return "voltage"
	case CurrentSource:
		return "current"
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// measureKey is the front panel function selected before sweeping.
func (k SourceKind) measureKey() Key {
	if k == CurrentSource {
		return KeyVMeas
	}
	return KeyIMeas
}

// offAxis returns the measured quantity of r.
func (k SourceKind) offAxis(r Reading) float64 {
	if k == CurrentSource {
		return r.Voltage
	}
	return r.Current
}

// SourceWizard dispatches to the voltage or current source wizard.
func (s *SMU) SourceWizard(k SourceKind, level, compliance float64) error {
	switch k {
	case VoltageSource:
		return s.VoltageSourceWizard(level, compliance)
	case CurrentSource:
		return s.CurrentSourceWizard(level, compliance)
	}
	return fmt.Errorf("invalid source kind %d", int(k))
}

// ErrZeroStep is returned by Ramp for a null step.
var ErrZeroStep = errors.New("ramp step is zero")

// Ramp returns the set-points from start to stop. The sign of step is
// corrected to head toward stop, and stop is always the last point even
// when it is not a whole number of steps away.
func Ramp(start, stop, step float64) ([]float64, error) {
	if step == 0 {
		return nil, ErrZeroStep
	}
	if start < stop {
		step = math.Abs(step)
	} else {
		step = -math.Abs(step)
	}
	n := int(math.RoundToEven((stop-start)/step + 0.5))
	pts := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		pts = append(pts, float64(i)*step+start)
	}
	if len(pts) == 0 || pts[len(pts)-1] != stop {
		pts = append(pts, stop)
	}
	return pts, nil
}

// Autoscale returns the tighter compliance to retry with when the measured
// off-axis value is below 1% of compliance.
func Autoscale(measured, compliance float64) (float64, bool) {
	v := math.Abs(measured) * 100
	if v < compliance {
		return max(v, 1e-6), true
	}
	return 0, false
}

// Sweep describes a list of set-points to source and measure.
type Sweep struct {
	Source     SourceKind
	Compliance float64

	// Points, when not empty, replaces the Start/Stop/Step ramp.
	Points            []float64
	Start, Stop, Step float64

	// Settle is the delay between a set-point and its reading.
	Settle time.Duration

	// Autoscale retries a reading once with a tighter compliance when the
	// measured value is far below the configured one.
	Autoscale bool
}

// DefaultSettle is the settle delay used by the bench scripts.
const DefaultSettle = 50 * time.Millisecond

// Observer is told about each sweep point.
type Observer interface {
	PointMeasured(k SourceKind, retried bool)
}

type nopObserver struct{}

func (nopObserver) PointMeasured(SourceKind, bool) {}

// Sweep sources every set-point of sw and takes one reading per point. The
// output is switched off before starting, and switched off and sourced back
// to zero when the sweep ends, fails or ctx is cancelled. ctx is checked at
// every set-point.
func (s *SMU) Sweep(ctx context.Context, sw Sweep) (out []Reading, err error) {
	if sw.Source != VoltageSource && sw.Source != CurrentSource {
		return nil, fmt.Errorf("invalid source kind %d", int(sw.Source))
	}
	pts := sw.Points
	if len(pts) == 0 {
		if pts, err = Ramp(sw.Start, sw.Stop, sw.Step); err != nil {
			return nil, err
		}
	}
	log := s.logger.With().Stringer("source", sw.Source).Float64("compliance", sw.Compliance).Logger()

	if err := s.Press(sw.Source.measureKey()); err != nil {
		return nil, err
	}
	if err := s.SetOutput(false); err != nil {
		return nil, err
	}
	defer func() {
		cerr := s.SetOutput(false)
		cerr = multierr.Append(cerr, s.SourceWizard(sw.Source, 0, sw.Compliance))
		if cerr != nil {
			log.Error().Err(cerr).Msg("cannot park the output")
		}
		err = multierr.Append(err, cerr)
	}()

	if err := s.SourceWizard(sw.Source, 0, sw.Compliance); err != nil {
		return nil, err
	}
	if err := s.SourceWizard(sw.Source, pts[0], sw.Compliance); err != nil {
		return nil, err
	}
	if err := s.SetOutput(true); err != nil {
		return nil, err
	}

	out = make([]Reading, 0, len(pts))
	for _, p := range pts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, retried, err := s.measure(ctx, sw, p)
		if err != nil {
			return out, err
		}
		s.obs.PointMeasured(sw.Source, retried)
		log.Debug().Float64("setpoint", p).Float64("voltage", r.Voltage).Float64("current", r.Current).Bool("retried", retried).Msg("sweep point")
		out = append(out, r)
	}
	return out, nil
}

// measure takes the reading of one set-point, with at most one autoscale
// retry.
func (s *SMU) measure(ctx context.Context, sw Sweep, p float64) (Reading, bool, error) {
	comp := sw.Compliance
	for attempt := 0; ; attempt++ {
		if err := s.SourceWizard(sw.Source, p, comp); err != nil {
			return Reading{}, attempt > 0, err
		}
		if err := sleep(ctx, sw.Settle); err != nil {
			return Reading{}, attempt > 0, err
		}
		rs, err := s.Read()
		if err != nil {
			return Reading{}, attempt > 0, err
		}
		r := rs[0]
		if !sw.Autoscale || attempt > 0 {
			return r, attempt > 0, nil
		}
		tighter, ok := Autoscale(sw.Source.offAxis(r), sw.Compliance)
		if !ok {
			return r, false, nil
		}
		comp = tighter
	}
}
