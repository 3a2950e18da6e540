package ds4024

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/scpi"
	"github.com/gotmc/labbench/lib/wave"
)

// State is the acquisition session state.
type State int

const (
	Idle State = iota
	Armed
	Waiting
	Ready
	TimedOut
	Decoded
)

var stateNames = [...]string{"idle", "armed", "waiting", "ready", "timed out", "decoded"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// State returns the state of the current acquisition session.
func (s *Scope) State() State { return s.state }

func (s *Scope) setState(st State) {
	if st == s.state {
		return
	}
	s.logger.Debug().Stringer("from", s.state).Stringer("to", st).Msg("acquisition state")
	s.state = st
}

// CurveOptions tune one GetCurve call.
type CurveOptions struct {
	// StallTimeout is the number of consecutive polls without progress of
	// the buffered depth after which the capture is read anyway. Zero means
	// the default of 5.
	StallTimeout int
	// CustomScale multiplies every decoded value. Zero means 1.
	CustomScale float64
}

func (o CurveOptions) withDefaults() CurveOptions {
	if o.StallTimeout <= 0 {
		o.StallTimeout = 5
	}
	if o.CustomScale == 0 {
		o.CustomScale = 1
	}
	return o
}

// Capture is the result of GetCurve.
type Capture struct {
	wave.Series
	Depth   int  // memory depth configured when the capture started
	Polls   int  // number of :WAV:STAT? queries
	Stalled bool // the stall timeout ended the wait
}

// Arm starts a single shot acquisition: :RUN then single sweep. The caller
// fires the physical event afterwards, usually after a short settle delay.
func (s *Scope) Arm() error {
	if err := s.SetRunning(true); err != nil {
		return err
	}
	if err := s.SetSweep(Single); err != nil {
		return err
	}
	s.setState(Armed)
	return nil
}

// WaitStopped polls the trigger status until the scope reports STOP. It gives
// up after timeout of wall clock time and returns dead=true; that is not an
// error, the caller decides whether to skip the unit or abort.
func (s *Scope) WaitStopped(ctx context.Context, timeout time.Duration) (dead bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		stopped, err := s.Stopped()
		if err != nil {
			return false, err
		}
		if stopped {
			return false, nil
		}
		if time.Now().After(deadline) {
			s.logger.Warn().Dur("timeout", timeout).Msg("scope did not stop")
			return true, nil
		}
		if err := sleep(ctx, s.stopPoll); err != nil {
			return false, err
		}
	}
}

// GetCurve reads the acquisition memory of ch and decodes it. It leaves the
// scope stopped.
//
// The wait for the scope to buffer the record ends when :WAV:STAT? reports
// IDLE or when the buffered depth stayed unchanged for more than
// opts.StallTimeout consecutive polls. A stall is not an error; it is
// reported in Capture.Stalled and whatever the scope holds is read.
//
// A communication fault while fetching the data yields an empty capture and
// a nil error. Every other failure is returned.
func (s *Scope) GetCurve(ctx context.Context, ch Channel, opts CurveOptions) (Capture, error) {
	tok, err := channels.Token(ch)
	if err != nil {
		return Capture{}, err
	}
	opts = opts.withDefaults()
	defer func() {
		if s.state != Decoded {
			s.setState(Idle)
		}
	}()

	// mode dependent :WAV settings are ignored unless the scope is stopped
	if err := s.h.Command(":STOP"); err != nil {
		return Capture{}, err
	}
	depth, err := s.MemoryDepth()
	if err != nil {
		return Capture{}, err
	}
	setup := []string{
		":WAV:SOUR " + tok,
		":WAV:MODE RAW",
		":WAV:FORM BYTE",
		":WAV:POIN " + strconv.Itoa(depth),
		":WAV:RES",
		":WAV:BEG",
	}
	for _, cmd := range setup {
		if err := s.h.Command(cmd); err != nil {
			return Capture{}, err
		}
	}

	s.setState(Waiting)
	polls, stalled, err := s.waitBuffered(ctx, opts.StallTimeout)
	if err != nil {
		return Capture{}, err
	}
	if stalled {
		s.setState(TimedOut)
		s.logger.Warn().Stringer("channel", ch).Int("polls", polls).Msg("waveform read stalled")
	} else {
		s.setState(Ready)
	}
	c := Capture{Depth: depth, Polls: polls, Stalled: stalled}

	raw, err := s.h.QueryBlock(":WAV:DATA?")
	if err != nil {
		if !errors.Is(err, labbench.ErrCommunication) {
			return Capture{}, err
		}
		s.logger.Error().Err(err).Stringer("channel", ch).Msg("waveform fetch failed")
		s.obs.FetchFault(ch, err)
		return c, nil
	}
	if err := s.h.Command(":WAV:END"); err != nil {
		return Capture{}, err
	}

	cal, err := s.calibration(ch, opts.CustomScale)
	if err != nil {
		return Capture{}, err
	}
	tb, err := s.timebase()
	if err != nil {
		return Capture{}, err
	}
	c.Series = wave.Decode(raw, cal, tb)
	s.setState(Decoded)
	s.obs.CaptureDone(ch, polls, stalled, len(raw))
	s.logger.Debug().Stringer("channel", ch).Int("samples", len(raw)).Int("polls", polls).Msg("waveform decoded")
	return c, nil
}

// waitBuffered polls :WAV:STAT? until the record is buffered. tries counts
// consecutive polls reporting the same depth as the previous one; the
// first poll has no predecessor.
func (s *Scope) waitBuffered(ctx context.Context, stallTimeout int) (polls int, stalled bool, err error) {
	ready, depth, err := s.readStatus()
	if err != nil {
		return 0, false, err
	}
	polls = 1
	tries, last := 0, -1
	for !ready {
		if err := sleep(ctx, s.poll); err != nil {
			return polls, false, err
		}
		ready, depth, err = s.readStatus()
		if err != nil {
			return polls, false, err
		}
		polls++
		if depth == last {
			tries++
		} else {
			tries = 0
		}
		if tries > stallTimeout {
			stalled = !ready
			ready = true
		}
		last = depth
	}
	return polls, stalled, nil
}

// readStatus parses "IDLE,14000" style replies.
func (s *Scope) readStatus() (ready bool, depth int, err error) {
	const q = ":WAV:STAT?"
	r, err := s.h.Query(q)
	if err != nil {
		return false, 0, err
	}
	state, n, ok := strings.Cut(strings.TrimSpace(r), ",")
	if !ok {
		return false, 0, labbench.NewDecodeError(q, r, errors.New("want state,depth"))
	}
	depth, err = strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return false, 0, labbench.NewDecodeError(q, r, err)
	}
	return strings.EqualFold(strings.TrimSpace(state), "IDLE"), depth, nil
}

func (s *Scope) calibration(ch Channel, custom float64) (wave.Calibration, error) {
	cal := wave.Calibration{CustomScale: custom}
	var err error
	if cal.YIncrement, err = scpi.Float(s.h, ":WAV:YINC?"); err != nil {
		return cal, err
	}
	if cal.YReference, err = scpi.Float(s.h, ":WAV:YREF?"); err != nil {
		return cal, err
	}
	if cal.YOrigin, err = scpi.Float(s.h, ":WAV:YOR?"); err != nil {
		return cal, err
	}
	if cal.Inverted, err = s.Inverted(ch); err != nil {
		return cal, err
	}
	return cal, nil
}

func (s *Scope) timebase() (wave.Timebase, error) {
	var (
		tb  wave.Timebase
		err error
	)
	if tb.XIncrement, err = scpi.Float(s.h, ":WAV:XINC?"); err != nil {
		return tb, err
	}
	if tb.Offset, err = s.TimeOffset(); err != nil {
		return tb, err
	}
	return tb, nil
}

// CurveRequest names one channel of a multi-channel capture.
type CurveRequest struct {
	Channel Channel
	Options CurveOptions
}

// GetCurves captures each requested channel in turn and truncates every
// series to the shortest one, so that index i pairs samples of the same
// instant. The time axis is the first channel's. If any capture comes back
// empty all values are empty.
func (s *Scope) GetCurves(ctx context.Context, reqs ...CurveRequest) (t []float64, values [][]float64, err error) {
	if len(reqs) == 0 {
		return nil, nil, nil
	}
	series := make([][]float64, 0, len(reqs)+1)
	for i, r := range reqs {
		c, err := s.GetCurve(ctx, r.Channel, r.Options)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			series = append(series, c.Time)
		}
		series = append(series, c.Value)
	}
	aligned := wave.Truncate(series...)
	return aligned[0], aligned[1:], nil
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
