package arduino

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/labbench"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

// ErrTimeout is wrapped in the CommunicationError returned when no response
// line arrives in time.
var ErrTimeout = errors.New("no response line")

// Dialer opens the byte stream behind a Link.
type Dialer func(port string, baud int) (io.ReadWriteCloser, error)

// SerialDialer opens a serial port with 8N1 framing.
func SerialDialer(port string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Link is a serial connection to a board speaking the framed sub-protocol.
// A listener goroutine owns the read side of the port: interrupt lines go to
// the interrupt handler, every other line is queued for the next request.
type Link struct {
	dial        Dialer
	logger      zerolog.Logger
	onInterrupt func(string)
	timeout     time.Duration
	depth       int

	req sync.Mutex // one request/response exchange at a time

	mu      sync.Mutex
	port    string
	baud    int
	rw      io.ReadWriteCloser
	version string
	lines   chan string
	done    chan struct{}
	readErr error
	wg      sync.WaitGroup
}

type LinkOption func(*Link)

// WithDialer replaces the serial port opener.
func WithDialer(d Dialer) LinkOption { return func(l *Link) { l.dial = d } }

func WithLogger(lg zerolog.Logger) LinkOption { return func(l *Link) { l.logger = lg } }

// WithInterruptHandler sets the function receiving interrupt lines, marker
// included. It runs on the listener goroutine and must not block.
func WithInterruptHandler(f func(line string)) LinkOption {
	return func(l *Link) { l.onInterrupt = f }
}

// WithReadTimeout bounds the wait for the version banner and for each
// response line. Zero waits forever.
func WithReadTimeout(d time.Duration) LinkOption { return func(l *Link) { l.timeout = d } }

// WithQueueDepth sets how many response lines are buffered before new ones
// are dropped.
func WithQueueDepth(n int) LinkOption { return func(l *Link) { l.depth = n } }

// Open dials port and waits for the firmware's version banner.
func Open(port string, baud int, opts ...LinkOption) (*Link, error) {
	l := &Link{
		dial:    SerialDialer,
		logger:  zerolog.Nop(),
		timeout: 5 * time.Second,
		depth:   64,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.depth < 1 {
		l.depth = 1
	}
	if err := l.open(port, baud); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) commErr(op string, err error) error {
	return &labbench.CommunicationError{Resource: l.Port(), Op: op, Err: err}
}

func (l *Link) open(port string, baud int) error {
	rw, err := l.dial(port, baud)
	if err != nil {
		return &labbench.CommunicationError{Resource: port, Op: "open", Err: err}
	}
	lines := make(chan string, l.depth)
	done := make(chan struct{})
	banner := make(chan string, 1)

	l.mu.Lock()
	l.port, l.baud, l.rw = port, baud, rw
	l.lines, l.done, l.readErr, l.version = lines, done, nil, ""
	l.mu.Unlock()

	l.wg.Add(1)
	go l.listen(bufio.NewReader(rw), lines, banner, done)

	var timeout <-chan time.Time
	if l.timeout > 0 {
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case v, ok := <-banner:
		if !ok {
			l.mu.Lock()
			err := l.readErr
			l.mu.Unlock()
			return multierr.Append(l.commErr("version", err), l.stop())
		}
		l.mu.Lock()
		l.version = v
		l.mu.Unlock()
		l.logger.Debug().Str("port", port).Str("version", v).Msg("arduino link open")
		return nil
	case <-timeout:
		return multierr.Append(l.commErr("version", ErrTimeout), l.stop())
	}
}

func (l *Link) listen(r *bufio.Reader, lines chan<- string, banner chan<- string, done <-chan struct{}) {
	defer l.wg.Done()
	defer close(lines)
	first := true
	defer func() {
		if first {
			close(banner)
		}
	}()
	for {
		s, err := r.ReadString(Terminator)
		if err != nil {
			select {
			case <-done:
			default:
				l.logger.Warn().Err(err).Str("port", l.Port()).Msg("arduino link read failed")
			}
			l.mu.Lock()
			l.readErr = err
			l.mu.Unlock()
			return
		}
		s = strings.TrimRight(s, "\r\n")
		switch {
		case first:
			first = false
			banner <- s
		case IsInterrupt(s):
			if l.onInterrupt != nil {
				l.onInterrupt(s)
			}
		default:
			select {
			case lines <- s:
			default:
				l.logger.Warn().Str("line", s).Msg("arduino response queue full, line dropped")
			}
		}
	}
}

// stop signals the listener, closes the port and waits for the listener to
// exit.
func (l *Link) stop() error {
	l.mu.Lock()
	rw, done := l.rw, l.done
	l.rw, l.done = nil, nil
	l.mu.Unlock()
	if rw == nil {
		return nil
	}
	close(done)
	err := rw.Close()
	l.wg.Wait()
	return err
}

// Port returns the port name the link is open on.
func (l *Link) Port() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Version returns the banner line the firmware printed on reset.
func (l *Link) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Reopen closes the port and opens port at baud in its place. Queued lines
// are discarded.
func (l *Link) Reopen(port string, baud int) error {
	l.req.Lock()
	defer l.req.Unlock()
	return multierr.Append(l.stop(), l.open(port, baud))
}

// Close stops the listener and closes the port. Closing twice is a no-op.
func (l *Link) Close() error {
	err := l.stop()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil && !isClosedErr(l.readErr) {
		err = multierr.Append(err, l.readErr)
	}
	l.readErr = nil
	return err
}

func isClosedErr(err error) bool {
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}

func (l *Link) write(p []byte) error {
	l.mu.Lock()
	rw := l.rw
	l.mu.Unlock()
	if rw == nil {
		return l.commErr("write", labbench.ErrClosed)
	}
	if _, err := rw.Write(p); err != nil {
		return l.commErr("write", err)
	}
	return nil
}

// ReadLine returns the next queued response line.
func (l *Link) ReadLine(ctx context.Context) (string, error) {
	l.mu.Lock()
	lines := l.lines
	l.mu.Unlock()
	if lines == nil {
		return "", l.commErr("read", labbench.ErrClosed)
	}
	var timeout <-chan time.Time
	if l.timeout > 0 {
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case s, ok := <-lines:
		if !ok {
			l.mu.Lock()
			err := l.readErr
			l.mu.Unlock()
			if err == nil {
				err = labbench.ErrClosed
			}
			return "", l.commErr("read", err)
		}
		return s, nil
	case <-timeout:
		return "", l.commErr("read", ErrTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *Link) request(ctx context.Context, frame []byte) (map[string]string, error) {
	l.req.Lock()
	defer l.req.Unlock()
	if err := l.write(frame); err != nil {
		return nil, err
	}
	s, err := l.ReadLine(ctx)
	if err != nil {
		return nil, err
	}
	return ParseValues(s)
}

// Get asks for one named value. The board may answer with more pairs.
func (l *Link) Get(ctx context.Context, name string) (map[string]string, error) {
	return l.request(ctx, EncodeGet(name))
}

// GetAll asks for every value the board exposes.
func (l *Link) GetAll(ctx context.Context) (map[string]string, error) {
	return l.request(ctx, EncodeGetAll())
}

// Set assigns a named value. The board does not answer.
func (l *Link) Set(name, value string) error {
	l.req.Lock()
	defer l.req.Unlock()
	return l.write(EncodeSet(name, value))
}

// Exec runs a bare command. The board does not answer.
func (l *Link) Exec(cmd string) error {
	l.req.Lock()
	defer l.req.Unlock()
	return l.write(EncodeExec(cmd))
}
