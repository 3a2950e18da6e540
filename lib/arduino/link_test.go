package arduino

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gotmc/labbench"
	"github.com/matryer/is"
)

// port is an in-memory serial port. Lines sent by the board go through a
// pipe so the listener blocks on Read like it would on a real port.
type port struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newPort() *port {
	pr, pw := io.Pipe()
	return &port{pr: pr, pw: pw}
}

func (p *port) Read(b []byte) (int, error) { return p.pr.Read(b) }

func (p *port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *port) Close() error { return p.pr.Close() }

func (p *port) send(lines ...string) {
	for _, l := range lines {
		p.pw.Write([]byte(l + "\n"))
	}
}

func (p *port) sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func dialer(ports ...*port) Dialer {
	return func(string, int) (io.ReadWriteCloser, error) {
		if len(ports) == 0 {
			return nil, errors.New("no such port")
		}
		p := ports[0]
		ports = ports[1:]
		return p, nil
	}
}

func TestLinkRequests(t *testing.T) {
	is := is.New(t)
	p := newPort()
	go p.send("V1.2")

	interrupts := make(chan string, 1)
	l, err := Open("/dev/ttyACM0", 115200,
		WithDialer(dialer(p)),
		WithReadTimeout(time.Second),
		WithInterruptHandler(func(s string) { interrupts <- s }))
	is.NoErr(err)
	defer l.Close()
	is.Equal(l.Version(), "V1.2")

	go p.send("!overheat", "temp:25|hum:40")
	v, err := l.Get(context.Background(), "temp")
	is.NoErr(err)
	is.Equal(v["temp"], "25")
	is.Equal(<-interrupts, "!overheat")

	is.NoErr(l.Set("led", "1"))
	is.NoErr(l.Exec("reset"))
	is.Equal(p.sent(), "temp?\nled:1\nreset.\n")
}

func TestLinkQueueOverflow(t *testing.T) {
	is := is.New(t)
	p := newPort()
	go p.send("V1.2")

	interrupts := make(chan string, 1)
	l, err := Open("COM3", 9600,
		WithDialer(dialer(p)),
		WithQueueDepth(1),
		WithReadTimeout(20*time.Millisecond),
		WithInterruptHandler(func(s string) { interrupts <- s }))
	is.NoErr(err)
	defer l.Close()

	go p.send("first", "second", "!sync")
	<-interrupts

	s, err := l.ReadLine(context.Background())
	is.NoErr(err)
	is.Equal(s, "first")
	_, err = l.ReadLine(context.Background())
	is.True(errors.Is(err, ErrTimeout))
	is.True(errors.Is(err, labbench.ErrCommunication))
}

func TestLinkVersionTimeout(t *testing.T) {
	is := is.New(t)
	_, err := Open("COM3", 9600, WithDialer(dialer(newPort())), WithReadTimeout(10*time.Millisecond))
	is.True(errors.Is(err, ErrTimeout))

	_, err = Open("COM4", 9600, WithDialer(dialer()))
	is.True(errors.Is(err, labbench.ErrCommunication))
}

func TestLinkReopenAndClose(t *testing.T) {
	is := is.New(t)
	a, b := newPort(), newPort()
	go a.send("V1.0")
	l, err := Open("COM3", 9600, WithDialer(dialer(a, b)), WithReadTimeout(time.Second))
	is.NoErr(err)

	go b.send("V2.0")
	is.NoErr(l.Reopen("COM5", 115200))
	is.Equal(l.Port(), "COM5")
	is.Equal(l.Version(), "V2.0")

	// the old port is closed
	_, err = a.pw.Write([]byte("late\n"))
	is.True(err != nil)

	is.NoErr(l.Close())
	is.NoErr(l.Close())
	err = l.Set("led", "0")
	is.True(errors.Is(err, labbench.ErrClosed))
	_, err = l.GetAll(context.Background())
	is.True(errors.Is(err, labbench.ErrClosed))
}

func TestLinkCancel(t *testing.T) {
	is := is.New(t)
	p := newPort()
	go p.send("V1.0")
	l, err := Open("COM3", 9600, WithDialer(dialer(p)), WithReadTimeout(0))
	is.NoErr(err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.GetAll(ctx)
	is.True(errors.Is(err, context.Canceled))
}
