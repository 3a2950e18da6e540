// Package simdev provides scripted stand-ins for instruments and resource
// managers. Drivers are tested against a Device that answers queries from a
// table and records every command it receives.
package simdev

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gotmc/labbench"
)

// ErrNoReply is returned, wrapped in a CommunicationError, when a query has
// no scripted answer. It stands for a transport timeout.
var ErrNoReply = errors.New("no reply (timeout)")

type blockReply struct {
	data []byte
	err  error
}

// Device is a fake labbench.Handle. Replies registered with On are consumed
// in order; the last one consumed repeats until more are registered.
type Device struct {
	mu       sync.Mutex
	resource string
	replies  map[string][]string
	last     map[string]string
	funcs    map[string]func(string) (string, error)
	blocks   map[string][]blockReply
	lastBlk  map[string]blockReply
	lines    []string
	traffic  []string
	commands []string
	raw      []string
	counts   map[string]int
	fail     error
	closed   bool
}

var _ labbench.Handle = (*Device)(nil)

// New returns a device answering nothing.
func New(resource string) *Device {
	return &Device{
		resource: resource,
		replies:  map[string][]string{},
		last:     map[string]string{},
		lastBlk:  map[string]blockReply{},
		funcs:    map[string]func(string) (string, error){},
		blocks:   map[string][]blockReply{},
		counts:   map[string]int{},
	}
}

// NewIdentified returns a device answering *IDN? with the given fields.
func NewIdentified(resource, manufacturer, name, serial, version string) *Device {
	return New(resource).On(labbench.IdentifyQuery, strings.Join([]string{manufacturer, name, serial, version}, ","))
}

// On scripts the replies to query.
func (d *Device) On(query string, replies ...string) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[query] = append(d.replies[query], replies...)
	return d
}

// OnFunc answers query by calling fn.
func (d *Device) OnFunc(query string, fn func(query string) (string, error)) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.funcs[query] = fn
	return d
}

// OnBlock scripts a binary block reply.
func (d *Device) OnBlock(query string, data []byte) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[query] = append(d.blocks[query], blockReply{data: data})
	return d
}

// OnBlockError makes a block query fail with a communication error.
func (d *Device) OnBlockError(query string, err error) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[query] = append(d.blocks[query], blockReply{err: err})
	return d
}

// QueueLines queues lines for ReadLine.
func (d *Device) QueueLines(lines ...string) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, lines...)
	return d
}

// Unplug makes every later operation fail with err.
func (d *Device) Unplug(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = io.ErrClosedPipe
	}
	d.fail = err
}

// Commands returns the commands sent with Command, in order.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Traffic returns commands and queries interleaved in the order received.
func (d *Device) Traffic() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.traffic...)
}

// Raw returns the raw writes.
func (d *Device) Raw() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.raw...)
}

// Count returns how many times query was asked.
func (d *Device) Count(query string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[query]
}

// Closed reports whether Close was called since the last reopen.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) check(op string) error {
	if d.fail != nil {
		return &labbench.CommunicationError{Resource: d.resource, Op: op, Err: d.fail}
	}
	if d.closed {
		return &labbench.CommunicationError{Resource: d.resource, Op: op, Err: labbench.ErrClosed}
	}
	return nil
}

func (d *Device) Resource() string { return d.resource }

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("write"); err != nil {
		return 0, err
	}
	d.raw = append(d.raw, string(p))
	d.traffic = append(d.traffic, string(p))
	return len(p), nil
}

func (d *Device) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("write " + cmd); err != nil {
		return err
	}
	d.commands = append(d.commands, cmd)
	d.traffic = append(d.traffic, cmd)
	return nil
}

func (d *Device) Query(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	d.mu.Lock()
	if err := d.check("query " + cmd); err != nil {
		d.mu.Unlock()
		return "", err
	}
	d.traffic = append(d.traffic, cmd)
	d.counts[cmd]++
	if fn, ok := d.funcs[cmd]; ok {
		d.mu.Unlock()
		s, err := fn(cmd)
		if err != nil {
			return "", &labbench.CommunicationError{Resource: d.resource, Op: "query " + cmd, Err: err}
		}
		return s, nil
	}
	defer d.mu.Unlock()
	if q := d.replies[cmd]; len(q) > 0 {
		d.last[cmd] = q[0]
		d.replies[cmd] = q[1:]
	}
	s, ok := d.last[cmd]
	if !ok {
		return "", &labbench.CommunicationError{Resource: d.resource, Op: "query " + cmd, Err: ErrNoReply}
	}
	return s, nil
}

func (d *Device) QueryBlock(cmd string) ([]byte, error) {
	cmd = strings.TrimSpace(cmd)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("query " + cmd); err != nil {
		return nil, err
	}
	d.traffic = append(d.traffic, cmd)
	d.counts[cmd]++
	if q := d.blocks[cmd]; len(q) > 0 {
		d.lastBlk[cmd] = q[0]
		d.blocks[cmd] = q[1:]
	}
	b, ok := d.lastBlk[cmd]
	if !ok {
		return nil, &labbench.CommunicationError{Resource: d.resource, Op: "query " + cmd, Err: ErrNoReply}
	}
	if b.err != nil {
		return nil, &labbench.CommunicationError{Resource: d.resource, Op: "query " + cmd, Err: b.err}
	}
	return append([]byte(nil), b.data...), nil
}

func (d *Device) ReadLine() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("read"); err != nil {
		return "", err
	}
	if len(d.lines) == 0 {
		return "", &labbench.CommunicationError{Resource: d.resource, Op: "read", Err: ErrNoReply}
	}
	s := d.lines[0]
	d.lines = d.lines[1:]
	return s, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
}
