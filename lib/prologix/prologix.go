// Copyright (c) 2020–2024 The labbench developers. All rights reserved.
// Project site: https://github.com/gotmc/labbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package prologix reaches GPIB instruments through a Prologix (or AR488)
// USB-GPIB adapter. One Adapter owns the serial stream; every instrument on
// the bus gets its own Device handle, readdressed on each operation.
package prologix

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/labbench"
	"github.com/rs/zerolog"
)

// Adapter models the Prologix controller-in-charge.
type Adapter struct {
	mu       sync.Mutex
	rw       io.ReadWriteCloser
	r        *bufio.Reader
	name     string
	current  string // "++addr" argument last sent
	usbTerm  byte
	eotChar  byte
	gpibTerm GpibTerm
	readTmo  time.Duration
	delay    time.Duration
	debug    bool
	ar488    bool
	logger   zerolog.Logger
	closed   bool
}

// AdapterOption applies an option to the adapter.
type AdapterOption func(*Adapter)

// WithDebug logs every controller command and instrument exchange at debug
// level.
func WithDebug() AdapterOption { return func(a *Adapter) { a.debug = true } }

// WithAR488 slightly alters the init commands, for compatibility with the
// Arduino-based AR488: no 'verbose 0' and no savecfg toggling.
func WithAR488() AdapterOption { return func(a *Adapter) { a.ar488 = true } }

// WithWriteDelay waits d after every write. Some older instruments lose
// characters when commands arrive back to back.
func WithWriteDelay(d time.Duration) AdapterOption { return func(a *Adapter) { a.delay = d } }

// WithReadTimeout sets the adapter's GPIB read timeout (default 500 ms).
func WithReadTimeout(d time.Duration) AdapterOption { return func(a *Adapter) { a.readTmo = d } }

// WithGPIBTermination sets what the adapter appends to instrument commands.
func WithGPIBTermination(t GpibTerm) AdapterOption { return func(a *Adapter) { a.gpibTerm = t } }

func WithLogger(l zerolog.Logger) AdapterOption { return func(a *Adapter) { a.logger = l } }

// NewAdapter configures the controller behind rw, a serial port or a TCP
// connection to an Ethernet adapter. The adapter takes ownership of rw.
func NewAdapter(name string, rw io.ReadWriteCloser, opts ...AdapterOption) (*Adapter, error) {
	a := &Adapter{
		rw:       rw,
		r:        bufio.NewReader(rw),
		name:     name,
		usbTerm:  '\n',
		eotChar:  '\n',
		gpibTerm: AppendCRLF,
		readTmo:  500 * time.Millisecond,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("adapter", name).Logger()

	cmds := []string{}
	if !a.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // do not wear the EEPROM with every setting below
		)
	}
	cmds = append(cmds,
		"mode 1", // controller mode
		"auto 0", // no read-after-write, instruments stay listeners
		"eoi 1",  // assert EOI with the last character
		fmt.Sprintf("eos %d", a.gpibTerm),
		fmt.Sprintf("read_tmo_ms %d", a.readTmo.Milliseconds()),
		fmt.Sprintf("eot_char %d", a.eotChar),
		"eot_enable 1", // append eot_char when EOI is detected
	)
	if !a.ar488 {
		cmds = append(cmds, "savecfg 1")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cmd := range cmds {
		if err := a.controller(cmd); err != nil {
			return nil, &labbench.CommunicationError{Resource: name, Op: "configure", Err: err}
		}
	}
	return a, nil
}

// controller sends a "++" command. Callers hold a.mu.
func (a *Adapter) controller(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), a.usbTerm)
	if a.debug {
		a.logger.Debug().Str("cmd", cmd).Msg("controller")
	}
	return a.write([]byte(cmd))
}

func (a *Adapter) write(p []byte) error {
	if a.closed {
		return labbench.ErrClosed
	}
	if _, err := a.rw.Write(p); err != nil {
		return err
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return nil
}

// Version asks the adapter for its firmware version.
func (a *Adapter) Version() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.controller("ver"); err != nil {
		return "", &labbench.CommunicationError{Resource: a.name, Op: "version", Err: err}
	}
	s, err := a.r.ReadString(a.eotChar)
	if err != nil {
		return "", &labbench.CommunicationError{Resource: a.name, Op: "version", Err: err}
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Close closes the stream to the adapter. Devices opened on it fail from
// then on.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.rw.Close()
}

// Open returns a handle to the instrument at the given primary address and
// optional secondary address (-1 for none). With clear set the instrument
// receives a Selected Device Clear.
func (a *Adapter) Open(resource string, pad, sad int, clear bool) (*Device, error) {
	if !isPrimaryAddressValid(pad) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", pad)
	}
	addr := fmt.Sprint(pad)
	if sad >= 0 {
		if !isSecondaryAddressValid(sad) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", sad)
		}
		addr = fmt.Sprintf("%d %d", pad, sad)
	}
	d := &Device{a: a, resource: resource, addr: addr}
	if clear {
		if err := d.do("clear", func() error { return a.controller("clr") }); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Device is one instrument on the bus. It implements labbench.Handle.
type Device struct {
	a        *Adapter
	resource string
	addr     string
	closed   bool
}

var _ labbench.Handle = (*Device)(nil)

func (d *Device) Resource() string { return d.resource }

// do addresses the instrument and runs f with the adapter locked.
func (d *Device) do(op string, f func() error) error {
	a := d.a
	a.mu.Lock()
	defer a.mu.Unlock()
	if d.closed {
		return &labbench.CommunicationError{Resource: d.resource, Op: op, Err: labbench.ErrClosed}
	}
	if a.current != d.addr {
		if err := a.controller("addr " + d.addr); err != nil {
			return &labbench.CommunicationError{Resource: d.resource, Op: op, Err: err}
		}
		a.current = d.addr
	}
	if err := f(); err != nil {
		if _, ok := err.(*labbench.DecodeError); ok {
			return err
		}
		return &labbench.CommunicationError{Resource: d.resource, Op: op, Err: err}
	}
	return nil
}

// Write sends raw bytes, escaping the characters the adapter would
// otherwise interpret.
func (d *Device) Write(p []byte) (int, error) {
	err := d.do("write", func() error {
		return d.a.write(append(Escape(p), d.a.usbTerm))
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *Device) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd)
	return d.do("write "+cmd, func() error { return d.send(cmd) })
}

// send must run inside do.
func (d *Device) send(cmd string) error {
	if d.a.debug {
		d.a.logger.Debug().Str("resource", d.resource).Str("cmd", cmd).Msg("gpib")
	}
	return d.a.write([]byte(cmd + string(d.a.usbTerm)))
}

// readLine must run inside do. Read-after-write is off, so the adapter is
// told to read until EOI first.
func (d *Device) readLine() (string, error) {
	if err := d.a.controller("read eoi"); err != nil {
		return "", err
	}
	s, err := d.a.r.ReadString(d.a.eotChar)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func (d *Device) Query(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	var s string
	err := d.do("query "+cmd, func() error {
		if err := d.send(cmd); err != nil {
			return err
		}
		var err error
		s, err = d.readLine()
		return err
	})
	return s, err
}

func (d *Device) QueryBlock(cmd string) ([]byte, error) {
	cmd = strings.TrimSpace(cmd)
	var b []byte
	err := d.do("query "+cmd, func() error {
		if err := d.send(cmd); err != nil {
			return err
		}
		if err := d.a.controller("read eoi"); err != nil {
			return err
		}
		var err error
		b, err = labbench.ReadBlock(d.a.r, d.a.eotChar)
		return err
	})
	return b, err
}

func (d *Device) ReadLine() (string, error) {
	var s string
	err := d.do("read", func() error {
		var err error
		s, err = d.readLine()
		return err
	})
	return s, err
}

// Close returns the instrument to front panel control. The adapter stays
// open for the other instruments on the bus.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	err := d.do("local", func() error { return d.a.controller("loc") })
	d.a.mu.Lock()
	d.closed = true
	d.a.mu.Unlock()
	if err != nil && !d.a.isClosed() {
		return err
	}
	return nil
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Escape prefixes the bytes the adapter treats as control characters (CR,
// LF, ESC and '+') with ESC.
func Escape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, c := range p {
		switch c {
		case '\r', '\n', 0x1b, '+':
			out = append(out, 0x1b)
		}
		out = append(out, c)
	}
	return out
}

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
