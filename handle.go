// Copyright (c) 2020–2024 The labbench developers. All rights reserved.
// Project site: https://github.com/gotmc/labbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labbench

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Handle is a communication channel bound to one physical instrument. A Handle
// is owned by whoever opened it (usually the Registry); drivers hold it
// without owning it. Handles are not safe for concurrent use.
type Handle interface {
	// Write sends raw bytes without appending any terminator.
	io.Writer

	// Command formats according to a format specifier if arguments are given
	// and sends the result with the write terminator. Commands are not
	// acknowledged; a rejected command only shows on a later query.
	Command(format string, a ...any) error

	// Query sends cmd and returns one response line without its terminator.
	Query(cmd string) (string, error)

	// QueryBlock sends cmd and reads an IEEE 488.2 binary block.
	QueryBlock(cmd string) ([]byte, error)

	// ReadLine reads one response line without its terminator.
	ReadLine() (string, error)

	// Resource returns the resource id the handle was opened with.
	Resource() string

	Close() error
}

// Conn implements Handle on top of a byte stream such as a serial port, a raw
// SCPI socket or a USBTMC pipe.
type Conn struct {
	mu        sync.Mutex
	rw        io.ReadWriteCloser
	r         *bufio.Reader
	resource  string
	writeTerm string
	readTerm  byte
	closed    bool
	logger    zerolog.Logger
}

// ConnOption applies an option to a Conn.
type ConnOption func(*Conn)

// WithWriteTerminator sets the string appended to commands (default "\n").
func WithWriteTerminator(term string) ConnOption {
	return func(c *Conn) { c.writeTerm = term }
}

// WithReadTerminator sets the byte ending a response line (default '\n').
func WithReadTerminator(term byte) ConnOption {
	return func(c *Conn) { c.readTerm = term }
}

// WithConnLogger logs every command and response at trace level.
func WithConnLogger(l zerolog.Logger) ConnOption {
	return func(c *Conn) { c.logger = l }
}

// NewConn wraps rw. The Conn takes ownership of rw and closes it on Close.
func NewConn(resource string, rw io.ReadWriteCloser, opts ...ConnOption) *Conn {
	c := &Conn{
		rw:        rw,
		r:         bufio.NewReader(rw),
		resource:  resource,
		writeTerm: "\n",
		readTerm:  '\n',
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) Resource() string { return c.resource }

func (c *Conn) commErr(op string, err error) error {
	return &CommunicationError{Resource: c.resource, Op: op, Err: err}
}

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, c.commErr("write", ErrClosed)
	}
	n, err := c.rw.Write(p)
	if err != nil {
		return n, c.commErr("write", err)
	}
	return n, nil
}

func (c *Conn) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(cmd)
}

// send must be called with c.mu held.
func (c *Conn) send(cmd string) error {
	if c.closed {
		return c.commErr("write", ErrClosed)
	}
	cmd = strings.TrimSpace(cmd)
	c.logger.Trace().Str("resource", c.resource).Str("cmd", cmd).Msg("write")
	if _, err := io.WriteString(c.rw, cmd+c.writeTerm); err != nil {
		return c.commErr("write "+cmd, err)
	}
	return nil
}

func (c *Conn) readLine(op string) (string, error) {
	if c.closed {
		return "", c.commErr(op, ErrClosed)
	}
	s, err := c.r.ReadString(c.readTerm)
	if err != nil {
		return "", c.commErr(op, err)
	}
	s = strings.TrimRight(s, "\r\n")
	c.logger.Trace().Str("resource", c.resource).Str("resp", s).Msg("read")
	return s, nil
}

func (c *Conn) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(cmd); err != nil {
		return "", err
	}
	return c.readLine("query " + cmd)
}

func (c *Conn) QueryBlock(cmd string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	b, err := ReadBlock(c.r, c.readTerm)
	if err != nil {
		if _, ok := err.(*DecodeError); ok {
			return nil, err
		}
		return nil, c.commErr("query "+cmd, err)
	}
	return b, nil
}

func (c *Conn) ReadLine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLine("read")
}

// Close closes the underlying stream. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rw.Close()
}
