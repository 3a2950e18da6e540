package labbench

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/matryer/is"
)

type stream struct {
	io.Reader
	bytes.Buffer
	closed int
}

func (s *stream) Write(p []byte) (int, error) { return s.Buffer.Write(p) }
func (s *stream) Read(p []byte) (int, error)  { return s.Reader.Read(p) }
func (s *stream) Close() error                { s.closed++; return nil }

func TestReadBlock(t *testing.T) {
	is := is.New(t)

	b, err := ReadBlock(bufio.NewReader(strings.NewReader("#15hello\nnext\n")), '\n')
	is.NoErr(err)
	is.Equal(string(b), "hello")

	r := bufio.NewReader(strings.NewReader("#210\x00\x01\n\x03\x04\x05\x06\x07\x08\x09\n"))
	b, err = ReadBlock(r, '\n')
	is.NoErr(err)
	is.Equal(b, []byte{0, 1, '\n', 3, 4, 5, 6, 7, 8, 9})
	is.Equal(r.Buffered(), 0)

	b, err = ReadBlock(bufio.NewReader(strings.NewReader("#0abc\n")), '\n')
	is.NoErr(err)
	is.Equal(string(b), "abc")

	_, err = ReadBlock(bufio.NewReader(strings.NewReader("1.5\n")), '\n')
	is.True(errors.Is(err, ErrDecode))
	_, err = ReadBlock(bufio.NewReader(strings.NewReader("#x")), '\n')
	is.True(errors.Is(err, ErrDecode))
	_, err = ReadBlock(bufio.NewReader(strings.NewReader("#15he")), '\n')
	is.True(errors.Is(err, io.ErrUnexpectedEOF))

	// negative and oversized lengths
	_, err = ReadBlock(bufio.NewReader(strings.NewReader("#2-1xx\n")), '\n')
	is.True(errors.Is(err, ErrDecode))
	_, err = ReadBlock(bufio.NewReader(strings.NewReader("#9999999999\n")), '\n')
	is.True(errors.Is(err, ErrDecode))

	// CR LF after the data, and no terminator at the end of the stream
	r = bufio.NewReader(strings.NewReader("#12ab\r\nnext\n"))
	b, err = ReadBlock(r, '\n')
	is.NoErr(err)
	is.Equal(string(b), "ab")
	rest, _ := r.ReadString('\n')
	is.Equal(rest, "next\n")
	b, err = ReadBlock(bufio.NewReader(strings.NewReader("#12ab")), '\n')
	is.NoErr(err)
	is.Equal(string(b), "ab")

	// data that is not a terminator stays in the reader
	r = bufio.NewReader(strings.NewReader("#12abIDLE\n"))
	_, err = ReadBlock(r, '\n')
	is.NoErr(err)
	rest, _ = r.ReadString('\n')
	is.Equal(rest, "IDLE\n")
}

// A record larger than the bufio buffer is read straight into the result,
// the terminator still has to be consumed before the next reply.
func TestConnLargeBlock(t *testing.T) {
	is := is.New(t)
	data := bytes.Repeat([]byte{0x80}, 14000)
	in := "#9000014000" + string(data) + "\n0.05\n"
	c := NewConn("TCPIP0::10.0.0.2::inst0::INSTR", &stream{Reader: strings.NewReader(in)})

	b, err := c.QueryBlock(":WAV:DATA?")
	is.NoErr(err)
	is.Equal(len(b), 14000)
	is.Equal(b, data)

	v, err := c.Query(":WAV:YINC?")
	is.NoErr(err)
	is.Equal(v, "0.05")
}

func TestConn(t *testing.T) {
	is := is.New(t)
	s := &stream{Reader: strings.NewReader("RIGOL TECHNOLOGIES,DS4024,DS4A1,00.02\r\n#13abc\nIDLE,1400\n")}
	c := NewConn("TCPIP0::10.0.0.2::inst0::INSTR", s)

	id, err := Identify(c)
	is.NoErr(err)
	is.Equal(id.Name, "DS4024")

	b, err := c.QueryBlock(":WAV:DATA?")
	is.NoErr(err)
	is.Equal(string(b), "abc")

	is.NoErr(c.Command(":CHAN%d:SCAL %g", 1, 0.5))
	is.NoErr(c.Command("  :STOP "))
	line, err := c.ReadLine()
	is.NoErr(err)
	is.Equal(line, "IDLE,1400")

	is.Equal(s.Buffer.String(), "*IDN?\n:WAV:DATA?\n:CHAN1:SCAL 0.5\n:STOP\n")

	_, err = c.Query("*OPC?")
	is.True(errors.Is(err, ErrCommunication))

	is.NoErr(c.Close())
	is.NoErr(c.Close())
	is.Equal(s.closed, 1)
	err = c.Command(":RUN")
	is.True(errors.Is(err, ErrClosed))
	is.True(errors.Is(err, ErrCommunication))
}

func TestConnTerminators(t *testing.T) {
	is := is.New(t)
	s := &stream{Reader: strings.NewReader("0\r")}
	c := NewConn("ASRL3::INSTR", s, WithWriteTerminator("\r\n"), WithReadTerminator('\r'))
	r, err := c.Query("OUTP?")
	is.NoErr(err)
	is.Equal(r, "0")
	is.Equal(s.Buffer.String(), "OUTP?\r\n")
}
