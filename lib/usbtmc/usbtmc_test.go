package usbtmc

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/gousb"
	"github.com/matryer/is"
)

func TestEncodeOut(t *testing.T) {
	is := is.New(t)
	b := EncodeOut(7, []byte("*IDN?"), true)
	is.Equal(b, []byte{
		1, 7, 0xf8, 0,
		5, 0, 0, 0,
		1, 0, 0, 0,
		'*', 'I', 'D', 'N', '?', 0, 0, 0,
	})
	is.Equal(len(EncodeOut(1, []byte("abcd"), false))%4, 0)

	r := EncodeRequestIn(2, 1024, '\n')
	is.Equal(r, []byte{2, 2, 0xfd, 0, 0, 4, 0, 0, 2, '\n', 0, 0})
	is.Equal(EncodeRequestIn(2, 1024, -1)[8], byte(0))
}

func TestDecodeInHeader(t *testing.T) {
	is := is.New(t)
	h, err := DecodeInHeader(3, []byte{2, 3, 0xfc, 0, 9, 0, 0, 0, 1, 0, 0, 0})
	is.NoErr(err)
	is.Equal(h, InHeader{Tag: 3, Size: 9, EOM: true})

	_, err = DecodeInHeader(3, []byte{2, 4, 0xfb, 0, 9, 0, 0, 0, 1, 0, 0, 0})
	is.True(err != nil)
	_, err = DecodeInHeader(3, []byte{2, 3})
	is.Equal(err, ErrShortHeader)
}

// endpoints answers each request-in with the next queued transfers.
type endpoints struct {
	written   bytes.Buffer
	transfers [][]byte
}

func (e *endpoints) Write(p []byte) (int, error) { return e.written.Write(p) }

func (e *endpoints) Read(p []byte) (int, error) {
	if len(e.transfers) == 0 {
		return 0, io.EOF
	}
	n := copy(p, e.transfers[0])
	e.transfers = e.transfers[1:]
	return n, nil
}

func inMsg(tag byte, size int, payload []byte) []byte {
	b := []byte{2, tag, ^tag, 0, byte(size), byte(size >> 8), 0, 0, 1, 0, 0, 0}
	return append(b, payload...)
}

func TestPipe(t *testing.T) {
	is := is.New(t)
	ep := &endpoints{transfers: [][]byte{
		// tag 2: answer split over two transfers, padded
		inMsg(2, 6, []byte("RIG")),
		[]byte("OL\n\x00\x00"),
		// tag 3
		inMsg(3, 2, []byte("1\n\x00\x00")),
	}}
	closed := false
	p := NewPipe(ep, ep, 64, func() error { closed = true; return nil })

	n, err := p.Write([]byte("*IDN?\n"))
	is.NoErr(err)
	is.Equal(n, 6)

	got, err := io.ReadAll(io.LimitReader(p, 8))
	is.NoErr(err)
	is.Equal(string(got), "RIGOL\n1\n")

	// out message, then two request-in frames
	w := ep.written.Bytes()
	is.Equal(w[0], byte(DevDepMsgOut))
	is.Equal(len(w), 20+12+12)
	is.Equal(w[20], byte(RequestDevDepMsgIn))
	is.Equal(w[21], byte(2))
	is.Equal(w[33], byte(3))

	_, err = p.Read(make([]byte, 4))
	is.Equal(err, io.EOF)

	is.NoErr(p.Close())
	is.True(closed)
}

func TestResource(t *testing.T) {
	is := is.New(t)
	d := Device{Vendor: gousb.ID(0x1ab1), Product: gousb.ID(0x0641), Serial: "DG4E153100321"}
	is.Equal(d.Resource(0), "USB0::0x1AB1::0x0641::DG4E153100321::INSTR")
}
