package usbtmc

import "io"

// Pipe turns a pair of bulk endpoints into a byte stream. Each Write is one
// complete device message; Read requests a new device message whenever the
// previous one is used up.
type Pipe struct {
	out     io.Writer
	in      io.Reader
	closer  func() error
	tag     byte
	pending []byte
	buf     []byte
	maxRead uint32
	term    int
}

// NewPipe wraps the bulk-out and bulk-in endpoints. closer releases them.
// Messages are requested in chunks of up to chunk bytes.
func NewPipe(out io.Writer, in io.Reader, chunk int, closer func() error) *Pipe {
	if chunk < headerLen+4 {
		chunk = 64 * 1024
	}
	return &Pipe{
		out:     out,
		in:      in,
		closer:  closer,
		buf:     make([]byte, chunk),
		maxRead: uint32(chunk - headerLen),
		term:    -1,
	}
}

func (p *Pipe) nextTag() byte {
	p.tag++
	if p.tag == 0 {
		p.tag = 1
	}
	return p.tag
}

func (p *Pipe) Write(b []byte) (int, error) {
	if _, err := p.out.Write(EncodeOut(p.nextTag(), b, true)); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Pipe) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		if err := p.fetch(); err != nil {
			return 0, err
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// fetch requests one device message chunk and collects its payload, which
// may span several bulk-in transfers.
func (p *Pipe) fetch() error {
	tag := p.nextTag()
	if _, err := p.out.Write(EncodeRequestIn(tag, p.maxRead, p.term)); err != nil {
		return err
	}
	n, err := p.in.Read(p.buf)
	if err != nil && n == 0 {
		return err
	}
	h, err := DecodeInHeader(tag, p.buf[:n])
	if err != nil {
		return err
	}
	data := append([]byte(nil), p.buf[headerLen:n]...)
	for uint32(len(data)) < h.Size {
		m, err := p.in.Read(p.buf)
		if m > 0 {
			data = append(data, p.buf[:m]...)
		}
		if err != nil {
			return err
		}
		if m == 0 {
			return io.ErrNoProgress
		}
	}
	// drop the alignment padding
	p.pending = data[:h.Size]
	return nil
}

func (p *Pipe) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
