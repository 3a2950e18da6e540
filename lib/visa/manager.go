package visa

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/find"
	"github.com/gotmc/labbench/lib/prologix"
	"github.com/gotmc/labbench/lib/usbtmc"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

// Bus is a GPIB bus behind a Prologix adapter.
type Bus struct {
	Board      int
	Port       string // serial port of the adapter
	PADs       []int  // primary addresses listed as GPIB<board>::<pad>::INSTR
	AR488      bool
	WriteDelay time.Duration
}

// SerialOpener opens a serial port.
type SerialOpener func(port string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error)

// Dialer opens a TCP connection.
type Dialer func(network, address string, timeout time.Duration) (net.Conn, error)

// Manager implements labbench.ResourceManager on native transports.
type Manager struct {
	mu          sync.Mutex
	baud        int
	socketPort  int
	dialTimeout time.Duration
	readTimeout time.Duration
	static      []string
	buses       []Bus
	adapters    map[int]*prologix.Adapter
	busPorts    map[string]bool
	useUSB      bool
	usb         *gousb.Context
	ports       func() (find.Ports, error)
	openSerial  SerialOpener
	dial        Dialer
	logger      zerolog.Logger
}

var _ labbench.ResourceManager = (*Manager)(nil)

type Option func(*Manager)

// WithBaud sets the baud rate of ASRL resources (default 9600).
func WithBaud(baud int) Option { return func(m *Manager) { m.baud = baud } }

// WithSocketPort sets the raw SCPI port used for TCPIP INSTR resources
// (default 5555).
func WithSocketPort(port int) Option { return func(m *Manager) { m.socketPort = port } }

func WithDialTimeout(d time.Duration) Option { return func(m *Manager) { m.dialTimeout = d } }

// WithReadTimeout bounds every read on serial and TCP resources.
func WithReadTimeout(d time.Duration) Option { return func(m *Manager) { m.readTimeout = d } }

// WithStatic lists resources that cannot be discovered, such as networked
// instruments.
func WithStatic(resources ...string) Option {
	return func(m *Manager) { m.static = append(m.static, resources...) }
}

// WithBus adds a GPIB bus. Its adapter is opened by New.
func WithBus(b Bus) Option { return func(m *Manager) { m.buses = append(m.buses, b) } }

// WithUSB enables USBTMC discovery and access.
func WithUSB(on bool) Option { return func(m *Manager) { m.useUSB = on } }

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithPortLister replaces serial port enumeration.
func WithPortLister(f func() (find.Ports, error)) Option { return func(m *Manager) { m.ports = f } }

// WithSerialOpener replaces the serial port opener.
func WithSerialOpener(f SerialOpener) Option { return func(m *Manager) { m.openSerial = f } }

// WithDialer replaces net.DialTimeout.
func WithDialer(f Dialer) Option { return func(m *Manager) { m.dial = f } }

// New creates a manager and opens the adapters of its GPIB buses.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		baud:        9600,
		socketPort:  5555,
		dialTimeout: 3 * time.Second,
		readTimeout: 5 * time.Second,
		adapters:    map[int]*prologix.Adapter{},
		busPorts:    map[string]bool{},
		ports:       find.All,
		openSerial:  OpenSerial,
		dial:        net.DialTimeout,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, b := range m.buses {
		if err := m.openBus(b); err != nil {
			return nil, multierr.Append(err, m.Close())
		}
	}
	if m.useUSB {
		m.usb = gousb.NewContext()
	}
	return m, nil
}

func (m *Manager) openBus(b Bus) error {
	if _, ok := m.adapters[b.Board]; ok {
		return fmt.Errorf("GPIB%d configured twice", b.Board)
	}
	// the virtual COM port of the adapter ignores the baud rate
	rw, err := m.openSerial(b.Port, 115200, m.readTimeout)
	if err != nil {
		return &labbench.CommunicationError{Resource: b.Port, Op: "open GPIB adapter", Err: err}
	}
	opts := []prologix.AdapterOption{prologix.WithLogger(m.logger)}
	if b.AR488 {
		opts = append(opts, prologix.WithAR488())
	}
	if b.WriteDelay > 0 {
		opts = append(opts, prologix.WithWriteDelay(b.WriteDelay))
	}
	if m.logger.GetLevel() <= zerolog.DebugLevel {
		opts = append(opts, prologix.WithDebug())
	}
	a, err := prologix.NewAdapter(b.Port, rw, opts...)
	if err != nil {
		return multierr.Append(err, rw.Close())
	}
	m.adapters[b.Board] = a
	m.busPorts[b.Port] = true
	m.logger.Debug().Int("board", b.Board).Str("port", b.Port).Msg("GPIB adapter ready")
	return nil
}

// ListResources returns the candidate resources matching filter: serial
// ports not used by a GPIB adapter, static resources, configured GPIB
// addresses and USBTMC instruments.
func (m *Manager) ListResources(filter string) ([]string, error) {
	p, err := labbench.CompilePattern(filter)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []string
	ports, err := m.ports()
	if err != nil {
		m.logger.Warn().Err(err).Msg("serial port enumeration failed")
	}
	for _, port := range ports {
		if !m.busPorts[port.Name] {
			candidates = append(candidates, port.Resource())
		}
	}
	candidates = append(candidates, m.static...)
	for _, b := range m.buses {
		for _, pad := range b.PADs {
			candidates = append(candidates, fmt.Sprintf("GPIB%d::%d::INSTR", b.Board, pad))
		}
	}
	if m.usb != nil {
		devs, err := usbtmc.List(m.usb)
		if err != nil {
			m.logger.Warn().Err(err).Msg("USBTMC enumeration incomplete")
		}
		for _, d := range devs {
			candidates = append(candidates, d.Resource(0))
		}
	}

	seen := map[string]bool{}
	out := []string{}
	for _, c := range p.Filter(candidates) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// OpenResource opens resource with the transport its interface type names.
func (m *Manager) OpenResource(resource string) (labbench.Handle, error) {
	a, err := ParseAddress(resource)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	openErr := func(err error) error {
		return &labbench.CommunicationError{Resource: resource, Op: "open", Err: err}
	}
	connOpts := []labbench.ConnOption{labbench.WithConnLogger(m.logger)}

	switch a.Kind {
	case Serial:
		rw, err := m.openSerial(a.Path, m.baud, m.readTimeout)
		if err != nil {
			return nil, openErr(err)
		}
		return labbench.NewConn(resource, rw, connOpts...), nil

	case TCPIPInstr, TCPIPSocket:
		port := a.Port
		if a.Kind == TCPIPInstr {
			port = m.socketPort
		}
		c, err := m.dial("tcp", net.JoinHostPort(a.Host, strconv.Itoa(port)), m.dialTimeout)
		if err != nil {
			return nil, openErr(err)
		}
		return labbench.NewConn(resource, &deadlineConn{Conn: c, timeout: m.readTimeout}, connOpts...), nil

	case USB:
		if m.usb == nil {
			return nil, openErr(fmt.Errorf("USB access is disabled"))
		}
		pipe, err := usbtmc.Open(m.usb, gousb.ID(a.Vendor), gousb.ID(a.Product), a.SerialNumber)
		if err != nil {
			return nil, openErr(err)
		}
		return labbench.NewConn(resource, pipe, connOpts...), nil

	case GPIB:
		ad, ok := m.adapters[a.Board]
		if !ok {
			return nil, openErr(fmt.Errorf("no adapter configured for GPIB%d", a.Board))
		}
		d, err := ad.Open(resource, a.PAD, a.SAD, false)
		if err != nil {
			return nil, openErr(err)
		}
		return d, nil
	}
	return nil, openErr(fmt.Errorf("unsupported interface %s", a.Kind))
}

// Close closes the GPIB adapters and the USB context. Handles opened by the
// manager are owned by their caller.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for board, a := range m.adapters {
		err = multierr.Append(err, a.Close())
		delete(m.adapters, board)
	}
	if m.usb != nil {
		err = multierr.Append(err, m.usb.Close())
		m.usb = nil
	}
	return err
}

// OpenSerial opens a serial port with 8N1 framing. A read that sees no byte
// within readTimeout fails with os.ErrDeadlineExceeded.
func OpenSerial(port string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if readTimeout > 0 {
		if err := p.SetReadTimeout(readTimeout); err != nil {
			return nil, multierr.Append(err, p.Close())
		}
	}
	return serialStream{p}, nil
}

// serialStream reports a read timeout as an error. The serial package
// returns 0, nil, which bufio would retry a hundred times.
type serialStream struct{ serial.Port }

func (s serialStream) Read(p []byte) (int, error) {
	n, err := s.Port.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

// deadlineConn arms a read deadline before every read.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}
