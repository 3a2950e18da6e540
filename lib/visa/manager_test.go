package visa

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/find"
	"github.com/matryer/is"
)

type port struct {
	name   string
	in     *strings.Reader
	out    bytes.Buffer
	closed bool
}

func (p *port) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *port) Write(b []byte) (int, error) { return p.out.Write(b) }
func (p *port) Close() error                { p.closed = true; return nil }

type fakeSerial struct {
	ports  map[string]*port
	bauds  map[string]int
	failOn string
}

func (f *fakeSerial) open(name string, baud int, _ time.Duration) (io.ReadWriteCloser, error) {
	if name == f.failOn {
		return nil, errors.New("permission denied")
	}
	p, ok := f.ports[name]
	if !ok {
		p = &port{name: name, in: strings.NewReader("")}
		f.ports[name] = p
	}
	f.bauds[name] = baud
	return p, nil
}

func newFakeSerial(replies map[string]string) *fakeSerial {
	f := &fakeSerial{ports: map[string]*port{}, bauds: map[string]int{}}
	for name, r := range replies {
		f.ports[name] = &port{name: name, in: strings.NewReader(r)}
	}
	return f
}

func lister(names ...string) func() (find.Ports, error) {
	return func() (find.Ports, error) {
		var ps find.Ports
		for _, n := range names {
			ps = append(ps, find.Port{Name: n})
		}
		return ps, nil
	}
}

func TestListResources(t *testing.T) {
	is := is.New(t)
	fs := newFakeSerial(nil)
	m, err := New(
		WithPortLister(lister("/dev/ttyACM0", "/dev/ttyUSB0", "/dev/ttyACM0")),
		WithSerialOpener(fs.open),
		WithStatic("TCPIP0::192.168.1.20::INSTR", "ASRL/dev/ttyACM0::INSTR"),
		WithBus(Bus{Board: 0, Port: "/dev/ttyUSB0", PADs: []int{24, 14}}),
	)
	is.NoErr(err)
	defer m.Close()

	all, err := m.ListResources("?*::INSTR")
	is.NoErr(err)
	is.Equal(all, []string{
		"ASRL/dev/ttyACM0::INSTR",
		"TCPIP0::192.168.1.20::INSTR",
		"GPIB0::24::INSTR",
		"GPIB0::14::INSTR",
	})

	gpib, err := m.ListResources("GPIB?*")
	is.NoErr(err)
	is.Equal(gpib, []string{"GPIB0::24::INSTR", "GPIB0::14::INSTR"})

	none, err := m.ListResources("USB?*")
	is.NoErr(err)
	is.True(none != nil)
	is.Equal(len(none), 0)

	_, err = m.ListResources("[")
	is.True(err != nil)
}

func TestListResourcesEnumerationFailure(t *testing.T) {
	is := is.New(t)
	m, err := New(
		WithPortLister(func() (find.Ports, error) { return nil, errors.New("no sysfs") }),
		WithStatic("TCPIP0::10.0.0.2::5025::SOCKET"),
	)
	is.NoErr(err)
	got, err := m.ListResources("?*")
	is.NoErr(err)
	is.Equal(got, []string{"TCPIP0::10.0.0.2::5025::SOCKET"})
}

func TestOpenSerial(t *testing.T) {
	is := is.New(t)
	fs := newFakeSerial(map[string]string{"/dev/ttyACM0": "HTRB_test,V1.1\n"})
	m, err := New(WithPortLister(lister()), WithSerialOpener(fs.open), WithBaud(115200))
	is.NoErr(err)

	h, err := m.OpenResource("ASRL/dev/ttyACM0::INSTR")
	is.NoErr(err)
	is.Equal(h.Resource(), "ASRL/dev/ttyACM0::INSTR")
	is.Equal(fs.bauds["/dev/ttyACM0"], 115200)

	got, err := h.Query("*IDN?")
	is.NoErr(err)
	is.Equal(got, "HTRB_test,V1.1")
	is.Equal(fs.ports["/dev/ttyACM0"].out.String(), "*IDN?\n")
	is.NoErr(h.Close())
	is.True(fs.ports["/dev/ttyACM0"].closed)

	fs.failOn = "/dev/ttyACM1"
	_, err = m.OpenResource("ASRL/dev/ttyACM1::INSTR")
	is.True(errors.Is(err, labbench.ErrCommunication))
}

func TestOpenTCPIP(t *testing.T) {
	is := is.New(t)
	var dialed []string
	dial := func(network, addr string, _ time.Duration) (net.Conn, error) {
		dialed = append(dialed, addr)
		client, server := net.Pipe()
		go func() {
			r := bufio.NewReader(server)
			line, _ := r.ReadString('\n')
			if line == "*IDN?\n" {
				io.WriteString(server, "RIGOL TECHNOLOGIES,DS4024,DS4A0000001,00.02.03\n")
			}
			server.Close()
		}()
		return client, nil
	}
	m, err := New(WithPortLister(lister()), WithDialer(dial), WithReadTimeout(time.Second))
	is.NoErr(err)

	h, err := m.OpenResource("TCPIP0::192.168.1.20::INSTR")
	is.NoErr(err)
	id, err := labbench.Identify(h)
	is.NoErr(err)
	is.Equal(id.Name, "DS4024")
	is.NoErr(h.Close())

	h, err = m.OpenResource("TCPIP0::10.0.0.5::5025::SOCKET")
	is.NoErr(err)
	h.Close()

	is.Equal(dialed, []string{"192.168.1.20:5555", "10.0.0.5:5025"})
}

func TestOpenGPIB(t *testing.T) {
	is := is.New(t)
	fs := newFakeSerial(map[string]string{"/dev/ttyUSB0": "KEITHLEY INSTRUMENTS INC.,MODEL 2410,4096612,C33\r\n"})
	m, err := New(
		WithPortLister(lister("/dev/ttyUSB0")),
		WithSerialOpener(fs.open),
		WithBus(Bus{Board: 0, Port: "/dev/ttyUSB0", PADs: []int{24}}),
	)
	is.NoErr(err)
	adapter := fs.ports["/dev/ttyUSB0"]
	is.True(strings.Contains(adapter.out.String(), "++mode 1\n"))
	adapter.out.Reset()

	h, err := m.OpenResource("GPIB0::24::INSTR")
	is.NoErr(err)
	id, err := labbench.Identify(h)
	is.NoErr(err)
	is.Equal(id.Name, "MODEL 2410")
	is.Equal(adapter.out.String(), "++addr 24\n*IDN?\n++read eoi\n")

	_, err = m.OpenResource("GPIB1::5::INSTR")
	is.True(errors.Is(err, labbench.ErrCommunication))

	is.NoErr(m.Close())
	is.True(adapter.closed)
}

func TestOpenUnsupported(t *testing.T) {
	is := is.New(t)
	m, err := New(WithPortLister(lister()))
	is.NoErr(err)

	_, err = m.OpenResource("USB0::0x1AB1::0x0641::DG4E153100321::INSTR")
	is.True(errors.Is(err, labbench.ErrCommunication))

	_, err = m.OpenResource("bogus")
	var ae *AddressError
	is.True(errors.As(err, &ae))
}

func TestDuplicateBus(t *testing.T) {
	is := is.New(t)
	fs := newFakeSerial(nil)
	_, err := New(
		WithSerialOpener(fs.open),
		WithBus(Bus{Board: 0, Port: "/dev/ttyUSB0"}),
		WithBus(Bus{Board: 0, Port: "/dev/ttyUSB1"}),
	)
	is.True(err != nil)
	is.True(fs.ports["/dev/ttyUSB0"].closed)
}
