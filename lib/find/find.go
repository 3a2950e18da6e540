// Package find locates serial ports and names them as VISA resources.
package find

import (
	"fmt"
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"
)

type FilterFn func(*Port) bool

// Arduino and clone USB vendor ids.
var arduinoVIDs = []string{"2341", "2A03", "1A86"}

func ArduinoFilter(p *Port) bool {
	for _, v := range arduinoVIDs {
		if strings.EqualFold(p.VID, v) {
			return true
		}
	}
	return strings.Contains(p.Product, "Arduino")
}

func PiPicoFilter(p *Port) bool {
	return strings.EqualFold(p.VID, "2E8A") && strings.Contains(p.Product, "Pico")
}

// PrologixFilter matches the FTDI chip of Prologix USB-GPIB adapters.
func PrologixFilter(p *Port) bool {
	return strings.EqualFold(p.VID, "0403") && strings.EqualFold(p.PID, "6001")
}

func SerialFilter(s string) FilterFn {
	return func(p *Port) bool { return p.Serial == s }
}

// Find searches for a serial port. If filter is not nil, it is used to
// narrow choices down. The first port for which it returns true (if any) is
// chosen.
func Find(filter FilterFn) (string, error) {
	ports, err := All()
	if err != nil {
		return "", err
	}
	if filter != nil {
		var match Ports
		for i := range ports {
			if filter(&ports[i]) {
				match = Ports{ports[i]}
				break
			}
		}
		ports = match
	}

	if len(ports) == 0 {
		return "", fmt.Errorf("no matching serial port found")
	}
	if len(ports) == 1 {
		return ports[0].Name, nil
	}
	return "", fmt.Errorf("multiple serial ports:\n%s", ports)
}

// Port describes a serial port. The USB fields are empty for other ports.
type Port struct {
	Name     string
	USB      bool
	VID, PID string
	Product  string
	Serial   string
}

func (p Port) String() string {
	if !p.USB {
		return p.Name
	}
	return fmt.Sprintf("%s vid/pid %s/%s product %q serial %s", p.Name, p.VID, p.PID, p.Product, p.Serial)
}

// Resource returns the VISA resource id of the port: ASRL<n>::INSTR for
// COM<n> on Windows, ASRL<path>::INSTR elsewhere.
func (p Port) Resource() string {
	name := p.Name
	if runtime.GOOS == "windows" {
		name = strings.TrimPrefix(strings.ToUpper(name), "COM")
	}
	return "ASRL" + name + "::INSTR"
}

type Ports []Port

func (ps Ports) String() string {
	s := make([]string, 0, len(ps))
	for _, p := range ps {
		s = append(s, p.String())
	}
	return strings.Join(s, "\n")
}

// Resources returns the VISA resource ids of ps, in order.
func (ps Ports) Resources() []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Resource())
	}
	return out
}

// detailedPorts is replaced in tests.
var detailedPorts = enumerator.GetDetailedPortsList

// All lists the serial ports of the host.
func All() (Ports, error) {
	details, err := detailedPorts()
	if err != nil {
		return nil, err
	}
	ports := make(Ports, 0, len(details))
	for _, d := range details {
		ports = append(ports, Port{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Product: d.Product,
			Serial:  d.SerialNumber,
		})
	}
	return ports, nil
}
