// Package visa opens VISA resource ids over native transports: serial ports,
// raw SCPI sockets, USBTMC and GPIB through Prologix adapters.
package visa

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Kind is the interface type of a resource.
type Kind int

const (
	Serial Kind = iota + 1
	TCPIPInstr
	TCPIPSocket
	USB
	GPIB
)

func (k Kind) String() string {
	switch k {
	case Serial:
		return "ASRL"
	case TCPIPInstr:
		return "TCPIP INSTR"
	case TCPIPSocket:
		return "TCPIP SOCKET"
	case USB:
		return "USB"
	case GPIB:
		return "GPIB"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Address is a parsed resource id. Only the fields of its Kind are set.
type Address struct {
	Kind  Kind
	Board int

	// Serial
	Path string

	// TCPIP
	Host   string
	Port   int    // SOCKET only
	Device string // INSTR LAN device name, inst0 by default

	// USB
	Vendor, Product uint16
	SerialNumber    string

	// GPIB; SAD is -1 when absent
	PAD, SAD int
}

// AddressError reports a resource id that cannot be parsed.
type AddressError struct {
	Resource string
	Reason   string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("resource %q: %s", e.Resource, e.Reason)
}

// ParseAddress parses a resource id. Interface names and the resource class
// are case insensitive.
//
//	ASRL<n|path>::INSTR
//	TCPIP[n]::<host>[::<lan device>]::INSTR
//	TCPIP[n]::<host>::<port>::SOCKET
//	USB[n]::<vid>::<pid>::<serial>[::<interface>]::INSTR
//	GPIB[n]::<pad>[::<sad>]::INSTR
func ParseAddress(resource string) (Address, error) {
	bad := func(format string, a ...any) (Address, error) {
		return Address{}, &AddressError{Resource: resource, Reason: fmt.Sprintf(format, a...)}
	}
	parts := strings.Split(strings.TrimSpace(resource), "::")
	if len(parts) < 2 {
		return bad("missing resource class")
	}
	head := strings.ToUpper(parts[0])
	class := strings.ToUpper(parts[len(parts)-1])
	fields := parts[1 : len(parts)-1]

	switch {
	case strings.HasPrefix(head, "ASRL"):
		if class != "INSTR" || len(fields) != 0 {
			return bad("want ASRL<port>::INSTR")
		}
		name := parts[0][len("ASRL"):]
		if name == "" {
			return bad("missing serial port")
		}
		if n, err := strconv.Atoi(name); err == nil {
			return Address{Kind: Serial, Board: n, Path: serialPath(n)}, nil
		}
		return Address{Kind: Serial, Path: name}, nil

	case strings.HasPrefix(head, "TCPIP"):
		board, err := boardNumber(head, "TCPIP")
		if err != nil {
			return bad("%s", err)
		}
		if len(fields) == 0 || fields[0] == "" {
			return bad("missing host")
		}
		a := Address{Board: board, Host: fields[0]}
		switch {
		case class == "SOCKET" && len(fields) == 2:
			a.Kind = TCPIPSocket
			a.Port, err = strconv.Atoi(fields[1])
			if err != nil || a.Port <= 0 || a.Port > 65535 {
				return bad("invalid port %q", fields[1])
			}
		case class == "INSTR" && len(fields) == 1:
			a.Kind, a.Device = TCPIPInstr, "inst0"
		case class == "INSTR" && len(fields) == 2:
			a.Kind, a.Device = TCPIPInstr, fields[1]
		default:
			return bad("want TCPIP::<host>[::<device>]::INSTR or TCPIP::<host>::<port>::SOCKET")
		}
		return a, nil

	case strings.HasPrefix(head, "USB"):
		board, err := boardNumber(head, "USB")
		if err != nil {
			return bad("%s", err)
		}
		if class != "INSTR" || len(fields) < 3 || len(fields) > 4 {
			return bad("want USB::<vid>::<pid>::<serial>::INSTR")
		}
		vid, err := strconv.ParseUint(fields[0], 0, 16)
		if err != nil {
			return bad("invalid vendor id %q", fields[0])
		}
		pid, err := strconv.ParseUint(fields[1], 0, 16)
		if err != nil {
			return bad("invalid product id %q", fields[1])
		}
		return Address{Kind: USB, Board: board, Vendor: uint16(vid), Product: uint16(pid), SerialNumber: fields[2]}, nil

	case strings.HasPrefix(head, "GPIB"):
		board, err := boardNumber(head, "GPIB")
		if err != nil {
			return bad("%s", err)
		}
		if class != "INSTR" || len(fields) < 1 || len(fields) > 2 {
			return bad("want GPIB::<pad>[::<sad>]::INSTR")
		}
		a := Address{Kind: GPIB, Board: board, SAD: -1}
		if a.PAD, err = strconv.Atoi(fields[0]); err != nil || a.PAD < 0 || a.PAD > 30 {
			return bad("invalid primary address %q", fields[0])
		}
		if len(fields) == 2 {
			if a.SAD, err = strconv.Atoi(fields[1]); err != nil || a.SAD < 96 || a.SAD > 126 {
				return bad("invalid secondary address %q", fields[1])
			}
		}
		return a, nil
	}
	return bad("unsupported interface %q", parts[0])
}

func boardNumber(head, prefix string) (int, error) {
	s := head[len(prefix):]
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid board number %q", s)
	}
	return n, nil
}

// serialPath maps a numbered serial resource to the port name of the host.
func serialPath(n int) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("COM%d", n)
	}
	return fmt.Sprintf("/dev/ttyS%d", n)
}
