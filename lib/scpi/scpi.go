// Package scpi parses typed replies to SCPI-like queries.
//
// A failed exchange is returned as the Handle reported it (a
// *labbench.CommunicationError); a reply that arrived but does not parse is a
// *labbench.DecodeError carrying the raw text.
package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/enum"
	"github.com/gotmc/query"
)

// reply answers any query with a response that was already read, letting the
// query package do the parsing once the transport has succeeded.
type reply string

func (r reply) Query(string) (string, error) { return strings.TrimSpace(string(r)), nil }

func ask(h labbench.Handle, cmd string) (string, error) {
	return h.Query(cmd)
}

// Float queries cmd and parses a float.
func Float(h labbench.Handle, cmd string) (float64, error) {
	s, err := ask(h, cmd)
	if err != nil {
		return 0, err
	}
	v, err := query.Float64(reply(s), cmd)
	if err != nil {
		return 0, labbench.NewDecodeError(cmd, strings.TrimSpace(s), err)
	}
	return v, nil
}

// Floatf formats the query before sending it.
func Floatf(h labbench.Handle, format string, a ...any) (float64, error) {
	return Float(h, fmt.Sprintf(format, a...))
}

// Int queries cmd and parses an integer. Some instruments answer integers in
// exponent notation; those are accepted when they carry no fraction.
func Int(h labbench.Handle, cmd string) (int, error) {
	s, err := ask(h, cmd)
	if err != nil {
		return 0, err
	}
	v, err := query.Int(reply(s), cmd)
	if err == nil {
		return v, nil
	}
	f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if ferr != nil || f != float64(int(f)) {
		return 0, labbench.NewDecodeError(cmd, strings.TrimSpace(s), err)
	}
	return int(f), nil
}

// Intf formats the query before sending it.
func Intf(h labbench.Handle, format string, a ...any) (int, error) {
	return Int(h, fmt.Sprintf(format, a...))
}

// Bool queries cmd and parses 1/0 or ON/OFF.
func Bool(h labbench.Handle, cmd string) (bool, error) {
	s, err := ask(h, cmd)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	v, err := query.Bool(reply(s), cmd)
	if err != nil {
		return false, labbench.NewDecodeError(cmd, strings.TrimSpace(s), err)
	}
	return v, nil
}

// Boolf formats the query before sending it.
func Boolf(h labbench.Handle, format string, a ...any) (bool, error) {
	return Bool(h, fmt.Sprintf(format, a...))
}

// String queries cmd and returns the trimmed reply.
func String(h labbench.Handle, cmd string) (string, error) {
	s, err := ask(h, cmd)
	if err != nil {
		return "", err
	}
	return query.String(reply(s), cmd)
}

func Stringf(h labbench.Handle, format string, a ...any) (string, error) {
	return String(h, fmt.Sprintf(format, a...))
}

// Floats queries cmd and parses a comma separated list of floats.
func Floats(h labbench.Handle, cmd string) ([]float64, error) {
	s, err := ask(h, cmd)
	if err != nil {
		return nil, err
	}
	return ParseFloats(cmd, s)
}

// ParseFloats parses a comma separated list of floats. Each field may carry
// a unit suffix made of letters, as in "1.5E-09A".
func ParseFloats(cmd, s string) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimRightFunc(strings.TrimSpace(f), isUnitLetter)
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, labbench.NewDecodeError(cmd, strings.TrimSpace(s), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// 'E' and 'e' are kept; they belong to the exponent.
func isUnitLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z') && r != 'E' && r != 'e'
}

// Enum queries cmd and parses the reply with t.
func Enum[T comparable](h labbench.Handle, t *enum.Table[T], cmd string) (T, error) {
	s, err := ask(h, cmd)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := t.Parse(s)
	if err != nil {
		var zero T
		return zero, labbench.NewDecodeError(cmd, strings.TrimSpace(s), err)
	}
	return v, nil
}

// SetEnum sends format with the token of v as its single argument.
func SetEnum[T comparable](h labbench.Handle, t *enum.Table[T], format string, v T) error {
	tok, err := t.Token(v)
	if err != nil {
		return err
	}
	return h.Command(format, tok)
}

// OnOff renders a boolean the way SCPI expects it.
func OnOff(b bool) int {
	if b {
		return 1
	}
	return 0
}
