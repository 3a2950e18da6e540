// Package arduino talks to the bench's Arduino based relay and pulse
// controllers: the line framed serial sub-protocol spoken by the firmware,
// and the SCPI-like boards reached through the registry.
package arduino

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gotmc/labbench"
)

// Frame markers of the serial sub-protocol.
const (
	Interrupt  = '!'
	Get        = '?'
	Exec       = '.'
	Set        = ':'
	Separator  = '|'
	Terminator = '\n'
)

// FilterName keeps the letters of name. Anything else would be taken for a
// frame marker by the firmware.
func FilterName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, name)
}

// EncodeGet frames a request for one named value.
func EncodeGet(name string) []byte {
	return []byte(FilterName(name) + string(Get) + string(Terminator))
}

// EncodeGetAll frames a request for every value.
func EncodeGetAll() []byte { return []byte{Get, Terminator} }

// EncodeExec frames a bare command.
func EncodeExec(cmd string) []byte {
	return []byte(FilterName(cmd) + string(Exec) + string(Terminator))
}

// EncodeSet frames an assignment. The value is sent as is.
func EncodeSet(name, value string) []byte {
	return []byte(FilterName(name) + string(Set) + value + string(Terminator))
}

// IsInterrupt reports whether line is an unsolicited notification.
func IsInterrupt(line string) bool {
	return strings.HasPrefix(line, string(Interrupt))
}

// ParseValues splits a "name:value|name:value" response. A later duplicate
// name overrides an earlier one.
func ParseValues(line string) (map[string]string, error) {
	line = strings.TrimRight(line, "\r\n")
	out := make(map[string]string)
	if line == "" {
		return out, nil
	}
	for _, pair := range strings.Split(line, string(Separator)) {
		name, value, ok := strings.Cut(pair, string(Set))
		if !ok {
			return nil, labbench.NewDecodeError("values", line, fmt.Errorf("pair %q has no %q", pair, Set))
		}
		out[name] = value
	}
	return out, nil
}
