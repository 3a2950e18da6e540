// Package cmdlog traces instrument traffic with colored commands.
package cmdlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gotmc/labbench"
	"github.com/rs/zerolog"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// Render formats a response for the log: quoted text when printable, hex
// otherwise.
func Render(a string) string {
	a = strings.TrimSuffix(a, "\n")
	if len(a) == 0 {
		return R1Style.Render("<no response>")
	}
	switch {
	case isAscii(a):
		return R2Style.Render(fmt.Sprintf("[%d] %q", len(a), a))
	case len(a) < 32:
		return R2Style.Render(fmt.Sprintf("[%d] %q (% 2x)", len(a), a, []byte(a)))
	}
	return R2Style.Render(fmt.Sprintf("[%d] % 2x", len(a), []byte(a)))
}

// Handle logs every exchange with the wrapped handle at debug level.
type Handle struct {
	h      labbench.Handle
	logger zerolog.Logger
}

var _ labbench.Handle = (*Handle)(nil)

func Wrap(h labbench.Handle, logger zerolog.Logger) *Handle {
	return &Handle{h: h, logger: logger.With().Str("resource", h.Resource()).Logger()}
}

func (t *Handle) Resource() string { return t.h.Resource() }

func (t *Handle) Write(p []byte) (int, error) {
	n, err := t.h.Write(p)
	t.log(err).Msgf("%s", CmdStyle.Render(fmt.Sprintf("write %q", p)))
	return n, err
}

func (t *Handle) Command(format string, a ...any) error {
	err := t.h.Command(format, a...)
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	t.log(err).Msgf("%s()", CmdStyle.Render(cmd))
	return err
}

func (t *Handle) Query(cmd string) (string, error) {
	s, err := t.h.Query(cmd)
	t.log(err).Msgf("%s: %s", CmdStyle.Render(cmd), Render(s))
	return s, err
}

func (t *Handle) QueryBlock(cmd string) ([]byte, error) {
	b, err := t.h.QueryBlock(cmd)
	t.log(err).Msgf("%s: block of %d bytes", CmdStyle.Render(cmd), len(b))
	return b, err
}

func (t *Handle) ReadLine() (string, error) {
	s, err := t.h.ReadLine()
	t.log(err).Msgf("read: %s", Render(s))
	return s, err
}

func (t *Handle) Close() error { return t.h.Close() }

func (t *Handle) log(err error) *zerolog.Event {
	if err != nil {
		return t.logger.Warn().Err(err)
	}
	return t.logger.Debug()
}

// Manager wraps the handles opened by a resource manager.
type Manager struct {
	labbench.ResourceManager
	logger zerolog.Logger
}

func WrapManager(rm labbench.ResourceManager, logger zerolog.Logger) *Manager {
	return &Manager{ResourceManager: rm, logger: logger}
}

func (m *Manager) OpenResource(resource string) (labbench.Handle, error) {
	h, err := m.ResourceManager.OpenResource(resource)
	if err != nil {
		return nil, err
	}
	return Wrap(h, m.logger), nil
}
