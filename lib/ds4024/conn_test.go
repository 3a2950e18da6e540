package ds4024

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/gotmc/labbench"
	"github.com/matryer/is"
)

// wire replays the bytes a scope sends back and records what it is sent.
type wire struct {
	io.Reader
	sent bytes.Buffer
}

func (w *wire) Write(p []byte) (int, error) { return w.sent.Write(p) }
func (w *wire) Close() error                { return nil }

// The record is larger than the reader buffer of a Conn and is followed by
// the scaling queries on the same stream.
func TestGetCurveOverConn(t *testing.T) {
	is := is.New(t)
	const depth = 14000
	replies := strings.Join([]string{
		"RIGOL TECHNOLOGIES,DS4024,DS4A000000001,00.01.03\n",
		"14000\n",
		"IDLE,14000\n",
		"#9000014000" + strings.Repeat("\x80", depth) + "\n",
		"5.000000e-02\n",
		"128\n",
		"0\n",
		"0\n",
		"1.000000e-06\n",
		"0\n",
	}, "")
	w := &wire{Reader: strings.NewReader(replies)}
	s, err := New(labbench.NewConn(resource, w), WithPollInterval(0))
	is.NoErr(err)

	c, err := s.GetCurve(context.Background(), Channel1, CurveOptions{})
	is.NoErr(err)
	is.Equal(s.State(), Decoded)
	is.Equal(c.Len(), depth)
	is.Equal(c.Value[0], 0.0)
	is.Equal(c.Value[depth-1], 0.0)
	is.Equal(c.Time[depth/2], 0.0)

	is.True(strings.HasSuffix(w.sent.String(),
		":WAV:DATA?\n:WAV:END\n:WAV:YINC?\n:WAV:YREF?\n:WAV:YOR?\n:CHAN1:INV?\n:WAV:XINC?\n:TIM:OFFS?\n"))
}
