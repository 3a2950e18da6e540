package arduino

import (
	"errors"
	"testing"

	"github.com/gotmc/labbench"
	"github.com/matryer/is"
)

func TestEncode(t *testing.T) {
	is := is.New(t)
	is.Equal(string(EncodeGet("temp_1")), "temp?\n")
	is.Equal(string(EncodeGetAll()), "?\n")
	is.Equal(string(EncodeExec("go!")), "go.\n")
	is.Equal(string(EncodeSet("led 2", "on")), "led:on\n")
	is.Equal(FilterName("a:b|c.d?"), "abcd")
}

func TestParseValues(t *testing.T) {
	is := is.New(t)

	v, err := ParseValues("temp:25.3|hum:40\r\n")
	is.NoErr(err)
	is.Equal(v, map[string]string{"temp": "25.3", "hum": "40"})

	v, err = ParseValues("")
	is.NoErr(err)
	is.Equal(len(v), 0)

	_, err = ParseValues("temp:1|broken")
	is.True(errors.Is(err, labbench.ErrDecode))

	is.True(IsInterrupt("!overheat"))
	is.True(!IsInterrupt("temp:1"))
}
