package enum

import (
	"errors"
	"testing"

	"github.com/gotmc/labbench"
	"github.com/matryer/is"
)

type slope int

const (
	positive slope = iota
	negative
	either
)

var slopes = map[slope]string{
	positive: "POS",
	negative: "NEG",
	either:   "RFAL",
}

func TestTokenAndParse(t *testing.T) {
	is := is.New(t)
	tab := Must("slope", slopes, WithAlias("POSITIVE", "POS"))

	tok, err := tab.Token(either)
	is.NoErr(err)
	is.Equal(tok, "RFAL")

	v, err := tab.Parse("neg\n")
	is.NoErr(err)
	is.Equal(v, negative)

	v, err = tab.Parse("POSITIVE")
	is.NoErr(err)
	is.Equal(v, positive)
}

func TestParseIsExact(t *testing.T) {
	is := is.New(t)
	tab := Must("slope", slopes)

	// a substring search would have matched NEG here
	_, err := tab.Parse("NEGATIVE")
	is.True(errors.Is(err, labbench.ErrDecode))
	var de *labbench.DecodeError
	is.True(errors.As(err, &de))
	is.Equal(de.Response, "NEGATIVE")
}

func TestInvalidValue(t *testing.T) {
	is := is.New(t)
	tab := Must("slope", slopes)
	_, err := tab.Token(slope(42))
	is.True(err != nil)
}

func TestDuplicateTokenRejected(t *testing.T) {
	is := is.New(t)
	_, err := New("dup", map[int]string{1: "ON", 2: " on "})
	is.True(err != nil)

	_, err = New("empty", map[int]string{1: ""})
	is.True(err != nil)

	_, err = New("alias", map[int]string{1: "A", 2: "B"}, WithAlias("B", "A"))
	is.True(err != nil)
}

func TestFloatNormalizer(t *testing.T) {
	is := is.New(t)
	tab := Must("ratio", map[int]string{1: "0.01", 2: "10", 3: "1000"}, WithNormalizer(Float))

	v, err := tab.Parse("1.000000e+01")
	is.NoErr(err)
	is.Equal(v, 2)

	v, err = tab.Parse("1.0E-2")
	is.NoErr(err)
	is.Equal(v, 1)

	_, err = New("ratio", map[int]string{1: "10", 2: "10.0"}, WithNormalizer(Float))
	is.True(err != nil)
}
