// Package enum maps closed option sets to their wire tokens and back.
//
// A Table is built once per option type and validated for uniqueness when it
// is created, so a duplicate or colliding token is a startup failure rather
// than a lookup that silently depends on ordering. Replies are parsed by exact
// (normalized) token match.
package enum

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/labbench"
)

// Normalizer canonicalizes a token before comparison.
type Normalizer func(string) string

// Table is a bidirectional mapping between option values and wire tokens.
type Table[T comparable] struct {
	name   string
	tokens map[T]string
	values map[string]T
	norm   Normalizer
}

// Option applies an option to a Table.
type Option func(*options)

type options struct {
	norm    Normalizer
	aliases map[string]string
}

// WithNormalizer replaces the default normalizer (trim and upper case).
func WithNormalizer(n Normalizer) Option {
	return func(o *options) { o.norm = n }
}

// WithAlias accepts alias as an additional reply token for the value whose
// canonical token is token. Instruments often answer with the long form of a
// keyword.
func WithAlias(alias, token string) Option {
	return func(o *options) {
		if o.aliases == nil {
			o.aliases = map[string]string{}
		}
		o.aliases[alias] = token
	}
}

// Upper is the default normalizer.
func Upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Float normalizes numeric tokens so that "10", "10.0" and "1.000000e+01"
// compare equal. Non numeric input falls back to Upper.
func Float(s string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Upper(s)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// New builds a table named name (used in error messages) from pairs. It fails
// when two values share a token after normalization, or when a token is
// empty.
func New[T comparable](name string, pairs map[T]string, opts ...Option) (*Table[T], error) {
	o := options{norm: Upper}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Table[T]{
		name:   name,
		tokens: make(map[T]string, len(pairs)),
		values: make(map[string]T, len(pairs)),
		norm:   o.norm,
	}
	for v, tok := range pairs {
		key := t.norm(tok)
		if key == "" {
			return nil, fmt.Errorf("enum %s: empty token for %v", name, v)
		}
		if other, dup := t.values[key]; dup {
			return nil, fmt.Errorf("enum %s: token %q used by both %v and %v", name, tok, other, v)
		}
		t.tokens[v] = tok
		t.values[key] = v
	}
	for alias, tok := range o.aliases {
		v, ok := t.values[t.norm(tok)]
		if !ok {
			return nil, fmt.Errorf("enum %s: alias %q for unknown token %q", name, alias, tok)
		}
		key := t.norm(alias)
		if other, dup := t.values[key]; dup && other != v {
			return nil, fmt.Errorf("enum %s: alias %q collides with %v", name, alias, other)
		}
		t.values[key] = v
	}
	return t, nil
}

// Must is like New but panics on error. It is meant for package level tables.
func Must[T comparable](name string, pairs map[T]string, opts ...Option) *Table[T] {
	t, err := New(name, pairs, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the table name.
func (t *Table[T]) Name() string { return t.name }

// Len returns the number of values.
func (t *Table[T]) Len() int { return len(t.tokens) }

// Token returns the wire token of v. A value outside the table is a
// programming error and is reported before anything reaches the wire.
func (t *Table[T]) Token(v T) (string, error) {
	tok, ok := t.tokens[v]
	if !ok {
		return "", fmt.Errorf("enum %s: invalid value %v", t.name, v)
	}
	return tok, nil
}

// Parse returns the value whose token equals s after normalization. An
// unknown token is a *labbench.DecodeError.
func (t *Table[T]) Parse(s string) (T, error) {
	v, ok := t.values[t.norm(s)]
	if !ok {
		var zero T
		return zero, labbench.NewDecodeError(t.name, strings.TrimSpace(s), fmt.Errorf("unknown token"))
	}
	return v, nil
}
