// Copyright (c) 2020–2024 The labbench developers. All rights reserved.
// Project site: https://github.com/gotmc/labbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labbench

import (
	"fmt"
	"strings"
)

// IdentifyQuery is the IEEE 488.2 identification query.
const IdentifyQuery = "*IDN?"

// Identity is the self-identification of an instrument, as returned by
// *IDN?. It is read once and never modified.
type Identity struct {
	Manufacturer string
	Name         string
	Serial       string
	Version      string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", id.Manufacturer, id.Name, id.Serial, id.Version)
}

// ParseIdentity splits an *IDN? response into its four comma separated
// fields. Any other field count is a decode error.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return Identity{}, &DecodeError{
			Query:    IdentifyQuery,
			Response: s,
			Err:      fmt.Errorf("want 4 fields, got %d", len(parts)),
		}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return Identity{
		Manufacturer: parts[0],
		Name:         parts[1],
		Serial:       parts[2],
		Version:      parts[3],
	}, nil
}

// Identify queries and parses the identity of the instrument behind h.
func Identify(h Handle) (Identity, error) {
	s, err := h.Query(IdentifyQuery)
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(s)
}

// CheckIdentity identifies h and fails with *IdentityMismatchError unless the
// device name equals name. Drivers call it from their constructor.
func CheckIdentity(h Handle, name string) (Identity, error) {
	s, err := h.Query(IdentifyQuery)
	if err != nil {
		return Identity{}, err
	}
	id, err := ParseIdentity(s)
	if err != nil {
		return Identity{}, &IdentityMismatchError{Resource: h.Resource(), Want: name, Got: strings.TrimSpace(s)}
	}
	if id.Name != name {
		return Identity{}, &IdentityMismatchError{Resource: h.Resource(), Want: name, Got: id.Name}
	}
	return id, nil
}
