// Copyright (c) 2020–2024 The labbench developers. All rights reserved.
// Project site: https://github.com/gotmc/labbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labbench

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is.
var (
	ErrIdentityMismatch = errors.New("identity mismatch")
	ErrCommunication    = errors.New("communication error")
	ErrDecode           = errors.New("decode error")
	ErrClosed           = errors.New("handle closed")
)

// IdentityMismatchError is returned when a driver is constructed for a device
// whose self-identification names another instrument.
type IdentityMismatchError struct {
	Resource string
	Want     string
	Got      string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("%s: instrument is not a %s (identifies as %q)", e.Resource, e.Want, e.Got)
}

func (e *IdentityMismatchError) Is(target error) bool { return target == ErrIdentityMismatch }

// CommunicationError wraps any transport level failure of a write or query.
type CommunicationError struct {
	Resource string
	Op       string
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Resource, e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

func (e *CommunicationError) Is(target error) bool { return target == ErrCommunication }

// DecodeError reports a response that could not be parsed into the expected
// type. Response holds the raw text, trimmed.
type DecodeError struct {
	Query    string
	Response string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot decode response %q to %q", e.Response, e.Query)
	}
	return fmt.Sprintf("cannot decode response %q to %q: %s", e.Response, e.Query, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// NewDecodeError is a convenience for drivers.
func NewDecodeError(query, response string, err error) error {
	return &DecodeError{Query: query, Response: response, Err: err}
}
