// Copyright (c) 2020–2024 The labbench developers. All rights reserved.
// Project site: https://github.com/gotmc/labbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labbench

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// MaxBlockLen bounds the length a block header may announce.
const MaxBlockLen = 1 << 28

// ReadBlock reads an IEEE 488.2 arbitrary block from r.
//
//	#<n><n digits of length><length bytes>[term]
//
// The terminator following a definite block is consumed, waiting for it if
// needed; a stream that ends or times out right after the data is accepted.
// An indefinite block (#0) extends up to the terminator, which is dropped.
// Header violations are reported as *DecodeError, short reads as the
// underlying io error.
func ReadBlock(r *bufio.Reader, term byte) ([]byte, error) {
	hdr, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hdr != '#' {
		return nil, &DecodeError{Query: "block", Response: string(hdr), Err: fmt.Errorf("invalid header: want # got %q", hdr)}
	}
	nd, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if nd < '0' || nd > '9' {
		return nil, &DecodeError{Query: "block", Response: string(nd), Err: fmt.Errorf("invalid length digit count %q", nd)}
	}
	if nd == '0' {
		b, err := r.ReadBytes(term)
		if err != nil {
			return nil, err
		}
		return b[:len(b)-1], nil
	}

	digits := make([]byte, int(nd-'0'))
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, &DecodeError{Query: "block", Response: string(digits), Err: err}
	}
	if n < 0 || n > MaxBlockLen {
		return nil, &DecodeError{Query: "block", Response: string(digits), Err: fmt.Errorf("block length %d out of range 0-%d", n, MaxBlockLen)}
	}

	// grow with the data actually received, not with the announced length
	var buf bytes.Buffer
	buf.Grow(min(n, 1<<20))
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	skipTerminator(r, term)
	return buf.Bytes(), nil
}

// skipTerminator consumes an optional CR and the terminator that follow a
// definite block. Anything else is left in r.
func skipTerminator(r *bufio.Reader, term byte) {
	c, err := r.ReadByte()
	if err != nil {
		return
	}
	if c == '\r' && term != '\r' {
		if c, err = r.ReadByte(); err != nil {
			return
		}
	}
	if c != term {
		_ = r.UnreadByte()
	}
}
