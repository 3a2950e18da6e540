// Package usbtmc carries instrument messages over USB Test & Measurement
// Class bulk endpoints.
package usbtmc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Bulk message ids.
const (
	DevDepMsgOut       = 1
	RequestDevDepMsgIn = 2
	DevDepMsgIn        = 2
)

const headerLen = 12

// bmTransferAttributes bits.
const (
	attrEOM      byte = 0x01
	attrTermChar byte = 0x02
)

// ErrShortHeader is returned for a bulk-in transfer shorter than a header.
var ErrShortHeader = errors.New("usbtmc: short bulk-in header")

func header(id, tag byte, size uint32, attr, term byte) []byte {
	h := make([]byte, headerLen)
	h[0] = id
	h[1] = tag
	h[2] = ^tag
	binary.LittleEndian.PutUint32(h[4:8], size)
	h[8] = attr
	h[9] = term
	return h
}

// EncodeOut frames data as a DEV_DEP_MSG_OUT transfer padded to a multiple
// of four bytes.
func EncodeOut(tag byte, data []byte, eom bool) []byte {
	var attr byte
	if eom {
		attr = attrEOM
	}
	b := append(header(DevDepMsgOut, tag, uint32(len(data)), attr, 0), data...)
	if pad := len(b) % 4; pad != 0 {
		b = append(b, make([]byte, 4-pad)...)
	}
	return b
}

// EncodeRequestIn frames a REQUEST_DEV_DEP_MSG_IN asking for up to max
// bytes. A term character below zero disables termination on it.
func EncodeRequestIn(tag byte, max uint32, term int) []byte {
	if term < 0 {
		return header(RequestDevDepMsgIn, tag, max, 0, 0)
	}
	return header(RequestDevDepMsgIn, tag, max, attrTermChar, byte(term))
}

// InHeader is the decoded header of a DEV_DEP_MSG_IN transfer.
type InHeader struct {
	Tag  byte
	Size uint32
	EOM  bool
}

// DecodeInHeader checks the header at the start of a bulk-in transfer
// answering the request with the given tag.
func DecodeInHeader(tag byte, b []byte) (InHeader, error) {
	if len(b) < headerLen {
		return InHeader{}, ErrShortHeader
	}
	if b[0] != DevDepMsgIn {
		return InHeader{}, fmt.Errorf("usbtmc: unexpected message id %d", b[0])
	}
	if b[1] != tag || b[2] != ^tag {
		return InHeader{}, fmt.Errorf("usbtmc: tag %d does not answer request %d", b[1], tag)
	}
	return InHeader{
		Tag:  b[1],
		Size: binary.LittleEndian.Uint32(b[4:8]),
		EOM:  b[8]&attrEOM != 0,
	}, nil
}
