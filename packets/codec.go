// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

// maxLengthBytes is the most bytes a remaining length field may occupy.
const maxLengthBytes = 4

// DecodeLength decodes a remaining length value from the start of b, returning
// the value and the number of bytes it occupied (1-4). ErrNeedMoreBytes is
// returned if b ends before the terminating byte was seen, and ErrMalformedLength
// if the fourth byte still has its continuation bit set.
func DecodeLength(b []byte) (uint32, int, error) {
	// see 1.5.5 Variable Byte Integer decode non-normative
	var value uint32
	var shift uint
	for i := 0; i < maxLengthBytes; i++ {
		if i >= len(b) {
			return 0, 0, ErrNeedMoreBytes
		}

		eb := b[i]
		value |= uint32(eb&127) << shift
		if eb&128 == 0 {
			return value, i + 1, nil
		}

		shift += 7
	}

	return 0, 0, ErrMalformedLength
}

// EncodeLength writes the minimal remaining length encoding of v to buf.
func EncodeLength(buf *bytes.Buffer, v uint32) error {
	if v > MaxRemainingLength {
		return ErrLengthExceedsMaximum
	}

	for {
		eb := byte(v % 128)
		v /= 128
		if v > 0 {
			eb |= 0x80
		}
		buf.WriteByte(eb)
		if v == 0 {
			break // [MQTT-1.5.5-1]
		}
	}

	return nil
}

// LengthSize returns the number of bytes EncodeLength uses for v.
func LengthSize(v uint32) int {
	switch {
	case v < 128:
		return 1
	case v < 16384:
		return 2
	case v < 2097152:
		return 3
	}
	return 4
}

// validUTF8 checks if the byte array contains valid UTF-8 characters.
func validUTF8(b []byte) bool {
	return utf8.Valid(b) && bytes.IndexByte(b, 0x00) == -1 // [MQTT-1.5.3-1] [MQTT-1.5.3-2]
}

// reader walks the variable header and payload of a single frame. Every read is
// bounded twice: by the running remaining-length budget, and by the bytes the
// frame actually holds.
type reader struct {
	buf       []byte // frame bytes following the fixed header
	off       int    // cursor into buf
	remaining int    // bytes of the declared remaining length not yet consumed
	typ       Type   // packet type, for error reporting
	strict    bool   // validate strings
	inLoop    bool   // reading a repeated entry
}

// fail returns the structural error for a short read of field.
func (r *reader) fail(field string) error {
	code := ErrTruncatedFrame
	if r.inLoop {
		code = ErrUnderrunInLoop
	}
	return &DecodeError{Type: r.typ, Field: field, Err: code}
}

// take advances the cursor by n bytes and returns them without copying.
func (r *reader) take(n int, field string) ([]byte, error) {
	if n > r.remaining || r.off+n > len(r.buf) {
		return nil, r.fail(field)
	}

	b := r.buf[r.off : r.off+n]
	r.off += n
	r.remaining -= n
	return b, nil
}

// decodeByte extracts the value of a byte.
func (r *reader) decodeByte(field string) (byte, error) {
	b, err := r.take(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// decodeUint16 extracts the value of two big-endian bytes.
func (r *reader) decodeUint16(field string) (uint16, error) {
	b, err := r.take(2, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// decodeBytes extracts a copy of a length-prefixed byte array.
func (r *reader) decodeBytes(field string) ([]byte, error) {
	n, err := r.decodeUint16(field + " length")
	if err != nil {
		return nil, err
	}

	b, err := r.take(int(n), field)
	if err != nil {
		return nil, err
	}

	return append([]byte{}, b...), nil
}

// decodeString extracts a length-prefixed string.
func (r *reader) decodeString(field string) (string, error) {
	n, err := r.decodeUint16(field + " length")
	if err != nil {
		return "", err
	}

	b, err := r.take(int(n), field)
	if err != nil {
		return "", err
	}

	if r.strict && !validUTF8(b) { // [MQTT-1.5.3-1]
		return "", &DecodeError{Type: r.typ, Field: field, Err: ErrMalformedInvalidUTF8}
	}

	return string(b), nil
}

// rest returns a copy of everything left in the budget.
func (r *reader) rest(field string) ([]byte, error) {
	b, err := r.take(r.remaining, field)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, b...), nil
}
