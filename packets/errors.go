// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"errors"
	"fmt"
)

// Class groups decoding failures by how far their damage reaches.
type Class byte

const (
	ClassIncomplete Class = iota // not an error: wait for more input
	ClassStream                  // the byte stream can no longer be framed
	ClassPacket                  // only the current frame is affected
)

// Code contains a failure class and reason string for a decoding result.
type Code struct {
	Reason string
	Class  Class
}

// String returns the readable reason for a code.
func (c Code) String() string {
	return c.Reason
}

// Error returns the readable reason for a code.
func (c Code) Error() string {
	return c.Reason
}

var (
	ErrNeedMoreBytes        = Code{Class: ClassIncomplete, Reason: "need more bytes"}
	ErrMalformedLength      = Code{Class: ClassStream, Reason: "malformed remaining length: continuation past fourth byte"}
	ErrFrameTooLarge        = Code{Class: ClassStream, Reason: "frame exceeds maximum frame size"}
	ErrLengthExceedsMaximum = Code{Class: ClassStream, Reason: "remaining length exceeds 268435455"}
	ErrTruncatedFrame       = Code{Class: ClassPacket, Reason: "truncated frame"}
	ErrUnderrunInLoop       = Code{Class: ClassPacket, Reason: "byte budget exhausted mid-entry"}
	ErrInvalidFlags         = Code{Class: ClassPacket, Reason: "invalid flags set for packet"}
	ErrMalformedInvalidUTF8 = Code{Class: ClassPacket, Reason: "invalid utf-8 string"}
	ErrProtocolViolation    = Code{Class: ClassPacket, Reason: "protocol violation"}
)

// DecodeError reports a packet-local failure together with the packet type
// and field that was being decoded when it occurred.
type DecodeError struct {
	Err   Code
	Field string
	Type  Type
}

// Error returns the readable error.
func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Err.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Field, e.Err.Reason)
}

// Unwrap returns the underlying code.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsStreamFatal returns true if err means the stream direction it came from
// can no longer be split into frames.
func IsStreamFatal(err error) bool {
	var c Code
	if errors.As(err, &c) {
		return c.Class == ClassStream
	}
	return false
}
