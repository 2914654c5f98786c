// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package stream splits one direction of a TCP byte stream into complete
// MQTT frames.
package stream

import (
	"bytes"

	"github.com/mochi-mqtt/dissector/mempool"
	"github.com/mochi-mqtt/dissector/packets"
)

// probeBytes is the most bytes ProbeLength looks at: the fixed header byte
// and a four byte remaining length.
const probeBytes = 5

// ProbeLength returns the total size of the frame starting at head, using at
// most its first five bytes. ok is false while more bytes are needed to know
// the size. A remaining length which does not terminate within four bytes
// returns packets.ErrMalformedLength.
func ProbeLength(head []byte) (total int, ok bool, err error) {
	if len(head) < packets.MinFrameSize {
		return 0, false, nil
	}

	if len(head) > probeBytes {
		head = head[:probeBytes]
	}

	rem, n, err := packets.DecodeLength(head[1:])
	if err == packets.ErrNeedMoreBytes {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}

	return 1 + n + int(rem), true, nil
}

// Frame is one complete control packet as it appeared on the wire.
type Frame struct {
	Raw  []byte       // fixed header byte, remaining length, and body
	Type packets.Type // packet type from the fixed header
}

// Options contains configurable options for a Reassembler.
type Options struct {
	// Disabled turns off buffering across chunks. Each chunk is treated as
	// the start of exactly one frame and anything after that frame is dropped.
	Disabled bool

	// MaxFrameSize is the largest frame accepted, including its fixed header.
	// Zero allows the protocol maximum. Larger frames end the stream with
	// packets.ErrFrameTooLarge.
	MaxFrameSize uint32

	// Pool supplies the accumulation buffers. The default frame pool is used
	// if nil.
	Pool mempool.BufferPool
}

// Reassembler accumulates the chunks of one stream direction and returns
// complete frames in order. It is not safe for concurrent use.
type Reassembler struct {
	opts    Options
	buf     *bytes.Buffer // pending bytes, nil when empty
	pending []byte        // the last chunk, when disabled
	err     error         // sticky stream failure
}

// NewReassembler returns a new instance of Reassembler.
func NewReassembler(opts Options) *Reassembler {
	return &Reassembler{
		opts: opts,
	}
}

// Feed appends a chunk of the byte stream. The chunk is copied and may be
// reused by the caller. Once the stream has failed, the failure is returned.
func (r *Reassembler) Feed(chunk []byte) error {
	if r.err != nil {
		return r.err
	}

	if r.opts.Disabled {
		r.pending = append(r.pending[:0], chunk...)
		return nil
	}

	if len(chunk) == 0 {
		return nil
	}

	if r.buf == nil {
		r.buf = r.getBuffer()
	}
	r.buf.Write(chunk)

	return nil
}

// Next returns the next complete frame. ok is false when more bytes are needed.
// A stream failure (malformed remaining length or an oversized frame) is
// returned by this and every later call, as the frame boundaries of the
// direction can no longer be trusted.
func (r *Reassembler) Next() (f Frame, ok bool, err error) {
	if r.err != nil {
		return f, false, r.err
	}

	if r.opts.Disabled {
		return r.nextDisabled()
	}

	if r.buf == nil {
		return f, false, nil
	}

	b := r.buf.Bytes()
	total, ok, err := ProbeLength(b)
	if err != nil {
		return f, false, r.fail(err)
	}

	if !ok {
		return f, false, nil
	}

	if r.opts.MaxFrameSize > 0 && total > int(r.opts.MaxFrameSize) {
		return f, false, r.fail(packets.ErrFrameTooLarge)
	}

	if len(b) < total {
		return f, false, nil
	}

	f.Raw = make([]byte, total)
	copy(f.Raw, b)
	f.Type = packets.Type(f.Raw[0] >> 4)

	r.buf.Next(total)
	if r.buf.Len() == 0 {
		r.putBuffer()
	}

	return f, true, nil
}

// nextDisabled returns the frame at the start of the last chunk. A chunk which
// is shorter than its declared length is returned whole so that decoding can
// report what is missing.
func (r *Reassembler) nextDisabled() (f Frame, ok bool, err error) {
	if len(r.pending) == 0 {
		return f, false, nil
	}

	chunk := r.pending
	r.pending = nil

	total, known, err := ProbeLength(chunk)
	if err != nil {
		return f, false, err
	}

	if known {
		if r.opts.MaxFrameSize > 0 && total > int(r.opts.MaxFrameSize) {
			return f, false, packets.ErrFrameTooLarge
		}

		if total < len(chunk) {
			chunk = chunk[:total]
		}
	}

	f.Raw = chunk
	f.Type = packets.Type(chunk[0] >> 4)
	return f, true, nil
}

// Buffered returns the number of bytes held that have not been returned as frames.
func (r *Reassembler) Buffered() int {
	if r.opts.Disabled {
		return len(r.pending)
	}

	if r.buf == nil {
		return 0
	}

	return r.buf.Len()
}

// Err returns the stream failure, if any.
func (r *Reassembler) Err() error {
	return r.err
}

// Release drops any pending bytes and returns the accumulation buffer to the
// pool. The sticky failure, if any, is kept.
func (r *Reassembler) Release() {
	r.pending = nil
	r.putBuffer()
}

func (r *Reassembler) fail(err error) error {
	r.err = err
	r.putBuffer()
	return err
}

func (r *Reassembler) getBuffer() *bytes.Buffer {
	if r.opts.Pool != nil {
		return r.opts.Pool.Get()
	}
	return mempool.GetBuffer()
}

func (r *Reassembler) putBuffer() {
	if r.buf == nil {
		return
	}

	if r.opts.Pool != nil {
		r.opts.Pool.Put(r.buf)
	} else {
		mempool.PutBuffer(r.buf)
	}
	r.buf = nil
}
