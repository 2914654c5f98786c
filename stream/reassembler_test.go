// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package stream

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/dissector/mempool"
	"github.com/mochi-mqtt/dissector/packets"
)

// primaryFrames returns every well-formed fixture frame in a stable order.
func primaryFrames() []packets.TPacketCase {
	types := make([]int, 0, len(packets.TPacketData))
	for typ := range packets.TPacketData {
		types = append(types, int(typ))
	}
	sort.Ints(types)

	var out []packets.TPacketCase
	for _, typ := range types {
		for _, wanted := range packets.TPacketData[packets.Type(typ)] {
			if wanted.Primary {
				out = append(out, wanted)
			}
		}
	}
	return out
}

// drain feeds each chunk in turn and collects every frame returned.
func drain(t *testing.T, r *Reassembler, chunks ...[]byte) []Frame {
	t.Helper()
	var frames []Frame
	for _, c := range chunks {
		require.NoError(t, r.Feed(c))
		for {
			f, ok, err := r.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			frames = append(frames, f)
		}
	}
	return frames
}

func TestProbeLength(t *testing.T) {
	tt := []struct {
		desc  string
		head  []byte
		total int
		ok    bool
		err   error
	}{
		{desc: "empty", head: []byte{}},
		{desc: "header only", head: []byte{0x30}},
		{desc: "zero length", head: []byte{0xC0, 0x00}, total: 2, ok: true},
		{desc: "continuation", head: []byte{0x30, 0x80}},
		{desc: "two byte length", head: []byte{0x30, 0xC1, 0x02}, total: 324, ok: true},
		{desc: "maximum", head: []byte{0x30, 0xFF, 0xFF, 0xFF, 0x7F}, total: 1 + 4 + packets.MaxRemainingLength, ok: true},
		{desc: "malformed", head: []byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF}, err: packets.ErrMalformedLength},
		{desc: "sixth byte ignored", head: []byte{0x30, 0x80, 0x80, 0x80, 0x80, 0x00}, err: packets.ErrMalformedLength},
		{desc: "body ignored", head: []byte{0x40, 0x02, 0x00, 0x07, 0xFF}, total: 4, ok: true},
	}

	for _, tx := range tt {
		total, ok, err := ProbeLength(tx.head)
		if tx.err != nil {
			require.ErrorIs(t, err, tx.err, tx.desc)
			continue
		}
		require.NoError(t, err, tx.desc)
		require.Equal(t, tx.ok, ok, tx.desc)
		require.Equal(t, tx.total, total, tx.desc)
	}
}

func TestReassemblerWhole(t *testing.T) {
	for _, wanted := range primaryFrames() {
		r := NewReassembler(Options{})
		frames := drain(t, r, wanted.RawBytes)
		require.Len(t, frames, 1, wanted.Desc)
		require.Equal(t, wanted.RawBytes, frames[0].Raw, wanted.Desc)
		require.Equal(t, wanted.Packet.Header().Type, frames[0].Type, wanted.Desc)
		require.Equal(t, 0, r.Buffered())
	}
}

func TestReassemblerChunkInvariance(t *testing.T) {
	for _, wanted := range primaryFrames() {
		raw := wanted.RawBytes

		// one byte at a time
		r := NewReassembler(Options{})
		var chunks [][]byte
		for i := range raw {
			chunks = append(chunks, raw[i:i+1])
		}
		frames := drain(t, r, chunks...)
		require.Len(t, frames, 1, wanted.Desc)
		require.Equal(t, raw, frames[0].Raw, wanted.Desc)

		// every split into two chunks
		for i := 0; i <= len(raw); i++ {
			r := NewReassembler(Options{})
			frames := drain(t, r, raw[:i], raw[i:])
			require.Len(t, frames, 1, "%s split %d", wanted.Desc, i)
			require.Equal(t, raw, frames[0].Raw, "%s split %d", wanted.Desc, i)
		}
	}
}

func TestReassemblerChunkInvarianceDecoded(t *testing.T) {
	for _, wanted := range primaryFrames() {
		whole := drain(t, NewReassembler(Options{}), wanted.RawBytes)
		split := drain(t, NewReassembler(Options{}), wanted.RawBytes[:1], wanted.RawBytes[1:])

		a, err := packets.Decode(whole[0].Raw, nil)
		require.NoError(t, err, wanted.Desc)
		b, err := packets.Decode(split[0].Raw, nil)
		require.NoError(t, err, wanted.Desc)
		require.Equal(t, a, b, wanted.Desc)
	}
}

func TestReassemblerFrameCountAdditive(t *testing.T) {
	cases := primaryFrames()
	stream := new(bytes.Buffer)
	for _, wanted := range cases {
		stream.Write(wanted.RawBytes)
	}

	frames := drain(t, NewReassembler(Options{}), stream.Bytes())
	require.Len(t, frames, len(cases))
	for i, wanted := range cases {
		require.Equal(t, wanted.RawBytes, frames[i].Raw, wanted.Desc)
	}

	// the same stream in seven byte chunks
	var chunks [][]byte
	b := stream.Bytes()
	for len(b) > 0 {
		n := 7
		if n > len(b) {
			n = len(b)
		}
		chunks = append(chunks, b[:n])
		b = b[n:]
	}

	frames = drain(t, NewReassembler(Options{}), chunks...)
	require.Len(t, frames, len(cases))
}

func TestReassemblerPartial(t *testing.T) {
	raw := packets.TPacketData[packets.Publish].Get(packets.TPublishQos1).RawBytes
	r := NewReassembler(Options{})
	require.NoError(t, r.Feed(raw[:5]))

	_, ok, err := r.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5, r.Buffered())

	require.NoError(t, r.Feed(raw[5:]))
	f, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, raw, f.Raw)
	require.Equal(t, 0, r.Buffered())
}

func TestReassemblerFrameIsCopy(t *testing.T) {
	raw := append([]byte{}, packets.TPacketData[packets.Puback].Get(packets.TPuback).RawBytes...)
	r := NewReassembler(Options{})
	require.NoError(t, r.Feed(raw))
	raw[3] = 0xFF

	f, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, byte(7), f.Raw[3])

	require.NoError(t, r.Feed([]byte{0x40, 0x02, 0x00, 0x09}))
	require.Equal(t, byte(7), f.Raw[3])
}

func TestReassemblerStickyMalformed(t *testing.T) {
	r := NewReassembler(Options{})
	require.NoError(t, r.Feed([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}))

	_, ok, err := r.Next()
	require.False(t, ok)
	require.ErrorIs(t, err, packets.ErrMalformedLength)
	require.True(t, packets.IsStreamFatal(err))
	require.Equal(t, 0, r.Buffered())

	err = r.Feed(packets.TPacketData[packets.Pingreq].Get(packets.TPingreq).RawBytes)
	require.ErrorIs(t, err, packets.ErrMalformedLength)

	_, ok, err = r.Next()
	require.False(t, ok)
	require.ErrorIs(t, err, packets.ErrMalformedLength)
	require.ErrorIs(t, r.Err(), packets.ErrMalformedLength)
}

func TestReassemblerMaxFrameSize(t *testing.T) {
	r := NewReassembler(Options{MaxFrameSize: 4})
	frames := drain(t, r, packets.TPacketData[packets.Puback].Get(packets.TPuback).RawBytes)
	require.Len(t, frames, 1)

	// only the header is needed to reject the frame
	require.NoError(t, r.Feed([]byte{0x30, 0x7F}))
	_, ok, err := r.Next()
	require.False(t, ok)
	require.ErrorIs(t, err, packets.ErrFrameTooLarge)

	_, _, err = r.Next()
	require.ErrorIs(t, err, packets.ErrFrameTooLarge)
}

func TestReassemblerEmptyChunk(t *testing.T) {
	r := NewReassembler(Options{})
	require.NoError(t, r.Feed(nil))
	_, ok, err := r.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReassemblerDisabled(t *testing.T) {
	puback := packets.TPacketData[packets.Puback].Get(packets.TPuback).RawBytes
	ping := packets.TPacketData[packets.Pingreq].Get(packets.TPingreq).RawBytes

	r := NewReassembler(Options{Disabled: true})
	chunk := append(append([]byte{}, puback...), ping...)
	require.NoError(t, r.Feed(chunk))
	require.Equal(t, len(chunk), r.Buffered())

	f, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, puback, f.Raw)
	require.Equal(t, packets.Puback, f.Type)

	// the rest of the chunk is not framed
	_, ok, err = r.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, r.Buffered())
}

func TestReassemblerDisabledTruncated(t *testing.T) {
	raw := packets.TPacketData[packets.Publish].Get(packets.TPublishQos1).RawBytes
	r := NewReassembler(Options{Disabled: true})
	require.NoError(t, r.Feed(raw[:6]))

	f, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, raw[:6], f.Raw)

	_, err = packets.Decode(f.Raw, nil)
	require.ErrorIs(t, err, packets.ErrTruncatedFrame)

	// nothing carries over to the next chunk
	require.NoError(t, r.Feed(raw[6:8]))
	f, ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, raw[6:8], f.Raw)
}

func TestReassemblerDisabledMalformedNotSticky(t *testing.T) {
	r := NewReassembler(Options{Disabled: true})
	require.NoError(t, r.Feed([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF}))
	_, _, err := r.Next()
	require.ErrorIs(t, err, packets.ErrMalformedLength)

	require.NoError(t, r.Feed([]byte{0xD0, 0x00}))
	f, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, packets.Pingresp, f.Type)
}

func TestReassemblerPool(t *testing.T) {
	pool := mempool.NewBuffer(0)
	r := NewReassembler(Options{Pool: pool})
	raw := packets.TPacketData[packets.Subscribe].Get(packets.TSubscribeMany).RawBytes

	require.NoError(t, r.Feed(raw[:10]))
	require.Equal(t, int64(1), pool.Stats().Gets)

	drain(t, r, raw[10:])
	require.Equal(t, int64(1), pool.Stats().Puts)

	require.NoError(t, r.Feed(raw[:3]))
	r.Release()
	require.Equal(t, 0, r.Buffered())
	require.Equal(t, int64(2), pool.Stats().Gets)
	require.Equal(t, int64(2), pool.Stats().Puts)
}
