// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mempool pools the byte buffers that hold partially received frames.
package mempool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// DefaultMaxCap is the largest buffer the default pool takes back. Buffers that
// grew to hold a bigger frame are left to the garbage collector.
const DefaultMaxCap = 64 * 1024

var framePool = NewBuffer(DefaultMaxCap)

// GetBuffer takes a Buffer from the default frame buffer pool.
func GetBuffer() *bytes.Buffer { return framePool.Get() }

// PutBuffer returns a Buffer to the default frame buffer pool.
func PutBuffer(x *bytes.Buffer) { framePool.Put(x) }

// BufferPool hands out reusable buffers.
type BufferPool interface {
	Get() *bytes.Buffer
	Put(x *bytes.Buffer)
}

// Stats contains the lifetime counters of a pool.
type Stats struct {
	Gets    int64 `json:"gets"`
	Puts    int64 `json:"puts"`
	Dropped int64 `json:"dropped"` // buffers refused for exceeding the capacity ceiling
}

// Buffer is a buffer pool. If max is positive, buffers whose capacity exceeds
// max are not returned to the pool.
type Buffer struct {
	pool    sync.Pool
	max     int
	gets    atomic.Int64
	puts    atomic.Int64
	dropped atomic.Int64
}

// NewBuffer returns a buffer pool. If max <= 0, no ceiling is enforced.
func NewBuffer(max int) *Buffer {
	b := &Buffer{max: max}
	b.pool.New = func() any { return new(bytes.Buffer) }
	return b
}

// Get a Buffer from the pool.
func (b *Buffer) Get() *bytes.Buffer {
	b.gets.Add(1)
	return b.pool.Get().(*bytes.Buffer)
}

// Put resets the Buffer and places it back into the pool, unless it has grown
// beyond the capacity ceiling.
func (b *Buffer) Put(x *bytes.Buffer) {
	if x == nil {
		return
	}

	if b.max > 0 && x.Cap() > b.max {
		b.dropped.Add(1)
		return
	}

	b.puts.Add(1)
	x.Reset()
	b.pool.Put(x)
}

// Stats returns the pool counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Gets:    b.gets.Load(),
		Puts:    b.puts.Load(),
		Dropped: b.dropped.Load(),
	}
}

// DefaultStats returns the counters of the default frame buffer pool.
func DefaultStats() Stats {
	return framePool.Stats()
}
