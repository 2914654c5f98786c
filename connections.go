// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package dissector

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardCount is the number of independently locked partitions of the
// connection table.
const shardCount = 32

// connShard is one partition of the connection table.
type connShard struct {
	internal map[string]*Conn
	sync.RWMutex
}

// Connections is a map of connections keyed by connection id. Lookups of
// different ids only contend when they hash to the same shard.
type Connections struct {
	opts   ConnOptions
	shards [shardCount]*connShard
}

// NewConnections returns an instance of Connections. New connections are
// created with opts.
func NewConnections(opts ConnOptions) *Connections {
	c := &Connections{opts: opts}
	for i := range c.shards {
		c.shards[i] = &connShard{
			internal: make(map[string]*Conn),
		}
	}
	return c
}

func (c *Connections) shard(id string) *connShard {
	return c.shards[xxhash.Sum64String(id)%shardCount]
}

// Add adds a new connection to the map, replacing any with the same id.
func (c *Connections) Add(cl *Conn) {
	s := c.shard(cl.ID)
	s.Lock()
	defer s.Unlock()
	s.internal[cl.ID] = cl
}

// New returns a connection created with the options of the map, without
// adding it.
func (c *Connections) New(id string) *Conn {
	return newConn(id, c.opts)
}

// GetOrCreate returns the connection for id, creating it with a fresh
// state if it does not exist. created is true if the connection is new.
func (c *Connections) GetOrCreate(id string) (cl *Conn, created bool) {
	s := c.shard(id)
	s.RLock()
	cl, ok := s.internal[id]
	s.RUnlock()
	if ok {
		return cl, false
	}

	s.Lock()
	defer s.Unlock()
	if cl, ok := s.internal[id]; ok {
		return cl, false
	}

	cl = newConn(id, c.opts)
	s.internal[id] = cl
	return cl, true
}

// Get returns the value of a connection if it exists.
func (c *Connections) Get(id string) (*Conn, bool) {
	s := c.shard(id)
	s.RLock()
	defer s.RUnlock()
	cl, ok := s.internal[id]
	return cl, ok
}

// GetAll returns all the connections.
func (c *Connections) GetAll() map[string]*Conn {
	m := map[string]*Conn{}
	for _, s := range c.shards {
		s.RLock()
		for k, v := range s.internal {
			m[k] = v
		}
		s.RUnlock()
	}
	return m
}

// GetByListener returns the connections which arrived on a listener.
func (c *Connections) GetByListener(id string) []*Conn {
	var conns []*Conn
	for _, s := range c.shards {
		s.RLock()
		for _, cl := range s.internal {
			if cl.Net.Listener == id {
				conns = append(conns, cl)
			}
		}
		s.RUnlock()
	}
	return conns
}

// Len returns the number of connections.
func (c *Connections) Len() int {
	n := 0
	for _, s := range c.shards {
		s.RLock()
		n += len(s.internal)
		s.RUnlock()
	}
	return n
}

// Delete removes a connection from the map, returning it if it was present.
func (c *Connections) Delete(id string) (*Conn, bool) {
	s := c.shard(id)
	s.Lock()
	defer s.Unlock()
	cl, ok := s.internal[id]
	delete(s.internal, id)
	return cl, ok
}
