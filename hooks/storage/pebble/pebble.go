// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

// Package pebble records dissected connections and packets to a pebble store.
package pebble

import (
	"bytes"
	"errors"
	"strings"
	"time"

	pebbledb "github.com/cockroachdb/pebble"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

const (
	// defaultDbFile is the default file path for the pebble db file.
	defaultDbFile = ".pebble"
)

// connectionKey returns a primary key for a connection.
func connectionKey(id string) string {
	return storage.ConnectionKey + "_" + id
}

// sysInfoKey returns a primary key for system info.
func sysInfoKey() string {
	return storage.SysInfoKey
}

// keyUpperBound returns the upper bound for a given byte slice by incrementing the last byte.
// It returns nil if all bytes are incremented and equal to 0.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

const (
	NoSync = "NoSync" // NoSync specifies the default write options for writes which do not synchronize to disk.
	Sync   = "Sync"   // Sync specifies the default write options for writes which synchronize to disk.
)

// Options contains configuration settings for the pebble DB instance.
type Options struct {
	Options *pebbledb.Options `yaml:"-" json:"-"`
	Mode    string            `yaml:"mode" json:"mode"`
	Path    string            `yaml:"path" json:"path"`

	// DiscardPackets deletes the packets of a connection once it closes,
	// keeping only the connection summary.
	DiscardPackets bool `yaml:"discard_packets" json:"discard_packets"`
}

// Hook is a persistent storage hook using a pebble DB file store as a backend.
type Hook struct {
	dissector.HookBase
	config *Options               // options for configuring the pebble DB instance.
	db     *pebbledb.DB           // the pebble DB instance
	mode   *pebbledb.WriteOptions // mode holds the optional per-query parameters for Set and Delete operations
	seq    storage.Sequencer      // packet numbering per connection
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "pebble-db"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		dissector.OnConnectionOpened,
		dissector.OnConnectionClosed,
		dissector.OnPacket,
		dissector.OnPacketError,
		dissector.OnSysInfoTick,
		dissector.StoredSysInfo,
	}, []byte{b})
}

// Init initializes and connects to the pebble instance.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return dissector.ErrInvalidConfigType
	}

	if config == nil {
		h.config = new(Options)
	} else {
		h.config = config.(*Options)
	}

	if len(h.config.Path) == 0 {
		h.config.Path = defaultDbFile
	}

	if h.config.Options == nil {
		h.config.Options = &pebbledb.Options{}
	}

	h.mode = pebbledb.NoSync
	if strings.EqualFold(h.config.Mode, Sync) {
		h.mode = pebbledb.Sync
	}

	var err error
	h.db, err = pebbledb.Open(h.config.Path, h.config.Options)
	if err != nil {
		return err
	}

	h.seq.Resume = h.nextSequence
	return nil
}

// Stop closes the pebble instance.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	err := h.db.Close()
	h.db = nil
	return err
}

// OnConnectionOpened adds a connection to the store.
func (h *Hook) OnConnectionOpened(cl *dissector.Conn) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := storage.NewConnection(cl.ID, cl.Net.Remote, cl.Net.Listener, cl.Opened)
	_ = h.setKv(connectionKey(cl.ID), &in)
}

// OnConnectionClosed marks a stored connection as closed, discarding its
// packets if configured to.
func (h *Hook) OnConnectionClosed(cl *dissector.Conn, err error) {
	defer h.seq.Forget(cl.ID)
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := h.connection(cl)
	in.Closed = time.Now().Unix()
	if err != nil {
		in.Error = err.Error()
	}
	_ = h.setKv(connectionKey(cl.ID), &in)

	if h.config.DiscardPackets {
		_ = h.delPrefix(storage.PacketPrefix(cl.ID))
	}
}

// connection returns the stored record of a connection, or a new record if
// none exists yet.
func (h *Hook) connection(cl *dissector.Conn) storage.Connection {
	var in storage.Connection
	if err := h.getKv(connectionKey(cl.ID), &in); err != nil {
		if !errors.Is(err, pebbledb.ErrNotFound) {
			h.Log.Error("failed to get connection data", "error", err, "connection", cl.ID)
		}
		return storage.NewConnection(cl.ID, cl.Net.Remote, cl.Net.Listener, cl.Opened)
	}
	return in
}

// OnPacket stores a decoded packet, and updates the connection with the
// session values of a CONNECT.
func (h *Hook) OnPacket(cl *dissector.Conn, d dissector.Decoded) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	h.storePacket(cl, d)

	if pk, ok := d.Packet.(*packets.ConnectPacket); ok {
		in := h.connection(cl)
		if err := in.ApplyConnect(pk); err != nil {
			h.Log.Error("failed to apply connect", "error", err, "connection", cl.ID)
			return
		}
		_ = h.setKv(connectionKey(cl.ID), &in)
	}
}

// OnPacketError stores a frame which failed to decode.
func (h *Hook) OnPacketError(cl *dissector.Conn, d dissector.Decoded) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	h.storePacket(cl, d)
}

// storePacket writes the next packet record of a connection.
func (h *Hook) storePacket(cl *dissector.Conn, d dissector.Decoded) {
	in, err := storage.NewPacket(cl.ID, byte(d.Direction), h.seq.Next(cl.ID), d.Received, d.Frame.Raw, d.Packet, d.Err)
	if err != nil {
		h.Log.Error("failed to build packet record", "error", err, "connection", cl.ID)
		return
	}

	_ = h.setKv(in.ID, &in)
}

// OnSysInfoTick stores the latest system info in the store.
func (h *Hook) OnSysInfoTick(sys *system.Info) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := &storage.SystemInfo{
		ID:   sysInfoKey(),
		T:    storage.SysInfoKey,
		Info: *sys.Clone(),
	}
	_ = h.setKv(in.ID, in)
}

// StoredConnections returns all stored connections from the store.
func (h *Hook) StoredConnections() (v []storage.Connection, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	err = h.iterKv(storage.ConnectionKey+"_", func(value []byte) {
		item := storage.Connection{}
		if err := item.UnmarshalBinary(value); err == nil {
			v = append(v, item)
		}
	})
	return
}

// StoredPackets returns the stored packets of a connection in the order they
// were recorded.
func (h *Hook) StoredPackets(connID string) (v []storage.Packet, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	err = h.iterKv(storage.PacketPrefix(connID), func(value []byte) {
		item := storage.Packet{}
		if err := item.UnmarshalBinary(value); err == nil {
			v = append(v, item)
		}
	})
	return
}

// StoredSysInfo returns the system info from the store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	err = h.getKv(sysInfoKey(), &v)
	if errors.Is(err, pebbledb.ErrNotFound) {
		return v, nil
	}

	return
}

// nextSequence returns the sequence number following the last packet stored
// for a connection, or 0 if there are none.
func (h *Hook) nextSequence(connID string) int64 {
	if h.db == nil {
		return 0
	}

	prefix := []byte(storage.PacketPrefix(connID))
	iter, err := h.db.NewIter(&pebbledb.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		h.Log.Error("failed to find last packet", "error", err, "connection", connID)
		return 0
	}
	defer iter.Close()

	if !iter.Last() {
		return 0
	}

	seq, ok := storage.SequenceOf(string(iter.Key()))
	if !ok {
		return 0
	}
	return seq + 1
}

// setKv stores a key-value pair in the database.
func (h *Hook) setKv(k string, v storage.Serializable) error {
	bs, _ := v.MarshalBinary()
	err := h.db.Set([]byte(k), bs, h.mode)
	if err != nil {
		h.Log.Error("failed to update data", "error", err, "key", k)
		return err
	}
	return nil
}

// getKv retrieves the value associated with a key from the database.
func (h *Hook) getKv(k string, v storage.Serializable) error {
	value, closer, err := h.db.Get([]byte(k))
	if err != nil {
		return err
	}

	defer func() {
		if closer != nil {
			closer.Close()
		}
	}()
	return v.UnmarshalBinary(value)
}

// delPrefix deletes every key with the given prefix.
func (h *Hook) delPrefix(prefix string) error {
	err := h.db.DeleteRange([]byte(prefix), keyUpperBound([]byte(prefix)), h.mode)
	if err != nil {
		h.Log.Error("failed to delete data", "error", err, "prefix", prefix)
	}
	return err
}

// iterKv visits the values of every key with the given prefix, in key order.
func (h *Hook) iterKv(prefix string, visit func([]byte)) error {
	iter, err := h.db.NewIter(&pebbledb.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		h.Log.Error("failed to iter data", "error", err, "prefix", prefix)
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		visit(iter.Value())
	}
	return nil
}
