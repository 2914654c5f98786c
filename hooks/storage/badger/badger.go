// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, gsagula, werbenhu

// Package badger records dissected connections and packets to a BadgerDB store.
package badger

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

const (
	// defaultDbFile is the default file path for the badger db file.
	defaultDbFile         = ".badger"
	defaultGcInterval     = 5 * 60 // gc interval in seconds
	defaultGcDiscardRatio = 0.5
)

// connectionKey returns a primary key for a connection.
func connectionKey(id string) string {
	return storage.ConnectionKey + "_" + id
}

// sysInfoKey returns a primary key for system info.
func sysInfoKey() string {
	return storage.SysInfoKey
}

// Options contains configuration settings for the BadgerDB instance.
type Options struct {
	Options *badgerdb.Options `yaml:"-" json:"-"`
	Path    string            `yaml:"path" json:"path"`
	// GcDiscardRatio specifies the ratio of log discard compared to the maximum possible log discard.
	// Setting it to a higher value would result in fewer space reclaims, while setting it to a lower value
	// would result in more space reclaims at the cost of increased activity on the LSM tree.
	// discardRatio must be in the range (0.0, 1.0), both endpoints excluded, otherwise, it will be set to the default value of 0.5.
	GcDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
	GcInterval     int64   `yaml:"gc_interval" json:"gc_interval"`
	// TTL expires packet records after the given number of seconds. Zero keeps them forever.
	TTL int64 `yaml:"ttl" json:"ttl"`
}

// Hook is a persistent storage hook using a BadgerDB file store as a backend.
type Hook struct {
	dissector.HookBase
	config   *Options          // options for configuring the BadgerDB instance.
	gcTicker *time.Ticker      // Ticker for BadgerDB garbage collection.
	db       *badgerdb.DB      // the BadgerDB instance.
	seq      storage.Sequencer // packet numbering per connection
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "badger-db"
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

// gcLoop periodically runs the garbage collection process to reclaim space in the value log files.
// Refer to: https://dgraph.io/docs/badger/get-started/#garbage-collection
func (h *Hook) gcLoop(db *badgerdb.DB) {
	for range h.gcTicker.C {
	again:
		err := db.RunValueLogGC(h.config.GcDiscardRatio)
		if err == nil {
			goto again
		}
	}
}

// Init initializes and connects to the badger instance.
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

	if h.config.GcInterval == 0 {
		h.config.GcInterval = defaultGcInterval
	}

	if h.config.GcDiscardRatio <= 0.0 || h.config.GcDiscardRatio >= 1.0 {
		h.config.GcDiscardRatio = defaultGcDiscardRatio
	}

	if h.config.Options == nil {
		defaultOpts := badgerdb.DefaultOptions(h.config.Path)
		h.config.Options = &defaultOpts
	}
	h.config.Options.Logger = h

	var err error
	h.db, err = badgerdb.Open(*h.config.Options)
	if err != nil {
		return err
	}

	h.seq.Resume = h.nextSequence
	h.gcTicker = time.NewTicker(time.Duration(h.config.GcInterval) * time.Second)
	go h.gcLoop(h.db)

	return nil
}

// Stop closes the badger instance.
func (h *Hook) Stop() error {
	if h.gcTicker != nil {
		h.gcTicker.Stop()
	}

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
	_ = h.setKv(connectionKey(cl.ID), &in, 0)
}

// OnConnectionClosed marks a stored connection as closed.
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

	_ = h.setKv(connectionKey(cl.ID), &in, 0)
}

// connection returns the stored record of a connection, or a new record if
// none exists yet.
func (h *Hook) connection(cl *dissector.Conn) storage.Connection {
	var in storage.Connection
	err := h.getKv(connectionKey(cl.ID), &in)
	if err != nil {
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
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
		_ = h.setKv(connectionKey(cl.ID), &in, 0)
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

	_ = h.setKv(in.ID, &in, time.Duration(h.config.TTL)*time.Second)
}

// nextSequence returns the sequence number following the last packet stored
// for a connection, or 0 if there are none.
func (h *Hook) nextSequence(connID string) int64 {
	if h.db == nil {
		return 0
	}

	var next int64
	prefix := []byte(storage.PacketPrefix(connID))
	err := h.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = prefix
		iterator := txn.NewIterator(opts)
		defer iterator.Close()

		iterator.Seek(append(append([]byte{}, prefix...), 0xff))
		if iterator.ValidForPrefix(prefix) {
			if seq, ok := storage.SequenceOf(string(iterator.Item().Key())); ok {
				next = seq + 1
			}
		}
		return nil
	})
	if err != nil {
		h.Log.Error("failed to find last packet", "error", err, "connection", connID)
	}
	return next
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

	_ = h.setKv(in.ID, in, 0)
}

// StoredConnections returns all stored connections from the store.
func (h *Hook) StoredConnections() (v []storage.Connection, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	v = make([]storage.Connection, 0)
	err = h.iterKv(storage.ConnectionKey+"_", func(value []byte) error {
		obj := storage.Connection{}
		err := obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
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

	v = make([]storage.Packet, 0)
	err = h.iterKv(storage.PacketPrefix(connID), func(value []byte) error {
		obj := storage.Packet{}
		err := obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
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
	if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return
	}
	return v, nil
}

// Errorf satisfies the badger interface for an error logger.
func (h *Hook) Errorf(m string, v ...any) {
	h.Log.Error(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Warningf satisfies the badger interface for a warning logger.
func (h *Hook) Warningf(m string, v ...any) {
	h.Log.Warn(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Infof satisfies the badger interface for an info logger.
func (h *Hook) Infof(m string, v ...any) {
	h.Log.Info(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Debugf satisfies the badger interface for a debug logger.
func (h *Hook) Debugf(m string, v ...any) {
	h.Log.Debug(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// setKv stores a key-value pair in the database, expiring after ttl if it is
// greater than zero.
func (h *Hook) setKv(k string, v storage.Serializable, ttl time.Duration) error {
	err := h.db.Update(func(txn *badgerdb.Txn) error {
		data, _ := v.MarshalBinary()
		e := badgerdb.NewEntry([]byte(k), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		h.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (h *Hook) getKv(k string, v storage.Serializable) error {
	return h.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (h *Hook) iterKv(prefix string, visit func([]byte) error) error {
	err := h.db.View(func(txn *badgerdb.Txn) error {
		iterator := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer iterator.Close()

		for iterator.Seek([]byte(prefix)); iterator.ValidForPrefix([]byte(prefix)); iterator.Next() {
			value, err := iterator.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := visit(value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.Log.Error("failed to find data", "error", err, "prefix", prefix)
	}
	return err
}
