// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, werbenhu

// Package bolt records dissected connections and packets to a boltdb file.
package bolt

import (
	"bytes"
	"errors"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

var (
	ErrKeyNotFound = errors.New("key not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".bolt"

	// defaultTimeout is the default time to hold a connection to the file.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "mochi-dissector"
)

// connectionKey returns a primary key for a connection.
func connectionKey(id string) string {
	return storage.ConnectionKey + "_" + id
}

// sysInfoKey returns a primary key for system info.
func sysInfoKey() string {
	return storage.SysInfoKey
}

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options *bbolt.Options `yaml:"-" json:"-"`
	Bucket  string         `yaml:"bucket" json:"bucket"`
	Path    string         `yaml:"path" json:"path"`
}

// Hook is a persistent storage hook using a boltdb file store as a backend.
type Hook struct {
	dissector.HookBase
	config *Options          // options for configuring the boltdb instance.
	db     *bbolt.DB         // the boltdb instance.
	seq    storage.Sequencer // packet numbering per connection
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "bolt-db"
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

// Init initializes and connects to the boltdb instance.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return dissector.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.Options == nil {
		h.config.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}

	if len(h.config.Path) == 0 {
		h.config.Path = defaultDbFile
	}

	if len(h.config.Bucket) == 0 {
		h.config.Bucket = defaultBucket
	}

	var err error
	h.db, err = bbolt.Open(h.config.Path, 0600, h.config.Options)
	if err != nil {
		return err
	}
	h.seq.Resume = h.nextSequence

	return h.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(h.config.Bucket))
		return err
	})
}

// Stop closes the boltdb instance.
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

// OnConnectionClosed marks a stored connection as closed.
func (h *Hook) OnConnectionClosed(cl *dissector.Conn, err error) {
	defer h.seq.Forget(cl.ID)
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	var in storage.Connection
	if gerr := h.getKv(connectionKey(cl.ID), &in); gerr != nil {
		in = storage.NewConnection(cl.ID, cl.Net.Remote, cl.Net.Listener, cl.Opened)
	}

	in.Closed = time.Now().Unix()
	if err != nil {
		in.Error = err.Error()
	}

	_ = h.setKv(connectionKey(cl.ID), &in)
}

// OnPacket stores a decoded packet, and updates the connection with the
// session values of a CONNECT.
func (h *Hook) OnPacket(cl *dissector.Conn, d dissector.Decoded) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	h.storePacket(cl, d)

	pk, ok := d.Packet.(*packets.ConnectPacket)
	if !ok {
		return
	}

	var in storage.Connection
	if err := h.getKv(connectionKey(cl.ID), &in); err != nil {
		in = storage.NewConnection(cl.ID, cl.Net.Remote, cl.Net.Listener, cl.Opened)
	}

	if err := in.ApplyConnect(pk); err != nil {
		h.Log.Error("failed to apply connect", "error", err, "connection", cl.ID)
		return
	}

	_ = h.setKv(connectionKey(cl.ID), &in)
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
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return
	}

	return v, nil
}

// nextSequence returns the sequence number following the last packet stored
// for a connection, or 0 if there are none.
func (h *Hook) nextSequence(connID string) int64 {
	if h.db == nil {
		return 0
	}

	var next int64
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		p := []byte(storage.PacketPrefix(connID))
		k, _ := c.Seek(append(append([]byte{}, p...), 0xff))
		if k == nil {
			k, _ = c.Last()
		} else {
			k, _ = c.Prev()
		}

		if k != nil && bytes.HasPrefix(k, p) {
			if seq, ok := storage.SequenceOf(string(k)); ok {
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

// setKv stores a key-value pair in the database.
func (h *Hook) setKv(k string, v storage.Serializable) error {
	err := h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		data, _ := v.MarshalBinary()
		return bucket.Put([]byte(k), data)
	})
	if err != nil {
		h.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (h *Hook) getKv(k string, v storage.Serializable) error {
	return h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		value := bucket.Get([]byte(k))
		if value == nil {
			return ErrKeyNotFound
		}

		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (h *Hook) iterKv(prefix string, visit func([]byte) error) error {
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))

		c := bucket.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := visit(v); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		h.Log.Error("failed to iter data", "error", err, "prefix", prefix)
	}
	return err
}
