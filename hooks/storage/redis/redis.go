// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

// Package redis records dissected connections and packets to a redis service.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

// defaultAddr is the default address to the redis service.
const defaultAddr = "localhost:6379"

// defaultHPrefix is a prefix to better identify keys created by the dissector.
const defaultHPrefix = "mochi-dissector-"

// sysInfoKey returns a primary key for system info.
func sysInfoKey() string {
	return storage.SysInfoKey
}

// Options contains configuration settings for the redis instance.
type Options struct {
	HPrefix string         `yaml:"h_prefix" json:"h_prefix"`
	Options *redis.Options `yaml:"options" json:"options"`

	// MaxPackets caps the packets kept per connection, dropping the oldest
	// first. Zero keeps every packet.
	MaxPackets int64 `yaml:"max_packets" json:"max_packets"`
}

// Hook is a persistent storage hook using Redis as a backend. Connections are
// kept in a hash, and the packets of each connection in a list.
type Hook struct {
	dissector.HookBase
	config *Options          // options for connecting to the Redis instance.
	db     *redis.Client     // the Redis instance
	ctx    context.Context   // a context for the connection
	seq    storage.Sequencer // packet numbering per connection
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "redis-db"
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

// hKey returns a key with a unique prefix.
func (h *Hook) hKey(s string) string {
	return h.config.HPrefix + s
}

// Init initializes and connects to the redis service.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return dissector.ErrInvalidConfigType
	}

	h.ctx = context.Background()

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.Options == nil {
		h.config.Options = &redis.Options{
			Addr: defaultAddr,
		}
	}

	if h.config.HPrefix == "" {
		h.config.HPrefix = defaultHPrefix
	}

	h.Log.Info("connecting to redis service",
		"address", h.config.Options.Addr,
		"username", h.config.Options.Username,
		"password-len", len(h.config.Options.Password),
		"db", h.config.Options.DB)

	h.db = redis.NewClient(h.config.Options)
	_, err := h.db.Ping(h.ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping service: %w", err)
	}

	h.Log.Info("connected to redis service")
	h.seq.Resume = h.nextSequence

	return nil
}

// Stop closes the redis connection.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	h.Log.Info("disconnecting from redis service")
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

	h.setConnection(storage.NewConnection(cl.ID, cl.Net.Remote, cl.Net.Listener, cl.Opened))
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

	h.setConnection(in)
}

// connection returns the stored record of a connection, or a new record if
// none exists yet.
func (h *Hook) connection(cl *dissector.Conn) storage.Connection {
	var in storage.Connection
	row, err := h.db.HGet(h.ctx, h.hKey(storage.ConnectionKey), cl.ID).Result()
	if err == nil {
		err = in.UnmarshalBinary([]byte(row))
	}

	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.Log.Error("failed to get connection data", "error", err, "connection", cl.ID)
		}
		return storage.NewConnection(cl.ID, cl.Net.Remote, cl.Net.Listener, cl.Opened)
	}

	return in
}

// setConnection writes a connection record to the connections hash.
func (h *Hook) setConnection(in storage.Connection) {
	err := h.db.HSet(h.ctx, h.hKey(storage.ConnectionKey), in.ID, in).Err()
	if err != nil {
		h.Log.Error("failed to hset connection data", "error", err, "connection", in.ID)
	}
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
		h.setConnection(in)
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

// storePacket appends the next packet record to the list of a connection.
func (h *Hook) storePacket(cl *dissector.Conn, d dissector.Decoded) {
	in, err := storage.NewPacket(cl.ID, byte(d.Direction), h.seq.Next(cl.ID), d.Received, d.Frame.Raw, d.Packet, d.Err)
	if err != nil {
		h.Log.Error("failed to build packet record", "error", err, "connection", cl.ID)
		return
	}

	key := h.hKey(storage.PacketPrefix(cl.ID))
	_, err = h.db.TxPipelined(h.ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(h.ctx, key, in)
		if h.config.MaxPackets > 0 {
			pipe.LTrim(h.ctx, key, -h.config.MaxPackets, -1)
		}
		return nil
	})
	if err != nil {
		h.Log.Error("failed to rpush packet data", "error", err, "key", in.ID)
	}
}

// nextSequence returns the sequence number following the last packet stored
// for a connection, or 0 if there are none.
func (h *Hook) nextSequence(connID string) int64 {
	if h.db == nil {
		return 0
	}

	row, err := h.db.LIndex(h.ctx, h.hKey(storage.PacketPrefix(connID)), -1).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.Log.Error("failed to LIndex packet data", "error", err, "connection", connID)
		}
		return 0
	}

	var d storage.Packet
	if err := d.UnmarshalBinary([]byte(row)); err != nil {
		h.Log.Error("failed to unmarshal packet data", "error", err, "data", row)
		return 0
	}
	return d.Sequence + 1
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

	err := h.db.HSet(h.ctx, h.hKey(storage.SysInfoKey), sysInfoKey(), in).Err()
	if err != nil {
		h.Log.Error("failed to hset sys info data", "error", err)
	}
}

// StoredConnections returns all stored connections from the store.
func (h *Hook) StoredConnections() (v []storage.Connection, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	rows, err := h.db.HGetAll(h.ctx, h.hKey(storage.ConnectionKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.Log.Error("failed to HGetAll connection data", "error", err)
		return
	}

	for _, row := range rows {
		var d storage.Connection
		if err = d.UnmarshalBinary([]byte(row)); err != nil {
			h.Log.Error("failed to unmarshal connection data", "error", err, "data", row)
			continue
		}

		v = append(v, d)
	}

	return v, nil
}

// StoredPackets returns the stored packets of a connection in the order they
// were recorded.
func (h *Hook) StoredPackets(connID string) (v []storage.Packet, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	rows, err := h.db.LRange(h.ctx, h.hKey(storage.PacketPrefix(connID)), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.Log.Error("failed to LRange packet data", "error", err)
		return
	}

	for _, row := range rows {
		var d storage.Packet
		if err = d.UnmarshalBinary([]byte(row)); err != nil {
			h.Log.Error("failed to unmarshal packet data", "error", err, "data", row)
			continue
		}

		v = append(v, d)
	}

	return v, nil
}

// StoredSysInfo returns the system info from the store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	row, err := h.db.HGet(h.ctx, h.hKey(storage.SysInfoKey), sysInfoKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return
	}

	if err = v.UnmarshalBinary([]byte(row)); err != nil {
		h.Log.Error("failed to unmarshal sys info data", "error", err, "data", row)
	}

	return v, nil
}
