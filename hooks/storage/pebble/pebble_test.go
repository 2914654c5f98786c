// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

package pebble

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/dissector"
	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/stream"
	"github.com/mochi-mqtt/dissector/system"
)

var (
	logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

	conn = &dissector.Conn{
		ID: "cn1",
		Net: dissector.ConnNet{
			Remote:   "test.addr",
			Listener: "listener",
		},
		Opened: 1000,
	}
)

func newHook(t *testing.T, opts *Options) *Hook {
	t.Helper()
	if opts == nil {
		opts = new(Options)
	}
	opts.Path = t.TempDir()

	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Stop()
	})
	return h
}

func decoded(t *testing.T, raw []byte, dir dissector.Direction) dissector.Decoded {
	t.Helper()
	pk, err := packets.Decode(raw, nil)
	require.NoError(t, err)
	return dissector.Decoded{
		Frame:     stream.Frame{Raw: raw, Type: pk.Header().Type},
		Packet:    pk,
		Direction: dir,
		Received:  time.Now().UnixNano(),
	}
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte("PK_3_cn1`"), keyUpperBound([]byte(storage.PacketPrefix("cn1"))))
	require.Equal(t, []byte{0x01}, keyUpperBound([]byte{0x00, 0xff}))
	require.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}

func TestConnectionKey(t *testing.T) {
	require.Equal(t, storage.ConnectionKey+"_cn1", connectionKey("cn1"))
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "pebble-db", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(dissector.OnConnectionOpened))
	require.True(t, h.Provides(dissector.OnConnectionClosed))
	require.True(t, h.Provides(dissector.OnPacket))
	require.True(t, h.Provides(dissector.OnPacketError))
	require.True(t, h.Provides(dissector.OnSysInfoTick))
	require.True(t, h.Provides(dissector.StoredSysInfo))
	require.False(t, h.Provides(dissector.OnStreamError))
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(map[string]any{})
	require.ErrorIs(t, err, dissector.ErrInvalidConfigType)
}

func TestInitMode(t *testing.T) {
	h := newHook(t, nil)
	require.Equal(t, pebbledb.NoSync, h.mode)

	h = newHook(t, &Options{Mode: "sync"})
	require.Equal(t, pebbledb.Sync, h.mode)
}

func TestStop(t *testing.T) {
	h := newHook(t, nil)
	require.NoError(t, h.Stop())
	require.Nil(t, h.db)
	require.NoError(t, h.Stop())
}

func TestOnConnectionOpenedAndClosed(t *testing.T) {
	h := newHook(t, nil)
	h.OnConnectionOpened(conn)

	r, err := h.StoredConnections()
	require.NoError(t, err)
	require.Len(t, r, 1)
	require.Equal(t, "listener", r[0].Listener)

	h.OnPacket(conn, decoded(t, []byte{byte(packets.Pingreq << 4), 0}, dissector.ClientToServer))
	h.OnConnectionClosed(conn, errors.New("test"))

	r, err = h.StoredConnections()
	require.NoError(t, err)
	require.Len(t, r, 1)
	require.NotZero(t, r[0].Closed)
	require.Equal(t, "test", r[0].Error)

	p, err := h.StoredPackets("cn1")
	require.NoError(t, err)
	require.Len(t, p, 1)
}

func TestOnConnectionClosedDiscardPackets(t *testing.T) {
	h := newHook(t, &Options{DiscardPackets: true})
	h.OnConnectionOpened(conn)
	h.OnPacket(conn, decoded(t, []byte{byte(packets.Pingreq << 4), 0}, dissector.ClientToServer))
	h.OnPacket(conn, decoded(t, []byte{byte(packets.Pingresp << 4), 0}, dissector.ServerToClient))
	h.OnConnectionClosed(conn, nil)

	p, err := h.StoredPackets("cn1")
	require.NoError(t, err)
	require.Empty(t, p)

	r, err := h.StoredConnections()
	require.NoError(t, err)
	require.Len(t, r, 1)
}

func TestDiscardPacketsSharedIDStart(t *testing.T) {
	h := newHook(t, &Options{DiscardPackets: true})
	a := &dissector.Conn{ID: "a"}
	ab := &dissector.Conn{ID: "a_b"}
	ping := []byte{byte(packets.Pingreq << 4), 0}
	h.OnPacket(a, decoded(t, ping, dissector.ClientToServer))
	h.OnPacket(ab, decoded(t, ping, dissector.ClientToServer))
	h.OnPacket(ab, decoded(t, ping, dissector.ClientToServer))

	p, err := h.StoredPackets("a")
	require.NoError(t, err)
	require.Len(t, p, 1)
	require.Equal(t, "a", p[0].Connection)

	h.OnConnectionClosed(a, nil)

	p, err = h.StoredPackets("a")
	require.NoError(t, err)
	require.Empty(t, p)

	p, err = h.StoredPackets("a_b")
	require.NoError(t, err)
	require.Len(t, p, 2)
}

func TestOnPacketResumesSequence(t *testing.T) {
	h := newHook(t, nil)
	ping := []byte{byte(packets.Pingreq << 4), 0}
	h.OnPacket(conn, decoded(t, ping, dissector.ClientToServer))
	h.OnPacket(conn, decoded(t, ping, dissector.ClientToServer))
	require.NoError(t, h.Stop())

	h2 := new(Hook)
	h2.SetOpts(logger, nil)
	err := h2.Init(&Options{Path: h.config.Path})
	require.NoError(t, err)
	defer h2.Stop()

	require.Equal(t, int64(0), h2.nextSequence("cn2"))
	h2.OnPacket(conn, decoded(t, ping, dissector.ServerToClient))

	p, err := h2.StoredPackets("cn1")
	require.NoError(t, err)
	require.Len(t, p, 3)
	require.Equal(t, int64(2), p[2].Sequence)
	require.Equal(t, byte(dissector.ServerToClient), p[2].Direction)
}

func TestOnPacketConnect(t *testing.T) {
	h := newHook(t, nil)
	raw := packets.TPacketData[packets.Connect].Get(packets.TConnectMqtt311).RawBytes
	h.OnPacket(conn, decoded(t, raw, dissector.ClientToServer))

	r, err := h.StoredConnections()
	require.NoError(t, err)
	require.Len(t, r, 1)
	require.Equal(t, "abc", r[0].ClientIdentifier)
	require.Equal(t, "test.addr", r[0].Remote)
	require.Equal(t, uint16(60), r[0].Keepalive)
}

func TestOnPacketOrdering(t *testing.T) {
	h := newHook(t, nil)
	publish := packets.TPacketData[packets.Publish].Get(packets.TPublishQos1).RawBytes
	for i := 0; i < 10; i++ {
		h.OnPacket(conn, decoded(t, publish, dissector.ClientToServer))
		h.OnPacket(conn, decoded(t, []byte{byte(packets.Puback << 4), 2, 0, 7}, dissector.ServerToClient))
	}

	p, err := h.StoredPackets("cn1")
	require.NoError(t, err)
	require.Len(t, p, 20)
	for i, pk := range p {
		require.Equal(t, int64(i), pk.Sequence)
	}
	require.Equal(t, packets.Puback, p[19].FixedHeader.Type)
}

func TestOnPacketError(t *testing.T) {
	h := newHook(t, nil)
	h.OnPacketError(conn, dissector.Decoded{
		Frame: stream.Frame{Raw: []byte{byte(packets.Subscribe<<4) | 2, 2, 0, 1}, Type: packets.Subscribe},
		Err:   &packets.DecodeError{Type: packets.Subscribe, Err: packets.ErrProtocolViolation},
	})

	p, err := h.StoredPackets("cn1")
	require.NoError(t, err)
	require.Len(t, p, 1)
	require.Contains(t, p[0].Error, packets.ErrProtocolViolation.Reason)
}

func TestOnSysInfoTick(t *testing.T) {
	h := newHook(t, nil)
	info := &system.Info{
		Version:        "1.0.0",
		PublishPackets: 9,
	}
	h.OnSysInfoTick(info)

	r, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, info.Version, r.Version)
	require.Equal(t, info.PublishPackets, r.PublishPackets)
}

func TestStoredSysInfoEmpty(t *testing.T) {
	h := newHook(t, nil)
	r, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Empty(t, r.Version)
}

func TestNoDB(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	h.OnConnectionOpened(conn)
	h.OnConnectionClosed(conn, nil)
	h.OnPacket(conn, dissector.Decoded{})
	h.OnPacketError(conn, dissector.Decoded{})
	h.OnSysInfoTick(new(system.Info))

	_, err := h.StoredConnections()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
	_, err = h.StoredPackets("cn1")
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
	_, err = h.StoredSysInfo()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
}
