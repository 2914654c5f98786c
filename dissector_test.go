// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package dissector

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/dissector/listeners"
	"github.com/mochi-mqtt/dissector/packets"
)

var connack = []byte{byte(packets.Connack << 4), 2, 0, 0}

func newDissector() *Dissector {
	return New(&Options{
		Logger: logger,
	})
}

func TestOptionsSetDefaults(t *testing.T) {
	opts := &Options{}
	opts.ensureDefaults()

	require.NotNil(t, opts.Reassemble)
	require.True(t, *opts.Reassemble)
	require.Equal(t, defaultSysInfoInterval, opts.SysInfoInterval)
	require.Equal(t, defaultReadBufferSize, opts.ReadBufferSize)
	require.Equal(t, defaultBufferPoolMaxCap, opts.BufferPoolMaxCap)
	require.NotNil(t, opts.Logger)

	disabled := false
	opts = &Options{Reassemble: &disabled}
	opts.ensureDefaults()
	require.False(t, *opts.Reassemble)
}

func TestNew(t *testing.T) {
	s := newDissector()
	require.NotNil(t, s)
	require.NotNil(t, s.Connections)
	require.NotNil(t, s.Listeners)
	require.NotNil(t, s.Info)
	require.NotNil(t, s.Log)
	require.NotNil(t, s.Options)
	require.NotNil(t, s.loop)
	require.NotNil(t, s.loop.sysInfo)
	require.NotNil(t, s.hooks)
	require.NotNil(t, s.hooks.Log)
	require.NotNil(t, s.done)
	require.Equal(t, Version, s.Info.Version)
	require.NotZero(t, s.Info.Started)
	require.True(t, s.Connections.opts.Reassemble)
	require.NotNil(t, s.Connections.opts.Pool)
}

func TestNewNilOpts(t *testing.T) {
	s := New(nil)
	require.NotNil(t, s)
	require.NotNil(t, s.Options)
}

func TestDissectorAddHook(t *testing.T) {
	s := New(&Options{Logger: logger, Strict: true, MaxFrameSize: 100})
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), s.hooks.Len())
	require.NotNil(t, hook.Log)
	require.True(t, hook.Opts.Strict)
	require.True(t, hook.Opts.Reassemble)
	require.Equal(t, uint32(100), hook.Opts.MaxFrameSize)
}

func TestDissectorAddHookFailure(t *testing.T) {
	s := newDissector()
	err := s.AddHook(new(modifiedHookBase), map[string]any{})
	require.Error(t, err)
}

func TestDissectorAddHooksFromConfig(t *testing.T) {
	s := newDissector()
	err := s.AddHooksFromConfig([]HookLoadConfig{
		{Hook: new(modifiedHookBase)},
		{Hook: new(HookBase)},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), s.hooks.Len())

	err = s.AddHooksFromConfig([]HookLoadConfig{
		{Hook: new(modifiedHookBase), Config: map[string]any{}},
	})
	require.Error(t, err)
}

func TestDissectorAddListener(t *testing.T) {
	s := newDissector()
	err := s.AddListener(listeners.NewMockListener("t1", ":1882"))
	require.NoError(t, err)

	l, ok := s.Listeners.Get("t1")
	require.True(t, ok)
	require.True(t, l.(*listeners.MockListener).IsListening())

	err = s.AddListener(listeners.NewMockListener("t1", ":1882"))
	require.ErrorIs(t, err, ErrListenerIDExists)
}

func TestDissectorAddListenerInitFailure(t *testing.T) {
	s := newDissector()
	m := listeners.NewMockListener("t1", ":1882")
	m.ErrListen = true
	err := s.AddListener(m)
	require.Error(t, err)
	require.Equal(t, 0, s.Listeners.Len())
}

func TestDissectorAddListenersFromConfig(t *testing.T) {
	s := newDissector()
	err := s.AddListenersFromConfig([]listeners.Config{
		{Type: listeners.TypeMock, ID: "mock", Address: ":1882"},
		{Type: listeners.TypeSysInfo, ID: "info", Address: ":1880"},
		{Type: listeners.TypeWS, ID: "ws", Address: ":1881", Upstream: "localhost:1883"},
		{Type: listeners.TypeTCP, ID: "tcp", Address: "127.0.0.1:0", Upstream: "localhost:1883"},
		{Type: "unknown", ID: "unknown"},
	})
	require.NoError(t, err)
	require.Equal(t, 4, s.Listeners.Len())
	_, ok := s.Listeners.Get("unknown")
	require.False(t, ok)

	l, _ := s.Listeners.Get("tcp")
	l.Close(listeners.MockCloser)
}

func TestDissectorAddListenersFromConfigFailure(t *testing.T) {
	s := newDissector()
	err := s.AddListenersFromConfig([]listeners.Config{
		{Type: listeners.TypeTCP, ID: "tcp", Address: "127.0.0.1:0"},
	})
	require.ErrorIs(t, err, listeners.ErrNoUpstream)
}

func TestDissectorServe(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	err = s.AddListener(listeners.NewMockListener("t1", ":1882"))
	require.NoError(t, err)

	err = s.Serve()
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	l, ok := s.Listeners.Get("t1")
	require.True(t, ok)
	require.True(t, l.(*listeners.MockListener).IsServing())
	require.True(t, hook.started)
	require.GreaterOrEqual(t, hook.ticks, 1)

	err = s.Close()
	require.NoError(t, err)
	require.False(t, l.(*listeners.MockListener).IsServing())
	require.True(t, hook.stopped)
}

func TestDissectorServeFromOptions(t *testing.T) {
	s := New(&Options{
		Logger: logger,
		Listeners: []listeners.Config{
			{Type: listeners.TypeMock, ID: "t1", Address: ":1882"},
		},
		Hooks: []HookLoadConfig{
			{Hook: new(modifiedHookBase)},
		},
	})

	err := s.Serve()
	require.NoError(t, err)
	require.Equal(t, 1, s.Listeners.Len())
	require.Equal(t, int64(1), s.hooks.Len())
	_ = s.Close()
}

func TestDissectorServeBadListenerOptions(t *testing.T) {
	s := New(&Options{
		Logger: logger,
		Listeners: []listeners.Config{
			{Type: listeners.TypeTCP, ID: "t1", Address: "127.0.0.1:0"},
		},
	})

	err := s.Serve()
	require.ErrorIs(t, err, listeners.ErrNoUpstream)
}

func TestDissectorServeBadHookOptions(t *testing.T) {
	s := New(&Options{
		Logger: logger,
		Hooks: []HookLoadConfig{
			{Hook: new(modifiedHookBase), Config: map[string]any{}},
		},
	})

	err := s.Serve()
	require.Error(t, err)
}

func TestDissectorServeReadStoreFailure(t *testing.T) {
	s := newDissector()
	err := s.AddHook(&modifiedHookBase{fail: true}, nil)
	require.NoError(t, err)

	err = s.Serve()
	require.ErrorIs(t, err, errTestHook)
}

func TestDissectorReadStoreRestore(t *testing.T) {
	s := New(&Options{Logger: logger, RestoreSysInfoOnRestart: true})
	err := s.AddHook(new(modifiedHookBase), nil)
	require.NoError(t, err)

	err = s.readStore()
	require.NoError(t, err)
	require.Equal(t, int64(4), s.Info.ConnectionsTotal)
	require.Equal(t, int64(20), s.Info.PacketsDecoded)
	require.Equal(t, Version, s.Info.Version)
}

func TestDissectorReadStoreNoRestore(t *testing.T) {
	s := newDissector()
	err := s.AddHook(new(modifiedHookBase), nil)
	require.NoError(t, err)

	err = s.readStore()
	require.NoError(t, err)
	require.Equal(t, int64(0), s.Info.ConnectionsTotal)
}

func TestDissectorEventLoop(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	s.loop.sysInfo = time.NewTicker(time.Millisecond)
	go s.eventLoop()
	require.Eventually(t, func() bool {
		hook.mu.Lock()
		defer hook.mu.Unlock()
		return hook.ticks > 0
	}, time.Second, time.Millisecond)
	close(s.done)
}

func TestDissectorRefreshSysInfo(t *testing.T) {
	s := newDissector()
	_, _ = s.Connections.GetOrCreate("cn1")
	s.refreshSysInfo()
	require.NotZero(t, s.Info.Time)
	require.NotZero(t, s.Info.Threads)
	require.NotZero(t, s.Info.MemoryAlloc)
	require.Equal(t, int64(1), s.Info.ConnectionsOpen)
}

func TestDissectorFeed(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	err = s.Feed("cn1", ClientToServer, connectMqtt31[:3])
	require.NoError(t, err)
	require.Equal(t, []string{"cn1"}, hook.opened)
	require.Empty(t, hook.decoded())

	err = s.Feed("cn1", ClientToServer, connectMqtt31[3:])
	require.NoError(t, err)
	err = s.Feed("cn1", ServerToClient, connack)
	require.NoError(t, err)

	d := hook.decoded()
	require.Len(t, d, 2)
	require.Equal(t, packets.Connect, d[0].Packet.Header().Type)
	require.Equal(t, ClientToServer, d[0].Direction)
	require.Equal(t, packets.Connack, d[1].Packet.Header().Type)
	require.Equal(t, ServerToClient, d[1].Direction)
	require.Equal(t, []string{"cn1"}, hook.opened)

	cl, ok := s.Connections.Get("cn1")
	require.True(t, ok)
	require.Equal(t, packets.V31, cl.State.ProtocolVersion())

	require.Equal(t, int64(len(connectMqtt31)), s.Info.BytesClientToServer)
	require.Equal(t, int64(len(connack)), s.Info.BytesServerToClient)
	require.Equal(t, int64(2), s.Info.FramesReceived)
	require.Equal(t, int64(2), s.Info.PacketsDecoded)
	require.Equal(t, int64(1), s.Info.ConnectionsOpen)
	require.Equal(t, int64(1), s.Info.ConnectionsTotal)
}

func TestDissectorFeedHookWorkers(t *testing.T) {
	s := New(&Options{
		Logger:      logger,
		HookWorkers: 2,
	})
	require.NotNil(t, s.fanpool)
	require.Equal(t, defaultHookQueueSize, s.Options.HookQueueSize)

	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	pk := packets.TPacketData[packets.Publish].Get(packets.TPublishQos1).RawBytes
	for _, id := range []string{"cn1", "cn2", "cn3"} {
		require.NoError(t, s.Feed(id, ClientToServer, connectMqtt31))
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Feed(id, ClientToServer, pk))
		}
	}

	require.NoError(t, s.Close())

	require.Len(t, hook.decoded(), 18)
	require.Len(t, hook.byConn, 3)
	for _, types := range hook.byConn {
		require.Equal(t, []packets.Type{
			packets.Connect,
			packets.Publish, packets.Publish, packets.Publish, packets.Publish, packets.Publish,
		}, types)
	}
	require.ElementsMatch(t, []string{"cn1", "cn2", "cn3"}, hook.opened)
	require.ElementsMatch(t, []string{"cn1", "cn2", "cn3"}, hook.closed)
}

func TestDissectorFeedInvalidDirection(t *testing.T) {
	s := newDissector()
	err := s.Feed("cn1", Direction(9), pingreq)
	require.ErrorIs(t, err, ErrInvalidDirection)
	require.Equal(t, 0, s.Connections.Len())
}

func TestDissectorFeedPublishCount(t *testing.T) {
	s := newDissector()
	pk := packets.TPacketData[packets.Publish].Get(packets.TPublishQos1).RawBytes
	err := s.Feed("cn1", ClientToServer, pk)
	require.NoError(t, err)
	require.Equal(t, int64(1), s.Info.PublishPackets)
}

func TestDissectorFeedPacketError(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	err = s.Feed("cn1", ClientToServer, append(append([]byte{}, badPuback...), pingreq...))
	require.NoError(t, err)

	errs, streams := hook.failures()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0].Err, packets.ErrTruncatedFrame)
	require.Empty(t, streams)
	require.Len(t, hook.decoded(), 1)
	require.Equal(t, int64(1), s.Info.PacketErrors)
	require.Equal(t, int64(1), s.Info.PacketsDecoded)
	require.Equal(t, int64(2), s.Info.FramesReceived)
}

func TestDissectorFeedStreamError(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	err = s.Feed("cn1", ClientToServer, badLength)
	require.ErrorIs(t, err, packets.ErrMalformedLength)

	err = s.Feed("cn1", ClientToServer, pingreq)
	require.ErrorIs(t, err, packets.ErrMalformedLength)

	_, streams := hook.failures()
	require.Equal(t, []error{packets.ErrMalformedLength}, streams)
	require.Equal(t, int64(1), s.Info.StreamErrors)
	require.Empty(t, hook.decoded())

	err = s.Feed("cn1", ServerToClient, pingresp)
	require.NoError(t, err)
	require.Len(t, hook.decoded(), 1)
}

func TestDissectorFeedReassemblyDisabled(t *testing.T) {
	disabled := false
	s := New(&Options{Logger: logger, Reassemble: &disabled})
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	err = s.Feed("cn1", ClientToServer, badLength)
	require.ErrorIs(t, err, packets.ErrMalformedLength)

	err = s.Feed("cn1", ClientToServer, pingreq)
	require.NoError(t, err)
	require.Len(t, hook.decoded(), 1)
	require.Equal(t, int64(1), s.Info.StreamErrors)
}

func TestDissectorCloseConnection(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	err = s.Feed("cn1", ClientToServer, connectMqtt31[:3])
	require.NoError(t, err)

	err = s.CloseConnection("cn1")
	require.NoError(t, err)
	require.Equal(t, []string{"cn1"}, hook.closed)
	require.Equal(t, []error{nil}, hook.closeErr)
	require.Equal(t, 0, s.Connections.Len())
	require.Equal(t, int64(0), s.Info.ConnectionsOpen)

	err = s.CloseConnection("cn1")
	require.ErrorIs(t, err, ErrConnectionNotFound)
	require.Len(t, hook.closed, 1)
}

func TestDissectorCloseConnectionFreshState(t *testing.T) {
	s := newDissector()
	err := s.Feed("cn1", ClientToServer, connectMqtt31)
	require.NoError(t, err)
	require.NoError(t, s.CloseConnection("cn1"))

	err = s.Feed("cn1", ClientToServer, pingreq)
	require.NoError(t, err)
	cl, ok := s.Connections.Get("cn1")
	require.True(t, ok)
	require.Equal(t, packets.VersionUnknown, cl.State.ProtocolVersion())
	require.Equal(t, int64(2), s.Info.ConnectionsTotal)
}

func TestDissectorCloseRemovesConnections(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	err = s.Feed("cn1", ClientToServer, pingreq)
	require.NoError(t, err)
	err = s.Feed("cn2", ClientToServer, pingreq)
	require.NoError(t, err)

	err = s.Close()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"cn1", "cn2"}, hook.closed)
	require.Equal(t, 0, s.Connections.Len())
}

func TestDissectorEstablishConnectionIncomplete(t *testing.T) {
	s := newDissector()
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	err := s.EstablishConnection("t1", client, nil)
	require.ErrorIs(t, err, ErrConnectionIncomplete)
	err = s.EstablishConnection("t1", nil, client)
	require.ErrorIs(t, err, ErrConnectionIncomplete)
}

func TestDissectorEstablishConnection(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	client, clientPeer := net.Pipe()
	upstream, brokerPeer := net.Pipe()
	defer brokerPeer.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.EstablishConnection("t1", client, upstream)
	}()

	go func() {
		_, _ = clientPeer.Write(connectMqtt31)
	}()

	buf := make([]byte, len(connectMqtt31))
	_, err = io.ReadFull(brokerPeer, buf)
	require.NoError(t, err)
	require.Equal(t, connectMqtt31, buf)

	go func() {
		_, _ = brokerPeer.Write(connack)
	}()

	buf = make([]byte, len(connack))
	_, err = io.ReadFull(clientPeer, buf)
	require.NoError(t, err)
	require.Equal(t, connack, buf)

	require.Eventually(t, func() bool {
		return len(hook.decoded()) == 2
	}, time.Second, time.Millisecond)

	conns := s.Connections.GetByListener("t1")
	require.Len(t, conns, 1)
	require.Equal(t, "pipe", conns[0].Net.Remote)
	require.Equal(t, packets.V31, conns[0].State.ProtocolVersion())

	_ = clientPeer.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 2):
		t.Fatal("relay did not end")
	}

	require.Len(t, hook.closed, 1)
	require.Equal(t, []error{nil}, hook.closeErr)
	require.Equal(t, 0, s.Connections.Len())
	require.Equal(t, int64(0), atomic.LoadInt64(&s.Info.ConnectionsOpen))
	require.Equal(t, int64(len(connectMqtt31)), atomic.LoadInt64(&s.Info.BytesClientToServer))
	require.Equal(t, int64(len(connack)), atomic.LoadInt64(&s.Info.BytesServerToClient))
}

func TestDissectorEstablishConnectionStreamErrorKeepsRelaying(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	client, clientPeer := net.Pipe()
	upstream, brokerPeer := net.Pipe()
	defer brokerPeer.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.EstablishConnection("t1", client, upstream)
	}()

	go func() {
		_, _ = clientPeer.Write(badLength)
		_, _ = clientPeer.Write(pingreq)
	}()

	buf := make([]byte, len(badLength)+len(pingreq))
	_, err = io.ReadFull(brokerPeer, buf)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, badLength...), pingreq...), buf)

	require.Eventually(t, func() bool {
		_, streams := hook.failures()
		return len(streams) == 1
	}, time.Second, time.Millisecond)

	_ = brokerPeer.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 2):
		t.Fatal("relay did not end")
	}
	_ = clientPeer.Close()
}

func TestDissectorServeProxiesMockClients(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	require.NoError(t, s.AddHook(hook, nil))

	m := listeners.NewMockListener("t1", ":1882")
	require.NoError(t, s.AddListener(m))
	require.NoError(t, s.Serve())

	client, broker, err := m.Dial()
	require.NoError(t, err)
	defer client.Close()
	defer broker.Close()

	go func() {
		_, _ = client.Write(connectMqtt31)
	}()

	buf := make([]byte, len(connectMqtt31))
	_, err = io.ReadFull(broker, buf)
	require.NoError(t, err)
	require.Equal(t, connectMqtt31, buf)

	require.Eventually(t, func() bool {
		return len(hook.decoded()) == 1
	}, time.Second, time.Millisecond)
	require.Len(t, s.Connections.GetByListener("t1"), 1)

	require.NoError(t, s.Close())
	require.Equal(t, 0, s.Connections.Len())
}

func TestDissectorCloseListenerConnections(t *testing.T) {
	s := newDissector()
	hook := new(modifiedHookBase)
	err := s.AddHook(hook, nil)
	require.NoError(t, err)

	client, clientPeer := net.Pipe()
	upstream, brokerPeer := net.Pipe()
	defer clientPeer.Close()
	defer brokerPeer.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.EstablishConnection("t1", client, upstream)
	}()

	require.Eventually(t, func() bool {
		return len(s.Connections.GetByListener("t1")) == 1
	}, time.Second, time.Millisecond)

	s.closeListenerConnections("t1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 2):
		t.Fatal("relay did not end")
	}

	require.Len(t, hook.closed, 1)
	require.Equal(t, 0, s.Connections.Len())
}
