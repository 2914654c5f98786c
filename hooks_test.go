// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package dissector

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type modifiedHookBase struct {
	HookBase
	mu       sync.Mutex
	fail     bool
	started  bool
	stopped  bool
	ticks    int
	opened   []string
	closed   []string
	closeErr []error
	packets  []Decoded
	byConn   map[string][]packets.Type
	errs     []Decoded
	streams  []error
}

var errTestHook = errors.New("error")

func (h *modifiedHookBase) ID() string {
	return "modified"
}

func (h *modifiedHookBase) Init(config any) error {
	if config != nil {
		return errTestHook
	}
	return nil
}

func (h *modifiedHookBase) Provides(b byte) bool {
	return true
}

func (h *modifiedHookBase) Stop() error {
	if h.fail {
		return errTestHook
	}

	return nil
}

func (h *modifiedHookBase) OnStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
}

func (h *modifiedHookBase) OnStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
}

func (h *modifiedHookBase) OnSysInfoTick(*system.Info) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks++
}

func (h *modifiedHookBase) OnConnectionOpened(cl *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, cl.ID)
}

func (h *modifiedHookBase) OnConnectionClosed(cl *Conn, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, cl.ID)
	h.closeErr = append(h.closeErr, err)
}

func (h *modifiedHookBase) OnPacket(cl *Conn, d Decoded) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.packets = append(h.packets, d)
	if h.byConn == nil {
		h.byConn = map[string][]packets.Type{}
	}
	h.byConn[cl.ID] = append(h.byConn[cl.ID], d.Frame.Type)
}

func (h *modifiedHookBase) OnPacketError(cl *Conn, d Decoded) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, d)
}

func (h *modifiedHookBase) OnStreamError(cl *Conn, dir Direction, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams = append(h.streams, err)
}

func (h *modifiedHookBase) StoredSysInfo() (v storage.SystemInfo, err error) {
	if h.fail {
		return v, errTestHook
	}

	return storage.SystemInfo{
		Info: system.Info{
			Version:          "2.0.0",
			ConnectionsTotal: 4,
			PacketsDecoded:   20,
		},
	}, nil
}

func (h *modifiedHookBase) decoded() []Decoded {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Decoded{}, h.packets...)
}

func (h *modifiedHookBase) failures() ([]Decoded, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Decoded{}, h.errs...), append([]error{}, h.streams...)
}

type providesCheckHook struct {
	HookBase
}

func (h *providesCheckHook) Provides(b byte) bool {
	return b == OnPacket
}

func TestHooksProvides(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(providesCheckHook), nil)
	require.NoError(t, err)

	err = h.Add(new(HookBase), nil)
	require.NoError(t, err)

	require.True(t, h.Provides(OnPacket, OnStreamError))
	require.False(t, h.Provides(OnStreamError, OnPacketError))
}

func TestHooksAddLenGetAll(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)

	err = h.Add(new(modifiedHookBase), nil)
	require.NoError(t, err)

	require.Equal(t, int64(2), h.Len())

	all := h.GetAll()
	require.Equal(t, "base", all[0].ID())
	require.Equal(t, "modified", all[1].ID())
}

func TestHooksAddInitFailure(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(modifiedHookBase), map[string]any{})
	require.Error(t, err)
	require.ErrorIs(t, err, errTestHook)
	require.Equal(t, int64(0), h.Len())
}

func TestHooksGetAllEmpty(t *testing.T) {
	h := new(Hooks)
	require.Empty(t, h.GetAll())
}

func TestHooksStop(t *testing.T) {
	h := new(Hooks)
	h.Log = logger

	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), h.Len())

	h.Stop()
}

func TestHooksStopFailure(t *testing.T) {
	h := new(Hooks)
	h.Log = logger

	err := h.Add(&modifiedHookBase{fail: true}, nil)
	require.NoError(t, err)

	h.Stop()
}

// coverage: also cover some empty functions
func TestHooksNonReturns(t *testing.T) {
	h := new(Hooks)
	cl := newConn("cn1", ConnOptions{Reassemble: true})

	for i := 0; i < 2; i++ {
		t.Run("step-"+strconv.Itoa(i), func(t *testing.T) {
			// on first iteration, check without hook methods
			h.OnStarted()
			h.OnStopped()
			h.OnSysInfoTick(new(system.Info))
			h.OnConnectionOpened(cl)
			h.OnConnectionClosed(cl, nil)
			h.OnPacket(cl, Decoded{})
			h.OnPacketError(cl, Decoded{})
			h.OnStreamError(cl, ClientToServer, packets.ErrMalformedLength)

			// on second iteration, check added hook methods
			err := h.Add(new(modifiedHookBase), nil)
			require.NoError(t, err)
		})
	}
}

func TestHooksDispatch(t *testing.T) {
	h := new(Hooks)
	hook := new(modifiedHookBase)
	err := h.Add(hook, nil)
	require.NoError(t, err)

	cl := newConn("cn1", ConnOptions{Reassemble: true})
	h.OnStarted()
	h.OnSysInfoTick(new(system.Info))
	h.OnConnectionOpened(cl)
	h.OnPacket(cl, Decoded{Direction: ServerToClient})
	h.OnPacketError(cl, Decoded{Err: packets.ErrTruncatedFrame})
	h.OnStreamError(cl, ClientToServer, packets.ErrMalformedLength)
	h.OnConnectionClosed(cl, errTestHook)
	h.OnStopped()

	require.True(t, hook.started)
	require.True(t, hook.stopped)
	require.Equal(t, 1, hook.ticks)
	require.Equal(t, []string{"cn1"}, hook.opened)
	require.Equal(t, []string{"cn1"}, hook.closed)
	require.Equal(t, []error{errTestHook}, hook.closeErr)
	require.Len(t, hook.packets, 1)
	require.Equal(t, ServerToClient, hook.packets[0].Direction)
	require.Len(t, hook.errs, 1)
	require.ErrorIs(t, hook.errs[0].Err, packets.ErrTruncatedFrame)
	require.Equal(t, []error{packets.ErrMalformedLength}, hook.streams)
}

func TestHooksStoredSysInfo(t *testing.T) {
	h := new(Hooks)
	err := h.Add(new(HookBase), nil)
	require.NoError(t, err)

	v, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, "", v.Version)

	err = h.Add(new(modifiedHookBase), nil)
	require.NoError(t, err)

	v, err = h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, "2.0.0", v.Version)
	require.Equal(t, int64(4), v.ConnectionsTotal)
}

func TestHooksStoredSysInfoFailure(t *testing.T) {
	h := new(Hooks)
	h.Log = logger
	err := h.Add(&modifiedHookBase{fail: true}, nil)
	require.NoError(t, err)

	_, err = h.StoredSysInfo()
	require.ErrorIs(t, err, errTestHook)
}

func TestHookBaseID(t *testing.T) {
	h := new(HookBase)
	require.Equal(t, "base", h.ID())
}

func TestHookBaseProvidesNone(t *testing.T) {
	h := new(HookBase)
	require.False(t, h.Provides(OnPacket))
	require.False(t, h.Provides(StoredSysInfo))
}

func TestHookBaseInit(t *testing.T) {
	h := new(HookBase)
	require.Nil(t, h.Init(nil))
}

func TestHookBaseSetOpts(t *testing.T) {
	h := new(HookBase)
	h.SetOpts(logger, &HookOptions{Strict: true})
	require.NotNil(t, h.Log)
	require.NotNil(t, h.Opts)
	require.True(t, h.Opts.Strict)
}

func TestHookBaseStop(t *testing.T) {
	h := new(HookBase)
	require.Nil(t, h.Stop())
}

func TestHookBaseStoredSysInfo(t *testing.T) {
	h := new(HookBase)
	v, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Empty(t, v)
}
