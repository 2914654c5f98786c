// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, thedevop, dgduncan

package dissector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/dissector/hooks/storage"
	"github.com/mochi-mqtt/dissector/system"
)

const (
	SetOptions byte = iota
	OnSysInfoTick
	OnStarted
	OnStopped
	OnConnectionOpened
	OnConnectionClosed
	OnPacket
	OnPacketError
	OnStreamError
	StoredSysInfo
)

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")
)

// HookLoadConfig contains the hook and configuration as loaded from a configuration (usually file).
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// Hook provides an interface of handlers for different events which occur
// while dissecting connections. Hooks are the presentation layer of the
// dissector: they receive every decoded packet and every failure.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted()
	OnStopped()
	OnSysInfoTick(*system.Info)
	OnConnectionOpened(cl *Conn)
	OnConnectionClosed(cl *Conn, err error)
	OnPacket(cl *Conn, d Decoded)                     // a frame decoded successfully
	OnPacketError(cl *Conn, d Decoded)                // a frame failed to decode; later frames are unaffected
	OnStreamError(cl *Conn, dir Direction, err error) // a direction can no longer be framed
	StoredSysInfo() (storage.SystemInfo, error)
}

// HookOptions contains values which are inherited from the dissector on initialisation.
type HookOptions struct {
	Reassemble   bool
	Strict       bool
	MaxFrameSize uint32
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the dissector)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	err := hook.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// OnSysInfoTick is called when the system info values are refreshed.
func (h *Hooks) OnSysInfoTick(sys *system.Info) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSysInfoTick) {
			hook.OnSysInfoTick(sys)
		}
	}
}

// OnStarted is called when the dissector has started.
func (h *Hooks) OnStarted() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStarted) {
			hook.OnStarted()
		}
	}
}

// OnStopped is called when the dissector has stopped.
func (h *Hooks) OnStopped() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStopped) {
			hook.OnStopped()
		}
	}
}

// OnConnectionOpened is called when the first bytes of a connection are seen.
func (h *Hooks) OnConnectionOpened(cl *Conn) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnectionOpened) {
			hook.OnConnectionOpened(cl)
		}
	}
}

// OnConnectionClosed is called when a connection is torn down. err is the
// reason the connection ended, if any.
func (h *Hooks) OnConnectionClosed(cl *Conn, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnectionClosed) {
			hook.OnConnectionClosed(cl, err)
		}
	}
}

// OnPacket is called for each frame which decoded successfully.
func (h *Hooks) OnPacket(cl *Conn, d Decoded) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPacket) {
			hook.OnPacket(cl, d)
		}
	}
}

// OnPacketError is called for each frame which failed to decode.
func (h *Hooks) OnPacketError(cl *Conn, d Decoded) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPacketError) {
			hook.OnPacketError(cl, d)
		}
	}
}

// OnStreamError is called once when a direction of a connection can no longer be framed.
func (h *Hooks) OnStreamError(cl *Conn, dir Direction, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStreamError) {
			hook.OnStreamError(cl, dir, err)
		}
	}
}

// StoredSysInfo returns a set of system info values.
func (h *Hooks) StoredSysInfo() (v storage.SystemInfo, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(StoredSysInfo) {
			v, err := hook.StoredSysInfo()
			if err != nil {
				h.Log.Error("failed to load system info", "error", err, "hook", hook.ID())
				return v, err
			}

			if v.Version != "" {
				return v, nil
			}
		}
	}

	return
}

// HookBase provides a set of default methods for each hook. It should be embedded in
// all hooks.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook, such as connecting to databases
// or opening files.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the dissector to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

// OnStarted is called when the dissector starts.
func (h *HookBase) OnStarted() {}

// OnStopped is called when the dissector stops.
func (h *HookBase) OnStopped() {}

// OnSysInfoTick is called when the dissector refreshes system info.
func (h *HookBase) OnSysInfoTick(*system.Info) {}

// OnConnectionOpened is called when a new connection is seen.
func (h *HookBase) OnConnectionOpened(cl *Conn) {}

// OnConnectionClosed is called when a connection is torn down.
func (h *HookBase) OnConnectionClosed(cl *Conn, err error) {}

// OnPacket is called when a frame is decoded.
func (h *HookBase) OnPacket(cl *Conn, d Decoded) {}

// OnPacketError is called when a frame fails to decode.
func (h *HookBase) OnPacketError(cl *Conn, d Decoded) {}

// OnStreamError is called when a direction can no longer be framed.
func (h *HookBase) OnStreamError(cl *Conn, dir Direction, err error) {}

// StoredSysInfo returns a set of system info values.
func (h *HookBase) StoredSysInfo() (v storage.SystemInfo, err error) {
	return
}
