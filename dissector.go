// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package dissector decodes the MQTT v3.1 and v3.1.1 control packets carried
// by byte streams, delivered as arbitrarily sized chunks per connection and
// direction, and presents them to hooks.
package dissector

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/dissector/listeners"
	"github.com/mochi-mqtt/dissector/mempool"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

const (
	Version                        = "1.0.0" // the current dissector version.
	defaultSysInfoInterval  int64  = 1       // the interval between system info refreshes
	defaultReadBufferSize          = 1024 * 2
	defaultBufferPoolMaxCap        = mempool.DefaultMaxCap
	defaultHookQueueSize    uint64 = 1024 // pending hook calls per hook worker
)

var (
	ErrListenerIDExists     = errors.New("listener id already exists")                    // a listener with the same id already exists
	ErrConnectionNotFound   = errors.New("connection not found")                          // no connection is known with the id
	ErrConnectionIncomplete = errors.New("both client and upstream connections required") // a proxied connection is missing one side
)

// Options contains configurable options for the dissector.
type Options struct {
	// Listeners specifies any listeners which should be dynamically added on serve. Used when setting listeners by config.
	Listeners []listeners.Config `yaml:"listeners" json:"listeners"`

	// Hooks specifies any hooks which should be dynamically added on serve. Used when setting hooks by config.
	Hooks []HookLoadConfig `yaml:"hooks" json:"hooks"`

	// Reassemble buffers frames which span several chunks. When false, each
	// chunk is treated as holding exactly one frame. Defaults to true.
	Reassemble *bool `yaml:"reassemble" json:"reassemble"`

	// MaxFrameSize is the largest frame accepted before a direction fails, 0 for
	// the protocol maximum.
	MaxFrameSize uint32 `yaml:"max_frame_size" json:"max_frame_size"`

	// Strict validates fixed header flags, QoS values and strings. Violations
	// are reported per packet.
	Strict bool `yaml:"strict" json:"strict"`

	// ReadBufferSize specifies the size of the buffer used to relay proxied connections.
	ReadBufferSize int `yaml:"read_buffer_size" json:"read_buffer_size"`

	// BufferPoolMaxCap is the largest accumulation buffer returned to the pool.
	BufferPoolMaxCap int `yaml:"buffer_pool_max_cap" json:"buffer_pool_max_cap"`

	// HookWorkers runs the per-connection hook calls on a pool of this many
	// workers instead of on the goroutine feeding the connection. The calls of a
	// connection keep their order. 0 runs hooks inline.
	HookWorkers uint64 `yaml:"hook_workers" json:"hook_workers"`

	// HookQueueSize is the number of pending hook calls each worker can hold.
	HookQueueSize uint64 `yaml:"hook_queue_size" json:"hook_queue_size"`

	// Logger specifies a custom configured implementation of log/slog to override
	// the dissectors default logger configuration.
	Logger *slog.Logger `yaml:"-" json:"-"`

	// SysInfoInterval specifies the interval between system info refreshes in seconds.
	SysInfoInterval int64 `yaml:"sys_info_interval" json:"sys_info_interval"`

	// RestoreSysInfoOnRestart restores the cumulative counters from a store as if the
	// dissector never stopped.
	RestoreSysInfoOnRestart bool `yaml:"restore_sys_info_on_restart" json:"restore_sys_info_on_restart"`
}

// Dissector tracks connections, decodes their byte streams and hands the results to
// hooks. It should be created with dissector.New() in order to ensure all the
// internal fields are correctly populated.
type Dissector struct {
	Options     *Options             // configurable dissector options
	Listeners   *listeners.Listeners // listeners are network interfaces which accept connections to proxy
	Connections *Connections         // connections known to the dissector
	Info        *system.Info         // values about the dissector commonly known as system info
	loop        *loop                // loop contains tickers for the system event loop
	done        chan bool            // indicate that the dissector is ending
	Log         *slog.Logger         // minimal no-alloc logger
	hooks       *Hooks               // hooks contains hooks for presentation and persistent storage
	fanpool     *FanPool             // per-connection hook workers, nil when hooks run inline
}

// loop contains interval tickers for the system events loop.
type loop struct {
	sysInfo *time.Ticker // interval ticker for refreshing system info
}

// New returns a new instance of a dissector. Optional parameters
// can be specified to override some default settings (see Options).
func New(opts *Options) *Dissector {
	if opts == nil {
		opts = new(Options)
	}

	opts.ensureDefaults()

	s := &Dissector{
		done:      make(chan bool),
		Listeners: listeners.New(),
		Connections: NewConnections(ConnOptions{
			Reassemble:   *opts.Reassemble,
			MaxFrameSize: opts.MaxFrameSize,
			Strict:       opts.Strict,
			Pool:         mempool.NewBuffer(opts.BufferPoolMaxCap),
		}),
		loop: &loop{
			sysInfo: time.NewTicker(time.Second * time.Duration(opts.SysInfoInterval)),
		},
		Options: opts,
		Info: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		Log: opts.Logger,
		hooks: &Hooks{
			Log: opts.Logger,
		},
	}

	if opts.HookWorkers > 0 {
		s.fanpool = NewFanPool(opts.HookWorkers, opts.HookQueueSize)
	}

	return s
}

// ensureDefaults ensures that the dissector starts with sane default values, if none are provided.
func (o *Options) ensureDefaults() {
	if o.Reassemble == nil {
		reassemble := true
		o.Reassemble = &reassemble
	}

	if o.SysInfoInterval == 0 {
		o.SysInfoInterval = defaultSysInfoInterval
	}

	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = defaultReadBufferSize
	}

	if o.BufferPoolMaxCap == 0 {
		o.BufferPoolMaxCap = defaultBufferPoolMaxCap
	}

	if o.HookWorkers > 0 && o.HookQueueSize == 0 {
		o.HookQueueSize = defaultHookQueueSize
	}

	if o.Logger == nil {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		o.Logger = log
	}
}

// AddHook attaches a new Hook to the dissector. Ideally, this should be called
// before the dissector is started with s.Serve().
func (s *Dissector) AddHook(hook Hook, config any) error {
	nl := s.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		Reassemble:   *s.Options.Reassemble,
		Strict:       s.Options.Strict,
		MaxFrameSize: s.Options.MaxFrameSize,
	})

	s.Log.Info("added hook", "hook", hook.ID())
	return s.hooks.Add(hook, config)
}

// AddHooksFromConfig adds hooks to the dissector which were specified in the hooks config (usually from a config file).
func (s *Dissector) AddHooksFromConfig(hooks []HookLoadConfig) error {
	for _, h := range hooks {
		if err := s.AddHook(h.Hook, h.Config); err != nil {
			return err
		}
	}
	return nil
}

// AddListener adds a new network listener to the dissector, for proxying incoming client connections.
func (s *Dissector) AddListener(l listeners.Listener) error {
	if _, ok := s.Listeners.Get(l.ID()); ok {
		return ErrListenerIDExists
	}

	nl := s.Log.With(slog.String("listener", l.ID()))
	err := l.Init(nl)
	if err != nil {
		return err
	}

	s.Listeners.Add(l)

	s.Log.Info("attached listener", "id", l.ID(), "protocol", l.Protocol(), "address", l.Address())
	return nil
}

// AddListenersFromConfig adds listeners to the dissector which were specified in the listeners config (usually from a config file).
// New built-in listeners should be added to this list.
func (s *Dissector) AddListenersFromConfig(configs []listeners.Config) error {
	for _, conf := range configs {
		var l listeners.Listener
		switch strings.ToLower(conf.Type) {
		case listeners.TypeTCP:
			l = listeners.NewTCP(conf)
		case listeners.TypeUnix:
			l = listeners.NewUnixSock(conf)
		case listeners.TypeWS:
			l = listeners.NewWebsocket(conf)
		case listeners.TypeSysInfo:
			l = listeners.NewHTTPStats(conf, s.Info)
		case listeners.TypeMock:
			l = listeners.NewMockListener(conf.ID, conf.Address)
		default:
			s.Log.Error("listener type unavailable by config", "listener", conf.Type)
			continue
		}
		if err := s.AddListener(l); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the event loops responsible for establishing proxied connections
// on all attached listeners, refreshing the system info, and starting all hooks.
func (s *Dissector) Serve() error {
	s.Log.Info("mochi mqtt dissector starting", "version", Version)
	defer s.Log.Info("mochi mqtt dissector started")

	if len(s.Options.Listeners) > 0 {
		err := s.AddListenersFromConfig(s.Options.Listeners)
		if err != nil {
			return err
		}
	}

	if len(s.Options.Hooks) > 0 {
		err := s.AddHooksFromConfig(s.Options.Hooks)
		if err != nil {
			return err
		}
	}

	if s.hooks.Provides(StoredSysInfo) {
		err := s.readStore()
		if err != nil {
			return err
		}
	}

	go s.eventLoop()                            // spin up event loop for refreshing system info and closing the dissector.
	s.Listeners.ServeAll(s.EstablishConnection) // start listening on all listeners.
	s.refreshSysInfo()                          // begin refreshing system values.
	s.hooks.OnStarted()

	return nil
}

// eventLoop loops forever, running various dissector housekeeping methods at different intervals.
func (s *Dissector) eventLoop() {
	s.Log.Debug("system event loop started")
	defer s.Log.Debug("system event loop halted")

	for {
		select {
		case <-s.done:
			s.loop.sysInfo.Stop()
			return
		case <-s.loop.sysInfo.C:
			s.refreshSysInfo()
		}
	}
}

// Feed hands a chunk of the byte stream of one direction of a connection to the
// dissector, creating the connection if it is new. Every frame the chunk completes
// is decoded and given to the hooks in order. A stream failure is returned, and is
// returned again for every later chunk of the same direction without calling the
// hooks.
func (s *Dissector) Feed(id string, dir Direction, chunk []byte) error {
	if dir > ServerToClient {
		return ErrInvalidDirection
	}

	cl, created := s.Connections.GetOrCreate(id)
	if created {
		s.Info.ConnectionOpened()
		s.dispatch(cl.ID, func() { s.hooks.OnConnectionOpened(cl) })
	}

	return s.feed(cl, dir, chunk)
}

// feed decodes a chunk for a known connection and reports the results.
func (s *Dissector) feed(cl *Conn, dir Direction, chunk []byte) error {
	if dir == ClientToServer {
		atomic.AddInt64(&s.Info.BytesClientToServer, int64(len(chunk)))
	} else {
		atomic.AddInt64(&s.Info.BytesServerToClient, int64(len(chunk)))
	}

	if err := cl.Err(dir); err != nil {
		return err
	}

	decoded, err := cl.Feed(dir, chunk)
	for _, d := range decoded {
		atomic.AddInt64(&s.Info.FramesReceived, 1)
		if d.Err != nil {
			atomic.AddInt64(&s.Info.PacketErrors, 1)
			s.dispatch(cl.ID, func() { s.hooks.OnPacketError(cl, d) })
			continue
		}

		atomic.AddInt64(&s.Info.PacketsDecoded, 1)
		if d.Frame.Type == packets.Publish {
			atomic.AddInt64(&s.Info.PublishPackets, 1)
		}
		s.dispatch(cl.ID, func() { s.hooks.OnPacket(cl, d) })
	}

	if err != nil {
		atomic.AddInt64(&s.Info.StreamErrors, 1)
		s.Log.Warn("stream failed", "error", err, "connection", cl.ID, "direction", dir.String())
		s.dispatch(cl.ID, func() { s.hooks.OnStreamError(cl, dir, err) })
		return err
	}

	return nil
}

// EstablishConnection relays a proxied client connection to its upstream broker
// while dissecting the bytes travelling in both directions. It blocks until
// either side closes. Dissection failures never interrupt the relay.
func (s *Dissector) EstablishConnection(listener string, client, upstream net.Conn) error {
	if client == nil || upstream == nil {
		return ErrConnectionIncomplete
	}

	cl := s.Connections.New(xid.New().String())
	cl.Net = ConnNet{
		Client:   client,
		Upstream: upstream,
		Remote:   client.RemoteAddr().String(),
		Listener: listener,
	}

	s.Connections.Add(cl)
	s.Info.ConnectionOpened()
	s.dispatch(cl.ID, func() { s.hooks.OnConnectionOpened(cl) })

	errs := make(chan error, 2)
	go func() {
		errs <- s.relay(cl, ClientToServer, upstream, client)
	}()
	go func() {
		errs <- s.relay(cl, ServerToClient, client, upstream)
	}()

	err := <-errs
	cl.closeNet()
	<-errs

	if isClosedErr(err) {
		err = nil
	}

	s.closeConnection(cl.ID, err)
	return err
}

// relay copies src to dst, feeding each chunk to the dissector as it passes.
func (s *Dissector) relay(cl *Conn, dir Direction, dst io.Writer, src io.Reader) error {
	buf := make([]byte, s.Options.ReadBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			_ = s.feed(cl, dir, buf[:n])
		}

		if err != nil {
			return err
		}
	}
}

// isClosedErr returns true if err is the ordinary end of a relayed connection.
func isClosedErr(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// CloseConnection stops tracking a connection, closing its network connections
// if it was proxied, and releases its buffers.
func (s *Dissector) CloseConnection(id string) error {
	if !s.closeConnection(id, nil) {
		return ErrConnectionNotFound
	}
	return nil
}

// closeConnection removes a connection and reports it closed. It returns false if
// the connection was not known.
func (s *Dissector) closeConnection(id string, err error) bool {
	cl, ok := s.Connections.Delete(id)
	if !ok {
		return false
	}

	cl.closeNet()
	cl.release()
	s.Info.ConnectionClosed()
	s.dispatch(cl.ID, func() { s.hooks.OnConnectionClosed(cl, err) })
	s.Log.Debug("connection closed", "connection", cl.ID, "listener", cl.Net.Listener, "error", err)
	return true
}

// dispatch runs a hook call for a connection, on the hook workers if there are
// any. A call made after the workers have stopped is run inline.
func (s *Dissector) dispatch(id string, task func()) {
	if s.fanpool == nil || !s.fanpool.Enqueue(id, task) {
		task()
	}
}

// refreshSysInfo updates the runtime values of the system info and hands a copy
// to the hooks.
func (s *Dissector) refreshSysInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	atomic.StoreInt64(&s.Info.MemoryAlloc, int64(m.HeapInuse))
	atomic.StoreInt64(&s.Info.Threads, int64(runtime.NumGoroutine()))
	atomic.StoreInt64(&s.Info.Time, time.Now().Unix())
	atomic.StoreInt64(&s.Info.Uptime, time.Now().Unix()-atomic.LoadInt64(&s.Info.Started))
	atomic.StoreInt64(&s.Info.ConnectionsOpen, int64(s.Connections.Len()))

	s.hooks.OnSysInfoTick(s.Info.Clone())
}

// Close attempts to gracefully shut down the dissector, all listeners, connections, and stores.
func (s *Dissector) Close() error {
	close(s.done)
	s.Log.Info("gracefully stopping dissector")
	s.Listeners.CloseAll(s.closeListenerConnections)

	for id := range s.Connections.GetAll() {
		s.closeConnection(id, nil)
	}

	if s.fanpool != nil {
		s.fanpool.Close()
		s.fanpool.Wait()
	}

	s.hooks.OnStopped()
	s.hooks.Stop()

	s.Log.Info("mochi mqtt dissector stopped")
	return nil
}

// closeListenerConnections closes all connections on the specified listener.
func (s *Dissector) closeListenerConnections(listener string) {
	for _, cl := range s.Connections.GetByListener(listener) {
		s.closeConnection(cl.ID, nil)
	}
}

// readStore reads in any data from the persistent datastore (if applicable).
func (s *Dissector) readStore() error {
	if s.hooks.Provides(StoredSysInfo) {
		sysInfo, err := s.hooks.StoredSysInfo()
		if err != nil {
			return fmt.Errorf("load system info; %w", err)
		}
		s.loadSysInfo(sysInfo.Info)
		s.Log.Debug("loaded system info from store")
	}

	return nil
}

// loadSysInfo restores the cumulative counters from the datastore.
func (s *Dissector) loadSysInfo(v system.Info) {
	if !s.Options.RestoreSysInfoOnRestart {
		return
	}

	atomic.StoreInt64(&s.Info.BytesClientToServer, v.BytesClientToServer)
	atomic.StoreInt64(&s.Info.BytesServerToClient, v.BytesServerToClient)
	atomic.StoreInt64(&s.Info.ConnectionsMaximum, v.ConnectionsMaximum)
	atomic.StoreInt64(&s.Info.ConnectionsTotal, v.ConnectionsTotal)
	atomic.StoreInt64(&s.Info.FramesReceived, v.FramesReceived)
	atomic.StoreInt64(&s.Info.PacketsDecoded, v.PacketsDecoded)
	atomic.StoreInt64(&s.Info.PublishPackets, v.PublishPackets)
	atomic.StoreInt64(&s.Info.PacketErrors, v.PacketErrors)
	atomic.StoreInt64(&s.Info.StreamErrors, v.StreamErrors)
}
