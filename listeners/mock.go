// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ErrListenerClosed indicates a mock listener is no longer accepting clients.
var ErrListenerClosed = errors.New("listener closed")

// MockEstablisher is a function signature which can be used in testing.
func MockEstablisher(id string, client, upstream net.Conn) error {
	return nil
}

// MockCloser is a function signature which can be used in testing.
func MockCloser(id string) {}

// mockPair is an accepted client and the upstream dialed for it.
type mockPair struct {
	client   net.Conn
	upstream net.Conn
}

// MockListener is a mock listener which proxies in-memory client connections
// to in-memory upstreams.
type MockListener struct {
	sync.RWMutex
	id        string        // the id of the listener
	address   string        // the network address the listener binds to
	Config    *Config       // configuration for the listener
	done      chan bool     // indicate the listener is done
	pending   chan mockPair // dialed clients waiting to be established
	upstreams []net.Conn    // the broker ends of every proxied connection
	Serving   bool          // indicate the listener is serving
	Listening bool          // indiciate the listener is listening
	ErrListen bool          // throw an error on listen
}

// NewMockListener returns a new instance of MockListener.
func NewMockListener(id, address string) *MockListener {
	return &MockListener{
		id:      id,
		address: address,
		done:    make(chan bool),
		pending: make(chan mockPair),
	}
}

// Serve hands each dialed client and its upstream to the establisher until
// the listener is closed.
func (l *MockListener) Serve(establisher EstablishFn) {
	l.Lock()
	l.Serving = true
	l.Unlock()

	for {
		select {
		case <-l.done:
			return
		case p := <-l.pending:
			go func() {
				_ = establisher(l.id, p.client, p.upstream)
			}()
		}
	}
}

// Dial connects a new client through the listener. It returns the client's end
// of the connection and the broker's end of the upstream dialed for it. It
// blocks until the listener is serving or closed.
func (l *MockListener) Dial() (client, broker net.Conn, err error) {
	client, accepted := net.Pipe()
	upstream, broker := net.Pipe()

	select {
	case <-l.done:
		_ = client.Close()
		_ = broker.Close()
		return nil, nil, ErrListenerClosed
	case l.pending <- mockPair{client: accepted, upstream: upstream}:
	}

	l.Lock()
	l.upstreams = append(l.upstreams, broker)
	l.Unlock()

	return client, broker, nil
}

// Upstreams returns the broker ends of the connections proxied so far.
func (l *MockListener) Upstreams() []net.Conn {
	l.RLock()
	defer l.RUnlock()
	return append([]net.Conn{}, l.upstreams...)
}

// Init initializes the listener.
func (l *MockListener) Init(log *slog.Logger) error {
	if l.ErrListen {
		return fmt.Errorf("listen failure")
	}

	l.Lock()
	defer l.Unlock()
	l.Listening = true
	return nil
}

// ID returns the id of the mock listener.
func (l *MockListener) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *MockListener) Address() string {
	return l.address
}

// Protocol returns the address of the listener.
func (l *MockListener) Protocol() string {
	return "mock"
}

// Close closes the mock listener.
func (l *MockListener) Close(closer CloseFn) {
	l.Lock()
	defer l.Unlock()
	l.Serving = false
	closer(l.id)
	close(l.done)
}

// IsServing indicates whether the mock listener is serving.
func (l *MockListener) IsServing() bool {
	l.Lock()
	defer l.Unlock()
	return l.Serving
}

// IsListening indicates whether the mock listener is listening.
func (l *MockListener) IsListening() bool {
	l.Lock()
	defer l.Unlock()
	return l.Listening
}
