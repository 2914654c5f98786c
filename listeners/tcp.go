// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"log/slog"
)

// TCP is a tapping proxy listener. Each accepted client is paired with a new
// connection to the upstream broker and both are handed to the dissector.
type TCP struct {
	sync.RWMutex
	id      string       // the internal id of the listener
	network string       // the network to listen on, tcp or unix
	address string       // the network address to bind to
	listen  net.Listener // a net.Listener which will listen for new clients
	config  Config       // configuration values for the listener
	log     *slog.Logger // dissector logger
	dial    func(Config) (net.Conn, error)
	end     uint32 // ensure the close methods are only called once
}

// NewTCP initialises and returns a new TCP proxy listener, listening on an address.
func NewTCP(config Config) *TCP {
	return &TCP{
		id:      config.ID,
		network: TypeTCP,
		address: config.Address,
		config:  config,
		dial:    dialUpstream,
	}
}

// NewUnixSock initialises and returns a new proxy listener on a unix socket.
func NewUnixSock(config Config) *TCP {
	l := NewTCP(config)
	l.network = TypeUnix
	return l
}

// ID returns the id of the listener.
func (l *TCP) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *TCP) Address() string {
	if l.listen != nil {
		return l.listen.Addr().String()
	}
	return l.address
}

// Protocol returns the address of the listener.
func (l *TCP) Protocol() string {
	return l.network
}

// Init initializes the listener.
func (l *TCP) Init(log *slog.Logger) error {
	l.log = log

	if l.config.Upstream == "" {
		return ErrNoUpstream
	}

	var err error
	if l.config.TLSConfig != nil {
		l.listen, err = tls.Listen(l.network, l.address, l.config.TLSConfig)
	} else {
		l.listen, err = net.Listen(l.network, l.address)
	}

	return err
}

// Serve starts waiting for new TCP connections, and calls the establish
// connection callback for any received.
func (l *TCP) Serve(establish EstablishFn) {
	for {
		if atomic.LoadUint32(&l.end) == 1 {
			return
		}

		conn, err := l.listen.Accept()
		if err != nil {
			return
		}

		if atomic.LoadUint32(&l.end) == 0 {
			go func() {
				upstream, err := l.dial(l.config)
				if err != nil {
					l.log.Warn("failed to dial upstream", "error", err, "upstream", l.config.Upstream)
					_ = conn.Close()
					return
				}

				err = establish(l.id, conn, upstream)
				if err != nil {
					l.log.Warn("", "error", err)
				}
			}()
		}
	}
}

// Close closes the listener and any client connections.
func (l *TCP) Close(closeClients CloseFn) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		closeClients(l.id)
	}

	if l.listen != nil {
		err := l.listen.Close()
		if err != nil {
			return
		}
	}
}
