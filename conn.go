// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package dissector

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/dissector/mempool"
	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/stream"
)

var (
	ErrInvalidDirection = errors.New("invalid stream direction") // a direction other than ClientToServer or ServerToClient
)

// Direction identifies one half of a connection.
type Direction byte

const (
	ClientToServer Direction = iota
	ServerToClient
)

// String returns the readable direction.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	}
	return "unknown"
}

// Decoded is the result of decoding one frame. Packet is nil when Err is set.
type Decoded struct {
	Frame     stream.Frame   // the raw frame
	Packet    packets.Packet // the decoded packet
	Err       error          // a packet-local decoding failure
	Direction Direction      // the direction the frame travelled
	Received  int64          // unix nano time the frame was completed
}

// ConnectionState is the per-connection state shared by both directions while
// decoding. The protocol version is unknown until a CONNECT has been decoded.
type ConnectionState struct {
	version atomic.Uint32
}

// ProtocolVersion returns the protocol version of the connection.
func (s *ConnectionState) ProtocolVersion() packets.Version {
	return packets.Version(s.version.Load())
}

// SetProtocolVersion sets the protocol version of the connection.
func (s *ConnectionState) SetProtocolVersion(v packets.Version) {
	s.version.Store(uint32(v))
}

// ConnOptions contains the decoding settings applied to new connections.
type ConnOptions struct {
	Reassemble   bool               // buffer partial frames across chunks
	MaxFrameSize uint32             // largest accepted frame, 0 for the protocol maximum
	Strict       bool               // validate flags, qos and strings
	Pool         mempool.BufferPool // accumulation buffers, the default pool if nil
}

// ConnNet contains the network values of a proxied connection.
type ConnNet struct {
	Client   net.Conn // the accepted client connection
	Upstream net.Conn // the connection to the broker
	Remote   string   // the remote address of the client
	Listener string   // the listener the client connected on
}

// Conn is a connection known to the dissector. Each Conn owns one reassembler
// per direction and a ConnectionState shared by both.
type Conn struct {
	State   ConnectionState
	Net     ConnNet
	ID      string
	Opened  int64
	mu      sync.Mutex
	decoder packets.Decoder
	readers [2]*stream.Reassembler
	frames  [2]atomic.Int64
}

// newConn returns a new instance of Conn.
func newConn(id string, o ConnOptions) *Conn {
	cl := &Conn{
		ID:      id,
		Opened:  time.Now().Unix(),
		decoder: packets.Decoder{Strict: o.Strict},
	}

	for i := range cl.readers {
		cl.readers[i] = stream.NewReassembler(stream.Options{
			Disabled:     !o.Reassemble,
			MaxFrameSize: o.MaxFrameSize,
			Pool:         o.Pool,
		})
	}

	return cl
}

// Feed appends a chunk to a direction of the connection and decodes every
// frame it completes, in order. Packet-local failures are reported in the
// returned Decoded values and do not stop later frames. A stream failure is
// returned as an error along with any frames decoded before it, and is
// returned again by every later call for the same direction.
func (cl *Conn) Feed(dir Direction, chunk []byte) ([]Decoded, error) {
	if dir > ServerToClient {
		return nil, ErrInvalidDirection
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	r := cl.readers[dir]
	if err := r.Feed(chunk); err != nil {
		return nil, err
	}

	var out []Decoded
	for {
		f, ok, err := r.Next()
		if err != nil {
			return out, err
		}

		if !ok {
			break
		}

		d := Decoded{
			Frame:     f,
			Direction: dir,
			Received:  time.Now().UnixNano(),
		}
		d.Packet, d.Err = cl.decoder.Decode(f.Raw, &cl.State)
		cl.frames[dir].Add(1)
		out = append(out, d)
	}

	return out, nil
}

// Err returns the stream failure of a direction, if any.
func (cl *Conn) Err(dir Direction) error {
	if dir > ServerToClient {
		return ErrInvalidDirection
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.readers[dir].Err()
}

// Buffered returns the bytes held for a direction awaiting the rest of a frame.
func (cl *Conn) Buffered(dir Direction) int {
	if dir > ServerToClient {
		return 0
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.readers[dir].Buffered()
}

// Frames returns the number of frames extracted from a direction.
func (cl *Conn) Frames(dir Direction) int64 {
	if dir > ServerToClient {
		return 0
	}
	return cl.frames[dir].Load()
}

// release returns the buffers held by the connection.
func (cl *Conn) release() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, r := range cl.readers {
		r.Release()
	}
}

// closeNet closes the network connections of a proxied connection.
func (cl *Conn) closeNet() {
	if cl.Net.Client != nil {
		_ = cl.Net.Client.Close()
	}

	if cl.Net.Upstream != nil {
		_ = cl.Net.Upstream.Close()
	}
}
