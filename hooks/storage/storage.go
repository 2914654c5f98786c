// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package storage contains the storable records written by the storage hooks.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jinzhu/copier"

	"github.com/mochi-mqtt/dissector/packets"
	"github.com/mochi-mqtt/dissector/system"
)

const (
	ConnectionKey = "CN"  // unique key to denote connections in a store
	PacketKey     = "PK"  // unique key to denote decoded packets in a store
	SysInfoKey    = "SYS" // unique key to denote dissector system information in a store
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// Connection is a storable representation of a dissected connection.
type Connection struct {
	ID               string          `json:"id" storm:"id"`              // the connection id / storage key
	T                string          `json:"t"`                          // the data type (connection)
	Remote           string          `json:"remote,omitempty"`           // the remote address of the client
	Listener         string          `json:"listener,omitempty"`         // the listener the client connected on
	ClientIdentifier string          `json:"clientIdentifier,omitempty"` // the client id from CONNECT
	Username         string          `json:"username,omitempty"`         // the username from CONNECT
	Error            string          `json:"error,omitempty"`            // the reason the connection ended
	Opened           int64           `json:"opened"`                     // unix time the connection was first seen
	Closed           int64           `json:"closed,omitempty"`           // unix time the connection was torn down
	Keepalive        uint16          `json:"keepalive,omitempty"`        // the keepalive from CONNECT
	ProtocolVersion  packets.Version `json:"protocolVersion"`            // the protocol version from CONNECT
	CleanSession     bool            `json:"cleanSession,omitempty"`     // the clean session flag from CONNECT
}

// NewConnection returns a Connection record for a newly seen connection.
func NewConnection(id, remote, listener string, opened int64) Connection {
	return Connection{
		ID:       id,
		T:        ConnectionKey,
		Remote:   remote,
		Listener: listener,
		Opened:   opened,
	}
}

// ApplyConnect copies the session values of a CONNECT packet into the record.
func (d *Connection) ApplyConnect(pk *packets.ConnectPacket) error {
	return copier.Copy(d, pk)
}

// MarshalBinary encodes the values into a json string.
func (d Connection) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Connection) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// Packet is a storable representation of a decoded frame. The decoded values
// of every packet type are flattened into one record; fields which do not
// belong to the packet type are left empty.
type Packet struct {
	FixedHeader      packets.FixedHeader       `json:"fixedheader"`                // the header of the frame
	Raw              []byte                    `json:"raw"`                        // the frame as it appeared on the wire
	Payload          []byte                    `json:"payload,omitempty"`          // PUBLISH
	WillMessage      []byte                    `json:"willMessage,omitempty"`      // CONNECT
	Password         []byte                    `json:"password,omitempty"`         // CONNECT
	ReturnCodes      []byte                    `json:"returnCodes,omitempty"`      // SUBACK
	Subscriptions    []packets.Subscription    `json:"subscriptions,omitempty"`    // SUBSCRIBE
	Filters          []string                  `json:"filters,omitempty"`          // UNSUBSCRIBE
	ID               string                    `json:"id" storm:"id"`              // the storage key
	T                string                    `json:"t"`                          // the data type (packet)
	Connection       string                    `json:"connection"`                 // the connection id
	Error            string                    `json:"error,omitempty"`            // the decode failure, if any
	ProtocolName     string                    `json:"protocolName,omitempty"`     // CONNECT
	ClientIdentifier string                    `json:"clientIdentifier,omitempty"` // CONNECT
	Username         string                    `json:"username,omitempty"`         // CONNECT
	WillTopic        string                    `json:"willTopic,omitempty"`        // CONNECT
	TopicName        string                    `json:"topicName,omitempty"`        // PUBLISH
	Received         int64                     `json:"received"`                   // unix nano time the frame was completed
	Sequence         int64                     `json:"sequence"`                   // position of the frame within its connection
	Keepalive        uint16                    `json:"keepalive,omitempty"`        // CONNECT
	PacketID         uint16                    `json:"packetId,omitempty"`         // acknowledgements, PUBLISH, SUBSCRIBE
	ProtocolVersion  packets.Version           `json:"protocolVersion,omitempty"`  // CONNECT
	ReturnCode       packets.ConnectReturnCode `json:"returnCode,omitempty"`       // CONNACK
	Direction        byte                      `json:"direction"`                  // 0 client to server, 1 server to client
	WillQos          byte                      `json:"willQos,omitempty"`          // CONNECT
	CleanSession     bool                      `json:"cleanSession,omitempty"`     // CONNECT
	WillFlag         bool                      `json:"willFlag,omitempty"`         // CONNECT
	WillRetain       bool                      `json:"willRetain,omitempty"`       // CONNECT
	SessionPresent   bool                      `json:"sessionPresent,omitempty"`   // CONNACK
	HasPacketID      bool                      `json:"hasPacketId,omitempty"`      // PUBLISH
}

// PacketKeyFor returns the storage key of the seq-th packet of a connection.
func PacketKeyFor(connID string, seq int64) string {
	return fmt.Sprintf("%s%016d", PacketPrefix(connID), seq)
}

// PacketPrefix returns the key prefix shared by every packet of a connection.
// The id is length prefixed, so the prefix of an id never matches the keys of
// a longer id which begins with it.
func PacketPrefix(connID string) string {
	return PacketKey + "_" + strconv.Itoa(len(connID)) + "_" + connID + "_"
}

// SequenceOf returns the sequence number held by a packet key.
func SequenceOf(key string) (int64, bool) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 {
		return 0, false
	}

	seq, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Sequencer numbers the stored packets of each connection in the order they
// are recorded, across both directions.
type Sequencer struct {
	// Resume returns the number to continue from for a connection without a
	// counter, so a reused id does not overwrite packets already stored for it.
	// Counting starts at 0 if nil.
	Resume func(connID string) int64

	mu   sync.Mutex
	next map[string]int64
}

// Next returns the next sequence number for a connection.
func (s *Sequencer) Next(connID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		s.next = make(map[string]int64)
	}

	n, ok := s.next[connID]
	if !ok && s.Resume != nil {
		n = s.Resume(connID)
	}
	s.next[connID] = n + 1
	return n
}

// Forget drops the counter of a closed connection.
func (s *Sequencer) Forget(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, connID)
}

// NewPacket returns a storable record of a decoded frame. pk may be nil if
// the frame failed to decode, in which case decodeErr is recorded.
func NewPacket(connID string, dir byte, seq, received int64, raw []byte, pk packets.Packet, decodeErr error) (Packet, error) {
	d := Packet{
		ID:         PacketKeyFor(connID, seq),
		T:          PacketKey,
		Connection: connID,
		Direction:  dir,
		Sequence:   seq,
		Received:   received,
		Raw:        append([]byte{}, raw...),
	}

	if decodeErr != nil {
		d.Error = decodeErr.Error()
	}

	if pk == nil {
		return d, nil
	}

	if err := copier.CopyWithOption(&d, pk, copier.Option{DeepCopy: true}); err != nil {
		return d, fmt.Errorf("copy %v packet: %w", pk.Header().Type, err)
	}
	d.FixedHeader = pk.Header()

	return d, nil
}

// MarshalBinary encodes the values into a json string.
func (d Packet) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Packet) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// SystemInfo is a storable representation of the system information values.
type SystemInfo struct {
	system.Info        // embed the system info struct
	T           string `json:"t"`             // the data type
	ID          string `json:"id" storm:"id"` // the storage key
}

// MarshalBinary encodes the values into a json string.
func (d SystemInfo) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *SystemInfo) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}
