// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package packets decodes MQTT v3.1 and v3.1.1 control packets from complete frames.
package packets

import "strconv"

// Type is the 4-bit control packet type carried in the top of the fixed header byte.
type Type byte

// All of the valid packet types and their packet identifier.
const (
	Reserved    Type = iota
	Connect          // 1
	Connack          // 2
	Publish          // 3
	Puback           // 4
	Pubrec           // 5
	Pubrel           // 6
	Pubcomp          // 7
	Subscribe        // 8
	Suback           // 9
	Unsubscribe      // 10
	Unsuback         // 11
	Pingreq          // 12
	Pingresp         // 13
	Disconnect       // 14
	Reserved15       // 15
)

const (
	DefaultPort    = 1883 // IANA mqtt
	DefaultTLSPort = 8883 // IANA secure-mqtt

	// MinFrameSize is the size of the smallest control packet (PINGREQ, PINGRESP, DISCONNECT).
	MinFrameSize = 2

	// MaxRemainingLength is the largest value a remaining length field can carry.
	MaxRemainingLength = 268435455
)

// Names is a map that provides human-readable names for the different
// MQTT packet types based on their ids.
var Names = map[Type]string{
	0:  "RESERVED",
	1:  "CONNECT",
	2:  "CONNACK",
	3:  "PUBLISH",
	4:  "PUBACK",
	5:  "PUBREC",
	6:  "PUBREL",
	7:  "PUBCOMP",
	8:  "SUBSCRIBE",
	9:  "SUBACK",
	10: "UNSUBSCRIBE",
	11: "UNSUBACK",
	12: "PINGREQ",
	13: "PINGRESP",
	14: "DISCONNECT",
	15: "RESERVED",
}

// String returns the readable name of the packet type.
func (t Type) String() string {
	if n, ok := Names[t]; ok {
		return n
	}
	return "UNKNOWN (0x" + strconv.FormatUint(uint64(t), 16) + ")"
}

// Version is the protocol level sent in a CONNECT packet.
type Version byte

const (
	VersionUnknown Version = 0 // no CONNECT observed yet
	V31            Version = 3 // MQIsdp
	V311           Version = 4 // MQTT
)

// String returns the readable protocol version.
func (v Version) String() string {
	switch v {
	case V31:
		return "MQTT v3.1"
	case V311:
		return "MQTT v3.1.1"
	case VersionUnknown:
		return "unknown"
	}
	return "MQTT level " + strconv.Itoa(int(v))
}

// State is the per-connection state consulted and updated while decoding.
// A nil State behaves as a connection with an unknown protocol version.
type State interface {
	ProtocolVersion() Version
	SetProtocolVersion(v Version)
}

// Packet is a decoded control packet. The concrete type is one of the
// *XxxPacket types in this package, selected by Header().Type.
type Packet interface {
	Header() FixedHeader
	packet()
}

// Subscription is a single topic filter entry of a SUBSCRIBE packet.
type Subscription struct {
	Filter string `json:"filter"`
	Qos    byte   `json:"qos"`
}

// QosName returns the readable meaning of a QoS or SUBACK return code byte.
func QosName(b byte) string {
	switch b {
	case 0:
		return "At most once delivery (Fire and Forget)"
	case 1:
		return "At least once delivery (Acknowledged deliver)"
	case 2:
		return "Exactly once delivery (Assured Delivery)"
	case 3:
		return "Reserved"
	case SubackFailure:
		return "Failure"
	}
	return "Unknown"
}
