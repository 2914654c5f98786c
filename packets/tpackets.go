// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// TPacketCase contains data for cross-checking the decoding of frames
// and expected scenarios.
type TPacketCase struct {
	RawBytes []byte  // the bytes that make the frame
	Group    string  // a group that should run the test, blank for all
	Desc     string  // a description of the test
	Packet   Packet  // the packet that is expected
	Expect   error   // expected decode failure
	Field    string  // the field named by the expected failure
	Version  Version // the protocol version of the connection before decoding
	Strict   bool    // decode with strict validation
	Primary  bool    // primary is a complete well-formed frame, safe to feed through a stream
	Case     byte    // the identifying byte of the case
}

// TPacketCases is a slice of TPacketCase.
type TPacketCases []TPacketCase

// Get returns a case matching a given T byte.
func (f TPacketCases) Get(b byte) TPacketCase {
	for _, v := range f {
		if v.Case == b {
			return v
		}
	}

	return TPacketCase{}
}

const (
	TConnectMqtt31 byte = iota
	TConnectMqtt311
	TConnectDeclaredLonger
	TConnectUserPassLWT
	TConnectUsernameFlagNoBytes
	TConnectMalProtocolName
	TConnectMalKeepalive
	TConnectInvalidReservedBit
	TConnectInvalidUTF8
	TConnackAcceptedNoSession
	TConnackAcceptedSessionPresent
	TConnackMqtt31AckFlags
	TConnackBadProtocolVersion
	TConnackMalReturnCode
	TPublishBasic
	TPublishQos0Payload
	TPublishQos1
	TPublishDupRetainQos2
	TPublishInvalidQos3
	TPublishMalTopicName
	TPublishMalPacketID
	TPuback
	TPubackMalPacketID
	TPubrec
	TPubrecMalPacketID
	TPubrel
	TPubrelMqtt31
	TPubrelInvalidFlags
	TPubrelMalPacketID
	TPubcomp
	TPubcompMalPacketID
	TSubscribe
	TSubscribeMany
	TSubscribeMqtt31Dup
	TSubscribeMqtt311DupBit
	TSubscribeInvalidFlags
	TSubscribeMalTopicName
	TSubscribeMalQos
	TSubscribeInvalidQos
	TSubscribeInvalidNoFilters
	TSuback
	TSubackMany
	TSubackMalLoop
	TSubackInvalidCode
	TUnsubscribe
	TUnsubscribeMany
	TUnsubscribeMqtt31
	TUnsubscribeMalTopicName
	TUnsubscribeInvalidNoFilters
	TUnsuback
	TUnsubackMalPacketID
	TPingreq
	TPingreqInvalidFlags
	TPingreqInvalidRemaining
	TPingresp
	TDisconnect
	TDisconnectInvalidRemaining
	TReserved
	TReserved15
)

// TPacketData contains individual decoding scenarios for each packet type.
var TPacketData = map[Type]TPacketCases{
	Connect: {
		{
			Case:    TConnectMqtt31,
			Desc:    "mqtt v3.1",
			Primary: true,
			RawBytes: []byte{
				byte(Connect << 4), 17, // Fixed header
				0, 6, // Protocol Name - MSB+LSB
				'M', 'Q', 'I', 's', 'd', 'p', // Protocol Name
				3,     // Protocol Version
				0,     // Packet Flags
				0, 30, // Keepalive
				0, 3, // Client ID - MSB+LSB
				'z', 'e', 'n', // Client ID "zen"
			},
			Packet: &ConnectPacket{
				FixedHeader: FixedHeader{
					Type:        Connect,
					Remaining:   17,
					LengthBytes: 1,
				},
				ProtocolName:     "MQIsdp",
				ProtocolVersion:  V31,
				Keepalive:        30,
				ClientIdentifier: "zen",
			},
		},
		{
			Case:    TConnectMqtt311,
			Desc:    "mqtt v3.1.1",
			Primary: true,
			RawBytes: []byte{
				byte(Connect << 4), 15, // Fixed header
				0, 4, // Protocol Name - MSB+LSB
				'M', 'Q', 'T', 'T', // Protocol Name
				4,     // Protocol Version
				2,     // Packet Flags
				0, 60, // Keepalive
				0, 3, // Client ID - MSB+LSB
				'a', 'b', 'c', // Client ID "abc"
			},
			Packet: &ConnectPacket{
				FixedHeader: FixedHeader{
					Type:        Connect,
					Remaining:   15,
					LengthBytes: 1,
				},
				ProtocolName:     "MQTT",
				ProtocolVersion:  V311,
				ConnectFlags:     2,
				CleanSession:     true,
				Keepalive:        60,
				ClientIdentifier: "abc",
			},
		},
		{
			Case: TConnectDeclaredLonger,
			Desc: "declared length longer than body",
			RawBytes: []byte{
				byte(Connect << 4), 17, // Fixed header
				0, 4, // Protocol Name - MSB+LSB
				'M', 'Q', 'T', 'T', // Protocol Name
				4,     // Protocol Version
				2,     // Packet Flags
				0, 60, // Keepalive
				0, 3, // Client ID - MSB+LSB
				'a', 'b', 'c', // Client ID "abc"
			},
			Packet: &ConnectPacket{
				FixedHeader: FixedHeader{
					Type:        Connect,
					Remaining:   17,
					LengthBytes: 1,
				},
				ProtocolName:     "MQTT",
				ProtocolVersion:  V311,
				ConnectFlags:     2,
				CleanSession:     true,
				Keepalive:        60,
				ClientIdentifier: "abc",
			},
		},
		{
			Case:    TConnectUserPassLWT,
			Desc:    "mqtt v3.1.1, username, password, lwt",
			Primary: true,
			RawBytes: []byte{
				byte(Connect << 4), 46, // Fixed header
				0, 4, // Protocol Name - MSB+LSB
				'M', 'Q', 'T', 'T', // Protocol Name
				4,     // Protocol Version
				238,   // Packet Flags
				0, 30, // Keepalive
				0, 5, // Client ID - MSB+LSB
				'm', 'o', 'c', 'h', 'i', // Client ID
				0, 3, // Will Topic - MSB+LSB
				'l', 'w', 't',
				0, 9, // Will Message MSB+LSB
				'n', 'o', 't', ' ', 'a', 'g', 'a', 'i', 'n',
				0, 5, // Username MSB+LSB
				'm', 'o', 'c', 'h', 'i',
				0, 4, // Password MSB+LSB
				',', '.', '/', ';',
			},
			Packet: &ConnectPacket{
				FixedHeader: FixedHeader{
					Type:        Connect,
					Remaining:   46,
					LengthBytes: 1,
				},
				ProtocolName:     "MQTT",
				ProtocolVersion:  V311,
				ConnectFlags:     238,
				CleanSession:     true,
				Keepalive:        30,
				ClientIdentifier: "mochi",
				UsernameFlag:     true,
				HasUsername:      true,
				Username:         "mochi",
				PasswordFlag:     true,
				HasPassword:      true,
				Password:         []byte(",./;"),
				WillFlag:         true,
				WillTopic:        "lwt",
				WillMessage:      []byte("not again"),
				WillQos:          1,
				WillRetain:       true,
			},
		},
		{
			Case:    TConnectUsernameFlagNoBytes,
			Desc:    "username flag set but no username bytes",
			Primary: true,
			RawBytes: []byte{
				byte(Connect << 4), 15, // Fixed header
				0, 4, // Protocol Name - MSB+LSB
				'M', 'Q', 'T', 'T', // Protocol Name
				4,     // Protocol Version
				130,   // Packet Flags
				0, 60, // Keepalive
				0, 3, // Client ID - MSB+LSB
				'a', 'b', 'c', // Client ID "abc"
			},
			Packet: &ConnectPacket{
				FixedHeader: FixedHeader{
					Type:        Connect,
					Remaining:   15,
					LengthBytes: 1,
				},
				ProtocolName:     "MQTT",
				ProtocolVersion:  V311,
				ConnectFlags:     130,
				CleanSession:     true,
				UsernameFlag:     true,
				Keepalive:        60,
				ClientIdentifier: "abc",
			},
		},
		{
			Case: TConnectMalProtocolName,
			Desc: "malformed protocol name",
			RawBytes: []byte{
				byte(Connect << 4), 7, // Fixed header
				0, 6, // Protocol Name - MSB+LSB
				'M', 'Q', 'I', 's', 'd', // Protocol Name (truncated)
			},
			Expect: ErrTruncatedFrame,
			Field:  "protocol name",
		},
		{
			Case: TConnectMalKeepalive,
			Desc: "malformed keepalive",
			RawBytes: []byte{
				byte(Connect << 4), 9, // Fixed header
				0, 4, // Protocol Name - MSB+LSB
				'M', 'Q', 'T', 'T', // Protocol Name
				4, // Protocol Version
				0, // Flags
				0, // Keepalive (truncated)
			},
			Expect: ErrTruncatedFrame,
			Field:  "keepalive",
		},
		{
			Case:   TConnectInvalidReservedBit,
			Desc:   "reserved connect flag set",
			Strict: true,
			RawBytes: []byte{
				byte(Connect << 4), 15, // Fixed header
				0, 4, // Protocol Name - MSB+LSB
				'M', 'Q', 'T', 'T', // Protocol Name
				4,     // Protocol Version
				3,     // Packet Flags
				0, 60, // Keepalive
				0, 3, // Client ID - MSB+LSB
				'a', 'b', 'c', // Client ID "abc"
			},
			Expect: ErrProtocolViolation,
			Field:  "connect flags",
		},
		{
			Case:   TConnectInvalidUTF8,
			Desc:   "invalid utf-8 client id",
			Strict: true,
			RawBytes: []byte{
				byte(Connect << 4), 15, // Fixed header
				0, 4, // Protocol Name - MSB+LSB
				'M', 'Q', 'T', 'T', // Protocol Name
				4,     // Protocol Version
				2,     // Packet Flags
				0, 60, // Keepalive
				0, 3, // Client ID - MSB+LSB
				'a', 0xff, 'c', // Client ID
			},
			Expect: ErrMalformedInvalidUTF8,
			Field:  "client id",
		},
	},
	Connack: {
		{
			Case:     TConnackAcceptedNoSession,
			Desc:     "accepted, no session",
			Primary:  true,
			Version:  V311,
			RawBytes: []byte{byte(Connack << 4), 2, 0, 0},
			Packet: &ConnackPacket{
				FixedHeader: FixedHeader{
					Type:        Connack,
					Remaining:   2,
					LengthBytes: 1,
				},
				ReturnCode: Accepted,
			},
		},
		{
			Case:     TConnackAcceptedSessionPresent,
			Desc:     "accepted, session present",
			Primary:  true,
			Version:  V311,
			RawBytes: []byte{byte(Connack << 4), 2, 1, 0},
			Packet: &ConnackPacket{
				FixedHeader: FixedHeader{
					Type:        Connack,
					Remaining:   2,
					LengthBytes: 1,
				},
				AckFlags:       1,
				SessionPresent: true,
				ReturnCode:     Accepted,
			},
		},
		{
			Case:     TConnackMqtt31AckFlags,
			Desc:     "mqtt v3.1 reserved acknowledge flags",
			Primary:  true,
			Version:  V31,
			RawBytes: []byte{byte(Connack << 4), 2, 1, 0},
			Packet: &ConnackPacket{
				FixedHeader: FixedHeader{
					Type:        Connack,
					Remaining:   2,
					LengthBytes: 1,
				},
				AckFlags:   1,
				ReturnCode: Accepted,
			},
		},
		{
			Case:     TConnackBadProtocolVersion,
			Desc:     "unacceptable protocol version",
			Primary:  true,
			RawBytes: []byte{byte(Connack << 4), 2, 0, 1},
			Packet: &ConnackPacket{
				FixedHeader: FixedHeader{
					Type:        Connack,
					Remaining:   2,
					LengthBytes: 1,
				},
				ReturnCode: CodeConnectBadProtocolVersion,
			},
		},
		{
			Case:     TConnackMalReturnCode,
			Desc:     "malformed return code",
			RawBytes: []byte{byte(Connack << 4), 1, 0},
			Expect:   ErrTruncatedFrame,
			Field:    "return code",
		},
	},
	Publish: {
		{
			Case:    TPublishBasic,
			Desc:    "publish no payload",
			Primary: true,
			RawBytes: []byte{
				byte(Publish << 4), 7, // Fixed header
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
			},
			Packet: &PublishPacket{
				FixedHeader: FixedHeader{
					Type:        Publish,
					Remaining:   7,
					LengthBytes: 1,
					Layout:      LayoutPublish,
				},
				TopicName: "a/b/c",
				Payload:   []byte{},
			},
		},
		{
			Case:    TPublishQos0Payload,
			Desc:    "publish qos 0 with payload",
			Primary: true,
			RawBytes: []byte{
				byte(Publish << 4), 18, // Fixed header
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				'h', 'e', 'l', 'l', 'o', ' ', 'm', 'o', 'c', 'h', 'i', // Payload
			},
			Packet: &PublishPacket{
				FixedHeader: FixedHeader{
					Type:        Publish,
					Remaining:   18,
					LengthBytes: 1,
					Layout:      LayoutPublish,
				},
				TopicName: "a/b/c",
				Payload:   []byte("hello mochi"),
			},
		},
		{
			Case:    TPublishQos1,
			Desc:    "publish qos 1",
			Primary: true,
			RawBytes: []byte{
				byte(Publish<<4) | 2, 20, // Fixed header
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				0, 7, // Packet ID - LSB+MSB
				'h', 'e', 'l', 'l', 'o', ' ', 'm', 'o', 'c', 'h', 'i', // Payload
			},
			Packet: &PublishPacket{
				FixedHeader: FixedHeader{
					Type:        Publish,
					Remaining:   20,
					LengthBytes: 1,
					Flags:       2,
					Layout:      LayoutPublish,
					Qos:         1,
				},
				TopicName:   "a/b/c",
				PacketID:    7,
				HasPacketID: true,
				Payload:     []byte("hello mochi"),
			},
		},
		{
			Case:    TPublishDupRetainQos2,
			Desc:    "publish dup, retain, qos 2",
			Primary: true,
			RawBytes: []byte{
				byte(Publish<<4) | 13, 8, // Fixed header
				0, 3, // Topic Name - LSB+MSB
				'x', '/', 'y', // Topic Name
				0, 1, // Packet ID - LSB+MSB
				'p', // Payload
			},
			Packet: &PublishPacket{
				FixedHeader: FixedHeader{
					Type:        Publish,
					Remaining:   8,
					LengthBytes: 1,
					Flags:       13,
					Layout:      LayoutPublish,
					Qos:         2,
					Dup:         true,
					Retain:      true,
				},
				TopicName:   "x/y",
				PacketID:    1,
				HasPacketID: true,
				Payload:     []byte("p"),
			},
		},
		{
			Case:   TPublishInvalidQos3,
			Desc:   "invalid qos 3",
			Strict: true,
			RawBytes: []byte{
				byte(Publish<<4) | 6, 7, // Fixed header
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
			},
			Expect: ErrInvalidFlags,
			Field:  "qos",
		},
		{
			Case: TPublishMalTopicName,
			Desc: "malformed topic name",
			RawBytes: []byte{
				byte(Publish << 4), 3, // Fixed header
				0, 5, // Topic Name - LSB+MSB
				'a', // Topic Name (truncated)
			},
			Expect: ErrTruncatedFrame,
			Field:  "topic name",
		},
		{
			Case: TPublishMalPacketID,
			Desc: "malformed packet id",
			RawBytes: []byte{
				byte(Publish<<4) | 2, 8, // Fixed header
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				0, // Packet ID (truncated)
			},
			Expect: ErrTruncatedFrame,
			Field:  "packet id",
		},
	},
	Puback: {
		{
			Case:     TPuback,
			Desc:     "puback",
			Primary:  true,
			RawBytes: []byte{byte(Puback << 4), 2, 0, 7},
			Packet: &PubackPacket{
				FixedHeader: FixedHeader{
					Type:        Puback,
					Remaining:   2,
					LengthBytes: 1,
				},
				PacketID: 7,
			},
		},
		{
			Case:     TPubackMalPacketID,
			Desc:     "malformed packet id",
			RawBytes: []byte{byte(Puback << 4), 1, 0},
			Expect:   ErrTruncatedFrame,
			Field:    "packet id",
		},
	},
	Pubrec: {
		{
			Case:     TPubrec,
			Desc:     "pubrec",
			Primary:  true,
			RawBytes: []byte{byte(Pubrec << 4), 2, 0, 7},
			Packet: &PubrecPacket{
				FixedHeader: FixedHeader{
					Type:        Pubrec,
					Remaining:   2,
					LengthBytes: 1,
				},
				PacketID: 7,
			},
		},
		{
			Case:     TPubrecMalPacketID,
			Desc:     "malformed packet id",
			RawBytes: []byte{byte(Pubrec << 4), 1, 0},
			Expect:   ErrTruncatedFrame,
			Field:    "packet id",
		},
	},
	Pubrel: {
		{
			Case:     TPubrel,
			Desc:     "pubrel",
			Primary:  true,
			Version:  V311,
			RawBytes: []byte{byte(Pubrel<<4) | 2, 2, 0, 7},
			Packet: &PubrelPacket{
				FixedHeader: FixedHeader{
					Type:        Pubrel,
					Remaining:   2,
					LengthBytes: 1,
					Flags:       2,
					Reserved:    2,
				},
				PacketID: 7,
			},
		},
		{
			Case:     TPubrelMqtt31,
			Desc:     "mqtt v3.1 pubrel dup",
			Primary:  true,
			Version:  V31,
			RawBytes: []byte{byte(Pubrel<<4) | 10, 2, 0, 7},
			Packet: &PubrelPacket{
				FixedHeader: FixedHeader{
					Type:        Pubrel,
					Remaining:   2,
					LengthBytes: 1,
					Flags:       10,
					Layout:      LayoutDupReserved,
					Reserved:    2,
					Dup:         true,
				},
				PacketID: 7,
			},
		},
		{
			Case:     TPubrelInvalidFlags,
			Desc:     "invalid reserved flags",
			Strict:   true,
			Version:  V311,
			RawBytes: []byte{byte(Pubrel << 4), 2, 0, 7},
			Expect:   ErrInvalidFlags,
			Field:    "reserved flags",
		},
		{
			Case:     TPubrelMalPacketID,
			Desc:     "malformed packet id",
			RawBytes: []byte{byte(Pubrel<<4) | 2, 1, 0},
			Expect:   ErrTruncatedFrame,
			Field:    "packet id",
		},
	},
	Pubcomp: {
		{
			Case:     TPubcomp,
			Desc:     "pubcomp",
			Primary:  true,
			RawBytes: []byte{byte(Pubcomp << 4), 2, 0, 7},
			Packet: &PubcompPacket{
				FixedHeader: FixedHeader{
					Type:        Pubcomp,
					Remaining:   2,
					LengthBytes: 1,
				},
				PacketID: 7,
			},
		},
		{
			Case:     TPubcompMalPacketID,
			Desc:     "malformed packet id",
			RawBytes: []byte{byte(Pubcomp << 4), 1, 0},
			Expect:   ErrTruncatedFrame,
			Field:    "packet id",
		},
	},
	Subscribe: {
		{
			Case:    TSubscribe,
			Desc:    "subscribe",
			Primary: true,
			RawBytes: []byte{
				byte(Subscribe<<4) | 2, 10, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				1, // QoS
			},
			Packet: &SubscribePacket{
				FixedHeader: FixedHeader{
					Type:        Subscribe,
					Remaining:   10,
					LengthBytes: 1,
					Flags:       2,
					Reserved:    2,
				},
				PacketID: 15,
				Subscriptions: []Subscription{
					{Filter: "a/b/c", Qos: 1},
				},
			},
		},
		{
			Case:    TSubscribeMany,
			Desc:    "many",
			Primary: true,
			RawBytes: []byte{
				byte(Subscribe<<4) | 2, 30, // Fixed header
				0, 15, // Packet ID - LSB+MSB

				0, 3, // Topic Name - LSB+MSB
				'a', '/', 'b', // Topic Name
				0, // QoS

				0, 11, // Topic Name - LSB+MSB
				'd', '/', 'e', '/', 'f', '/', 'g', '/', 'h', '/', 'i', // Topic Name
				1, // QoS

				0, 5, // Topic Name - LSB+MSB
				'x', '/', 'y', '/', 'z', // Topic Name
				2, // QoS
			},
			Packet: &SubscribePacket{
				FixedHeader: FixedHeader{
					Type:        Subscribe,
					Remaining:   30,
					LengthBytes: 1,
					Flags:       2,
					Reserved:    2,
				},
				PacketID: 15,
				Subscriptions: []Subscription{
					{Filter: "a/b", Qos: 0},
					{Filter: "d/e/f/g/h/i", Qos: 1},
					{Filter: "x/y/z", Qos: 2},
				},
			},
		},
		{
			Case:    TSubscribeMqtt31Dup,
			Desc:    "mqtt v3.1 subscribe dup",
			Primary: true,
			Version: V31,
			RawBytes: []byte{
				byte(Subscribe<<4) | 10, 10, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				1, // QoS
			},
			Packet: &SubscribePacket{
				FixedHeader: FixedHeader{
					Type:        Subscribe,
					Remaining:   10,
					LengthBytes: 1,
					Flags:       10,
					Layout:      LayoutDupReserved,
					Reserved:    2,
					Dup:         true,
				},
				PacketID: 15,
				Subscriptions: []Subscription{
					{Filter: "a/b/c", Qos: 1},
				},
			},
		},
		{
			Case:    TSubscribeMqtt311DupBit,
			Desc:    "mqtt v3.1.1 subscribe dup bit is reserved",
			Version: V311,
			RawBytes: []byte{
				byte(Subscribe<<4) | 10, 10, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				1, // QoS
			},
			Packet: &SubscribePacket{
				FixedHeader: FixedHeader{
					Type:        Subscribe,
					Remaining:   10,
					LengthBytes: 1,
					Flags:       10,
					Reserved:    10,
				},
				PacketID: 15,
				Subscriptions: []Subscription{
					{Filter: "a/b/c", Qos: 1},
				},
			},
		},
		{
			Case:    TSubscribeInvalidFlags,
			Desc:    "invalid reserved flags",
			Strict:  true,
			Version: V311,
			RawBytes: []byte{
				byte(Subscribe<<4) | 10, 10, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				1, // QoS
			},
			Expect: ErrInvalidFlags,
			Field:  "reserved flags",
		},
		{
			Case: TSubscribeMalTopicName,
			Desc: "malformed topic name",
			RawBytes: []byte{
				byte(Subscribe<<4) | 2, 6, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', // Topic Name (truncated)
			},
			Expect: ErrUnderrunInLoop,
			Field:  "topic filter",
		},
		{
			Case: TSubscribeMalQos,
			Desc: "malformed qos",
			RawBytes: []byte{
				byte(Subscribe<<4) | 2, 9, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
			},
			Expect: ErrUnderrunInLoop,
			Field:  "requested qos",
		},
		{
			Case:   TSubscribeInvalidQos,
			Desc:   "invalid qos",
			Strict: true,
			RawBytes: []byte{
				byte(Subscribe<<4) | 2, 10, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
				3, // QoS
			},
			Expect: ErrProtocolViolation,
			Field:  "requested qos",
		},
		{
			Case:     TSubscribeInvalidNoFilters,
			Desc:     "no filters",
			Strict:   true,
			RawBytes: []byte{byte(Subscribe<<4) | 2, 2, 0, 15},
			Expect:   ErrProtocolViolation,
			Field:    "topic filter",
		},
	},
	Suback: {
		{
			Case:     TSuback,
			Desc:     "suback",
			Primary:  true,
			RawBytes: []byte{byte(Suback << 4), 3, 0, 15, 1},
			Packet: &SubackPacket{
				FixedHeader: FixedHeader{
					Type:        Suback,
					Remaining:   3,
					LengthBytes: 1,
				},
				PacketID:    15,
				ReturnCodes: []byte{1},
			},
		},
		{
			Case:     TSubackMany,
			Desc:     "many",
			Primary:  true,
			RawBytes: []byte{byte(Suback << 4), 6, 0, 15, 0, 1, 2, SubackFailure},
			Packet: &SubackPacket{
				FixedHeader: FixedHeader{
					Type:        Suback,
					Remaining:   6,
					LengthBytes: 1,
				},
				PacketID:    15,
				ReturnCodes: []byte{0, 1, 2, SubackFailure},
			},
		},
		{
			Case:     TSubackMalLoop,
			Desc:     "frame ends mid return codes",
			RawBytes: []byte{byte(Suback << 4), 4, 0, 15, 1},
			Expect:   ErrUnderrunInLoop,
			Field:    "return code",
		},
		{
			Case:     TSubackInvalidCode,
			Desc:     "invalid return code",
			Strict:   true,
			RawBytes: []byte{byte(Suback << 4), 3, 0, 15, 3},
			Expect:   ErrProtocolViolation,
			Field:    "return code",
		},
	},
	Unsubscribe: {
		{
			Case:    TUnsubscribe,
			Desc:    "unsubscribe",
			Primary: true,
			RawBytes: []byte{
				byte(Unsubscribe<<4) | 2, 9, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
			},
			Packet: &UnsubscribePacket{
				FixedHeader: FixedHeader{
					Type:        Unsubscribe,
					Remaining:   9,
					LengthBytes: 1,
					Flags:       2,
					Reserved:    2,
				},
				PacketID: 15,
				Filters:  []string{"a/b/c"},
			},
		},
		{
			Case:    TUnsubscribeMany,
			Desc:    "unsubscribe many",
			Primary: true,
			RawBytes: []byte{
				byte(Unsubscribe<<4) | 2, 27, // Fixed header
				0, 35, // Packet ID - LSB+MSB

				0, 3, // Topic Name - LSB+MSB
				'a', '/', 'b', // Topic Name

				0, 11, // Topic Name - LSB+MSB
				'd', '/', 'e', '/', 'f', '/', 'g', '/', 'h', '/', 'i', // Topic Name

				0, 5, // Topic Name - LSB+MSB
				'x', '/', 'y', '/', 'z', // Topic Name
			},
			Packet: &UnsubscribePacket{
				FixedHeader: FixedHeader{
					Type:        Unsubscribe,
					Remaining:   27,
					LengthBytes: 1,
					Flags:       2,
					Reserved:    2,
				},
				PacketID: 35,
				Filters:  []string{"a/b", "d/e/f/g/h/i", "x/y/z"},
			},
		},
		{
			Case:    TUnsubscribeMqtt31,
			Desc:    "mqtt v3.1 unsubscribe",
			Primary: true,
			Version: V31,
			RawBytes: []byte{
				byte(Unsubscribe<<4) | 2, 9, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', '/', 'b', '/', 'c', // Topic Name
			},
			Packet: &UnsubscribePacket{
				FixedHeader: FixedHeader{
					Type:        Unsubscribe,
					Remaining:   9,
					LengthBytes: 1,
					Flags:       2,
					Layout:      LayoutDupReserved,
					Reserved:    2,
				},
				PacketID: 15,
				Filters:  []string{"a/b/c"},
			},
		},
		{
			Case: TUnsubscribeMalTopicName,
			Desc: "malformed topic name",
			RawBytes: []byte{
				byte(Unsubscribe<<4) | 2, 5, // Fixed header
				0, 15, // Packet ID - LSB+MSB
				0, 5, // Topic Name - LSB+MSB
				'a', // Topic Name (truncated)
			},
			Expect: ErrUnderrunInLoop,
			Field:  "topic filter",
		},
		{
			Case:     TUnsubscribeInvalidNoFilters,
			Desc:     "no filters",
			Strict:   true,
			RawBytes: []byte{byte(Unsubscribe<<4) | 2, 2, 0, 15},
			Expect:   ErrProtocolViolation,
			Field:    "topic filter",
		},
	},
	Unsuback: {
		{
			Case:     TUnsuback,
			Desc:     "unsuback",
			Primary:  true,
			RawBytes: []byte{byte(Unsuback << 4), 2, 0, 15},
			Packet: &UnsubackPacket{
				FixedHeader: FixedHeader{
					Type:        Unsuback,
					Remaining:   2,
					LengthBytes: 1,
				},
				PacketID: 15,
			},
		},
		{
			Case:     TUnsubackMalPacketID,
			Desc:     "malformed packet id",
			RawBytes: []byte{byte(Unsuback << 4), 1, 0},
			Expect:   ErrTruncatedFrame,
			Field:    "packet id",
		},
	},
	Pingreq: {
		{
			Case:     TPingreq,
			Desc:     "ping request",
			Primary:  true,
			RawBytes: []byte{byte(Pingreq << 4), 0},
			Packet: &PingreqPacket{
				FixedHeader: FixedHeader{
					Type:        Pingreq,
					LengthBytes: 1,
				},
			},
		},
		{
			Case:     TPingreqInvalidFlags,
			Desc:     "invalid reserved flags",
			Strict:   true,
			RawBytes: []byte{byte(Pingreq<<4) | 1, 0},
			Expect:   ErrInvalidFlags,
			Field:    "reserved flags",
		},
		{
			Case:     TPingreqInvalidRemaining,
			Desc:     "nonzero remaining length",
			Strict:   true,
			RawBytes: []byte{byte(Pingreq << 4), 1, 0},
			Expect:   ErrProtocolViolation,
			Field:    "remaining length",
		},
	},
	Pingresp: {
		{
			Case:     TPingresp,
			Desc:     "ping response",
			Primary:  true,
			RawBytes: []byte{byte(Pingresp << 4), 0},
			Packet: &PingrespPacket{
				FixedHeader: FixedHeader{
					Type:        Pingresp,
					LengthBytes: 1,
				},
			},
		},
	},
	Disconnect: {
		{
			Case:     TDisconnect,
			Desc:     "disconnect",
			Primary:  true,
			RawBytes: []byte{byte(Disconnect << 4), 0},
			Packet: &DisconnectPacket{
				FixedHeader: FixedHeader{
					Type:        Disconnect,
					LengthBytes: 1,
				},
			},
		},
		{
			Case:     TDisconnectInvalidRemaining,
			Desc:     "nonzero remaining length",
			Strict:   true,
			RawBytes: []byte{byte(Disconnect << 4), 1, 0},
			Expect:   ErrProtocolViolation,
			Field:    "remaining length",
		},
	},
	Reserved: {
		{
			Case:     TReserved,
			Desc:     "reserved type 0",
			Primary:  true,
			RawBytes: []byte{5, 1, 0},
			Packet: &ReservedPacket{
				FixedHeader: FixedHeader{
					Type:        Reserved,
					Remaining:   1,
					LengthBytes: 1,
					Flags:       5,
					Reserved:    5,
				},
			},
		},
	},
	Reserved15: {
		{
			Case:     TReserved15,
			Desc:     "reserved type 15",
			Primary:  true,
			Strict:   true,
			RawBytes: []byte{byte(Reserved15<<4) | 3, 2, 1, 2},
			Packet: &ReservedPacket{
				FixedHeader: FixedHeader{
					Type:        Reserved15,
					Remaining:   2,
					LengthBytes: 1,
					Flags:       3,
					Reserved:    3,
				},
			},
		},
	},
}
