// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

const (
	connectUsername   = 0x80
	connectPassword   = 0x40
	connectWillRetain = 0x20
	connectWillQos    = 0x18
	connectWillFlag   = 0x04
	connectClean      = 0x02
	connectReserved   = 0x01
)

// ConnectPacket contains the values of an MQTT CONNECT packet.
type ConnectPacket struct {
	FixedHeader
	ProtocolName     string  `json:"protocolName"`
	WillTopic        string  `json:"willTopic,omitempty"`
	WillMessage      []byte  `json:"willMessage,omitempty"`
	ClientIdentifier string  `json:"clientIdentifier"`
	Username         string  `json:"username,omitempty"`
	Password         []byte  `json:"password,omitempty"`
	Keepalive        uint16  `json:"keepalive"`
	ProtocolVersion  Version `json:"protocolVersion"`
	ConnectFlags     byte    `json:"connectFlags"`
	WillQos          byte    `json:"willQos"`
	ReservedBit      byte    `json:"reservedBit"`
	UsernameFlag     bool    `json:"usernameFlag"`
	PasswordFlag     bool    `json:"passwordFlag"`
	WillRetain       bool    `json:"willRetain"`
	WillFlag         bool    `json:"willFlag"`
	CleanSession     bool    `json:"cleanSession"`
	HasUsername      bool    `json:"hasUsername"` // username field was present
	HasPassword      bool    `json:"hasPassword"` // password field was present
}

// Header returns the fixed header of the packet.
func (pk *ConnectPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *ConnectPacket) packet() {}

// decodeConnect decodes a CONNECT packet, storing the protocol version in st as
// soon as it has been read.
func decodeConnect(fh FixedHeader, r *reader, st State) (Packet, error) {
	pk := &ConnectPacket{FixedHeader: fh}

	var err error
	pk.ProtocolName, err = r.decodeString("protocol name")
	if err != nil {
		return nil, err
	}

	ver, err := r.decodeByte("protocol version")
	if err != nil {
		return nil, err
	}
	pk.ProtocolVersion = Version(ver)
	if st != nil {
		st.SetProtocolVersion(pk.ProtocolVersion)
	}

	flags, err := r.decodeByte("connect flags")
	if err != nil {
		return nil, err
	}
	pk.ConnectFlags = flags
	pk.UsernameFlag = flags&connectUsername > 0
	pk.PasswordFlag = flags&connectPassword > 0
	pk.WillRetain = flags&connectWillRetain > 0
	pk.WillQos = (flags & connectWillQos) >> 3
	pk.WillFlag = flags&connectWillFlag > 0
	pk.CleanSession = flags&connectClean > 0
	pk.ReservedBit = flags & connectReserved

	if r.strict && pk.ReservedBit != 0 { // [MQTT-3.1.2-3]
		return nil, &DecodeError{Type: Connect, Field: "connect flags", Err: ErrProtocolViolation}
	}

	pk.Keepalive, err = r.decodeUint16("keepalive")
	if err != nil {
		return nil, err
	}

	pk.ClientIdentifier, err = r.decodeString("client id")
	if err != nil {
		return nil, err
	}

	if pk.WillFlag {
		pk.WillTopic, err = r.decodeString("will topic")
		if err != nil {
			return nil, err
		}

		pk.WillMessage, err = r.decodeBytes("will message")
		if err != nil {
			return nil, err
		}
	}

	// Username and password are only read while bytes remain, so a flag
	// without its field decodes as an absent field rather than an error.
	if pk.UsernameFlag && r.remaining > 0 {
		pk.Username, err = r.decodeString("username")
		if err != nil {
			return nil, err
		}
		pk.HasUsername = true
	}

	if pk.PasswordFlag && r.remaining > 0 {
		pk.Password, err = r.decodeBytes("password")
		if err != nil {
			return nil, err
		}
		pk.HasPassword = true
	}

	return pk, nil
}
