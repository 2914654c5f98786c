// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// ConnectReturnCode is the result of a connection attempt carried in CONNACK.
type ConnectReturnCode byte

const (
	Accepted                      ConnectReturnCode = 0x00
	CodeConnectBadProtocolVersion ConnectReturnCode = 0x01
	CodeConnectBadClientID        ConnectReturnCode = 0x02
	CodeConnectServerUnavailable  ConnectReturnCode = 0x03
	CodeConnectBadAuthValues      ConnectReturnCode = 0x04
	CodeConnectNotAuthorised      ConnectReturnCode = 0x05
)

// String returns the readable meaning of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case Accepted:
		return "Connection Accepted"
	case CodeConnectBadProtocolVersion:
		return "Connection Refused: unacceptable protocol version"
	case CodeConnectBadClientID:
		return "Connection Refused: identifier rejected"
	case CodeConnectServerUnavailable:
		return "Connection Refused: server unavailable"
	case CodeConnectBadAuthValues:
		return "Connection Refused: bad user name or password"
	case CodeConnectNotAuthorised:
		return "Connection Refused: not authorized"
	}
	return "Unknown"
}

// ConnackPacket contains the values of an MQTT CONNACK packet.
type ConnackPacket struct {
	FixedHeader
	ReturnCode     ConnectReturnCode `json:"returnCode"`
	AckFlags       byte              `json:"ackFlags"`
	SessionPresent bool              `json:"sessionPresent"` // v3.1.1 only
}

// Header returns the fixed header of the packet.
func (pk *ConnackPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *ConnackPacket) packet() {}

// decodeConnack decodes a CONNACK packet. On v3.1 connections the flags byte
// is entirely reserved.
func decodeConnack(fh FixedHeader, r *reader, st State) (Packet, error) {
	pk := &ConnackPacket{FixedHeader: fh}

	var err error
	pk.AckFlags, err = r.decodeByte("acknowledge flags")
	if err != nil {
		return nil, err
	}

	if st == nil || st.ProtocolVersion() != V31 {
		pk.SessionPresent = pk.AckFlags&0x01 > 0
	}

	code, err := r.decodeByte("return code")
	if err != nil {
		return nil, err
	}
	pk.ReturnCode = ConnectReturnCode(code)

	return pk, nil
}
