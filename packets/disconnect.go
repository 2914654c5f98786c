// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// DisconnectPacket contains the values of an MQTT DISCONNECT packet, which has no variable header or payload.
type DisconnectPacket struct {
	FixedHeader
}

// Header returns the fixed header of the packet.
func (pk *DisconnectPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *DisconnectPacket) packet() {}

func decodeDisconnect(fh FixedHeader, r *reader, _ State) (Packet, error) {
	if r.strict && r.remaining != 0 {
		return nil, &DecodeError{Type: fh.Type, Field: "remaining length", Err: ErrProtocolViolation}
	}

	return &DisconnectPacket{FixedHeader: fh}, nil
}
