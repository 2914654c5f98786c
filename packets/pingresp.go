// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// PingrespPacket contains the values of an MQTT PINGRESP packet, which has no variable header or payload.
type PingrespPacket struct {
	FixedHeader
}

// Header returns the fixed header of the packet.
func (pk *PingrespPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *PingrespPacket) packet() {}

func decodePingresp(fh FixedHeader, r *reader, _ State) (Packet, error) {
	if r.strict && r.remaining != 0 {
		return nil, &DecodeError{Type: fh.Type, Field: "remaining length", Err: ErrProtocolViolation}
	}

	return &PingrespPacket{FixedHeader: fh}, nil
}
