// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// PingreqPacket contains the values of an MQTT PINGREQ packet, which has no variable header or payload.
type PingreqPacket struct {
	FixedHeader
}

// Header returns the fixed header of the packet.
func (pk *PingreqPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *PingreqPacket) packet() {}

func decodePingreq(fh FixedHeader, r *reader, _ State) (Packet, error) {
	if r.strict && r.remaining != 0 {
		return nil, &DecodeError{Type: fh.Type, Field: "remaining length", Err: ErrProtocolViolation}
	}

	return &PingreqPacket{FixedHeader: fh}, nil
}
