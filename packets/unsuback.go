// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// UnsubackPacket contains the values of an MQTT UNSUBACK packet.
type UnsubackPacket struct {
	FixedHeader
	PacketID uint16 `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *UnsubackPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *UnsubackPacket) packet() {}

func decodeUnsuback(fh FixedHeader, r *reader, _ State) (Packet, error) {
	id, err := r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	return &UnsubackPacket{FixedHeader: fh, PacketID: id}, nil
}
