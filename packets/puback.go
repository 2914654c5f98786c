// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// PubackPacket contains the values of an MQTT PUBACK packet.
type PubackPacket struct {
	FixedHeader
	PacketID uint16 `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *PubackPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *PubackPacket) packet() {}

func decodePuback(fh FixedHeader, r *reader, _ State) (Packet, error) {
	id, err := r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	return &PubackPacket{FixedHeader: fh, PacketID: id}, nil
}
