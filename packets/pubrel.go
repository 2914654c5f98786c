// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// PubrelPacket contains the values of an MQTT PUBREL packet.
type PubrelPacket struct {
	FixedHeader
	PacketID uint16 `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *PubrelPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *PubrelPacket) packet() {}

func decodePubrel(fh FixedHeader, r *reader, _ State) (Packet, error) {
	id, err := r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	return &PubrelPacket{FixedHeader: fh, PacketID: id}, nil
}
