// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// PubrecPacket contains the values of an MQTT PUBREC packet.
type PubrecPacket struct {
	FixedHeader
	PacketID uint16 `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *PubrecPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *PubrecPacket) packet() {}

func decodePubrec(fh FixedHeader, r *reader, _ State) (Packet, error) {
	id, err := r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	return &PubrecPacket{FixedHeader: fh, PacketID: id}, nil
}
