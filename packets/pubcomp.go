// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// PubcompPacket contains the values of an MQTT PUBCOMP packet.
type PubcompPacket struct {
	FixedHeader
	PacketID uint16 `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *PubcompPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *PubcompPacket) packet() {}

func decodePubcomp(fh FixedHeader, r *reader, _ State) (Packet, error) {
	id, err := r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	return &PubcompPacket{FixedHeader: fh, PacketID: id}, nil
}
