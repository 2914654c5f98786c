// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// PublishPacket contains the values of an MQTT PUBLISH packet.
type PublishPacket struct {
	FixedHeader
	TopicName   string `json:"topicName"`
	Payload     []byte `json:"payload"`
	PacketID    uint16 `json:"packetId"`
	HasPacketID bool   `json:"hasPacketId"` // true when QoS > 0
}

// Header returns the fixed header of the packet.
func (pk *PublishPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *PublishPacket) packet() {}

// decodePublish decodes a PUBLISH packet. The application message is whatever
// remains of the budget after the topic and optional packet id.
func decodePublish(fh FixedHeader, r *reader, _ State) (Packet, error) {
	pk := &PublishPacket{FixedHeader: fh}

	var err error
	pk.TopicName, err = r.decodeString("topic name")
	if err != nil {
		return nil, err
	}

	if fh.Qos > 0 {
		pk.PacketID, err = r.decodeUint16("packet id")
		if err != nil {
			return nil, err
		}
		pk.HasPacketID = true
	}

	pk.Payload, err = r.rest("message")
	if err != nil {
		return nil, err
	}

	return pk, nil
}
