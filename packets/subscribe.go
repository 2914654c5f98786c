// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// SubscribePacket contains the values of an MQTT SUBSCRIBE packet.
type SubscribePacket struct {
	FixedHeader
	Subscriptions []Subscription `json:"subscriptions"`
	PacketID      uint16         `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *SubscribePacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *SubscribePacket) packet() {}

// decodeSubscribe decodes topic filter and requested QoS pairs until the
// budget is exactly exhausted.
func decodeSubscribe(fh FixedHeader, r *reader, _ State) (Packet, error) {
	pk := &SubscribePacket{FixedHeader: fh}

	var err error
	pk.PacketID, err = r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	r.inLoop = true
	for r.remaining > 0 {
		var sub Subscription
		sub.Filter, err = r.decodeString("topic filter")
		if err != nil {
			return nil, err
		}

		sub.Qos, err = r.decodeByte("requested qos")
		if err != nil {
			return nil, err
		}

		if r.strict && sub.Qos > 2 { // [MQTT-3.8.3-4]
			return nil, &DecodeError{Type: Subscribe, Field: "requested qos", Err: ErrProtocolViolation}
		}

		pk.Subscriptions = append(pk.Subscriptions, sub)
	}

	if r.strict && len(pk.Subscriptions) == 0 { // [MQTT-3.8.3-3]
		return nil, &DecodeError{Type: Subscribe, Field: "topic filter", Err: ErrProtocolViolation}
	}

	return pk, nil
}
