// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// UnsubscribePacket contains the values of an MQTT UNSUBSCRIBE packet.
type UnsubscribePacket struct {
	FixedHeader
	Filters  []string `json:"filters"`
	PacketID uint16   `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *UnsubscribePacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *UnsubscribePacket) packet() {}

func decodeUnsubscribe(fh FixedHeader, r *reader, _ State) (Packet, error) {
	pk := &UnsubscribePacket{FixedHeader: fh}

	var err error
	pk.PacketID, err = r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	r.inLoop = true
	for r.remaining > 0 {
		filter, err := r.decodeString("topic filter")
		if err != nil {
			return nil, err
		}
		pk.Filters = append(pk.Filters, filter)
	}

	if r.strict && len(pk.Filters) == 0 { // [MQTT-3.10.3-2]
		return nil, &DecodeError{Type: Unsubscribe, Field: "topic filter", Err: ErrProtocolViolation}
	}

	return pk, nil
}
