// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// SubackFailure is the SUBACK return code for a rejected subscription.
const SubackFailure byte = 0x80

// SubackPacket contains the values of an MQTT SUBACK packet.
type SubackPacket struct {
	FixedHeader
	ReturnCodes []byte `json:"returnCodes"`
	PacketID    uint16 `json:"packetId"`
}

// Header returns the fixed header of the packet.
func (pk *SubackPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *SubackPacket) packet() {}

// decodeSuback decodes one return code byte per subscribed filter.
func decodeSuback(fh FixedHeader, r *reader, _ State) (Packet, error) {
	pk := &SubackPacket{FixedHeader: fh}

	var err error
	pk.PacketID, err = r.decodeUint16("packet id")
	if err != nil {
		return nil, err
	}

	r.inLoop = true
	for r.remaining > 0 {
		rc, err := r.decodeByte("return code")
		if err != nil {
			return nil, err
		}

		if r.strict && rc > 2 && rc != SubackFailure {
			return nil, &DecodeError{Type: Suback, Field: "return code", Err: ErrProtocolViolation}
		}

		pk.ReturnCodes = append(pk.ReturnCodes, rc)
	}

	return pk, nil
}
