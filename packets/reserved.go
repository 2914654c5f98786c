// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// ReservedPacket is a packet of type 0 or 15. Its body is not parsed.
type ReservedPacket struct {
	FixedHeader
}

// Header returns the fixed header of the packet.
func (pk *ReservedPacket) Header() FixedHeader { return pk.FixedHeader }

func (pk *ReservedPacket) packet() {}

func decodeReserved(fh FixedHeader, _ *reader, _ State) (Packet, error) {
	return &ReservedPacket{FixedHeader: fh}, nil
}
