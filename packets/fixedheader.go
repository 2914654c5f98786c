// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// FlagLayout describes how the low four bits of the fixed header byte are read.
type FlagLayout byte

const (
	LayoutReserved    FlagLayout = iota // 4-bit reserved field
	LayoutPublish                       // DUP, QoS (2 bits), RETAIN
	LayoutDupReserved                   // DUP, 3-bit reserved field (v3.1 PUBREL, SUBSCRIBE, UNSUBSCRIBE)
)

// String returns the readable name of the layout.
func (l FlagLayout) String() string {
	switch l {
	case LayoutPublish:
		return "publish"
	case LayoutDupReserved:
		return "dup+reserved"
	}
	return "reserved"
}

// FlagLayoutFor returns the flag layout used by a packet type on a connection
// with protocol version v. An unknown version uses the plain reserved layout
// for every type except PUBLISH.
func FlagLayoutFor(t Type, v Version) FlagLayout {
	if t == Publish {
		return LayoutPublish
	}

	if v == V31 && (t == Pubrel || t == Subscribe || t == Unsubscribe) {
		return LayoutDupReserved
	}

	return LayoutReserved
}

// FixedHeader contains the values of the fixed header portion of the MQTT packet.
type FixedHeader struct {
	Remaining   uint32     `json:"remaining"`   // the number of remaining bytes in the payload
	LengthBytes int        `json:"lengthBytes"` // the size of the remaining length field (1-4)
	Type        Type       `json:"type"`        // the type of the packet (PUBLISH, SUBSCRIBE, etc) from bits 7 - 4 (byte 1)
	Flags       byte       `json:"flags"`       // the raw flag bits 3 - 0
	Layout      FlagLayout `json:"layout"`      // how Flags were interpreted
	Reserved    byte       `json:"reserved"`    // reserved bits, per Layout
	Qos         byte       `json:"qos"`         // indicates the quality of service expected
	Dup         bool       `json:"dup"`         // indicates if the packet was already sent at an earlier time
	Retain      bool       `json:"retain"`      // whether the message should be retained
}

// decodeFixedHeader extracts the type and flag bits from the header byte,
// interpreting the flags for protocol version v.
func decodeFixedHeader(hb byte, v Version) FixedHeader {
	fh := FixedHeader{
		Type:  Type(hb >> 4),
		Flags: hb & 0x0F,
	}

	fh.Layout = FlagLayoutFor(fh.Type, v)
	switch fh.Layout {
	case LayoutPublish:
		fh.Dup = hb&0x08 > 0
		fh.Qos = (hb >> 1) & 0x03
		fh.Retain = hb&0x01 > 0
	case LayoutDupReserved:
		fh.Dup = hb&0x08 > 0
		fh.Reserved = hb & 0x07
	default:
		fh.Reserved = hb & 0x0F
	}

	return fh
}

// validate checks the flag bits against the flag table. DUP layouts
// of v3.1 are not checked beyond their reserved bits.
func (fh FixedHeader) validate() error {
	switch fh.Layout {
	case LayoutPublish:
		if fh.Qos == 3 { // [MQTT-3.3.1-4]
			return &DecodeError{Type: fh.Type, Field: "qos", Err: ErrInvalidFlags}
		}
	case LayoutDupReserved:
		if fh.Reserved != 0x02 {
			return &DecodeError{Type: fh.Type, Field: "reserved flags", Err: ErrInvalidFlags}
		}
	default:
		want := byte(0)
		if fh.Type == Pubrel || fh.Type == Subscribe || fh.Type == Unsubscribe {
			want = 0x02 // [MQTT-3.6.1-1] [MQTT-3.8.1-1] [MQTT-3.10.1-1]
		}

		// [MQTT-2.2.2-2]
		if fh.Reserved != want {
			return &DecodeError{Type: fh.Type, Field: "reserved flags", Err: ErrInvalidFlags}
		}
	}

	return nil
}
