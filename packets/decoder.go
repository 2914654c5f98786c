// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// decodeFn decodes the variable header and payload of one packet type.
type decodeFn func(fh FixedHeader, r *reader, st State) (Packet, error)

// decoders selects the decode function for each of the 16 packet types.
var decoders = [16]decodeFn{
	Reserved:    decodeReserved,
	Connect:     decodeConnect,
	Connack:     decodeConnack,
	Publish:     decodePublish,
	Puback:      decodePuback,
	Pubrec:      decodePubrec,
	Pubrel:      decodePubrel,
	Pubcomp:     decodePubcomp,
	Subscribe:   decodeSubscribe,
	Suback:      decodeSuback,
	Unsubscribe: decodeUnsubscribe,
	Unsuback:    decodeUnsuback,
	Pingreq:     decodePingreq,
	Pingresp:    decodePingresp,
	Disconnect:  decodeDisconnect,
	Reserved15:  decodeReserved,
}

// Decoder decodes complete frames into packets.
type Decoder struct {
	// Strict enables flag table, QoS and UTF-8 validation. Violations are
	// reported as packet-local errors.
	Strict bool
}

// Decode decodes a complete frame with a lenient Decoder.
func Decode(frame []byte, st State) (Packet, error) {
	var d Decoder
	return d.Decode(frame, st)
}

// Decode decodes a complete frame (fixed header, remaining length, and body)
// using the protocol version held by st. CONNECT packets update st.
// Bytes after the declared remaining length are ignored.
func (d *Decoder) Decode(frame []byte, st State) (Packet, error) {
	if len(frame) < MinFrameSize {
		return nil, &DecodeError{Field: "fixed header", Err: ErrTruncatedFrame}
	}

	v := VersionUnknown
	if st != nil {
		v = st.ProtocolVersion()
	}

	fh := decodeFixedHeader(frame[0], v)
	rem, n, err := DecodeLength(frame[1:])
	if err == ErrNeedMoreBytes {
		return nil, &DecodeError{Type: fh.Type, Field: "remaining length", Err: ErrTruncatedFrame}
	} else if err != nil {
		return nil, err
	}

	fh.Remaining = rem
	fh.LengthBytes = n

	if d.Strict && fh.Type != Reserved && fh.Type != Reserved15 {
		if err := fh.validate(); err != nil {
			return nil, err
		}
	}

	r := &reader{
		buf:       frame[1+n:],
		remaining: int(rem),
		typ:       fh.Type,
		strict:    d.Strict,
	}

	return decoders[fh.Type&0x0F](fh, r, st)
}
