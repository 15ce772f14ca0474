package packets

import (
	"bytes"
)

// ConnackPacket contains the values of an MQTT CONNACK packet.
type ConnackPacket struct {
	FixedHeader

	SessionPresent bool
	ReturnCode     byte
}

// Encode encodes and writes the packet data values to the buffer.
func (pk *ConnackPacket) Encode(buf *bytes.Buffer) error {
	var body bytes.Buffer
	body.WriteByte(encodeBool(pk.SessionPresent))
	body.WriteByte(pk.ReturnCode)

	pk.FixedHeader.Remaining = body.Len()
	pk.FixedHeader.Encode(buf)
	buf.Write(body.Bytes())

	return nil
}

// Decode extracts the data values from the packet.
func (pk *ConnackPacket) Decode(buf []byte) error {
	var offset int
	var err error

	// @SPEC [MQTT-3.2.2-1]
	// Bits 7-1 of the Connect Acknowledge Flags are reserved and MUST be
	// set to 0.
	pk.SessionPresent, offset, err = decodeByteBool(buf, 0)
	if err != nil {
		return ErrMalformedSessionPresent
	}

	pk.ReturnCode, offset, err = decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedReturnCode
	}
	_ = offset

	return nil
}

// Validate ensures the packet is compliant.
func (pk *ConnackPacket) Validate() (byte, error) {
	if pk.ReturnCode > CodeNotAuthorized.Code {
		return Failed, ErrProtocolViolation
	}

	return Accepted, nil
}
