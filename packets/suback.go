package packets

import (
	"bytes"
)

// SubackPacket contains the values of an MQTT SUBACK packet.
type SubackPacket struct {
	FixedHeader

	PacketID    uint16
	ReturnCodes []byte
}

// Encode encodes and writes the packet data values to the buffer.
func (pk *SubackPacket) Encode(buf *bytes.Buffer) error {
	var body bytes.Buffer

	body.Write(encodeUint16(pk.PacketID))
	body.Write(pk.ReturnCodes)

	pk.FixedHeader.Remaining = body.Len()
	pk.FixedHeader.Encode(buf)
	buf.Write(body.Bytes())

	return nil
}

// Decode extracts the data values from the packet.
func (pk *SubackPacket) Decode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedPacketID
	}

	pk.ReturnCodes = buf[offset:]

	return nil
}

// Validate ensures the packet is compliant.
func (pk *SubackPacket) Validate() (byte, error) {
	for _, c := range pk.ReturnCodes {
		if c != CodeGrantedQos0.Code && c != CodeGrantedQos1.Code &&
			c != CodeGrantedQos2.Code && c != SubackFailure {
			return Failed, ErrProtocolViolation
		}
	}

	return Accepted, nil
}
