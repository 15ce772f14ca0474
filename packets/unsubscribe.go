package packets

import (
	"bytes"
)

// UnsubscribePacket contains the values of an MQTT UNSUBSCRIBE packet.
type UnsubscribePacket struct {
	FixedHeader

	PacketID uint16
	Topics   []string
}

// Encode encodes and writes the packet data values to the buffer.
func (pk *UnsubscribePacket) Encode(buf *bytes.Buffer) error {
	var body bytes.Buffer

	// [MQTT-2.3.1-1] SUBSCRIBE, UNSUBSCRIBE, and PUBLISH (in cases where QoS > 0) Control Packets MUST contain a non-zero 16-bit Packet Identifier.
	if pk.PacketID == 0 {
		return ErrMissingPacketID
	}

	body.Write(encodeUint16(pk.PacketID))

	for _, topic := range pk.Topics {
		body.Write(encodeString(topic))
	}

	pk.FixedHeader.Remaining = body.Len()
	pk.FixedHeader.Encode(buf)
	buf.Write(body.Bytes())

	return nil
}

// Decode extracts the data values from the packet.
func (pk *UnsubscribePacket) Decode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacketID
	}

	for offset < len(buf) {
		var t string
		t, offset, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedTopic
		}

		if t != "" {
			pk.Topics = append(pk.Topics, t)
		}
	}

	return nil
}

// Validate ensures the packet is compliant.
func (pk *UnsubscribePacket) Validate() (byte, error) {
	// @SPEC [MQTT-2.3.1-1].
	if pk.PacketID == 0 {
		return Failed, ErrMissingPacketID
	}

	if len(pk.Topics) == 0 {
		return Failed, ErrProtocolViolation
	}

	for _, t := range pk.Topics {
		if !ValidTopicFilter(t) {
			return Failed, ErrMalformedTopic
		}
	}

	return Accepted, nil
}
