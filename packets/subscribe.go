package packets

import (
	"bytes"
)

// SubscribePacket contains the values of an MQTT SUBSCRIBE packet.
type SubscribePacket struct {
	FixedHeader

	PacketID uint16
	Topics   []string
	Qoss     []byte
}

// Encode encodes and writes the packet data values to the buffer.
func (pk *SubscribePacket) Encode(buf *bytes.Buffer) error {
	var body bytes.Buffer

	// [MQTT-2.3.1-1] SUBSCRIBE, UNSUBSCRIBE, and PUBLISH (in cases where QoS > 0) Control Packets MUST contain a non-zero 16-bit Packet Identifier.
	if pk.PacketID == 0 {
		return ErrMissingPacketID
	}

	body.Write(encodeUint16(pk.PacketID))

	for i, topic := range pk.Topics {
		body.Write(encodeString(topic))
		body.WriteByte(pk.Qoss[i])
	}

	pk.FixedHeader.Remaining = body.Len()
	pk.FixedHeader.Encode(buf)
	buf.Write(body.Bytes())

	return nil
}

// Decode extracts the data values from the packet.
func (pk *SubscribePacket) Decode(buf []byte) error {
	var offset int
	var err error

	pk.PacketID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacketID
	}

	for offset < len(buf) {
		var topic string
		topic, offset, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedTopic
		}
		pk.Topics = append(pk.Topics, topic)

		var qos byte
		qos, offset, err = decodeByte(buf, offset)
		if err != nil {
			return ErrMalformedQoS
		}

		if !validateQoS(qos) {
			return ErrMalformedQoS
		}

		pk.Qoss = append(pk.Qoss, qos)
	}

	return nil
}

// Validate ensures the packet is compliant.
func (pk *SubscribePacket) Validate() (byte, error) {
	// @SPEC [MQTT-2.3.1-1].
	if pk.PacketID == 0 {
		return Failed, ErrMissingPacketID
	}

	// @SPEC [MQTT-3.8.3-3] a SUBSCRIBE must contain at least one filter.
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
