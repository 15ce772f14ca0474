package packets

import (
	"bytes"
)

// ConnectPacket contains the values of an MQTT CONNECT packet.
type ConnectPacket struct {
	FixedHeader

	ProtocolName     string
	ProtocolVersion  byte
	CleanSession     bool
	WillFlag         bool
	WillQos          byte
	WillRetain       bool
	UsernameFlag     bool
	PasswordFlag     bool
	ReservedBit      byte
	Keepalive        uint16
	ClientIdentifier string
	WillTopic        string
	WillMessage      []byte // WillMessage is a payload, so store as byte array.
	Username         string
	Password         string
}

// Encode encodes and writes the packet data values to the buffer.
func (pk *ConnectPacket) Encode(buf *bytes.Buffer) error {
	var body bytes.Buffer

	body.Write(encodeString(pk.ProtocolName))
	body.WriteByte(pk.ProtocolVersion)
	body.WriteByte(encodeBool(pk.CleanSession)<<1 | encodeBool(pk.WillFlag)<<2 | pk.WillQos<<3 | encodeBool(pk.WillRetain)<<5 | encodeBool(pk.PasswordFlag)<<6 | encodeBool(pk.UsernameFlag)<<7)
	body.Write(encodeUint16(pk.Keepalive))
	body.Write(encodeString(pk.ClientIdentifier))

	if pk.WillFlag {
		body.Write(encodeString(pk.WillTopic))
		body.Write(encodeBytes(pk.WillMessage))
	}

	if pk.UsernameFlag {
		body.Write(encodeString(pk.Username))
	}

	if pk.PasswordFlag {
		body.Write(encodeString(pk.Password))
	}

	pk.FixedHeader.Remaining = body.Len()
	pk.FixedHeader.Encode(buf)
	buf.Write(body.Bytes())

	return nil
}

// Decode extracts the data values from the packet.
func (pk *ConnectPacket) Decode(buf []byte) error {
	var offset int
	var err error

	pk.ProtocolName, offset, err = decodeString(buf, 0)
	if err != nil {
		return ErrMalformedProtocolName
	}

	pk.ProtocolVersion, offset, err = decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedProtocolVersion
	}

	flags, offset, err := decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedFlags
	}
	pk.ReservedBit = 1 & flags
	pk.CleanSession = 1&(flags>>1) > 0
	pk.WillFlag = 1&(flags>>2) > 0
	pk.WillQos = 3 & (flags >> 3) // not a bool
	pk.WillRetain = 1&(flags>>5) > 0
	pk.PasswordFlag = 1&(flags>>6) > 0
	pk.UsernameFlag = 1&(flags>>7) > 0

	pk.Keepalive, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedKeepalive
	}

	pk.ClientIdentifier, offset, err = decodeString(buf, offset)
	if err != nil {
		return ErrMalformedClientID
	}

	if pk.WillFlag {
		pk.WillTopic, offset, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedWillTopic
		}

		pk.WillMessage, offset, err = decodeBytes(buf, offset)
		if err != nil {
			return ErrMalformedWillMessage
		}
	}

	if pk.UsernameFlag {
		pk.Username, offset, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedUsername
		}
	}

	if pk.PasswordFlag {
		pk.Password, _, err = decodeString(buf, offset)
		if err != nil {
			return ErrMalformedPassword
		}
	}

	return nil
}

// Validate ensures the packet is compliant with MQTT 3.1.1. For a refusal
// that has a CONNACK return code (0x01 for a wrong protocol name or level,
// 0x02 for a rejected client identifier) it returns that code; for any
// other violation it returns Failed, which has no CONNACK equivalent and
// ends in a plain close of the network connection (MQTT-3.1.4-1).
func (pk *ConnectPacket) Validate() (byte, error) {
	// @SPEC [MQTT-3.1.2-1] the protocol name must be exactly "MQTT" and the
	// protocol level must be 4. MQTT 3.1's "MQIsdp"/level-3 handshake is out
	// of scope for a 3.1.1-only broker.
	if pk.ProtocolName != "MQTT" {
		return CodeUnacceptableProtocolVersion.Code, ErrMalformedProtocolName
	}

	if pk.ProtocolVersion != 4 {
		return CodeUnacceptableProtocolVersion.Code, ErrMalformedProtocolVersion
	}

	// @SPEC [MQTT-3.1.2-3] the reserved flag bit must be 0.
	if pk.ReservedBit != 0 {
		return Failed, ErrProtocolViolation
	}

	if !validateQoS(pk.WillQos) {
		return Failed, ErrMalformedQoS
	}

	// @SPEC [MQTT-3.1.2-22] a will QoS of 0 requires WillRetain to be
	// meaningful only with WillFlag set; a will message is mandatory once
	// WillFlag is set.
	if !pk.WillFlag && (pk.WillQos != 0 || pk.WillRetain) {
		return Failed, ErrProtocolViolation
	}

	if len(pk.ClientIdentifier) > 65535 {
		return CodeIdentifierRejected.Code, ErrMalformedClientID
	}

	// @SPEC [MQTT-3.1.2-22] password flag must not be set without username.
	if pk.PasswordFlag && !pk.UsernameFlag {
		return Failed, ErrProtocolViolation
	}

	if len(pk.Username) > 65535 || len(pk.Password) > 65535 {
		return Failed, ErrProtocolViolation
	}

	// @SPEC [MQTT-3.1.3-7] if the client id is empty and clean session is
	// not set, the server MUST reject the connection.
	if len(pk.ClientIdentifier) == 0 && !pk.CleanSession {
		return CodeIdentifierRejected.Code, ErrMalformedClientID
	}

	return Accepted, nil
}
