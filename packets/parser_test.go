package packets_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mateuszsury/beehiveMQTT/packets"
)

func pipe(t *testing.T) (*packets.Parser, *packets.Parser) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return packets.NewParser(a), packets.NewParser(b)
}

// readPacket mirrors the connection handler's real read sequence: the
// fixed header must be read before Read can decode the body.
func readPacket(t *testing.T, p *packets.Parser) packets.Packet {
	t.Helper()
	fh := new(packets.FixedHeader)
	require.NoError(t, p.ReadFixedHeader(fh))
	pk, err := p.Read()
	require.NoError(t, err)
	return pk
}

func TestParserConnectRoundTrip(t *testing.T) {
	writer, reader := pipe(t)

	pk := &packets.ConnectPacket{
		FixedHeader:      packets.FixedHeader{Type: packets.Connect},
		ProtocolName:     "MQTT",
		ProtocolVersion:  4,
		CleanSession:     true,
		Keepalive:        60,
		ClientIdentifier: "client-1",
	}

	go func() {
		writer.WritePacket(pk)
	}()

	got := readPacket(t, reader)

	connect, ok := got.(*packets.ConnectPacket)
	require.True(t, ok)
	require.Equal(t, pk.ClientIdentifier, connect.ClientIdentifier)
	require.Equal(t, pk.Keepalive, connect.Keepalive)
	require.True(t, connect.CleanSession)
}

func TestParserPublishRoundTripPreservesQosAndRetain(t *testing.T) {
	writer, reader := pipe(t)

	pk := &packets.PublishPacket{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: 1, Retain: true},
		TopicName:   "a/b/c",
		PacketID:    42,
		Payload:     []byte("hello world"),
	}

	go func() {
		writer.WritePacket(pk)
	}()

	got := readPacket(t, reader)

	pub, ok := got.(*packets.PublishPacket)
	require.True(t, ok)
	require.Equal(t, "a/b/c", pub.TopicName)
	require.Equal(t, uint16(42), pub.PacketID)
	require.Equal(t, []byte("hello world"), pub.Payload)
	require.Equal(t, byte(1), pub.Qos)
	require.True(t, pub.Retain)
}

func TestParserSubscribeRoundTrip(t *testing.T) {
	writer, reader := pipe(t)

	pk := &packets.SubscribePacket{
		FixedHeader: packets.FixedHeader{Type: packets.Subscribe, Qos: 1},
		PacketID:    7,
		Topics:      []string{"a/+", "b/#"},
		Qoss:        []byte{0, 1},
	}

	go func() {
		writer.WritePacket(pk)
	}()

	got := readPacket(t, reader)

	sub, ok := got.(*packets.SubscribePacket)
	require.True(t, ok)
	require.Equal(t, uint16(7), sub.PacketID)
	require.Equal(t, []string{"a/+", "b/#"}, sub.Topics)
	require.Equal(t, []byte{0, 1}, sub.Qoss)
}

func TestConnectValidateRejectsWrongProtocolLevel(t *testing.T) {
	pk := &packets.ConnectPacket{ProtocolName: "MQTT", ProtocolVersion: 3}
	code, err := pk.Validate()
	require.Error(t, err)
	require.Equal(t, packets.CodeUnacceptableProtocolVersion.Code, code)
}

func TestConnectValidateRejectsEmptyClientIDWithoutCleanSession(t *testing.T) {
	pk := &packets.ConnectPacket{ProtocolName: "MQTT", ProtocolVersion: 4, CleanSession: false}
	code, err := pk.Validate()
	require.Error(t, err)
	require.Equal(t, packets.CodeIdentifierRejected.Code, code)
}

func TestConnectValidateAcceptsEmptyClientIDWithCleanSession(t *testing.T) {
	pk := &packets.ConnectPacket{ProtocolName: "MQTT", ProtocolVersion: 4, CleanSession: true}
	code, err := pk.Validate()
	require.NoError(t, err)
	require.Equal(t, packets.Accepted, code)
}

func TestRefreshDeadlineZeroKeepaliveAppliesNoKeepaliveTimeout(t *testing.T) {
	_, reader := pipe(t)
	reader.NoKeepaliveTimeout = 20 * time.Millisecond

	reader.RefreshDeadline(0)

	_, err := reader.Conn.Read(make([]byte, 1))
	require.Error(t, err, "a keepalive of 0 must use NoKeepaliveTimeout, not an already-expired zero deadline")
}

func TestRefreshDeadlineZeroKeepaliveWithoutTimeoutNeverExpires(t *testing.T) {
	writer, reader := pipe(t)

	reader.RefreshDeadline(0) // NoKeepaliveTimeout unset: no deadline at all

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		writer.Conn.Write([]byte{1})
		close(done)
	}()

	_, err := reader.Conn.Read(make([]byte, 1))
	require.NoError(t, err)
	<-done
}

func TestRefreshDeadlineHonoursConfiguredFactor(t *testing.T) {
	_, reader := pipe(t)
	reader.KeepAliveFactor = 0.02 // keepalive=1s * 0.02 = 20ms

	reader.RefreshDeadline(1)

	_, err := reader.Conn.Read(make([]byte, 1))
	require.Error(t, err, "a configured KeepAliveFactor must be applied instead of the 1.5 default")
}
