// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mateuszsury/beehiveMQTT/packets"
)

func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func readConnack(t *testing.T, client net.Conn) *packets.ConnackPacket {
	t.Helper()
	p := packets.NewParser(client)
	fh := new(packets.FixedHeader)
	require.NoError(t, p.ReadFixedHeader(fh))
	pk, err := p.Read()
	require.NoError(t, err)
	connack, ok := pk.(*packets.ConnackPacket)
	require.True(t, ok)
	return connack
}

func boolPtr(b bool) *bool { return &b }

func TestHandshakeRejectsAnonymousConnectWhenDisallowed(t *testing.T) {
	b := New(&Options{AllowAnonymous: boolPtr(false)}, nil)
	client, server := connPair(t)
	conn := newConnection(server, b, "tcp")

	go packets.NewParser(client).WritePacket(&packets.ConnectPacket{
		FixedHeader:      packets.FixedHeader{Type: packets.Connect},
		ProtocolName:     "MQTT",
		ProtocolVersion:  4,
		CleanSession:     true,
		ClientIdentifier: "cl1",
	})

	var graceful bool
	done := make(chan error, 1)
	go func() {
		var err error
		graceful, err = conn.handshake()
		done <- err
	}()

	require.Equal(t, packets.CodeNotAuthorized.Code, readConnack(t, client).ReturnCode)
	err := <-done
	require.True(t, graceful)
	require.Error(t, err)
	require.Nil(t, conn.session)
}

func TestHandshakeRejectsEmptyClientIDWhenDisallowed(t *testing.T) {
	b := New(&Options{AllowZeroLengthClientID: boolPtr(false)}, nil)
	client, server := connPair(t)
	conn := newConnection(server, b, "tcp")

	go packets.NewParser(client).WritePacket(&packets.ConnectPacket{
		FixedHeader:     packets.FixedHeader{Type: packets.Connect},
		ProtocolName:    "MQTT",
		ProtocolVersion: 4,
		CleanSession:    true,
		UsernameFlag:    true,
		Username:        "alice",
	})

	var graceful bool
	done := make(chan error, 1)
	go func() {
		var err error
		graceful, err = conn.handshake()
		done <- err
	}()

	require.Equal(t, packets.CodeIdentifierRejected.Code, readConnack(t, client).ReturnCode)
	err := <-done
	require.True(t, graceful)
	require.Error(t, err)
}

type rejectConnectHook struct {
	HookBase
	rejected string
}

func (h *rejectConnectHook) ID() string { return "reject-connect" }
func (h *rejectConnectHook) OnConnect(clientID string) bool {
	h.rejected = clientID
	return false
}

func TestHandshakeRejectsConnectionWhenHookVetoes(t *testing.T) {
	b := New(&Options{}, nil)
	hook := &rejectConnectHook{}
	b.AddHook(hook)

	client, server := connPair(t)
	conn := newConnection(server, b, "tcp")

	go packets.NewParser(client).WritePacket(&packets.ConnectPacket{
		FixedHeader:      packets.FixedHeader{Type: packets.Connect},
		ProtocolName:     "MQTT",
		ProtocolVersion:  4,
		CleanSession:     true,
		ClientIdentifier: "cl1",
	})

	var graceful bool
	done := make(chan error, 1)
	go func() {
		var err error
		graceful, err = conn.handshake()
		done <- err
	}()

	require.Equal(t, packets.CodeNotAuthorized.Code, readConnack(t, client).ReturnCode)
	err := <-done
	require.True(t, graceful)
	require.Error(t, err)
	require.Equal(t, "cl1", hook.rejected)
	require.Nil(t, conn.session)
	require.Zero(t, b.sessions.Len(), "a hook-vetoed connect must not leave a session behind")
}

type rejectWillHook struct {
	HookBase
	called bool
}

func (h *rejectWillHook) ID() string { return "reject-will" }
func (h *rejectWillHook) OnWillPublish(clientID, topic string, payload []byte, qos byte, retain bool) bool {
	h.called = true
	return false
}

func TestPublishWillSuppressedByHook(t *testing.T) {
	b := New(&Options{}, nil)
	hook := &rejectWillHook{}
	b.AddHook(hook)

	sess, _ := b.sessions.CreateOrTakeover("cl1", true, 10)
	sess.SetWill(&Will{Topic: "a/b", Payload: []byte("bye"), Qos: 0})

	conn := &Connection{broker: b, session: sess, log: b.log}
	conn.publishWill()

	require.True(t, hook.called)
	require.Empty(t, b.topics.Messages("a/b"))
}

func TestHandleSubscribeForcesSubackFailureWhenAuthRefuses(t *testing.T) {
	b := New(&Options{}, &capAuth{level: -1})
	sess, _ := b.sessions.CreateOrTakeover("cl1", true, 10)

	client, server := connPair(t)
	conn := newConnection(server, b, "tcp")
	conn.session = sess

	go func() {
		err := conn.handleSubscribe(&packets.SubscribePacket{
			FixedHeader: packets.FixedHeader{Type: packets.Subscribe},
			PacketID:    1,
			Topics:      []string{"a/b"},
			Qoss:        []byte{1},
		})
		_ = err
	}()

	p := packets.NewParser(client)
	fh := new(packets.FixedHeader)
	require.NoError(t, p.ReadFixedHeader(fh))
	pk, err := p.Read()
	require.NoError(t, err)
	suback, ok := pk.(*packets.SubackPacket)
	require.True(t, ok)
	require.Equal(t, []byte{packets.SubackFailure}, suback.ReturnCodes)
}

func TestHandlePublishDowngradesQos2WhenDisabled(t *testing.T) {
	b := New(&Options{Qos2Enabled: boolPtr(false)}, nil)
	sess, _ := b.sessions.CreateOrTakeover("cl1", true, 10)

	client, server := connPair(t)
	conn := newConnection(server, b, "tcp")
	conn.session = sess

	go func() {
		_ = conn.handlePublish(&packets.PublishPacket{
			FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: 2},
			TopicName:   "a/b",
			PacketID:    5,
			Payload:     []byte("hi"),
		})
	}()

	p := packets.NewParser(client)
	fh := new(packets.FixedHeader)
	require.NoError(t, p.ReadFixedHeader(fh))
	pk, err := p.Read()
	require.NoError(t, err)
	_, ok := pk.(*packets.PubackPacket)
	require.True(t, ok, "QoS 2 disabled must ack with PUBACK, not PUBREC")
}
