// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotIncludesClientsAndRetained(t *testing.T) {
	b := New(nil, nil)

	sess, _ := b.sessions.CreateOrTakeover("cl1", false, 10)
	b.topics.Subscribe(sess.ID(), "a/b", 1)
	b.topics.RetainMessage("a/b", []byte("hi"), 1)

	snap := b.Snapshot()

	require.Len(t, snap.Clients, 1)
	require.Equal(t, "cl1", snap.Clients[0].ID)
	require.Len(t, snap.Clients[0].Subscriptions, 1)
	require.Equal(t, "a/b", snap.Clients[0].Subscriptions[0].Filter)

	require.Len(t, snap.Retained, 1)
	require.Equal(t, []byte("hi"), snap.Retained[0].Payload)
	require.NotNil(t, snap.Info)
}

func TestSnapshotIsADeepCopyNotALiveView(t *testing.T) {
	b := New(nil, nil)
	b.sessions.CreateOrTakeover("cl1", false, 10)

	snap := b.Snapshot()
	require.Len(t, snap.Clients, 1)

	b.sessions.CreateOrTakeover("cl2", false, 10)
	require.Len(t, snap.Clients, 1, "a previously taken snapshot is unaffected by later broker state changes")
}

func TestClearRetainedRemovesTheMessage(t *testing.T) {
	b := New(nil, nil)
	b.topics.RetainMessage("a/b", []byte("hi"), 1)
	require.Len(t, b.topics.Messages("a/b"), 1)

	b.ClearRetained("a/b")
	require.Empty(t, b.topics.Messages("a/b"))
}

func TestDisconnectClientClosesItsConnectionAndReportsSuccess(t *testing.T) {
	b := New(nil, nil)
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close() })

	sess, _ := b.sessions.CreateOrTakeover("cl1", false, 10)
	sess.Attach(newConnection(serverSide, b, "tcp"))

	require.True(t, b.DisconnectClient("cl1"))

	_, err := serverSide.Read(make([]byte, 1))
	require.Error(t, err, "the underlying connection was closed")
}

func TestDisconnectClientReportsFalseForUnknownOrOfflineClient(t *testing.T) {
	b := New(nil, nil)
	require.False(t, b.DisconnectClient("nonexistent"))

	b.sessions.CreateOrTakeover("offline-client", false, 10)
	require.False(t, b.DisconnectClient("offline-client"), "a session with no attached connection is not connected")
}
