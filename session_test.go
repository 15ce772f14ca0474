// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionStoreCreateOrTakeoverFreshSession(t *testing.T) {
	store := NewSessionStore()

	sess, existed := store.CreateOrTakeover("cl1", false, 10)
	require.False(t, existed)
	require.Equal(t, "cl1", sess.ID())
}

func TestSessionStoreCreateOrTakeoverExistingPersistentSession(t *testing.T) {
	store := NewSessionStore()
	first, _ := store.CreateOrTakeover("cl1", false, 10)
	first.Enqueue("a/b", []byte("x"), 1, false)

	second, existed := store.CreateOrTakeover("cl1", false, 10)
	require.True(t, existed)
	require.Same(t, first, second, "takeover reuses the same session record")
}

func TestSessionEnqueueAndDrainOffline(t *testing.T) {
	sess := NewSession("cl1", false, 2)
	sess.Enqueue("a/b", []byte("1"), 0, false)
	sess.Enqueue("a/c", []byte("2"), 1, false)
	sess.Enqueue("a/d", []byte("3"), 1, false) // exceeds maxOffline

	drained := sess.DrainOffline()
	require.Len(t, drained, 2, "queue caps at maxOffline")

	require.Empty(t, sess.DrainOffline(), "drain empties the queue")
}

func TestSessionAttachDetach(t *testing.T) {
	sess := NewSession("cl1", true, 10)
	require.False(t, sess.IsConnected())

	sess.Attach(&Connection{})
	require.True(t, sess.IsConnected())

	sess.Detach()
	require.False(t, sess.IsConnected())
}

func TestSessionWill(t *testing.T) {
	sess := NewSession("cl1", true, 10)
	require.Nil(t, sess.Will())

	w := &Will{Topic: "a/b", Payload: []byte("bye"), Qos: 1}
	sess.SetWill(w)
	require.Equal(t, w, sess.Will())

	sess.SetWill(nil)
	require.Nil(t, sess.Will())
}

func TestSessionStoreExpireOffline(t *testing.T) {
	store := NewSessionStore()
	sess, _ := store.CreateOrTakeover("cl1", false, 10)
	sess.disconnectedAt = time.Now().Add(-2 * time.Hour)

	expired := store.ExpireOffline(time.Hour)
	require.Equal(t, []string{"cl1"}, expired)

	_, ok := store.Get("cl1")
	require.False(t, ok)
}

func TestSessionStoreExpireOfflineSkipsConnectedSessions(t *testing.T) {
	store := NewSessionStore()
	sess, _ := store.CreateOrTakeover("cl1", false, 10)
	sess.Attach(&Connection{})

	expired := store.ExpireOffline(0)
	require.Empty(t, expired, "a connected session never expires")
}
