// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopicTreeSubscribeAndSubscribers(t *testing.T) {
	tree := NewTopicTree(0)

	granted, ok := tree.Subscribe("cl1", "a/b/c", 1)
	require.True(t, ok)
	require.Equal(t, byte(1), granted)

	subs := tree.Subscribers("a/b/c")
	require.Contains(t, subs, "cl1")
	require.Equal(t, byte(1), subs["cl1"])
}

func TestTopicTreePlusWildcard(t *testing.T) {
	tree := NewTopicTree(0)
	_, ok := tree.Subscribe("cl1", "a/+/c", 0)
	require.True(t, ok)

	subs := tree.Subscribers("a/b/c")
	require.Contains(t, subs, "cl1")

	subs = tree.Subscribers("a/b/x/c")
	require.NotContains(t, subs, "cl1")
}

func TestTopicTreeHashWildcard(t *testing.T) {
	tree := NewTopicTree(0)
	_, ok := tree.Subscribe("cl1", "a/#", 0)
	require.True(t, ok)

	for _, topic := range []string{"a/b", "a/b/c", "a/b/c/d"} {
		subs := tree.Subscribers(topic)
		require.Containsf(t, subs, "cl1", "expected match for %s", topic)
	}

	subs := tree.Subscribers("x/y")
	require.NotContains(t, subs, "cl1")
}

func TestTopicTreeSysIsolation(t *testing.T) {
	tree := NewTopicTree(0)
	_, ok := tree.Subscribe("cl1", "#", 0)
	require.True(t, ok)
	_, ok = tree.Subscribe("cl2", "+/broker/uptime", 0)
	require.True(t, ok)

	subs := tree.Subscribers(SysPrefix + "/broker/uptime")
	require.NotContains(t, subs, "cl1", "top-level # must not match $SYS")
	require.NotContains(t, subs, "cl2", "top-level + must not match $SYS")

	_, ok = tree.Subscribe("cl3", SysPrefix+"/#", 0)
	require.True(t, ok)
	subs = tree.Subscribers(SysPrefix + "/broker/uptime")
	require.Contains(t, subs, "cl3", "explicit $SYS/# must match")
}

func TestTopicTreeUnsubscribe(t *testing.T) {
	tree := NewTopicTree(0)
	tree.Subscribe("cl1", "a/b", 0)
	require.True(t, tree.Unsubscribe("a/b", "cl1"))
	require.False(t, tree.Unsubscribe("a/b", "cl1"), "second unsubscribe of the same filter reports no-op")

	subs := tree.Subscribers("a/b")
	require.NotContains(t, subs, "cl1")
}

func TestTopicTreeUnsubscribeAll(t *testing.T) {
	tree := NewTopicTree(0)
	tree.Subscribe("cl1", "a/b", 0)
	tree.Subscribe("cl1", "c/d", 1)
	tree.UnsubscribeAll("cl1")

	require.NotContains(t, tree.Subscribers("a/b"), "cl1")
	require.NotContains(t, tree.Subscribers("c/d"), "cl1")
	require.Empty(t, tree.Subscriptions("cl1"))
}

func TestTopicTreeRetainedMessageReplay(t *testing.T) {
	tree := NewTopicTree(0)
	tree.RetainMessage("a/b", []byte("hello"), 1)

	msgs := tree.Messages("a/+")
	require.Len(t, msgs, 1)
	require.Equal(t, "a/b", msgs[0].Topic)
	require.Equal(t, []byte("hello"), msgs[0].Payload)

	tree.RetainMessage("a/b", nil, 0)
	require.Empty(t, tree.Messages("a/+"), "zero-length payload clears the retained message")
}

func TestTopicTreeMaxSubscriptionsPerClient(t *testing.T) {
	tree := NewTopicTree(0)
	tree.MaxSubscriptionsPerClient = 1

	_, ok := tree.Subscribe("cl1", "a/b", 0)
	require.True(t, ok)

	_, ok = tree.Subscribe("cl1", "c/d", 0)
	require.False(t, ok, "second distinct filter exceeds the per-client cap")

	_, ok = tree.Subscribe("cl1", "a/b", 1)
	require.True(t, ok, "re-subscribing the same filter at a new QoS is not a new filter")
}
