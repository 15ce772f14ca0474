// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"github.com/jinzhu/copier"

	"github.com/mateuszsury/beehiveMQTT/system"
)

// ClientSnapshot is a read-only view of one session's state, returned by
// Broker.Snapshot.
type ClientSnapshot struct {
	ID            string
	Connected     bool
	Subscriptions []Subscription
	InflightOut   int
}

// Snapshot is a deep, point-in-time copy of the broker's state, safe to
// serialize or hold onto after the broker has moved on.
type Snapshot struct {
	Info     *system.Info
	Clients  []ClientSnapshot
	Retained []RetainedMessage
}

// clientSnapshotSource carries only exported fields pulled from a Session's
// accessor methods, so copier.Copy has something it can actually reflect
// over; Session itself keeps its fields private.
type clientSnapshotSource struct {
	ID            string
	Connected     bool
	Subscriptions []Subscription
	InflightOut   int
}

// Snapshot returns a deep copy of every connected and offline client, the
// broker's aggregate statistics, and the current retained-message set.
func (b *Broker) Snapshot() *Snapshot {
	sessions := b.sessions.All()
	clients := make([]ClientSnapshot, 0, len(sessions))

	for _, sess := range sessions {
		src := clientSnapshotSource{
			ID:            sess.ID(),
			Connected:     sess.IsConnected(),
			Subscriptions: b.topics.Subscriptions(sess.ID()),
			InflightOut:   sess.inflight.OutboundLen(),
		}

		var dst ClientSnapshot
		if err := copier.Copy(&dst, &src); err != nil {
			b.log.Warn("snapshot copy failed", "client", src.ID, "error", err)
			continue
		}
		clients = append(clients, dst)
	}

	retainedSrc := b.topics.Messages("#")
	retained := make([]RetainedMessage, len(retainedSrc))
	for i, m := range retainedSrc {
		retained[i] = *m
	}

	return &Snapshot{
		Info:     b.Info(),
		Clients:  clients,
		Retained: retained,
	}
}

// ClearRetained removes the retained message (if any) stored for topic.
func (b *Broker) ClearRetained(topic string) {
	b.topics.RetainMessage(topic, nil, 0)
}

// DisconnectClient forcibly closes a connected client's underlying
// network connection, as if it had dropped on its own; its session obeys
// normal clean/persistent rules afterward. Reports whether the client was
// connected.
func (b *Broker) DisconnectClient(id string) bool {
	sess, ok := b.sessions.Get(id)
	if !ok {
		return false
	}
	conn := sess.Connection()
	if conn == nil {
		return false
	}
	conn.parser.Conn.Close()
	return true
}
