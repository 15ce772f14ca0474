// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"log/slog"
	"strings"
)

// Router fans a PUBLISH out to every matching subscriber, applying
// interceptors, retained-message bookkeeping, per-recipient authorization,
// and offline queueing for persistent sessions, in that order.
type Router struct {
	topics        *TopicTree
	sessions      *SessionStore
	auth          Auth
	retainEnabled bool
	interceptors  []Interceptor
	log           *slog.Logger
	onPublish     func(from, topic string, payload []byte, qos byte, retain bool)
}

// NewRouter returns a Router wired to the broker's topic tree and session
// store.
func NewRouter(topics *TopicTree, sessions *SessionStore, auth Auth, retainEnabled bool, log *slog.Logger) *Router {
	return &Router{topics: topics, sessions: sessions, auth: auth, retainEnabled: retainEnabled, log: log}
}

// AddInterceptor appends an interceptor to the ordered interceptor chain
// run before a PUBLISH reaches retained storage or subscribers.
func (r *Router) AddInterceptor(i Interceptor) {
	r.interceptors = append(r.interceptors, i)
}

// OnPublishHook sets the callback fired once a PUBLISH has cleared
// interceptors and was not dropped (mirrors the broker's OnPublish hook
// semantics).
func (r *Router) OnPublishHook(fn func(from, topic string, payload []byte, qos byte, retain bool)) {
	r.onPublish = fn
}

// Route delivers a PUBLISH from client `from` to every matching
// subscriber. It runs the interceptor chain first; any interceptor
// rejecting the message aborts routing entirely (retained storage
// included). Returns the (possibly interceptor-modified) payload that was
// actually delivered, or nil if the message was dropped.
func (r *Router) Route(from, topic string, payload []byte, qos byte, retain bool) []byte {
	for _, ic := range r.interceptors {
		ok := true
		func() {
			// A panicking interceptor is logged and leaves the message as it was.
			defer func() {
				if p := recover(); p != nil {
					r.log.Warn("interceptor panicked", "recover", p)
				}
			}()
			topic, payload, qos, retain, ok = ic.InterceptPublish(from, topic, payload, qos, retain)
		}()
		if !ok {
			return nil
		}
	}

	if retain && r.retainEnabled {
		r.topics.RetainMessage(topic, payload, qos)
	}

	for client, grantedQos := range r.topics.Subscribers(topic) {
		deliveryQos := qos
		if grantedQos < deliveryQos {
			deliveryQos = grantedQos
		}
		r.deliver(from, client, topic, payload, deliveryQos, false)
	}

	if r.onPublish != nil {
		r.onPublish(from, topic, payload, qos, retain)
	}

	return payload
}

// DeliverRetained replays every retained message matching filter to a
// freshly subscribed client, applying the subscription's granted QoS.
func (r *Router) DeliverRetained(client, filter string, grantedQos byte) {
	for _, m := range r.topics.Messages(filter) {
		qos := m.Qos
		if grantedQos < qos {
			qos = grantedQos
		}
		r.deliver(SysPrefix, client, m.Topic, m.Payload, qos, true)
	}
}

// deliver authorizes and hands a single message to one recipient, queueing
// it for later delivery if the recipient is a disconnected persistent
// session and qos > 0.
func (r *Router) deliver(from, client, topic string, payload []byte, qos byte, retained bool) {
	if r.auth != nil {
		if level := r.auth.AuthorizeSubscribe(client, topic); level < 0 {
			return
		} else if byte(level) < qos {
			qos = byte(level)
		}
	}

	sess, ok := r.sessions.Get(client)
	if !ok {
		return
	}

	conn := sess.Connection()
	if conn == nil {
		if qos > 0 && !sess.clean {
			sess.Enqueue(topic, payload, qos, retained)
		}
		return
	}

	if err := conn.sendPublish(sess, topic, payload, qos, retained); err != nil {
		r.log.Warn("failed delivering message", "error", err, "client", client, "topic", topic)
	}
}

// FlushOffline delivers every message queued while sess was disconnected,
// called right after a persistent session's connection is (re)established.
func (r *Router) FlushOffline(sess *Session) {
	conn := sess.Connection()
	if conn == nil {
		return
	}

	for _, m := range sess.DrainOffline() {
		if err := conn.sendPublish(sess, m.topic, m.payload, m.qos, m.retain); err != nil {
			r.log.Warn("failed flushing offline message", "error", err, "client", sess.ID(), "topic", m.topic)
		}
	}
}

// Interceptor inspects or transforms an inbound PUBLISH before it reaches
// retained storage or any subscriber. It may mutate the topic, payload,
// QoS or retain flag; returning ok=false drops the message entirely
// (including retained storage) without disconnecting the publisher.
type Interceptor interface {
	InterceptPublish(from, topic string, payload []byte, qos byte, retain bool) (outTopic string, outPayload []byte, outQos byte, outRetain bool, ok bool)
}

// isSysTopic reports whether topic falls under the reserved $SYS prefix;
// used by the connection handler to reject ordinary clients publishing
// into it.
func isSysTopic(topic string) bool {
	return strings.HasPrefix(topic, SysPrefix)
}
