// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package debug provides a Hook that logs every broker lifecycle event at
// debug level, useful when diagnosing a misbehaving client.
package debug

import (
	"log/slog"

	mqtt "github.com/mateuszsury/beehiveMQTT"
)

// Hook logs connect, disconnect, subscribe, unsubscribe and publish events
// via a *slog.Logger.
type Hook struct {
	mqtt.HookBase
	Log *slog.Logger
}

// New returns a debug Hook that logs through log.
func New(log *slog.Logger) *Hook {
	return &Hook{Log: log}
}

// ID returns the hook's identifier.
func (h *Hook) ID() string { return "debug" }

// OnConnect logs a client connection. It never rejects.
func (h *Hook) OnConnect(clientID string) bool {
	h.Log.Debug("client connected", "client", clientID)
	return true
}

// OnDisconnect logs a client disconnection, including the triggering error
// if the connection was not closed gracefully.
func (h *Hook) OnDisconnect(clientID string, err error) {
	if err != nil {
		h.Log.Debug("client disconnected", "client", clientID, "error", err)
		return
	}
	h.Log.Debug("client disconnected", "client", clientID)
}

// OnSubscribe logs a granted subscription without overriding its QoS.
func (h *Hook) OnSubscribe(clientID, filter string, qos byte) byte {
	h.Log.Debug("client subscribed", "client", clientID, "filter", filter, "qos", qos)
	return qos
}

// OnUnsubscribe logs a removed subscription.
func (h *Hook) OnUnsubscribe(clientID, filter string) {
	h.Log.Debug("client unsubscribed", "client", clientID, "filter", filter)
}

// OnPublish logs a routed publish, omitting the payload itself since it may
// contain sensitive data.
func (h *Hook) OnPublish(clientID, topic string, payload []byte, qos byte, retain bool) {
	h.Log.Debug("message published", "client", clientID, "topic", topic, "qos", qos, "retain", retain, "size", len(payload))
}

// OnWillPublish logs a will about to be published. It never suppresses it.
func (h *Hook) OnWillPublish(clientID, topic string, payload []byte, qos byte, retain bool) bool {
	h.Log.Debug("publishing will", "client", clientID, "topic", topic, "qos", qos, "retain", retain, "size", len(payload))
	return true
}
