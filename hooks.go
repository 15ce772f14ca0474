// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, thedevop, dgduncan

package mqtt

import (
	"log/slog"
	"sync"

	"github.com/mateuszsury/beehiveMQTT/packets"
)

// Auth is the pluggable authentication/authorization surface consulted at
// CONNECT time and on every PUBLISH/SUBSCRIBE. The broker ships three
// implementations in the auth package: AllowAll, Dictionary (a YAML rule
// ledger) and Callback (delegates to caller-supplied funcs).
type Auth interface {
	// Authenticate decides whether a CONNECT with the given credentials is
	// accepted. clientID is always populated (generated if the client sent
	// none); username/password are empty if the client didn't send them.
	Authenticate(clientID, username string, password []byte) bool

	// AuthorizePublish decides whether clientID may PUBLISH to topic.
	AuthorizePublish(clientID, topic string) bool

	// AuthorizeSubscribe decides the granted QoS for clientID subscribing
	// to topicFilter: 0, 1 or 2 for a granted subscription (capped against
	// the client's requested QoS), or -1 to refuse it entirely (SUBACK
	// 0x80 for that filter). Checked both at SUBSCRIBE time, to compute
	// the SUBACK code, and per matched subscriber at delivery time.
	AuthorizeSubscribe(clientID, topicFilter string) int
}

// Hook receives lifecycle notifications from the broker. Every method has a
// no-op default via HookBase so implementations only need to override what
// they care about, matching the teacher's hook-composition idiom.
type Hook interface {
	ID() string
	// OnConnect is called after CONNECT validation/auth but before the
	// CONNACK is written; returning false rejects the connection.
	OnConnect(clientID string) bool
	OnDisconnect(clientID string, err error)
	// OnSubscribe may override the granted QoS for filter, returning
	// packets.SubackFailure (0x80) to force a refusal.
	OnSubscribe(clientID, filter string, qos byte) byte
	OnUnsubscribe(clientID, filter string)
	OnPublish(clientID, topic string, payload []byte, qos byte, retain bool)
	// OnWillPublish gates publication of a disconnecting client's last
	// will; returning false suppresses it.
	OnWillPublish(clientID, topic string, payload []byte, qos byte, retain bool) bool
}

// HookBase provides no-op implementations of every Hook method so real
// hooks can embed it and only override what they need.
type HookBase struct{}

func (HookBase) ID() string                                      { return "base" }
func (HookBase) OnConnect(clientID string) bool                   { return true }
func (HookBase) OnDisconnect(clientID string, err error)          {}
func (HookBase) OnSubscribe(clientID, filter string, qos byte) byte { return qos }
func (HookBase) OnUnsubscribe(clientID, filter string)            {}
func (HookBase) OnPublish(clientID, topic string, payload []byte, qos byte, retain bool) {}
func (HookBase) OnWillPublish(clientID, topic string, payload []byte, qos byte, retain bool) bool {
	return true
}

// Hooks is an ordered, concurrency-safe collection of Hook implementations
// invoked by the broker at the relevant lifecycle points. Each call is
// recovered individually so a panicking hook cannot bring down a
// connection's goroutine.
type Hooks struct {
	mu   sync.RWMutex
	log  *slog.Logger
	list []Hook
}

// NewHooks returns an empty hook registry.
func NewHooks(log *slog.Logger) *Hooks {
	return &Hooks{log: log}
}

// Add registers a hook. Hooks run in the order they were added.
func (h *Hooks) Add(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.list = append(h.list, hook)
	h.log.Info("added hook", "hook", hook.ID())
}

func (h *Hooks) snapshot() []Hook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Hook(nil), h.list...)
}

func (h *Hooks) recoverCall(hookID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("hook panicked", "hook", hookID, "recover", r)
		}
	}()
	fn()
}

// recoverBool runs fn, recovering a panic to onPanic (the value used if the
// hook panicked instead of returning).
func (h *Hooks) recoverBool(hookID string, onPanic bool, fn func() bool) (result bool) {
	result = onPanic
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("hook panicked", "hook", hookID, "recover", r)
			result = onPanic
		}
	}()
	return fn()
}

// recoverByte runs fn, recovering a panic to onPanic.
func (h *Hooks) recoverByte(hookID string, onPanic byte, fn func() byte) (result byte) {
	result = onPanic
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("hook panicked", "hook", hookID, "recover", r)
			result = onPanic
		}
	}()
	return fn()
}

// OnConnect runs every hook's OnConnect, gating the connection: any hook
// returning false rejects it (remaining hooks still run, so they all see
// the attempt).
func (h *Hooks) OnConnect(clientID string) bool {
	allow := true
	for _, hk := range h.snapshot() {
		if !h.recoverBool(hk.ID(), true, func() bool { return hk.OnConnect(clientID) }) {
			allow = false
		}
	}
	return allow
}

func (h *Hooks) OnDisconnect(clientID string, err error) {
	for _, hk := range h.snapshot() {
		h.recoverCall(hk.ID(), func() { hk.OnDisconnect(clientID, err) })
	}
}

// OnSubscribe runs every hook's OnSubscribe in order, threading qos through
// each as the running grant so later hooks see earlier overrides. Once a
// hook forces packets.SubackFailure, later hooks no longer run (the filter
// is already refused).
func (h *Hooks) OnSubscribe(clientID, filter string, qos byte) byte {
	for _, hk := range h.snapshot() {
		if qos == packets.SubackFailure {
			break
		}
		qos = h.recoverByte(hk.ID(), qos, func() byte { return hk.OnSubscribe(clientID, filter, qos) })
	}
	return qos
}

func (h *Hooks) OnUnsubscribe(clientID, filter string) {
	for _, hk := range h.snapshot() {
		h.recoverCall(hk.ID(), func() { hk.OnUnsubscribe(clientID, filter) })
	}
}

func (h *Hooks) OnPublish(clientID, topic string, payload []byte, qos byte, retain bool) {
	for _, hk := range h.snapshot() {
		h.recoverCall(hk.ID(), func() { hk.OnPublish(clientID, topic, payload, qos, retain) })
	}
}

// OnWillPublish runs every hook's OnWillPublish, suppressing the will if
// any hook returns false.
func (h *Hooks) OnWillPublish(clientID, topic string, payload []byte, qos byte, retain bool) bool {
	allow := true
	for _, hk := range h.snapshot() {
		if !h.recoverBool(hk.ID(), true, func() bool { return hk.OnWillPublish(clientID, topic, payload, qos, retain) }) {
			allow = false
		}
	}
	return allow
}
