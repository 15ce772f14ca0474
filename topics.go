// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 J. Blake / mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SysPrefix is the prefix indicating a $SYS system-info topic. Topics under
// this prefix are excluded from top-level wildcard matches ([MQTT-4.7.1-1]
// [MQTT-4.7.1-2]) and from PUBLISH by ordinary clients.
var SysPrefix = "$SYS"

// Subscription describes one client's subscription to a topic filter.
type Subscription struct {
	Client string
	Filter string
	Qos    byte
}

// RetainedMessage is a stored PUBLISH payload associated with a specific
// topic name, replayed to future subscribers of a matching filter.
type RetainedMessage struct {
	Topic   string
	Payload []byte
	Qos     byte
}

// TopicTree is a prefix trie of topic subscribers and retained messages,
// supporting the '+' and '#' wildcard grammar. Every operation takes the
// tree-wide lock; critical sections are kept short (no I/O, no allocation
// beyond map bookkeeping) so this is not a contention hazard under the
// broker's connection-per-goroutine model.
type TopicTree struct {
	mu       sync.RWMutex
	root     *particle
	retained *lru.Cache[string, *RetainedMessage]

	// MaxSubscriptionsPerClient caps how many distinct filters a single
	// client may hold; zero means unlimited. Enforced in Subscribe.
	MaxSubscriptionsPerClient int

	clientFilterCounts map[string]int
}

// NewTopicTree returns an empty TopicTree. maxRetained bounds the number of
// retained messages kept at once via LRU eviction; zero applies a fixed cap
// of 1<<20 messages.
func NewTopicTree(maxRetained int) *TopicTree {
	t := &TopicTree{
		root: &particle{
			particles:     newParticles(),
			subscriptions: map[string]Subscription{},
		},
		clientFilterCounts: map[string]int{},
	}

	if maxRetained > 0 {
		cache, _ := lru.NewWithEvict(maxRetained, func(topic string, _ *RetainedMessage) {
			t.evictRetained(topic)
		})
		t.retained = cache
	} else {
		cache, _ := lru.New[string, *RetainedMessage](1 << 20)
		t.retained = cache
	}

	return t
}

// evictRetained clears the retainPath pointer on the trie node for topic,
// called from the LRU's eviction callback so the cache and trie never
// disagree about which topics carry a retained message.
func (t *TopicTree) evictRetained(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.seek(topic, 0); n != nil {
		n.retainPath = ""
		t.trim(n)
	}
}

// Subscribe registers client's interest in filter at the given QoS,
// replacing any existing grant for the same filter unconditionally. It
// returns the granted QoS and false if the client is already at its
// max_subscriptions_per_client quota for a brand new filter.
func (t *TopicTree) Subscribe(client, filter string, qos byte) (granted byte, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.set(filter, 0)
	_, existed := n.subscriptions[client]

	if !existed && t.MaxSubscriptionsPerClient > 0 && t.clientFilterCounts[client] >= t.MaxSubscriptionsPerClient {
		return 0, false
	}

	n.subscriptions[client] = Subscription{Client: client, Filter: filter, Qos: qos}
	if !existed {
		t.clientFilterCounts[client]++
	}

	return qos, true
}

// Unsubscribe removes client's subscription to filter, returning true if a
// subscription existed.
func (t *TopicTree) Unsubscribe(filter, client string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.seek(filter, 0)
	if n == nil {
		return false
	}

	if _, ok := n.subscriptions[client]; !ok {
		return false
	}

	delete(n.subscriptions, client)
	t.clientFilterCounts[client]--
	if t.clientFilterCounts[client] <= 0 {
		delete(t.clientFilterCounts, client)
	}

	t.trim(n)
	return true
}

// UnsubscribeAll drops every subscription held by client, used on session
// expiry / clean disconnect.
func (t *TopicTree) UnsubscribeAll(client string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.walk(t.root, func(n *particle) {
		if _, ok := n.subscriptions[client]; ok {
			delete(n.subscriptions, client)
			t.trim(n)
		}
	})
	delete(t.clientFilterCounts, client)
}

// Subscriptions returns every filter client currently holds, for
// management snapshots.
func (t *TopicTree) Subscriptions(client string) []Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Subscription
	t.walk(t.root, func(n *particle) {
		if sub, ok := n.subscriptions[client]; ok {
			out = append(out, sub)
		}
	})
	return out
}

func (t *TopicTree) walk(n *particle, fn func(*particle)) {
	for _, p := range n.particles.getAll() {
		t.walk(p, fn)
	}
	fn(n)
}

// RetainMessage stores or clears a retained message for a topic name. A
// zero-length payload clears any existing retained message on that exact
// topic name ([MQTT-3.3.1-6] [MQTT-3.3.1-7]).
func (t *TopicTree) RetainMessage(topic string, payload []byte, qos byte) {
	t.mu.Lock()
	n := t.set(topic, 0)
	t.mu.Unlock()

	if len(payload) == 0 {
		t.retained.Remove(topic)
		t.mu.Lock()
		n.retainPath = ""
		t.trim(n)
		t.mu.Unlock()
		return
	}

	n.retainPath = topic
	t.retained.Add(topic, &RetainedMessage{Topic: topic, Payload: payload, Qos: qos})
}

// RetainedCount returns the number of retained messages currently stored.
func (t *TopicTree) RetainedCount() int {
	return t.retained.Len()
}

// set creates (if absent) and returns the trie node addressed by topic.
func (t *TopicTree) set(topic string, d int) *particle {
	var key string
	hasNext := true
	n := t.root
	for hasNext {
		key, hasNext = isolateParticle(topic, d)
		d++

		p := n.particles.get(key)
		if p == nil {
			p = newParticle(key, n)
			n.particles.add(p)
		}
		n = p
	}

	return n
}

// seek returns the trie node addressed by filter, or nil if absent.
func (t *TopicTree) seek(filter string, d int) *particle {
	var key string
	hasNext := true
	n := t.root
	for hasNext {
		key, hasNext = isolateParticle(filter, d)
		n = n.particles.get(key)
		d++
		if n == nil {
			return nil
		}
	}

	return n
}

// trim removes now-empty particles walking up from n toward the root.
func (t *TopicTree) trim(n *particle) {
	for n.parent != nil && n.retainPath == "" && n.particles.len()+len(n.subscriptions) == 0 {
		key := n.key
		n = n.parent
		n.particles.delete(key)
	}
}

// Messages returns all retained messages whose topic matches filter.
func (t *TopicTree) Messages(filter string) []*RetainedMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scanMessages(filter, 0, nil, nil)
}

func (t *TopicTree) scanMessages(filter string, d int, n *particle, out []*RetainedMessage) []*RetainedMessage {
	if n == nil {
		n = t.root
	}

	if !strings.ContainsRune(filter, '#') && !strings.ContainsRune(filter, '+') {
		if pk, ok := t.retained.Get(filter); ok {
			out = append(out, pk)
		}
		return out
	}

	key, hasNext := isolateParticle(filter, d)
	if key == "+" || key == "#" {
		for _, adjacent := range n.particles.getAll() {
			if d == 0 && adjacent.key == SysPrefix {
				continue
			}

			if !hasNext {
				if adjacent.retainPath != "" {
					if pk, ok := t.retained.Get(adjacent.retainPath); ok {
						out = append(out, pk)
					}
				}
			}

			if hasNext || key == "#" {
				out = t.scanMessages(filter, d+1, adjacent, out)
			}
		}
		return out
	}

	if p := n.particles.get(key); p != nil {
		if hasNext {
			return t.scanMessages(filter, d+1, p, out)
		}

		if pk, ok := t.retained.Get(p.retainPath); ok {
			out = append(out, pk)
		}
	}

	return out
}

// Subscribers returns the set of clients whose filters match topic, mapped
// to their granted QoS for that filter (highest, if more than one filter
// from the same client matches).
func (t *TopicTree) Subscribers(topic string) map[string]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := map[string]byte{}
	t.scanSubscribers(topic, 0, nil, out)
	return out
}

func (t *TopicTree) scanSubscribers(topic string, d int, n *particle, out map[string]byte) {
	if n == nil {
		n = t.root
	}

	if len(topic) == 0 {
		return
	}

	key, hasNext := isolateParticle(topic, d)
	for _, partKey := range []string{key, "+", "#"} {
		p := n.particles.get(partKey)
		if p == nil {
			continue
		}

		if hasNext && partKey != "#" {
			t.scanSubscribers(topic, d+1, p, out)
			continue
		}

		t.gatherSubscriptions(topic, p, out)
		if wild := p.particles.get("#"); wild != nil && partKey != "#" && partKey != "+" {
			t.gatherSubscriptions(topic, wild, out)
		}
	}
}

func (t *TopicTree) gatherSubscriptions(topic string, p *particle, out map[string]byte) {
	for client, sub := range p.subscriptions {
		// @SPEC [MQTT-4.7.1-1] [MQTT-4.7.1-2]: a subscription starting with
		// a wildcard never matches a $-prefixed topic.
		if len(sub.Filter) > 0 && len(topic) > 0 && topic[0] == '$' && (sub.Filter[0] == '+' || sub.Filter[0] == '#') {
			continue
		}

		if q, ok := out[client]; !ok || sub.Qos > q {
			out[client] = sub.Qos
		}
	}
}

// isolateParticle extracts the topic level between the d-th and (d+1)-th
// '/' separators without allocating a new backing array.
func isolateParticle(filter string, d int) (part string, hasNext bool) {
	var next, end int
	for i := 0; end > -1 && i <= d; i++ {
		end = strings.IndexRune(filter, '/')

		switch {
		case d > -1 && i == d && end > -1:
			hasNext = true
			part = filter[next:end]
		case end > -1:
			hasNext = false
			filter = filter[end+1:]
		default:
			hasNext = false
			part = filter[next:]
		}
	}

	return
}

// IsValidFilter reports whether filter obeys the wildcard grammar
// ([MQTT-4.7.1-2], no shared-subscription syntax since that's out of
// scope) and, for a PUBLISH topic name, additionally forbids wildcards and
// the reserved $SYS prefix ([MQTT-3.3.2-2], non-normative 4.7.2).
func IsValidFilter(filter string, forPublish bool) bool {
	if len(filter) == 0 {
		return false
	}

	if forPublish {
		if len(filter) >= len(SysPrefix) && strings.EqualFold(filter[0:len(SysPrefix)], SysPrefix) {
			return false
		}
		if strings.ContainsRune(filter, '+') || strings.ContainsRune(filter, '#') {
			return false
		}
		return true
	}

	wildhash := strings.IndexRune(filter, '#')
	if wildhash >= 0 && wildhash != len(filter)-1 {
		return false
	}

	for _, level := range strings.Split(filter, "/") {
		if len(level) > 1 && strings.ContainsAny(level, "+#") {
			return false
		}
	}

	return true
}

// particle is a single node in the topic trie, addressed by one '/'-level.
type particle struct {
	key           string
	parent        *particle
	particles     particles
	subscriptions map[string]Subscription
	retainPath    string
	sync.Mutex
}

func newParticle(key string, parent *particle) *particle {
	return &particle{
		key:           key,
		parent:        parent,
		particles:     newParticles(),
		subscriptions: map[string]Subscription{},
	}
}

// particles is a concurrency-safe map of child particles. Access is
// synchronized independently of the particle's own mutex because
// TopicTree already serializes structural mutation via its own mu; this
// finer-grained lock only guards the map itself from concurrent Subscribers
// scans.
type particles struct {
	internal map[string]*particle
	sync.RWMutex
}

func newParticles() particles {
	return particles{internal: map[string]*particle{}}
}

func (p *particles) add(val *particle) {
	p.Lock()
	p.internal[val.key] = val
	p.Unlock()
}

func (p *particles) getAll() map[string]*particle {
	p.RLock()
	defer p.RUnlock()
	m := make(map[string]*particle, len(p.internal))
	for k, v := range p.internal {
		m[k] = v
	}
	return m
}

func (p *particles) get(id string) *particle {
	p.RLock()
	defer p.RUnlock()
	return p.internal[id]
}

func (p *particles) len() int {
	p.RLock()
	defer p.RUnlock()
	return len(p.internal)
}

func (p *particles) delete(id string) {
	p.Lock()
	defer p.Unlock()
	delete(p.internal, id)
}
