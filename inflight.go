// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 J. Blake / mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"sync"
	"time"

	"github.com/mateuszsury/beehiveMQTT/packets"
)

// qosStage identifies where an outbound QoS 1/2 delivery sits in its
// handshake.
type qosStage byte

const (
	// stageAwaitPuback is QoS 1: PUBLISH sent, waiting for PUBACK.
	stageAwaitPuback qosStage = iota
	// stageAwaitPubrec is QoS 2 step 1: PUBLISH sent, waiting for PUBREC.
	stageAwaitPubrec
	// stageAwaitPubcomp is QoS 2 step 2: PUBREL sent, waiting for PUBCOMP.
	stageAwaitPubcomp
)

// OutboundDelivery tracks one in-flight outbound PUBLISH (or its QoS 2
// PUBREL follow-up) awaiting acknowledgement from a subscriber.
type OutboundDelivery struct {
	PacketID uint16
	Publish  *packets.PublishPacket
	Qos      byte
	Stage    qosStage
	Attempts int
	LastSent time.Time
}

// Inflight tracks a single session's outbound QoS 1/2 handshakes awaiting
// acknowledgement, its inbound QoS 2 dedup set, and its packet-id
// allocator. One Inflight belongs to exactly one Session.
type Inflight struct {
	mu sync.RWMutex

	out map[uint16]*OutboundDelivery
	in  map[uint16]struct{}

	cursor uint16
}

// NewInflight returns an empty Inflight tracker.
func NewInflight() *Inflight {
	return &Inflight{
		out: map[uint16]*OutboundDelivery{},
		in:  map[uint16]struct{}{},
	}
}

// NextPacketID allocates the next free outbound packet identifier, skipping
// ids currently awaiting acknowledgement. Packet id 0 is never valid per
// the spec, so the cursor always starts from 1. Returns ok=false only if
// all 65535 ids are exhausted (an outbound quota the caller should also be
// enforcing well before this point via max_inflight).
func (i *Inflight) NextPacketID() (id uint16, ok bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for n := 0; n < 65535; n++ {
		i.cursor++
		if i.cursor == 0 {
			i.cursor = 1
		}
		if _, taken := i.out[i.cursor]; !taken {
			return i.cursor, true
		}
	}

	return 0, false
}

// SetOutbound records a new or updated outbound delivery.
func (i *Inflight) SetOutbound(d *OutboundDelivery) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.out[d.PacketID] = d
}

// GetOutbound returns the outbound delivery for a packet id, if any.
func (i *Inflight) GetOutbound(id uint16) (*OutboundDelivery, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.out[id]
	return d, ok
}

// DeleteOutbound removes an outbound delivery, returning true if it
// existed - PUBACK completes a QoS 1 delivery, PUBCOMP completes QoS 2.
func (i *Inflight) DeleteOutbound(id uint16) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.out[id]
	delete(i.out, id)
	return ok
}

// OutboundLen returns the number of outbound deliveries awaiting
// acknowledgement, used to enforce max_inflight.
func (i *Inflight) OutboundLen() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.out)
}

// DueForRetry returns every outbound delivery whose last send is older than
// retryInterval, for the broker's retry scheduler to resend with DUP=1.
func (i *Inflight) DueForRetry(retryInterval time.Duration, now time.Time) []*OutboundDelivery {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var due []*OutboundDelivery
	for _, d := range i.out {
		if now.Sub(d.LastSent) >= retryInterval {
			due = append(due, d)
		}
	}
	return due
}

// MarkInboundReceived records an inbound QoS 2 packet id as seen, returning
// true if it was already present (a duplicate PUBLISH that must be
// re-acknowledged with PUBREC but not re-routed).
func (i *Inflight) MarkInboundReceived(id uint16) (isDup bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, isDup = i.in[id]
	i.in[id] = struct{}{}
	return isDup
}

// ClearInbound removes an inbound QoS 2 packet id, called once the PUBREL
// for it has been received and PUBCOMP sent.
func (i *Inflight) ClearInbound(id uint16) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.in, id)
}

// InboundLen returns the number of inbound QoS 2 packets awaiting PUBREL.
func (i *Inflight) InboundLen() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.in)
}
