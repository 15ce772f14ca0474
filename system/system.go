// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

// Package system holds the broker's runtime statistics, published
// periodically under the $SYS topic tree (see mqtt.wiki's SYS-Topics
// convention) by the broker's housekeeping loop.
package system

import (
	"sync/atomic"
)

// Info contains atomic counters and values for server statistics exposed
// under $SYS/broker/*.
type Info struct {
	Version          string `json:"version"`
	Started          int64  `json:"started"`
	Uptime           int64  `json:"uptime"`
	BytesReceived    int64  `json:"bytes_received"`
	BytesSent        int64  `json:"bytes_sent"`
	ClientsConnected int64  `json:"clients_connected"`
	ClientsMaximum   int64  `json:"clients_maximum"`
	ClientsTotal     int64  `json:"clients_total"`
	MessagesReceived int64  `json:"messages_received"`
	MessagesSent     int64  `json:"messages_sent"`
	PublishReceived  int64  `json:"publish_received"`
	PublishSent      int64  `json:"publish_sent"`
	Retained         int64  `json:"retained"`
	Inflight         int64  `json:"inflight"`
	Subscriptions    int64  `json:"subscriptions"`
	HeapUsed         int64  `json:"heap_used"`
	HeapFree         int64  `json:"heap_free"`
}

// Clone returns a point-in-time copy of Info, read via atomic loads so a
// concurrent $SYS publish loop never torn-reads a field.
func (i *Info) Clone() *Info {
	return &Info{
		Version:          i.Version,
		Started:          atomic.LoadInt64(&i.Started),
		Uptime:           atomic.LoadInt64(&i.Uptime),
		BytesReceived:    atomic.LoadInt64(&i.BytesReceived),
		BytesSent:        atomic.LoadInt64(&i.BytesSent),
		ClientsConnected: atomic.LoadInt64(&i.ClientsConnected),
		ClientsMaximum:   atomic.LoadInt64(&i.ClientsMaximum),
		ClientsTotal:     atomic.LoadInt64(&i.ClientsTotal),
		MessagesReceived: atomic.LoadInt64(&i.MessagesReceived),
		MessagesSent:     atomic.LoadInt64(&i.MessagesSent),
		PublishReceived:  atomic.LoadInt64(&i.PublishReceived),
		PublishSent:      atomic.LoadInt64(&i.PublishSent),
		Retained:         atomic.LoadInt64(&i.Retained),
		Inflight:         atomic.LoadInt64(&i.Inflight),
		Subscriptions:    atomic.LoadInt64(&i.Subscriptions),
		HeapUsed:         atomic.LoadInt64(&i.HeapUsed),
		HeapFree:         atomic.LoadInt64(&i.HeapFree),
	}
}
