// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mqtt implements a native MQTT 3.1.1 broker aimed at
// constrained, single-node deployments (edge gateways, IoT hubs). TLS and
// WebSocket transports, broker-to-broker bridging, on-disk persistence,
// shared subscriptions and MQTT 5.0 features are explicitly out of scope.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"log/slog"

	"github.com/mateuszsury/beehiveMQTT/listeners"
	"github.com/mateuszsury/beehiveMQTT/system"
)

// Version is the current broker version.
const Version = "1.0.0"

var ErrListenerIDExists = errors.New("listener id already exists")

// Options configures a Broker. Zero values are replaced with sane
// defaults by ensureDefaults; Validate rejects out-of-range values.
type Options struct {
	BindAddr string `yaml:"bind_addr" json:"bind_addr"`
	Port     int    `yaml:"port" json:"port"`
	Backlog  int    `yaml:"backlog" json:"backlog"`

	MaxClients                int    `yaml:"max_clients" json:"max_clients"`
	MaxOfflineQueue           int    `yaml:"max_queued_messages" json:"max_queued_messages"`
	MaxSubscriptionsPerClient int    `yaml:"max_subscriptions_per_client" json:"max_subscriptions_per_client"`
	MaxRetainedMessages       int    `yaml:"max_retained_messages" json:"max_retained_messages"`
	MaxTopicLength            int    `yaml:"max_topic_length" json:"max_topic_length"`
	MaxTopicLevels            int    `yaml:"max_topic_levels" json:"max_topic_levels"`
	MaxPayloadSize            uint32 `yaml:"max_payload_size" json:"max_payload_size"`
	MaxPacketSize             uint32 `yaml:"max_packet_size" json:"max_packet_size"`
	MaxInflight               int    `yaml:"max_inflight" json:"max_inflight"`
	RecvBufferSize            int    `yaml:"recv_buffer_size" json:"recv_buffer_size"`

	ConnectTimeout      time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	KeepAliveFactor     float64       `yaml:"keep_alive_factor" json:"keep_alive_factor"`
	RetryInterval       time.Duration `yaml:"qos_retry_interval" json:"qos_retry_interval"`
	QosMaxRetries       int           `yaml:"qos_max_retries" json:"qos_max_retries"`
	NoKeepaliveTimeout  time.Duration `yaml:"no_keepalive_timeout" json:"no_keepalive_timeout"`
	SessionExpiryInterval time.Duration `yaml:"session_expiry" json:"session_expiry"`
	SysTopicInterval    time.Duration `yaml:"stats_interval" json:"stats_interval"`

	// These five default to true. They are *bool rather than bool so
	// ensureDefaults can tell "unset" (nil) apart from "explicitly
	// false" -- a plain bool's zero value can't represent that.
	AllowAnonymous          *bool `yaml:"allow_anonymous" json:"allow_anonymous"`
	AllowZeroLengthClientID *bool `yaml:"allow_zero_length_clientid" json:"allow_zero_length_clientid"`
	RetainEnabled           *bool `yaml:"retain_enabled" json:"retain_enabled"`
	Qos2Enabled             *bool `yaml:"qos2_enabled" json:"qos2_enabled"`
	SysTopicsEnabled        *bool `yaml:"sys_topics_enabled" json:"sys_topics_enabled"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (o *Options) ensureDefaults() {
	if o.BindAddr == "" {
		o.BindAddr = "0.0.0.0"
	}
	if o.Port == 0 {
		o.Port = 1883
	}
	if o.Backlog == 0 {
		o.Backlog = 4
	}
	if o.MaxClients == 0 {
		o.MaxClients = 10
	}
	if o.MaxOfflineQueue == 0 {
		o.MaxOfflineQueue = 50
	}
	if o.MaxSubscriptionsPerClient == 0 {
		o.MaxSubscriptionsPerClient = 20
	}
	if o.MaxRetainedMessages == 0 {
		o.MaxRetainedMessages = 100
	}
	if o.MaxTopicLength == 0 {
		o.MaxTopicLength = 256
	}
	if o.MaxTopicLevels == 0 {
		o.MaxTopicLevels = 8
	}
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = 4096
	}
	if o.MaxPacketSize == 0 {
		o.MaxPacketSize = 8192
	}
	if o.MaxInflight == 0 {
		o.MaxInflight = 10
	}
	if o.RecvBufferSize == 0 {
		o.RecvBufferSize = 1024
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.KeepAliveFactor == 0 {
		o.KeepAliveFactor = 1.5
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = 10 * time.Second
	}
	if o.QosMaxRetries == 0 {
		o.QosMaxRetries = 3
	}
	if o.NoKeepaliveTimeout == 0 {
		o.NoKeepaliveTimeout = 3600 * time.Second
	}
	if o.SessionExpiryInterval == 0 {
		o.SessionExpiryInterval = 3600 * time.Second
	}
	if o.SysTopicInterval == 0 {
		o.SysTopicInterval = 60 * time.Second
	}
	if o.LogLevel == "" {
		o.LogLevel = "INFO"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	boolDefaultTrue(&o.AllowAnonymous)
	boolDefaultTrue(&o.AllowZeroLengthClientID)
	boolDefaultTrue(&o.RetainEnabled)
	boolDefaultTrue(&o.Qos2Enabled)
	boolDefaultTrue(&o.SysTopicsEnabled)
}

// boolDefaultTrue sets *p to true if it is unset.
func boolDefaultTrue(p **bool) {
	if *p == nil {
		t := true
		*p = &t
	}
}

func (o *Options) allowAnonymous() bool          { return o.AllowAnonymous == nil || *o.AllowAnonymous }
func (o *Options) allowZeroLengthClientID() bool { return o.AllowZeroLengthClientID == nil || *o.AllowZeroLengthClientID }
func (o *Options) retainEnabled() bool           { return o.RetainEnabled == nil || *o.RetainEnabled }
func (o *Options) qos2Enabled() bool             { return o.Qos2Enabled == nil || *o.Qos2Enabled }
func (o *Options) sysTopicsEnabled() bool        { return o.SysTopicsEnabled == nil || *o.SysTopicsEnabled }

// Validate rejects out-of-range numeric configuration, per spec's "all
// numeric values validated on startup; out-of-range raises a
// configuration error".
func (o *Options) Validate() error {
	switch {
	case o.Port < 0 || o.Port > 65535:
		return fmt.Errorf("port %d out of range", o.Port)
	case o.Backlog < 0:
		return fmt.Errorf("backlog %d must be >= 0", o.Backlog)
	case o.MaxClients < 0:
		return fmt.Errorf("max_clients %d must be >= 0", o.MaxClients)
	case o.MaxSubscriptionsPerClient < 0:
		return fmt.Errorf("max_subscriptions_per_client %d must be >= 0", o.MaxSubscriptionsPerClient)
	case o.MaxRetainedMessages < 0:
		return fmt.Errorf("max_retained_messages %d must be >= 0", o.MaxRetainedMessages)
	case o.MaxTopicLength <= 0:
		return fmt.Errorf("max_topic_length %d must be > 0", o.MaxTopicLength)
	case o.MaxTopicLevels <= 0:
		return fmt.Errorf("max_topic_levels %d must be > 0", o.MaxTopicLevels)
	case o.MaxPayloadSize == 0:
		return fmt.Errorf("max_payload_size must be > 0")
	case o.MaxPacketSize == 0:
		return fmt.Errorf("max_packet_size must be > 0")
	case o.MaxInflight <= 0:
		return fmt.Errorf("max_inflight %d must be > 0", o.MaxInflight)
	case o.RecvBufferSize <= 0:
		return fmt.Errorf("recv_buffer_size %d must be > 0", o.RecvBufferSize)
	case o.ConnectTimeout <= 0:
		return fmt.Errorf("connect_timeout must be > 0")
	case o.KeepAliveFactor <= 0:
		return fmt.Errorf("keep_alive_factor must be > 0")
	case o.RetryInterval <= 0:
		return fmt.Errorf("qos_retry_interval must be > 0")
	case o.QosMaxRetries < 0:
		return fmt.Errorf("qos_max_retries %d must be >= 0", o.QosMaxRetries)
	case o.SessionExpiryInterval <= 0:
		return fmt.Errorf("session_expiry must be > 0")
	case o.SysTopicInterval <= 0:
		return fmt.Errorf("stats_interval must be > 0")
	}
	return nil
}

// Broker is a single-node MQTT 3.1.1 broker. Create it with New.
type Broker struct {
	options   *Options
	Listeners *listeners.Listeners

	topics   *TopicTree
	sessions *SessionStore
	router   *Router
	hooks    *Hooks
	auth     Auth

	info *system.Info
	log  *slog.Logger

	admission *rate.Limiter

	done chan struct{}
}

// New returns a Broker ready to have listeners attached and Serve called.
// A nil Auth defaults to allowing every connection, publish and
// subscription.
func New(opts *Options, auth Auth) *Broker {
	if opts == nil {
		opts = new(Options)
	}
	opts.ensureDefaults()

	if auth == nil {
		auth = allowAllAuth{}
	}

	b := &Broker{
		options:   opts,
		Listeners: listeners.New(),
		topics:    NewTopicTree(opts.MaxRetainedMessages),
		sessions:  NewSessionStore(),
		hooks:     NewHooks(opts.Logger),
		auth:      auth,
		info:      &system.Info{Version: Version},
		log:       opts.Logger,
		admission: rate.NewLimiter(rate.Limit(1000), 100),
		done:      make(chan struct{}),
	}
	b.topics.MaxSubscriptionsPerClient = opts.MaxSubscriptionsPerClient
	b.router = NewRouter(b.topics, b.sessions, auth, opts.retainEnabled(), opts.Logger)
	b.router.OnPublishHook(b.hooks.OnPublish)

	return b
}

// allowAllAuth is the broker's zero-value auth fallback, kept private so
// the public default lives with Broker.New rather than requiring callers
// to import the auth package just to get the obvious behaviour.
type allowAllAuth struct{}

func (allowAllAuth) Authenticate(string, string, []byte) bool { return true }
func (allowAllAuth) AuthorizePublish(string, string) bool     { return true }
func (allowAllAuth) AuthorizeSubscribe(string, string) int    { return 2 }

// AddHook registers a lifecycle hook.
func (b *Broker) AddHook(h Hook) { b.hooks.Add(h) }

// AddInterceptor registers a publish interceptor on the router.
func (b *Broker) AddInterceptor(i Interceptor) { b.router.AddInterceptor(i) }

// Info returns a point-in-time snapshot of the broker's $SYS statistics.
func (b *Broker) Info() *system.Info { return b.info.Clone() }

// AddListener registers a network listener. It does not start serving
// until Serve is called.
func (b *Broker) AddListener(l listeners.Listener) error {
	if _, ok := b.Listeners.Get(l.ID()); ok {
		return ErrListenerIDExists
	}
	b.Listeners.Add(l)
	b.log.Info("attached listener", "id", l.ID())
	return nil
}

// Serve starts accepting connections on every attached listener and runs
// the broker's housekeeping loop (QoS retry, session expiry, $SYS
// publishing, memory sampling) until the context is cancelled.
func (b *Broker) Serve(ctx context.Context) error {
	b.info.Started = time.Now().Unix()
	b.log.Info("broker starting", "version", Version)

	b.Listeners.ServeAll(b.establish)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.retryLoop(ctx) })
	g.Go(func() error { return b.keepAliveLoop(ctx) })
	g.Go(func() error { return b.expiryLoop(ctx) })
	g.Go(func() error { return b.sysTopicLoop(ctx) })
	g.Go(func() error { return b.memoryLoop(ctx) })

	<-ctx.Done()
	close(b.done)
	b.Listeners.CloseAll(b.closeAllConnections)

	return g.Wait()
}

// closeAllConnections is the listeners.CloseFunc passed to CloseAll: it
// closes every connected client's socket before a listener finishes
// closing, so Serve doesn't return while clients are still attached.
func (b *Broker) closeAllConnections(string) {
	for _, sess := range b.sessions.All() {
		if conn := sess.Connection(); conn != nil {
			conn.parser.Conn.Close()
		}
	}
}

// establish is the listener EstablishFunc: it admits a connection subject
// to the admission limiter and hands it to a new per-connection
// goroutine.
func (b *Broker) establish(c net.Conn) error {
	if !b.admission.Allow() {
		c.Close()
		return nil
	}

	listener := "tcp"
	conn := newConnection(c, b, listener)
	go conn.Serve()
	return nil
}

// retryLoop resends outbound QoS 1/2 deliveries that have gone
// unacknowledged for longer than options.RetryInterval, with DUP set.
func (b *Broker) retryLoop(ctx context.Context) error {
	t := time.NewTicker(b.options.RetryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			for _, sess := range b.sessions.All() {
				conn := sess.Connection()
				if conn == nil {
					continue
				}
				conn.retryDue(sess.inflight.DueForRetry(b.options.RetryInterval, time.Now()))
			}
		}
	}
}

// keepAliveLoop scans every connected session and force-closes any whose
// client has gone silent for longer than its effective keep-alive timeout,
// mirroring the per-read deadline packets.Parser.RefreshDeadline sets but
// catching clients that stop reading as well as stop writing.
func (b *Broker) keepAliveLoop(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			now := time.Now()
			for _, sess := range b.sessions.All() {
				conn := sess.Connection()
				if conn == nil {
					continue
				}

				timeout := b.options.NoKeepaliveTimeout
				if sess.keepalive > 0 {
					factor := b.options.KeepAliveFactor
					if factor <= 0 {
						factor = 1.5
					}
					timeout = time.Duration(float64(sess.keepalive) * factor * float64(time.Second))
				}
				if timeout <= 0 {
					continue
				}

				if now.Sub(sess.LastActive()) > timeout {
					b.log.Debug("keep-alive expired", "client", sess.ID())
					conn.parser.Conn.Close()
				}
			}
		}
	}
}

// expiryLoop deletes persistent sessions that have been offline for
// longer than options.SessionExpiryInterval, releasing their
// subscriptions.
func (b *Broker) expiryLoop(ctx context.Context) error {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			for _, id := range b.sessions.ExpireOffline(b.options.SessionExpiryInterval) {
				b.topics.UnsubscribeAll(id)
				b.log.Debug("session expired", "client", id)
			}
		}
	}
}

// sysTopicLoop publishes broker statistics under $SYS/broker/* at
// options.SysTopicInterval.
func (b *Broker) sysTopicLoop(ctx context.Context) error {
	if !b.options.sysTopicsEnabled() {
		return nil
	}

	t := time.NewTicker(b.options.SysTopicInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			b.publishSysTopics()
		}
	}
}

func (b *Broker) publishSysTopics() {
	atomic.StoreInt64(&b.info.Uptime, time.Now().Unix()-b.info.Started)
	atomic.StoreInt64(&b.info.ClientsTotal, int64(b.sessions.Len()))
	atomic.StoreInt64(&b.info.Retained, int64(b.topics.RetainedCount()))

	info := b.info.Clone()
	publishInt := func(topic string, v int64) {
		b.router.Route(SysPrefix, topic, []byte(strconv.FormatInt(v, 10)), 0, true)
	}

	publishInt(SysPrefix+"/broker/uptime", info.Uptime)
	publishInt(SysPrefix+"/broker/clients/connected", info.ClientsConnected)
	publishInt(SysPrefix+"/broker/clients/total", info.ClientsTotal)
	publishInt(SysPrefix+"/broker/messages/received", info.MessagesReceived)
	publishInt(SysPrefix+"/broker/messages/sent", info.MessagesSent)
	publishInt(SysPrefix+"/broker/retained/count", info.Retained)
	publishInt(SysPrefix+"/broker/heap/used", info.HeapUsed)
	publishInt(SysPrefix+"/broker/heap/free", info.HeapFree)
}

// memoryLoop samples process memory via runtime.MemStats, the only
// process-memory reader available without reaching for an OS-specific
// ecosystem package that no example in the pack imports.
func (b *Broker) memoryLoop(ctx context.Context) error {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			atomic.StoreInt64(&b.info.HeapUsed, int64(m.HeapInuse))
			atomic.StoreInt64(&b.info.HeapFree, int64(m.HeapIdle))
		}
	}
}
