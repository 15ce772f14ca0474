// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/mateuszsury/beehiveMQTT/packets"
)

var (
	// ErrProtocolViolationFirstConnect is returned when a client's first
	// packet on a connection is not CONNECT ([MQTT-3.1.0-1]).
	ErrProtocolViolationFirstConnect = errors.New("first packet must be CONNECT")
	// ErrProtocolViolationSecondConnect is returned when a client sends a
	// second CONNECT on an already-established connection ([MQTT-3.1.0-2]).
	ErrProtocolViolationSecondConnect = errors.New("CONNECT received on established connection")
)

// Connection binds one network connection to (at most) one Session and
// drives its MQTT packet lifecycle: the CONNECT handshake, keep-alive
// enforcement, inbound packet dispatch, and will publication on
// disconnect.
type Connection struct {
	broker   *Broker
	parser   *packets.Parser
	listener string
	remote   string

	session *Session
	log     *slog.Logger

	takenOver chan struct{}
}

// newConnection wraps an accepted net.Conn, ready to read its CONNECT.
func newConnection(c net.Conn, broker *Broker, listener string) *Connection {
	parser := packets.NewParser(c)
	parser.MaxPacketSize = broker.options.MaxPacketSize
	parser.KeepAliveFactor = broker.options.KeepAliveFactor
	parser.NoKeepaliveTimeout = broker.options.NoKeepaliveTimeout

	return &Connection{
		broker:    broker,
		parser:    parser,
		listener:  listener,
		remote:    c.RemoteAddr().String(),
		log:       broker.log,
		takenOver: make(chan struct{}),
	}
}

// Serve runs the connection's full lifecycle: reads and validates the
// CONNECT, establishes or takes over the session, then loops reading
// packets until disconnect or error. The will (if any) is published
// unless the client sent a clean DISCONNECT.
func (c *Connection) Serve() {
	defer c.parser.Conn.Close()

	graceful, err := c.handshake()
	if err != nil {
		c.log.Debug("connect handshake failed", "error", err, "remote", c.remote)
		return
	}
	if c.session == nil {
		return // CONNACK already sent with a failure code
	}

	defer func() {
		c.broker.hooks.OnDisconnect(c.session.ID(), err)
	}()

	err = c.readLoop()

	select {
	case <-c.takenOver:
		return // the replacing connection owns session cleanup
	default:
	}

	if err != nil || !graceful {
		c.publishWill()
	}
	c.session.SetWill(nil)

	c.session.Detach()
	if c.session.clean {
		c.broker.topics.UnsubscribeAll(c.session.ID())
		c.broker.sessions.Delete(c.session.ID())
	}
}

// handshake reads the first packet (which must be CONNECT), validates it,
// performs auth and session takeover, and sends the CONNACK. graceful
// reports whether decode succeeded enough to have sent a CONNACK at all.
func (c *Connection) handshake() (graceful bool, err error) {
	fh := new(packets.FixedHeader)
	if err := c.parser.ReadFixedHeader(fh); err != nil {
		return false, fmt.Errorf("read fixed header: %w", err)
	}
	if fh.Type != packets.Connect {
		return false, ErrProtocolViolationFirstConnect
	}

	pk, err := c.parser.Read()
	if err != nil {
		// Read runs Validate itself; a CONNECT it refused with a CONNACK
		// return code still gets that CONNACK before the close.
		if connect, ok := pk.(*packets.ConnectPacket); ok {
			if code, verr := connect.Validate(); verr != nil && errors.Is(err, verr) && code != packets.Failed {
				_ = c.writeConnack(code, false)
				return true, verr
			}
		}
		return false, fmt.Errorf("read connect: %w", err)
	}
	connect, ok := pk.(*packets.ConnectPacket)
	if !ok {
		return false, ErrProtocolViolationFirstConnect
	}

	code, verr := connect.Validate()
	if verr != nil {
		_ = c.writeConnack(code, false)
		return true, verr
	}

	clientID := connect.ClientIdentifier
	if clientID == "" {
		if !c.broker.options.allowZeroLengthClientID() {
			_ = c.writeConnack(packets.CodeIdentifierRejected.Code, false)
			return true, errors.New("zero-length client id not allowed")
		}
		clientID = newClientID()
	}

	if !connect.UsernameFlag && !c.broker.options.allowAnonymous() {
		_ = c.writeConnack(packets.CodeNotAuthorized.Code, false)
		return true, errors.New("anonymous connect not allowed")
	}

	if c.broker.auth != nil && !c.broker.auth.Authenticate(clientID, connect.Username, []byte(connect.Password)) {
		_ = c.writeConnack(packets.CodeBadUsernameOrPassword.Code, false)
		return true, errors.New("authentication rejected")
	}

	if c.broker.options.MaxClients > 0 && c.broker.sessions.Len() >= c.broker.options.MaxClients {
		_ = c.writeConnack(packets.CodeServerUnavailable.Code, false)
		return true, errors.New("max clients reached")
	}

	if !c.broker.hooks.OnConnect(clientID) {
		_ = c.writeConnack(packets.CodeNotAuthorized.Code, false)
		return true, errors.New("connection rejected by hook")
	}

	sess, present := c.takeover(clientID, connect.CleanSession)
	c.session = sess
	sess.keepalive = connect.Keepalive
	if connect.WillFlag {
		sess.SetWill(&Will{
			Topic:   connect.WillTopic,
			Payload: connect.WillMessage,
			Qos:     connect.WillQos,
			Retain:  connect.WillRetain,
		})
	}

	sess.Attach(c)
	c.parser.RefreshDeadline(sess.keepalive)

	if err := c.writeConnack(packets.Accepted, present); err != nil {
		return true, err
	}

	c.broker.router.FlushOffline(sess)
	c.resendInflight()

	return true, nil
}

// takeover returns the existing or a freshly created session for
// clientID. If a connection is already attached it is evicted first
// ([MQTT-3.1.4-3]); a clean session on either side discards prior state.
func (c *Connection) takeover(clientID string, clean bool) (sess *Session, sessionPresent bool) {
	sess, existed := c.broker.sessions.CreateOrTakeover(clientID, clean, c.broker.options.MaxOfflineQueue)
	if !existed {
		return sess, false
	}

	if prior := sess.Connection(); prior != nil {
		close(prior.takenOver)
		prior.parser.Conn.Close()
	}

	if clean || sess.clean {
		c.broker.topics.UnsubscribeAll(clientID)
		sess.inflight = NewInflight()
		sess.DrainOffline()
		sess.clean = clean
		return sess, false
	}

	sess.clean = clean
	return sess, true
}

// newClientID generates a unique client identifier for clients that
// connect without one ([MQTT-3.1.3-6]).
func newClientID() string {
	return xid.New().String()
}

func (c *Connection) writeConnack(code byte, present bool) error {
	_, err := c.parser.WritePacket(&packets.ConnackPacket{
		FixedHeader:    packets.FixedHeader{Type: packets.Connack},
		SessionPresent: present,
		ReturnCode:     code,
	})
	return err
}

// readLoop reads and dispatches packets until DISCONNECT, a read error, or
// keep-alive expiry (enforced by the parser's read deadline).
func (c *Connection) readLoop() error {
	for {
		fh := new(packets.FixedHeader)
		if err := c.parser.ReadFixedHeader(fh); err != nil {
			return err
		}

		if fh.Type == packets.Disconnect {
			return nil
		}

		pk, err := c.parser.Read()
		if errors.Is(err, packets.ErrOversizedPacket) {
			continue // drop oversized packet, keep the connection alive
		}
		if err != nil {
			return err
		}

		c.session.Touch()
		c.parser.RefreshDeadline(c.session.keepalive)

		if err := c.dispatch(pk); err != nil {
			return err
		}
	}
}

func (c *Connection) dispatch(pk packets.Packet) error {
	switch p := pk.(type) {
	case *packets.ConnectPacket:
		return ErrProtocolViolationSecondConnect
	case *packets.PingreqPacket:
		_, err := c.parser.WritePacket(&packets.PingrespPacket{FixedHeader: packets.FixedHeader{Type: packets.Pingresp}})
		return err
	case *packets.PublishPacket:
		return c.handlePublish(p)
	case *packets.PubackPacket:
		c.session.inflight.DeleteOutbound(p.PacketID)
		return nil
	case *packets.PubrecPacket:
		return c.handlePubrec(p)
	case *packets.PubrelPacket:
		return c.handlePubrel(p)
	case *packets.PubcompPacket:
		c.session.inflight.DeleteOutbound(p.PacketID)
		return nil
	case *packets.SubscribePacket:
		return c.handleSubscribe(p)
	case *packets.UnsubscribePacket:
		return c.handleUnsubscribe(p)
	default:
		return fmt.Errorf("unexpected packet type %d", pk)
	}
}

func (c *Connection) handlePublish(p *packets.PublishPacket) error {
	if isSysTopic(p.TopicName) {
		return nil // [MQTT-3.3.2-2] non-normative: clients may not publish into $SYS
	}

	if c.broker.auth != nil && !c.broker.auth.AuthorizePublish(c.session.ID(), p.TopicName) {
		return nil
	}

	qos := p.Qos
	if qos == 2 && !c.broker.options.qos2Enabled() {
		qos = 1 // QoS 2 disabled: treat the exchange as QoS 1 end to end.
	}

	switch qos {
	case 0:
		c.broker.router.Route(c.session.ID(), p.TopicName, p.Payload, 0, p.Retain)
		return nil
	case 1:
		c.broker.router.Route(c.session.ID(), p.TopicName, p.Payload, 1, p.Retain)
		_, err := c.parser.WritePacket(&packets.PubackPacket{FixedHeader: packets.FixedHeader{Type: packets.Puback}, PacketID: p.PacketID})
		return err
	default: // qos == 2 and QoS 2 is enabled
		if c.session.inflight.MarkInboundReceived(p.PacketID) {
			_, err := c.parser.WritePacket(&packets.PubrecPacket{FixedHeader: packets.FixedHeader{Type: packets.Pubrec}, PacketID: p.PacketID})
			return err // duplicate: re-ack, don't re-route
		}
		c.broker.router.Route(c.session.ID(), p.TopicName, p.Payload, 2, p.Retain)
		_, err := c.parser.WritePacket(&packets.PubrecPacket{FixedHeader: packets.FixedHeader{Type: packets.Pubrec}, PacketID: p.PacketID})
		return err
	}
}

func (c *Connection) handlePubrec(p *packets.PubrecPacket) error {
	if d, ok := c.session.inflight.GetOutbound(p.PacketID); ok {
		d.Stage = stageAwaitPubcomp
		d.LastSent = time.Now()
		d.Attempts = 0
		c.session.inflight.SetOutbound(d)
	}
	_, err := c.parser.WritePacket(&packets.PubrelPacket{FixedHeader: packets.FixedHeader{Type: packets.Pubrel, Qos: 1}, PacketID: p.PacketID})
	return err
}

func (c *Connection) handlePubrel(p *packets.PubrelPacket) error {
	c.session.inflight.ClearInbound(p.PacketID)
	_, err := c.parser.WritePacket(&packets.PubcompPacket{FixedHeader: packets.FixedHeader{Type: packets.Pubcomp}, PacketID: p.PacketID})
	return err
}

func (c *Connection) handleSubscribe(p *packets.SubscribePacket) error {
	codes := make([]byte, len(p.Topics))
	for i, filter := range p.Topics {
		if !packets.ValidTopicFilter(filter) {
			codes[i] = packets.SubackFailure
			continue
		}

		requestedQos := p.Qoss[i]
		if requestedQos > 1 && !c.broker.options.qos2Enabled() {
			requestedQos = 1
		}

		if c.broker.auth != nil {
			level := c.broker.auth.AuthorizeSubscribe(c.session.ID(), filter)
			if level < 0 {
				codes[i] = packets.SubackFailure
				continue
			}
			if byte(level) < requestedQos {
				requestedQos = byte(level)
			}
		}

		requestedQos = c.broker.hooks.OnSubscribe(c.session.ID(), filter, requestedQos)
		if requestedQos == packets.SubackFailure {
			codes[i] = packets.SubackFailure
			continue
		}

		granted, ok := c.broker.topics.Subscribe(c.session.ID(), filter, requestedQos)
		if !ok {
			codes[i] = packets.SubackFailure
			continue
		}

		codes[i] = granted
		c.broker.router.DeliverRetained(c.session.ID(), filter, granted)
	}

	_, err := c.parser.WritePacket(&packets.SubackPacket{
		FixedHeader: packets.FixedHeader{Type: packets.Suback},
		PacketID:    p.PacketID,
		ReturnCodes: codes,
	})
	return err
}

func (c *Connection) handleUnsubscribe(p *packets.UnsubscribePacket) error {
	for _, filter := range p.Topics {
		if c.broker.topics.Unsubscribe(filter, c.session.ID()) {
			c.broker.hooks.OnUnsubscribe(c.session.ID(), filter)
		}
	}

	_, err := c.parser.WritePacket(&packets.UnsubackPacket{
		FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
		PacketID:    p.PacketID,
	})
	return err
}

// sendPublish delivers a routed message to this connection's client,
// tracking it in the session's outbound inflight table for qos > 0.
func (c *Connection) sendPublish(sess *Session, topic string, payload []byte, qos byte, retain bool) error {
	pub := &packets.PublishPacket{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: qos, Retain: retain},
		TopicName:   topic,
		Payload:     payload,
	}

	if qos > 0 {
		id, ok := sess.inflight.NextPacketID()
		if !ok {
			return errors.New("packet id space exhausted")
		}
		pub.PacketID = id

		stage := stageAwaitPuback
		if qos == 2 {
			stage = stageAwaitPubrec
		}
		sess.inflight.SetOutbound(&OutboundDelivery{
			PacketID: id,
			Publish:  pub,
			Qos:      qos,
			Stage:    stage,
			LastSent: time.Now(),
		})
	}

	_, err := c.parser.WritePacket(pub)
	return err
}

// publishWill routes the session's last will, if any, as an ordinary
// PUBLISH. Called once per connection loss, never on a graceful DISCONNECT
// ([MQTT-3.1.2-10]).
func (c *Connection) publishWill() {
	w := c.session.Will()
	if w == nil {
		return
	}
	if !c.broker.hooks.OnWillPublish(c.session.ID(), w.Topic, w.Payload, w.Qos, w.Retain) {
		return
	}
	c.broker.router.Route(c.session.ID(), w.Topic, w.Payload, w.Qos, w.Retain)
}

// resendInflight retransmits every outbound delivery carried over from a
// takeover, with DUP set, after a successful CONNACK.
func (c *Connection) resendInflight() {
	c.retryDue(c.session.inflight.DueForRetry(0, time.Now()))
}

// retryDue retransmits each due delivery, or drops it once it has already
// been sent qos_max_retries+1 times, per the "drop after exactly
// qos_max_retries + 1 send attempts" invariant: Attempts counts retries
// only (the first send happened in sendPublish), so reaching
// QosMaxRetries here means QosMaxRetries+1 total sends have gone out.
func (c *Connection) retryDue(due []*OutboundDelivery) {
	for _, d := range due {
		if d.Attempts >= c.broker.options.QosMaxRetries {
			c.session.inflight.DeleteOutbound(d.PacketID)
			c.log.Warn("dropping undelivered message after max retries",
				"client", c.session.ID(), "topic", d.Publish.TopicName, "attempts", d.Attempts)
			continue
		}
		c.retransmit(d)
	}
}

// retransmit resends a single outbound QoS 1/2 delivery: the PUBLISH with
// DUP set while a PUBACK or PUBREC is awaited, or the PUBREL while a
// PUBCOMP is awaited. Used both by resendInflight after a takeover and by
// the broker's retry loop for deliveries that have gone unacknowledged too
// long.
func (c *Connection) retransmit(d *OutboundDelivery) {
	if d.Stage == stageAwaitPubcomp {
		_, _ = c.parser.WritePacket(&packets.PubrelPacket{
			FixedHeader: packets.FixedHeader{Type: packets.Pubrel, Qos: 1},
			PacketID:    d.PacketID,
		})
	} else {
		pub := *d.Publish
		pub.Dup = d.Qos == 1 || d.Stage == stageAwaitPubrec
		var buf bytes.Buffer
		if err := pub.Encode(&buf); err == nil {
			c.parser.Conn.Write(buf.Bytes())
		}
	}
	d.LastSent = time.Now()
	d.Attempts++
}
