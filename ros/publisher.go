package ros

import (
	"bytes"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// publisherCore is the untyped transport half of a topic publisher: a
// TCP listener bound to hostname:0, an accept loop that performs the
// TCPROS handshake with each connecting subscriber, and a broadcaster
// fanning encoded frames out to every connected peer. Publisher[T] wraps
// it with the typed Send API.
type publisherCore struct {
	topic      string
	callerID   string
	md5sum     string
	msgType    string
	definition string

	listener net.Listener
	port     int
	bcast    *broadcaster
	shutdown *ShutdownToken
	seq      uint32
	clock    *Clock
	logger   logrus.FieldLogger
	metrics  *Metrics
}

func newPublisherCore(hostname, topic, callerID, md5sum, msgType, definition string, queueSize int, clock *Clock, logger logrus.FieldLogger, metrics *Metrics) (*publisherCore, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(hostname, "0"))
	if err != nil {
		return nil, err
	}
	p := &publisherCore{
		topic:      topic,
		callerID:   callerID,
		md5sum:     md5sum,
		msgType:    msgType,
		definition: definition,
		listener:   listener,
		port:       listener.Addr().(*net.TCPAddr).Port,
		bcast:      newBroadcaster(queueSize, logger),
		shutdown:   NewShutdownToken(),
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
	go p.acceptLoop()
	return p, nil
}

func (p *publisherCore) acceptLoop() {
	go func() {
		<-p.shutdown.Done()
		p.listener.Close()
	}()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if p.shutdown.IsShutdown() {
				return
			}
			p.logger.WithError(err).Warn("publisher accept failed")
			return
		}
		go p.serveConn(conn)
	}
}

func (p *publisherCore) serveConn(conn net.Conn) {
	defer conn.Close()

	// Connection id ties the accept-loop and per-peer log lines together
	// without leaking remote addresses into every line.
	log := p.logger.WithField("topic", p.topic).WithField("conn", uuid.NewString())

	fields, err := readConnectionHeader(conn)
	if err != nil {
		log.WithError(err).Debug("publisher: failed reading subscriber handshake")
		return
	}
	h := toMap(fields)
	if err := matchField(h, "md5sum", p.md5sum); err != nil {
		log.WithError(err).Warn("publisher: handshake md5sum mismatch")
		return
	}
	if err := matchField(h, "type", p.msgType); err != nil {
		log.WithError(err).Warn("publisher: handshake type mismatch")
		return
	}
	if err := matchField(h, "topic", p.topic); err != nil {
		log.WithError(err).Warn("publisher: handshake topic mismatch")
		return
	}
	peerCallerID := h["callerid"]

	reply := []header{
		{key: "md5sum", value: p.md5sum},
		{key: "type", value: p.msgType},
		{key: "callerid", value: p.callerID},
		{key: "message_definition", value: p.definition},
	}
	if err := writeConnectionHeader(reply, conn); err != nil {
		log.WithError(err).Debug("publisher: failed writing handshake reply")
		return
	}

	sub := p.bcast.subscribe()
	defer p.bcast.unsubscribe(sub)

	if p.metrics != nil {
		p.metrics.subscriberConnected(p.topic)
		defer p.metrics.subscriberDisconnected(p.topic)
	}

	log = log.WithField("subscriber", peerCallerID)
	for {
		select {
		case <-sub.lagged:
			log.Warn("publisher broadcast lagged; dropped oldest queued message for this subscriber")
		default:
		}
		frame, ok := <-sub.ch
		if !ok {
			return
		}
		if _, err := conn.Write(frame); err != nil {
			log.WithError(err).Debug("publisher: write to subscriber failed, dropping peer")
			return
		}
	}
}

// Port returns the TCP port this publisher's listener is bound to.
func (p *publisherCore) Port() int { return p.port }

// SubscriberCount reports how many peers are currently connected.
func (p *publisherCore) SubscriberCount() int { return p.bcast.count() }

// sendEncoded prefixes an encoded message payload with its length and
// publishes the resulting frame to every connected subscriber.
func (p *publisherCore) sendEncoded(payload []byte) {
	p.bcast.publish(encodeFrame(payload))
	if p.metrics != nil {
		p.metrics.messagePublished(p.topic, len(payload))
	}
}

// close signals the accept loop and every connected subscriber to stop.
func (p *publisherCore) close() {
	p.shutdown.Shutdown()
	p.bcast.close()
}

// nextSeq atomically increments and returns the publisher's sequence
// counter, used to stamp outgoing message headers.
func (p *publisherCore) nextSeq() uint32 {
	return atomic.AddUint32(&p.seq, 1)
}

// Publisher is the typed handle returned by Publish. It owns the
// transport (publisherCore) but is safe to copy: every copy shares the
// same underlying core.
type Publisher[T Message] struct {
	core *publisherCore
}

// Send stamps msg's header (if it has one) with the current clock time
// and the next sequence number, encodes it, and fans it out to every
// connected subscriber. Per-subscriber delivery failures never fail
// Send; they only drop that one peer.
func (pub *Publisher[T]) Send(msg T) error {
	if hm, ok := Message(msg).(HeaderMutator); ok {
		stamp, err := pub.core.clock.Now()
		if err != nil {
			return &PublisherError{Op: "send", Err: err}
		}
		hdr := hm.HeaderMut()
		hdr.Stamp = stamp
		hdr.Seq = pub.core.nextSeq()
	}

	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		return &PublisherError{Op: "encode", Err: err}
	}
	pub.core.sendEncoded(buf.Bytes())
	return nil
}

// Port returns the TCP port subscribers should connect to for this topic.
func (pub *Publisher[T]) Port() int { return pub.core.Port() }

// SubscriberCount reports how many peers are currently connected.
func (pub *Publisher[T]) SubscriberCount() int { return pub.core.SubscriberCount() }
