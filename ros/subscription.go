package ros

import (
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// rawMessage is one decoded-header, still-encoded-body frame delivered
// from a connected publisher, tagged with the publisher's own callerid
// from the handshake.
type rawMessage struct {
	callerID string
	payload  []byte
}

// connectionTask owns a single TCP connection to one publisher for one
// topic: it performs the TCPROS handshake, then loops reading framed
// packets and forwarding their payloads into the subscriber's raw
// channel until the connection dies or the subscriber is torn down.
type connectionTask struct {
	addr       string
	topic      string
	callerID   string
	md5sum     string
	msgType    string
	definition string

	raw    chan<- rawMessage
	done   <-chan struct{}
	logger logrus.FieldLogger
}

// run dials addr, performs the handshake, and streams frames until the
// connection closes, an I/O error occurs, or done closes. It never
// retries: reconnection is the reconciliation layer's job.
func (t *connectionTask) run() {
	log := t.logger.WithField("topic", t.topic).
		WithField("publisher_addr", t.addr).
		WithField("conn", uuid.NewString())

	conn, err := net.Dial("tcp", t.addr)
	if err != nil {
		log.WithError(err).Warn("subscriber: failed to connect to publisher")
		return
	}
	defer conn.Close()

	go func() {
		<-t.done
		conn.Close()
	}()

	request := []header{
		{key: "message_definition", value: t.definition},
		{key: "callerid", value: t.callerID},
		{key: "topic", value: t.topic},
		{key: "md5sum", value: t.md5sum},
		{key: "type", value: t.msgType},
	}
	if err := writeConnectionHeader(request, conn); err != nil {
		log.WithError(err).Debug("subscriber: failed writing handshake")
		return
	}

	fields, err := readConnectionHeader(conn)
	if err != nil {
		log.WithError(err).Debug("subscriber: failed reading handshake reply")
		return
	}
	h := toMap(fields)
	if err := matchField(h, "md5sum", t.md5sum); err != nil {
		log.WithError(err).Warn("subscriber: handshake md5sum mismatch, dropping connection")
		return
	}
	if err := matchField(h, "type", t.msgType); err != nil {
		log.WithError(err).Warn("subscriber: handshake type mismatch, dropping connection")
		return
	}
	callerID := h["callerid"]

	for {
		frame, err := readPacket(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				log.Debug("subscriber: publisher closed connection")
			default:
				log.WithError(err).Debug("subscriber: read failed, dropping connection")
			}
			return
		}
		select {
		case t.raw <- rawMessage{callerID: callerID, payload: payload(frame)}:
		case <-t.done:
			return
		}
	}
}
