package ros

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
)

// subscriberCore is the untyped transport half of a topic subscription:
// a connection supervisor that dials each newly-resolved publisher
// address, and a decoder that drains raw frames into a bounded outward
// queue. Subscriber[T] wraps it with typed decode.
type subscriberCore struct {
	topic      string
	callerID   string
	md5sum     string
	msgType    string
	definition string

	addrs chan string
	raw   chan rawMessage
	out   chan rawMessage

	mu        sync.Mutex
	connected map[string]bool // publisher key passed to connectTo -> handed to connectTo (never cleared)

	shutdown *ShutdownToken
	logger   logrus.FieldLogger
}

func newSubscriberCore(topic, callerID, md5sum, msgType, definition string, queueSize int, logger logrus.FieldLogger) *subscriberCore {
	if queueSize <= 0 {
		queueSize = 1 << 16 // queue_size==0 means unbounded; Go channels allocate eagerly, so cap at 64k slots
	}
	s := &subscriberCore{
		topic:      topic,
		callerID:   callerID,
		md5sum:     md5sum,
		msgType:    msgType,
		definition: definition,
		addrs:      make(chan string, 16),
		raw:        make(chan rawMessage, 64),
		out:        make(chan rawMessage, queueSize),
		connected:  make(map[string]bool),
		shutdown:   NewShutdownToken(),
		logger:     logger,
	}
	go s.superviseConnections()
	go s.decode()
	return s
}

// superviseConnections reads resolved addresses off s.addrs and spawns a
// connectionTask for each one.
func (s *subscriberCore) superviseConnections() {
	for {
		select {
		case addr := <-s.addrs:
			task := &connectionTask{
				addr:       addr,
				topic:      s.topic,
				callerID:   s.callerID,
				md5sum:     s.md5sum,
				msgType:    s.msgType,
				definition: s.definition,
				raw:        s.raw,
				done:       s.shutdown.Done(),
				logger:     s.logger,
			}
			go task.run()
		case <-s.shutdown.Done():
			return
		}
	}
}

// decode drains raw frames into the bounded outward queue, dropping (and
// logging) the newest frame if the consumer isn't keeping up.
func (s *subscriberCore) decode() {
	for {
		select {
		case msg := <-s.raw:
			select {
			case s.out <- msg:
			default:
				s.logger.WithField("topic", s.topic).Warn("subscriber outward queue full; dropping message")
			}
		case <-s.shutdown.Done():
			return
		}
	}
}

// connectTo records publisherName as connected and queues every one of
// its resolved addresses for a connection attempt.
func (s *subscriberCore) connectTo(publisherName string, addresses []string) {
	s.mu.Lock()
	s.connected[publisherName] = true
	s.mu.Unlock()
	for _, addr := range addresses {
		select {
		case s.addrs <- addr:
		case <-s.shutdown.Done():
			return
		}
	}
}

// isConnectedTo reports whether publisherName has already been handed
// to connectTo, so the reconciliation path can skip it.
func (s *subscriberCore) isConnectedTo(publisherName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected[publisherName]
}

// numPublishers reports how many distinct publishers this subscriber
// has ever connected to.
func (s *subscriberCore) numPublishers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}

func (s *subscriberCore) close() {
	s.shutdown.Shutdown()
}

// Event pairs a decoded message with the callerid of the publisher that
// sent it.
type Event[T Message] struct {
	CallerID string
	Message  T
}

// Subscriber is the typed handle returned by Subscribe. newMsg
// constructs a fresh, zero-valued T for each incoming frame before
// decoding into it — required because Decode has a pointer receiver and
// T's zero value (for pointer-typed T) is nil.
type Subscriber[T Message] struct {
	core      *subscriberCore
	newMsg    func() T
	events    chan Event[T]
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber[T Message](core *subscriberCore, newMsg func() T) *Subscriber[T] {
	s := &Subscriber[T]{core: core, newMsg: newMsg, events: make(chan Event[T], 1), done: make(chan struct{})}
	go s.pump()
	return s
}

func (s *Subscriber[T]) pump() {
	defer close(s.events)
	for {
		select {
		case raw, ok := <-s.core.out:
			if !ok {
				return
			}
			msg := s.newMsg()
			if err := msg.Decode(bytes.NewReader(raw.payload)); err != nil {
				s.core.logger.WithError(err).WithField("topic", s.core.topic).Warn("subscriber: failed to decode message")
				continue
			}
			select {
			case s.events <- Event[T]{CallerID: raw.callerID, Message: msg}:
			case <-s.done:
				return
			}
		case <-s.core.shutdown.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Events returns the channel of decoded (caller id, message) events.
func (s *Subscriber[T]) Events() <-chan Event[T] { return s.events }

// NumPublishers reports how many publishers this subscriber has
// connected to.
func (s *Subscriber[T]) NumPublishers() int { return s.core.numPublishers() }

// Close tears down this subscriber's connections. Safe to call more
// than once.
func (s *Subscriber[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.core.close()
	})
}
