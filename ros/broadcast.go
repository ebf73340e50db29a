package ros

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// broadcaster fans a stream of already-encoded frames out to any number
// of subscribers, each with its own bounded queue. A slow subscriber
// never blocks the publisher or its peers: once its queue is full, the
// oldest buffered frame is dropped to make room, and the subscriber is
// told it lagged so it can log the gap. Closing the broadcaster closes
// every subscriber channel, the signal a publisher's accept loop uses to
// unwind on shutdown.
type broadcaster struct {
	mu        sync.Mutex
	queueSize int
	subs      map[*broadcastSub]struct{}
	closed    bool
	logger    logrus.FieldLogger
}

type broadcastSub struct {
	ch     chan []byte
	lagged chan struct{}
}

func newBroadcaster(queueSize int, logger logrus.FieldLogger) *broadcaster {
	if queueSize <= 0 {
		queueSize = 1 << 16 // queue_size==0 means unbounded; Go channels allocate eagerly, so cap at 64k slots
	}
	return &broadcaster{queueSize: queueSize, subs: make(map[*broadcastSub]struct{}), logger: logger}
}

// subscribe registers a new receiver. The returned sub's ch closes when
// the broadcaster is closed.
func (b *broadcaster) subscribe() *broadcastSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &broadcastSub{
		ch:     make(chan []byte, b.queueSize),
		lagged: make(chan struct{}, 1),
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// unsubscribe removes sub so future publishes no longer reach it. Safe
// to call more than once.
func (b *broadcaster) unsubscribe(sub *broadcastSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// publish fans frame out to every current subscriber, dropping the
// oldest queued frame for any subscriber whose queue is already full.
func (b *broadcaster) publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- frame:
		default:
			// Queue full: drop the oldest frame to make room, then retry
			// once. If the consumer races us and drains it first, the
			// retry send still succeeds.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- frame:
			default:
			}
			select {
			case sub.lagged <- struct{}{}:
			default:
			}
			if b.logger != nil {
				b.logger.Warn("publisher broadcast queue full; dropped oldest frame for a lagging subscriber")
			}
		}
	}
}

// close shuts the broadcaster down: every subscriber's channel closes,
// and future subscribe calls return an already-closed channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*broadcastSub]struct{})
}

// count reports the number of currently connected subscribers.
func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
