package ros

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brambleworks/rosgo/xmlrpc"
)

// publicationsTracker maps topic name to the publisherCore serving it,
// behind a single mutex. add is idempotent per topic: a second Publish
// call for the same topic returns a handle onto the existing publisher's
// broadcaster instead of opening a second listener.
type publicationsTracker struct {
	mu      sync.Mutex
	byTopic map[string]*publisherCore
}

func newPublicationsTracker() *publicationsTracker {
	return &publicationsTracker{byTopic: make(map[string]*publisherCore)}
}

// add returns the publisherCore for topic, constructing one with newCore
// if none exists yet. The bool result reports whether a new core was
// constructed (false means an existing publisher was reused).
func (t *publicationsTracker) add(topic string, newCore func() (*publisherCore, error)) (*publisherCore, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if core, ok := t.byTopic[topic]; ok {
		return core, false, nil
	}
	core, err := newCore()
	if err != nil {
		return nil, false, err
	}
	t.byTopic[topic] = core
	return core, true, nil
}

// getPort returns the listening port for topic, if published.
func (t *publicationsTracker) getPort(topic string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	core, ok := t.byTopic[topic]
	if !ok {
		return 0, false
	}
	return core.Port(), true
}

// remove closes and drops the publisher for topic, reporting whether one
// was present.
func (t *publicationsTracker) remove(topic string) bool {
	t.mu.Lock()
	core, ok := t.byTopic[topic]
	if ok {
		delete(t.byTopic, topic)
	}
	t.mu.Unlock()
	if ok {
		core.close()
	}
	return ok
}

// removeAll closes every publisher and returns the topics that were
// removed, used by the slave's shutdown drain.
func (t *publicationsTracker) removeAll() []string {
	t.mu.Lock()
	cores := t.byTopic
	t.byTopic = make(map[string]*publisherCore)
	t.mu.Unlock()

	topics := make([]string, 0, len(cores))
	for topic, core := range cores {
		core.close()
		topics = append(topics, topic)
	}
	return topics
}

// subscriptionsTracker maps topic name to the subscriberCore receiving
// it, behind a single mutex. Unlike publications, a second add for the
// same topic is rejected: ROS nodes may not subscribe twice to one topic.
type subscriptionsTracker struct {
	mu      sync.Mutex
	byTopic map[string]*subscriberCore
	logger  logrus.FieldLogger
}

func newSubscriptionsTracker(logger logrus.FieldLogger) *subscriptionsTracker {
	return &subscriptionsTracker{byTopic: make(map[string]*subscriberCore), logger: logger}
}

// add constructs and registers a subscriberCore for topic, or returns
// DuplicateSubscriptionError if one already exists.
func (t *subscriptionsTracker) add(topic string, newCore func() *subscriberCore) (*subscriberCore, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTopic[topic]; ok {
		return nil, &DuplicateSubscriptionError{Topic: topic}
	}
	core := newCore()
	t.byTopic[topic] = core
	return core, nil
}

func (t *subscriptionsTracker) get(topic string) (*subscriberCore, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	core, ok := t.byTopic[topic]
	return core, ok
}

// addPublishers reconciles a newly-discovered (or updated) publisher set
// for topic: every URI not already connected is resolved via the peer's
// own requestTopic XML-RPC call, and on a TCPROS reply handed to the
// subscriber's connectTo. Per-peer failures are accumulated; addPublishers
// keeps every successful connection and returns the last error seen.
func (t *subscriptionsTracker) addPublishers(ctx context.Context, callerID, topic string, publisherURIs []string) error {
	core, ok := t.get(topic)
	if !ok {
		return nil
	}

	var lastErr error
	for _, uri := range publisherURIs {
		if core.isConnectedTo(uri) {
			continue
		}
		addr, err := requestTopicTCPROS(ctx, uri, callerID, topic)
		if err != nil {
			t.logger.WithError(err).WithField("topic", topic).WithField("publisher", uri).
				Warn("subscriptions: requestTopic failed")
			lastErr = err
			continue
		}
		core.connectTo(uri, []string{addr})
	}
	return lastErr
}

// requestTopicTCPROS calls requestTopic on the publisher at uri offering
// only TCPROS, and returns the host:port it should be dialed at.
func requestTopicTCPROS(ctx context.Context, uri, callerID, topic string) (string, error) {
	client := xmlrpc.NewClient(uri)
	v, err := client.CallRPC(ctx, "requestTopic", callerID, topic, []interface{}{[]interface{}{"TCPROS"}})
	if err != nil {
		return "", err
	}
	tuple, ok := v.([]interface{})
	if !ok || len(tuple) != 3 {
		return "", errors.Errorf("requestTopic: unexpected response shape %#v", v)
	}
	protocol, _ := tuple[0].(string)
	if protocol != "TCPROS" {
		return "", &ProtocolMismatchError{Publisher: uri, Protocol: protocol}
	}
	host, _ := tuple[1].(string)
	port, ok := toInt(tuple[2])
	if !ok {
		return "", errors.New("requestTopic: port is not an integer")
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// toInt coerces an XML-RPC integer value (decoded as int32 by the
// xmlrpc codec) into a plain int.
func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int32:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	}
	return 0, false
}

// remove closes and drops the subscriber for topic, reporting whether one
// was present.
func (t *subscriptionsTracker) remove(topic string) bool {
	t.mu.Lock()
	core, ok := t.byTopic[topic]
	if ok {
		delete(t.byTopic, topic)
	}
	t.mu.Unlock()
	if ok {
		core.close()
	}
	return ok
}

// removeAll closes every subscriber and returns the topics that were
// removed, used by the slave's shutdown drain.
func (t *subscriptionsTracker) removeAll() []string {
	t.mu.Lock()
	cores := t.byTopic
	t.byTopic = make(map[string]*subscriberCore)
	t.mu.Unlock()

	topics := make([]string, 0, len(cores))
	for topic, core := range cores {
		core.close()
		topics = append(topics, topic)
	}
	return topics
}
