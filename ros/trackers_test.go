package ros

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/brambleworks/rosgo/xmlrpc"
)

func TestPublicationsTrackerIdempotentAdd(t *testing.T) {
	tracker := newPublicationsTracker()
	constructed := 0
	newCore := func() (*publisherCore, error) {
		constructed++
		return newPublisherCore("127.0.0.1", "/foo", "/node", "md5", "std_msgs/String", "string data\n", 1, newWallClock(), logrus.StandardLogger(), nil)
	}

	core1, isNew1, err := tracker.add("/foo", newCore)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew1 {
		t.Fatal("expected first add to construct a new publisher")
	}

	core2, isNew2, err := tracker.add("/foo", newCore)
	if err != nil {
		t.Fatal(err)
	}
	if isNew2 {
		t.Fatal("expected second add for the same topic to reuse the existing publisher")
	}
	if core1 != core2 {
		t.Fatal("expected the same *publisherCore for both adds")
	}
	if constructed != 1 {
		t.Fatalf("expected newCore to be invoked once, got %d", constructed)
	}

	port, ok := tracker.getPort("/foo")
	if !ok || port != core1.Port() {
		t.Fatalf("getPort = (%d, %v), want (%d, true)", port, ok, core1.Port())
	}

	core1.close()
}

func TestPublicationsTrackerRemoveAll(t *testing.T) {
	tracker := newPublicationsTracker()
	for _, topic := range []string{"/a", "/b"} {
		topic := topic
		_, _, err := tracker.add(topic, func() (*publisherCore, error) {
			return newPublisherCore("127.0.0.1", topic, "/node", "md5", "std_msgs/String", "string data\n", 1, newWallClock(), logrus.StandardLogger(), nil)
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	removed := tracker.removeAll()
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed topics, got %d: %v", len(removed), removed)
	}
	if _, ok := tracker.getPort("/a"); ok {
		t.Fatal("expected /a to be gone after removeAll")
	}
}

func TestSubscriptionsTrackerRejectsDuplicate(t *testing.T) {
	tracker := newSubscriptionsTracker(logrus.StandardLogger())
	newCore := func() *subscriberCore {
		return newSubscriberCore("/foo", "/node", "md5", "std_msgs/String", "string data\n", 1, logrus.StandardLogger())
	}

	if _, err := tracker.add("/foo", newCore); err != nil {
		t.Fatal(err)
	}

	_, err := tracker.add("/foo", newCore)
	if err == nil {
		t.Fatal("expected DuplicateSubscriptionError on second add")
	}
	if _, ok := err.(*DuplicateSubscriptionError); !ok {
		t.Fatalf("expected *DuplicateSubscriptionError, got %T", err)
	}
}

func TestSubscriptionsTrackerRemoveAll(t *testing.T) {
	tracker := newSubscriptionsTracker(logrus.StandardLogger())
	for _, topic := range []string{"/a", "/b"} {
		topic := topic
		if _, err := tracker.add(topic, func() *subscriberCore {
			return newSubscriberCore(topic, "/node", "md5", "std_msgs/String", "string data\n", 1, logrus.StandardLogger())
		}); err != nil {
			t.Fatal(err)
		}
	}

	removed := tracker.removeAll()
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed topics, got %d: %v", len(removed), removed)
	}
	if _, ok := tracker.get("/a"); ok {
		t.Fatal("expected /a to be gone after removeAll")
	}
}

func TestRequestTopicTCPROSRejectsOtherProtocols(t *testing.T) {
	// A fake publisher whose requestTopic offers UDPROS; the negotiation
	// helper must reject it before ever dialing a data connection.
	shutdown := make(chan struct{})
	defer close(shutdown)

	builder := xmlrpc.NewBuilder(logrus.StandardLogger())
	builder.Register("requestTopic", func(params []interface{}) (interface{}, error) {
		return []interface{}{"UDPROS", "127.0.0.1", int32(12345)}, nil
	})
	server, err := builder.Bind("127.0.0.1:0", shutdown)
	if err != nil {
		t.Fatal(err)
	}

	uri := "http://" + server.Addr().String() + "/"
	_, err = requestTopicTCPROS(context.Background(), uri, "/node", "/foo")
	if err == nil {
		t.Fatal("expected ProtocolMismatchError for a UDPROS-only publisher")
	}
	var mismatch *ProtocolMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *ProtocolMismatchError, got %T: %v", err, err)
	}
	if mismatch.Protocol != "UDPROS" {
		t.Fatalf("unexpected protocol in error: %q", mismatch.Protocol)
	}
}

func TestRequestTopicTCPROSReturnsDialAddress(t *testing.T) {
	shutdown := make(chan struct{})
	defer close(shutdown)

	builder := xmlrpc.NewBuilder(logrus.StandardLogger())
	builder.Register("requestTopic", func(params []interface{}) (interface{}, error) {
		return []interface{}{"TCPROS", "10.1.2.3", int32(45678)}, nil
	})
	server, err := builder.Bind("127.0.0.1:0", shutdown)
	if err != nil {
		t.Fatal(err)
	}

	uri := "http://" + server.Addr().String() + "/"
	addr, err := requestTopicTCPROS(context.Background(), uri, "/node", "/foo")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "10.1.2.3:45678" {
		t.Fatalf("unexpected dial address %q", addr)
	}
}
