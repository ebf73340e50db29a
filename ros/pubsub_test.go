package ros

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	testMD5        = "992ce8a1687cec8c8bd883ec73ca41d1"
	testType       = "std_msgs/String"
	testDefinition = "string data\n"
)

// testMessage is a minimal std_msgs/String stand-in for transport tests.
type testMessage struct {
	data string
}

func (*testMessage) MD5Sum() string        { return testMD5 }
func (*testMessage) MsgType() string       { return testType }
func (*testMessage) MsgDefinition() string { return testDefinition }

func (m *testMessage) Encode(w io.Writer) error {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(m.data)))
	if _, err := w.Write(l[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, m.data)
	return err
}

func (m *testMessage) Decode(r io.Reader) error {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return err
	}
	buf := make([]byte, binary.LittleEndian.Uint32(l[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	m.data = string(buf)
	return nil
}

// testStampedMessage carries a header so Send stamps seq and stamp.
type testStampedMessage struct {
	header MsgHeader
	data   string
}

func (*testStampedMessage) MD5Sum() string        { return "d41d8cd98f00b204e9800998ecf8427e" }
func (*testStampedMessage) MsgType() string       { return "test_msgs/Stamped" }
func (*testStampedMessage) MsgDefinition() string { return "std_msgs/Header header\nstring data\n" }
func (m *testStampedMessage) HeaderMut() *MsgHeader { return &m.header }

func (m *testStampedMessage) Encode(w io.Writer) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], m.header.Seq)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if err := m.header.Stamp.Encode(w); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(len(m.data)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, m.data)
	return err
}

func (m *testStampedMessage) Decode(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	m.header.Seq = binary.LittleEndian.Uint32(buf[:])
	if err := m.header.Stamp.Decode(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	data := make([]byte, binary.LittleEndian.Uint32(buf[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	m.data = string(data)
	return nil
}

func newTestPublisher(t *testing.T, topic string) *publisherCore {
	t.Helper()
	pub, err := newPublisherCore("127.0.0.1", topic, "/test_pub", testMD5, testType, testDefinition, 8, newWallClock(), logrus.StandardLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pub.close)
	return pub
}

func TestPublisherSubscriberRoundTrip(t *testing.T) {
	pub := newTestPublisher(t, "/chatter")

	sub := newSubscriberCore("/chatter", "/test_sub", testMD5, testType, testDefinition, 8, logrus.StandardLogger())
	defer sub.close()
	sub.connectTo("/test_pub", []string{fmt.Sprintf("127.0.0.1:%d", pub.Port())})

	// The handshake races the first send; wait for the peer to attach.
	waitFor(t, 5*time.Second, func() bool { return pub.SubscriberCount() == 1 })

	var buf bytes.Buffer
	msg := &testMessage{data: "Hello from Go"}
	if err := msg.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	pub.sendEncoded(buf.Bytes())

	select {
	case raw := <-sub.out:
		if raw.callerID != "/test_pub" {
			t.Errorf("callerID = %q, want /test_pub", raw.callerID)
		}
		var got testMessage
		if err := got.Decode(bytes.NewReader(raw.payload)); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.data != "Hello from Go" {
			t.Fatalf("data = %q", got.data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no message delivered within 10s")
	}

	if !sub.isConnectedTo("/test_pub") {
		t.Fatal("expected subscriber to report the publisher as connected")
	}
	if sub.numPublishers() != 1 {
		t.Fatalf("numPublishers = %d, want 1", sub.numPublishers())
	}
}

func TestHandshakeMD5MismatchClosesConnection(t *testing.T) {
	pub := newTestPublisher(t, "/chatter")

	sub := newSubscriberCore("/chatter", "/test_sub", "0000badmd5sum0000", testType, testDefinition, 8, logrus.StandardLogger())
	defer sub.close()
	sub.connectTo("/test_pub", []string{fmt.Sprintf("127.0.0.1:%d", pub.Port())})

	// The publisher must reject the peer: it never joins the broadcast,
	// and nothing is ever delivered.
	time.Sleep(200 * time.Millisecond)
	if pub.SubscriberCount() != 0 {
		t.Fatalf("publisher accepted a subscriber with a wrong md5sum")
	}

	var buf bytes.Buffer
	msg := &testMessage{data: "should not arrive"}
	if err := msg.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	pub.sendEncoded(buf.Bytes())

	select {
	case raw := <-sub.out:
		t.Fatalf("unexpected delivery despite md5 mismatch: %v", raw)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHandshakeTypeMismatchRejectedByPublisher(t *testing.T) {
	// Publisher configured with a different type than the subscriber
	// offers; the publisher-side handshake must reject the peer, so it
	// never joins the broadcast.
	pub, err := newPublisherCore("127.0.0.1", "/chatter", "/test_pub", testMD5, "other_msgs/Other", "other\n", 8, newWallClock(), logrus.StandardLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.close()

	sub := newSubscriberCore("/chatter", "/test_sub", testMD5, testType, testDefinition, 8, logrus.StandardLogger())
	defer sub.close()
	sub.connectTo("/test_pub", []string{fmt.Sprintf("127.0.0.1:%d", pub.Port())})

	time.Sleep(200 * time.Millisecond)
	if pub.SubscriberCount() != 0 {
		t.Fatal("expected the publisher-side handshake to reject the differing type")
	}
}

func TestSendStampsStrictlyIncreasingSeq(t *testing.T) {
	core, err := newPublisherCore("127.0.0.1", "/stamped", "/test_pub",
		(&testStampedMessage{}).MD5Sum(), (&testStampedMessage{}).MsgType(), (&testStampedMessage{}).MsgDefinition(),
		8, newWallClock(), logrus.StandardLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.close()
	pub := &Publisher[*testStampedMessage]{core: core}

	var seqs []uint32
	for i := 0; i < 5; i++ {
		msg := &testStampedMessage{data: "x"}
		if err := pub.Send(msg); err != nil {
			t.Fatal(err)
		}
		seqs = append(seqs, msg.header.Seq)
		if msg.header.Stamp.IsZero() {
			t.Fatal("expected Send to stamp the header with wall time")
		}
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("seq not strictly increasing by 1: %v", seqs)
		}
	}
}

func TestSendFailsWhenSimClockHasNoValue(t *testing.T) {
	core, err := newPublisherCore("127.0.0.1", "/stamped", "/test_pub",
		(&testStampedMessage{}).MD5Sum(), (&testStampedMessage{}).MsgType(), (&testStampedMessage{}).MsgDefinition(),
		8, newSimClock(), logrus.StandardLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.close()
	pub := &Publisher[*testStampedMessage]{core: core}

	if err := pub.Send(&testStampedMessage{data: "x"}); err == nil {
		t.Fatal("expected Send to refuse stamping before the first /clock message")
	}
}

func TestPublisherCloseDisconnectsSubscribers(t *testing.T) {
	pub := newTestPublisher(t, "/chatter")

	sub := newSubscriberCore("/chatter", "/test_sub", testMD5, testType, testDefinition, 8, logrus.StandardLogger())
	defer sub.close()
	sub.connectTo("/test_pub", []string{fmt.Sprintf("127.0.0.1:%d", pub.Port())})

	waitFor(t, 5*time.Second, func() bool { return pub.SubscriberCount() == 1 })

	pub.close()
	waitFor(t, 5*time.Second, func() bool { return pub.SubscriberCount() == 0 })
}

func waitFor(t *testing.T, limit time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
