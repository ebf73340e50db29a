package ros

import (
	"fmt"

	"github.com/brambleworks/rosgo/xmlrpc"
)

// ResponseError distinguishes a master/slave XML-RPC call that the caller
// misused from one where the remote side itself failed, mirroring the
// ROS master's own code==-1 vs code==0 split. It is the same type the
// xmlrpc package returns from CallRPC, aliased here so callers never
// need to import xmlrpc themselves just to inspect an error.
type ResponseError = xmlrpc.ResponseError

// InvalidHeaderError reports a TCPROS connection-header mismatch.
type InvalidHeaderError struct {
	Field    string
	Expected string
	Actual   string
	Missing  bool
}

func (e *InvalidHeaderError) Error() string {
	if e.Missing {
		return fmt.Sprintf("tcpros header missing field %q", e.Field)
	}
	return fmt.Sprintf("tcpros header field %q mismatch: expected %q, got %q", e.Field, e.Expected, e.Actual)
}

// DuplicateSubscriptionError is returned when a node subscribes to a
// topic it is already subscribed to.
type DuplicateSubscriptionError struct {
	Topic string
}

func (e *DuplicateSubscriptionError) Error() string {
	return fmt.Sprintf("already subscribed to topic %q", e.Topic)
}

// ProtocolMismatchError is returned when a publisher offers a transport
// other than TCPROS in response to requestTopic.
type ProtocolMismatchError struct {
	Publisher string
	Protocol  string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("publisher %q offered unsupported protocol %q", e.Publisher, e.Protocol)
}

// SubscriptionError wraps the failure modes a Subscribe call can surface.
type SubscriptionError struct {
	Op  string
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe: %s: %v", e.Op, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// PublisherError wraps the failure modes a Publish call can surface.
type PublisherError struct {
	Op  string
	Err error
}

func (e *PublisherError) Error() string {
	return fmt.Sprintf("publish: %s: %v", e.Op, e.Err)
}

func (e *PublisherError) Unwrap() error { return e.Err }

// ClockUnavailableError is returned by Publisher.Send when simulated
// time is active but no /clock message has ever been received: stamping
// the header with a zero time would silently fabricate data, so the send
// is refused instead.
type ClockUnavailableError struct{}

func (e *ClockUnavailableError) Error() string {
	return "simulated time is active but no /clock message has been received yet"
}
