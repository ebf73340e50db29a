package rosmsgs

import (
	"io"

	"github.com/brambleworks/rosgo/ros"
)

const (
	clockMD5        = "a9c97c1d230cfc112e270351a944ee47"
	clockType       = "rosgraph_msgs/Clock"
	clockDefinition = "time clock\n"
)

// Clock mirrors rosgraph_msgs/Clock, the message published on /clock
// that drives this library's simulated-time source.
type Clock struct {
	ClockTime ros.Time
}

var _ ros.Message = (*Clock)(nil)

func (*Clock) MD5Sum() string        { return clockMD5 }
func (*Clock) MsgType() string       { return clockType }
func (*Clock) MsgDefinition() string { return clockDefinition }

func (m *Clock) Encode(w io.Writer) error {
	return m.ClockTime.Encode(w)
}

func (m *Clock) Decode(r io.Reader) error {
	return m.ClockTime.Decode(r)
}
