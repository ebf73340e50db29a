package ros

import (
	"encoding/binary"
	"io"
	"time"
)

// Message is the capability every topic payload must provide: a wire
// identity (md5sum/type/definition) plus byte-level encode/decode. The
// message-code generator that produces concrete implementations from
// .msg files is an external collaborator; this package only consumes
// the capability.
type Message interface {
	MD5Sum() string
	MsgType() string
	MsgDefinition() string
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// HeaderMutator is the optional second half of the Message capability:
// messages that embed a std_msgs/Header expose it mutably so Publisher.Send
// can stamp it before encoding.
type HeaderMutator interface {
	HeaderMut() *MsgHeader
}

// MsgHeader is the standard ROS std_msgs/Header payload.
type MsgHeader struct {
	Seq     uint32
	Stamp   Time
	FrameID string
}

// Time is a ROS wall/sim timestamp: seconds and nanoseconds since the
// epoch, wire-identical to std_msgs/Time / the time fields ROS embeds in
// headers and /clock.
type Time struct {
	Sec  uint32
	NSec uint32
}

// Now returns the current wall-clock time in ROS's Time representation.
func Now() Time {
	t := time.Now()
	return Time{Sec: uint32(t.Unix()), NSec: uint32(t.Nanosecond())}
}

// IsZero reports whether t is the zero Time.
func (t Time) IsZero() bool { return t.Sec == 0 && t.NSec == 0 }

// Encode writes t in ROS's wire form: two little-endian uint32s.
func (t Time) Encode(w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], t.Sec)
	binary.LittleEndian.PutUint32(buf[4:8], t.NSec)
	_, err := w.Write(buf[:])
	return err
}

// Decode reads a Time from its ROS wire form.
func (t *Time) Decode(r io.Reader) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	t.Sec = binary.LittleEndian.Uint32(buf[0:4])
	t.NSec = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

// Duration is a ROS wire duration: signed seconds and nanoseconds.
type Duration struct {
	Sec  int32
	NSec int32
}
