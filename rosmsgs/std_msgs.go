// Package rosmsgs provides small, hand-written standard message types
// (std_msgs/String, std_msgs/Header, rosgraph_msgs/Clock). It is not a
// substitute for the real .msg/.srv code generator (an external
// collaborator). The ros package does not import it: its /clock
// plumbing decodes rosgraph_msgs/Clock with an internal type.
package rosmsgs

import (
	"encoding/binary"
	"io"

	"github.com/brambleworks/rosgo/ros"
)

const (
	stringMD5        = "992ce8a1687cec8c8bd883ec73ca41d1"
	stringType       = "std_msgs/String"
	stringDefinition = "string data\n"
)

// String mirrors std_msgs/String: a single string field.
type String struct {
	Data string
}

var _ ros.Message = (*String)(nil)

func (*String) MD5Sum() string        { return stringMD5 }
func (*String) MsgType() string       { return stringType }
func (*String) MsgDefinition() string { return stringDefinition }

func (m *String) Encode(w io.Writer) error {
	return writeROSString(w, m.Data)
}

func (m *String) Decode(r io.Reader) error {
	s, err := readROSString(r)
	if err != nil {
		return err
	}
	m.Data = s
	return nil
}

const (
	headerMD5        = "2176decaecbce78abc3b96ef049fabed"
	headerType       = "std_msgs/Header"
	headerDefinition = "uint32 seq\ntime stamp\nstring frame_id\n"
)

// Header mirrors std_msgs/Header as a standalone message (most real
// messages embed ros.MsgHeader directly rather than this type; it exists
// so tests can exercise the wire format in isolation).
type Header struct {
	ros.MsgHeader
}

var _ ros.Message = (*Header)(nil)

func (*Header) MD5Sum() string        { return headerMD5 }
func (*Header) MsgType() string       { return headerType }
func (*Header) MsgDefinition() string { return headerDefinition }

func (m *Header) Encode(w io.Writer) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], m.Seq)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if err := m.Stamp.Encode(w); err != nil {
		return err
	}
	return writeROSString(w, m.FrameID)
}

func (m *Header) Decode(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	m.Seq = binary.LittleEndian.Uint32(buf[:])
	if err := m.Stamp.Decode(r); err != nil {
		return err
	}
	s, err := readROSString(r)
	if err != nil {
		return err
	}
	m.FrameID = s
	return nil
}

// writeROSString writes s in ROS's wire form for the "string" field
// type: a little-endian uint32 length followed by the raw bytes (no
// trailing NUL, unlike C strings).
func writeROSString(w io.Writer, s string) error {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	if _, err := w.Write(l[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readROSString(r io.Reader) (string, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(l[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
