package ros

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
)

// header is a single key=value entry of a TCPROS connection header, kept
// as an ordered pair (rather than folded straight into a map) so the
// wire order we send is deterministic.
type header struct {
	key   string
	value string
}

// Header is the decoded form of a TCPROS connection header: a mapping
// from field name to string value.
type Header map[string]string

// readPacket reads one length-prefixed TCPROS frame and returns the full
// frame, length prefix included, so callers that only forward bytes
// (the publisher broadcast path) never need to re-encode the length.
func readPacket(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	frame := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(frame[:4], size)
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// payload strips the 4-byte length prefix a readPacket frame carries.
func payload(frame []byte) []byte {
	if len(frame) < 4 {
		return nil
	}
	return frame[4:]
}

// writePacket writes payload as a single length-prefixed TCPROS frame.
func writePacket(w io.Writer, payload []byte) error {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// encodeFrame prefixes payload with its length, returning a single
// buffer suitable for broadcasting verbatim to every connected
// subscriber without re-encoding per peer.
func encodeFrame(payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}

// encodeHeader lays out a connection header on the wire: an overall
// length prefix, then for each entry a length-prefixed "key=value".
func encodeHeader(fields []header) []byte {
	var body bytes.Buffer
	for _, f := range fields {
		entry := f.key + "=" + f.value
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(entry)))
		body.Write(l[:])
		body.WriteString(entry)
	}
	return encodeFrame(body.Bytes())
}

// writeConnectionHeader writes a TCPROS connection header to w.
func writeConnectionHeader(fields []header, w io.Writer) error {
	_, err := w.Write(encodeHeader(fields))
	return err
}

// decodeHeaderPayload splits a header payload (length prefix already
// stripped) into ordered key/value pairs.
func decodeHeaderPayload(b []byte) ([]header, error) {
	var fields []header
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, io.ErrUnexpectedEOF
		}
		n := binary.LittleEndian.Uint32(b[:4])
		b = b[4:]
		if uint32(len(b)) < n {
			return nil, io.ErrUnexpectedEOF
		}
		entry := string(b[:n])
		b = b[n:]
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields = append(fields, header{key: kv[0], value: kv[1]})
	}
	return fields, nil
}

// readConnectionHeader reads and decodes a TCPROS connection header
// from r.
func readConnectionHeader(r io.Reader) ([]header, error) {
	frame, err := readPacket(r)
	if err != nil {
		return nil, err
	}
	return decodeHeaderPayload(payload(frame))
}

// toMap folds an ordered header slice into a Header map, last value wins.
func toMap(fields []header) Header {
	m := make(Header, len(fields))
	for _, f := range fields {
		m[f.key] = f.value
	}
	return m
}

// matchField requires that h[name] exists and equals expected.
func matchField(h Header, name, expected string) error {
	actual, ok := h[name]
	if !ok {
		return &InvalidHeaderError{Field: name, Missing: true}
	}
	if actual != expected {
		return &InvalidHeaderError{Field: name, Expected: expected, Actual: actual}
	}
	return nil
}
