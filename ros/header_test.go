package ros

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	fields := []header{
		{key: "md5sum", value: "abc123"},
		{key: "type", value: "std_msgs/String"},
		{key: "callerid", value: "/talker"},
	}

	var buf bytes.Buffer
	if err := writeConnectionHeader(fields, &buf); err != nil {
		t.Fatalf("writeConnectionHeader: %v", err)
	}

	got, err := readConnectionHeader(&buf)
	if err != nil {
		t.Fatalf("readConnectionHeader: %v", err)
	}

	m := toMap(got)
	for _, f := range fields {
		if m[f.key] != f.value {
			t.Fatalf("field %q: got %q, want %q", f.key, m[f.key], f.value)
		}
	}
}

func TestMatchFieldMissing(t *testing.T) {
	h := Header{"type": "std_msgs/String"}
	err := matchField(h, "md5sum", "abc123")
	if err == nil {
		t.Fatal("expected error for missing field")
	}
	var hdrErr *InvalidHeaderError
	if !asInvalidHeaderError(err, &hdrErr) {
		t.Fatalf("expected *InvalidHeaderError, got %T", err)
	}
	if !hdrErr.Missing {
		t.Fatal("expected Missing=true")
	}
}

func TestMatchFieldMismatch(t *testing.T) {
	h := Header{"md5sum": "wrong"}
	err := matchField(h, "md5sum", "right")
	if err == nil {
		t.Fatal("expected error for mismatched field")
	}
	var hdrErr *InvalidHeaderError
	if !asInvalidHeaderError(err, &hdrErr) {
		t.Fatalf("expected *InvalidHeaderError, got %T", err)
	}
	if hdrErr.Expected != "right" || hdrErr.Actual != "wrong" {
		t.Fatalf("unexpected mismatch details: %+v", hdrErr)
	}
}

func asInvalidHeaderError(err error, target **InvalidHeaderError) bool {
	if e, ok := err.(*InvalidHeaderError); ok {
		*target = e
		return true
	}
	return false
}

func TestPacketRoundTrip(t *testing.T) {
	body := []byte{1, 2, 3, 4, 5}
	frame := encodeFrame(body)

	got, err := readPacket(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("readPacket returned %v, want %v", got, frame)
	}
	if !bytes.Equal(payload(got), body) {
		t.Fatalf("payload mismatch: got %v, want %v", payload(got), body)
	}
}
