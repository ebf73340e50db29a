package xmlrpc

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestMarshalCallParseMethodCallRoundTrip(t *testing.T) {
	params := []interface{}{
		"/caller",
		int32(42),
		true,
		3.5,
		[]interface{}{"a", int32(1)},
		map[string]interface{}{"key": "value"},
	}

	var buf bytes.Buffer
	if err := marshalCall(&buf, "testMethod", params); err != nil {
		t.Fatalf("marshalCall: %v", err)
	}

	method, got, err := parseMethodCall(&buf)
	if err != nil {
		t.Fatalf("parseMethodCall: %v", err)
	}
	if method != "testMethod" {
		t.Fatalf("method = %q, want testMethod", method)
	}
	if !reflect.DeepEqual(got, params) {
		t.Fatalf("params round trip mismatch:\n got %#v\nwant %#v", got, params)
	}
}

func TestMarshalResponseParseMethodResponseRoundTrip(t *testing.T) {
	envelope := []interface{}{int32(1), "Success", []interface{}{"http://host:11311/"}}

	var buf bytes.Buffer
	if err := marshalResponse(&buf, envelope); err != nil {
		t.Fatalf("marshalResponse: %v", err)
	}

	value, fault, err := parseMethodResponse(&buf)
	if err != nil {
		t.Fatalf("parseMethodResponse: %v", err)
	}
	if fault != nil {
		t.Fatalf("unexpected fault: %v", fault)
	}
	if !reflect.DeepEqual(value, envelope) {
		t.Fatalf("value mismatch:\n got %#v\nwant %#v", value, envelope)
	}
}

func TestParseMethodResponseFault(t *testing.T) {
	var buf bytes.Buffer
	if err := marshalFault(&buf, &Fault{Code: 404, Message: "method not found"}); err != nil {
		t.Fatalf("marshalFault: %v", err)
	}

	value, fault, err := parseMethodResponse(&buf)
	if err != nil {
		t.Fatalf("parseMethodResponse: %v", err)
	}
	if value != nil {
		t.Fatalf("expected nil value for a fault, got %#v", value)
	}
	if fault == nil || fault.Code != 404 || fault.Message != "method not found" {
		t.Fatalf("unexpected fault: %+v", fault)
	}
}

func TestParseValueBareStringDefaultsToString(t *testing.T) {
	// Some peers omit the <string> wrapper; a bare <value>text</value>
	// is an implicit string per the XML-RPC spec.
	doc := `<?xml version="1.0"?><methodResponse><params><param><value>hello</value></param></params></methodResponse>`
	value, fault, err := parseMethodResponse(strings.NewReader(doc))
	if err != nil || fault != nil {
		t.Fatalf("parse: value=%v fault=%v err=%v", value, fault, err)
	}
	if value != "hello" {
		t.Fatalf("value = %#v, want \"hello\"", value)
	}
}

func TestParseValueI4Alias(t *testing.T) {
	doc := `<?xml version="1.0"?><methodResponse><params><param><value><i4>7</i4></value></param></params></methodResponse>`
	value, _, err := parseMethodResponse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if value != int32(7) {
		t.Fatalf("value = %#v, want int32(7)", value)
	}
}

func TestMarshalValueEscapesXML(t *testing.T) {
	var buf bytes.Buffer
	if err := marshalCall(&buf, "m", []interface{}{"<&>"}); err != nil {
		t.Fatal(err)
	}
	_, params, err := parseMethodCall(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 1 || params[0] != "<&>" {
		t.Fatalf("params = %#v, want [\"<&>\"]", params)
	}
}

func TestUnwrapSingletonArray(t *testing.T) {
	inner := []interface{}{int32(1), "ok", "data"}
	wrapped := []interface{}{inner}

	if got := unwrapSingletonArray(wrapped); !reflect.DeepEqual(got, inner) {
		t.Fatalf("expected singleton wrapper to be stripped, got %#v", got)
	}
	// A 3-element envelope is not a singleton and must pass through.
	if got := unwrapSingletonArray(inner); !reflect.DeepEqual(got, inner) {
		t.Fatalf("expected non-singleton array to pass through, got %#v", got)
	}
}
