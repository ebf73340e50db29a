package xmlrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func startTestServer(t *testing.T, build func(*Builder)) (*Client, chan struct{}, *Server) {
	t.Helper()
	shutdown := make(chan struct{})

	builder := NewBuilder(logrus.StandardLogger())
	build(builder)

	server, err := builder.Bind("127.0.0.1:0", shutdown)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return NewClient("http://" + server.Addr().String() + "/"), shutdown, server
}

func TestCallRPCSuccess(t *testing.T) {
	client, shutdown, _ := startTestServer(t, func(b *Builder) {
		b.Register("echo", func(params []interface{}) (interface{}, error) {
			return params[0], nil
		})
	})
	defer close(shutdown)

	v, err := client.CallRPC(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if v != "hello" {
		t.Fatalf("got %#v, want \"hello\"", v)
	}
}

func TestCallRPCClientError(t *testing.T) {
	client, shutdown, _ := startTestServer(t, func(b *Builder) {
		b.Register("reject", func(params []interface{}) (interface{}, error) {
			return nil, &ClientError{Message: "bad args"}
		})
	})
	defer close(shutdown)

	_, err := client.CallRPC(context.Background(), "reject")
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected *ResponseError, got %T: %v", err, err)
	}
	if respErr.Server {
		t.Fatal("a ClientError handler result must map to a client-side ResponseError")
	}
	if respErr.Message != "bad args" {
		t.Fatalf("message = %q", respErr.Message)
	}
}

func TestCallRPCServerError(t *testing.T) {
	client, shutdown, _ := startTestServer(t, func(b *Builder) {
		b.Register("fail", func(params []interface{}) (interface{}, error) {
			return nil, &ServerError{Message: "broke"}
		})
	})
	defer close(shutdown)

	_, err := client.CallRPC(context.Background(), "fail")
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected *ResponseError, got %T: %v", err, err)
	}
	if !respErr.Server {
		t.Fatal("a ServerError handler result must map to a server-side ResponseError")
	}
}

func TestUnknownMethodFaults(t *testing.T) {
	client, shutdown, _ := startTestServer(t, func(b *Builder) {})
	defer close(shutdown)

	_, err := client.Call(context.Background(), "nope")
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault, got %T: %v", err, err)
	}
	if fault.Code != 404 {
		t.Fatalf("fault code = %d, want 404", fault.Code)
	}
}

func TestFallbackHandlesUnknownMethods(t *testing.T) {
	client, shutdown, _ := startTestServer(t, func(b *Builder) {
		b.Fallback(func(params []interface{}) (interface{}, error) {
			return "fallback", nil
		})
	})
	defer close(shutdown)

	v, err := client.CallRPC(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if v != "fallback" {
		t.Fatalf("got %#v, want \"fallback\"", v)
	}
}

func TestSingletonWrappedParamsAreUnwrapped(t *testing.T) {
	// Certain ROS callers wrap the positional tuple in a one-element
	// outer array; the dispatcher must hand handlers the inner tuple.
	client, shutdown, _ := startTestServer(t, func(b *Builder) {
		b.Register("update", func(params []interface{}) (interface{}, error) {
			if len(params) != 3 {
				return nil, &ClientError{Message: "expected 3 params"}
			}
			return params[1], nil
		})
	})
	defer close(shutdown)

	v, err := client.CallRPC(context.Background(), "update",
		[]interface{}{"/caller", "/topic", []interface{}{"http://pub:1234/"}})
	if err != nil {
		t.Fatal(err)
	}
	if v != "/topic" {
		t.Fatalf("got %#v, want \"/topic\"", v)
	}
}

func TestServerStopsOnShutdown(t *testing.T) {
	client, shutdown, server := startTestServer(t, func(b *Builder) {
		b.Register("ping", func(params []interface{}) (interface{}, error) {
			return int32(0), nil
		})
	})

	if _, err := client.CallRPC(context.Background(), "ping"); err != nil {
		t.Fatal(err)
	}

	close(shutdown)
	select {
	case <-server.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop within 10s of shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := client.CallRPC(ctx, "ping"); err == nil {
		t.Fatal("expected calls to fail after shutdown")
	}
}
