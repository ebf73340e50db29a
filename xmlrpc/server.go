package xmlrpc

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// shutdownGrace bounds how long a bound Server waits for in-flight
// requests to finish once shutdown fires before it gives up and closes
// Done() anyway.
const shutdownGrace = 5 * time.Second

// Method is an XML-RPC handler. It receives the call's already-decoded
// positional parameters (with any singleton-array wrapping already
// stripped) and returns either a value or a {Client|Server} error
// (*ClientError / *ServerError); any other error is treated as a server
// error.
type Method func(params []interface{}) (interface{}, error)

// ClientError marks a fault caused by caller misuse, encoded as ROS
// envelope code -1.
type ClientError struct{ Message string }

func (e *ClientError) Error() string { return e.Message }

// ServerError marks a fault on the remote side, encoded as ROS envelope
// code 0.
type ServerError struct{ Message string }

func (e *ServerError) Error() string { return e.Message }

// Builder accumulates named method handlers before binding a listening
// Server.
type Builder struct {
	methods  map[string]Method
	fallback Method
	logger   logrus.FieldLogger
}

// NewBuilder creates an empty Builder. A nil logger falls back to
// logrus's standard logger.
func NewBuilder(logger logrus.FieldLogger) *Builder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Builder{methods: make(map[string]Method), logger: logger}
}

// Register adds or replaces the handler for method name.
func (b *Builder) Register(name string, m Method) *Builder {
	b.methods[name] = m
	return b
}

// Fallback sets the handler invoked for unregistered method names. If
// none is set, unknown methods fault with code 404.
func (b *Builder) Fallback(m Method) *Builder {
	b.fallback = m
	return b
}

// Server is a bound, running XML-RPC server.
type Server struct {
	listener net.Listener
	http     *http.Server
	done     chan struct{}
}

// Addr returns the address the server accepted bind on.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Done closes once the server has fully stopped serving, including
// completion of any request that was in flight when shutdown fired.
func (s *Server) Done() <-chan struct{} { return s.done }

// WaitForShutdown blocks until the server has fully stopped.
func (s *Server) WaitForShutdown() { <-s.done }

// Bind starts listening on addr and serving registered methods. The
// returned Server stops accepting new requests, finishes in-flight ones,
// and closes Done() once shutdown is closed.
func (b *Builder) Bind(addr string, shutdown <-chan struct{}) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	h := &dispatcher{methods: b.methods, fallback: b.fallback, logger: b.logger}
	httpServer := &http.Server{Handler: h}

	s := &Server{listener: listener, http: httpServer, done: make(chan struct{})}

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			b.logger.WithError(err).Error("xmlrpc server exited with error")
		}
	}()

	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			b.logger.WithError(err).Warn("xmlrpc server shutdown did not complete cleanly")
		}
		close(s.done)
	}()

	return s, nil
}

type dispatcher struct {
	methods  map[string]Method
	fallback Method
	logger   logrus.FieldLogger
}

func (h *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method, params, err := parseMethodCall(r.Body)
	if err != nil {
		h.logger.WithError(err).Warn("xmlrpc: failed to decode method call")
		writeFault(w, &Fault{Code: -32700, Message: "parse error"})
		return
	}

	params = unwrapParamsSingleton(params)

	m, ok := h.methods[method]
	if !ok {
		if h.fallback == nil {
			writeFault(w, &Fault{Code: 404, Message: "method not found: " + method})
			return
		}
		m = h.fallback
	}

	value, err := m(params)
	if err != nil {
		h.logger.WithError(err).WithField("method", method).Debug("xmlrpc handler returned an error")
		writeEnvelope(w, envelopeForError(err))
		return
	}
	writeEnvelope(w, []interface{}{int32(1), "Success", value})
}

// unwrapParamsSingleton strips a single layer of one-element array
// wrapping some ROS XML-RPC callers add around the positional parameter
// tuple. It only applies when the entire param list collapsed into one
// element, which is the shape that wrapping produces.
func unwrapParamsSingleton(params []interface{}) []interface{} {
	if len(params) == 1 {
		if wrapped, ok := params[0].([]interface{}); ok {
			return wrapped
		}
	}
	return params
}

func envelopeForError(err error) []interface{} {
	switch e := err.(type) {
	case *ClientError:
		return []interface{}{int32(-1), e.Message, int32(0)}
	case *ServerError:
		return []interface{}{int32(0), e.Message, int32(0)}
	default:
		return []interface{}{int32(0), err.Error(), int32(0)}
	}
}

func writeEnvelope(w http.ResponseWriter, envelope []interface{}) {
	var buf bytes.Buffer
	if err := marshalResponse(&buf, envelope); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write(buf.Bytes())
}

func writeFault(w http.ResponseWriter, f *Fault) {
	var buf bytes.Buffer
	if err := marshalFault(&buf, f); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write(buf.Bytes())
}
