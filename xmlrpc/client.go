package xmlrpc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ResponseError distinguishes a call the caller misused (ROS's code==-1,
// "client error") from one where the remote node/master itself failed
// (any other non-success code, "server error").
type ResponseError struct {
	Server  bool
	Message string
}

func (e *ResponseError) Error() string {
	kind := "client"
	if e.Server {
		kind = "server"
	}
	return fmt.Sprintf("xmlrpc %s error: %s", kind, e.Message)
}

// Client performs ROS-wrapped XML-RPC calls: an ordinary XML-RPC
// methodCall/methodResponse exchange, where the response value is always
// a 3-element [code, message, data] tuple.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient builds a Client targeting the given XML-RPC endpoint URL.
func NewClient(url string) *Client {
	return &Client{URL: url, HTTPClient: http.DefaultClient}
}

// Call invokes method on the target XML-RPC endpoint and returns the raw
// response value with no envelope interpretation. Most callers want
// CallRPC instead; Call is exposed for endpoints that don't follow the
// ROS envelope convention.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	var body bytes.Buffer
	if err := marshalCall(&body, method, params); err != nil {
		return nil, errors.Wrap(err, "xmlrpc: encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, &body)
	if err != nil {
		return nil, errors.Wrap(err, "xmlrpc: build request")
	}
	req.Header.Set("Content-Type", "text/xml")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "xmlrpc: call %s", method)
	}
	defer resp.Body.Close()

	value, fault, err := parseMethodResponse(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "xmlrpc: decode response to %s", method)
	}
	if fault != nil {
		return nil, fault
	}
	return value, nil
}

// CallRPC calls method and interprets the response as the ROS
// [code, message, data] envelope: code==1 returns data, code==-1 is a
// client ResponseError, any other code is a server ResponseError. A
// leading single-element array wrapper, which some masters add around
// the tuple, is stripped first.
func (c *Client) CallRPC(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	raw = unwrapSingletonArray(raw)

	tuple, ok := raw.([]interface{})
	if !ok || len(tuple) != 3 {
		return nil, errors.Errorf("xmlrpc: %s: expected [code, message, data] envelope, got %#v", method, raw)
	}

	code, ok := toInt(tuple[0])
	if !ok {
		return nil, errors.Errorf("xmlrpc: %s: envelope code is not an integer", method)
	}
	message, _ := tuple[1].(string)
	data := tuple[2]

	switch code {
	case 1:
		return data, nil
	case -1:
		return nil, &ResponseError{Server: false, Message: message}
	default:
		return nil, &ResponseError{Server: true, Message: message}
	}
}

// unwrapSingletonArray strips a single layer of one-element array
// wrapping some ROS implementations add around their actual payload.
func unwrapSingletonArray(v interface{}) interface{} {
	if arr, ok := v.([]interface{}); ok && len(arr) == 1 {
		return arr[0]
	}
	return v
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int32:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	}
	return 0, false
}
