package ros

import (
	"context"

	"github.com/pkg/errors"

	"github.com/brambleworks/rosgo/xmlrpc"
)

// masterClient is a thin typed facade over the raw XML-RPC client for
// the subset of the master API a node needs. Every call prefixes the
// caller id fixed at construction, matching the master's calling
// convention.
type masterClient struct {
	callerID string
	rpc      *xmlrpc.Client
}

func newMasterClient(uri, callerID string) *masterClient {
	return &masterClient{callerID: callerID, rpc: xmlrpc.NewClient(uri)}
}

func (m *masterClient) getURI(ctx context.Context) (string, error) {
	v, err := m.rpc.CallRPC(ctx, "getUri", m.callerID)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.New("master: getUri: unexpected response type")
	}
	return s, nil
}

func (m *masterClient) getTopicTypes(ctx context.Context) ([]Topic, error) {
	v, err := m.rpc.CallRPC(ctx, "getTopicTypes", m.callerID)
	if err != nil {
		return nil, err
	}
	rows, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("master: getTopicTypes: unexpected response type")
	}
	topics := make([]Topic, 0, len(rows))
	for _, row := range rows {
		pair, ok := row.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		name, _ := pair[0].(string)
		typ, _ := pair[1].(string)
		topics = append(topics, Topic{Name: name, Type: typ})
	}
	return topics, nil
}

func (m *masterClient) getParamNames(ctx context.Context) ([]string, error) {
	v, err := m.rpc.CallRPC(ctx, "getParamNames", m.callerID)
	if err != nil {
		return nil, err
	}
	rows, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("master: getParamNames: unexpected response type")
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := row.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

func (m *masterClient) getParam(ctx context.Context, key string) (interface{}, error) {
	return m.rpc.CallRPC(ctx, "getParam", m.callerID, key)
}

func (m *masterClient) setParam(ctx context.Context, key string, value interface{}) error {
	_, err := m.rpc.CallRPC(ctx, "setParam", m.callerID, key, value)
	return err
}

func (m *masterClient) hasParam(ctx context.Context, key string) (bool, error) {
	v, err := m.rpc.CallRPC(ctx, "hasParam", m.callerID, key)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (m *masterClient) deleteParam(ctx context.Context, key string) error {
	_, err := m.rpc.CallRPC(ctx, "deleteParam", m.callerID, key)
	return err
}

func (m *masterClient) searchParam(ctx context.Context, key string) (string, error) {
	v, err := m.rpc.CallRPC(ctx, "searchParam", m.callerID, key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (m *masterClient) lookupNode(ctx context.Context, name string) (string, error) {
	v, err := m.rpc.CallRPC(ctx, "lookupNode", m.callerID, name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.New("master: lookupNode: unexpected response type")
	}
	return s, nil
}

// registerSubscriber returns the publisher URIs currently known for topic.
func (m *masterClient) registerSubscriber(ctx context.Context, topic, msgType, slaveURI string) ([]string, error) {
	v, err := m.rpc.CallRPC(ctx, "registerSubscriber", m.callerID, topic, msgType, slaveURI)
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (m *masterClient) unregisterSubscriber(ctx context.Context, topic, slaveURI string) error {
	_, err := m.rpc.CallRPC(ctx, "unregisterSubscriber", m.callerID, topic, slaveURI)
	return err
}

func (m *masterClient) registerPublisher(ctx context.Context, topic, msgType, slaveURI string) error {
	// The return value is the current list of subscriber URIs for the
	// topic, which ROS marks as ignorable for publishers.
	_, err := m.rpc.CallRPC(ctx, "registerPublisher", m.callerID, topic, msgType, slaveURI)
	return err
}

func (m *masterClient) unregisterPublisher(ctx context.Context, topic, slaveURI string) error {
	_, err := m.rpc.CallRPC(ctx, "unregisterPublisher", m.callerID, topic, slaveURI)
	return err
}

func toStringSlice(v interface{}) []string {
	rows, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := row.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Topic pairs a topic name with its message type, as returned by
// getTopicTypes.
type Topic struct {
	Name string
	Type string
}
