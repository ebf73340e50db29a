package ros

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brambleworks/rosgo/xmlrpc"
)

// slave hosts the node's inbound XML-RPC API: the handful of methods the
// master and peer nodes call to push updates and negotiate connections.
// Its URI is not known until the server binds, which happens in
// newSlave before any register call can reach the master.
type slave struct {
	name      string
	masterURI string
	master    *masterClient

	publications  *publicationsTracker
	subscriptions *subscriptionsTracker

	shutdown *ShutdownToken
	server   *xmlrpc.Server
	uri      string
	logger   logrus.FieldLogger

	drainOnce sync.Once
}

// newSlave binds the slave's XML-RPC server and starts its background
// teardown task. hostname is what the slave advertises in its URI; the
// address it actually listens on comes from bindAddressFor, which
// remaps to 0.0.0.0 when hostname isn't loopback.
func newSlave(name, masterURI, hostname string, master *masterClient, pubs *publicationsTracker, subs *subscriptionsTracker, shutdown *ShutdownToken, logger logrus.FieldLogger) (*slave, error) {
	s := &slave{
		name:          name,
		masterURI:     masterURI,
		master:        master,
		publications:  pubs,
		subscriptions: subs,
		shutdown:      shutdown,
		logger:        logger,
	}

	builder := xmlrpc.NewBuilder(logger)
	builder.Register("getMasterUri", s.getMasterURI)
	builder.Register("getPid", s.getPid)
	builder.Register("publisherUpdate", s.publisherUpdate)
	builder.Register("requestTopic", s.requestTopic)
	builder.Register("shutdown", s.shutdownMethod)

	bindHost := bindAddressFor(hostname)
	server, err := builder.Bind(net.JoinHostPort(bindHost, "0"), shutdown.Done())
	if err != nil {
		return nil, errors.Wrap(err, "slave: failed to bind xmlrpc server")
	}
	s.server = server

	_, portStr, err := net.SplitHostPort(server.Addr().String())
	if err != nil {
		return nil, errors.Wrap(err, "slave: failed to read bound address")
	}
	s.uri = fmt.Sprintf("http://%s:%s/", hostname, portStr)

	go s.awaitShutdownAndDrain()
	return s, nil
}

// bindAddressFor implements the hostname -> bind-address remapping: a
// non-loopback advertised hostname listens on every interface, while the
// advertised URI keeps the original hostname.
func bindAddressFor(hostname string) string {
	if hostname == "localhost" || strings.HasPrefix(hostname, "127.") || hostname == "::1" {
		return hostname
	}
	return "0.0.0.0"
}

// URI returns the slave's advertised XML-RPC endpoint.
func (s *slave) URI() string { return s.uri }

func (s *slave) getMasterURI(params []interface{}) (interface{}, error) {
	return s.masterURI, nil
}

func (s *slave) getPid(params []interface{}) (interface{}, error) {
	return os.Getpid(), nil
}

// publisherUpdate hands the new publisher list for topic to the
// subscriptions tracker's reconciliation path.
func (s *slave) publisherUpdate(params []interface{}) (interface{}, error) {
	callerID, topic, uris, err := decodePublisherUpdateParams(params)
	if err != nil {
		return nil, &xmlrpc.ClientError{Message: err.Error()}
	}
	s.logger.WithField("topic", topic).WithField("caller", callerID).Debug("slave: publisherUpdate")
	if err := s.subscriptions.addPublishers(context.Background(), s.name, topic, uris); err != nil {
		return nil, &xmlrpc.ServerError{Message: err.Error()}
	}
	return 0, nil
}

func decodePublisherUpdateParams(params []interface{}) (callerID, topic string, uris []string, err error) {
	if len(params) != 3 {
		return "", "", nil, errors.Errorf("publisherUpdate: expected 3 params, got %d", len(params))
	}
	callerID, ok := params[0].(string)
	if !ok {
		return "", "", nil, errors.New("publisherUpdate: caller_id is not a string")
	}
	topic, ok = params[1].(string)
	if !ok {
		return "", "", nil, errors.New("publisherUpdate: topic is not a string")
	}
	uris = toStringSlice(params[2])
	return callerID, topic, uris, nil
}

// requestTopic looks up topic's listening port and replies with the
// TCPROS protocol triple, faulting if the topic isn't published here or
// the peer didn't offer TCPROS.
func (s *slave) requestTopic(params []interface{}) (interface{}, error) {
	_, topic, protocols, err := decodeRequestTopicParams(params)
	if err != nil {
		return nil, &xmlrpc.ClientError{Message: err.Error()}
	}
	if !offersTCPROS(protocols) {
		return nil, &xmlrpc.ServerError{Message: "no compatible protocol offered"}
	}
	port, ok := s.publications.getPort(topic)
	if !ok {
		return nil, &xmlrpc.ServerError{Message: fmt.Sprintf("not publishing topic %q", topic)}
	}
	return []interface{}{"TCPROS", s.advertisedHostname(), port}, nil
}

// advertisedHostname extracts the hostname this slave advertises in its
// own URI, reused as the host requestTopic tells subscribers to dial.
func (s *slave) advertisedHostname() string {
	host, _, err := net.SplitHostPort(strings.TrimSuffix(strings.TrimPrefix(s.uri, "http://"), "/"))
	if err != nil {
		return s.uri
	}
	return host
}

func decodeRequestTopicParams(params []interface{}) (callerID, topic string, protocols []interface{}, err error) {
	if len(params) != 3 {
		return "", "", nil, errors.Errorf("requestTopic: expected 3 params, got %d", len(params))
	}
	callerID, ok := params[0].(string)
	if !ok {
		return "", "", nil, errors.New("requestTopic: caller_id is not a string")
	}
	topic, ok = params[1].(string)
	if !ok {
		return "", "", nil, errors.New("requestTopic: topic is not a string")
	}
	protocols, ok = params[2].([]interface{})
	if !ok {
		return "", "", nil, errors.New("requestTopic: protocols is not an array")
	}
	return callerID, topic, protocols, nil
}

func offersTCPROS(protocols []interface{}) bool {
	for _, p := range protocols {
		spec, ok := p.([]interface{})
		if !ok || len(spec) == 0 {
			continue
		}
		if name, ok := spec[0].(string); ok && name == "TCPROS" {
			return true
		}
	}
	return false
}

// shutdownMethod trips the node's shutdown token in response to a remote
// shutdown request (e.g. from roslaunch).
func (s *slave) shutdownMethod(params []interface{}) (interface{}, error) {
	msg := ""
	if len(params) >= 2 {
		msg, _ = params[1].(string)
	}
	s.logger.WithField("message", msg).Info("slave: shutdown requested over xmlrpc")
	s.shutdown.Shutdown()
	return 0, nil
}

// awaitShutdownAndDrain waits for the xmlrpc server to fully stop (which
// only happens once the shutdown token trips), then concurrently
// unregisters every still-registered publication and subscription with
// the master. All unregister errors are logged, never propagated.
func (s *slave) awaitShutdownAndDrain() {
	s.server.WaitForShutdown()
	s.drainOnce.Do(s.drain)
}

func (s *slave) drain() {
	c := context.Background()

	pubTopics := s.publications.removeAll()
	subTopics := s.subscriptions.removeAll()

	g, gctx := errgroup.WithContext(c)
	for _, topic := range pubTopics {
		topic := topic
		g.Go(func() error {
			if err := s.master.unregisterPublisher(gctx, topic, s.uri); err != nil {
				s.logger.WithError(err).WithField("topic", topic).Warn("slave: unregisterPublisher failed during shutdown")
			}
			return nil
		})
	}
	for _, topic := range subTopics {
		topic := topic
		g.Go(func() error {
			if err := s.master.unregisterSubscriber(gctx, topic, s.uri); err != nil {
				s.logger.WithError(err).WithField("topic", topic).Warn("slave: unregisterSubscriber failed during shutdown")
			}
			return nil
		})
	}
	_ = g.Wait() // every goroutine above always returns nil; errors are logged, not joined
}
