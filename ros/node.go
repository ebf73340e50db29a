package ros

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Node is a single participant in the ROS graph: one slave XML-RPC
// server plus whatever publishers and subscribers the application
// creates through it. Node is an ordinary Go value the caller
// constructs and owns; the process-wide singleton below is a thin,
// optional convenience layer over it, not the only way to get a Node.
type Node struct {
	args *nodeArgs

	master        *masterClient
	slave         *slave
	publications  *publicationsTracker
	subscriptions *subscriptionsTracker
	shutdown      *ShutdownToken
	clock         *Clock
	logger        logrus.FieldLogger
	metrics       *Metrics
}

// Option configures optional node behavior at Init time.
type Option func(*nodeConfig)

type nodeConfig struct {
	logger        logrus.FieldLogger
	metricsReg    prometheus.Registerer
	captureSigint bool
}

// WithLogger overrides the logger used for every component's log
// output. The default is a fresh logrus logger (logrus.New()) at Info
// level.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *nodeConfig) { c.logger = logger }
}

// WithMetricsRegistry turns on the optional Prometheus collectors:
// message/byte counters and connected-subscriber gauges. Nodes
// constructed without this option never touch Metrics.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(c *nodeConfig) { c.metricsReg = reg }
}

var (
	singletonMu sync.Mutex
	singleton   *Node
)

// Init constructs the process-wide singleton Node, resolving arguments
// from os.Args and the environment, and installs a SIGINT handler that
// trips the returned Node's shutdown token. It fails if a singleton
// already exists.
func Init(name string, opts ...Option) (*Node, error) {
	return InitWithArgs(context.Background(), name, os.Args[1:], true, opts...)
}

// InitWithArgs is Init with explicit args and SIGINT-capture control,
// for callers that supply their own arguments or don't want this package
// fighting over process-wide signal handling. Like Init, it fails if a
// singleton already exists; use NewNode for more than one node.
func InitWithArgs(ctx context.Context, name string, args []string, captureSigint bool, opts ...Option) (*Node, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return nil, errors.New("ros: a node already exists in this process")
	}

	n, err := NewNode(ctx, name, args, captureSigint, opts...)
	if err != nil {
		return nil, err
	}
	singleton = n
	return n, nil
}

// NewNode builds a standalone Node without touching the process
// singleton, for tests and applications that want more than one Node.
func NewNode(ctx context.Context, name string, args []string, captureSigint bool, opts ...Option) (*Node, error) {
	cfg := &nodeConfig{captureSigint: captureSigint}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.InfoLevel)
		cfg.logger = l
	}

	resolved, err := resolveArgs(name, args)
	if err != nil {
		return nil, errors.Wrap(err, "ros: failed to resolve node arguments")
	}

	shutdown := NewShutdownToken()
	master := newMasterClient(resolved.masterURI, resolved.qualifiedName)
	publications := newPublicationsTracker()
	subscriptions := newSubscriptionsTracker(cfg.logger)

	var metrics *Metrics
	if cfg.metricsReg != nil {
		metrics = NewMetrics(cfg.metricsReg)
	}

	sl, err := newSlave(resolved.qualifiedName, resolved.masterURI, resolved.hostname, master, publications, subscriptions, shutdown, cfg.logger)
	if err != nil {
		return nil, errors.Wrap(err, "ros: failed to start slave xmlrpc server")
	}

	n := &Node{
		args:          resolved,
		master:        master,
		slave:         sl,
		publications:  publications,
		subscriptions: subscriptions,
		shutdown:      shutdown,
		logger:        cfg.logger,
		metrics:       metrics,
	}

	// Liveness probe: a node whose master is unreachable at startup
	// should fail fast rather than silently queue registrations forever.
	if _, err := master.getURI(ctx); err != nil {
		shutdown.Shutdown()
		return nil, errors.Wrap(err, "ros: failed to reach master")
	}

	for k, v := range resolved.params {
		if err := master.setParam(ctx, k, v); err != nil {
			cfg.logger.WithError(err).WithField("param", k).Warn("ros: failed to set parameter from command line")
		}
	}

	if err := n.initSimTime(ctx); err != nil {
		shutdown.Shutdown()
		return nil, err
	}

	if captureSigint {
		n.installSigintHandler()
	}

	return n, nil
}

// installSigintHandler trips the node's shutdown token on SIGINT or
// SIGTERM.
func (n *Node) installSigintHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			n.logger.Info("ros: received interrupt, shutting down")
			n.Shutdown()
		case <-n.shutdown.Done():
		}
		signal.Stop(ch)
	}()
}

// initSimTime checks /use_sim_time and, if set, constructs a simulated
// clock and subscribes it to /clock.
func (n *Node) initSimTime(ctx context.Context) error {
	exists, err := n.master.hasParam(ctx, "/use_sim_time")
	if err != nil || !exists {
		n.clock = newWallClock()
		return nil
	}
	v, err := n.master.getParam(ctx, "/use_sim_time")
	if err != nil {
		n.clock = newWallClock()
		return nil
	}
	active, _ := v.(bool)
	if !active {
		n.clock = newWallClock()
		return nil
	}

	n.clock = newSimClock()
	sub, err := Subscribe(n, "/clock", 1, func() *clockMessage { return &clockMessage{} })
	if err != nil {
		return errors.Wrap(err, "ros: failed to subscribe to /clock for simulated time")
	}
	go func() {
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				n.clock.onClockMessage(ev.Message.ClockTime)
			case <-n.shutdown.Done():
				return
			}
		}
	}()
	return nil
}

// Name returns the node's fully qualified name (namespace + name).
func (n *Node) Name() string { return n.args.qualifiedName }

// MasterURI returns the URI of the master this node registered with.
func (n *Node) MasterURI() string { return n.args.masterURI }

// URI returns this node's own slave XML-RPC endpoint.
func (n *Node) URI() string { return n.slave.URI() }

// Logger returns the logger this node and its components log through.
func (n *Node) Logger() logrus.FieldLogger { return n.logger }

// Now returns the node's current notion of time: wall clock, or the
// latest /clock value if simulated time is active.
func (n *Node) Now() (Time, error) { return n.clock.Now() }

// IsUsingSimTime reports whether this node is sourcing time from /clock
// rather than the wall clock.
func (n *Node) IsUsingSimTime() bool { return n.clock.SimActive() }

// ShutdownToken exposes the node's shutdown token, for components that
// need to select on it directly.
func (n *Node) ShutdownToken() *ShutdownToken { return n.shutdown }

// Run blocks until Shutdown has been called, either locally or via the
// slave's "shutdown" XML-RPC method.
func (n *Node) Run() { n.shutdown.Wait() }

// Shutdown trips the node's shutdown token, unwinding every publisher,
// subscriber, and the slave's XML-RPC server.
func (n *Node) Shutdown() { n.shutdown.Shutdown() }

// Subscribe subscribes this node to topic, delivering decoded messages
// built by newMsg. queueSize of 0 means unbounded (clamped internally).
// It is a free function rather than a Node method because Go methods
// cannot carry their own type parameters.
func Subscribe[T Message](n *Node, topic string, queueSize int, newMsg func() T) (*Subscriber[T], error) {
	sample := newMsg()
	ctx := context.Background()

	core, err := n.subscriptions.add(topic, func() *subscriberCore {
		return newSubscriberCore(topic, n.args.qualifiedName, sample.MD5Sum(), sample.MsgType(), sample.MsgDefinition(), queueSize, n.logger)
	})
	if err != nil {
		return nil, &SubscriptionError{Op: "subscribe", Err: err}
	}

	publisherURIs, err := n.master.registerSubscriber(ctx, topic, sample.MsgType(), n.slave.URI())
	if err != nil {
		n.subscriptions.remove(topic)
		return nil, &SubscriptionError{Op: "registerSubscriber", Err: err}
	}

	if err := n.subscriptions.addPublishers(ctx, n.args.qualifiedName, topic, publisherURIs); err != nil {
		n.logger.WithError(err).WithField("topic", topic).Warn("subscribe: failed to connect to one or more publishers")
	}

	return newSubscriber(core, newMsg), nil
}

// Publish advertises topic to the master and returns a handle for
// sending messages built the way newMsg describes (used only to read
// the type's wire identity; Send takes the real payload per-call).
// Publishing the same topic twice from one node returns a second handle
// sharing the first's TCP listener.
func Publish[T Message](n *Node, topic string, queueSize int, newMsg func() T) (*Publisher[T], error) {
	sample := newMsg()
	ctx := context.Background()

	core, _, err := n.publications.add(topic, func() (*publisherCore, error) {
		return newPublisherCore(n.args.hostname, topic, n.args.qualifiedName, sample.MD5Sum(), sample.MsgType(), sample.MsgDefinition(), queueSize, n.clock, n.logger, n.metrics)
	})
	if err != nil {
		return nil, &PublisherError{Op: "publish", Err: err}
	}

	if err := n.master.registerPublisher(ctx, topic, sample.MsgType(), n.slave.URI()); err != nil {
		return nil, &PublisherError{Op: "registerPublisher", Err: err}
	}

	return &Publisher[T]{core: core}, nil
}

// Unadvertise stops publishing topic: the listener closes, connected
// subscribers are dropped, and the master is told. Removing a topic
// this node never published is a silent no-op.
func (n *Node) Unadvertise(ctx context.Context, topic string) error {
	if !n.publications.remove(topic) {
		return nil
	}
	return n.master.unregisterPublisher(ctx, topic, n.slave.URI())
}

// Unsubscribe tears down this node's subscription to topic and tells
// the master. Removing a topic this node never subscribed to is a
// silent no-op.
func (n *Node) Unsubscribe(ctx context.Context, topic string) error {
	if !n.subscriptions.remove(topic) {
		return nil
	}
	return n.master.unregisterSubscriber(ctx, topic, n.slave.URI())
}

// GetPort returns the TCP port a topic this node publishes is listening
// on, or false if this node isn't publishing it.
func (n *Node) GetPort(topic string) (int, bool) { return n.publications.getPort(topic) }

// --- Parameter server helpers ---

// Param is a typed handle onto one parameter server key, scoped to this
// node's caller id.
type Param struct {
	node *Node
	key  string
}

// Param returns a handle for key on the master's parameter server.
func (n *Node) Param(key string) *Param { return &Param{node: n, key: key} }

// Exists reports whether this parameter is currently set.
func (p *Param) Exists(ctx context.Context) (bool, error) {
	return p.node.master.hasParam(ctx, p.key)
}

// Set stores value under this parameter's key.
func (p *Param) Set(ctx context.Context, value interface{}) error {
	return p.node.master.setParam(ctx, p.key, value)
}

// Get retrieves this parameter's current value.
func (p *Param) Get(ctx context.Context) (interface{}, error) {
	return p.node.master.getParam(ctx, p.key)
}

// Delete removes this parameter from the server.
func (p *Param) Delete(ctx context.Context) error {
	return p.node.master.deleteParam(ctx, p.key)
}

// Search resolves this parameter's key the way roscpp's searchParam
// does: walking up the namespace looking for the first node that has it
// set.
func (p *Param) Search(ctx context.Context) (string, error) {
	return p.node.master.searchParam(ctx, p.key)
}

// GetParamNames lists every parameter key currently set on the master.
func (n *Node) GetParamNames(ctx context.Context) ([]string, error) {
	return n.master.getParamNames(ctx)
}

// GetTopicTypes lists every topic currently known to the master, with
// its message type.
func (n *Node) GetTopicTypes(ctx context.Context) ([]Topic, error) {
	return n.master.getTopicTypes(ctx)
}

// LookupNode resolves another node's XML-RPC URI by its fully qualified
// name.
func (n *Node) LookupNode(ctx context.Context, name string) (string, error) {
	return n.master.lookupNode(ctx, name)
}

// resetSingletonForTest clears the process-wide singleton. It exists
// only so this package's own test suite can exercise Init's duplicate
// check and then start a fresh node in the next test.
func resetSingletonForTest() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = nil
}
