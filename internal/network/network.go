// internal/network/network.go
package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/metrics"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/poller"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/reconnect"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/registry"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("network: closed")

// TransactionConfig holds the per-transaction tunables.
type TransactionConfig struct {
	Retries           int
	RetryDelay        time.Duration
	CheckID           bool
	MaxIDDelta        uint16
	DisconnectOnError bool
}

// Config holds the process-wide engine tunables.
type Config struct {
	PollingInterval time.Duration
	DefaultGap      time.Duration
	DefaultTimeout  time.Duration
	BlacklistCycles int

	Reconnect   reconnect.Config
	Transaction TransactionConfig
}

// Dialer builds an unconnected connection for a gateway.
type Dialer func(gw register.Gateway, opts transport.Options) (transport.Conn, error)

// Option customises a Network.
type Option func(*Network)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(n *Network) { n.log = log }
}

// WithMetrics records engine metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Network) { n.metrics = m }
}

// WithDialer replaces transport.New.
func WithDialer(d Dialer) Option {
	return func(n *Network) { n.dial = d }
}

// Network is the entry point used by consumers: registration, on-demand
// reads and writes, and status.
type Network struct {
	cfg     Config
	reg     *registry.Registry
	sched   *reconnect.Scheduler
	dial    Dialer
	metrics *metrics.Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises registry mutation with poller lifecycle.
	mu      sync.Mutex
	pollers map[string]*poller.Poller
	closed  bool
}

// New creates an idle network. Connections open on the first AddRegister
// of each gateway.
func New(cfg Config, opts ...Option) *Network {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Second
	}

	n := &Network{
		cfg:     cfg,
		reg:     registry.New(),
		dial:    transport.New,
		log:     zerolog.Nop(),
		pollers: make(map[string]*poller.Poller),
	}
	for _, o := range opts {
		o(n)
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())

	rc := cfg.Reconnect
	rc.Observe = func(gateway string, err error) {
		n.metrics.ObserveReconnect(gateway, err)
	}
	n.sched = reconnect.New(rc, n.log.With().Str("component", "reconnect").Logger())
	return n
}

func (n *Network) transportOptions() transport.Options {
	return transport.Options{
		Timeout:    n.cfg.DefaultTimeout,
		Retries:    n.cfg.Transaction.Retries,
		RetryDelay: n.cfg.Transaction.RetryDelay,
		CheckID:    n.cfg.Transaction.CheckID,
		MaxIDDelta: n.cfg.Transaction.MaxIDDelta,
		Logger:     n.log,
	}
}

// ---- registration ----

// AddRegister subscribes c to d. It is idempotent. The first registration
// of a gateway opens its connection and starts its poller; a registration
// on a gateway that gave up reconnecting restarts the attempts.
//
// Malformed descriptors fail here with a *register.ConfigError.
func (n *Network) AddRegister(d register.Descriptor, c registry.Consumer) error {
	if err := d.Validate(); err != nil {
		return err
	}

	id := d.Gateway.ID()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.reg.Add(d, c)

	_, running := n.pollers[id]
	retry := running && n.sched.Terminal(id)
	if !running || retry {
		n.sched.Reset(id)
	}
	n.mu.Unlock()

	if running && !retry {
		return nil
	}
	if retry {
		n.log.Info().Str("gateway", id).Msg("new registration, retrying connection")
	}

	// Connect runs without mu: a dead gateway must not stall registrations
	// and status of the others.
	n.open(id, d.Gateway)
	if running {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	// Removed while connecting, or a concurrent registration won.
	if _, ok := n.reg.Gateway(id); !ok || n.pollers[id] != nil {
		return nil
	}
	return n.startPoller(id)
}

// RemoveRegister unsubscribes c from d. When the gateway loses its last
// register, its poller stops, pending reconnection is cancelled and the
// connection is closed.
func (n *Network) RemoveRegister(d register.Descriptor, c registry.Consumer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := d.Key()
	dropped, empty := n.reg.Remove(key, c)
	if dropped {
		n.unblacklist(key)
	}
	if empty {
		n.teardown(key.Gateway)
	}
}

// RemoveConsumer unsubscribes c from all its registers.
func (n *Network) RemoveConsumer(c registry.Consumer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	dropped, emptied := n.reg.RemoveConsumer(c)
	for _, k := range dropped {
		n.unblacklist(k)
	}
	for _, id := range emptied {
		n.teardown(id)
	}
}

func (n *Network) unblacklist(key register.Key) {
	if p := n.pollers[key.Gateway]; p != nil {
		p.Blacklist().Remove(key)
	}
}

func (n *Network) startPoller(id string) error {
	p, err := poller.New(poller.Config{
		Gateway:           id,
		Interval:          n.cfg.PollingInterval,
		DefaultGap:        n.cfg.DefaultGap,
		BlacklistCycles:   n.cfg.BlacklistCycles,
		DisconnectOnError: n.cfg.Transaction.DisconnectOnError,
	}, n.reg, &link{n: n, id: id}, n.metrics, n.log)
	if err != nil {
		return err
	}
	n.pollers[id] = p
	go p.Run(n.ctx)
	return nil
}

func (n *Network) teardown(id string) {
	if p := n.pollers[id]; p != nil {
		p.Stop()
		delete(n.pollers, id)
	}
	n.sched.Reset(id)
	if c := n.reg.DropConn(id, nil); c != nil {
		if err := c.Close(); err != nil {
			n.log.Warn().Err(err).Str("gateway", id).Msg("close failed")
		}
	}
	n.metrics.Forget(id)
	n.log.Info().Str("gateway", id).Msg("gateway released")
}

// ---- status ----

// Status returns one snapshot per registered gateway, sorted by id.
func (n *Network) Status() []status.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := n.reg.Gateways()
	out := make([]status.Snapshot, 0, len(ids))
	for _, id := range ids {
		regs, cons := n.reg.Counts(id)
		_, live := n.reg.LiveConn(id)
		s := status.Snapshot{
			Gateway:   id,
			Connected: live,
			Reconnect: n.sched.Pending(id),
			Terminal:  n.sched.Terminal(id),
			Trials:    n.sched.Trials(id),
			Registers: regs,
			Consumers: cons,
		}
		if p := n.pollers[id]; p != nil {
			s.Blacklisted = p.Blacklist().Len()
		}
		out = append(out, s)
	}
	return out
}

// Close stops every poller, then closes every connection. Connections
// completing after Close are discarded.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true

	pollers := make([]*poller.Poller, 0, len(n.pollers))
	for id, p := range n.pollers {
		p.Stop()
		pollers = append(pollers, p)
		delete(n.pollers, id)
	}
	n.mu.Unlock()

	n.cancel()
	for _, p := range pollers {
		<-p.Done()
	}
	n.sched.Close()

	var errs []error
	for _, id := range n.reg.Gateways() {
		if c := n.reg.DropConn(id, nil); c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		n.metrics.SetConnected(id, false)
	}
	n.log.Info().Msg("network closed")
	return errors.Join(errs...)
}
