// internal/transport/conn.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/wire"
)

// ErrTransactionID is returned when a response carries a transaction id
// outside the accepted window.
var ErrTransactionID = errors.New("transport: transaction id outside accepted window")

// Conn owns one connection to one gateway.
// At most one transaction runs on a Conn at any time.
type Conn interface {
	ID() string
	Connect() error
	IsConnected() bool
	Close() error

	// Transaction returns a request executor bound to this connection.
	// timeout <= 0 uses the connection default.
	Transaction(timeout time.Duration) Transaction
}

// Transaction executes one request/response exchange, including the
// configured intra-transaction retries.
type Transaction interface {
	Execute(req wire.Request) (*wire.Response, error)
}

// Options are the connection tunables shared by every transport variant.
type Options struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration

	// Transaction id validation, plain TCP only.
	CheckID    bool
	MaxIDDelta uint16

	Logger zerolog.Logger
}

// backend is one transport variant.
// All calls are serialised by conn.opMu.
type backend interface {
	open() error
	close() error
	begin()
	do(req wire.Request, timeout time.Duration) (*wire.Response, error)
}

// New builds an unconnected Conn for gw. The variant is chosen from gw.Transport.
func New(gw register.Gateway, opts Options) (Conn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}

	var (
		b   backend
		err error
	)
	switch gw.Transport {
	case register.TransportTCP:
		b = newTCPBackend(gw, opts)
	case register.TransportRTU:
		b = newRTUBackend(gw, opts)
	case register.TransportRTUOverTCP, register.TransportRTUOverUDP:
		b, err = newTunnelBackend(gw, opts)
	default:
		return nil, fmt.Errorf("transport: unsupported transport %q", gw.Transport)
	}
	if err != nil {
		return nil, err
	}

	return &conn{
		id:      gw.ID(),
		opts:    opts,
		backend: b,
		log:     opts.Logger.With().Str("gateway", gw.ID()).Logger(),
	}, nil
}

type conn struct {
	id      string
	opts    Options
	backend backend
	log     zerolog.Logger

	opMu      sync.Mutex
	connected atomic.Bool
}

func (c *conn) ID() string { return c.id }

// Connect opens the underlying transport once. It never retries.
func (c *conn) Connect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.connected.Load() {
		return nil
	}
	if err := c.backend.open(); err != nil {
		c.log.Warn().Err(err).Msg("connect failed")
		return fmt.Errorf("transport: connect %s: %w", c.id, err)
	}
	c.connected.Store(true)
	c.log.Info().Msg("connected")
	return nil
}

func (c *conn) IsConnected() bool { return c.connected.Load() }

func (c *conn) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	wasConnected := c.connected.Swap(false)
	err := c.backend.close()
	if wasConnected {
		c.log.Info().Msg("closed")
	}
	return err
}

func (c *conn) Transaction(timeout time.Duration) Transaction {
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	return &transaction{c: c, timeout: timeout}
}

// ---- transaction ----

type transaction struct {
	c       *conn
	timeout time.Duration
}

// Execute runs req, retrying I/O failures up to Options.Retries times.
// Slave exceptions are never retried.
func (t *transaction) Execute(req wire.Request) (*wire.Response, error) {
	c := t.c
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.connected.Load() {
		return nil, status.ErrNotConnected
	}

	c.backend.begin()

	for attempt := 0; ; attempt++ {
		resp, err := c.backend.do(req, t.timeout)
		if err == nil {
			return resp, nil
		}
		err = normalize(err)

		if linkLost(err) {
			c.connected.Store(false)
			c.log.Warn().Err(err).Str("request", req.String()).Msg("link lost")
			return nil, err
		}

		var ex *status.Exception
		if errors.As(err, &ex) || attempt >= c.opts.Retries {
			return nil, err
		}

		c.log.Debug().Err(err).Int("attempt", attempt+1).Str("request", req.String()).Msg("retrying")
		if c.opts.RetryDelay > 0 {
			time.Sleep(c.opts.RetryDelay)
		}
	}
}

// ---- error helpers ----

// linkLost reports errors after which the stream cannot be reused.
// Timeouts leave the connection up.
func linkLost(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

// normalize maps library specific exception errors to status.Exception.
func normalize(err error) error {
	if ex := goburrowException(err); ex != nil {
		return ex
	}
	if ex := tunnelException(err); ex != nil {
		return ex
	}
	return err
}
