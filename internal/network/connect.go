// internal/network/connect.go
package network

import (
	"errors"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/reconnect"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/registry"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
)

// open makes the synchronous first connection attempt for a gateway.
// Failure never retries inline: it is counted and a reconnection is armed.
// It must be called without mu.
func (n *Network) open(id string, gw register.Gateway) {
	if _, live := n.reg.LiveConn(id); live {
		return
	}

	conn, err := n.dial(gw, n.transportOptions())
	if err != nil {
		n.log.Error().Err(err).Str("gateway", id).Msg("cannot build connection")
		return
	}
	if err := conn.Connect(); err != nil {
		n.metrics.SetConnected(id, false)
		if n.sched.Failed(id, err) {
			n.sched.Schedule(id, n.redial(id))
		}
		return
	}
	n.publish(conn)
}

// publish makes conn the live connection of its gateway.
// It runs without mu held by the caller.
func (n *Network) publish(conn transport.Conn) {
	id := conn.ID()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		conn.Close()
		return
	}

	old, err := n.reg.SetConn(conn)
	if err != nil {
		// Gateway removed meanwhile, or another live connection won.
		if !errors.Is(err, registry.ErrUnknownGateway) {
			n.log.Warn().Err(err).Str("gateway", id).Msg("discarding connection")
		}
		conn.Close()
		return
	}
	if old != nil {
		old.Close()
	}
	n.sched.Succeeded(id)
	n.metrics.SetConnected(id, true)
}

// redial returns the attempt run by the scheduler for id.
func (n *Network) redial(id string) reconnect.DialFunc {
	return func() error {
		gw, ok := n.reg.Gateway(id)
		if !ok {
			return nil
		}
		if _, live := n.reg.LiveConn(id); live {
			return nil
		}

		conn, err := n.dial(gw, n.transportOptions())
		if err != nil {
			return err
		}
		if err := conn.Connect(); err != nil {
			return err
		}
		n.publish(conn)
		return nil
	}
}

// reconnect arms a (debounced) attempt for a registered gateway.
func (n *Network) reconnect(id string) {
	if _, ok := n.reg.Gateway(id); !ok {
		return
	}
	n.sched.Schedule(id, n.redial(id))
}

// ensureReconnect arms an attempt unless one is already on its way or the
// gateway gave up. Re-arming a pending attempt would postpone it forever
// when called every cycle.
func (n *Network) ensureReconnect(id string) {
	if n.sched.Pending(id) || n.sched.Terminal(id) {
		return
	}
	n.reconnect(id)
}

// ---- poller link ----

type link struct {
	n  *Network
	id string
}

func (l *link) Live() (transport.Conn, bool) {
	return l.n.reg.LiveConn(l.id)
}

// Drop unpublishes conn before closing it, so concurrent readers see
// "not connected" at once, then schedules a reconnection.
func (l *link) Drop(conn transport.Conn, reason string) {
	l.n.reg.DropConn(l.id, conn)
	if err := conn.Close(); err != nil {
		l.n.log.Debug().Err(err).Str("gateway", l.id).Msg("close after failure")
	}
	l.n.metrics.SetConnected(l.id, false)
	l.n.log.Warn().Str("gateway", l.id).Str("reason", reason).Msg("connection dropped, reconnecting")
	l.n.reconnect(l.id)
}

func (l *link) EnsureReconnect() {
	l.n.ensureReconnect(l.id)
}
