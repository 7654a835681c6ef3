// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/metrics"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
)

// Poller sweeps the registers of one gateway, one request at a time.
type Poller struct {
	cfg  Config
	reg  Registry
	link Link
	bl   *Blacklist

	metrics *metrics.Metrics
	log     zerolog.Logger

	state   atomic.Int32
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a poller with immutable config.
func New(cfg Config, reg Registry, link Link, m *metrics.Metrics, log zerolog.Logger) (*Poller, error) {
	if cfg.Gateway == "" {
		return nil, errors.New("poller: gateway required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if reg == nil || link == nil {
		return nil, errors.New("poller: registry and link required")
	}

	p := &Poller{
		cfg:     cfg,
		reg:     reg,
		link:    link,
		bl:      NewBlacklist(cfg.BlacklistCycles),
		metrics: m,
		log:     log.With().Str("gateway", cfg.Gateway).Logger(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.running.Store(true)
	return p, nil
}

// Blacklist exposes the poller's blacklist for removal and inspection.
func (p *Poller) Blacklist() *Blacklist { return p.bl }

// State returns the current lifecycle state.
func (p *Poller) State() State { return State(p.state.Load()) }

func (p *Poller) setState(s State) { p.state.Store(int32(s)) }

// ReadRegister performs one read of d over conn and decodes it.
func ReadRegister(conn transport.Conn, d register.Descriptor) (codec.Value, error) {
	req, err := codec.BuildReadRequest(d)
	if err != nil {
		return codec.Value{}, err
	}
	resp, err := conn.Transaction(d.Timeout).Execute(req)
	if err != nil {
		return codec.Value{}, err
	}
	return codec.Decode(d, resp)
}

// PollOnce performs exactly one poll cycle.
// Failures never escape: they become blacklist entries and reachability
// callbacks.
func (p *Poller) PollOnce(ctx context.Context) CycleResult {
	p.setState(StateReading)
	res := CycleResult{At: time.Now()}

	snap := p.reg.Snapshot(p.cfg.Gateway)

	conn, live := p.link.Live()
	if !live {
		for _, d := range snap {
			p.unreachable(d, status.Unreachable)
		}
		res.Unreachable = len(snap)
		p.metrics.ObserveUnreachable(p.cfg.Gateway, len(snap))
		if p.running.Load() {
			p.link.EnsureReconnect()
		}
		p.bl.EndCycle(nil, nil)
		p.metrics.ObserveCycle(p.cfg.Gateway, time.Since(res.At), p.bl.Len())
		return res
	}

	active := make([]register.Descriptor, 0, len(snap))
	for _, d := range snap {
		if p.bl.Contains(d.Key()) {
			res.Skipped++
			continue
		}
		active = append(active, d)
	}

	var (
		failed    []register.Key
		attempted int
		dropWhy   string
	)

	for i, d := range active {
		attempted++
		v, err := ReadRegister(conn, d)
		p.metrics.ObserveRead(p.cfg.Gateway, err)

		if err == nil {
			res.Read++
			p.deliver(d, v)
		} else {
			cat := status.Classify(err)
			p.log.Debug().Err(err).
				Uint8("slave", d.SlaveID).
				Uint16("address", d.Address).
				Str("category", cat.String()).
				Msg("read failed")

			res.Failed++
			failed = append(failed, d.Key())
			p.unreachable(d, cat)

			switch {
			case !conn.IsConnected():
				dropWhy = "connection lost"
			case p.cfg.DisconnectOnError:
				dropWhy = "transaction error"
			}
			if dropWhy != "" {
				// The rest of the sweep gets no request this cycle.
				rest := active[i+1:]
				for _, r := range rest {
					p.unreachable(r, status.Unreachable)
				}
				res.Unreachable += len(rest)
				break
			}
		}

		if err := p.sleep(ctx, p.gap(d), false); err != nil {
			p.log.Warn().Err(err).Msg("poll cycle aborted")
			res.Aborted = true
			return res
		}
	}

	if dropWhy == "" && attempted > 0 && len(failed) == attempted {
		dropWhy = "all registers failed"
	}
	if dropWhy != "" && p.running.Load() {
		res.Dropped = true
		p.log.Warn().Str("reason", dropWhy).Msg("closing connection")
		p.link.Drop(conn, dropWhy)
	}

	p.bl.EndCycle(failed, p.registered)
	p.metrics.ObserveCycle(p.cfg.Gateway, time.Since(res.At), p.bl.Len())
	return res
}

func (p *Poller) registered(k register.Key) bool {
	_, ok := p.reg.Descriptor(k)
	return ok
}

func (p *Poller) gap(d register.Descriptor) time.Duration {
	if d.Gap > p.cfg.DefaultGap {
		return d.Gap
	}
	return p.cfg.DefaultGap
}

func (p *Poller) deliver(d register.Descriptor, v codec.Value) {
	for _, c := range p.reg.Consumers(d.Key()) {
		c.OnValue(d, v)
		c.OnReachability(d, true, status.None)
	}
}

func (p *Poller) unreachable(d register.Descriptor, cat status.Category) {
	for _, c := range p.reg.Consumers(d.Key()) {
		c.OnReachability(d, false, cat)
	}
}
