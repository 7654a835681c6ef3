// internal/poller/runner.go
package poller

import (
	"context"
	"errors"
	"time"
)

var errStopped = errors.New("poller: stopped")

// Run loops PollOnce and the interval sleep until Stop or ctx cancellation.
// One goroutine per gateway. No overlap. No self-restart.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)
	defer p.setState(StateStopped)

	p.log.Info().Dur("interval", p.cfg.Interval).Msg("poller started")
	defer p.log.Info().Msg("poller stopped")

	for p.running.Load() {
		res := p.PollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if res.Aborted || !p.running.Load() {
			continue
		}

		p.setState(StateSleeping)
		if err := p.sleep(ctx, p.cfg.Interval, true); err != nil {
			if !errors.Is(err, errStopped) {
				p.log.Warn().Err(err).Msg("poll sleep interrupted")
			}
		}
	}
}

// Stop ends the loop at the next cycle boundary. It does not wait.
func (p *Poller) Stop() {
	if p.running.Swap(false) {
		close(p.stop)
	}
}

// Done is closed once Run has returned.
func (p *Poller) Done() <-chan struct{} { return p.done }

// sleep waits d. Gap sleeps only yield to ctx; the interval sleep also
// yields to Stop since it sits on a cycle boundary.
func (p *Poller) sleep(ctx context.Context, d time.Duration, boundary bool) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	stop := p.stop
	if !boundary {
		stop = nil
	}

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return errStopped
	}
}
