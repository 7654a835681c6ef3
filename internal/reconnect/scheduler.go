// internal/reconnect/scheduler.go
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DialFunc performs exactly one connection attempt.
type DialFunc func() error

// Config holds the reconnection policy.
type Config struct {
	// MaxTrials is the number of failed attempts after which a gateway is
	// given up. 0 means unbounded.
	MaxTrials int

	BetweenTrials time.Duration

	// PoolSize bounds the number of attempts dialing at the same time.
	PoolSize int64

	// Observe, if set, is called after every scheduled attempt.
	Observe func(gateway string, err error)
}

type task struct {
	dial  DialFunc
	timer *time.Timer
}

// Scheduler issues delayed, debounced reconnection attempts per gateway.
// At most one task per gateway is pending or running at any time.
type Scheduler struct {
	cfg Config
	log zerolog.Logger
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*task
	trials   map[string]int
	terminal map[string]bool
	closed   bool
}

// New creates a Scheduler.
func New(cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.MaxTrials < 0 {
		cfg.MaxTrials = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		sem:      semaphore.NewWeighted(cfg.PoolSize),
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*task),
		trials:   make(map[string]int),
		terminal: make(map[string]bool),
	}
}

// Schedule arms an attempt for gateway after the inter-trial delay.
// Any task still pending for gateway is cancelled and replaced.
// It returns false when the gateway is terminal or the scheduler is closed.
func (s *Scheduler) Schedule(gateway string, dial DialFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.terminal[gateway] {
		return false
	}
	s.armLocked(gateway, dial)
	return true
}

// Failed records one failed connection attempt made outside the scheduler
// (the initial open). It reports whether another attempt is allowed; when
// not, the gateway becomes terminal.
func (s *Scheduler) Failed(gateway string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedLocked(gateway, err)
}

// Succeeded resets the trial counter after a successful connect.
func (s *Scheduler) Succeeded(gateway string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trials, gateway)
}

// Pending reports whether an attempt is armed or running for gateway.
func (s *Scheduler) Pending(gateway string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[gateway]
	return ok
}

// Terminal reports whether the trial budget of gateway is exhausted.
func (s *Scheduler) Terminal(gateway string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal[gateway]
}

// Trials returns the failed attempts since the last success.
func (s *Scheduler) Trials(gateway string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trials[gateway]
}

// Cancel drops the pending task of gateway.
// An attempt already dialing is not interrupted but will not re-arm.
func (s *Scheduler) Cancel(gateway string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(gateway)
}

// Reset cancels any task and clears the trial state of gateway, giving it a
// fresh budget.
func (s *Scheduler) Reset(gateway string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(gateway)
	delete(s.trials, gateway)
	delete(s.terminal, gateway)
}

// Close cancels every task and waits for running attempts to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id := range s.tasks {
		s.cancelLocked(id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// ---- internals ----

func (s *Scheduler) armLocked(gateway string, dial DialFunc) {
	s.cancelLocked(gateway)

	t := &task{dial: dial}
	s.wg.Add(1)
	t.timer = time.AfterFunc(s.cfg.BetweenTrials, func() {
		defer s.wg.Done()
		s.run(gateway, t)
	})
	s.tasks[gateway] = t

	s.log.Debug().
		Str("gateway", gateway).
		Dur("delay", s.cfg.BetweenTrials).
		Int("trial", s.trials[gateway]+1).
		Msg("reconnect scheduled")
}

func (s *Scheduler) cancelLocked(gateway string) {
	t, ok := s.tasks[gateway]
	if !ok {
		return
	}
	delete(s.tasks, gateway)
	if t.timer.Stop() {
		s.wg.Done()
	}
}

func (s *Scheduler) failedLocked(gateway string, err error) bool {
	s.trials[gateway]++
	n := s.trials[gateway]

	if s.cfg.MaxTrials == 0 || n < s.cfg.MaxTrials {
		s.log.Warn().Err(err).Str("gateway", gateway).Int("trial", n).Msg("connect failed")
		return true
	}

	s.terminal[gateway] = true
	s.log.Error().Err(err).Str("gateway", gateway).Int("trials", n).Msg("connect failed, giving up")
	return false
}

// current reports whether t still owns gateway.
func (s *Scheduler) current(gateway string, t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[gateway] == t
}

func (s *Scheduler) run(gateway string, t *task) {
	if !s.current(gateway, t) {
		return
	}
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	// Cancelled while waiting for a slot.
	if !s.current(gateway, t) {
		s.sem.Release(1)
		return
	}

	err := t.dial()
	s.sem.Release(1)

	if s.cfg.Observe != nil {
		s.cfg.Observe(gateway, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replaced or cancelled while dialing: the newer owner decides.
	if s.tasks[gateway] != t {
		return
	}
	delete(s.tasks, gateway)

	if err == nil {
		delete(s.trials, gateway)
		s.log.Info().Str("gateway", gateway).Msg("reconnected")
		return
	}
	if s.closed || !s.failedLocked(gateway, err) {
		return
	}
	s.armLocked(gateway, t.dial)
}
