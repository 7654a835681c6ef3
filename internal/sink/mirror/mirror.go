// internal/sink/mirror/mirror.go
package mirror

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
)

var ErrClosed = errors.New("mirror: closed")

// Table is the target object table a value is mirrored into.
type Table uint8

const (
	TableCoils Table = iota + 1
	TableHolding
)

// Placement returns where d lands in the target: booleans go to coils,
// numbers to holding registers, both shifted by offset.
// A bit of a holding/input register lands on coil address*16+bit.
// ok is false when the range does not fit the 16-bit address space.
func Placement(d register.Descriptor, offset uint16) (t Table, addr uint16, count int, ok bool) {
	var start int
	switch {
	case d.Kind.Bitwise():
		t, start, count = TableCoils, int(d.Address), 1
	case d.Size == register.SizeBit:
		t, start, count = TableCoils, int(d.Address)*16+int(d.Bit), 1
	default:
		t, start, count = TableHolding, int(d.Address), d.Size.Registers()
	}
	start += int(offset)
	if start+count-1 > 0xFFFF {
		return t, 0, count, false
	}
	return t, uint16(start), count, true
}

// Config describes one source gateway mirrored into one target slave.
type Config struct {
	SlaveID uint8
	Offset  uint16

	// StatusSlot enables the status block at StatusSlot*SlotsPerDevice.
	StatusSlot *uint16
	DeviceName string

	// Tick is the seconds_in_error period; tests shorten it.
	Tick   time.Duration
	Buffer int
}

type job struct {
	d         register.Descriptor
	v         codec.Value
	value     bool // false: reachability report
	reachable bool
	cat       status.Category
}

// Sink replicates the values of one source gateway into a target slave
// and keeps a status block for it. Writes run on one goroutine which
// owns the health state.
type Sink struct {
	cfg Config
	cli endpointClient
	sw  *statusWriter
	log zerolog.Logger

	jobs chan job
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64

	// worker-owned
	block   Block
	failing map[register.Key]status.Category
}

// New starts a sink writing through cli.
func New(cli endpointClient, cfg Config, log zerolog.Logger) *Sink {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}

	s := &Sink{
		cfg:     cfg,
		cli:     cli,
		log:     log.With().Str("component", "sink.mirror").Logger(),
		jobs:    make(chan job, cfg.Buffer),
		done:    make(chan struct{}),
		block:   Block{Health: HealthUnknown},
		failing: make(map[register.Key]status.Category),
	}
	if cfg.StatusSlot != nil {
		s.sw = newStatusWriter(cli, cfg.SlaveID, *cfg.StatusSlot, cfg.DeviceName)
	}
	go s.run()
	return s
}

// ---- consumer ----

func (s *Sink) OnValue(d register.Descriptor, v codec.Value) {
	s.enqueue(job{d: d, v: v, value: true})
}

func (s *Sink) OnReachability(d register.Descriptor, reachable bool, cat status.Category) {
	s.enqueue(job{d: d, reachable: reachable, cat: cat})
}

// Dropped returns the number of jobs discarded on a full queue.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Sink) enqueue(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- j:
	default:
		s.dropped++
	}
}

// Close finishes queued writes and stops the worker.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	<-s.done
	return nil
}

// ---- worker ----

func (s *Sink) run() {
	defer close(s.done)

	tick := time.NewTicker(s.cfg.Tick)
	defer tick.Stop()

	// Full block write on start (identity re-assert).
	s.writeStatus()

	for {
		select {
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			if j.value {
				s.mirror(j.d, j.v)
			} else {
				s.health(j.d, j.reachable, j.cat)
			}

		case <-tick.C:
			// Count seconds while not OK; never wrap.
			if s.block.Health != HealthOK && s.block.SecondsInError < 0xFFFF {
				s.block.SecondsInError++
				s.writeStatus()
			}
		}
	}
}

func (s *Sink) mirror(d register.Descriptor, v codec.Value) {
	t, addr, _, ok := Placement(d, s.cfg.Offset)
	if !ok {
		s.log.Warn().Str("register", d.Key().String()).Msg("target address out of range")
		return
	}

	var err error
	switch t {
	case TableCoils:
		b, isBool := v.Bool()
		if !isBool {
			s.log.Warn().Str("register", d.Key().String()).Msg("non-boolean value for coil target")
			return
		}
		err = s.cli.WriteBits(s.cfg.SlaveID, addr, []bool{b})

	case TableHolding:
		// Re-encode with the source layout, so the target holds the same raw words.
		td := d
		td.Kind = register.KindHolding
		td.Address = addr
		td.SlaveID = s.cfg.SlaveID

		req, encErr := codec.BuildWriteRequest(td, v, nil)
		if encErr != nil {
			s.log.Warn().Err(encErr).Str("register", d.Key().String()).Msg("cannot encode mirrored value")
			return
		}
		err = s.cli.WriteRegisters(s.cfg.SlaveID, addr, req.Words)
	}

	if err != nil {
		s.log.Warn().Err(err).
			Str("register", d.Key().String()).
			Uint8("target_slave", s.cfg.SlaveID).
			Uint16("target_address", addr).
			Msg("mirror write failed")
	}
}

// health folds one reachability report into the block. The device is OK
// once no register is failing.
func (s *Sink) health(d register.Descriptor, reachable bool, cat status.Category) {
	if reachable {
		delete(s.failing, d.Key())
	} else {
		s.failing[d.Key()] = cat
	}

	next := s.block
	if len(s.failing) == 0 {
		next = Block{Health: HealthOK}
	} else {
		next.Health = HealthError
		if !reachable {
			next.LastErrorCode = uint16(cat)
		}
	}

	if next == s.block {
		return
	}
	s.block = next
	s.writeStatus()
}

func (s *Sink) writeStatus() {
	if s.sw == nil {
		return
	}
	if err := s.sw.WriteStatus(s.block); err != nil {
		s.log.Warn().Err(err).Msg("status write failed")
	}
}
