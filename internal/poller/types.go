// internal/poller/types.go
package poller

import (
	"time"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/registry"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
)

// State is the lifecycle position of a poller.
type State int32

const (
	StateIdle State = iota
	StateReading
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Registry is the read side of the register tables the poller needs.
type Registry interface {
	Snapshot(gateway string) []register.Descriptor
	Consumers(key register.Key) []registry.Consumer
	Descriptor(key register.Key) (register.Descriptor, bool)
}

// Link gives the poller access to its gateway connection.
type Link interface {
	// Live returns the published connection when it is connected.
	Live() (transport.Conn, bool)

	// Drop closes conn, unpublishes it and schedules a reconnection.
	Drop(conn transport.Conn, reason string)

	// EnsureReconnect arms a reconnection unless one is pending or the
	// gateway gave up.
	EnsureReconnect()
}

// Config is the runtime config of one poller.
type Config struct {
	Gateway           string
	Interval          time.Duration
	DefaultGap        time.Duration
	BlacklistCycles   int
	DisconnectOnError bool
}

// CycleResult summarises one poll cycle.
type CycleResult struct {
	At time.Time

	Read        int // successful reads
	Failed      int // reads that failed
	Skipped     int // blacklisted registers left out of the sweep
	Unreachable int // registers reported unreachable without a request of their own

	Dropped bool // the connection was closed during this cycle
	Aborted bool // cancelled during a sleep
}
