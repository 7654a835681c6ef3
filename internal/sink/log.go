// internal/sink/log.go
package sink

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
)

// Log is a consumer writing every value at debug level and every
// reachability change at info/warn level.
type Log struct {
	log zerolog.Logger

	mu   sync.Mutex
	last map[register.Key]status.Category
}

// NewLog returns a log consumer.
func NewLog(log zerolog.Logger) *Log {
	return &Log{
		log:  log.With().Str("component", "sink.log").Logger(),
		last: make(map[register.Key]status.Category),
	}
}

func (l *Log) OnValue(d register.Descriptor, v codec.Value) {
	l.log.Debug().
		Str("gateway", d.Gateway.ID()).
		Uint8("slave", d.SlaveID).
		Uint16("address", d.Address).
		Str("name", d.Name).
		Str("value", v.String()).
		Msg("value")
}

func (l *Log) OnReachability(d register.Descriptor, reachable bool, cat status.Category) {
	if reachable {
		cat = status.None
	}
	if !l.changed(d.Key(), cat) {
		return
	}

	ev := l.log.Info()
	if !reachable {
		ev = l.log.Warn()
	}
	ev.Str("gateway", d.Gateway.ID()).
		Uint8("slave", d.SlaveID).
		Uint16("address", d.Address).
		Str("name", d.Name).
		Bool("reachable", reachable).
		Stringer("status", cat).
		Msg("reachability changed")
}

// changed records cat and reports whether it differs from the last one.
// The first report of a reachable register is not a change.
func (l *Log) changed(k register.Key, cat status.Category) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, seen := l.last[k]
	l.last[k] = cat
	if !seen {
		return cat != status.None
	}
	return prev != cat
}
