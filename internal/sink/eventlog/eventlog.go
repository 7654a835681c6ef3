// internal/sink/eventlog/eventlog.go
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
)

var ErrClosed = errors.New("eventlog: closed")

// Event types.
const (
	TypeValueChanged = "value_changed"
	TypeUnreachable  = "unreachable"
	TypeReachable    = "reachable"
)

// Event is one row of the events table.
type Event struct {
	Timestamp     time.Time
	Gateway       string
	SlaveID       uint8
	Address       uint16
	Name          string
	PreviousValue string
	NewValue      string
	Unit          string
	Type          string
	Status        string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    gateway TEXT NOT NULL,
    slave_id INTEGER NOT NULL,
    address INTEGER NOT NULL,
    name TEXT,
    previous_value TEXT,
    new_value TEXT,
    unit TEXT,
    event_type TEXT NOT NULL,
    status TEXT
);`

const insertSQL = `INSERT INTO events(timestamp, gateway, slave_id, address, name, previous_value, new_value, unit, event_type, status)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const timeLayout = "2006-01-02 15:04:05.000"

type state struct {
	value     string
	reachable bool
	seen      bool
}

// Log is a consumer that records value changes and reachability
// transitions into a SQLite database. Rows are written by one goroutine.
type Log struct {
	db  *sql.DB
	log zerolog.Logger

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	last   map[register.Key]*state
}

// Open opens (or creates) the database at path and starts the writer.
func Open(path string, log zerolog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: create table in %s: %w", path, err)
	}

	l := &Log{
		db:     db,
		log:    log.With().Str("component", "sink.eventlog").Logger(),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		last:   make(map[register.Key]*state),
	}
	go l.writer()
	return l, nil
}

func (l *Log) writer() {
	defer close(l.done)

	stmt, err := l.db.Prepare(insertSQL)
	if err != nil {
		l.log.Error().Err(err).Msg("prepare insert failed, events are discarded")
		for range l.events {
		}
		return
	}
	defer stmt.Close()

	for ev := range l.events {
		_, err := stmt.Exec(
			ev.Timestamp.UTC().Format(timeLayout),
			ev.Gateway,
			ev.SlaveID,
			ev.Address,
			ev.Name,
			ev.PreviousValue,
			ev.NewValue,
			ev.Unit,
			ev.Type,
			ev.Status,
		)
		if err != nil {
			l.log.Error().Err(err).Str("type", ev.Type).Msg("insert failed")
		}
	}
}

// ---- consumer ----

func (l *Log) OnValue(d register.Descriptor, v codec.Value) {
	text := v.Number()

	l.mu.Lock()
	st := l.stateLocked(d.Key())
	prev, changed := st.value, !st.seen || st.value != text
	st.value, st.seen = text, true
	l.mu.Unlock()

	if !changed {
		return
	}
	l.emit(event(d, TypeValueChanged, func(e *Event) {
		e.PreviousValue = prev
		e.NewValue = text
		e.Unit = v.Unit
	}))
}

func (l *Log) OnReachability(d register.Descriptor, reachable bool, cat status.Category) {
	l.mu.Lock()
	st := l.stateLocked(d.Key())
	changed := st.reachable != reachable
	st.reachable = reachable
	l.mu.Unlock()

	if !changed {
		return
	}
	typ := TypeReachable
	if !reachable {
		typ = TypeUnreachable
	}
	l.emit(event(d, typ, func(e *Event) { e.Status = cat.String() }))
}

// stateLocked returns the tracked state of k. Registers start reachable, so
// the first successful read is not recorded as a transition.
func (l *Log) stateLocked(k register.Key) *state {
	st, ok := l.last[k]
	if !ok {
		st = &state{reachable: true}
		l.last[k] = st
	}
	return st
}

func event(d register.Descriptor, typ string, fill func(*Event)) Event {
	e := Event{
		Timestamp: time.Now(),
		Gateway:   d.Gateway.ID(),
		SlaveID:   d.SlaveID,
		Address:   d.Address,
		Name:      d.Name,
		Type:      typ,
	}
	fill(&e)
	return e
}

func (l *Log) emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- e:
	default:
		l.log.Warn().Str("type", e.Type).Str("gateway", e.Gateway).Msg("event queue full, event dropped")
	}
}

// ---- queries ----

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT timestamp, gateway, slave_id, address, name, previous_value, new_value, unit, event_type, status
FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&ts, &e.Gateway, &e.SlaveID, &e.Address, &e.Name, &e.PreviousValue, &e.NewValue, &e.Unit, &e.Type, &e.Status); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("eventlog: timestamp %q: %w", ts, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close writes the remaining events and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done
	return l.db.Close()
}
