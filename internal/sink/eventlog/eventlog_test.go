// internal/sink/eventlog/eventlog_test.go
package eventlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
)

func descriptor() register.Descriptor {
	return register.Descriptor{
		Name:    "pressure",
		Gateway: register.Gateway{Transport: register.TransportTCP, Address: "10.0.0.9", Port: 502},
		SlaveID: 4,
		Address: 12,
		Kind:    register.KindInput,
		Size:    register.SizeUint16,
	}
}

// reopen closes l so every queued row is written, then opens a fresh handle.
func reopen(t *testing.T, l *Log, path string) *Log {
	t.Helper()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	l, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLog_RecordsChangesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	l, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d := descriptor()

	l.OnValue(d, codec.Value{Data: uint64(7), Unit: "bar"})
	l.OnReachability(d, true, status.None)
	l.OnValue(d, codec.Value{Data: uint64(7), Unit: "bar"})
	l.OnValue(d, codec.Value{Data: uint64(8), Unit: "bar"})
	l.OnReachability(d, false, status.Unreachable)
	l.OnReachability(d, false, status.Unreachable)
	l.OnReachability(d, true, status.None)

	l = reopen(t, l, path)
	events, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}

	want := []string{TypeReachable, TypeUnreachable, TypeValueChanged, TypeValueChanged}
	if len(events) != len(want) {
		t.Fatalf("events got=%d want=%d: %+v", len(events), len(want), events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d type got=%s want=%s", i, events[i].Type, typ)
		}
	}

	down := events[1]
	if down.Status != "unreachable" || down.Gateway != "tcp://10.0.0.9:502" || down.SlaveID != 4 || down.Address != 12 {
		t.Fatalf("unreachable event got=%+v", down)
	}
	changed := events[2]
	if changed.PreviousValue != "7" || changed.NewValue != "8" || changed.Unit != "bar" || changed.Name != "pressure" {
		t.Fatalf("value event got=%+v", changed)
	}
	if events[3].PreviousValue != "" || events[3].NewValue != "7" {
		t.Fatalf("first value event got=%+v", events[3])
	}
	if events[0].Timestamp.IsZero() {
		t.Fatalf("missing timestamp")
	}
}

func TestLog_Close(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "events.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close got=%v want=%v", err, ErrClosed)
	}
	l.OnValue(descriptor(), codec.Value{Data: true})
}

func TestOpen_BadPath(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "events.db"), zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unwritable path")
	}
}
