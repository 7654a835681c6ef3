// internal/poller/blacklist.go
package poller

import (
	"sync"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
)

// Blacklist excludes failing registers from a number of poll cycles.
//
// A register failing on cycle c is left out of cycles c+1 .. c+N and read
// again on cycle c+N+1, N being the configured cycle count. N <= 0 disables
// the blacklist.
//
// Only the owning poller inserts; Remove may be called from any goroutine.
type Blacklist struct {
	mu      sync.Mutex
	cycles  int
	entries map[register.Key]int
}

// NewBlacklist returns an empty blacklist holding entries for cycles cycles.
func NewBlacklist(cycles int) *Blacklist {
	return &Blacklist{cycles: cycles, entries: make(map[register.Key]int)}
}

// Contains reports whether key is currently excluded.
func (b *Blacklist) Contains(key register.Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	return ok
}

// Remaining returns the cycles left for key, 0 when absent.
func (b *Blacklist) Remaining(key register.Key) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[key]
}

// Remove drops key, e.g. when its register is unregistered.
func (b *Blacklist) Remove(key register.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Len returns the number of excluded registers.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// EndCycle runs the once-per-cycle bookkeeping: every entry loses one
// cycle, entries reaching zero are evicted, then the registers that failed
// in this cycle are inserted with the full duration.
//
// registered, when set, is asked under the blacklist lock whether a failed
// key is still registered; unregistered keys are not inserted. Remove
// callers drop the registration before calling Remove, so a concurrent
// unregistration never leaves an entry behind.
func (b *Blacklist) EndCycle(failed []register.Key, registered func(register.Key) bool) {
	if b.cycles <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for k, n := range b.entries {
		if n <= 1 {
			delete(b.entries, k)
			continue
		}
		b.entries[k] = n - 1
	}
	for _, k := range failed {
		if registered != nil && !registered(k) {
			continue
		}
		b.entries[k] = b.cycles
	}
}
