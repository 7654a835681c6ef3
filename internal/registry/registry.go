// internal/registry/registry.go
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
)

var (
	// ErrDuplicateConn is returned when a live connection already exists for a gateway.
	ErrDuplicateConn = errors.New("registry: gateway already has a live connection")

	// ErrUnknownGateway is returned when a gateway has no registered registers.
	ErrUnknownGateway = errors.New("registry: gateway not registered")
)

// Consumer receives decoded values and reachability transitions.
// Implementations must be comparable (typically a pointer) and must not
// block: callbacks run on the poller goroutine.
type Consumer interface {
	OnValue(d register.Descriptor, v codec.Value)
	OnReachability(d register.Descriptor, reachable bool, category status.Category)
}

type gatewayEntry struct {
	gw   register.Gateway
	keys map[register.Key]struct{}
}

// Registry owns every table shared by pollers and callers:
// gateway → registers, register → consumers, consumer → registers and
// gateway → live connection.
type Registry struct {
	mu sync.RWMutex

	gateways    map[string]*gatewayEntry
	descriptors map[register.Key]register.Descriptor
	consumers   map[register.Key][]Consumer
	owned       map[Consumer]map[register.Key]struct{}
	conns       map[string]transport.Conn
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		gateways:    make(map[string]*gatewayEntry),
		descriptors: make(map[register.Key]register.Descriptor),
		consumers:   make(map[register.Key][]Consumer),
		owned:       make(map[Consumer]map[register.Key]struct{}),
		conns:       make(map[string]transport.Conn),
	}
}

// ---- registers ----

// Add subscribes c to d. Adding the same pair twice is a no-op.
// The descriptor of the first registration of a key is kept.
// newGateway reports that d is the first register of its gateway.
func (r *Registry) Add(d register.Descriptor, c Consumer) (newGateway bool) {
	key := d.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.gateways[key.Gateway]
	if !ok {
		g = &gatewayEntry{gw: d.Gateway, keys: make(map[register.Key]struct{})}
		r.gateways[key.Gateway] = g
		newGateway = true
	}
	g.keys[key] = struct{}{}

	if _, ok := r.descriptors[key]; !ok {
		r.descriptors[key] = d
	}

	if c == nil {
		return newGateway
	}
	if r.owned[c] == nil {
		r.owned[c] = make(map[register.Key]struct{})
	}
	if _, dup := r.owned[c][key]; !dup {
		r.owned[c][key] = struct{}{}
		r.consumers[key] = append(r.consumers[key], c)
	}
	return newGateway
}

// Remove unsubscribes c from key. The register is dropped when it has no
// consumer left; gatewayEmpty reports that its gateway lost its last register.
func (r *Registry) Remove(key register.Key, c Consumer) (dropped, gatewayEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(key, c)
}

// RemoveConsumer unsubscribes c everywhere. It returns the registers that
// were dropped and the gateways left without registers.
func (r *Registry) RemoveConsumer(c Consumer) (dropped []register.Key, emptied []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]register.Key, 0, len(r.owned[c]))
	for k := range r.owned[c] {
		keys = append(keys, k)
	}
	sortKeys(keys)

	for _, k := range keys {
		d, empty := r.removeLocked(k, c)
		if d {
			dropped = append(dropped, k)
		}
		if empty {
			emptied = append(emptied, k.Gateway)
		}
	}
	return dropped, emptied
}

func (r *Registry) removeLocked(key register.Key, c Consumer) (dropped, gatewayEmpty bool) {
	if _, ok := r.descriptors[key]; !ok {
		return false, false
	}

	if c != nil {
		if set := r.owned[c]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(r.owned, c)
			}
		}
		list := r.consumers[key]
		for i, x := range list {
			if x == c {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(r.consumers, key)
		} else {
			r.consumers[key] = list
		}
	}

	if len(r.consumers[key]) > 0 {
		return false, false
	}

	delete(r.descriptors, key)
	g := r.gateways[key.Gateway]
	if g == nil {
		return true, false
	}
	delete(g.keys, key)
	if len(g.keys) > 0 {
		return true, false
	}
	delete(r.gateways, key.Gateway)
	return true, true
}

// ---- reads ----

// Snapshot copies the registers of gateway in stable order (slave id, then address).
func (r *Registry) Snapshot(gateway string) []register.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := r.gateways[gateway]
	if g == nil {
		return nil
	}
	keys := make([]register.Key, 0, len(g.keys))
	for k := range g.keys {
		keys = append(keys, k)
	}
	sortKeys(keys)

	out := make([]register.Descriptor, len(keys))
	for i, k := range keys {
		out[i] = r.descriptors[k]
	}
	return out
}

// Consumers copies the subscribers of key.
func (r *Registry) Consumers(key register.Key) []Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.consumers[key]
	out := make([]Consumer, len(list))
	copy(out, list)
	return out
}

// Descriptor returns the registered descriptor of key.
func (r *Registry) Descriptor(key register.Key) (register.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[key]
	return d, ok
}

// Gateway returns the endpoint of a registered gateway.
func (r *Registry) Gateway(id string) (register.Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[id]
	if !ok {
		return register.Gateway{}, false
	}
	return g.gw, true
}

// Gateways lists registered gateway ids, sorted.
func (r *Registry) Gateways() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of registers and distinct consumers of gateway.
func (r *Registry) Counts(gateway string) (registers, consumers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := r.gateways[gateway]
	if g == nil {
		return 0, 0
	}
	seen := make(map[Consumer]struct{})
	for k := range g.keys {
		for _, c := range r.consumers[k] {
			seen[c] = struct{}{}
		}
	}
	return len(g.keys), len(seen)
}

// ---- connections ----

// SetConn publishes c as the connection of its gateway.
// A live connection already present is never replaced. A dead one is
// replaced and returned so the caller can close it.
func (r *Registry) SetConn(c transport.Conn) (replaced transport.Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	if _, ok := r.gateways[id]; !ok {
		return nil, ErrUnknownGateway
	}
	if old, ok := r.conns[id]; ok {
		if old == c {
			return nil, nil
		}
		if old.IsConnected() {
			return nil, ErrDuplicateConn
		}
		replaced = old
	}
	r.conns[id] = c
	return replaced, nil
}

// Conn returns the connection of gateway if one is published.
func (r *Registry) Conn(gateway string) (transport.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[gateway]
	return c, ok
}

// LiveConn returns the connection of gateway only when it is connected.
func (r *Registry) LiveConn(gateway string) (transport.Conn, bool) {
	c, ok := r.Conn(gateway)
	if !ok || !c.IsConnected() {
		return nil, false
	}
	return c, true
}

// DropConn unpublishes the connection of gateway and returns it.
// If expected is not nil, only that instance is dropped.
func (r *Registry) DropConn(gateway string, expected transport.Conn) transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[gateway]
	if !ok || (expected != nil && c != expected) {
		return nil
	}
	delete(r.conns, gateway)
	return c
}

func sortKeys(keys []register.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Gateway != keys[j].Gateway {
			return keys[i].Gateway < keys[j].Gateway
		}
		if keys[i].SlaveID != keys[j].SlaveID {
			return keys[i].SlaveID < keys[j].SlaveID
		}
		return keys[i].Address < keys[j].Address
	})
}
