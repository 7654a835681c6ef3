// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink/mirror"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}

	// ------------------------------------------------------------
	// NETWORK TUNABLES
	// ------------------------------------------------------------

	n := cfg.Network
	nonNegative := []struct {
		name string
		v    int
	}{
		{"polling_interval_ms", n.PollingIntervalMs},
		{"default_gap_ms", n.DefaultGapMs},
		{"default_timeout_ms", n.DefaultTimeoutMs},
		{"reconnect.trials", n.Reconnect.Trials},
		{"reconnect.between_trials_ms", n.Reconnect.BetweenTrialsMs},
		{"transaction.retries", n.Transaction.Retries},
		{"transaction.retry_delay_ms", n.Transaction.RetryDelayMs},
	}
	for _, f := range nonNegative {
		if f.v < 0 {
			return fmt.Errorf("network.%s must not be negative (got %d)", f.name, f.v)
		}
	}
	if n.BlacklistCycles != nil && *n.BlacklistCycles < 0 {
		return fmt.Errorf("network.blacklist_cycles must not be negative (got %d)", *n.BlacklistCycles)
	}
	if n.Reconnect.PoolSize < 0 {
		return fmt.Errorf("network.reconnect.pool_size must not be negative (got %d)", n.Reconnect.PoolSize)
	}

	// ------------------------------------------------------------
	// GATEWAYS AND REGISTERS
	// ------------------------------------------------------------

	if len(cfg.Gateways) == 0 {
		return fmt.Errorf("no gateways configured")
	}

	// key = gateway id
	gatewayOwner := make(map[string]string)

	for _, g := range cfg.Gateways {
		if g.Name == "" {
			return fmt.Errorf("gateway without name")
		}

		gw, err := g.gateway()
		if err != nil {
			return fmt.Errorf("gateway %q: %w", g.Name, err)
		}

		id := gw.ID()
		if prev, exists := gatewayOwner[id]; exists {
			return fmt.Errorf("gateway collision: %s used by %q and %q", id, prev, g.Name)
		}
		gatewayOwner[id] = g.Name

		if gw.Transport == register.TransportRTU {
			switch strings.ToUpper(g.Serial.Parity) {
			case "", "N", "E", "O":
			default:
				return fmt.Errorf("gateway %q: parity must be N, E or O (got %q)", g.Name, g.Serial.Parity)
			}
		}

		if len(g.Registers) == 0 {
			return fmt.Errorf("gateway %q: no registers", g.Name)
		}

		// key = slave | address
		registerOwner := make(map[register.Key]string)

		for _, r := range g.Registers {
			if r.TimeoutMs < 0 || r.GapMs < 0 {
				return fmt.Errorf("gateway %q register %q: timeout_ms and gap_ms must not be negative", g.Name, r.Name)
			}

			d, err := r.descriptor(gw)
			if err != nil {
				return fmt.Errorf("gateway %q register %q: %w", g.Name, r.Name, err)
			}

			key := d.Key()
			if prev, exists := registerOwner[key]; exists {
				return fmt.Errorf(
					"register collision: gateway=%q slave=%d address=%d used by %q and %q",
					g.Name,
					key.SlaveID,
					key.Address,
					prev,
					r.Name,
				)
			}
			registerOwner[key] = r.Name
		}
	}

	// ------------------------------------------------------------
	// MIRROR TARGETS (OPT-IN)
	// ------------------------------------------------------------

	if err := validateMirrors(cfg.Gateways); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// SINKS
	// ------------------------------------------------------------

	if m := cfg.Sinks.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("sinks.mqtt.broker is required")
		}
		if m.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2 (got %d)", m.QoS)
		}
	}
	if e := cfg.Sinks.EventLog; e != nil && e.Path == "" {
		return fmt.Errorf("sinks.eventlog.path is required")
	}
	if m := cfg.Sinks.Metrics; m != nil && m.Listen == "" {
		return fmt.Errorf("sinks.metrics.listen is required")
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	switch cfg.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console (got %q)", cfg.Log.Format)
	}

	return nil
}

func validateMirrors(gateways []GatewayConfig) error {
	type span struct {
		start   int
		end     int
		gateway string
	}

	// key = target | slave | status slot
	statusOwner := make(map[string]string)

	// key = target | slave | table
	spans := make(map[string][]span)

	for _, g := range gateways {
		m := g.Mirror
		if m == nil {
			continue
		}

		target, err := m.target()
		if err != nil {
			return fmt.Errorf("gateway %q: mirror: %w", g.Name, err)
		}
		tid := target.ID()

		// device_name sanity (ASCII only)
		for i := 0; i < len(m.DeviceName); i++ {
			if m.DeviceName[i] > 0x7F {
				return fmt.Errorf("gateway %q: mirror.device_name must contain ASCII characters only", g.Name)
			}
		}

		if m.StatusSlot != nil {
			slot := *m.StatusSlot
			if int(slot)*mirror.SlotsPerDevice+mirror.SlotsPerDevice-1 > 0xFFFF {
				return fmt.Errorf("gateway %q: mirror.status_slot %d outside the register space", g.Name, slot)
			}

			key := fmt.Sprintf("%s|%d|%d", tid, m.SlaveID, slot)
			if prev, exists := statusOwner[key]; exists {
				return fmt.Errorf(
					"status_slot collision: target=%s slave_id=%d slot=%d used by gateways %q and %q",
					tid,
					m.SlaveID,
					slot,
					prev,
					g.Name,
				)
			}
			statusOwner[key] = g.Name
		}

		gw, err := g.gateway()
		if err != nil {
			return fmt.Errorf("gateway %q: %w", g.Name, err)
		}

		for _, r := range g.Registers {
			d, err := r.descriptor(gw)
			if err != nil {
				return fmt.Errorf("gateway %q register %q: %w", g.Name, r.Name, err)
			}

			table, addr, count, ok := mirror.Placement(d, m.Offset)
			if !ok {
				return fmt.Errorf("gateway %q register %q: mirror address outside the register space", g.Name, r.Name)
			}
			start := int(addr)
			end := start + count - 1

			key := fmt.Sprintf("%s|%d|%d", tid, m.SlaveID, table)
			for _, s := range spans[key] {
				// overlap check (inclusive)
				if !(end < s.start || start > s.end) {
					return fmt.Errorf(
						"mirror overlap: target=%s slave_id=%d range=%d-%d (gateway %q) overlaps range=%d-%d (gateway %q)",
						tid,
						m.SlaveID,
						start,
						end,
						g.Name,
						s.start,
						s.end,
						s.gateway,
					)
				}
			}
			spans[key] = append(spans[key], span{start: start, end: end, gateway: g.Name})
		}
	}

	return nil
}
