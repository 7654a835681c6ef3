// internal/config/build.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/network"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/reconnect"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink/mirror"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Engine maps the network section to the engine configuration.
// It MUST be called after Normalize.
func (c *Config) Engine() network.Config {
	n := c.Network

	blacklist := 0
	if n.BlacklistCycles != nil {
		blacklist = *n.BlacklistCycles
	}

	return network.Config{
		PollingInterval: ms(n.PollingIntervalMs),
		DefaultGap:      ms(n.DefaultGapMs),
		DefaultTimeout:  ms(n.DefaultTimeoutMs),
		BlacklistCycles: blacklist,
		Reconnect: reconnect.Config{
			MaxTrials:     n.Reconnect.Trials,
			BetweenTrials: ms(n.Reconnect.BetweenTrialsMs),
			PoolSize:      n.Reconnect.PoolSize,
		},
		Transaction: network.TransactionConfig{
			Retries:           n.Transaction.Retries,
			RetryDelay:        ms(n.Transaction.RetryDelayMs),
			CheckID:           n.Transaction.CheckID,
			MaxIDDelta:        n.Transaction.MaxIDDelta,
			DisconnectOnError: n.Transaction.DisconnectOnError,
		},
	}
}

// Descriptors returns every configured register, in file order.
func (c *Config) Descriptors() ([]register.Descriptor, error) {
	var out []register.Descriptor
	for _, g := range c.Gateways {
		ds, err := g.Descriptors()
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

// Descriptors returns the registers of g, in file order.
func (g GatewayConfig) Descriptors() ([]register.Descriptor, error) {
	gw, err := g.gateway()
	if err != nil {
		return nil, fmt.Errorf("gateway %q: %w", g.Name, err)
	}
	out := make([]register.Descriptor, 0, len(g.Registers))
	for _, r := range g.Registers {
		d, err := r.descriptor(gw)
		if err != nil {
			return nil, fmt.Errorf("gateway %q register %q: %w", g.Name, r.Name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (g GatewayConfig) gateway() (register.Gateway, error) {
	t, err := register.ParseTransport(g.Protocol)
	if err != nil {
		return register.Gateway{}, err
	}
	return register.Gateway{
		Transport: t,
		Address:   g.Address,
		Port:      g.Port,
		Serial: register.Serial{
			Port:     g.Serial.Port,
			BaudRate: g.Serial.BaudRate,
			DataBits: g.Serial.DataBits,
			StopBits: g.Serial.StopBits,
			Parity:   strings.ToUpper(g.Serial.Parity),
		},
	}, nil
}

func (r RegisterConfig) descriptor(gw register.Gateway) (register.Descriptor, error) {
	kind, err := register.ParseKind(r.Kind)
	if err != nil {
		return register.Descriptor{}, err
	}

	size := register.SizeBit
	if r.Size != "" || !kind.Bitwise() {
		if size, err = register.ParseDataSize(r.Size); err != nil {
			return register.Descriptor{}, err
		}
	}

	var orders [3]register.Order
	for i, s := range []string{r.ByteOrder, r.WordOrder, r.DWordOrder} {
		if orders[i], err = register.ParseOrder(s); err != nil {
			return register.Descriptor{}, err
		}
	}

	d := register.Descriptor{
		Name:       r.Name,
		Gateway:    gw,
		SlaveID:    r.SlaveID,
		Address:    r.Address,
		Kind:       kind,
		Size:       size,
		ByteOrder:  orders[0],
		WordOrder:  orders[1],
		DWordOrder: orders[2],
		Bit:        r.Bit,
		Scale:      r.Scale,
		Unit:       r.Unit,
		Timeout:    ms(r.TimeoutMs),
		Gap:        ms(r.GapMs),
	}
	return d, d.Validate()
}

func (m MirrorConfig) target() (register.Gateway, error) {
	proto := m.Protocol
	if proto == "" {
		proto = string(register.TransportTCP)
	}
	t, err := register.ParseTransport(proto)
	if err != nil {
		return register.Gateway{}, err
	}
	if t == register.TransportRTU {
		return register.Gateway{}, fmt.Errorf("serial mirror targets are not supported")
	}
	if m.Address == "" {
		return register.Gateway{}, fmt.Errorf("address required")
	}
	return register.Gateway{Transport: t, Address: m.Address, Port: m.Port}, nil
}

// MirrorTarget returns the target gateway and sink configuration of g, or
// ok=false when g is not mirrored.
func (g GatewayConfig) MirrorTarget() (target register.Gateway, cfg mirror.Config, ok bool, err error) {
	m := g.Mirror
	if m == nil {
		return register.Gateway{}, mirror.Config{}, false, nil
	}
	if target, err = m.target(); err != nil {
		return register.Gateway{}, mirror.Config{}, false, err
	}
	return target, mirror.Config{
		SlaveID:    m.SlaveID,
		Offset:     m.Offset,
		StatusSlot: m.StatusSlot,
		DeviceName: m.DeviceName,
	}, true, nil
}
