// internal/config/normalize.go
package config

import (
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink/mirror"
)

// Defaults applied by Normalize to zero values.
const (
	DefaultPollingIntervalMs = 5000
	DefaultTimeoutMs         = 1000
	DefaultBlacklistCycles   = 3
	DefaultBetweenTrialsMs   = 5000
	DefaultPoolSize          = 4

	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultParity   = "N"

	DefaultTopicPrefix = "modbus"
	DefaultClientID    = "modbus-master"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// NETWORK DEFAULTS
	// ------------------------------------------------------------

	n := &cfg.Network
	setDefault(&n.PollingIntervalMs, DefaultPollingIntervalMs)
	setDefault(&n.DefaultTimeoutMs, DefaultTimeoutMs)
	setDefault(&n.Reconnect.BetweenTrialsMs, DefaultBetweenTrialsMs)
	if n.Reconnect.PoolSize == 0 {
		n.Reconnect.PoolSize = DefaultPoolSize
	}
	if n.BlacklistCycles == nil {
		v := DefaultBlacklistCycles
		n.BlacklistCycles = &v
	}

	// ------------------------------------------------------------
	// SERIAL LINE DEFAULTS (RTU only)
	// ------------------------------------------------------------

	for gi := range cfg.Gateways {
		g := &cfg.Gateways[gi]

		t, err := register.ParseTransport(g.Protocol)
		if err != nil || t != register.TransportRTU {
			continue
		}
		setDefault(&g.Serial.BaudRate, DefaultBaudRate)
		setDefault(&g.Serial.DataBits, DefaultDataBits)
		setDefault(&g.Serial.StopBits, DefaultStopBits)
		if g.Serial.Parity == "" {
			g.Serial.Parity = DefaultParity
		}
	}

	// ------------------------------------------------------------
	// DEVICE STATUS BLOCK NORMALIZATION (OPT-IN)
	// ------------------------------------------------------------

	for gi := range cfg.Gateways {
		m := cfg.Gateways[gi].Mirror
		if m == nil || m.StatusSlot == nil {
			continue
		}
		// ASCII already validated; the block holds 16 characters.
		if len(m.DeviceName) > mirror.DeviceNameMaxChars {
			m.DeviceName = m.DeviceName[:mirror.DeviceNameMaxChars]
		}
	}

	// ------------------------------------------------------------
	// SINK AND LOG DEFAULTS
	// ------------------------------------------------------------

	if m := cfg.Sinks.MQTT; m != nil {
		if m.TopicPrefix == "" {
			m.TopicPrefix = DefaultTopicPrefix
		}
		if m.ClientID == "" {
			m.ClientID = DefaultClientID
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
