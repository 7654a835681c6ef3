// internal/config/load.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvFileVar names the variable that points at an optional .env file.
const EnvFileVar = "MODBUS_ENV_FILE"

// Load reads the YAML file at path, then applies environment overrides.
// Variables from the .env file (default ".env", see EnvFileVar) never
// replace variables already set in the process environment.
//
// Load does not validate; callers run Validate then Normalize.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	envPath := os.Getenv(EnvFileVar)
	if envPath == "" {
		envPath = ".env"
	}
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: env file %s: %w", envPath, err)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// ---- environment overrides ----

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"MODBUS_POLLING_INTERVAL_MS", &cfg.Network.PollingIntervalMs},
		{"MODBUS_DEFAULT_TIMEOUT_MS", &cfg.Network.DefaultTimeoutMs},
		{"MODBUS_RECONNECT_TRIALS", &cfg.Network.Reconnect.Trials},
		{"MODBUS_RECONNECT_BETWEEN_TRIALS_MS", &cfg.Network.Reconnect.BetweenTrialsMs},
	}
	for _, o := range ints {
		val, ok := lookup(o.key)
		if !ok || val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("config: env %s=%q: %w", o.key, val, err)
		}
		*o.dst = n
	}

	if val, ok := lookup("MODBUS_BLACKLIST_CYCLES"); ok && val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("config: env MODBUS_BLACKLIST_CYCLES=%q: %w", val, err)
		}
		cfg.Network.BlacklistCycles = &n
	}

	if val, ok := lookup("MODBUS_MQTT_BROKER"); ok && val != "" {
		if cfg.Sinks.MQTT == nil {
			cfg.Sinks.MQTT = &MQTTConfig{}
		}
		cfg.Sinks.MQTT.Broker = val
	}
	if val, ok := lookup("MODBUS_MQTT_PASSWORD"); ok && val != "" && cfg.Sinks.MQTT != nil {
		cfg.Sinks.MQTT.Password = val
	}

	if val, ok := lookup("MODBUS_LOG_LEVEL"); ok && val != "" {
		cfg.Log.Level = val
	}
	return nil
}
