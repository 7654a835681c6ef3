// internal/config/config.go
package config

type Config struct {
	Network  NetworkConfig   `yaml:"network"`
	Gateways []GatewayConfig `yaml:"gateways"`
	Sinks    SinksConfig     `yaml:"sinks"`
	Log      LogConfig       `yaml:"log"`
}

// ---- NETWORK (process-wide tunables) ----

type NetworkConfig struct {
	PollingIntervalMs int `yaml:"polling_interval_ms"`
	DefaultGapMs      int `yaml:"default_gap_ms"`
	DefaultTimeoutMs  int `yaml:"default_timeout_ms"`

	// nil means default; 0 disables the blacklist
	BlacklistCycles *int `yaml:"blacklist_cycles"`

	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Transaction TransactionConfig `yaml:"transaction"`
}

type ReconnectConfig struct {
	Trials          int   `yaml:"trials"` // 0 = unbounded
	BetweenTrialsMs int   `yaml:"between_trials_ms"`
	PoolSize        int64 `yaml:"pool_size"`
}

type TransactionConfig struct {
	Retries           int    `yaml:"retries"`
	RetryDelayMs      int    `yaml:"retry_delay_ms"`
	CheckID           bool   `yaml:"check_id"`
	MaxIDDelta        uint16 `yaml:"max_id_delta"`
	DisconnectOnError bool   `yaml:"disconnect_on_error"`
}

// ---- GATEWAY ----

type GatewayConfig struct {
	Name      string           `yaml:"name"`
	Protocol  string           `yaml:"protocol"`
	Address   string           `yaml:"address"`
	Port      int              `yaml:"port"`
	Serial    SerialConfig     `yaml:"serial"`
	Registers []RegisterConfig `yaml:"registers"`

	// Mirror replicates the gateway's values into another slave (optional).
	Mirror *MirrorConfig `yaml:"mirror"`
}

type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// ---- MIRROR ----

type MirrorConfig struct {
	Protocol string `yaml:"protocol"` // default tcp
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	SlaveID  uint8  `yaml:"slave_id"`
	Offset   uint16 `yaml:"offset"`

	// Device status block (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot"`
	DeviceName string  `yaml:"device_name"`
}

// ---- REGISTER ----

type RegisterConfig struct {
	Name    string `yaml:"name"`
	SlaveID uint8  `yaml:"slave_id"`
	Address uint16 `yaml:"address"`

	Kind       string `yaml:"kind"`
	Size       string `yaml:"size"`
	ByteOrder  string `yaml:"byte_order"`
	WordOrder  string `yaml:"word_order"`
	DWordOrder string `yaml:"dword_order"`
	Bit        uint8  `yaml:"bit"`

	Scale float64 `yaml:"scale"`
	Unit  string  `yaml:"unit"`

	TimeoutMs int `yaml:"timeout_ms"`
	GapMs     int `yaml:"gap_ms"`
}

// ---- SINKS ----

type SinksConfig struct {
	Log      bool            `yaml:"log"`
	MQTT     *MQTTConfig     `yaml:"mqtt"`
	EventLog *EventLogConfig `yaml:"eventlog"`
	Metrics  *MetricsConfig  `yaml:"metrics"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retained    bool   `yaml:"retained"`
}

type EventLogConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}
