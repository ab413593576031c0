package rnet

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Defaults for Config fields left at zero value (§6.5).
const (
	DefaultUpdateTime         = 15 * time.Millisecond
	DefaultPingInterval       = 1000 * time.Millisecond
	DefaultDisconnectTimeout  = 5000 * time.Millisecond
	DefaultReconnectDelay     = 500 * time.Millisecond
	DefaultMaxConnectAttempts = 10
	DefaultWorkerPoolSize     = 32
	DefaultEventQueueLength   = 1024
)

// Config enumerates every option in spec.md §6.5 plus the ambient
// knobs (logging, worker pool sizing) a complete deployment needs.
type Config struct {
	Capacity int

	UnconnectedMessagesEnabled bool
	NatPunchEnabled            bool
	DiscoveryEnabled           bool
	MergeEnabled               bool
	ReuseAddress               bool
	UnsyncedEvents             bool

	UpdateTime         time.Duration
	PingInterval       time.Duration
	DisconnectTimeout  time.Duration
	ReconnectDelay     time.Duration
	MaxConnectAttempts int

	SimulatePacketLoss         bool
	SimulateLatency            bool
	SimulationPacketLossChance float64 // percent, [0,100]
	SimulationMinLatency       time.Duration
	SimulationMaxLatency       time.Duration

	// ReceiveErrorClearsPeerTable enables the source's aggressive
	// ReceiveError policy (§7/§9 open question) of clearing the
	// entire Peer Table on a socket-reported receive error. Validate
	// leaves it as given, so the zero value keeps the table intact;
	// LoadConfig defaults it to true.
	ReceiveErrorClearsPeerTable bool

	WorkerPoolSize   int
	EventQueueLength int

	LogFilePath string
	LogDebug    bool
}

// Validate checks that every field required to start a Manager is
// present, filling defaults for the ones that have one, in the style
// of the election-arbiter's Config.Validate: field-by-field checks
// that return a wrapped, loggable error.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("rnet: nil config")
	}

	if c.Capacity <= 0 {
		return errors.Newf("rnet: invalid Capacity=%d", c.Capacity)
	}

	if c.UpdateTime == 0 {
		c.UpdateTime = DefaultUpdateTime
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if c.EventQueueLength == 0 {
		c.EventQueueLength = DefaultEventQueueLength
	}

	if c.SimulatePacketLoss && (c.SimulationPacketLossChance < 0 || c.SimulationPacketLossChance > 100) {
		return errors.Newf("rnet: invalid SimulationPacketLossChance=%f", c.SimulationPacketLossChance)
	}
	if c.SimulateLatency && c.SimulationMaxLatency < c.SimulationMinLatency {
		return errors.Newf(
			"rnet: SimulationMaxLatency=%s < SimulationMinLatency=%s",
			c.SimulationMaxLatency, c.SimulationMinLatency,
		)
	}

	return nil
}

// LoadConfig reads a JSON/YAML/TOML config file at path, overlaid
// with RNET_-prefixed environment variables, into a validated Config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RNET")
	v.AutomaticEnv()

	v.SetDefault("capacity", 4096)
	v.SetDefault("updatetime", DefaultUpdateTime)
	v.SetDefault("pinginterval", DefaultPingInterval)
	v.SetDefault("disconnecttimeout", DefaultDisconnectTimeout)
	v.SetDefault("reconnectdelay", DefaultReconnectDelay)
	v.SetDefault("maxconnectattempts", DefaultMaxConnectAttempts)
	v.SetDefault("workerpoolsize", DefaultWorkerPoolSize)
	v.SetDefault("eventqueuelength", DefaultEventQueueLength)
	v.SetDefault("receiveerrorclearspeertable", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "rnet: reading config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "rnet: decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
