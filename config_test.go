package rnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateFillsDefaults(t *testing.T) {
	cfg := &Config{Capacity: 16}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultUpdateTime, cfg.UpdateTime)
	assert.Equal(t, DefaultPingInterval, cfg.PingInterval)
	assert.Equal(t, DefaultDisconnectTimeout, cfg.DisconnectTimeout)
	assert.Equal(t, DefaultReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, DefaultMaxConnectAttempts, cfg.MaxConnectAttempts)
	assert.Equal(t, DefaultWorkerPoolSize, cfg.WorkerPoolSize)
	assert.Equal(t, DefaultEventQueueLength, cfg.EventQueueLength)
}

func TestConfigValidateRejectsZeroCapacity(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsNilConfig(t *testing.T) {
	var cfg *Config
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsBadPacketLossChance(t *testing.T) {
	cfg := &Config{Capacity: 1, SimulatePacketLoss: true, SimulationPacketLossChance: 150}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsInvertedLatencyRange(t *testing.T) {
	cfg := &Config{
		Capacity:             1,
		SimulateLatency:      true,
		SimulationMinLatency: 200,
		SimulationMaxLatency: 100,
	}
	assert.Error(t, cfg.Validate())
}
