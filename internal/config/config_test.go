package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.NodeID = "node-1"
	cfg.NodeAddr = "127.0.0.1:1985"
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingNodeID(t *testing.T) {
	cfg := validConfig()
	cfg.NodeID = ""
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "NodeID")
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := validConfig()
	cfg.Network.Transport = "carrier-pigeon"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Transport")
}

func TestValidateRejectsZeroMemTableBudget(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.MemTableMaxBytes = 0
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MemTableMaxBytes")
}

func TestValidateCascadesIntoHandRolledChecksAfterStructTags(t *testing.T) {
	cfg := validConfig()
	cfg.Replication.ReplicationFactor = 1
	cfg.Network.BeaconPort = 70000 // out of range, caught by the struct tag first
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "BeaconPort")
}

func TestStorageConfigRejectsOutOfRangeBloomRate(t *testing.T) {
	sc := DefaultStorageConfig()
	sc.BloomFalsePositiveRate = 0.9
	err := sc.Validate()
	require.Error(t, err)
}
