// Package config holds the node/cluster configuration loaded from a YAML
// file at startup, plus the per-component tunables referenced throughout
// the engine (flush thresholds, compaction ratios, scheduler cadence,
// discovery intervals).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var structValidate = validator.New()

// Config is the root configuration for one node. Every nested struct
// carries a Default*() constructor and a Validate() method in the teacher's
// own style, rather than relying on zero values being meaningful. Struct
// tags cover the field-level checks validator/v10 already does well;
// Validate() layers the hand-rolled Validator on top for checks tags
// can't express (cross-field OneOf lists, accumulating every violation
// rather than stopping at the first).
type Config struct {
	NodeID   string `yaml:"node_id" validate:"required"`
	NodeAddr string `yaml:"node_addr" validate:"required"`
	DataDir  string `yaml:"data_dir" validate:"required"`
	HTTPAddr string `yaml:"http_addr"`

	Storage     StorageConfig     `yaml:"storage"`
	Replication ReplicationConfig `yaml:"replication"`
	Network     NetworkConfig     `yaml:"network"`
	Query       QueryConfig       `yaml:"query"`
}

// StorageConfig governs the LSM engine and the Storage Scheduler.
type StorageConfig struct {
	MemTableMaxBytes       int           `yaml:"memtable_max_bytes" validate:"gt=0"`
	BloomFalsePositiveRate float64       `yaml:"bloom_false_positive_rate" validate:"gte=0.0001,lte=0.5"`
	LevelSizeRatio         int           `yaml:"level_size_ratio" validate:"gte=2"`
	IndexInterval          int           `yaml:"index_interval" validate:"gt=0"`
	SchedulerInterval      time.Duration `yaml:"scheduler_interval" validate:"gt=0"`
	WALSegmentBytes        int64         `yaml:"wal_segment_bytes" validate:"gt=0"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		MemTableMaxBytes:       4 << 20, // 4 MiB
		BloomFalsePositiveRate: 0.01,
		LevelSizeRatio:         10,
		IndexInterval:          128,
		SchedulerInterval:      60 * time.Second,
		WALSegmentBytes:        64 << 20, // 64 MiB
	}
}

func (c StorageConfig) Validate() error {
	return NewValidator("storage").
		Positive("memtable_max_bytes", c.MemTableMaxBytes).
		RangeFloat("bloom_false_positive_rate", c.BloomFalsePositiveRate, 0.0001, 0.5).
		MinInt("level_size_ratio", c.LevelSizeRatio, 2).
		Positive("index_interval", c.IndexInterval).
		RequiredDuration("scheduler_interval", c.SchedulerInterval).
		Positive("wal_segment_bytes", int(c.WALSegmentBytes)).
		Validate()
}

// ReplicationConfig governs placement, heartbeats and the reshuffle worker.
type ReplicationConfig struct {
	ReplicationFactor int           `yaml:"replication_factor" validate:"gte=1"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	SuspectAfter      time.Duration `yaml:"suspect_after" validate:"gt=0"`
	LostAfter         time.Duration `yaml:"lost_after" validate:"gt=0"`
	ReshuffleGrace    time.Duration `yaml:"reshuffle_grace" validate:"gt=0"`
	ReshuffleRetries  int           `yaml:"reshuffle_retries" validate:"gte=1"`
}

func DefaultReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		ReplicationFactor: 2,
		HeartbeatInterval: 1 * time.Second,
		SuspectAfter:      3 * time.Second,
		LostAfter:         10 * time.Second,
		ReshuffleGrace:    10 * time.Second,
		ReshuffleRetries:  3,
	}
}

func (c ReplicationConfig) Validate() error {
	return NewValidator("replication").
		MinInt("replication_factor", c.ReplicationFactor, 1).
		RequiredDuration("heartbeat_interval", c.HeartbeatInterval).
		RequiredDuration("suspect_after", c.SuspectAfter).
		RequiredDuration("lost_after", c.LostAfter).
		RequiredDuration("reshuffle_grace", c.ReshuffleGrace).
		MinInt("reshuffle_retries", c.ReshuffleRetries, 1).
		Validate()
}

// NetworkConfig governs the UDP discovery beacon and the RPC transport.
type NetworkConfig struct {
	BeaconPort     int           `yaml:"beacon_port" validate:"gte=0,lte=65535"`
	BeaconInterval time.Duration `yaml:"beacon_interval" validate:"gt=0"`
	Subnet         string        `yaml:"subnet" validate:"required"`
	RPCPort        int           `yaml:"rpc_port" validate:"gte=0,lte=65535"`
	Transport      string        `yaml:"transport" validate:"oneof=mangos zmq"` // "mangos" or "zmq"
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		BeaconPort:     1984,
		BeaconInterval: 5 * time.Second,
		Subnet:         "255.255.255.255",
		RPCPort:        1985,
		Transport:      "mangos",
	}
}

func (c NetworkConfig) Validate() error {
	return NewValidator("network").
		RangeInt("beacon_port", c.BeaconPort, 1, 65535).
		RequiredDuration("beacon_interval", c.BeaconInterval).
		Required("subnet", c.Subnet).
		RangeInt("rpc_port", c.RPCPort, 1, 65535).
		OneOf("transport", c.Transport, []string{"mangos", "zmq"}).
		Validate()
}

// OptimizationLevel names the Query Planner's optimization tiers.
type OptimizationLevel string

const (
	OptimizationNone         OptimizationLevel = "NONE"
	OptimizationBasic        OptimizationLevel = "BASIC"
	OptimizationMedium       OptimizationLevel = "MEDIUM"
	OptimizationHigh         OptimizationLevel = "HIGH"
	OptimizationExperimental OptimizationLevel = "EXPERIMENTAL"
)

// QueryConfig governs the planner, executor and the per-query memory budget.
type QueryConfig struct {
	OptimizationLevel OptimizationLevel `yaml:"optimization_level" validate:"oneof=NONE BASIC MEDIUM HIGH EXPERIMENTAL"`
	QueryTimeout      time.Duration     `yaml:"query_timeout" validate:"gt=0"`
	MemoryBudgetBytes int64             `yaml:"memory_budget_bytes" validate:"gt=0"`
	SpillDir          string            `yaml:"spill_dir"`
	ResultCacheSize   int               `yaml:"result_cache_size"`
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		OptimizationLevel: OptimizationMedium,
		QueryTimeout:      30 * time.Second,
		MemoryBudgetBytes: 64 << 20,
		SpillDir:          "",
		ResultCacheSize:   256,
	}
}

func (c QueryConfig) Validate() error {
	return NewValidator("query").
		OneOf("optimization_level", string(c.OptimizationLevel),
			[]string{"NONE", "BASIC", "MEDIUM", "HIGH", "EXPERIMENTAL"}).
		RequiredDuration("query_timeout", c.QueryTimeout).
		Positive("memory_budget_bytes", int(c.MemoryBudgetBytes)).
		Validate()
}

// Default returns a complete, valid configuration for a single-node setup.
func Default() Config {
	return Config{
		DataDir:     "./data",
		HTTPAddr:    ":1985",
		Storage:     DefaultStorageConfig(),
		Replication: DefaultReplicationConfig(),
		Network:     DefaultNetworkConfig(),
		Query:       DefaultQueryConfig(),
	}
}

func (c Config) Validate() error {
	if err := structValidate.Struct(c); err != nil {
		return formatStructValidationError(err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := c.Replication.Validate(); err != nil {
		return fmt.Errorf("replication config: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}
	if err := c.Query.Validate(); err != nil {
		return fmt.Errorf("query config: %w", err)
	}
	return nil
}

// Load reads a YAML config file, layering it over Default() so an omitted
// section keeps its default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
