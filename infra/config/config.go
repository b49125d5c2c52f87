package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"shmpool/domain/alloc"
	"shmpool/infra/region"
)

// Config is the full server configuration.
type Config struct {
	Pool   PoolConfig   `yaml:"pool"`
	Events EventsConfig `yaml:"events"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// PoolConfig configures the shared pool.
type PoolConfig struct {
	Size     ByteSize `yaml:"size"`
	Backing  string   `yaml:"backing"`
	Strategy string   `yaml:"strategy"`
	Shards   int      `yaml:"shards"`
	QuickMax ByteSize `yaml:"quick_max"`

	// ThresholdPercent raises an event when usage reaches it; 0 disables.
	ThresholdPercent uint64 `yaml:"threshold_percent"`

	// PatternStore is none, file or pebble.
	PatternStore string `yaml:"pattern_store"`
	PatternFile  string `yaml:"pattern_file"`
	PatternDir   string `yaml:"pattern_dir"`

	// Groups are the accounting groups besides "default".
	Groups StringList `yaml:"groups"`
}

// EventsConfig configures threshold event delivery.
type EventsConfig struct {
	// Publisher is log, kafka, sarama or outbox.
	Publisher     string        `yaml:"publisher"`
	Brokers       StringList    `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	OutboxDir     string        `yaml:"outbox_dir"`
	DrainInterval time.Duration `yaml:"drain_interval"`

	// AsyncQueue hands events to a background goroutine through a ring
	// of this size (a power of two); 0 publishes inline.
	AsyncQueue uint64 `yaml:"async_queue"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// -------------------- Flags --------------------

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Pool.RegisterFlags(f)
	cfg.Events.RegisterFlags(f)
	f.StringVar(&cfg.Server.GRPCAddr, "server.grpc-addr", "127.0.0.1:50051", "Listen address of the management gRPC service.")
	f.StringVar(&cfg.Server.HTTPAddr, "server.http-addr", ":9100", "Listen address of the /metrics endpoint; empty disables it.")
	f.StringVar(&cfg.Log.Level, "log.level", "info", "Log level: debug, info, warn, error.")
	f.StringVar(&cfg.Log.Format, "log.format", "logfmt", "Log format: logfmt or json.")
}

func (cfg *PoolConfig) RegisterFlags(f *flag.FlagSet) {
	cfg.Size = 32 << 20
	f.Var(&cfg.Size, "pool.size", "Size of the shared memory region.")
	f.StringVar(&cfg.Backing, "pool.backing", "auto", "Region backing: auto, anon, zero or sysv.")
	f.StringVar(&cfg.Strategy, "pool.strategy", "simple", "Allocator strategy: simple or sharded.")
	f.IntVar(&cfg.Shards, "pool.shards", 8, "Arena count of the sharded strategy.")
	cfg.QuickMax = alloc.DefaultQuickMax
	f.Var(&cfg.QuickMax, "pool.quick-max", "Largest block kept on exact-size quick lists; 0 disables them.")
	f.Uint64Var(&cfg.ThresholdPercent, "pool.threshold-percent", 0, "Usage percent that raises a threshold event; 0 disables.")
	f.StringVar(&cfg.PatternStore, "pool.pattern-store", "none", "Where the usage pattern is kept between runs: none, file or pebble.")
	f.StringVar(&cfg.PatternFile, "pool.pattern-file", "shm_pattern.bin", "Pattern file of the file store.")
	f.StringVar(&cfg.PatternDir, "pool.pattern-dir", "shm_pattern", "Database directory of the pebble store when no outbox is configured.")
	f.Var(&cfg.Groups, "pool.groups", "Comma separated accounting groups allocations can be charged to.")
}

func (cfg *EventsConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Publisher, "events.publisher", "log", "Threshold event publisher: log, kafka, sarama or outbox.")
	f.Var(&cfg.Brokers, "events.brokers", "Comma separated Kafka brokers.")
	f.StringVar(&cfg.Topic, "events.topic", "shm-events", "Kafka topic for threshold events.")
	f.StringVar(&cfg.OutboxDir, "events.outbox-dir", "shm_outbox", "Directory of the durable event outbox.")
	f.DurationVar(&cfg.DrainInterval, "events.drain-interval", 250*time.Millisecond, "How often the outbox is drained to Kafka.")
	f.Uint64Var(&cfg.AsyncQueue, "events.async-queue", 0, "Queue events through a ring of this size; 0 publishes inline.")
}

// -------------------- Validation --------------------

func (cfg *Config) Validate() error {
	if err := cfg.Pool.Validate(); err != nil {
		return errors.Wrap(err, "pool")
	}
	if err := cfg.Events.Validate(); err != nil {
		return errors.Wrap(err, "events")
	}
	switch cfg.Log.Format {
	case "logfmt", "json":
	default:
		return errors.Errorf("log: unknown format %q", cfg.Log.Format)
	}
	return nil
}

func (cfg *PoolConfig) Validate() error {
	if cfg.Size == 0 {
		return errors.New("size must be positive")
	}
	if _, err := region.ParseKind(cfg.Backing); err != nil {
		return err
	}
	if _, err := alloc.ParseStrategy(cfg.Strategy, cfg.Shards); err != nil {
		return err
	}
	if cfg.ThresholdPercent > 100 {
		return errors.Errorf("threshold_percent %d above 100", cfg.ThresholdPercent)
	}
	seen := map[string]bool{"default": true}
	for _, g := range cfg.Groups {
		if g == "" || seen[g] {
			return errors.Errorf("duplicate or empty group %q", g)
		}
		seen[g] = true
	}
	switch cfg.PatternStore {
	case "", "none":
	case "file":
		if cfg.PatternFile == "" {
			return errors.New("pattern_file required by the file store")
		}
	case "pebble":
	default:
		return errors.Errorf("unknown pattern_store %q", cfg.PatternStore)
	}
	return nil
}

func (cfg *EventsConfig) Validate() error {
	switch cfg.Publisher {
	case "log":
	case "kafka", "sarama":
		if len(cfg.Brokers) == 0 {
			return errors.Errorf("publisher %s needs brokers", cfg.Publisher)
		}
	case "outbox":
		if cfg.OutboxDir == "" {
			return errors.New("publisher outbox needs outbox_dir")
		}
		if len(cfg.Brokers) == 0 {
			return errors.New("publisher outbox needs brokers to drain to")
		}
	default:
		return errors.Errorf("unknown publisher %q", cfg.Publisher)
	}
	if q := cfg.AsyncQueue; q != 0 && q&(q-1) != 0 {
		return errors.Errorf("async_queue %d is not a power of two", q)
	}
	return nil
}

// -------------------- Loading --------------------

// Load registers every flag on fs, applies the YAML file named by
// -config.file, then applies the flags again so they override it.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	cfg.RegisterFlags(fs)
	var path string
	fs.StringVar(&path, "config.file", "", "YAML configuration file.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config: read")
		}
		if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "config: parse %s", path)
		}
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return cfg, nil
}
