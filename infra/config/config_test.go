package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	return Load(flag.NewFlagSet("test", flag.ContinueOnError), args)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)
	require.Equal(t, ByteSize(32<<20), cfg.Pool.Size)
	require.Equal(t, "simple", cfg.Pool.Strategy)
	require.Equal(t, ByteSize(1024), cfg.Pool.QuickMax)
	require.Zero(t, cfg.Pool.ThresholdPercent)
	require.Equal(t, "log", cfg.Events.Publisher)
	require.Equal(t, 250*time.Millisecond, cfg.Events.DrainInterval)
}

func TestLoad_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shmpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  size: 1MiB
  strategy: sharded
  shards: 4
  threshold_percent: 90
events:
  publisher: sarama
  brokers: [kafka-1:9092, kafka-2:9092]
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := load(t, "-config.file", path, "-pool.threshold-percent", "80", "-pool.groups", "tm,dialog")
	require.NoError(t, err)
	require.Equal(t, ByteSize(1<<20), cfg.Pool.Size)
	require.Equal(t, "sharded", cfg.Pool.Strategy)
	require.Equal(t, 4, cfg.Pool.Shards)
	require.Equal(t, uint64(80), cfg.Pool.ThresholdPercent, "flags override the file")
	require.Equal(t, StringList{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.Brokers)
	require.Equal(t, StringList{"tm", "dialog"}, cfg.Pool.Groups)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  sise: 1MiB\n"), 0o644))
	_, err := load(t, "-config.file", path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string][]string{
		"threshold above 100": {"-pool.threshold-percent", "101"},
		"bad strategy":        {"-pool.strategy", "buddy"},
		"too many shards":     {"-pool.strategy", "sharded", "-pool.shards", "1000"},
		"bad backing":         {"-pool.backing", "posix"},
		"kafka w/o brokers":   {"-events.publisher", "kafka"},
		"outbox w/o brokers":  {"-events.publisher", "outbox"},
		"bad publisher":       {"-events.publisher", "smtp"},
		"queue not pow2":      {"-events.async-queue", "100"},
		"bad pattern store":   {"-pool.pattern-store", "s3"},
		"bad log format":      {"-log.format", "xml"},
		"zero size":           {"-pool.size", "0"},
		"duplicate group":     {"-pool.groups", "tm,tm"},
		"default group":       {"-pool.groups", "default"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(t, args...)
			require.Error(t, err)
		})
	}
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.Set("1 MiB"))
	require.Equal(t, ByteSize(1<<20), b)
	require.Equal(t, "1.0 MiB", b.String())
	require.Error(t, b.Set("lots"))
}

func TestStringList(t *testing.T) {
	var l StringList
	require.NoError(t, l.Set("a:1, b:2,,"))
	require.Equal(t, StringList{"a:1", "b:2"}, l)
	require.Equal(t, "a:1,b:2", l.String())
}
