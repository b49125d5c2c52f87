package service

import (
	"shmpool/domain/alloc"
	"shmpool/infra/config"
	"shmpool/infra/region"
)

// FromConfig maps the file/flag configuration onto a pool Config.
func FromConfig(c config.PoolConfig) (Config, error) {
	kind, err := region.ParseKind(c.Backing)
	if err != nil {
		return Config{}, err
	}
	s, err := alloc.ParseStrategy(c.Strategy, c.Shards)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Size:             uint64(c.Size),
		Backing:          kind,
		Strategy:         s,
		QuickMax:         uint64(c.QuickMax),
		ThresholdPercent: c.ThresholdPercent,
		Tag:              "shm",
		Groups:           c.Groups,
	}, nil
}
