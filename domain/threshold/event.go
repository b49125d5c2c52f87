package threshold

import (
	"context"
	"time"
)

// Key is the message key used by publishers that need one.
const Key = "shm_threshold"

// Event reports that pool usage reached the threshold.
type Event struct {
	UsagePercent     uint64    `json:"usage_percent"`
	ThresholdPercent uint64    `json:"threshold_percent"`
	UsedBytes        uint64    `json:"used_bytes"`
	TotalBytes       uint64    `json:"total_bytes"`
	Seq              uint64    `json:"seq"`
	Time             time.Time `json:"time"`
}

// Publisher delivers threshold events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Prober is implemented by publishers that know whether anyone listens.
// When Subscribed reports false the notifier keeps its state but skips
// the publish call.
type Prober interface {
	Subscribed() bool
}

// Sequence numbers events.
type Sequence interface {
	Next() uint64
}
