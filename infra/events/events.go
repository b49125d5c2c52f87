package events

import (
	"context"
	"encoding/json"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"shmpool/domain/threshold"
)

// Encode is the wire form of an event: JSON with snake_case fields.
func Encode(ev threshold.Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	return b, errors.Wrap(err, "events: encode")
}

func Decode(b []byte) (threshold.Event, error) {
	var ev threshold.Event
	err := json.Unmarshal(b, &ev)
	return ev, errors.Wrap(err, "events: decode")
}

// -------------------- Log --------------------

// Log writes events to a logger. Used when no broker is configured.
type Log struct {
	logger log.Logger
}

func NewLog(logger log.Logger) *Log {
	return &Log{logger: log.With(logger, "component", "events")}
}

func (l *Log) Publish(_ context.Context, ev threshold.Event) error {
	return level.Warn(l.logger).Log(
		"msg", "shared memory usage above threshold",
		"usage_percent", ev.UsagePercent,
		"threshold_percent", ev.ThresholdPercent,
		"used_bytes", ev.UsedBytes,
		"total_bytes", ev.TotalBytes,
		"seq", ev.Seq,
	)
}

// -------------------- Func --------------------

// Func adapts a function to threshold.Publisher.
type Func func(ctx context.Context, ev threshold.Event) error

func (f Func) Publish(ctx context.Context, ev threshold.Event) error {
	return f(ctx, ev)
}
