// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// New returns a leveled logger writing to stderr. format is "logfmt"
// or "json"; levelName is one of debug, info, warn, error.
func New(levelName, format string) (log.Logger, error) {
	return NewWithWriter(os.Stderr, levelName, format)
}

func NewWithWriter(w io.Writer, levelName, format string) (log.Logger, error) {
	var logger log.Logger
	switch format {
	case "", "logfmt":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, errors.Errorf("logging: unknown format %q", format)
	}

	opt, err := levelOption(levelName)
	if err != nil {
		return nil, err
	}
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}

func levelOption(name string) (level.Option, error) {
	switch name {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, errors.Errorf("logging: unknown level %q", name)
}
