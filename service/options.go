package service

import (
	"context"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"shmpool/domain/threshold"
	"shmpool/domain/usage"
	"shmpool/infra/region"
)

// Provisioner supplies the shared region.
type Provisioner interface {
	Acquire(size int) (*region.Region, error)
	Attach(id int) (*region.Region, error)
	Release() error
}

type Option func(*Pool)

func WithLogger(l log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithPublisher sets where threshold events go. Without one the
// notifier is disabled.
func WithPublisher(pub threshold.Publisher) Option {
	return func(p *Pool) { p.publisher = pub }
}

// WithPatternStore enables warm start and pattern persistence.
func WithPatternStore(s usage.Store) Option {
	return func(p *Pool) { p.patterns = s }
}

// WithSequence numbers threshold events.
func WithSequence(s threshold.Sequence) Option {
	return func(p *Pool) { p.seq = s }
}

// WithAbort replaces the handler Check calls on corruption. The default
// logs the error and exits the process.
func WithAbort(fn func(error)) Option {
	return func(p *Pool) { p.abort = fn }
}

func WithProvisioner(pv Provisioner) Option {
	return func(p *Pool) { p.prov = pv }
}

// WithEventContext sets the context passed to the publisher.
func WithEventContext(ctx context.Context) Option {
	return func(p *Pool) { p.eventCtx = ctx }
}

func exitOnCorruption(logger log.Logger) func(error) {
	return func(err error) {
		level.Error(logger).Log("msg", "shared memory corrupted, aborting", "err", err)
		os.Exit(134)
	}
}
