package region

import (
	stderrors "errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// -------------------- Kind --------------------

// Kind is the OS mechanism backing a region.
type Kind uint8

const (
	KindAuto Kind = iota
	KindAnon
	KindZero
	KindSysV
)

func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindAnon:
		return "anon"
	case KindZero:
		return "zero"
	case KindSysV:
		return "sysv"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "auto":
		return KindAuto, nil
	case "anon":
		return KindAnon, nil
	case "zero":
		return KindZero, nil
	case "sysv":
		return KindSysV, nil
	}
	return KindAuto, errors.Errorf("region: unknown backing %q", s)
}

// -------------------- Region --------------------

// Region is a mapped shared-memory area.
type Region struct {
	Mem   []byte
	Kind  Kind
	id    int
	owner bool
}

// ID is the System V segment id, or -1 for mappings.
func (r *Region) ID() int { return r.id }

func (r *Region) Size() int { return len(r.Mem) }

// -------------------- OS --------------------

// osOps is the OS surface used by the provisioner.
type osOps interface {
	mmapAnon(size int) ([]byte, error)
	mmapZero(size int) ([]byte, error)
	shmGet(size int) (int, error)
	shmAttach(id int) ([]byte, error)
	shmDetach(mem []byte) error
	shmRemove(id int) error
	munmap(mem []byte) error
}

// -------------------- Provisioner --------------------

// Provisioner owns at most one region for the life of the process.
type Provisioner struct {
	mu     sync.Mutex
	ops    osOps
	kind   Kind
	logger log.Logger
	region *Region
}

// New returns a provisioner that acquires regions of the given kind.
// KindAuto tries anon, then zero, then sysv.
func New(kind Kind, logger log.Logger) *Provisioner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Provisioner{ops: sysOps{}, kind: kind, logger: log.With(logger, "component", "region")}
}

// Region returns the held region or nil.
func (p *Provisioner) Region() *Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.region
}

// Acquire maps a fresh region of at least size bytes, rounded up to
// the page size.
func (p *Provisioner) Acquire(size int) (*Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.region != nil {
		return nil, ErrAlreadyInitialized
	}
	if size <= 0 {
		return nil, errors.Wrapf(ErrResource, "invalid size %d", size)
	}
	page := os.Getpagesize()
	size = (size + page - 1) / page * page

	var kinds []Kind
	if p.kind == KindAuto {
		kinds = []Kind{KindAnon, KindZero, KindSysV}
	} else {
		kinds = []Kind{p.kind}
	}

	var errs []error
	for _, k := range kinds {
		r, err := p.acquire(k, size)
		if err == nil {
			p.region = r
			level.Info(p.logger).Log("msg", "shared region acquired", "kind", k, "size", size, "shmid", r.id)
			return r, nil
		}
		level.Debug(p.logger).Log("msg", "backing unavailable", "kind", k, "err", err)
		errs = append(errs, errors.Wrap(err, k.String()))
	}
	return nil, errors.Wrapf(ErrResource, "%d bytes: %v", size, stderrors.Join(errs...))
}

func (p *Provisioner) acquire(k Kind, size int) (*Region, error) {
	switch k {
	case KindAnon:
		mem, err := p.ops.mmapAnon(size)
		if err != nil {
			return nil, err
		}
		return &Region{Mem: mem, Kind: k, id: -1, owner: true}, nil

	case KindZero:
		mem, err := p.ops.mmapZero(size)
		if err != nil {
			return nil, err
		}
		return &Region{Mem: mem, Kind: k, id: -1, owner: true}, nil

	case KindSysV:
		id, err := p.ops.shmGet(size)
		if err != nil {
			return nil, err
		}
		mem, err := p.ops.shmAttach(id)
		if err != nil {
			if rerr := p.ops.shmRemove(id); rerr != nil {
				level.Error(p.logger).Log("msg", "removing unattached segment failed", "shmid", id, "err", rerr)
			}
			return nil, errors.Wrapf(err, "attach segment %d", id)
		}
		return &Region{Mem: mem, Kind: k, id: id, owner: true}, nil
	}
	return nil, fmt.Errorf("kind %v not acquirable", k)
}

// Attach maps a System V segment created by another process. The
// creator keeps ownership and removes the segment.
func (p *Provisioner) Attach(id int) (*Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.region != nil {
		return nil, ErrAlreadyInitialized
	}
	mem, err := p.ops.shmAttach(id)
	if err != nil {
		return nil, errors.Wrapf(ErrResource, "attach segment %d: %v", id, err)
	}
	p.region = &Region{Mem: mem, Kind: KindSysV, id: id}
	level.Info(p.logger).Log("msg", "shared region attached", "shmid", id, "size", len(mem))
	return p.region, nil
}

// Release unmaps or detaches the region and removes an owned segment.
// Every step runs even if an earlier one failed; failures are logged
// and returned together. Releasing twice is a no-op.
func (p *Provisioner) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.region
	if r == nil {
		return nil
	}
	p.region = nil

	var errs []error
	if r.Mem != nil {
		var err error
		if r.Kind == KindSysV {
			err = p.ops.shmDetach(r.Mem)
		} else {
			err = p.ops.munmap(r.Mem)
		}
		if err != nil {
			level.Error(p.logger).Log("msg", "unmapping region failed", "kind", r.Kind, "err", err)
			errs = append(errs, err)
		}
		r.Mem = nil
	}
	if r.id >= 0 && r.owner {
		if err := p.ops.shmRemove(r.id); err != nil {
			level.Error(p.logger).Log("msg", "removing segment failed", "shmid", r.id, "err", err)
			errs = append(errs, err)
		}
	}
	r.id = -1

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "region: release")
	}
	level.Info(p.logger).Log("msg", "shared region released", "kind", r.Kind)
	return nil
}
