package pattern

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"shmpool/domain/usage"
)

const keyPrefix = "pattern/"

// Pebble stores a pattern as one key per size: pattern/<size> -> count.
type Pebble struct {
	db    *pebble.DB
	owned bool
}

// OpenPebble opens (or creates) a pebble database in dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pattern: open pebble")
	}
	return &Pebble{db: db, owned: true}, nil
}

// NewPebble stores the pattern in a database owned by the caller.
func NewPebble(db *pebble.DB) *Pebble {
	return &Pebble{db: db}
}

func (s *Pebble) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Save replaces every stored entry with p in one batch.
func (s *Pebble) Save(p usage.Pattern) error {
	b := s.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange([]byte(keyPrefix), []byte(keyPrefix+"~"), nil); err != nil {
		return errors.Wrap(err, "pattern: clear")
	}
	var val [8]byte
	for _, e := range p {
		binary.BigEndian.PutUint64(val[:], e.Count)
		if err := b.Set(keyFor(e.Size), val[:], nil); err != nil {
			return errors.Wrap(err, "pattern: set")
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "pattern: commit")
}

// Load returns the stored entries ordered by size.
func (s *Pebble) Load() (usage.Pattern, bool, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "pattern: iterate")
	}
	defer iter.Close()

	var p usage.Pattern
	for iter.First(); iter.Valid(); iter.Next() {
		size, err := parseKey(iter.Key())
		if err != nil {
			return nil, false, err
		}
		val := iter.Value()
		if len(val) != 8 {
			return nil, false, errors.Wrapf(ErrCorrupt, "size %d: value of %d bytes", size, len(val))
		}
		p = append(p, usage.Entry{Size: size, Count: binary.BigEndian.Uint64(val)})
	}
	if err := iter.Error(); err != nil {
		return nil, false, errors.Wrap(err, "pattern: iterate")
	}
	return p, len(p) > 0, nil
}

// -------------------- Helpers --------------------

func keyFor(size uint64) []byte {
	return []byte(fmt.Sprintf(keyPrefix+"%020d", size))
}

func parseKey(b []byte) (uint64, error) {
	var size uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &size)
	return size, errors.Wrapf(err, "pattern: key %q", b)
}
