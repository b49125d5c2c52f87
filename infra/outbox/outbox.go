package outbox

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"shmpool/domain/threshold"
	"shmpool/infra/events"
	"shmpool/infra/sequence"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Record is one stored event.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const recordHeaderLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeaderLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeaderLen:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < recordHeaderLen {
		return Record{}, errors.Errorf("outbox: record %d of %d bytes", seq, len(b))
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[recordHeaderLen:]...),
	}, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db  *pebble.DB
	seq *sequence.Sequencer
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "outbox: open")
	}
	o := &Outbox{db: db}
	last, err := o.LastSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	o.seq = sequence.New(last)
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// DB exposes the database so other stores can share it.
func (o *Outbox) DB() *pebble.DB { return o.db }

// -------------------- API --------------------

// Publish stores ev as a new record. Events without a sequence number
// get the next free one.
func (o *Outbox) Publish(_ context.Context, ev threshold.Event) error {
	if ev.Seq == 0 {
		ev.Seq = o.seq.Next()
	} else {
		o.seq.Advance(ev.Seq)
	}
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return o.put(Record{Seq: ev.Seq, State: StateNew, Payload: payload})
}

// UpdateState records a delivery attempt.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return o.put(rec)
}

func (o *Outbox) MarkSent(seq uint64) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	return o.UpdateState(seq, StateSent, rec.Retries+1)
}

func (o *Outbox) MarkAcked(seq uint64) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	return o.UpdateState(seq, StateAcked, rec.Retries)
}

// Delete removes a record.
func (o *Outbox) Delete(seq uint64) error {
	return errors.Wrap(o.db.Delete(keyFor(seq), pebble.Sync), "outbox: delete")
}

// Get returns the record stored under seq.
func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, errors.Wrapf(err, "outbox: get %d", seq)
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// LastSeq is the highest sequence number stored, 0 when empty.
func (o *Outbox) LastSeq() (uint64, error) {
	iter, err := o.newIter()
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, errors.Wrap(iter.Error(), "outbox: last")
	}
	return parseKey(iter.Key())
}

func (o *Outbox) put(r Record) error {
	return errors.Wrap(o.db.Set(keyFor(r.Seq), encodeRecord(r), pebble.Sync), "outbox: put")
}

// -------------------- Scan --------------------

// ScanByState calls fn for every record in state, in sequence order.
func (o *Outbox) ScanByState(state State, fn func(Record) error) error {
	iter, err := o.newIter()
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if len(iter.Value()) == 0 || State(iter.Value()[0]) != state {
			continue
		}
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "outbox: scan")
}

// Prune deletes every acknowledged record and returns how many went.
func (o *Outbox) Prune() (int, error) {
	var seqs []uint64
	if err := o.ScanByState(StateAcked, func(r Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}); err != nil {
		return 0, err
	}
	// keep the newest record so LastSeq survives a restart
	if len(seqs) > 0 {
		if last, err := o.LastSeq(); err == nil && seqs[len(seqs)-1] == last {
			seqs = seqs[:len(seqs)-1]
		}
	}
	for _, s := range seqs {
		if err := o.Delete(s); err != nil {
			return 0, err
		}
	}
	return len(seqs), nil
}

// -------------------- Helpers --------------------

const keyPrefix = "event/"

func (o *Outbox) newIter() (*pebble.Iterator, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	return iter, errors.Wrap(err, "outbox: iterate")
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf(keyPrefix+"%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, errors.Wrapf(err, "outbox: key %q", b)
}
