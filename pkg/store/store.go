// Package store persists trace records in a single LSM-tree keyspace
// rooted at a caller-supplied directory. It is built on
// github.com/syndtr/goleveldb, a pure-Go implementation of an LSM tree
// (sorted tables, memtable, background compaction). Three logical
// partitions share one goleveldb database, distinguished by a one-byte
// keyspace prefix so each partition is a contiguous, independently
// iterable lexicographic range.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/epli2/phantom/pkg/trace"
)

const (
	prefixTraces    byte = 't'
	prefixByTime    byte = 'i'
	prefixByTraceID byte = 'g'
)

// Store is the LSM-tree-backed TraceStore. The engine is internally
// synchronous: a *Store may be shared by multiple reader goroutines,
// but callers from asynchronous contexts must invoke it from a
// blocking-tolerant section, as the terminal UI's tick loop does.
type Store struct {
	db *leveldb.DB
}

var _ trace.TraceStore = (*Store)(nil)

// Open opens (creating if necessary) the LSM keyspace rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, wrapErr(ErrOpen, "open", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func traceKey(id trace.SpanId) []byte {
	k := make([]byte, 0, 1+8)
	k = append(k, prefixTraces)
	k = append(k, id.Bytes()...)
	return k
}

func timeKey(ts int64, id trace.SpanId) []byte {
	k := make([]byte, 0, 1+8+8)
	k = append(k, prefixByTime)
	var tsb [8]byte
	binary.BigEndian.PutUint64(tsb[:], uint64(ts))
	k = append(k, tsb[:]...)
	k = append(k, id.Bytes()...)
	return k
}

func traceIDKey(tid trace.TraceId, id trace.SpanId) []byte {
	k := make([]byte, 0, 1+16+8)
	k = append(k, prefixByTraceID)
	k = append(k, tid[:]...)
	k = append(k, id.Bytes()...)
	return k
}

// Insert stages all three partition writes into a single batch and
// commits them together, so a reader never observes a trace in one
// partition but not the others.
func (s *Store) Insert(ctx context.Context, t *trace.HttpTrace) error {
	value, err := json.Marshal(t)
	if err != nil {
		return wrapErr(ErrSerialize, "insert", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(traceKey(t.SpanId), value)
	batch.Put(timeKey(t.Timestamp.UnixNano(), t.SpanId), t.SpanId.Bytes())
	batch.Put(traceIDKey(t.TraceId, t.SpanId), t.SpanId.Bytes())

	if err := s.db.Write(batch, nil); err != nil {
		return wrapErr(ErrWrite, "insert", err)
	}
	return nil
}

// GetBySpanId is the primary lookup in the traces partition.
func (s *Store) GetBySpanId(ctx context.Context, id trace.SpanId) (*trace.HttpTrace, error) {
	value, err := s.db.Get(traceKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(ErrWrite, "get_by_span_id", err)
	}
	return decodeTrace(value)
}

func decodeTrace(value []byte) (*trace.HttpTrace, error) {
	var t trace.HttpTrace
	if err := json.Unmarshal(value, &t); err != nil {
		return nil, wrapErr(ErrSerialize, "decode", err)
	}
	return &t, nil
}

// ListRecent iterates by_time in reverse (newest first), skipping offset
// entries and yielding up to limit records resolved through the traces
// partition. A secondary entry whose primary record has since been
// removed (a possible race with compaction) is silently skipped.
func (s *Store) ListRecent(ctx context.Context, limit, offset int) ([]*trace.HttpTrace, error) {
	rng := util.BytesPrefix([]byte{prefixByTime})
	it := s.db.NewIterator(rng, nil)
	defer it.Release()

	var out []*trace.HttpTrace
	skipped := 0
	for ok := it.Last(); ok; ok = it.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		spanBytes := it.Value()
		var id trace.SpanId
		copy(id[:], spanBytes)

		t, err := s.GetBySpanId(ctx, id)
		if err != nil {
			return out, err
		}
		if t == nil {
			continue // primary record missing; skip silently
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, t)
	}
	if err := it.Error(); err != nil {
		return out, wrapErr(ErrWrite, "list_recent", err)
	}
	return out, nil
}

// ListByTraceId returns every span recorded under a common trace id
// prefix, via a prefix scan over by_trace_id.
func (s *Store) ListByTraceId(ctx context.Context, tid trace.TraceId) ([]*trace.HttpTrace, error) {
	prefix := make([]byte, 0, 1+16)
	prefix = append(prefix, prefixByTraceID)
	prefix = append(prefix, tid[:]...)

	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []*trace.HttpTrace
	for it.Next() {
		var id trace.SpanId
		copy(id[:], it.Value())
		t, err := s.GetBySpanId(ctx, id)
		if err != nil {
			return out, err
		}
		if t == nil {
			continue
		}
		out = append(out, t)
	}
	if err := it.Error(); err != nil {
		return out, wrapErr(ErrWrite, "list_by_trace_id", err)
	}
	return out, nil
}

// SearchByURL performs a full scan of the traces partition, matching URL
// case-insensitively. Acceptable for bounded local datasets; an inverted
// index is out of scope.
func (s *Store) SearchByURL(ctx context.Context, pattern string, limit int) ([]*trace.HttpTrace, error) {
	needle := strings.ToLower(pattern)
	it := s.db.NewIterator(util.BytesPrefix([]byte{prefixTraces}), nil)
	defer it.Release()

	var out []*trace.HttpTrace
	for it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		t, err := decodeTrace(it.Value())
		if err != nil {
			return out, err
		}
		if strings.Contains(strings.ToLower(t.URL), needle) {
			out = append(out, t)
		}
	}
	if err := it.Error(); err != nil {
		return out, wrapErr(ErrWrite, "search_by_url", err)
	}
	return out, nil
}

// Count returns an approximate entry count of the traces partition: an
// iteration-based count, exact at the moment it runs but reported as
// approximate since a concurrent writer may add or compact entries
// mid-scan.
func (s *Store) Count(ctx context.Context) (int64, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte{prefixTraces}), nil)
	defer it.Release()

	var n int64
	for it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return n, wrapErr(ErrWrite, "count", err)
	}
	return n, nil
}
