// Package store contains the persistent JSON entry store.
// It is designed to be safe for concurrent access from many goroutines.
package store

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ASHISH26940/jsondb/internal/conflict"
	"github.com/ASHISH26940/jsondb/internal/lock"
	"github.com/ASHISH26940/jsondb/internal/metrics"
	"github.com/ASHISH26940/jsondb/internal/persistence"
	"github.com/ASHISH26940/jsondb/internal/queue"
)

// Entry is the stored unit for one key.
type Entry struct {
	Value     json.RawMessage
	Version   uint64
	Timestamp int64 // Unix milliseconds of the last successful write
}

// placeholder reports whether e was synthesized for a key that has no
// committed write yet.
func (e Entry) placeholder() bool {
	return e.Value == nil
}

// Option configures a Store.
type Option func(*Store)

// WithPolicy selects the conflict policy. The default is version-control.
func WithPolicy(p conflict.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store maps keys to JSON entries persisted as <root>/<key>/data.json.
//
// Every operation on a key holds that key's lock for its whole span, and
// the durable write inside Set additionally goes through the key's write
// queue, so writes to one key commit one at a time in order. The index is
// only updated after the file write succeeded.
type Store struct {
	root     string
	policy   conflict.Policy
	logger   zerolog.Logger
	now      func() time.Time
	resolver *conflict.Resolver

	mu    sync.RWMutex
	index map[string]Entry

	locks  *lock.Table
	writes *queue.Queue
}

// New creates a Store rooted at root. Call Init before serving requests.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:   root,
		policy: conflict.VersionControl,
		logger: zerolog.Nop(),
		now:    time.Now,
		index:  make(map[string]Entry),
		locks:  lock.NewTable(),
		writes: queue.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = conflict.NewResolver(s.policy, s.logger)
	return s
}

// Root returns the storage directory.
func (s *Store) Root() string {
	return s.root
}

// Policy returns the conflict policy in effect.
func (s *Store) Policy() conflict.Policy {
	return s.policy
}

// ValidateKey rejects keys that cannot safely name a directory.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, "/\\\x00") {
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return nil
}

// Init creates the root directory if needed and loads every entry found
// below it. Entries that cannot be read are logged and skipped.
func (s *Store) Init() error {
	s.logger.Debug().Str("root", s.root).Msg("initializing store")
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return &StorageError{Op: "init", Key: s.root, Err: err}
	}
	err := persistence.Scan(s.root, func(key string) error {
		if ValidateKey(key) != nil {
			return nil
		}
		s.load(key)
		return nil
	})
	if err != nil {
		return &StorageError{Op: "scan", Key: s.root, Err: err}
	}
	s.updateGauge()
	s.logger.Info().Int("keys", s.Len()).Str("root", s.root).Msg("store initialized")
	return nil
}

// load reads key's file into the index unless a committed entry is already
// in memory, which always wins over the disk copy. It reports whether the
// index holds a committed entry for key afterwards.
func (s *Store) load(key string) bool {
	rec, err := persistence.ReadRecord(persistence.KeyDir(s.root, key))
	if err != nil {
		switch {
		case os.IsNotExist(errors.Cause(err)):
			s.logger.Debug().Str("key", key).Msg("data file not found")
		case errors.Is(err, persistence.ErrMalformed):
			s.logger.Warn().Err(err).Str("key", key).Msg("invalid entry, ignoring")
			metrics.StoreLoadSkipped.Inc()
		default:
			s.logger.Error().Err(err).Str("key", key).Msg("load failed")
			metrics.StoreLoadSkipped.Inc()
		}
		return false
	}

	value, err := compact(rec.Value)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("invalid entry value, ignoring")
		metrics.StoreLoadSkipped.Inc()
		return false
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = s.nowMillis()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.index[key]; ok && !cur.placeholder() {
		return true
	}
	s.index[key] = Entry{Value: value, Version: rec.Version, Timestamp: ts}
	s.logger.Debug().Str("key", key).Uint64("version", rec.Version).Msg("loaded entry")
	return true
}

// acquire locks key, retrying when the mutex it waited on was forgotten by
// a delete in the meantime.
func (s *Store) acquire(key string) (release func()) {
	for {
		m := s.locks.Get(key)
		release := m.Lock()
		if s.locks.Current(key, m) {
			return release
		}
		release()
	}
}

func (s *Store) entry(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[key]
	return e, ok
}

// forgetIfAbsent drops key's lock when the index has nothing for it, so
// reads of unknown keys do not grow the lock table. Must hold key's lock.
func (s *Store) forgetIfAbsent(key string) {
	if _, ok := s.entry(key); !ok {
		s.locks.Forget(key)
	}
}

// Get returns the value stored under key, or ErrNotFound. A stored JSON
// null is returned as the bytes "null", never as ErrNotFound.
func (s *Store) Get(key string) (json.RawMessage, error) {
	e, err := s.Lookup(key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Lookup returns a copy of the entry stored under key, or ErrNotFound.
// Keys missing from memory are loaded from disk on demand.
func (s *Store) Lookup(key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	s.logger.Debug().Str("key", key).Msg("get")

	release := s.acquire(key)
	defer release()

	e, ok := s.entry(key)
	if !ok || e.placeholder() {
		// Cold key, or an entry whose value never made it into memory.
		s.load(key)
		e, ok = s.entry(key)
	}
	if !ok || e.placeholder() {
		s.forgetIfAbsent(key)
		return Entry{}, errors.Wrapf(ErrNotFound, "%q", key)
	}
	e.Value = append(json.RawMessage(nil), e.Value...)
	return e, nil
}

// Set writes value under key. When hint carries a client version the
// conflict policy decides whether the write may replace the stored entry;
// a rejected write returns a *conflict.ConflictError and changes nothing.
// Accepted writes always bump the stored version by exactly one.
func (s *Store) Set(key string, value json.RawMessage, hint conflict.Hint) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	value, err := compact(value)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("key", key).RawJSON("value", value).Msg("set")

	release := s.acquire(key)
	defer release()

	if _, ok := s.entry(key); !ok {
		s.load(key)
	}
	s.mu.Lock()
	if _, ok := s.index[key]; !ok {
		s.logger.Debug().Str("key", key).Msg("creating new entry")
		s.index[key] = Entry{Timestamp: s.nowMillis()}
	}
	s.mu.Unlock()

	dir := persistence.KeyDir(s.root, key)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		err = &StorageError{Op: "mkdir", Key: key, Err: err}
	} else {
		err = s.writes.Submit(key, func() error {
			return s.commit(key, dir, value, hint)
		})
	}

	if err != nil {
		s.dropPlaceholder(key)
		var ce *conflict.ConflictError
		if errors.As(err, &ce) {
			metrics.StoreWrites.WithLabelValues(metrics.WriteConflict).Inc()
			s.logger.Debug().Err(err).Str("key", key).Msg("write rejected")
		} else {
			metrics.StoreWrites.WithLabelValues(metrics.WriteError).Inc()
			s.logger.Error().Err(err).Str("key", key).Msg("write failed")
		}
		return err
	}
	metrics.StoreWrites.WithLabelValues(metrics.WriteOK).Inc()
	s.updateGauge()
	return nil
}

// commit runs inside key's write queue with key's lock held.
func (s *Store) commit(key, dir string, value json.RawMessage, hint conflict.Hint) error {
	cur, _ := s.entry(key)
	stored := conflict.Stamp{Version: cur.Version, Timestamp: cur.Timestamp}
	if err := s.resolver.Resolve(key, stored, hint); err != nil {
		return err
	}

	next := conflict.Next(stored, s.nowMillis())
	rec := persistence.Record{Value: value, Version: next.Version, Timestamp: next.Timestamp}
	if err := persistence.WriteRecord(dir, rec); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}

	s.mu.Lock()
	s.index[key] = Entry{Value: value, Version: next.Version, Timestamp: next.Timestamp}
	s.mu.Unlock()
	s.logger.Debug().Str("key", key).Uint64("version", next.Version).Msg("write successful")
	return nil
}

// dropPlaceholder removes key from the index if nothing was ever committed
// for it. Must hold key's lock.
func (s *Store) dropPlaceholder(key string) {
	s.mu.Lock()
	e, ok := s.index[key]
	if ok && e.placeholder() {
		delete(s.index, key)
	}
	s.mu.Unlock()
	if ok && e.placeholder() {
		s.locks.Forget(key)
		s.writes.Drop(key)
	}
}

// Delete removes key from disk and memory. It reports false when the key
// has no committed entry.
func (s *Store) Delete(key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	s.logger.Debug().Str("key", key).Msg("delete")

	release := s.acquire(key)
	defer release()

	e, ok := s.entry(key)
	if !ok || e.placeholder() {
		s.forgetIfAbsent(key)
		s.logger.Debug().Str("key", key).Msg("key not found for deletion")
		return false, nil
	}

	if err := persistence.RemoveKey(s.root, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("delete failed")
		return false, &StorageError{Op: "delete", Key: key, Err: err}
	}

	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
	s.writes.Drop(key)
	s.locks.Forget(key)

	metrics.StoreDeletes.Inc()
	s.updateGauge()
	s.logger.Debug().Str("key", key).Msg("deleted key and directory")
	return true, nil
}

// Keys returns the committed keys currently in memory, sorted. It does not
// rescan the disk.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.index))
	for k, e := range s.index {
		if !e.placeholder() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of committed keys in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.index {
		if !e.placeholder() {
			n++
		}
	}
	return n
}

func (s *Store) updateGauge() {
	metrics.StoreKeys.Set(float64(s.Len()))
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// compact validates v as a single JSON document and strips insignificant
// whitespace so values read back identically whether they came from a
// request or from disk.
func compact(v json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(v) {
		return nil, ErrInvalidValue
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	return buf.Bytes(), nil
}
