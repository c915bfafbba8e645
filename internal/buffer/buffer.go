// Package buffer implements the Data Buffer (C5): a bounded ring with
// wall-clock retention, holding both short-term retrieval-cache entries and
// sink-recovery entries awaiting republish.
//
// The eviction shape mirrors the teacher's SlidingWindow
// (coreengine/kernel/rate_limiter.go): a guarded struct that sweeps expired
// state before every mutating call, plus (here) a background hourly sweep so
// a quiet buffer still ages out even with no new writes.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obs"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
)

const (
	// DefaultMaxSize is the default bounded-ring capacity (spec §4.5).
	DefaultMaxSize = 10000
	// DefaultRetention is the default wall-clock retention window.
	DefaultRetention = 7 * 24 * time.Hour
)

// Backing is the optional pluggable external store (key-value, relational,
// document) a Store can write through to. Some backends (a hypothetical
// future KV store) cannot delete a single record by id; those declare
// BufferOnly() true and Store falls back to whole-bucket clears for
// recovery flush instead of per-entry delete (see DESIGN.md's Open Question
// decision on mixed flush semantics).
type Backing interface {
	Put(ctx context.Context, entry model.BufferedEntry) error
	DeleteByID(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, sourceID string) error
	Clear(ctx context.Context) error
	BufferOnly() bool
}

// Store is the in-memory ring the Data Buffer operates on, optionally
// mirrored to a Backing. A Backing failure during Store is logged and the
// entry is kept in memory only — external storage is a durability nicety,
// not a dependency of the acquisition path. Remove, FlushSinkBufferOnly,
// Clear and ClearBySource apply their in-memory change first and then
// return any Backing error to the caller.
type Store struct {
	mu      sync.RWMutex
	entries []model.BufferedEntry // oldest first
	maxSize int
	retain  time.Duration
	backing Backing
	log     obslog.Logger

	cron     *cron.Cron
	flushing map[string]bool // sink names with a flush in progress
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxSize overrides the default ring capacity.
func WithMaxSize(n int) Option { return func(s *Store) { s.maxSize = n } }

// WithRetention overrides the default wall-clock retention window.
func WithRetention(d time.Duration) Option { return func(s *Store) { s.retain = d } }

// WithBacking attaches an optional external backing store.
func WithBacking(b Backing) Option { return func(s *Store) { s.backing = b } }

// WithLogger overrides the store's logger.
func WithLogger(log obslog.Logger) Option { return func(s *Store) { s.log = log } }

// New returns a Store ready for use, with eviction defaults per spec §4.5.
func New(opts ...Option) *Store {
	s := &Store{
		maxSize:  DefaultMaxSize,
		retain:   DefaultRetention,
		log:      obslog.Noop(),
		flushing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartEvictionSweep launches the hourly background eviction job. Callers
// should defer StopEvictionSweep (or let process exit reap it).
func (s *Store) StartEvictionSweep() {
	s.cron = cron.New()
	_, _ = s.cron.AddFunc("@hourly", s.evictExpired)
	s.cron.Start()
}

// StopEvictionSweep stops the background sweep, if running.
func (s *Store) StopEvictionSweep() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// Store appends a new BufferedEntry for record, tagged with role (cache or
// recovery) and, for recovery entries, the sink name it's pending republish
// to. Returns the entry actually stored (with its generated ID and
// timestamp).
func (s *Store) Store(ctx context.Context, record model.CanonicalRecord, role model.BufferRole, intendedSubject string) model.BufferedEntry {
	entry := model.BufferedEntry{
		ID:              "buf_" + uuid.New().String()[:16],
		Record:          record,
		Role:            role,
		IntendedSubject: intendedSubject,
		BufferedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.evictLocked()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.reportDepthLocked()
	s.mu.Unlock()

	if s.backing != nil {
		if err := s.backing.Put(ctx, entry); err != nil {
			s.log.Warn("buffer: backing store write failed, continuing in-memory", "error", err.Error())
		}
	}

	return entry
}

// evictLocked drops entries older than the retention window. Caller must
// hold s.mu.
func (s *Store) evictLocked() {
	if s.retain <= 0 || len(s.entries) == 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.retain)
	i := 0
	for i < len(s.entries) && s.entries[i].BufferedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.entries = s.entries[i:]
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	before := len(s.entries)
	s.evictLocked()
	evicted := before - len(s.entries)
	s.reportDepthLocked()
	s.mu.Unlock()

	if evicted > 0 {
		s.log.Info("buffer: hourly sweep evicted expired entries", "count", evicted)
	}
}

// reportDepthLocked updates the obs gauge per role. Caller must hold s.mu
// (read lock is enough, but this is always called from a write-locked path).
func (s *Store) reportDepthLocked() {
	counts := map[model.BufferRole]int{}
	for _, e := range s.entries {
		counts[e.Role]++
	}
	obs.SetBufferDepth(string(model.RoleCache), counts[model.RoleCache])
	obs.SetBufferDepth(string(model.RoleRecovery), counts[model.RoleRecovery])
}

// GetLatest returns the n most recently buffered entries, newest-first.
func (s *Store) GetLatest(n int) []model.BufferedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reversed(lastN(s.entries, n))
}

// GetBySource returns the n most recently buffered entries for sourceID,
// newest-first.
func (s *Store) GetBySource(sourceID string, n int) []model.BufferedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []model.BufferedEntry
	for _, e := range s.entries {
		if e.Record.Metadata.SourceID == sourceID {
			matches = append(matches, e)
		}
	}
	return reversed(lastN(matches, n))
}

// GetByTimeRange returns every entry buffered within [start, end), oldest
// first.
func (s *Store) GetByTimeRange(start, end time.Time) []model.BufferedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []model.BufferedEntry
	for _, e := range s.entries {
		if !e.BufferedAt.Before(start) && e.BufferedAt.Before(end) {
			matches = append(matches, e)
		}
	}
	return matches
}

// Search returns every entry whose record contains substring
// (case-insensitive), newest-first.
func (s *Store) Search(substring string) []model.BufferedEntry {
	needle := strings.ToLower(substring)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []model.BufferedEntry
	for _, e := range s.entries {
		data, err := json.Marshal(e.Record)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(data)), needle) {
			matches = append(matches, e)
		}
	}
	return reversed(matches)
}

// PendingForSink returns every recovery entry currently intended for
// sinkName, oldest first (republish order).
func (s *Store) PendingForSink(sinkName string) []model.BufferedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []model.BufferedEntry
	for _, e := range s.entries {
		if e.Role == model.RoleRecovery && e.IntendedSubject == sinkName {
			matches = append(matches, e)
		}
	}
	return matches
}

// Remove deletes a single entry by id, used after a successful recovery
// republish. Falls through to the backing store's DeleteByID when present;
// callers flushing a BufferOnly backing should use FlushSinkBufferOnly
// instead, since per-id delete against that kind of backing is a no-op/error.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	s.reportDepthLocked()
	s.mu.Unlock()

	if s.backing != nil && !s.backing.BufferOnly() {
		if err := s.backing.DeleteByID(ctx, id); err != nil {
			return fmt.Errorf("buffer: backing delete failed: %w", err)
		}
	}
	return nil
}

// FlushSinkBufferOnly drops every in-memory entry pending for sinkName in
// one pass, for a BufferOnly backing that cannot delete individual records,
// and then clears the attached backing as a whole (entries of other sinks
// and roles included). It
// refuses to run concurrently against the same sink (spec §9's mixed flush
// semantics decision): a second call while one is in progress returns
// ErrFlushAlreadyRunning.
func (s *Store) FlushSinkBufferOnly(ctx context.Context, sinkName string) error {
	s.mu.Lock()
	if s.flushing[sinkName] {
		s.mu.Unlock()
		return model.ErrFlushAlreadyRunning
	}
	s.flushing[sinkName] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.flushing, sinkName)
		s.mu.Unlock()
	}()

	s.mu.Lock()
	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if e.Role == model.RoleRecovery && e.IntendedSubject == sinkName {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.reportDepthLocked()
	s.mu.Unlock()

	if s.backing != nil {
		if err := s.backing.Clear(ctx); err != nil {
			return fmt.Errorf("buffer: backing clear failed: %w", err)
		}
	}
	return nil
}

// Clear empties the entire buffer.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = nil
	s.reportDepthLocked()
	s.mu.Unlock()

	if s.backing != nil {
		if err := s.backing.Clear(ctx); err != nil {
			return fmt.Errorf("buffer: backing clear failed: %w", err)
		}
	}
	return nil
}

// ClearBySource removes every entry for sourceID, including from the
// backing store if one is attached (so a removed source doesn't leave
// stale rows behind).
func (s *Store) ClearBySource(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if e.Record.Metadata.SourceID != sourceID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.reportDepthLocked()
	s.mu.Unlock()

	if s.backing != nil {
		if err := s.backing.DeleteBySource(ctx, sourceID); err != nil {
			return fmt.Errorf("buffer: backing delete by source failed: %w", err)
		}
	}
	return nil
}

// BackingBufferOnly reports whether the attached backing (if any) can only
// clear a whole bucket rather than delete by id, driving C7's recovery-flush
// choice between per-entry Remove and a single FlushSinkBufferOnly pass.
func (s *Store) BackingBufferOnly() bool {
	if s.backing == nil {
		return false
	}
	return s.backing.BufferOnly()
}

// Len returns the current number of buffered entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func lastN(entries []model.BufferedEntry, n int) []model.BufferedEntry {
	if n <= 0 || n >= len(entries) {
		out := make([]model.BufferedEntry, len(entries))
		copy(out, entries)
		return out
	}
	out := make([]model.BufferedEntry, n)
	copy(out, entries[len(entries)-n:])
	return out
}

func reversed(entries []model.BufferedEntry) []model.BufferedEntry {
	out := make([]model.BufferedEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
