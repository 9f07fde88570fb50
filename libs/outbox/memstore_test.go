package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore mirrors the PGStore claim semantics in memory so the processor
// state machine can be exercised without a database.
type memStore struct {
	mu          sync.Mutex
	recs        map[uuid.UUID]*Record
	maxAttempts int
	lease       time.Duration

	failFetch  error // injected store outage
	failDelete error
}

func newMemStore(maxAttempts int) *memStore {
	return &memStore{
		recs:        map[uuid.UUID]*Record{},
		maxAttempts: maxAttempts,
		lease:       5 * time.Minute,
	}
}

func (s *memStore) add(rec Record) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := rec
	s.recs[rec.ID] = &cp
	return rec.ID
}

func (s *memStore) get(id uuid.UUID) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.recs[id]
}

func (s *memStore) FetchPending(_ context.Context, batchSize int, now time.Time) ([]Record, error) {
	return s.claim(batchSize, now, func(r *Record) bool {
		return r.Status == StatusPending
	})
}

func (s *memStore) FetchRetryable(_ context.Context, batchSize int, now time.Time) ([]Record, error) {
	leaseCutoff := now.Add(-s.lease)
	return s.claim(batchSize, now, func(r *Record) bool {
		if r.Status == StatusFailed && r.NextRetryAt != nil && !r.NextRetryAt.After(now) {
			return true
		}
		return r.Status == StatusProcessing && r.LastAttemptAt != nil && !r.LastAttemptAt.After(leaseCutoff)
	})
}

func (s *memStore) claim(batchSize int, now time.Time, eligible func(*Record) bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFetch != nil {
		return nil, s.failFetch
	}

	var candidates []*Record
	for _, r := range s.recs {
		if eligible(r) {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	var out []Record
	for _, r := range candidates {
		r.Status = StatusProcessing
		r.Attempts++
		at := now
		r.LastAttemptAt = &at
		out = append(out, *r)
	}
	return out, nil
}

func (s *memStore) MarkPublished(_ context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r.Status != StatusProcessing {
		return nil
	}
	r.Status = StatusPublished
	at := publishedAt
	r.PublishedAt = &at
	r.NextRetryAt = nil
	r.LastError = nil
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID, cause string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || r.Status != StatusProcessing {
		return nil
	}
	r.LastError = &cause
	if r.Attempts >= s.maxAttempts {
		r.Status = StatusDeadLettered
		r.NextRetryAt = nil
		return nil
	}
	r.Status = StatusFailed
	at := nextRetryAt
	r.NextRetryAt = &at
	return nil
}

func (s *memStore) MarkDeadLettered(_ context.Context, id uuid.UUID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok || (r.Status != StatusProcessing && r.Status != StatusFailed) {
		return nil
	}
	r.Status = StatusDeadLettered
	r.NextRetryAt = nil
	r.LastError = &cause
	return nil
}

func (s *memStore) DeleteOlderThan(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return 0, s.failDelete
	}
	cutoff := time.Now().UTC().Add(-retention)
	var deleted int64
	for id, r := range s.recs {
		if r.Status == StatusPublished && r.PublishedAt != nil && r.PublishedAt.Before(cutoff) {
			delete(s.recs, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ Store = (*memStore)(nil)

// fakePublisher scripts per-event outcomes and records every accepted
// publish.
type fakePublisher struct {
	mu sync.Mutex
	// failures maps event id -> number of transient failures before success.
	failures map[uuid.UUID]int
	// permanent maps event id -> permanent failure on every attempt.
	permanent map[uuid.UUID]bool
	published []Record
	counts    map[uuid.UUID]int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		failures:  map[uuid.UUID]int{},
		permanent: map[uuid.UUID]bool{},
		counts:    map[uuid.UUID]int{},
	}
}

func (p *fakePublisher) Publish(_ context.Context, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.permanent[rec.ID] {
		return &PermanentError{Err: errTest}
	}
	if n := p.failures[rec.ID]; n > 0 {
		p.failures[rec.ID] = n - 1
		return errTest
	}
	p.published = append(p.published, rec)
	p.counts[rec.ID]++
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) publishCount(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[id]
}
