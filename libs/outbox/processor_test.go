package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var errTest = errors.New("broker timeout")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(store Store, pub Publisher, cfg ProcessorConfig) *Processor {
	return NewProcessor(store, pub, testLogger(), cfg)
}

func pendingEvent(payload string) Record {
	return Record{
		ID:            uuid.New(),
		EventType:     "ContactCreated",
		AggregateKey:  "contact-1",
		Payload:       []byte(payload),
		CorrelationID: uuid.NewString(),
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestTickPublishesAllPending(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{})

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, store.add(pendingEvent(`{"n":1}`)))
	}

	if err := proc.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	for _, id := range ids {
		rec := store.get(id)
		if rec.Status != StatusPublished {
			t.Fatalf("event %s status %s, want published", id, rec.Status)
		}
		if rec.Attempts != 1 {
			t.Fatalf("event %s attempts %d, want 1", id, rec.Attempts)
		}
		if rec.PublishedAt == nil {
			t.Fatalf("event %s published without publishedAt", id)
		}
	}
}

func TestTransientFailureThenSuccess(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{})

	now := time.Now().UTC()
	proc.now = func() time.Time { return now }

	id := store.add(pendingEvent(`{"n":2}`))
	pub.failures[id] = 1

	if err := proc.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	rec := store.get(id)
	if rec.Status != StatusFailed {
		t.Fatalf("status %s after transient failure, want failed", rec.Status)
	}
	if rec.Attempts != 1 {
		t.Fatalf("attempts %d, want 1", rec.Attempts)
	}
	if rec.NextRetryAt == nil || !rec.NextRetryAt.After(now) {
		t.Fatal("expected a future nextRetryAt")
	}
	if rec.LastError == nil {
		t.Fatal("expected lastError recorded")
	}

	// Advance past the scheduled retry; the retry phase picks it up.
	now = rec.NextRetryAt.Add(time.Second)
	if err := proc.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	rec = store.get(id)
	if rec.Status != StatusPublished {
		t.Fatalf("status %s after retry, want published", rec.Status)
	}
	if rec.Attempts != 2 {
		t.Fatalf("attempts %d, want 2", rec.Attempts)
	}
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	const maxAttempts = 5
	store := newMemStore(maxAttempts)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{})

	now := time.Now().UTC()
	proc.now = func() time.Time { return now }

	id := store.add(pendingEvent(`{"n":3}`))
	pub.failures[id] = 100 // never succeeds

	for i := 0; i < maxAttempts; i++ {
		if err := proc.tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		rec := store.get(id)
		if rec.NextRetryAt != nil {
			now = rec.NextRetryAt.Add(time.Second)
		} else {
			now = now.Add(time.Hour)
		}
	}

	rec := store.get(id)
	if rec.Status != StatusDeadLettered {
		t.Fatalf("status %s after %d attempts, want dead_lettered", rec.Status, maxAttempts)
	}
	if rec.Attempts != maxAttempts {
		t.Fatalf("attempts %d, want %d", rec.Attempts, maxAttempts)
	}

	// Dead-lettered records never come back.
	got, err := store.FetchRetryable(context.Background(), 10, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FetchRetryable: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("dead-lettered record returned by FetchRetryable: %v", got)
	}
	if pub.publishCount(id) != 0 {
		t.Fatal("dead-lettered event was published")
	}
}

func TestPermanentErrorDeadLettersImmediately(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{})

	id := store.add(pendingEvent(`{"n":4}`))
	pub.permanent[id] = true

	if err := proc.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	rec := store.get(id)
	if rec.Status != StatusDeadLettered {
		t.Fatalf("status %s, want dead_lettered on permanent error", rec.Status)
	}
	if rec.Attempts != 1 {
		t.Fatalf("attempts %d, want 1", rec.Attempts)
	}
}

func TestConcurrentProcessorsClaimDisjointly(t *testing.T) {
	store := newMemStore(5)
	pubA := newFakePublisher()
	pubB := newFakePublisher()
	procA := newTestProcessor(store, pubA, ProcessorConfig{BatchSize: 100})
	procB := newTestProcessor(store, pubB, ProcessorConfig{BatchSize: 100})

	var ids []uuid.UUID
	for i := 0; i < 50; i++ {
		ids = append(ids, store.add(pendingEvent(`{"n":5}`)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = procA.tick(context.Background()) }()
	go func() { defer wg.Done(); _ = procB.tick(context.Background()) }()
	wg.Wait()

	for _, id := range ids {
		total := pubA.publishCount(id) + pubB.publishCount(id)
		if total != 1 {
			t.Fatalf("event %s published %d times, want exactly 1", id, total)
		}
		if rec := store.get(id); rec.Status != StatusPublished {
			t.Fatalf("event %s status %s, want published", id, rec.Status)
		}
	}
}

func TestCleanupRetention(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{Retention: 7 * 24 * time.Hour})

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-24 * time.Hour)

	oldPub := pendingEvent(`{}`)
	oldPub.Status = StatusPublished
	oldPub.PublishedAt = &old
	oldID := store.add(oldPub)

	recentPub := pendingEvent(`{}`)
	recentPub.Status = StatusPublished
	recentPub.PublishedAt = &recent
	recentID := store.add(recentPub)

	oldDead := pendingEvent(`{}`)
	oldDead.Status = StatusDeadLettered
	oldDead.CreatedAt = old
	deadID := store.add(oldDead)

	if err := proc.cleanupPhase(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	store.mu.Lock()
	_, oldExists := store.recs[oldID]
	_, recentExists := store.recs[recentID]
	_, deadExists := store.recs[deadID]
	store.mu.Unlock()

	if oldExists {
		t.Fatal("published record past retention was not deleted")
	}
	if !recentExists {
		t.Fatal("published record inside retention was deleted")
	}
	if !deadExists {
		t.Fatal("dead-lettered record was deleted by cleanup")
	}
}

func TestCleanupGatedByInterval(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{CleanupEvery: time.Hour})

	now := time.Now().UTC()
	proc.now = func() time.Time { return now }

	if err := proc.cleanupPhase(context.Background()); err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	first := proc.lastCleanup

	now = now.Add(10 * time.Minute)
	if err := proc.cleanupPhase(context.Background()); err != nil {
		t.Fatalf("gated cleanup: %v", err)
	}
	if !proc.lastCleanup.Equal(first) {
		t.Fatal("cleanup ran again before the interval elapsed")
	}

	now = now.Add(time.Hour)
	if err := proc.cleanupPhase(context.Background()); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if proc.lastCleanup.Equal(first) {
		t.Fatal("cleanup did not run after the interval elapsed")
	}
}

func TestPhaseIsolation(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{})

	// Cleanup always fails; the publish phases must still run.
	store.failDelete = errors.New("relation does not exist")
	id := store.add(pendingEvent(`{"n":6}`))

	err := proc.tick(context.Background())
	if err == nil {
		t.Fatal("expected tick to surface the cleanup failure")
	}
	if rec := store.get(id); rec.Status != StatusPublished {
		t.Fatalf("pending phase did not run despite cleanup failure: status %s", rec.Status)
	}
}

func TestTickStoreOutage(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{})

	store.failFetch = errors.New("connection refused")
	if err := proc.tick(context.Background()); err == nil {
		t.Fatal("expected tick error when store is unreachable")
	}
}

func TestShutdownDrainsPending(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{DrainTimeout: 2 * time.Second})

	id := store.add(pendingEvent(`{"n":7}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc.Run(ctx) // returns immediately after the final drain

	if rec := store.get(id); rec.Status != StatusPublished {
		t.Fatalf("final drain did not publish pending event: status %s", rec.Status)
	}
}

func TestCorrelationFidelity(t *testing.T) {
	store := newMemStore(5)
	pub := newFakePublisher()
	proc := newTestProcessor(store, pub, ProcessorConfig{})

	evt := pendingEvent(`{"name":"Ada"}`)
	id := store.add(evt)

	if err := proc.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d records, want 1", len(pub.published))
	}
	if got := pub.published[0].CorrelationID; got != evt.CorrelationID {
		t.Fatalf("published correlation id %q, want %q", got, evt.CorrelationID)
	}
	if pub.published[0].ID != id {
		t.Fatalf("published id %s, want %s", pub.published[0].ID, id)
	}
}
