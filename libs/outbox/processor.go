package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type ProcessorConfig struct {
	PollInterval time.Duration // time between ticks (default 30s)
	ErrorBackoff time.Duration // wait after a tick-level failure (default 60s)
	CleanupEvery time.Duration // minimum gap between cleanup runs (default 1h)
	Retention    time.Duration // published records older than this are deleted (default 7d)
	BatchSize    int
	Retry        RetryPolicy
	DrainTimeout time.Duration // bound on the final shutdown drain (default 10s)
}

// Processor drains the outbox store to the broker. Each tick runs three
// phases isolated from each other's failures: publish pending records,
// publish retry-eligible failed records, and clean up old published rows.
// Coordination across instances lives entirely in the store's claim
// operation; the processor itself keeps no shared state.
type Processor struct {
	store  Store
	pub    Publisher
	logger *slog.Logger
	cfg    ProcessorConfig

	// lastCleanup is instance-private on purpose: concurrent processor
	// instances must not coordinate cleanup timing with each other.
	lastCleanup time.Time
	now         func() time.Time
}

func NewProcessor(store Store, pub Publisher, logger *slog.Logger, cfg ProcessorConfig) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 60 * time.Second
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &Processor{
		store:  store,
		pub:    pub,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run blocks until ctx is cancelled. On shutdown it finishes the in-flight
// batch, performs one bounded best-effort pending drain, and returns;
// anything unfinished stays correctly claimed or pending for the next
// instance.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("outbox processor started",
		"poll_interval", p.cfg.PollInterval.String(),
		"batch_size", p.cfg.BatchSize,
	)

	wait := p.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			p.finalDrain()
			p.logger.Info("outbox processor stopped")
			return
		case <-time.After(wait):
		}

		if err := p.tick(ctx); err != nil {
			p.logger.Error("outbox tick failed, backing off", "err", err)
			wait = p.cfg.ErrorBackoff
		} else {
			wait = p.cfg.PollInterval
		}
	}
}

// tick runs the three phases. Phase errors are store-level failures (fetch
// or delete); per-record publish failures are recorded on the record and
// never fail the phase.
func (p *Processor) tick(ctx context.Context) error {
	var errs []error

	if err := p.pendingPhase(ctx); err != nil {
		p.logger.Error("pending phase failed", "err", err)
		errs = append(errs, err)
	}
	if err := p.retryPhase(ctx); err != nil {
		p.logger.Error("retry phase failed", "err", err)
		errs = append(errs, err)
	}
	if err := p.cleanupPhase(ctx); err != nil {
		p.logger.Error("cleanup phase failed", "err", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (p *Processor) pendingPhase(ctx context.Context) error {
	records, err := p.store.FetchPending(ctx, p.cfg.BatchSize, p.now())
	if err != nil {
		return fmt.Errorf("fetch pending: %w", err)
	}
	p.publishBatch(ctx, records)
	return nil
}

func (p *Processor) retryPhase(ctx context.Context) error {
	records, err := p.store.FetchRetryable(ctx, p.cfg.BatchSize, p.now())
	if err != nil {
		return fmt.Errorf("fetch retryable: %w", err)
	}
	p.publishBatch(ctx, records)
	return nil
}

func (p *Processor) cleanupPhase(ctx context.Context) error {
	now := p.now()
	if now.Sub(p.lastCleanup) < p.cfg.CleanupEvery {
		return nil
	}
	deleted, err := p.store.DeleteOlderThan(ctx, p.cfg.Retention)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	p.lastCleanup = now
	if deleted > 0 {
		p.logger.Info("outbox cleanup", "deleted", deleted, "retention", p.cfg.Retention.String())
	}
	return nil
}

// publishBatch publishes claimed records one at a time, oldest first, so
// ordering within an aggregate key is preserved. Cancellation is checked
// between records; an interrupted batch leaves the rest claimed, and the
// store's lease makes them reclaimable.
func (p *Processor) publishBatch(ctx context.Context, records []Record) {
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		p.publishOne(ctx, rec)
	}
}

func (p *Processor) publishOne(ctx context.Context, rec Record) {
	err := p.pub.Publish(ctx, rec)
	now := p.now()

	switch {
	case err == nil:
		if markErr := p.store.MarkPublished(ctx, rec.ID, now); markErr != nil {
			p.logger.Error("mark published failed",
				"err", markErr, "event_id", rec.ID, "correlation_id", rec.CorrelationID)
			return
		}
		p.logger.Info("event published",
			"event_id", rec.ID,
			"event_type", rec.EventType,
			"correlation_id", rec.CorrelationID,
			"attempts", rec.Attempts,
		)
	case IsPermanent(err):
		if markErr := p.store.MarkDeadLettered(ctx, rec.ID, err.Error()); markErr != nil {
			p.logger.Error("mark dead-lettered failed",
				"err", markErr, "event_id", rec.ID, "correlation_id", rec.CorrelationID)
			return
		}
		p.logger.Error("event dead-lettered",
			"err", err,
			"event_id", rec.ID,
			"event_type", rec.EventType,
			"correlation_id", rec.CorrelationID,
			"attempts", rec.Attempts,
		)
	default:
		nextRetryAt := p.cfg.Retry.NextRetryAt(now, rec.Attempts)
		if markErr := p.store.MarkFailed(ctx, rec.ID, err.Error(), nextRetryAt); markErr != nil {
			p.logger.Error("mark failed failed",
				"err", markErr, "event_id", rec.ID, "correlation_id", rec.CorrelationID)
			return
		}
		p.logger.Warn("event publish failed, retry scheduled",
			"err", err,
			"event_id", rec.ID,
			"event_type", rec.EventType,
			"correlation_id", rec.CorrelationID,
			"attempts", rec.Attempts,
			"next_retry_at", nextRetryAt.UTC().Format(time.RFC3339),
		)
	}
}

// finalDrain gives records written moments before shutdown one last chance
// to leave the building, under its own deadline since the run context is
// already cancelled.
func (p *Processor) finalDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()

	if err := p.pendingPhase(ctx); err != nil {
		p.logger.Warn("final drain incomplete", "err", err)
	}
}
