package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/metrics"
)

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"

	DefaultMaxAttempts = 8
)

type Pusher interface {
	Push(ctx context.Context, payload PushPayload) error
}

type WorkerOptions struct {
	Store        ledger.Store
	Pusher       Pusher
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
	Log          zerolog.Logger
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	return o
}

// ProcessOutboxDue pushes due pending rows. A failed push is rescheduled with
// exponential backoff until MaxAttempts, after which the row is marked failed.
func ProcessOutboxDue(ctx context.Context, opts WorkerOptions, now time.Time) (int, error) {
	opts = opts.withDefaults()
	if opts.Store == nil {
		return 0, fmt.Errorf("missing store")
	}
	if opts.Pusher == nil {
		return 0, nil
	}
	now = now.UTC()

	due, err := opts.Store.ListPushOutboxDue(ctx, now, opts.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != OutboxStatusPending {
			continue
		}

		var payload PushPayload
		if err := json.Unmarshal(rec.PayloadJSON, &payload); err != nil {
			// Undecodable payloads are never retried.
			msg := "invalid payload: " + err.Error()
			rec.LastError = &msg
			rec.Status = OutboxStatusFailed
			rec.UpdatedAt = now
			if err := opts.Store.PutPushOutbox(ctx, rec); err != nil {
				return processed, err
			}
			metrics.RecordPushAttempt("invalid")
			processed++
			continue
		}

		if err := opts.Pusher.Push(ctx, payload); err != nil {
			rec.AttemptCount++
			msg := err.Error()
			rec.LastError = &msg
			rec.UpdatedAt = now
			result := "retry"
			if rec.AttemptCount >= opts.MaxAttempts {
				rec.Status = OutboxStatusFailed
				result = "failed"
				opts.Log.Warn().Err(err).
					Str("outbox_id", rec.ID).
					Int64("user_id", rec.UserID).
					Int("attempts", rec.AttemptCount).
					Msg("push gave up")
			} else {
				rec.NextAttemptAt = now.Add(nextAttempt(rec.AttemptCount - 1))
			}
			if err := opts.Store.PutPushOutbox(ctx, rec); err != nil {
				return processed, err
			}
			metrics.RecordPushAttempt(result)
			processed++
			continue
		}

		rec.Status = OutboxStatusSent
		rec.SentAt = &now
		rec.UpdatedAt = now
		if err := opts.Store.PutPushOutbox(ctx, rec); err != nil {
			return processed, err
		}
		metrics.RecordPushAttempt("sent")
		processed++
	}
	return processed, nil
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	if attemptCount > 16 {
		return 5 * time.Minute
	}
	d := base << attemptCount
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

// RunOutboxWorker polls and processes due push rows until ctx is cancelled.
func RunOutboxWorker(ctx context.Context, opts WorkerOptions) {
	opts = opts.withDefaults()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := ProcessOutboxDue(ctx, opts, now); err != nil && ctx.Err() == nil {
				opts.Log.Error().Err(err).Msg("push outbox pass failed")
			}
		}
	}
}
