package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/events"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/metrics"
	"github.com/usdanismanlik/takipus/pkg/types"
)

const (
	PassOverdue  = "overdue"
	PassReminder = "reminder"
)

var errNotDue = errors.New("no longer due")

type Options struct {
	Store     ledger.Store
	Publisher events.Publisher
	Now       func() time.Time
	// Location decides where calendar days begin. Defaults to UTC.
	Location *time.Location
	Log      zerolog.Logger
}

type ItemError struct {
	ActionID int64  `json:"action_id"`
	Pass     string `json:"pass"`
	Err      string `json:"error"`
}

type Result struct {
	RemindersSent        int         `json:"reminders_sent"`
	OverdueNotifications int         `json:"overdue_notifications"`
	Errors               []ItemError `json:"errors,omitempty"`
}

// Scheduler runs the overdue and reminder passes. It holds no state between
// runs: idempotency comes from is_overdue and last_reminder_sent_at, which
// are claimed in a transaction before the corresponding event is published.
type Scheduler struct {
	store     ledger.Store
	publisher events.Publisher
	now       func() time.Time
	loc       *time.Location
	log       zerolog.Logger
}

func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("reminder: missing store")
	}
	s := &Scheduler{
		store:     opts.Store,
		publisher: opts.Publisher,
		now:       opts.Now,
		loc:       opts.Location,
		log:       opts.Log,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s, nil
}

// today returns the current calendar day in the scheduler's location,
// expressed as UTC midnight to match stored due dates.
func (s *Scheduler) today(now time.Time) time.Time {
	y, m, d := now.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Scheduler) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(s.loc).Date()
	by, bm, bd := b.In(s.loc).Date()
	return ay == by && am == bm && ad == bd
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// Run executes both passes once. A failure on one action is recorded in the
// result and does not stop the remaining actions.
func (s *Scheduler) Run(ctx context.Context) Result {
	start := time.Now()
	defer func() { metrics.RecordSchedulerRun(time.Since(start)) }()

	now := s.now().UTC()
	today := s.today(now)
	var res Result
	s.overduePass(ctx, now, today, &res)
	s.reminderPass(ctx, now, today, &res)

	s.log.Info().
		Int("reminders_sent", res.RemindersSent).
		Int("overdue_notifications", res.OverdueNotifications).
		Int("errors", len(res.Errors)).
		Msg("reminder run finished")
	return res
}

func (s *Scheduler) fail(res *Result, pass string, actionID int64, err error) {
	metrics.RecordSchedulerError(pass)
	res.Errors = append(res.Errors, ItemError{ActionID: actionID, Pass: pass, Err: err.Error()})
	s.log.Error().Err(err).Str("pass", pass).Int64("action_id", actionID).Msg("reminder item failed")
}

func (s *Scheduler) overduePass(ctx context.Context, now, today time.Time, res *Result) {
	notOverdue := false
	candidates, err := s.store.ListActions(ctx, ledger.ActionFilter{
		Statuses:  types.OpenStatuses,
		DueBefore: &today,
		IsOverdue: &notOverdue,
	})
	if err != nil {
		s.fail(res, PassOverdue, 0, fmt.Errorf("list overdue candidates: %w", err))
		return
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			s.fail(res, PassOverdue, c.ID, err)
			return
		}
		before, after, err := s.claim(ctx, c.ID, func(a *types.Action) error {
			if a.Status.Terminal() || a.IsOverdue || a.DueDate == nil || !a.DueDate.Before(today) {
				return errNotDue
			}
			a.IsOverdue = true
			a.OverdueNotificationSent = true
			a.UpdatedAt = now
			return nil
		})
		if s.skipped(err, PassOverdue, c.ID) {
			continue
		}
		if err != nil {
			s.fail(res, PassOverdue, c.ID, err)
			continue
		}
		e := events.New(events.ActionOverdue, now, nil, after)
		e.ActionBefore = &before
		e.DaysUntilDue = daysBetween(today, *after.DueDate)
		s.publisher.Publish(ctx, e)
		res.OverdueNotifications++
		metrics.RecordOverdueSent()
	}
}

func (s *Scheduler) reminderPass(ctx context.Context, now, today time.Time, res *Result) {
	candidates, err := s.store.ListActions(ctx, ledger.ActionFilter{
		Statuses:     types.OpenStatuses,
		DueOnOrAfter: &today,
	})
	if err != nil {
		s.fail(res, PassReminder, 0, fmt.Errorf("list reminder candidates: %w", err))
		return
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			s.fail(res, PassReminder, c.ID, err)
			return
		}
		if !s.reminderDue(c, now, today) {
			continue
		}
		before, after, err := s.claim(ctx, c.ID, func(a *types.Action) error {
			if a.Status.Terminal() || !s.reminderDue(*a, now, today) {
				return errNotDue
			}
			a.LastReminderSentAt = &now
			a.UpdatedAt = now
			return nil
		})
		if s.skipped(err, PassReminder, c.ID) {
			continue
		}
		if err != nil {
			s.fail(res, PassReminder, c.ID, err)
			continue
		}
		e := events.New(events.ActionDueSoon, now, nil, after)
		e.ActionBefore = &before
		e.DaysUntilDue = daysBetween(today, *after.DueDate)
		s.publisher.Publish(ctx, e)
		res.RemindersSent++
		metrics.RecordReminderSent()
	}
}

// reminderDue reports whether a due-soon reminder should go out for a today.
func (s *Scheduler) reminderDue(a types.Action, now, today time.Time) bool {
	if a.DueDate == nil || len(a.ReminderDays) == 0 {
		return false
	}
	days := daysBetween(today, ledger.DateOnly(*a.DueDate))
	if days < 0 || !slices.Contains(a.ReminderDays, days) {
		return false
	}
	return a.LastReminderSentAt == nil || !s.sameDay(*a.LastReminderSentAt, now)
}

// claim re-reads the action in a transaction and persists fn's change.
func (s *Scheduler) claim(ctx context.Context, id int64, fn func(a *types.Action) error) (before, after types.Action, err error) {
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		cur, ok, err := tx.GetAction(id)
		if err != nil {
			return err
		}
		if !ok {
			return errNotDue
		}
		before = cur
		if err := fn(&cur); err != nil {
			return err
		}
		if err := tx.UpdateAction(&cur); err != nil {
			return err
		}
		after = cur
		return nil
	})
	return before, after, err
}

// skipped reports outcomes that mean another run or a concurrent transition
// already handled the action.
func (s *Scheduler) skipped(err error, pass string, id int64) bool {
	if errors.Is(err, errNotDue) || errors.Is(err, ledger.ErrStaleWrite) {
		s.log.Debug().Err(err).Str("pass", pass).Int64("action_id", id).Msg("reminder item skipped")
		return true
	}
	return false
}

// RunLoop runs the scheduler immediately and then every interval until ctx
// is cancelled.
func (s *Scheduler) RunLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	s.Run(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Run(ctx)
		}
	}
}
