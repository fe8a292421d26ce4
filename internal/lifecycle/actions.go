package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/usdanismanlik/takipus/internal/apperr"
	"github.com/usdanismanlik/takipus/internal/events"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/risk"
	"github.com/usdanismanlik/takipus/pkg/types"
)

type CreateInput struct {
	CompanyID   string           `json:"company_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Location    string           `json:"location"`
	SourceType  types.SourceType `json:"source_type"`

	FieldTourID     *int64 `json:"field_tour_id"`
	UpperApproverID *int64 `json:"upper_approver_id"`

	RiskProbability *int `json:"risk_probability"`
	RiskSeverity    *int `json:"risk_severity"`

	DueDate      *time.Time `json:"due_date"`
	ReminderDays []int      `json:"due_date_reminder_days"`

	CreatedBy        int64  `json:"created_by"`
	AssignedToUserID *int64 `json:"assigned_to_user_id"`
}

// cancelledReviewNote is recorded on a closure that was still in review
// when its action was cancelled.
const cancelledReviewNote = "action cancelled"

// ActionCode renders the human-facing identifier, e.g. HSE-2026-0042.
func ActionCode(year int, id int64) string {
	return fmt.Sprintf("HSE-%d-%04d", year, id)
}

func (s *Service) CreateAction(ctx context.Context, in CreateInput) (a types.Action, err error) {
	const op = "create_action"
	defer func() { s.observe(op, err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return types.Action{}, apperr.Validation(op, "title is required")
	}
	if in.CreatedBy <= 0 {
		return types.Action{}, apperr.Validation(op, "created_by is required")
	}
	if in.AssignedToUserID != nil && *in.AssignedToUserID <= 0 {
		return types.Action{}, apperr.Validation(op, "assigned_to_user_id must be positive")
	}

	source := in.SourceType
	if source == "" {
		source = types.SourceManual
		if in.FieldTourID != nil {
			source = types.SourceFieldTour
		}
	}
	switch source {
	case types.SourceFieldTour:
		if in.FieldTourID == nil || *in.FieldTourID <= 0 {
			return types.Action{}, apperr.Validation(op, "field_tour_id is required for field_tour actions")
		}
	case types.SourceManual, types.SourcePeriodicInspection, types.SourceOther:
		if in.FieldTourID != nil {
			return types.Action{}, apperr.Validation(op, "field_tour_id is only allowed for field_tour actions")
		}
	default:
		return types.Action{}, apperr.Validation(op, "unknown source_type %q", source)
	}

	p, sev := risk.DefaultInput, risk.DefaultInput
	if in.RiskProbability != nil {
		p = *in.RiskProbability
	}
	if in.RiskSeverity != nil {
		sev = *in.RiskSeverity
	}
	if err := risk.Validate(p, sev); err != nil {
		return types.Action{}, apperr.Validation(op, "%s", err.Error())
	}

	var due *time.Time
	days := in.ReminderDays
	if in.DueDate != nil {
		d := ledger.DateOnly(*in.DueDate)
		due = &d
		if days == nil {
			days = s.reminderDays
		}
	}
	days, derr := ledger.NormalizeReminderDays(days)
	if derr != nil {
		return types.Action{}, apperr.Validation(op, "%s", derr.Error())
	}

	now := s.clock()
	assessment := risk.Score(p, sev)
	a = types.Action{
		CompanyID:        in.CompanyID,
		Title:            title,
		Description:      strings.TrimSpace(in.Description),
		Location:         strings.TrimSpace(in.Location),
		SourceType:       source,
		FieldTourID:      in.FieldTourID,
		UpperApproverID:  in.UpperApproverID,
		RiskProbability:  assessment.Probability,
		RiskSeverity:     assessment.Severity,
		RiskScore:        assessment.Score,
		RiskLevel:        assessment.Level,
		Priority:         assessment.Priority,
		Status:           types.ActionOpen,
		DueDate:          due,
		ReminderDays:     days,
		CreatedBy:        in.CreatedBy,
		AssignedToUserID: in.AssignedToUserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateAction(&a); err != nil {
			return err
		}
		a.Code = ActionCode(now.Year(), a.ID)
		return tx.UpdateAction(&a)
	})
	if err != nil {
		return types.Action{}, storeErr(op, err)
	}

	s.publish(ctx, events.New(events.ActionCreated, now, int64Ptr(in.CreatedBy), a))
	return a, nil
}

// mutateAction loads the action inside a transaction, lets fn validate and
// modify it, and persists the result with a version check.
func (s *Service) mutateAction(ctx context.Context, op string, id int64, fn func(a *types.Action) error) (before, after types.Action, err error) {
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		cur, ok, err := tx.GetAction(id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound(op, "action %d not found", id)
		}
		before = cur
		if err := fn(&cur); err != nil {
			return err
		}
		cur.UpdatedAt = s.clock()
		if err := tx.UpdateAction(&cur); err != nil {
			return err
		}
		after = cur
		return nil
	})
	if err != nil {
		return types.Action{}, types.Action{}, storeErr(op, err)
	}
	return before, after, nil
}

// StartWork moves an open action to in_progress.
func (s *Service) StartWork(ctx context.Context, actionID, actorID int64) (a types.Action, err error) {
	const op = "start_work"
	defer func() { s.observe(op, err) }()

	before, after, err := s.mutateAction(ctx, op, actionID, func(a *types.Action) error {
		if a.Status != types.ActionOpen {
			return apperr.Conflict(op, "action is %s, only open actions can be started", a.Status)
		}
		a.Status = types.ActionInProgress
		return nil
	})
	if err != nil {
		return types.Action{}, err
	}
	e := events.New(events.ActionStarted, after.UpdatedAt, int64Ptr(actorID), after)
	e.ActionBefore = &before
	s.publish(ctx, e)
	return after, nil
}

func (s *Service) AssignAction(ctx context.Context, actionID, assigneeID, actorID int64) (a types.Action, err error) {
	const op = "assign_action"
	defer func() { s.observe(op, err) }()

	if assigneeID <= 0 {
		return types.Action{}, apperr.Validation(op, "assigned_to_user_id is required")
	}
	before, after, err := s.mutateAction(ctx, op, actionID, func(a *types.Action) error {
		if a.Status.Terminal() {
			return apperr.Conflict(op, "action is %s", a.Status)
		}
		a.AssignedToUserID = int64Ptr(assigneeID)
		return nil
	})
	if err != nil {
		return types.Action{}, err
	}
	e := events.New(events.ActionAssigned, after.UpdatedAt, int64Ptr(actorID), after)
	e.ActionBefore = &before
	s.publish(ctx, e)
	return after, nil
}

// CancelAction is allowed from any non-terminal status. A closure still in
// review is closed as rejected in the same transaction.
func (s *Service) CancelAction(ctx context.Context, actionID, actorID int64) (a types.Action, err error) {
	const op = "cancel_action"
	defer func() { s.observe(op, err) }()

	var (
		before, after          types.Action
		closure, closureBefore types.ActionClosure
		closed                 bool
	)
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		cur, ok, err := tx.GetAction(actionID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound(op, "action %d not found", actionID)
		}
		if cur.Status.Terminal() {
			return apperr.Conflict(op, "action is already %s", cur.Status)
		}
		before = cur
		now := s.clock()

		active, found, err := tx.GetActiveClosure(actionID)
		if err != nil {
			return err
		}
		if found {
			closureBefore = active
			note := cancelledReviewNote
			active.Status = types.ClosureRejected
			active.ReviewedBy = int64Ptr(actorID)
			active.ReviewNotes = &note
			active.ReviewedAt = timePtr(now)
			active.UpdatedAt = now
			if err := tx.UpdateClosure(&active); err != nil {
				return err
			}
			closure = active
			closed = true
		}

		cur.Status = types.ActionCancelled
		cur.UpdatedAt = now
		if err := tx.UpdateAction(&cur); err != nil {
			return err
		}
		after = cur
		return nil
	})
	if err != nil {
		return types.Action{}, storeErr(op, err)
	}
	e := events.New(events.ActionCancelled, after.UpdatedAt, int64Ptr(actorID), after)
	e.ActionBefore = &before
	if closed {
		e.Closure = &closure
		e.ClosureBefore = &closureBefore
	}
	s.publish(ctx, e)
	return after, nil
}

// UpdateRiskFields recomputes and stores the four derived risk fields together.
func (s *Service) UpdateRiskFields(ctx context.Context, actionID int64, probability, severity int, actorID int64) (a types.Action, err error) {
	const op = "update_risk"
	defer func() { s.observe(op, err) }()

	if err := risk.Validate(probability, severity); err != nil {
		return types.Action{}, apperr.Validation(op, "%s", err.Error())
	}
	assessment := risk.Score(probability, severity)
	before, after, err := s.mutateAction(ctx, op, actionID, func(a *types.Action) error {
		a.RiskProbability = assessment.Probability
		a.RiskSeverity = assessment.Severity
		a.RiskScore = assessment.Score
		a.RiskLevel = assessment.Level
		a.Priority = assessment.Priority
		return nil
	})
	if err != nil {
		return types.Action{}, err
	}
	e := events.New(events.ActionRiskUpdated, after.UpdatedAt, int64Ptr(actorID), after)
	e.ActionBefore = &before
	s.publish(ctx, e)
	return after, nil
}

// CompleteDirectly closes an action without the closure workflow.
func (s *Service) CompleteDirectly(ctx context.Context, actionID, actorID int64) (a types.Action, err error) {
	const op = "complete_action"
	defer func() { s.observe(op, err) }()

	var (
		before types.Action
		after  types.Action
	)
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		cur, ok, err := tx.GetAction(actionID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound(op, "action %d not found", actionID)
		}
		switch cur.Status {
		case types.ActionCompleted:
			return apperr.Conflict(op, "action is already completed")
		case types.ActionCancelled:
			return apperr.Conflict(op, "action is cancelled")
		}
		if _, active, err := tx.GetActiveClosure(actionID); err != nil {
			return err
		} else if active {
			return apperr.Conflict(op, "action has a closure under review")
		}
		before = cur
		now := s.clock()
		cur.Status = types.ActionCompleted
		cur.CompletedAt = timePtr(now)
		cur.UpdatedAt = now
		if err := tx.UpdateAction(&cur); err != nil {
			return err
		}
		after = cur
		return nil
	})
	if err != nil {
		return types.Action{}, storeErr(op, err)
	}
	e := events.New(events.ActionCompleted, after.UpdatedAt, int64Ptr(actorID), after)
	e.ActionBefore = &before
	s.publish(ctx, e)
	return after, nil
}
