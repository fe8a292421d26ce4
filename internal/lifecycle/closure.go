package lifecycle

import (
	"context"
	"strings"

	"github.com/usdanismanlik/takipus/internal/apperr"
	"github.com/usdanismanlik/takipus/internal/approval"
	"github.com/usdanismanlik/takipus/internal/events"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

type ClosureRequest struct {
	ActionID           int64    `json:"action_id"`
	RequestedBy        int64    `json:"requested_by"`
	ClosureDescription string   `json:"closure_description"`
	EvidenceFiles      []string `json:"evidence_files"`
}

// resolution is a second-approver lookup done before the transaction opens,
// pinned to the approver source it was computed from.
type resolution struct {
	source   approval.ApproverSource
	userID   int64
	resolved bool
}

func (r resolution) approver() *int64 {
	if !r.resolved {
		return nil
	}
	return int64Ptr(r.userID)
}

func (s *Service) resolve(ctx context.Context, op string, a types.Action) (resolution, error) {
	id, ok, err := s.resolver.ResolveSecondApprover(ctx, a)
	if err != nil {
		return resolution{}, apperr.Internal(op, err)
	}
	return resolution{source: approval.SourceOf(a), userID: id, resolved: ok}, nil
}

// checkSource fails when the action's approver configuration changed between
// the pre-transaction resolution and the transactional read.
func (r resolution) checkSource(op string, a types.Action) error {
	if approval.SourceOf(a) != r.source {
		return apperr.Conflict(op, "approver configuration changed, retry")
	}
	return nil
}

func (s *Service) RequestClosure(ctx context.Context, req ClosureRequest) (c types.ActionClosure, err error) {
	const op = "request_closure"
	defer func() { s.observe(op, err) }()

	desc := strings.TrimSpace(req.ClosureDescription)
	if desc == "" {
		return types.ActionClosure{}, apperr.Validation(op, "closure_description is required")
	}
	if req.RequestedBy <= 0 {
		return types.ActionClosure{}, apperr.Validation(op, "requested_by is required")
	}

	pre, err := s.loadAction(ctx, op, req.ActionID)
	if err != nil {
		return types.ActionClosure{}, err
	}
	res, err := s.resolve(ctx, op, pre)
	if err != nil {
		return types.ActionClosure{}, err
	}

	var before, after types.Action
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		a, ok, err := tx.GetAction(req.ActionID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound(op, "action %d not found", req.ActionID)
		}
		switch a.Status {
		case types.ActionCompleted:
			return apperr.Conflict(op, "action is already completed")
		case types.ActionCancelled:
			return apperr.Conflict(op, "action is cancelled")
		}
		if _, active, err := tx.GetActiveClosure(a.ID); err != nil {
			return err
		} else if active {
			return apperr.Conflict(op, "a closure request is already in review for this action")
		}
		if err := res.checkSource(op, a); err != nil {
			return err
		}

		now := s.clock()
		c = types.ActionClosure{
			ActionID:              a.ID,
			Status:                types.ClosurePending,
			RequiresUpperApproval: res.resolved,
			RequestedBy:           req.RequestedBy,
			ClosureDescription:    desc,
			EvidenceFiles:         ledger.NormalizeEvidence(req.EvidenceFiles),
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := tx.CreateClosure(&c); err != nil {
			return err
		}

		before = a
		a.Status = types.ActionPendingApproval
		a.UpdatedAt = now
		if err := tx.UpdateAction(&a); err != nil {
			return err
		}
		after = a
		return nil
	})
	if err != nil {
		return types.ActionClosure{}, storeErr(op, err)
	}

	e := events.New(events.ClosureRequested, c.CreatedAt, int64Ptr(req.RequestedBy), after)
	e.ActionBefore = &before
	closure := c
	e.Closure = &closure
	e.SecondApproverID = res.approver()
	s.publish(ctx, e)
	return c, nil
}

// ApproveClosure advances a closure by one approval stage. The pending stage
// belongs to the action's creator; the first_approved stage belongs to the
// second approver as resolved now, not as frozen on the closure.
func (s *Service) ApproveClosure(ctx context.Context, actionID, closureID, reviewedBy int64, notes string) (c types.ActionClosure, err error) {
	const op = "approve_closure"
	defer func() { s.observe(op, err) }()

	if reviewedBy <= 0 {
		return types.ActionClosure{}, apperr.Validation(op, "reviewed_by is required")
	}
	pre, err := s.loadAction(ctx, op, actionID)
	if err != nil {
		return types.ActionClosure{}, err
	}
	res, err := s.resolve(ctx, op, pre)
	if err != nil {
		return types.ActionClosure{}, err
	}

	var (
		ev                        events.Type
		actionBefore, actionAfter types.Action
		closureBefore             types.ActionClosure
	)
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		a, cur, err := loadPair(tx, op, actionID, closureID)
		if err != nil {
			return err
		}
		if err := res.checkSource(op, a); err != nil {
			return err
		}
		closureBefore = cur
		actionBefore = a
		actionAfter = a
		now := s.clock()
		trimmed := strings.TrimSpace(notes)

		complete := func() error {
			if a.Status != types.ActionPendingApproval {
				return apperr.Conflict(op, "action is %s, expected pending_approval", a.Status)
			}
			a.Status = types.ActionCompleted
			a.CompletedAt = timePtr(now)
			a.UpdatedAt = now
			if err := tx.UpdateAction(&a); err != nil {
				return err
			}
			actionAfter = a
			return nil
		}

		switch cur.Status {
		case types.ClosurePending:
			if reviewedBy != a.CreatedBy {
				return apperr.Forbidden(op, "only the action's creator can give the first approval")
			}
			cur.ReviewedBy = int64Ptr(reviewedBy)
			cur.ReviewedAt = timePtr(now)
			if trimmed != "" {
				cur.ReviewNotes = &trimmed
			}
			if cur.RequiresUpperApproval {
				cur.Status = types.ClosureFirstApproved
				ev = events.ClosureFirstApproved
			} else {
				cur.Status = types.ClosureApproved
				ev = events.ClosureApproved
				if err := complete(); err != nil {
					return err
				}
			}
		case types.ClosureFirstApproved:
			if !res.resolved {
				return apperr.Forbidden(op, "no second approver is configured for this action")
			}
			if reviewedBy != res.userID {
				return apperr.Forbidden(op, "only the designated second approver can approve at this stage")
			}
			cur.Status = types.ClosureApproved
			cur.UpperApprovedBy = int64Ptr(reviewedBy)
			cur.UpperReviewedAt = timePtr(now)
			if trimmed != "" {
				cur.UpperReviewNotes = &trimmed
			}
			ev = events.ClosureApproved
			if err := complete(); err != nil {
				return err
			}
		default:
			return apperr.Conflict(op, "closure is already %s", cur.Status)
		}

		cur.UpdatedAt = now
		if err := tx.UpdateClosure(&cur); err != nil {
			return err
		}
		c = cur
		return nil
	})
	if err != nil {
		return types.ActionClosure{}, storeErr(op, err)
	}

	e := events.New(ev, c.UpdatedAt, int64Ptr(reviewedBy), actionAfter)
	if actionAfter.Version != actionBefore.Version {
		e.ActionBefore = &actionBefore
	}
	closure := c
	e.Closure = &closure
	e.ClosureBefore = &closureBefore
	e.SecondApproverID = res.approver()
	s.publish(ctx, e)
	return c, nil
}

// RejectClosure is defined for the first stage only. The action goes back to
// in_progress so a new closure can be requested.
func (s *Service) RejectClosure(ctx context.Context, actionID, closureID, reviewedBy int64, reason string) (c types.ActionClosure, err error) {
	const op = "reject_closure"
	defer func() { s.observe(op, err) }()

	if reviewedBy <= 0 {
		return types.ActionClosure{}, apperr.Validation(op, "reviewed_by is required")
	}
	pre, err := s.loadAction(ctx, op, actionID)
	if err != nil {
		return types.ActionClosure{}, err
	}
	res, err := s.resolve(ctx, op, pre)
	if err != nil {
		return types.ActionClosure{}, err
	}

	reason = strings.TrimSpace(reason)
	var (
		actionBefore, actionAfter types.Action
		closureBefore             types.ActionClosure
	)
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		a, cur, err := loadPair(tx, op, actionID, closureID)
		if err != nil {
			return err
		}
		if cur.Status != types.ClosurePending {
			return apperr.Conflict(op, "closure is %s, only pending closures can be rejected", cur.Status)
		}
		if reason == "" {
			return apperr.Validation(op, "review_notes is required when rejecting")
		}
		if reviewedBy != a.CreatedBy {
			return apperr.Forbidden(op, "only the action's creator can reject at this stage")
		}
		closureBefore = cur
		actionBefore = a

		now := s.clock()
		cur.Status = types.ClosureRejected
		cur.ReviewedBy = int64Ptr(reviewedBy)
		cur.ReviewNotes = &reason
		cur.ReviewedAt = timePtr(now)
		cur.UpdatedAt = now
		if err := tx.UpdateClosure(&cur); err != nil {
			return err
		}
		c = cur

		if a.Status == types.ActionPendingApproval {
			a.Status = types.ActionInProgress
			a.UpdatedAt = now
			if err := tx.UpdateAction(&a); err != nil {
				return err
			}
		}
		actionAfter = a
		return nil
	})
	if err != nil {
		return types.ActionClosure{}, storeErr(op, err)
	}

	e := events.New(events.ClosureRejected, c.UpdatedAt, int64Ptr(reviewedBy), actionAfter)
	if actionAfter.Version != actionBefore.Version {
		e.ActionBefore = &actionBefore
	}
	closure := c
	e.Closure = &closure
	e.ClosureBefore = &closureBefore
	if closureBefore.RequiresUpperApproval {
		e.SecondApproverID = res.approver()
	}
	s.publish(ctx, e)
	return c, nil
}

func loadPair(tx ledger.Tx, op string, actionID, closureID int64) (types.Action, types.ActionClosure, error) {
	a, ok, err := tx.GetAction(actionID)
	if err != nil {
		return types.Action{}, types.ActionClosure{}, err
	}
	if !ok {
		return types.Action{}, types.ActionClosure{}, apperr.NotFound(op, "action %d not found", actionID)
	}
	c, ok, err := tx.GetClosure(closureID)
	if err != nil {
		return types.Action{}, types.ActionClosure{}, err
	}
	if !ok || c.ActionID != actionID {
		return types.Action{}, types.ActionClosure{}, apperr.NotFound(op, "closure %d not found for action %d", closureID, actionID)
	}
	return a, c, nil
}
