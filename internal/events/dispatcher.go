package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/audit"
	"github.com/usdanismanlik/takipus/internal/directory"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/live"
	"github.com/usdanismanlik/takipus/internal/notify"
	"github.com/usdanismanlik/takipus/pkg/types"
)

type Notifier interface {
	Notify(ctx context.Context, n notify.Notice) (types.Notification, error)
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

type TimelineSink interface {
	PutTimeline(ctx context.Context, rec ledger.TimelineRecord) error
}

type Broadcaster interface {
	Broadcast(u live.Update)
}

type DispatcherOptions struct {
	Notifier    Notifier
	Auditor     Auditor
	Timeline    TimelineSink
	Broadcaster Broadcaster
	Directory   directory.Directory
	Log         zerolog.Logger
}

// Dispatcher performs the side effects of committed events. Nothing it does
// can fail the operation that produced the event.
type Dispatcher struct {
	notifier    Notifier
	auditor     Auditor
	timeline    TimelineSink
	broadcaster Broadcaster
	dir         directory.Directory
	log         zerolog.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		notifier:    opts.Notifier,
		auditor:     opts.Auditor,
		timeline:    opts.Timeline,
		broadcaster: opts.Broadcaster,
		dir:         opts.Directory,
		log:         opts.Log,
	}
	if d.dir == nil {
		d.dir = directory.Static{}
	}
	return d
}

func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	d.recordAudit(ctx, e)
	d.recordTimeline(ctx, e)
	for _, n := range d.notices(ctx, e) {
		if d.notifier == nil {
			break
		}
		if _, err := d.notifier.Notify(ctx, n); err != nil {
			d.logFor(e).Warn().Err(err).
				Int64("recipient_id", n.UserID).
				Str("notification_type", string(n.Type)).
				Msg("notification dropped")
		}
	}
	if d.broadcaster != nil {
		u := live.Update{
			Type:      string(e.Type),
			ActionID:  e.Action.ID,
			ClosureID: e.ClosureID(),
			Status:    string(e.Action.Status),
			Timestamp: e.At,
		}
		if e.ActorID != nil {
			u.UserID = *e.ActorID
		}
		d.broadcaster.Broadcast(u)
	}
}

func (d *Dispatcher) logFor(e Event) *zerolog.Logger {
	l := d.log.With().
		Str("event", string(e.Type)).
		Int64("action_id", e.Action.ID).
		Int64("closure_id", e.ClosureID()).
		Logger()
	if e.ActorID != nil {
		l = l.With().Int64("user_id", *e.ActorID).Logger()
	}
	return &l
}

func (d *Dispatcher) recordAudit(ctx context.Context, e Event) {
	if d.auditor == nil {
		return
	}
	switch {
	case e.Type == ActionCreated:
		d.auditor.Record(ctx, audit.Entry{Op: types.AuditCreate, ResourceType: audit.ResourceAction, ResourceID: e.Action.ID, New: e.Action, UserID: e.ActorID})
	case e.ActionBefore != nil:
		d.auditor.Record(ctx, audit.Entry{Op: types.AuditUpdate, ResourceType: audit.ResourceAction, ResourceID: e.Action.ID, Old: *e.ActionBefore, New: e.Action, UserID: e.ActorID})
	}
	if e.Closure == nil {
		return
	}
	if e.ClosureBefore == nil {
		d.auditor.Record(ctx, audit.Entry{Op: types.AuditCreate, ResourceType: audit.ResourceClosure, ResourceID: e.Closure.ID, New: *e.Closure, UserID: e.ActorID})
		return
	}
	d.auditor.Record(ctx, audit.Entry{Op: types.AuditUpdate, ResourceType: audit.ResourceClosure, ResourceID: e.Closure.ID, Old: *e.ClosureBefore, New: *e.Closure, UserID: e.ActorID})
}

func (d *Dispatcher) recordTimeline(ctx context.Context, e Event) {
	if d.timeline == nil {
		return
	}
	title, desc := d.timelineText(ctx, e)
	rec := ledger.TimelineRecord{
		ID:          uuid.NewString(),
		ActionID:    e.Action.ID,
		EventType:   string(e.Type),
		UserID:      e.ActorID,
		Title:       title,
		Description: desc,
		CreatedAt:   e.At,
	}
	if err := d.timeline.PutTimeline(ctx, rec); err != nil {
		d.logFor(e).Warn().Err(err).Msg("timeline entry dropped")
	}
}

func (d *Dispatcher) name(ctx context.Context, id *int64) string {
	if id == nil {
		return "System"
	}
	return d.dir.DisplayName(ctx, *id)
}

func (d *Dispatcher) timelineText(ctx context.Context, e Event) (string, string) {
	actor := d.name(ctx, e.ActorID)
	a := e.Action
	switch e.Type {
	case ActionCreated:
		return "Action created", fmt.Sprintf("%s created %s with risk score %d (%s).", actor, a.Code, a.RiskScore, a.RiskLevel)
	case ActionAssigned:
		return "Action assigned", fmt.Sprintf("%s assigned the action to %s.", actor, d.name(ctx, a.AssignedToUserID))
	case ActionStarted:
		return "Work started", fmt.Sprintf("%s started work on the action.", actor)
	case ActionRiskUpdated:
		return "Risk updated", fmt.Sprintf("%s set probability %d and severity %d, score %d (%s).", actor, a.RiskProbability, a.RiskSeverity, a.RiskScore, a.RiskLevel)
	case ClosureRequested:
		return "Closure requested", fmt.Sprintf("%s requested closure.", actor)
	case ClosureFirstApproved:
		return "Closure first approval", fmt.Sprintf("%s approved the closure; second approval pending.", actor)
	case ClosureApproved:
		return "Closure approved", fmt.Sprintf("%s approved the closure; the action is completed.", actor)
	case ClosureRejected:
		return "Closure rejected", fmt.Sprintf("%s rejected the closure: %s", actor, reviewNotes(e.Closure))
	case ActionCompleted:
		return "Action completed", fmt.Sprintf("%s completed the action.", actor)
	case ActionCancelled:
		return "Action cancelled", fmt.Sprintf("%s cancelled the action.", actor)
	case ActionOverdue:
		return "Action overdue", fmt.Sprintf("Due date %s passed %d day(s) ago.", dueDate(a), -e.DaysUntilDue)
	case ActionDueSoon:
		return "Due date reminder", fmt.Sprintf("Due date %s is %d day(s) away.", dueDate(a), e.DaysUntilDue)
	default:
		return string(e.Type), ""
	}
}

// notices applies the recipient rules for e. Recipients are de-duplicated
// in order.
func (d *Dispatcher) notices(ctx context.Context, e Event) []notify.Notice {
	a := e.Action
	actor := d.name(ctx, e.ActorID)
	mk := func(t types.NotificationType, title, msg string, users ...*int64) []notify.Notice {
		var out []notify.Notice
		seen := map[int64]bool{}
		for _, u := range users {
			if u == nil || *u <= 0 || seen[*u] {
				continue
			}
			seen[*u] = true
			out = append(out, notify.Notice{
				UserID:      *u,
				Type:        t,
				Title:       title,
				Message:     msg,
				RelatedType: audit.ResourceAction,
				RelatedID:   a.ID,
			})
		}
		return out
	}
	creator := &a.CreatedBy

	switch e.Type {
	case ActionCreated, ActionAssigned:
		return mk(types.NotifyActionAssigned, "New action assigned",
			fmt.Sprintf("%s assigned you %s: %s", actor, a.Code, a.Title), a.AssignedToUserID)
	case ActionStarted:
		if e.ActorID != nil && *e.ActorID == a.CreatedBy {
			return nil
		}
		return mk(types.NotifyActionStatusChanged, "Work started",
			fmt.Sprintf("%s started work on %s: %s", actor, a.Code, a.Title), creator)
	case ClosureRequested:
		return mk(types.NotifyClosureReview, "Closure awaiting your review",
			fmt.Sprintf("%s requested closure of %s: %s", actor, a.Code, a.Title), creator)
	case ClosureFirstApproved:
		return mk(types.NotifyClosureUpperReview, "Closure awaiting your approval",
			fmt.Sprintf("%s approved the closure of %s: %s. Your approval is required.", actor, a.Code, a.Title), e.SecondApproverID)
	case ClosureApproved:
		msg := fmt.Sprintf("Closure of %s: %s was approved by %s. The action is completed.", a.Code, a.Title, actor)
		if e.Closure != nil && e.Closure.UpperApprovedBy != nil {
			return mk(types.NotifyActionCompleted, "Action completed", msg, creator, &e.Closure.RequestedBy, a.AssignedToUserID)
		}
		return mk(types.NotifyActionCompleted, "Action completed", msg, creator)
	case ClosureRejected:
		var requester *int64
		if e.Closure != nil {
			requester = &e.Closure.RequestedBy
		}
		return mk(types.NotifyClosureRejected, "Closure rejected",
			fmt.Sprintf("%s rejected the closure of %s: %s. Reason: %s", actor, a.Code, a.Title, reviewNotes(e.Closure)),
			requester, e.SecondApproverID)
	case ActionCompleted:
		return mk(types.NotifyActionCompleted, "Action completed",
			fmt.Sprintf("%s completed %s: %s", actor, a.Code, a.Title), creator)
	case ActionCancelled:
		return mk(types.NotifyActionCancelled, "Action cancelled",
			fmt.Sprintf("%s cancelled %s: %s", actor, a.Code, a.Title), a.AssignedToUserID)
	case ActionOverdue:
		return mk(types.NotifyActionOverdue, "CRITICAL: due date passed",
			fmt.Sprintf("CRITICAL: the due date of '%s' (%s) passed %d day(s) ago. Immediate action is required.", a.Title, dueDate(a), -e.DaysUntilDue),
			a.AssignedToUserID, creator)
	case ActionDueSoon:
		return mk(types.NotifyActionDueReminder, fmt.Sprintf("Due date reminder: %d day(s) left", e.DaysUntilDue),
			fmt.Sprintf("The due date of '%s' is in %d day(s) (%s).", a.Title, e.DaysUntilDue, dueDate(a)),
			a.AssignedToUserID, creator)
	}
	return nil
}

func reviewNotes(c *types.ActionClosure) string {
	if c == nil || c.ReviewNotes == nil {
		return ""
	}
	return *c.ReviewNotes
}

func dueDate(a types.Action) string {
	if a.DueDate == nil {
		return "-"
	}
	return a.DueDate.Format("2006-01-02")
}
