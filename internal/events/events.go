package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usdanismanlik/takipus/pkg/types"
)

type Type string

const (
	ActionCreated        Type = "action_created"
	ActionAssigned       Type = "action_assigned"
	ActionStarted        Type = "action_started"
	ActionRiskUpdated    Type = "action_risk_updated"
	ClosureRequested     Type = "closure_requested"
	ClosureFirstApproved Type = "closure_first_approved"
	ClosureApproved      Type = "closure_approved"
	ClosureRejected      Type = "closure_rejected"
	ActionCompleted      Type = "action_completed"
	ActionCancelled      Type = "action_cancelled"
	ActionOverdue        Type = "action_overdue"
	ActionDueSoon        Type = "action_due_soon"
)

// Event is emitted after a state change has committed. Action is always the
// post-commit row; the Before fields are nil for creations and for entities
// the event did not touch.
type Event struct {
	ID      string
	Type    Type
	At      time.Time
	ActorID *int64

	Action       types.Action
	ActionBefore *types.Action

	Closure       *types.ActionClosure
	ClosureBefore *types.ActionClosure

	SecondApproverID *int64
	DaysUntilDue     int
}

func New(t Type, at time.Time, actorID *int64, action types.Action) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		At:      at,
		ActorID: actorID,
		Action:  action,
	}
}

// ClosureID returns 0 when the event carries no closure.
func (e Event) ClosureID() int64 {
	if e.Closure == nil {
		return 0
	}
	return e.Closure.ID
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type PublisherFunc func(ctx context.Context, e Event)

func (f PublisherFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Fanout publishes to every member in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Event{}
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
