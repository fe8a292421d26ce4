package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/apperr"
	"github.com/usdanismanlik/takipus/internal/events"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/metrics"
	"github.com/usdanismanlik/takipus/pkg/types"
)

// Resolver decides the second approver of a closure.
type Resolver interface {
	ResolveSecondApprover(ctx context.Context, a types.Action) (int64, bool, error)
}

type Input struct {
	Store     ledger.Store
	Resolver  Resolver
	Publisher events.Publisher
	Now       func() time.Time
	Log       zerolog.Logger

	// DefaultReminderDays applies to new actions with a due date and no offsets.
	DefaultReminderDays []int
}

// Service is the sole mutator of actions and closures. Every operation runs
// its read-validate-write inside one store transaction and publishes events
// only after that transaction has committed.
type Service struct {
	store        ledger.Store
	resolver     Resolver
	publisher    events.Publisher
	now          func() time.Time
	log          zerolog.Logger
	reminderDays []int
}

func New(in Input) (*Service, error) {
	if in.Store == nil {
		return nil, errors.New("lifecycle: missing store")
	}
	if in.Resolver == nil {
		return nil, errors.New("lifecycle: missing resolver")
	}
	s := &Service{
		store:        in.Store,
		resolver:     in.Resolver,
		publisher:    in.Publisher,
		now:          in.Now,
		log:          in.Log,
		reminderDays: in.DefaultReminderDays,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.reminderDays == nil {
		s.reminderDays = types.DefaultReminderDays
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	for _, e := range evs {
		s.publisher.Publish(ctx, e)
	}
}

// observe records the outcome of op and logs unexpected failures.
func (s *Service) observe(op string, err error) {
	if err == nil {
		metrics.RecordLifecycle(op, "ok")
		return
	}
	kind := apperr.KindOf(err)
	metrics.RecordLifecycle(op, string(kind))
	if kind == apperr.KindInternal {
		s.log.Error().Err(err).Str("op", op).Msg("lifecycle operation failed")
	}
}

// storeErr maps ledger failures onto the caller-facing taxonomy. Errors that
// already carry a kind pass through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, ledger.ErrStaleWrite):
		return apperr.Conflict(op, "record was modified concurrently, retry")
	case errors.Is(err, ledger.ErrConflict):
		return apperr.Conflict(op, "an active closure already exists for this action")
	default:
		return apperr.Internal(op, err)
	}
}

func (s *Service) loadAction(ctx context.Context, op string, id int64) (types.Action, error) {
	a, ok, err := s.store.GetAction(ctx, id)
	if err != nil {
		return types.Action{}, apperr.Internal(op, err)
	}
	if !ok {
		return types.Action{}, apperr.NotFound(op, "action %d not found", id)
	}
	return a, nil
}

func (s *Service) GetAction(ctx context.Context, id int64) (types.Action, error) {
	return s.loadAction(ctx, "get_action", id)
}

func (s *Service) ListActions(ctx context.Context, filter ledger.ActionFilter) ([]types.Action, error) {
	list, err := s.store.ListActions(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("list_actions", err)
	}
	return list, nil
}

func (s *Service) GetClosure(ctx context.Context, actionID, closureID int64) (types.ActionClosure, error) {
	const op = "get_closure"
	c, ok, err := s.store.GetClosure(ctx, closureID)
	if err != nil {
		return types.ActionClosure{}, apperr.Internal(op, err)
	}
	if !ok || c.ActionID != actionID {
		return types.ActionClosure{}, apperr.NotFound(op, "closure %d not found for action %d", closureID, actionID)
	}
	return c, nil
}

func (s *Service) ListClosures(ctx context.Context, actionID int64) ([]types.ActionClosure, error) {
	const op = "list_closures"
	if _, err := s.loadAction(ctx, op, actionID); err != nil {
		return nil, err
	}
	list, err := s.store.ListClosures(ctx, actionID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return list, nil
}

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }
