package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/usdanismanlik/takipus/pkg/types"
)

type InMemoryStore struct {
	mu sync.Mutex

	nextActionID  int64
	nextClosureID int64

	actions       map[int64]types.Action
	closures      map[int64]types.ActionClosure
	notifications map[string]NotificationRecord
	outbox        map[string]PushOutboxRecord
	audit         []AuditRecord
	timeline      []TimelineRecord
	checklists    map[int64]ChecklistRecord
	fieldTours    map[int64]FieldTourRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		actions:       make(map[int64]types.Action),
		closures:      make(map[int64]types.ActionClosure),
		notifications: make(map[string]NotificationRecord),
		outbox:        make(map[string]PushOutboxRecord),
		checklists:    make(map[int64]ChecklistRecord),
		fieldTours:    make(map[int64]FieldTourRecord),
	}
}

type memSnapshot struct {
	nextActionID  int64
	nextClosureID int64
	actions       map[int64]types.Action
	closures      map[int64]types.ActionClosure
}

// WithTx serializes fn against every other store call. Action and closure
// writes made by a failing fn are rolled back.
func (s *InMemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memSnapshot{
		nextActionID:  s.nextActionID,
		nextClosureID: s.nextClosureID,
		actions:       make(map[int64]types.Action, len(s.actions)),
		closures:      make(map[int64]types.ActionClosure, len(s.closures)),
	}
	for k, v := range s.actions {
		snap.actions[k] = v
	}
	for k, v := range s.closures {
		snap.closures[k] = v
	}

	if err := fn((*memTx)(s)); err != nil {
		s.nextActionID = snap.nextActionID
		s.nextClosureID = snap.nextClosureID
		s.actions = snap.actions
		s.closures = snap.closures
		return err
	}
	return nil
}

type memTx InMemoryStore

func (s *InMemoryStore) GetAction(_ context.Context, id int64) (types.Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetAction(id)
}

func (s *InMemoryStore) ListActions(_ context.Context, filter ActionFilter) ([]types.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Action{}
	for _, a := range s.actions {
		if filter.Matches(a) {
			out = append(out, cloneAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) GetClosure(_ context.Context, id int64) (types.ActionClosure, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetClosure(id)
}

func (s *InMemoryStore) ListClosures(_ context.Context, actionID int64) ([]types.ActionClosure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.ActionClosure{}
	for _, c := range s.closures {
		if c.ActionID == actionID {
			out = append(out, cloneClosure(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) PutNotification(_ context.Context, rec NotificationRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) ListNotifications(_ context.Context, userID int64, unreadOnly bool, limit int) ([]NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []NotificationRecord{}
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkNotificationRead(_ context.Context, id string, userID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	if !n.IsRead {
		n.IsRead = true
		n.ReadAt = &at
		s.notifications[id] = n
	}
	return true, nil
}

func (s *InMemoryStore) PutPushOutbox(_ context.Context, rec PushOutboxRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) GetPushOutbox(_ context.Context, id string) (PushOutboxRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[id]
	return rec, ok, nil
}

func (s *InMemoryStore) ListPushOutboxDue(_ context.Context, now time.Time, limit int) ([]PushOutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []PushOutboxRecord{}
	for _, rec := range s.outbox {
		if rec.Status != "pending" || rec.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) PutAudit(_ context.Context, rec AuditRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, rec)
	return nil
}

func (s *InMemoryStore) ListAudit(_ context.Context, resourceType string, resourceID int64) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []AuditRecord{}
	for _, rec := range s.audit {
		if rec.ResourceType == resourceType && rec.ResourceID == resourceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PutTimeline(_ context.Context, rec TimelineRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = append(s.timeline, rec)
	return nil
}

func (s *InMemoryStore) ListTimeline(_ context.Context, actionID int64) ([]TimelineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []TimelineRecord{}
	for _, rec := range s.timeline {
		if rec.ActionID == actionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PutChecklist(_ context.Context, rec ChecklistRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checklists[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) GetChecklist(_ context.Context, id int64) (ChecklistRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.checklists[id]
	return rec, ok, nil
}

func (s *InMemoryStore) PutFieldTour(_ context.Context, rec FieldTourRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldTours[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) GetFieldTour(_ context.Context, id int64) (FieldTourRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.fieldTours[id]
	return rec, ok, nil
}

func (t *memTx) GetAction(id int64) (types.Action, bool, error) {
	a, ok := t.actions[id]
	if !ok {
		return types.Action{}, false, nil
	}
	return cloneAction(a), true, nil
}

func (t *memTx) CreateAction(a *types.Action) error {
	t.nextActionID++
	a.ID = t.nextActionID
	a.Version = 1
	t.actions[a.ID] = cloneAction(*a)
	return nil
}

func (t *memTx) UpdateAction(a *types.Action) error {
	cur, ok := t.actions[a.ID]
	if !ok || cur.Version != a.Version {
		return ErrStaleWrite
	}
	a.Version++
	t.actions[a.ID] = cloneAction(*a)
	return nil
}

func (t *memTx) GetClosure(id int64) (types.ActionClosure, bool, error) {
	c, ok := t.closures[id]
	if !ok {
		return types.ActionClosure{}, false, nil
	}
	return cloneClosure(c), true, nil
}

func (t *memTx) GetActiveClosure(actionID int64) (types.ActionClosure, bool, error) {
	for _, c := range t.closures {
		if c.ActionID == actionID && c.Status.Active() {
			return cloneClosure(c), true, nil
		}
	}
	return types.ActionClosure{}, false, nil
}

func (t *memTx) CreateClosure(c *types.ActionClosure) error {
	if c.Status.Active() {
		if _, ok, _ := t.GetActiveClosure(c.ActionID); ok {
			return ErrConflict
		}
	}
	t.nextClosureID++
	c.ID = t.nextClosureID
	c.Version = 1
	t.closures[c.ID] = cloneClosure(*c)
	return nil
}

func (t *memTx) UpdateClosure(c *types.ActionClosure) error {
	cur, ok := t.closures[c.ID]
	if !ok || cur.Version != c.Version {
		return ErrStaleWrite
	}
	c.Version++
	t.closures[c.ID] = cloneClosure(*c)
	return nil
}

func cloneAction(a types.Action) types.Action {
	if a.ReminderDays != nil {
		a.ReminderDays = append([]int(nil), a.ReminderDays...)
	}
	return a
}

func cloneClosure(c types.ActionClosure) types.ActionClosure {
	if c.EvidenceFiles != nil {
		c.EvidenceFiles = append([]string(nil), c.EvidenceFiles...)
	}
	return c
}
