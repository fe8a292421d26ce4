package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/usdanismanlik/takipus/pkg/types"
)

var (
	// ErrStaleWrite is returned when an update's version no longer matches the stored row.
	ErrStaleWrite = errors.New("stale write: row was modified concurrently")
	// ErrConflict is returned when a write violates a uniqueness invariant.
	ErrConflict = errors.New("write conflicts with an existing row")
	ErrMissingID = errors.New("missing id")
)

type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetAction(ctx context.Context, id int64) (types.Action, bool, error)
	ListActions(ctx context.Context, filter ActionFilter) ([]types.Action, error)
	GetClosure(ctx context.Context, id int64) (types.ActionClosure, bool, error)
	ListClosures(ctx context.Context, actionID int64) ([]types.ActionClosure, error)

	PutNotification(ctx context.Context, rec NotificationRecord) error
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, id string, userID int64, at time.Time) (bool, error)

	PutPushOutbox(ctx context.Context, rec PushOutboxRecord) error
	GetPushOutbox(ctx context.Context, id string) (PushOutboxRecord, bool, error)
	ListPushOutboxDue(ctx context.Context, now time.Time, limit int) ([]PushOutboxRecord, error)

	PutAudit(ctx context.Context, rec AuditRecord) error
	ListAudit(ctx context.Context, resourceType string, resourceID int64) ([]AuditRecord, error)

	PutTimeline(ctx context.Context, rec TimelineRecord) error
	ListTimeline(ctx context.Context, actionID int64) ([]TimelineRecord, error)

	PutChecklist(ctx context.Context, rec ChecklistRecord) error
	GetChecklist(ctx context.Context, id int64) (ChecklistRecord, bool, error)
	PutFieldTour(ctx context.Context, rec FieldTourRecord) error
	GetFieldTour(ctx context.Context, id int64) (FieldTourRecord, bool, error)
}

// Tx is the transactional view used by every state transition.
// UpdateAction and UpdateClosure compare the Version of the argument with the
// stored row, return ErrStaleWrite on mismatch and bump Version on success.
type Tx interface {
	GetAction(id int64) (types.Action, bool, error)
	CreateAction(a *types.Action) error
	UpdateAction(a *types.Action) error

	GetClosure(id int64) (types.ActionClosure, bool, error)
	GetActiveClosure(actionID int64) (types.ActionClosure, bool, error)
	CreateClosure(c *types.ActionClosure) error
	UpdateClosure(c *types.ActionClosure) error
}

type ActionFilter struct {
	Statuses     []types.ActionStatus
	AssignedTo   *int64
	CreatedBy    *int64
	DueBefore    *time.Time
	DueOnOrAfter *time.Time
	IsOverdue    *bool
	Limit        int
}

type NotificationRecord struct {
	ID          string
	UserID      int64
	Type        types.NotificationType
	Title       string
	Message     string
	RelatedType string
	RelatedID   int64
	IsRead      bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}

func (r NotificationRecord) View() types.Notification {
	return types.Notification{
		ID:          r.ID,
		UserID:      r.UserID,
		Type:        r.Type,
		Title:       r.Title,
		Message:     r.Message,
		RelatedType: r.RelatedType,
		RelatedID:   r.RelatedID,
		IsRead:      r.IsRead,
		ReadAt:      r.ReadAt,
		CreatedAt:   r.CreatedAt,
	}
}

type PushOutboxRecord struct {
	ID             string
	NotificationID string
	UserID         int64
	PayloadJSON    []byte
	Status         string // pending | sent | failed
	AttemptCount   int
	NextAttemptAt  time.Time
	LastError      *string
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type AuditRecord struct {
	ID           string
	Op           types.AuditOp
	ResourceType string
	ResourceID   int64
	OldValues    []byte
	NewValues    []byte
	Digest       string
	UserID       *int64
	CreatedAt    time.Time
}

type TimelineRecord struct {
	ID          string
	ActionID    int64
	EventType   string
	UserID      *int64
	Title       string
	Description string
	CreatedAt   time.Time
}

type ChecklistRecord struct {
	ID                   int64
	Name                 string
	GeneralResponsibleID *int64
}

type FieldTourRecord struct {
	ID          int64
	ChecklistID int64
}
