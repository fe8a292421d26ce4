package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/apperr"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/metrics"
	"github.com/usdanismanlik/takipus/pkg/types"
)

const DefaultSourceApp = "takipus"

// Notice is one notification for one user.
type Notice struct {
	UserID      int64
	Type        types.NotificationType
	Title       string
	Message     string
	RelatedType string
	RelatedID   int64
}

// PushPayload is the body accepted by the core service push gateway.
type PushPayload struct {
	UserID    int64             `json:"user_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	SourceApp string            `json:"source_app"`
}

type Options struct {
	Store       ledger.Store
	PushEnabled bool
	SourceApp   string
	Now         func() time.Time
	Log         zerolog.Logger
}

// Dispatcher persists notifications and queues their push delivery.
type Dispatcher struct {
	store       ledger.Store
	pushEnabled bool
	sourceApp   string
	now         func() time.Time
	log         zerolog.Logger
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("notify: missing store")
	}
	d := &Dispatcher{
		store:       opts.Store,
		pushEnabled: opts.PushEnabled,
		sourceApp:   opts.SourceApp,
		now:         opts.Now,
		log:         opts.Log,
	}
	if d.sourceApp == "" {
		d.sourceApp = DefaultSourceApp
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Notify stores n and, with push enabled, a pending outbox row. Only a failure
// to store the notification itself is returned; push queueing is best-effort.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) (types.Notification, error) {
	if n.UserID <= 0 {
		return types.Notification{}, fmt.Errorf("notify: invalid user id %d", n.UserID)
	}
	now := d.now().UTC()
	rec := ledger.NotificationRecord{
		ID:          uuid.NewString(),
		UserID:      n.UserID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		RelatedType: n.RelatedType,
		RelatedID:   n.RelatedID,
		CreatedAt:   now,
	}
	if err := d.store.PutNotification(ctx, rec); err != nil {
		metrics.RecordNotification(string(n.Type), "error")
		return types.Notification{}, fmt.Errorf("store notification: %w", err)
	}
	metrics.RecordNotification(string(n.Type), "stored")

	if d.pushEnabled {
		if err := d.enqueuePush(ctx, rec, now); err != nil {
			d.log.Warn().Err(err).
				Str("notification_id", rec.ID).
				Int64("user_id", rec.UserID).
				Msg("push enqueue failed")
		}
	}
	return rec.View(), nil
}

func (d *Dispatcher) enqueuePush(ctx context.Context, rec ledger.NotificationRecord, now time.Time) error {
	data := map[string]string{
		"notification_id": rec.ID,
		"type":            string(rec.Type),
	}
	if rec.RelatedType != "" {
		data["related_type"] = rec.RelatedType
		data["related_id"] = strconv.FormatInt(rec.RelatedID, 10)
	}
	payload, err := json.Marshal(PushPayload{
		UserID:    rec.UserID,
		Title:     rec.Title,
		Body:      rec.Message,
		Data:      data,
		SourceApp: d.sourceApp,
	})
	if err != nil {
		return err
	}
	return d.store.PutPushOutbox(ctx, ledger.PushOutboxRecord{
		ID:             "push:" + rec.ID,
		NotificationID: rec.ID,
		UserID:         rec.UserID,
		PayloadJSON:    payload,
		Status:         OutboxStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (d *Dispatcher) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]types.Notification, error) {
	const op = "list_notifications"
	if userID <= 0 {
		return nil, apperr.Validation(op, "user id is required")
	}
	recs, err := d.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	out := make([]types.Notification, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.View())
	}
	return out, nil
}

// MarkRead marks one of userID's notifications as read. Notifications of
// other users are reported as not found.
func (d *Dispatcher) MarkRead(ctx context.Context, id string, userID int64) error {
	const op = "mark_notification_read"
	if strings.TrimSpace(id) == "" {
		return apperr.Validation(op, "notification id is required")
	}
	ok, err := d.store.MarkNotificationRead(ctx, id, userID, d.now().UTC())
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !ok {
		return apperr.NotFound(op, "notification %s not found", id)
	}
	return nil
}

// MarkAllRead returns the number of notifications it marked.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	const op = "mark_all_notifications_read"
	unread, err := d.store.ListNotifications(ctx, userID, true, 0)
	if err != nil {
		return 0, apperr.Internal(op, err)
	}
	now := d.now().UTC()
	marked := 0
	for _, n := range unread {
		ok, err := d.store.MarkNotificationRead(ctx, n.ID, userID, now)
		if err != nil {
			return marked, apperr.Internal(op, err)
		}
		if ok {
			marked++
		}
	}
	return marked, nil
}
