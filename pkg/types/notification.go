package types

import "time"

type NotificationType string

const (
	NotifyActionAssigned      NotificationType = "action_assigned"
	NotifyClosureReview       NotificationType = "action_closure_review"
	NotifyClosureUpperReview  NotificationType = "action_closure_upper_review"
	NotifyClosureRejected     NotificationType = "action_closure_rejected"
	NotifyActionCompleted     NotificationType = "action_completed"
	NotifyActionCancelled     NotificationType = "action_cancelled"
	NotifyActionStatusChanged NotificationType = "action_status_changed"
	NotifyActionDueReminder   NotificationType = "action_due_reminder"
	NotifyActionOverdue       NotificationType = "action_overdue"
)

type Notification struct {
	ID          string           `json:"id"`
	UserID      int64            `json:"user_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	RelatedType string           `json:"related_type,omitempty"`
	RelatedID   int64            `json:"related_id,omitempty"`
	IsRead      bool             `json:"is_read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type AuditOp string

const (
	AuditCreate AuditOp = "create"
	AuditUpdate AuditOp = "update"
)
