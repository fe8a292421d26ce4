package types

import "time"

type ActionStatus string

const (
	ActionOpen            ActionStatus = "open"
	ActionInProgress      ActionStatus = "in_progress"
	ActionPendingApproval ActionStatus = "pending_approval"
	ActionCompleted       ActionStatus = "completed"
	ActionCancelled       ActionStatus = "cancelled"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionCancelled
}

func (s ActionStatus) Valid() bool {
	switch s {
	case ActionOpen, ActionInProgress, ActionPendingApproval, ActionCompleted, ActionCancelled:
		return true
	default:
		return false
	}
}

// OpenStatuses are the statuses the reminder scheduler scans.
var OpenStatuses = []ActionStatus{ActionOpen, ActionInProgress, ActionPendingApproval}

type SourceType string

const (
	SourceFieldTour          SourceType = "field_tour"
	SourcePeriodicInspection SourceType = "periodic_inspection"
	SourceManual             SourceType = "manual"
	SourceOther              SourceType = "other"
)

type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "very_low"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultReminderDays applies when an action has a due date but no explicit offsets.
var DefaultReminderDays = []int{7, 3, 1}

type Action struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	CompanyID   string     `json:"company_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location,omitempty"`
	SourceType  SourceType `json:"source_type"`

	FieldTourID     *int64 `json:"field_tour_id,omitempty"`
	UpperApproverID *int64 `json:"upper_approver_id,omitempty"`

	RiskProbability int       `json:"risk_probability"`
	RiskSeverity    int       `json:"risk_severity"`
	RiskScore       int       `json:"risk_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Priority        Priority  `json:"priority"`

	Status      ActionStatus `json:"status"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`

	// DueDate carries a calendar date at UTC midnight.
	DueDate                 *time.Time `json:"due_date,omitempty"`
	ReminderDays            []int      `json:"due_date_reminder_days"`
	LastReminderSentAt      *time.Time `json:"last_reminder_sent_at,omitempty"`
	IsOverdue               bool       `json:"is_overdue"`
	OverdueNotificationSent bool       `json:"overdue_notification_sent"`

	CreatedBy        int64  `json:"created_by"`
	AssignedToUserID *int64 `json:"assigned_to_user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

type ClosureStatus string

const (
	ClosurePending       ClosureStatus = "pending"
	ClosureFirstApproved ClosureStatus = "first_approved"
	ClosureApproved      ClosureStatus = "approved"
	ClosureRejected      ClosureStatus = "rejected"
)

// Active reports whether the closure is still awaiting a decision.
func (s ClosureStatus) Active() bool {
	return s == ClosurePending || s == ClosureFirstApproved
}

type ActionClosure struct {
	ID                    int64         `json:"id"`
	ActionID              int64         `json:"action_id"`
	Status                ClosureStatus `json:"status"`
	RequiresUpperApproval bool          `json:"requires_upper_approval"`

	RequestedBy        int64    `json:"requested_by"`
	ClosureDescription string   `json:"closure_description"`
	EvidenceFiles      []string `json:"evidence_files"`

	ReviewedBy  *int64     `json:"reviewed_by,omitempty"`
	ReviewNotes *string    `json:"review_notes,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`

	UpperApprovedBy  *int64     `json:"upper_approved_by,omitempty"`
	UpperReviewNotes *string    `json:"upper_review_notes,omitempty"`
	UpperReviewedAt  *time.Time `json:"upper_reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}
