package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/apperr"
	"github.com/usdanismanlik/takipus/internal/audit"
	"github.com/usdanismanlik/takipus/internal/auth"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/lifecycle"
	"github.com/usdanismanlik/takipus/internal/logging"
	"github.com/usdanismanlik/takipus/internal/notify"
	"github.com/usdanismanlik/takipus/internal/reminder"
	"github.com/usdanismanlik/takipus/internal/risk"
	"github.com/usdanismanlik/takipus/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type Handler struct {
	Auth          auth.Authenticator
	Lifecycle     *lifecycle.Service
	Notifications *notify.Dispatcher
	Scheduler     *reminder.Scheduler
	Store         ledger.Store
	// Live serves the websocket feed on /ws when set.
	Live http.Handler
	Log  zerolog.Logger
}

func (h *Handler) logger(r *http.Request) zerolog.Logger {
	return logging.FromContext(r.Context(), h.Log)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actor(r *http.Request) int64 {
	p, _ := auth.FromContext(r.Context())
	return p.UserID
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := mux.Vars(r)[key]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("path", "%s must be a positive integer", key)
	}
	return id, nil
}

func (h *Handler) RiskMatrix(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"matrix":            risk.Matrix(),
		"levels":            risk.Levels(),
		"probability_scale": risk.ProbabilityScale(),
		"severity_scale":    risk.SeverityScale(),
	}, "")
}

type createActionRequest struct {
	CompanyID        string           `json:"company_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Location         string           `json:"location"`
	SourceType       types.SourceType `json:"source_type"`
	FieldTourID      *int64           `json:"field_tour_id"`
	UpperApproverID  *int64           `json:"upper_approver_id"`
	RiskProbability  *int             `json:"risk_probability"`
	RiskSeverity     *int             `json:"risk_severity"`
	DueDate          *string          `json:"due_date"`
	ReminderDays     []int            `json:"due_date_reminder_days"`
	AssignedToUserID *int64           `json:"assigned_to_user_id"`
}

// parseDueDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp.
func parseDueDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Validation("create_action", "due_date must be YYYY-MM-DD or RFC 3339")
	}
	return &t, nil
}

func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	var req createActionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.Lifecycle.CreateAction(r.Context(), lifecycle.CreateInput{
		CompanyID:        req.CompanyID,
		Title:            req.Title,
		Description:      req.Description,
		Location:         req.Location,
		SourceType:       req.SourceType,
		FieldTourID:      req.FieldTourID,
		UpperApproverID:  req.UpperApproverID,
		RiskProbability:  req.RiskProbability,
		RiskSeverity:     req.RiskSeverity,
		DueDate:          due,
		ReminderDays:     req.ReminderDays,
		CreatedBy:        actor(r),
		AssignedToUserID: req.AssignedToUserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, a, "Action created")
}

func queryInt64(q string, name string) (*int64, error) {
	if q == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(q, 10, 64)
	if err != nil {
		return nil, apperr.Validation("list_actions", "%s must be an integer", name)
	}
	return &v, nil
}

func queryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperr.Validation("list", "limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ledger.ActionFilter
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			st := types.ActionStatus(strings.TrimSpace(s))
			if !st.Valid() {
				h.writeError(w, r, apperr.Validation("list_actions", "unknown status %q", s))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	var err error
	if filter.AssignedTo, err = queryInt64(q.Get("assigned_to"), "assigned_to"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.CreatedBy, err = queryInt64(q.Get("created_by"), "created_by"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit, err = queryLimit(q.Get("limit")); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Lifecycle.ListActions(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []types.Action{}
	}
	writeData(w, http.StatusOK, list, "")
}

func (h *Handler) GetAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.Lifecycle.GetAction(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, a, "")
}

// actionCall runs a lifecycle operation that only needs the action id and the actor.
func (h *Handler) actionCall(w http.ResponseWriter, r *http.Request, msg string, fn func(id, actor int64) (types.Action, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := fn(id, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, a, msg)
}

func (h *Handler) StartWork(w http.ResponseWriter, r *http.Request) {
	h.actionCall(w, r, "Action started", func(id, by int64) (types.Action, error) {
		return h.Lifecycle.StartWork(r.Context(), id, by)
	})
}

func (h *Handler) CancelAction(w http.ResponseWriter, r *http.Request) {
	h.actionCall(w, r, "Action cancelled", func(id, by int64) (types.Action, error) {
		return h.Lifecycle.CancelAction(r.Context(), id, by)
	})
}

func (h *Handler) CompleteAction(w http.ResponseWriter, r *http.Request) {
	h.actionCall(w, r, "Action completed", func(id, by int64) (types.Action, error) {
		return h.Lifecycle.CompleteDirectly(r.Context(), id, by)
	})
}

type assignRequest struct {
	AssignedToUserID int64 `json:"assigned_to_user_id"`
}

func (h *Handler) AssignAction(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.actionCall(w, r, "Action assigned", func(id, by int64) (types.Action, error) {
		return h.Lifecycle.AssignAction(r.Context(), id, req.AssignedToUserID, by)
	})
}

type riskRequest struct {
	RiskProbability int `json:"risk_probability"`
	RiskSeverity    int `json:"risk_severity"`
}

func (h *Handler) UpdateRisk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.actionCall(w, r, "Risk updated", func(id, by int64) (types.Action, error) {
		return h.Lifecycle.UpdateRiskFields(r.Context(), id, req.RiskProbability, req.RiskSeverity, by)
	})
}

type closureRequest struct {
	ClosureDescription string   `json:"closure_description"`
	EvidenceFiles      []string `json:"evidence_files"`
}

func (h *Handler) RequestClosure(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req closureRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Lifecycle.RequestClosure(r.Context(), lifecycle.ClosureRequest{
		ActionID:           id,
		RequestedBy:        actor(r),
		ClosureDescription: req.ClosureDescription,
		EvidenceFiles:      req.EvidenceFiles,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, c, "Closure requested")
}

func (h *Handler) ListClosures(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Lifecycle.ListClosures(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []types.ActionClosure{}
	}
	writeData(w, http.StatusOK, list, "")
}

func closureIDs(r *http.Request) (int64, int64, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, 0, err
	}
	cid, err := pathID(r, "closureID")
	if err != nil {
		return 0, 0, err
	}
	return id, cid, nil
}

func (h *Handler) GetClosure(w http.ResponseWriter, r *http.Request) {
	id, cid, err := closureIDs(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Lifecycle.GetClosure(r.Context(), id, cid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c, "")
}

type reviewRequest struct {
	ReviewNotes string `json:"review_notes"`
}

// decodeOptional accepts an empty body as the zero value.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, v)
}

func (h *Handler) ApproveClosure(w http.ResponseWriter, r *http.Request) {
	id, cid, err := closureIDs(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Lifecycle.ApproveClosure(r.Context(), id, cid, actor(r), req.ReviewNotes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c, "Closure approved")
}

func (h *Handler) RejectClosure(w http.ResponseWriter, r *http.Request) {
	id, cid, err := closureIDs(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Lifecycle.RejectClosure(r.Context(), id, cid, actor(r), req.ReviewNotes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c, "Closure rejected")
}

type timelineEntry struct {
	ID          string    `json:"id"`
	ActionID    int64     `json:"action_id"`
	EventType   string    `json:"event_type"`
	UserID      *int64    `json:"user_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.Lifecycle.GetAction(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, err := h.Store.ListTimeline(r.Context(), id)
	if err != nil {
		h.writeError(w, r, apperr.Internal("timeline", err))
		return
	}
	out := make([]timelineEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, timelineEntry(rec))
	}
	writeData(w, http.StatusOK, out, "")
}

type auditEntry struct {
	ID           string          `json:"id"`
	Op           types.AuditOp   `json:"op"`
	ResourceType string          `json:"resource_type"`
	ResourceID   int64           `json:"resource_id"`
	OldValues    json.RawMessage `json:"old_values,omitempty"`
	NewValues    json.RawMessage `json:"new_values,omitempty"`
	Digest       string          `json:"digest"`
	UserID       *int64          `json:"user_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Audit returns the audit trail of the action followed by that of its closures.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	closures, err := h.Lifecycle.ListClosures(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, err := h.Store.ListAudit(ctx, audit.ResourceAction, id)
	if err != nil {
		h.writeError(w, r, apperr.Internal("audit", err))
		return
	}
	for _, c := range closures {
		more, err := h.Store.ListAudit(ctx, audit.ResourceClosure, c.ID)
		if err != nil {
			h.writeError(w, r, apperr.Internal("audit", err))
			return
		}
		recs = append(recs, more...)
	}
	out := make([]auditEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, auditEntry{
			ID:           rec.ID,
			Op:           rec.Op,
			ResourceType: rec.ResourceType,
			ResourceID:   rec.ResourceID,
			OldValues:    rawOrNil(rec.OldValues),
			NewValues:    rawOrNil(rec.NewValues),
			Digest:       rec.Digest,
			UserID:       rec.UserID,
			CreatedAt:    rec.CreatedAt,
		})
	}
	writeData(w, http.StatusOK, out, "")
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

type checklistRequest struct {
	Name                 string `json:"name"`
	GeneralResponsibleID *int64 `json:"general_responsible_id"`
}

func (h *Handler) PutChecklist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req checklistRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.GeneralResponsibleID != nil && *req.GeneralResponsibleID <= 0 {
		h.writeError(w, r, apperr.Validation("put_checklist", "general_responsible_id must be positive"))
		return
	}
	rec := ledger.ChecklistRecord{ID: id, Name: strings.TrimSpace(req.Name), GeneralResponsibleID: req.GeneralResponsibleID}
	if err := h.Store.PutChecklist(r.Context(), rec); err != nil {
		h.writeError(w, r, apperr.Internal("put_checklist", err))
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"id":                     rec.ID,
		"name":                   rec.Name,
		"general_responsible_id": rec.GeneralResponsibleID,
	}, "Checklist saved")
}

type fieldTourRequest struct {
	ChecklistID int64 `json:"checklist_id"`
}

func (h *Handler) PutFieldTour(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req fieldTourRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ChecklistID <= 0 {
		h.writeError(w, r, apperr.Validation("put_field_tour", "checklist_id is required"))
		return
	}
	rec := ledger.FieldTourRecord{ID: id, ChecklistID: req.ChecklistID}
	if err := h.Store.PutFieldTour(r.Context(), rec); err != nil {
		h.writeError(w, r, apperr.Internal("put_field_tour", err))
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"id": rec.ID, "checklist_id": rec.ChecklistID}, "Field tour saved")
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	unread := q.Get("unread") == "1" || strings.EqualFold(q.Get("unread"), "true")
	list, err := h.Notifications.List(r.Context(), actor(r), unread, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []types.Notification{}
	}
	writeData(w, http.StatusOK, list, "")
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["nid"]
	if err := h.Notifications.MarkRead(r.Context(), id, actor(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "Notification marked as read")
}

func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Notifications.MarkAllRead(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"updated": n}, "All notifications marked as read")
}

// RunReminders triggers one scheduler run synchronously and reports its counters.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeFailure(w, http.StatusServiceUnavailable, "unavailable", "scheduler is not configured")
		return
	}
	res := h.Scheduler.Run(r.Context())
	writeData(w, http.StatusOK, res, "")
}
