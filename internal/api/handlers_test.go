package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/approval"
	"github.com/usdanismanlik/takipus/internal/audit"
	"github.com/usdanismanlik/takipus/internal/auth"
	"github.com/usdanismanlik/takipus/internal/events"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/lifecycle"
	"github.com/usdanismanlik/takipus/internal/notify"
	"github.com/usdanismanlik/takipus/internal/reminder"
	"github.com/usdanismanlik/takipus/pkg/types"
)

const (
	creator  = int64(10)
	assignee = int64(20)
	upper    = int64(30)
	stranger = int64(99)
)

type harness struct {
	t      *testing.T
	router http.Handler
	store  *ledger.InMemoryStore
	now    time.Time
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	h := &harness{t: t, store: ledger.NewInMemoryStore(), now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	notifier, err := notify.NewDispatcher(notify.Options{Store: h.store, Now: clock})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	pub := events.NewDispatcher(events.DispatcherOptions{
		Notifier: notifier,
		Auditor:  audit.NewRecorder(h.store, clock, zerolog.Nop()),
		Timeline: h.store,
	})
	svc, err := lifecycle.New(lifecycle.Input{
		Store:     h.store,
		Resolver:  approval.NewResolver(approval.StoreLookup{Store: h.store}),
		Publisher: pub,
		Now:       clock,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	sched, err := reminder.New(reminder.Options{Store: h.store, Publisher: pub, Now: clock})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	h.router = NewRouter(&Handler{
		Auth:          auth.HeaderAuthenticator{Token: token},
		Lifecycle:     svc,
		Notifications: notifier,
		Scheduler:     sched,
		Store:         h.store,
	})
	return h
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *errorBody      `json:"error"`
}

func (h *harness) do(method, path string, user int64, body any) (int, response) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user > 0 {
		req.Header.Set(auth.UserHeader, strconv.FormatInt(user, 10))
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var out response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			h.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func (h *harness) must(method, path string, user int64, body any, want int, into any) {
	h.t.Helper()
	code, res := h.do(method, path, user, body)
	if code != want {
		msg := ""
		if res.Error != nil {
			msg = res.Error.Message
		}
		h.t.Fatalf("%s %s: status %d want %d (%s)", method, path, code, want, msg)
	}
	if into != nil {
		if err := json.Unmarshal(res.Data, into); err != nil {
			h.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
}

func (h *harness) createAction(body map[string]any) types.Action {
	h.t.Helper()
	if _, ok := body["title"]; !ok {
		body["title"] = "Missing guard rail"
	}
	if _, ok := body["assigned_to_user_id"]; !ok {
		body["assigned_to_user_id"] = assignee
	}
	var a types.Action
	h.must(http.MethodPost, "/api/v1/actions", creator, body, http.StatusCreated, &a)
	return a
}

func actionPath(id int64, suffix string) string {
	return "/api/v1/actions/" + strconv.FormatInt(id, 10) + suffix
}

func closurePath(actionID, closureID int64, suffix string) string {
	return actionPath(actionID, "/closures/"+strconv.FormatInt(closureID, 10)+suffix)
}

func TestHealthAndAuth(t *testing.T) {
	h := newHarness(t, "s3cret")

	code, _ := h.do(http.MethodGet, "/health", 0, nil)
	if code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}

	code, res := h.do(http.MethodGet, "/api/v1/actions", creator, nil)
	if code != http.StatusUnauthorized || res.Error == nil || res.Error.Kind != "unauthorized" {
		t.Fatalf("expected 401 without bearer, got %d %+v", code, res.Error)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set(auth.UserHeader, "10")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestMissingUserIsUnauthorized(t *testing.T) {
	h := newHarness(t, "")
	code, _ := h.do(http.MethodGet, "/api/v1/actions", 0, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRiskMatrix(t *testing.T) {
	h := newHarness(t, "")
	var out struct {
		Matrix [][]struct {
			Probability int    `json:"probability"`
			Severity    int    `json:"severity"`
			Score       int    `json:"score"`
			Level       string `json:"level"`
		} `json:"matrix"`
		Levels []json.RawMessage `json:"levels"`
	}
	h.must(http.MethodGet, "/api/v1/risk/matrix", creator, nil, http.StatusOK, &out)
	if len(out.Matrix) != 5 || len(out.Matrix[0]) != 5 {
		t.Fatalf("unexpected matrix shape")
	}
	top := out.Matrix[0][4]
	if top.Severity != 5 || top.Probability != 5 || top.Score != 25 || top.Level != "very_high" {
		t.Fatalf("unexpected corner cell: %+v", top)
	}
	if len(out.Levels) != 5 {
		t.Fatalf("expected 5 levels, got %d", len(out.Levels))
	}
}

func TestCreateActionSingleStageFlow(t *testing.T) {
	h := newHarness(t, "")
	a := h.createAction(map[string]any{"risk_probability": 4, "risk_severity": 5, "due_date": "2026-03-21"})
	if a.RiskScore != 20 || a.RiskLevel != types.RiskVeryHigh || a.Priority != types.PriorityHigh {
		t.Fatalf("unexpected risk fields: %+v", a)
	}
	if a.Code != "HSE-2026-0001" || a.Status != types.ActionOpen || a.CreatedBy != creator {
		t.Fatalf("unexpected action: %+v", a)
	}
	if a.DueDate == nil || !a.DueDate.Equal(time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date: %v", a.DueDate)
	}

	h.must(http.MethodPost, actionPath(a.ID, "/start"), assignee, nil, http.StatusOK, nil)

	var c types.ActionClosure
	h.must(http.MethodPost, actionPath(a.ID, "/closures"), assignee,
		map[string]any{"closure_description": "Rail installed", "evidence_files": []string{"photo.jpg"}},
		http.StatusCreated, &c)
	if c.Status != types.ClosurePending || c.RequiresUpperApproval {
		t.Fatalf("unexpected closure: %+v", c)
	}

	code, res := h.do(http.MethodPost, closurePath(a.ID, c.ID, "/approve"), stranger, nil)
	if code != http.StatusForbidden || res.Error.Kind != "forbidden" {
		t.Fatalf("expected 403 for stranger, got %d", code)
	}

	h.must(http.MethodPost, closurePath(a.ID, c.ID, "/approve"), creator,
		map[string]string{"review_notes": "ok"}, http.StatusOK, &c)
	if c.Status != types.ClosureApproved {
		t.Fatalf("expected approved, got %s", c.Status)
	}

	var got types.Action
	h.must(http.MethodGet, actionPath(a.ID, ""), creator, nil, http.StatusOK, &got)
	if got.Status != types.ActionCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completed action, got %+v", got)
	}

	code, res = h.do(http.MethodPost, closurePath(a.ID, c.ID, "/approve"), creator, nil)
	if code != http.StatusConflict || res.Error.Kind != "conflict" {
		t.Fatalf("expected 409 on second approval, got %d", code)
	}

	var timeline []timelineEntry
	h.must(http.MethodGet, actionPath(a.ID, "/timeline"), creator, nil, http.StatusOK, &timeline)
	if len(timeline) < 4 {
		t.Fatalf("expected timeline entries, got %d", len(timeline))
	}

	var trail []auditEntry
	h.must(http.MethodGet, actionPath(a.ID, "/audit"), creator, nil, http.StatusOK, &trail)
	var closureEntries int
	for _, e := range trail {
		if e.ResourceType == audit.ResourceClosure {
			closureEntries++
		}
	}
	if closureEntries != 2 {
		t.Fatalf("expected 2 closure audit entries, got %d", closureEntries)
	}

	var inbox []types.Notification
	h.must(http.MethodGet, "/api/v1/notifications", creator, nil, http.StatusOK, &inbox)
	if len(inbox) == 0 {
		t.Fatalf("expected creator notifications")
	}
}

func TestTwoStageFlowViaFieldTour(t *testing.T) {
	h := newHarness(t, "")
	h.must(http.MethodPut, "/api/v1/checklists/5", creator,
		map[string]any{"name": "Weekly tour", "general_responsible_id": upper}, http.StatusOK, nil)
	h.must(http.MethodPut, "/api/v1/field-tours/7", creator,
		map[string]any{"checklist_id": 5}, http.StatusOK, nil)

	a := h.createAction(map[string]any{"field_tour_id": 7})
	if a.SourceType != types.SourceFieldTour {
		t.Fatalf("expected field_tour source, got %s", a.SourceType)
	}

	var c types.ActionClosure
	h.must(http.MethodPost, actionPath(a.ID, "/closures"), assignee,
		map[string]any{"closure_description": "Done"}, http.StatusCreated, &c)
	if !c.RequiresUpperApproval {
		t.Fatalf("expected upper approval")
	}

	h.must(http.MethodPost, closurePath(a.ID, c.ID, "/approve"), creator, nil, http.StatusOK, &c)
	if c.Status != types.ClosureFirstApproved {
		t.Fatalf("expected first_approved, got %s", c.Status)
	}

	code, _ := h.do(http.MethodPost, closurePath(a.ID, c.ID, "/approve"), creator, nil)
	if code != http.StatusForbidden {
		t.Fatalf("creator must not give second approval, got %d", code)
	}
	code, _ = h.do(http.MethodPost, closurePath(a.ID, c.ID, "/reject"), creator, map[string]string{"review_notes": "no"})
	if code != http.StatusConflict {
		t.Fatalf("expected 409 rejecting first_approved closure, got %d", code)
	}

	h.must(http.MethodPost, closurePath(a.ID, c.ID, "/approve"), upper, nil, http.StatusOK, &c)
	if c.Status != types.ClosureApproved || c.UpperApprovedBy == nil || *c.UpperApprovedBy != upper {
		t.Fatalf("unexpected closure: %+v", c)
	}

	var inbox []types.Notification
	h.must(http.MethodGet, "/api/v1/notifications?unread=true", upper, nil, http.StatusOK, &inbox)
	if len(inbox) != 1 || inbox[0].Type != types.NotifyClosureUpperReview {
		t.Fatalf("unexpected upper approver inbox: %+v", inbox)
	}
}

func TestRejectReturnsActionToInProgress(t *testing.T) {
	h := newHarness(t, "")
	a := h.createAction(map[string]any{})
	var c types.ActionClosure
	h.must(http.MethodPost, actionPath(a.ID, "/closures"), assignee,
		map[string]any{"closure_description": "Done"}, http.StatusCreated, &c)

	code, _ := h.do(http.MethodPost, actionPath(a.ID, "/closures"), assignee, map[string]any{"closure_description": "Again"})
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for second active closure, got %d", code)
	}

	code, _ = h.do(http.MethodPost, closurePath(a.ID, c.ID, "/reject"), creator, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without reason, got %d", code)
	}

	h.must(http.MethodPost, closurePath(a.ID, c.ID, "/reject"), creator,
		map[string]string{"review_notes": "Photo missing"}, http.StatusOK, &c)
	if c.Status != types.ClosureRejected {
		t.Fatalf("expected rejected, got %s", c.Status)
	}

	var got types.Action
	h.must(http.MethodGet, actionPath(a.ID, ""), creator, nil, http.StatusOK, &got)
	if got.Status != types.ActionInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}

	var list []types.ActionClosure
	h.must(http.MethodGet, actionPath(a.ID, "/closures"), creator, nil, http.StatusOK, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 closure, got %d", len(list))
	}
	h.must(http.MethodGet, closurePath(a.ID, c.ID, ""), creator, nil, http.StatusOK, nil)
	code, _ = h.do(http.MethodGet, closurePath(a.ID, c.ID+100, ""), creator, nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	h := newHarness(t, "")
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing title", http.MethodPost, "/api/v1/actions", map[string]any{"title": " "}, http.StatusUnprocessableEntity},
		{"risk out of range", http.MethodPost, "/api/v1/actions", map[string]any{"title": "x", "risk_probability": 6}, http.StatusUnprocessableEntity},
		{"bad due date", http.MethodPost, "/api/v1/actions", map[string]any{"title": "x", "due_date": "21/03/2026"}, http.StatusUnprocessableEntity},
		{"unknown field", http.MethodPost, "/api/v1/actions", map[string]any{"title": "x", "colour": "red"}, http.StatusUnprocessableEntity},
		{"unknown action", http.MethodGet, "/api/v1/actions/404", nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/v1/actions?status=closed", nil, http.StatusUnprocessableEntity},
		{"bad limit", http.MethodGet, "/api/v1/actions?limit=-1", nil, http.StatusUnprocessableEntity},
		{"unknown notification", http.MethodPut, "/api/v1/notifications/nope/read", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, res := h.do(tc.method, tc.path, creator, tc.body)
			if code != tc.want {
				t.Fatalf("status %d want %d", code, tc.want)
			}
			if res.Success || res.Error == nil || res.Error.Message == "" {
				t.Fatalf("expected error envelope, got %+v", res)
			}
		})
	}
}

func TestActionMutations(t *testing.T) {
	h := newHarness(t, "")
	a := h.createAction(map[string]any{})

	var got types.Action
	h.must(http.MethodPut, actionPath(a.ID, "/risk"), creator,
		map[string]int{"risk_probability": 2, "risk_severity": 2}, http.StatusOK, &got)
	if got.RiskScore != 4 || got.RiskLevel != types.RiskVeryLow || got.Priority != types.PriorityLow {
		t.Fatalf("unexpected risk update: %+v", got)
	}

	h.must(http.MethodPut, actionPath(a.ID, "/assign"), creator,
		map[string]int64{"assigned_to_user_id": stranger}, http.StatusOK, &got)
	if got.AssignedToUserID == nil || *got.AssignedToUserID != stranger {
		t.Fatalf("unexpected assignee: %+v", got.AssignedToUserID)
	}

	h.must(http.MethodPost, actionPath(a.ID, "/cancel"), creator, nil, http.StatusOK, &got)
	if got.Status != types.ActionCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	code, _ := h.do(http.MethodPost, actionPath(a.ID, "/start"), assignee, nil)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 starting a cancelled action, got %d", code)
	}

	b := h.createAction(map[string]any{})
	h.must(http.MethodPost, actionPath(b.ID, "/complete"), creator, nil, http.StatusOK, &got)
	if got.Status != types.ActionCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	var list []types.Action
	h.must(http.MethodGet, "/api/v1/actions?status=completed,cancelled&created_by=10", creator, nil, http.StatusOK, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 closed actions, got %d", len(list))
	}
	h.must(http.MethodGet, "/api/v1/actions?status=open", creator, nil, http.StatusOK, &list)
	if len(list) != 0 {
		t.Fatalf("expected no open actions, got %d", len(list))
	}
}

func TestNotificationsReadFlow(t *testing.T) {
	h := newHarness(t, "")
	h.createAction(map[string]any{})
	h.createAction(map[string]any{})

	var inbox []types.Notification
	h.must(http.MethodGet, "/api/v1/notifications", assignee, nil, http.StatusOK, &inbox)
	if len(inbox) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(inbox))
	}

	h.must(http.MethodPut, "/api/v1/notifications/"+inbox[0].ID+"/read", assignee, nil, http.StatusOK, nil)
	code, _ := h.do(http.MethodPut, "/api/v1/notifications/"+inbox[1].ID+"/read", stranger, nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 marking someone else's notification, got %d", code)
	}

	var out struct {
		Updated int `json:"updated"`
	}
	h.must(http.MethodPut, "/api/v1/notifications/read-all", assignee, nil, http.StatusOK, &out)
	if out.Updated != 1 {
		t.Fatalf("expected 1 updated, got %d", out.Updated)
	}
	h.must(http.MethodGet, "/api/v1/notifications?unread=1", assignee, nil, http.StatusOK, &inbox)
	if len(inbox) != 0 {
		t.Fatalf("expected empty unread inbox, got %d", len(inbox))
	}
}

func TestRunReminders(t *testing.T) {
	h := newHarness(t, "")
	h.createAction(map[string]any{"due_date": "2026-03-21", "due_date_reminder_days": []int{7}})
	h.createAction(map[string]any{"due_date": "2026-03-10T00:00:00Z"})

	var res reminder.Result
	h.must(http.MethodPost, "/api/v1/reminders/run", creator, nil, http.StatusOK, &res)
	if res.RemindersSent != 1 || res.OverdueNotifications != 1 || len(res.Errors) != 0 {
		t.Fatalf("unexpected first run: %+v", res)
	}
	h.must(http.MethodPost, "/api/v1/reminders/run", creator, nil, http.StatusOK, &res)
	if res.RemindersSent != 0 || res.OverdueNotifications != 0 {
		t.Fatalf("second run must be a no-op: %+v", res)
	}
}

func TestStatusFor(t *testing.T) {
	if got := StatusFor(ledger.ErrStaleWrite); got != http.StatusInternalServerError {
		t.Fatalf("unclassified errors are internal, got %d", got)
	}
}
