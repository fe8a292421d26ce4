package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/usdanismanlik/takipus/internal/apperr"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newDispatcher(t *testing.T, store ledger.Store, push bool) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Options{Store: store, PushEnabled: push, Now: func() time.Time { return t0 }})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestNotifyStoresNotificationAndOutbox(t *testing.T) {
	store := ledger.NewInMemoryStore()
	d := newDispatcher(t, store, true)
	ctx := context.Background()

	n, err := d.Notify(ctx, Notice{
		UserID:      5,
		Type:        types.NotifyActionAssigned,
		Title:       "New action",
		Message:     "You were assigned HSE-2026-0001",
		RelatedType: "action",
		RelatedID:   1,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if n.ID == "" || n.IsRead || !n.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected notification: %+v", n)
	}

	rec, ok, err := store.GetPushOutbox(ctx, "push:"+n.ID)
	if err != nil || !ok {
		t.Fatalf("expected outbox row, ok=%v err=%v", ok, err)
	}
	if rec.Status != OutboxStatusPending || rec.UserID != 5 || !rec.NextAttemptAt.Equal(t0) {
		t.Fatalf("unexpected outbox row: %+v", rec)
	}
	var payload PushPayload
	if err := json.Unmarshal(rec.PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SourceApp != "takipus" || payload.Body != n.Message || payload.Data["related_id"] != "1" || payload.Data["type"] != "action_assigned" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestNotifyWithoutPushSkipsOutbox(t *testing.T) {
	store := ledger.NewInMemoryStore()
	d := newDispatcher(t, store, false)
	n, err := d.Notify(context.Background(), Notice{UserID: 5, Type: types.NotifyActionOverdue, Title: "x"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if _, ok, _ := store.GetPushOutbox(context.Background(), "push:"+n.ID); ok {
		t.Fatalf("expected no outbox row with push disabled")
	}
	if _, err := d.Notify(context.Background(), Notice{UserID: 0}); err == nil {
		t.Fatalf("expected error for missing user")
	}
}

type outboxFailStore struct {
	*ledger.InMemoryStore
}

func (outboxFailStore) PutPushOutbox(context.Context, ledger.PushOutboxRecord) error {
	return errors.New("outbox unavailable")
}

func TestNotifySwallowsPushEnqueueFailure(t *testing.T) {
	store := outboxFailStore{ledger.NewInMemoryStore()}
	d := newDispatcher(t, store, true)
	if _, err := d.Notify(context.Background(), Notice{UserID: 5, Type: types.NotifyActionCompleted, Title: "done"}); err != nil {
		t.Fatalf("push failures must not reach the caller: %v", err)
	}
	list, _ := d.List(context.Background(), 5, false, 0)
	if len(list) != 1 {
		t.Fatalf("expected notification to be stored, got %d", len(list))
	}
}

func TestListAndMarkRead(t *testing.T) {
	store := ledger.NewInMemoryStore()
	d := newDispatcher(t, store, false)
	ctx := context.Background()

	a, _ := d.Notify(ctx, Notice{UserID: 5, Type: types.NotifyActionAssigned, Title: "a"})
	d.now = func() time.Time { return t0.Add(time.Minute) }
	_, _ = d.Notify(ctx, Notice{UserID: 5, Type: types.NotifyActionCompleted, Title: "b"})
	_, _ = d.Notify(ctx, Notice{UserID: 6, Type: types.NotifyActionCompleted, Title: "c"})

	list, err := d.List(ctx, 5, false, 10)
	if err != nil || len(list) != 2 || list[0].Title != "b" {
		t.Fatalf("unexpected list: err=%v %+v", err, list)
	}

	if err := d.MarkRead(ctx, a.ID, 6); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for another user's notification, got %v", err)
	}
	if err := d.MarkRead(ctx, a.ID, 5); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, _ := d.List(ctx, 5, true, 0)
	if len(unread) != 1 || unread[0].Title != "b" {
		t.Fatalf("unexpected unread list: %+v", unread)
	}

	marked, err := d.MarkAllRead(ctx, 5)
	if err != nil || marked != 1 {
		t.Fatalf("mark all: marked=%d err=%v", marked, err)
	}
	if _, err := d.List(ctx, 0, false, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type flakyPusher struct {
	calls int
	fail  int
}

func (p *flakyPusher) Push(context.Context, PushPayload) error {
	p.calls++
	if p.calls <= p.fail {
		return errors.New("gateway down")
	}
	return nil
}

func queue(t *testing.T, store *ledger.InMemoryStore) string {
	t.Helper()
	d := newDispatcher(t, store, true)
	n, err := d.Notify(context.Background(), Notice{UserID: 5, Type: types.NotifyActionAssigned, Title: "x", Message: "y"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	return "push:" + n.ID
}

func TestProcessOutboxDueRetryThenSuccess(t *testing.T) {
	store := ledger.NewInMemoryStore()
	id := queue(t, store)
	ctx := context.Background()
	pusher := &flakyPusher{fail: 1}
	opts := WorkerOptions{Store: store, Pusher: pusher}

	if n, err := ProcessOutboxDue(ctx, opts, t0); err != nil || n != 1 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}
	afterFail, _, _ := store.GetPushOutbox(ctx, id)
	if afterFail.AttemptCount != 1 || afterFail.Status != OutboxStatusPending || afterFail.LastError == nil {
		t.Fatalf("unexpected after fail: %+v", afterFail)
	}
	if !afterFail.NextAttemptAt.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("expected 5s backoff, got %v", afterFail.NextAttemptAt.Sub(t0))
	}

	// Not due yet.
	if n, _ := ProcessOutboxDue(ctx, opts, t0.Add(time.Second)); n != 0 {
		t.Fatalf("expected nothing due, processed %d", n)
	}

	if n, err := ProcessOutboxDue(ctx, opts, t0.Add(10*time.Second)); err != nil || n != 1 {
		t.Fatalf("process2: n=%d err=%v", n, err)
	}
	final, _, _ := store.GetPushOutbox(ctx, id)
	if final.Status != OutboxStatusSent || final.SentAt == nil {
		t.Fatalf("unexpected final: %+v", final)
	}
}

func TestProcessOutboxDueGivesUp(t *testing.T) {
	store := ledger.NewInMemoryStore()
	id := queue(t, store)
	ctx := context.Background()
	opts := WorkerOptions{Store: store, Pusher: &flakyPusher{fail: 100}, MaxAttempts: 2}

	now := t0
	for i := 0; i < 2; i++ {
		if _, err := ProcessOutboxDue(ctx, opts, now); err != nil {
			t.Fatalf("process: %v", err)
		}
		now = now.Add(time.Hour)
	}
	rec, _, _ := store.GetPushOutbox(ctx, id)
	if rec.Status != OutboxStatusFailed || rec.AttemptCount != 2 {
		t.Fatalf("expected failed after max attempts, got %+v", rec)
	}
	if n, _ := ProcessOutboxDue(ctx, opts, now); n != 0 {
		t.Fatalf("failed rows must not be retried")
	}
}

func TestProcessOutboxDueInvalidPayload(t *testing.T) {
	store := ledger.NewInMemoryStore()
	ctx := context.Background()
	_ = store.PutPushOutbox(ctx, ledger.PushOutboxRecord{
		ID: "push:bad", UserID: 1, PayloadJSON: []byte("{"), Status: OutboxStatusPending, NextAttemptAt: t0, CreatedAt: t0,
	})
	pusher := &flakyPusher{}
	if n, err := ProcessOutboxDue(ctx, WorkerOptions{Store: store, Pusher: pusher}, t0); err != nil || n != 1 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}
	rec, _, _ := store.GetPushOutbox(ctx, "push:bad")
	if rec.Status != OutboxStatusFailed || pusher.calls != 0 {
		t.Fatalf("unexpected row: %+v calls=%d", rec, pusher.calls)
	}
}

func TestNextAttempt(t *testing.T) {
	cases := map[int]time.Duration{
		0:  5 * time.Second,
		1:  10 * time.Second,
		3:  40 * time.Second,
		6:  5 * time.Minute,
		40: 5 * time.Minute,
	}
	for in, want := range cases {
		if got := nextAttempt(in); got != want {
			t.Fatalf("nextAttempt(%d) = %v, want %v", in, got, want)
		}
	}
}

func TestGatewayPush(t *testing.T) {
	var got PushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		if got.UserID == 13 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second)
	if err := g.Push(context.Background(), PushPayload{UserID: 5, Title: "t", Body: "b", SourceApp: "takipus"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got.UserID != 5 || got.SourceApp != "takipus" {
		t.Fatalf("unexpected payload at gateway: %+v", got)
	}
	if err := g.Push(context.Background(), PushPayload{UserID: 13}); err == nil {
		t.Fatalf("expected error on 502")
	}
}
