package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

func TestSnapshotOrdersKeysAndStripsNulls(t *testing.T) {
	got, err := Snapshot(map[string]any{
		"b": "value",
		"a": 1,
		"c": nil,
		"d": map[string]any{"z": nil, "y": true},
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := `{"a":1,"b":"value","d":{"y":true}}`
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}
}

func TestSnapshotNormalizesNFC(t *testing.T) {
	got, err := Snapshot(map[string]any{"text": "e\u0301"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if string(got) != "{\"text\":\"\u00e9\"}" {
		t.Fatalf("expected NFC string, got %s", got)
	}
}

func TestSnapshotKeyCollision(t *testing.T) {
	_, err := Snapshot(map[string]any{"e\u0301": 1, "\u00e9": 2})
	if !errors.Is(err, ErrKeyCollision) {
		t.Fatalf("expected key collision, got %v", err)
	}
}

func TestSnapshotNil(t *testing.T) {
	var a *types.Action
	for _, v := range []any{nil, a} {
		got, err := Snapshot(v)
		if err != nil || got != nil {
			t.Fatalf("expected empty snapshot for %T, got %q err=%v", v, got, err)
		}
	}
}

func TestSnapshotOfActionUsesJSONNames(t *testing.T) {
	got, err := Snapshot(types.Action{ID: 3, Title: "Fix guard rail", RiskScore: 12, Status: types.ActionOpen})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	s := string(got)
	if !strings.Contains(s, `"risk_score":12`) || !strings.Contains(s, `"status":"open"`) {
		t.Fatalf("unexpected snapshot %s", s)
	}
	if strings.Contains(s, `"completed_at"`) {
		t.Fatalf("null members must be stripped: %s", s)
	}
}

func TestRecorderStoresCreateAndUpdate(t *testing.T) {
	store := ledger.NewInMemoryStore()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, func() time.Time { return now }, zerolog.Nop())
	ctx := context.Background()
	user := int64(4)

	before := types.Action{ID: 9, Title: "x", Status: types.ActionOpen}
	after := before
	after.Status = types.ActionInProgress

	rec.Record(ctx, Entry{ResourceType: ResourceAction, ResourceID: 9, New: before, UserID: &user})
	rec.Record(ctx, Entry{ResourceType: ResourceAction, ResourceID: 9, Old: before, New: after, UserID: &user})

	list, err := store.ListAudit(ctx, ResourceAction, 9)
	if err != nil || len(list) != 2 {
		t.Fatalf("list audit: err=%v len=%d", err, len(list))
	}
	if list[0].Op != types.AuditCreate || list[0].OldValues != nil {
		t.Fatalf("unexpected create record: %+v", list[0])
	}
	if list[1].Op != types.AuditUpdate || !bytes.Contains(list[1].OldValues, []byte(`"status":"open"`)) || !bytes.Contains(list[1].NewValues, []byte(`"status":"in_progress"`)) {
		t.Fatalf("unexpected update record: %+v", list[1])
	}
	if list[1].Digest != Digest(list[1].NewValues) || !strings.HasPrefix(list[1].Digest, "sha256:") {
		t.Fatalf("unexpected digest %q", list[1].Digest)
	}
	if list[1].UserID == nil || *list[1].UserID != user || !list[1].CreatedAt.Equal(now) {
		t.Fatalf("unexpected attribution: %+v", list[1])
	}
}

type brokenSink struct{}

func (brokenSink) PutAudit(context.Context, ledger.AuditRecord) error {
	return errors.New("audit table missing")
}

func TestRecorderSwallowsFailures(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(brokenSink{}, nil, zerolog.New(&buf))
	rec.Record(context.Background(), Entry{ResourceType: ResourceClosure, ResourceID: 1, New: map[string]any{"a": 1}})
	if !strings.Contains(buf.String(), "audit table missing") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}

	var nilRec *Recorder
	nilRec.Record(context.Background(), Entry{})
}
