package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

func ptr(v int64) *int64 { return &v }

func seededResolver(t *testing.T, responsible *int64) *Resolver {
	t.Helper()
	store := ledger.NewInMemoryStore()
	ctx := context.Background()
	if err := store.PutChecklist(ctx, ledger.ChecklistRecord{ID: 1, Name: "monthly", GeneralResponsibleID: responsible}); err != nil {
		t.Fatalf("put checklist: %v", err)
	}
	if err := store.PutFieldTour(ctx, ledger.FieldTourRecord{ID: 5, ChecklistID: 1}); err != nil {
		t.Fatalf("put tour: %v", err)
	}
	return NewResolver(StoreLookup{Store: store})
}

func TestSourceOf(t *testing.T) {
	cases := []struct {
		name string
		in   types.Action
		want SourceKind
	}{
		{"none", types.Action{}, SourceNone},
		{"manual", types.Action{UpperApproverID: ptr(9)}, SourceManualUpperApprover},
		{"manual zero", types.Action{UpperApproverID: ptr(0)}, SourceNone},
		{"field tour", types.Action{FieldTourID: ptr(5)}, SourceFieldTourResponsible},
		{"field tour wins", types.Action{FieldTourID: ptr(5), UpperApproverID: ptr(9)}, SourceFieldTourResponsible},
	}
	for _, tc := range cases {
		if got := SourceOf(tc.in).Kind; got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestResolveManualUpperApprover(t *testing.T) {
	r := NewResolver(nil)
	id, ok, err := r.ResolveSecondApprover(context.Background(), types.Action{UpperApproverID: ptr(42)})
	if err != nil || !ok || id != 42 {
		t.Fatalf("unexpected: id=%d ok=%v err=%v", id, ok, err)
	}
	if _, ok, _ := r.ResolveSecondApprover(context.Background(), types.Action{}); ok {
		t.Fatalf("expected no approver for plain manual action")
	}
}

func TestResolveFieldTourResponsible(t *testing.T) {
	r := seededResolver(t, ptr(77))
	id, ok, err := r.ResolveSecondApprover(context.Background(), types.Action{FieldTourID: ptr(5)})
	if err != nil || !ok || id != 77 {
		t.Fatalf("unexpected: id=%d ok=%v err=%v", id, ok, err)
	}
}

func TestResolveFieldTourWithoutResponsible(t *testing.T) {
	r := seededResolver(t, nil)
	if _, ok, err := r.ResolveSecondApprover(context.Background(), types.Action{FieldTourID: ptr(5), UpperApproverID: ptr(9)}); ok || err != nil {
		t.Fatalf("expected none: ok=%v err=%v", ok, err)
	}

	r = seededResolver(t, ptr(0))
	if _, ok, _ := r.ResolveSecondApprover(context.Background(), types.Action{FieldTourID: ptr(5)}); ok {
		t.Fatalf("expected non-positive responsible to resolve to none")
	}

	if _, ok, _ := r.ResolveSecondApprover(context.Background(), types.Action{FieldTourID: ptr(404)}); ok {
		t.Fatalf("expected unknown tour to resolve to none")
	}
}

type failingLookup struct{}

func (failingLookup) ChecklistForFieldTour(context.Context, int64) (int64, bool, error) {
	return 0, false, errors.New("db down")
}

func (failingLookup) GeneralResponsible(context.Context, int64) (int64, bool, error) {
	return 0, false, nil
}

func TestResolvePropagatesLookupErrors(t *testing.T) {
	r := NewResolver(failingLookup{})
	if _, _, err := r.ResolveSecondApprover(context.Background(), types.Action{FieldTourID: ptr(5)}); err == nil {
		t.Fatalf("expected error")
	}
}
