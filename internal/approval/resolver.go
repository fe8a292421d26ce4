package approval

import (
	"context"
	"fmt"

	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceFieldTourResponsible
	SourceManualUpperApprover
)

func (k SourceKind) String() string {
	switch k {
	case SourceFieldTourResponsible:
		return "field_tour_responsible"
	case SourceManualUpperApprover:
		return "manual_upper_approver"
	default:
		return "none"
	}
}

// ApproverSource says where an action's second approver comes from.
// Only the field matching Kind is meaningful.
type ApproverSource struct {
	Kind        SourceKind
	FieldTourID int64
	UserID      int64
}

// SourceOf classifies an action. A field tour link wins over upper_approver_id.
func SourceOf(a types.Action) ApproverSource {
	if a.FieldTourID != nil && *a.FieldTourID > 0 {
		return ApproverSource{Kind: SourceFieldTourResponsible, FieldTourID: *a.FieldTourID}
	}
	if a.UpperApproverID != nil && *a.UpperApproverID > 0 {
		return ApproverSource{Kind: SourceManualUpperApprover, UserID: *a.UpperApproverID}
	}
	return ApproverSource{Kind: SourceNone}
}

type ChecklistLookup interface {
	// ChecklistForFieldTour returns the checklist a field tour was run against.
	ChecklistForFieldTour(ctx context.Context, fieldTourID int64) (int64, bool, error)
	// GeneralResponsible returns the checklist's general responsible user.
	GeneralResponsible(ctx context.Context, checklistID int64) (int64, bool, error)
}

type Resolver struct {
	lookup ChecklistLookup
}

func NewResolver(lookup ChecklistLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// ResolveSecondApprover returns the user who must give the second approval,
// or ok=false when the action needs only the creator's approval.
func (r *Resolver) ResolveSecondApprover(ctx context.Context, a types.Action) (int64, bool, error) {
	src := SourceOf(a)
	switch src.Kind {
	case SourceManualUpperApprover:
		return src.UserID, true, nil
	case SourceFieldTourResponsible:
		if r.lookup == nil {
			return 0, false, nil
		}
		checklistID, ok, err := r.lookup.ChecklistForFieldTour(ctx, src.FieldTourID)
		if err != nil {
			return 0, false, fmt.Errorf("field tour %d: %w", src.FieldTourID, err)
		}
		if !ok {
			return 0, false, nil
		}
		userID, ok, err := r.lookup.GeneralResponsible(ctx, checklistID)
		if err != nil {
			return 0, false, fmt.Errorf("checklist %d: %w", checklistID, err)
		}
		if !ok || userID <= 0 {
			return 0, false, nil
		}
		return userID, true, nil
	default:
		return 0, false, nil
	}
}

// StoreLookup answers checklist lookups from the ledger.
type StoreLookup struct {
	Store ledger.Store
}

func (l StoreLookup) ChecklistForFieldTour(ctx context.Context, fieldTourID int64) (int64, bool, error) {
	tour, ok, err := l.Store.GetFieldTour(ctx, fieldTourID)
	if err != nil || !ok {
		return 0, false, err
	}
	return tour.ChecklistID, true, nil
}

func (l StoreLookup) GeneralResponsible(ctx context.Context, checklistID int64) (int64, bool, error) {
	cl, ok, err := l.Store.GetChecklist(ctx, checklistID)
	if err != nil || !ok || cl.GeneralResponsibleID == nil {
		return 0, false, err
	}
	return *cl.GeneralResponsibleID, true, nil
}
