package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

const (
	ResourceAction  = "action"
	ResourceClosure = "action_closure"
)

type Sink interface {
	PutAudit(ctx context.Context, rec ledger.AuditRecord) error
}

// Entry describes one mutation. Old is nil for creations.
// Old and New are snapshotted through their JSON encoding.
type Entry struct {
	Op           types.AuditOp
	ResourceType string
	ResourceID   int64
	Old          any
	New          any
	UserID       *int64
}

type Recorder struct {
	sink Sink
	now  func() time.Time
	log  zerolog.Logger
}

func NewRecorder(sink Sink, now func() time.Time, log zerolog.Logger) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{sink: sink, now: now, log: log}
}

// Record stores e. Failures are logged and never returned to the caller.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if err := r.record(ctx, e); err != nil {
		r.log.Warn().Err(err).
			Str("resource_type", e.ResourceType).
			Int64("resource_id", e.ResourceID).
			Str("op", string(e.Op)).
			Msg("audit record dropped")
	}
}

func (r *Recorder) record(ctx context.Context, e Entry) error {
	if r == nil || r.sink == nil {
		return nil
	}
	oldJSON, err := Snapshot(e.Old)
	if err != nil {
		return err
	}
	newJSON, err := Snapshot(e.New)
	if err != nil {
		return err
	}
	op := e.Op
	if op == "" {
		op = types.AuditUpdate
		if len(oldJSON) == 0 {
			op = types.AuditCreate
		}
	}
	rec := ledger.AuditRecord{
		ID:           uuid.NewString(),
		Op:           op,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		OldValues:    oldJSON,
		NewValues:    newJSON,
		UserID:       e.UserID,
		CreatedAt:    r.now().UTC(),
	}
	if len(newJSON) > 0 {
		rec.Digest = Digest(newJSON)
	}
	return r.sink.PutAudit(ctx, rec)
}
