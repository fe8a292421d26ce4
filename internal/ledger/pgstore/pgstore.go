package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{ctx: ctx, tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const actionColumns = `id, code, company_id, title, description, location, source_type, field_tour_id, upper_approver_id,
risk_probability, risk_severity, risk_score, risk_level, priority, status, completed_at, due_date, due_date_reminder_days,
last_reminder_sent_at, is_overdue, overdue_notification_sent, created_by, assigned_to_user_id, created_at, updated_at, version`

const closureColumns = `id, action_id, status, requires_upper_approval, requested_by, closure_description, evidence_files,
reviewed_by, review_notes, reviewed_at, upper_approved_by, upper_review_notes, upper_reviewed_at, created_at, updated_at, version`

func (s *Store) GetAction(ctx context.Context, id int64) (types.Action, bool, error) {
	return getAction(ctx, s.db, id)
}

func (s *Store) ListActions(ctx context.Context, filter ledger.ActionFilter) ([]types.Action, error) {
	where := []string{}
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make(pq.StringArray, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		where = append(where, "status = ANY("+next(statuses)+")")
	}
	if filter.AssignedTo != nil {
		where = append(where, "assigned_to_user_id = "+next(*filter.AssignedTo))
	}
	if filter.CreatedBy != nil {
		where = append(where, "created_by = "+next(*filter.CreatedBy))
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date < "+next(filter.DueBefore.Format(time.DateOnly))+"::date")
	}
	if filter.DueOnOrAfter != nil {
		where = append(where, "due_date >= "+next(filter.DueOnOrAfter.Format(time.DateOnly))+"::date")
	}
	if filter.IsOverdue != nil {
		where = append(where, "is_overdue = "+next(*filter.IsOverdue))
	}

	q := `SELECT ` + actionColumns + ` FROM takipus_actions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"
	if filter.Limit > 0 {
		q += " LIMIT " + next(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetClosure(ctx context.Context, id int64) (types.ActionClosure, bool, error) {
	return getClosure(ctx, s.db, `WHERE id = $1`, id)
}

func (s *Store) ListClosures(ctx context.Context, actionID int64) ([]types.ActionClosure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+closureColumns+` FROM takipus_action_closures WHERE action_id = $1 ORDER BY id ASC`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.ActionClosure{}
	for rows.Next() {
		c, err := scanClosure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) PutNotification(ctx context.Context, rec ledger.NotificationRecord) error {
	if rec.ID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO takipus_notifications(id, user_id, type, title, message, related_type, related_id, is_read, read_at, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT(id) DO UPDATE SET
  is_read=EXCLUDED.is_read,
  read_at=EXCLUDED.read_at`,
		rec.ID, rec.UserID, string(rec.Type), rec.Title, rec.Message, rec.RelatedType, rec.RelatedID, rec.IsRead, rec.ReadAt, rec.CreatedAt,
	)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]ledger.NotificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, user_id, type, title, message, related_type, related_id, is_read, read_at, created_at
FROM takipus_notifications WHERE user_id = $1`
	if unreadOnly {
		q += " AND NOT is_read"
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT $2"

	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.NotificationRecord{}
	for rows.Next() {
		var (
			rec    ledger.NotificationRecord
			typ    string
			readAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &typ, &rec.Title, &rec.Message, &rec.RelatedType, &rec.RelatedID, &rec.IsRead, &readAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Type = types.NotificationType(typ)
		rec.ReadAt = timePtr(readAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, userID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE takipus_notifications SET is_read = TRUE, read_at = COALESCE(read_at, $1) WHERE id = $2 AND user_id = $3`,
		at, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const outboxColumns = `id, notification_id, user_id, payload_json::text, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func (s *Store) PutPushOutbox(ctx context.Context, rec ledger.PushOutboxRecord) error {
	if rec.ID == "" {
		return ledger.ErrMissingID
	}
	if !json.Valid(rec.PayloadJSON) {
		return errors.New("invalid payload_json")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO takipus_push_outbox(id, notification_id, user_id, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES($1,$2,$3,$4::jsonb,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT(id) DO UPDATE SET
  status=EXCLUDED.status,
  attempt_count=EXCLUDED.attempt_count,
  next_attempt_at=EXCLUDED.next_attempt_at,
  last_error=EXCLUDED.last_error,
  sent_at=EXCLUDED.sent_at,
  updated_at=EXCLUDED.updated_at`,
		rec.ID, rec.NotificationID, rec.UserID, string(rec.PayloadJSON), rec.Status, rec.AttemptCount,
		rec.NextAttemptAt, rec.LastError, rec.SentAt, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *Store) GetPushOutbox(ctx context.Context, id string) (ledger.PushOutboxRecord, bool, error) {
	rec, err := scanOutbox(s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM takipus_push_outbox WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PushOutboxRecord{}, false, nil
	}
	if err != nil {
		return ledger.PushOutboxRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListPushOutboxDue(ctx context.Context, now time.Time, limit int) ([]ledger.PushOutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+`
FROM takipus_push_outbox
WHERE status = 'pending' AND next_attempt_at <= $1
ORDER BY created_at ASC
LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.PushOutboxRecord{}
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutAudit(ctx context.Context, rec ledger.AuditRecord) error {
	if rec.ID == "" {
		return ledger.ErrMissingID
	}
	for _, raw := range [][]byte{rec.OldValues, rec.NewValues} {
		if raw != nil && !json.Valid(raw) {
			return errors.New("invalid audit values json")
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO takipus_audit_logs(id, op, resource_type, resource_id, old_values, new_values, digest, user_id, created_at)
VALUES($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7,$8,$9)`,
		rec.ID, string(rec.Op), rec.ResourceType, rec.ResourceID, jsonArg(rec.OldValues), jsonArg(rec.NewValues), rec.Digest, rec.UserID, rec.CreatedAt,
	)
	return err
}

func (s *Store) ListAudit(ctx context.Context, resourceType string, resourceID int64) ([]ledger.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, op, resource_type, resource_id, old_values::text, new_values::text, digest, user_id, created_at
FROM takipus_audit_logs WHERE resource_type = $1 AND resource_id = $2 ORDER BY created_at ASC, id ASC`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.AuditRecord{}
	for rows.Next() {
		var (
			rec              ledger.AuditRecord
			op               string
			oldVals, newVals sql.NullString
			userID           sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &op, &rec.ResourceType, &rec.ResourceID, &oldVals, &newVals, &rec.Digest, &userID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Op = types.AuditOp(op)
		if oldVals.Valid {
			rec.OldValues = []byte(oldVals.String)
		}
		if newVals.Valid {
			rec.NewValues = []byte(newVals.String)
		}
		rec.UserID = int64Ptr(userID)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutTimeline(ctx context.Context, rec ledger.TimelineRecord) error {
	if rec.ID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO takipus_action_timeline(id, action_id, event_type, user_id, title, description, created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.ActionID, rec.EventType, rec.UserID, rec.Title, rec.Description, rec.CreatedAt)
	return err
}

func (s *Store) ListTimeline(ctx context.Context, actionID int64) ([]ledger.TimelineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action_id, event_type, user_id, title, description, created_at
FROM takipus_action_timeline WHERE action_id = $1 ORDER BY created_at ASC, id ASC`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.TimelineRecord{}
	for rows.Next() {
		var (
			rec    ledger.TimelineRecord
			userID sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.ActionID, &rec.EventType, &userID, &rec.Title, &rec.Description, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.UserID = int64Ptr(userID)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutChecklist(ctx context.Context, rec ledger.ChecklistRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO takipus_checklists(id, name, general_responsible_id) VALUES($1,$2,$3)
ON CONFLICT(id) DO UPDATE SET name=EXCLUDED.name, general_responsible_id=EXCLUDED.general_responsible_id`,
		rec.ID, rec.Name, rec.GeneralResponsibleID)
	return err
}

func (s *Store) GetChecklist(ctx context.Context, id int64) (ledger.ChecklistRecord, bool, error) {
	var (
		rec         ledger.ChecklistRecord
		responsible sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, general_responsible_id FROM takipus_checklists WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Name, &responsible)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ChecklistRecord{}, false, nil
	}
	if err != nil {
		return ledger.ChecklistRecord{}, false, err
	}
	rec.GeneralResponsibleID = int64Ptr(responsible)
	return rec, true, nil
}

func (s *Store) PutFieldTour(ctx context.Context, rec ledger.FieldTourRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO takipus_field_tours(id, checklist_id) VALUES($1,$2) ON CONFLICT(id) DO UPDATE SET checklist_id=EXCLUDED.checklist_id`,
		rec.ID, rec.ChecklistID)
	return err
}

func (s *Store) GetFieldTour(ctx context.Context, id int64) (ledger.FieldTourRecord, bool, error) {
	var rec ledger.FieldTourRecord
	err := s.db.QueryRowContext(ctx, `SELECT id, checklist_id FROM takipus_field_tours WHERE id = $1`, id).Scan(&rec.ID, &rec.ChecklistID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.FieldTourRecord{}, false, nil
	}
	if err != nil {
		return ledger.FieldTourRecord{}, false, err
	}
	return rec, true, nil
}

type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *Tx) GetAction(id int64) (types.Action, bool, error) {
	return getAction(t.ctx, t.tx, id)
}

func (t *Tx) CreateAction(a *types.Action) error {
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO takipus_actions(code, company_id, title, description, location, source_type, field_tour_id, upper_approver_id,
risk_probability, risk_severity, risk_score, risk_level, priority, status, completed_at, due_date, due_date_reminder_days,
last_reminder_sent_at, is_overdue, overdue_notification_sent, created_by, assigned_to_user_id, created_at, updated_at, version)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16::date,$17,$18,$19,$20,$21,$22,$23,$24,1)
RETURNING id`,
		nullString(a.Code), a.CompanyID, a.Title, a.Description, a.Location, string(a.SourceType), a.FieldTourID, a.UpperApproverID,
		a.RiskProbability, a.RiskSeverity, a.RiskScore, string(a.RiskLevel), string(a.Priority), string(a.Status), a.CompletedAt,
		dateArg(a.DueDate), intArray(a.ReminderDays), a.LastReminderSentAt, a.IsOverdue, a.OverdueNotificationSent,
		a.CreatedBy, a.AssignedToUserID, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	a.Version = 1
	return nil
}

func (t *Tx) UpdateAction(a *types.Action) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE takipus_actions SET code=$1, company_id=$2, title=$3, description=$4, location=$5, source_type=$6, field_tour_id=$7,
upper_approver_id=$8, risk_probability=$9, risk_severity=$10, risk_score=$11, risk_level=$12, priority=$13, status=$14,
completed_at=$15, due_date=$16::date, due_date_reminder_days=$17, last_reminder_sent_at=$18, is_overdue=$19,
overdue_notification_sent=$20, assigned_to_user_id=$21, updated_at=$22, version=version+1
WHERE id = $23 AND version = $24`,
		nullString(a.Code), a.CompanyID, a.Title, a.Description, a.Location, string(a.SourceType), a.FieldTourID,
		a.UpperApproverID, a.RiskProbability, a.RiskSeverity, a.RiskScore, string(a.RiskLevel), string(a.Priority), string(a.Status),
		a.CompletedAt, dateArg(a.DueDate), intArray(a.ReminderDays), a.LastReminderSentAt, a.IsOverdue,
		a.OverdueNotificationSent, a.AssignedToUserID, a.UpdatedAt,
		a.ID, a.Version,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}
	a.Version++
	return nil
}

func (t *Tx) GetClosure(id int64) (types.ActionClosure, bool, error) {
	return getClosure(t.ctx, t.tx, `WHERE id = $1`, id)
}

func (t *Tx) GetActiveClosure(actionID int64) (types.ActionClosure, bool, error) {
	return getClosure(t.ctx, t.tx, `WHERE action_id = $1 AND status IN ('pending', 'first_approved') ORDER BY id DESC LIMIT 1 FOR UPDATE`, actionID)
}

func (t *Tx) CreateClosure(c *types.ActionClosure) error {
	evidence := pq.StringArray(c.EvidenceFiles)
	if evidence == nil {
		evidence = pq.StringArray{}
	}
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO takipus_action_closures(action_id, status, requires_upper_approval, requested_by, closure_description, evidence_files,
reviewed_by, review_notes, reviewed_at, upper_approved_by, upper_review_notes, upper_reviewed_at, created_at, updated_at, version)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
RETURNING id`,
		c.ActionID, string(c.Status), c.RequiresUpperApproval, c.RequestedBy, c.ClosureDescription, evidence,
		c.ReviewedBy, c.ReviewNotes, c.ReviewedAt, c.UpperApprovedBy, c.UpperReviewNotes, c.UpperReviewedAt, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		return mapWriteErr(err)
	}
	c.Version = 1
	return nil
}

func (t *Tx) UpdateClosure(c *types.ActionClosure) error {
	evidence := pq.StringArray(c.EvidenceFiles)
	if evidence == nil {
		evidence = pq.StringArray{}
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE takipus_action_closures SET status=$1, requires_upper_approval=$2, closure_description=$3, evidence_files=$4,
reviewed_by=$5, review_notes=$6, reviewed_at=$7, upper_approved_by=$8, upper_review_notes=$9, upper_reviewed_at=$10,
updated_at=$11, version=version+1
WHERE id = $12 AND version = $13`,
		string(c.Status), c.RequiresUpperApproval, c.ClosureDescription, evidence,
		c.ReviewedBy, c.ReviewNotes, c.ReviewedAt, c.UpperApprovedBy, c.UpperReviewNotes, c.UpperReviewedAt,
		c.UpdatedAt, c.ID, c.Version,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}
	c.Version++
	return nil
}

func getAction(ctx context.Context, q querier, id int64) (types.Action, bool, error) {
	a, err := scanAction(q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM takipus_actions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Action{}, false, nil
	}
	if err != nil {
		return types.Action{}, false, err
	}
	return a, true, nil
}

func getClosure(ctx context.Context, q querier, where string, arg any) (types.ActionClosure, bool, error) {
	c, err := scanClosure(q.QueryRowContext(ctx, `SELECT `+closureColumns+` FROM takipus_action_closures `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return types.ActionClosure{}, false, nil
	}
	if err != nil {
		return types.ActionClosure{}, false, err
	}
	return c, true, nil
}

func scanAction(row scanner) (types.Action, error) {
	var (
		a                               types.Action
		code                            sql.NullString
		sourceType, level, priority, st string
		fieldTour, upper, assignee      sql.NullInt64
		completedAt, dueDate, last      sql.NullTime
		days                            pq.Int64Array
	)
	if err := row.Scan(
		&a.ID, &code, &a.CompanyID, &a.Title, &a.Description, &a.Location, &sourceType, &fieldTour, &upper,
		&a.RiskProbability, &a.RiskSeverity, &a.RiskScore, &level, &priority, &st, &completedAt, &dueDate, &days,
		&last, &a.IsOverdue, &a.OverdueNotificationSent, &a.CreatedBy, &assignee, &a.CreatedAt, &a.UpdatedAt, &a.Version,
	); err != nil {
		return types.Action{}, err
	}
	a.Code = code.String
	a.SourceType = types.SourceType(sourceType)
	a.RiskLevel = types.RiskLevel(level)
	a.Priority = types.Priority(priority)
	a.Status = types.ActionStatus(st)
	a.FieldTourID = int64Ptr(fieldTour)
	a.UpperApproverID = int64Ptr(upper)
	a.AssignedToUserID = int64Ptr(assignee)
	a.CompletedAt = timePtr(completedAt)
	a.LastReminderSentAt = timePtr(last)
	if dueDate.Valid {
		d := ledger.DateOnly(dueDate.Time)
		a.DueDate = &d
	}
	if days != nil {
		list := make([]int, 0, len(days))
		for _, d := range days {
			list = append(list, int(d))
		}
		normalized, err := ledger.NormalizeReminderDays(list)
		if err != nil {
			return types.Action{}, err
		}
		a.ReminderDays = normalized
	}
	return a, nil
}

func scanClosure(row scanner) (types.ActionClosure, error) {
	var (
		c                   types.ActionClosure
		st                  string
		evidence            pq.StringArray
		reviewedBy, upperBy sql.NullInt64
		notes, upperNotes   sql.NullString
		reviewedAt, upperAt sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.ActionID, &st, &c.RequiresUpperApproval, &c.RequestedBy, &c.ClosureDescription, &evidence,
		&reviewedBy, &notes, &reviewedAt, &upperBy, &upperNotes, &upperAt, &c.CreatedAt, &c.UpdatedAt, &c.Version,
	); err != nil {
		return types.ActionClosure{}, err
	}
	c.Status = types.ClosureStatus(st)
	c.EvidenceFiles = []string(evidence)
	if c.EvidenceFiles == nil {
		c.EvidenceFiles = []string{}
	}
	c.ReviewedBy = int64Ptr(reviewedBy)
	c.UpperApprovedBy = int64Ptr(upperBy)
	c.ReviewNotes = stringPtr(notes)
	c.UpperReviewNotes = stringPtr(upperNotes)
	c.ReviewedAt = timePtr(reviewedAt)
	c.UpperReviewedAt = timePtr(upperAt)
	return c, nil
}

func scanOutbox(row scanner) (ledger.PushOutboxRecord, error) {
	var (
		rec     ledger.PushOutboxRecord
		payload string
		lastErr sql.NullString
		sentAt  sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.NotificationID, &rec.UserID, &payload, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &lastErr, &sentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.PushOutboxRecord{}, err
	}
	rec.PayloadJSON = []byte(payload)
	rec.LastError = stringPtr(lastErr)
	rec.SentAt = timePtr(sentAt)
	return rec, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrStaleWrite
	}
	return nil
}

func mapWriteErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ledger.ErrConflict, pqErr.Constraint)
	}
	return err
}

func intArray(days []int) any {
	if days == nil {
		return nil
	}
	out := make(pq.Int64Array, 0, len(days))
	for _, d := range days {
		out = append(out, int64(d))
	}
	return out
}

func dateArg(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}

func jsonArg(raw []byte) *string {
	if raw == nil {
		return nil
	}
	s := string(raw)
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
