package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/pkg/types"
)

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = tx.Rollback()
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
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
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
	if len(filter.Statuses) > 0 {
		marks := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			marks = append(marks, "?")
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if filter.AssignedTo != nil {
		where = append(where, "assigned_to_user_id = ?")
		args = append(args, *filter.AssignedTo)
	}
	if filter.CreatedBy != nil {
		where = append(where, "created_by = ?")
		args = append(args, *filter.CreatedBy)
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, formatDate(*filter.DueBefore))
	}
	if filter.DueOnOrAfter != nil {
		where = append(where, "due_date IS NOT NULL AND due_date >= ?")
		args = append(args, formatDate(*filter.DueOnOrAfter))
	}
	if filter.IsOverdue != nil {
		where = append(where, "is_overdue = ?")
		args = append(args, boolToInt(*filter.IsOverdue))
	}

	q := `SELECT ` + actionColumns + ` FROM actions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
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
	return getClosure(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) ListClosures(ctx context.Context, actionID int64) ([]types.ActionClosure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+closureColumns+` FROM action_closures WHERE action_id = ? ORDER BY id ASC`, actionID)
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
		`INSERT INTO notifications(id, user_id, type, title, message, related_type, related_id, is_read, read_at, created_at)
VALUES(?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  is_read=excluded.is_read,
  read_at=excluded.read_at`,
		rec.ID,
		rec.UserID,
		string(rec.Type),
		rec.Title,
		rec.Message,
		rec.RelatedType,
		rec.RelatedID,
		boolToInt(rec.IsRead),
		formatTimePtr(rec.ReadAt),
		formatTime(rec.CreatedAt),
	)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]ledger.NotificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, user_id, type, title, message, related_type, related_id, is_read, read_at, created_at
FROM notifications WHERE user_id = ?`
	if unreadOnly {
		q += " AND is_read = 0"
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.NotificationRecord{}
	for rows.Next() {
		var (
			rec       ledger.NotificationRecord
			typ       string
			isRead    int
			readAt    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &typ, &rec.Title, &rec.Message, &rec.RelatedType, &rec.RelatedID, &isRead, &readAt, &createdAt); err != nil {
			return nil, err
		}
		rec.Type = types.NotificationType(typ)
		rec.IsRead = isRead != 0
		if rec.ReadAt, err = parseTimePtr(readAt); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, userID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?`,
		formatTime(at), id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) PutPushOutbox(ctx context.Context, rec ledger.PushOutboxRecord) error {
	if rec.ID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_outbox(id, notification_id, user_id, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  attempt_count=excluded.attempt_count,
  next_attempt_at=excluded.next_attempt_at,
  last_error=excluded.last_error,
  sent_at=excluded.sent_at,
  updated_at=excluded.updated_at`,
		rec.ID,
		rec.NotificationID,
		rec.UserID,
		string(rec.PayloadJSON),
		rec.Status,
		rec.AttemptCount,
		formatTime(rec.NextAttemptAt),
		rec.LastError,
		formatTimePtr(rec.SentAt),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	return err
}

const outboxColumns = `id, notification_id, user_id, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func (s *Store) GetPushOutbox(ctx context.Context, id string) (ledger.PushOutboxRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM push_outbox WHERE id = ?`, id)
	rec, err := scanOutbox(row)
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
FROM push_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`, formatTime(now), limit)
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs(id, op, resource_type, resource_id, old_values, new_values, digest, user_id, created_at)
VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.ID,
		string(rec.Op),
		rec.ResourceType,
		rec.ResourceID,
		nullBytes(rec.OldValues),
		nullBytes(rec.NewValues),
		rec.Digest,
		rec.UserID,
		formatTime(rec.CreatedAt),
	)
	return err
}

func (s *Store) ListAudit(ctx context.Context, resourceType string, resourceID int64) ([]ledger.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, op, resource_type, resource_id, old_values, new_values, digest, user_id, created_at
FROM audit_logs WHERE resource_type = ? AND resource_id = ? ORDER BY created_at ASC, rowid ASC`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.AuditRecord{}
	for rows.Next() {
		var (
			rec       ledger.AuditRecord
			op        string
			oldVals   sql.NullString
			newVals   sql.NullString
			userID    sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &op, &rec.ResourceType, &rec.ResourceID, &oldVals, &newVals, &rec.Digest, &userID, &createdAt); err != nil {
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
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutTimeline(ctx context.Context, rec ledger.TimelineRecord) error {
	if rec.ID == "" {
		return ledger.ErrMissingID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_timeline(id, action_id, event_type, user_id, title, description, created_at) VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.ActionID, rec.EventType, rec.UserID, rec.Title, rec.Description, formatTime(rec.CreatedAt))
	return err
}

func (s *Store) ListTimeline(ctx context.Context, actionID int64) ([]ledger.TimelineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action_id, event_type, user_id, title, description, created_at
FROM action_timeline WHERE action_id = ? ORDER BY created_at ASC, rowid ASC`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.TimelineRecord{}
	for rows.Next() {
		var (
			rec       ledger.TimelineRecord
			userID    sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.ActionID, &rec.EventType, &userID, &rec.Title, &rec.Description, &createdAt); err != nil {
			return nil, err
		}
		rec.UserID = int64Ptr(userID)
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutChecklist(ctx context.Context, rec ledger.ChecklistRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checklists(id, name, general_responsible_id) VALUES(?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, general_responsible_id=excluded.general_responsible_id`,
		rec.ID, rec.Name, rec.GeneralResponsibleID)
	return err
}

func (s *Store) GetChecklist(ctx context.Context, id int64) (ledger.ChecklistRecord, bool, error) {
	var (
		rec         ledger.ChecklistRecord
		responsible sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, general_responsible_id FROM checklists WHERE id = ?`, id).
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
		`INSERT INTO field_tours(id, checklist_id) VALUES(?,?) ON CONFLICT(id) DO UPDATE SET checklist_id=excluded.checklist_id`,
		rec.ID, rec.ChecklistID)
	return err
}

func (s *Store) GetFieldTour(ctx context.Context, id int64) (ledger.FieldTourRecord, bool, error) {
	var rec ledger.FieldTourRecord
	err := s.db.QueryRowContext(ctx, `SELECT id, checklist_id FROM field_tours WHERE id = ?`, id).Scan(&rec.ID, &rec.ChecklistID)
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
	days, err := ledger.EncodeIntList(a.ReminderDays)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO actions(code, company_id, title, description, location, source_type, field_tour_id, upper_approver_id,
risk_probability, risk_severity, risk_score, risk_level, priority, status, completed_at, due_date, due_date_reminder_days,
last_reminder_sent_at, is_overdue, overdue_notification_sent, created_by, assigned_to_user_id, created_at, updated_at, version)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		nullString(a.Code),
		a.CompanyID,
		a.Title,
		a.Description,
		a.Location,
		string(a.SourceType),
		a.FieldTourID,
		a.UpperApproverID,
		a.RiskProbability,
		a.RiskSeverity,
		a.RiskScore,
		string(a.RiskLevel),
		string(a.Priority),
		string(a.Status),
		formatTimePtr(a.CompletedAt),
		formatDatePtr(a.DueDate),
		days,
		formatTimePtr(a.LastReminderSentAt),
		boolToInt(a.IsOverdue),
		boolToInt(a.OverdueNotificationSent),
		a.CreatedBy,
		a.AssignedToUserID,
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		return mapWriteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	a.Version = 1
	return nil
}

func (t *Tx) UpdateAction(a *types.Action) error {
	days, err := ledger.EncodeIntList(a.ReminderDays)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE actions SET code=?, company_id=?, title=?, description=?, location=?, source_type=?, field_tour_id=?, upper_approver_id=?,
risk_probability=?, risk_severity=?, risk_score=?, risk_level=?, priority=?, status=?, completed_at=?, due_date=?, due_date_reminder_days=?,
last_reminder_sent_at=?, is_overdue=?, overdue_notification_sent=?, assigned_to_user_id=?, updated_at=?, version=version+1
WHERE id = ? AND version = ?`,
		nullString(a.Code),
		a.CompanyID,
		a.Title,
		a.Description,
		a.Location,
		string(a.SourceType),
		a.FieldTourID,
		a.UpperApproverID,
		a.RiskProbability,
		a.RiskSeverity,
		a.RiskScore,
		string(a.RiskLevel),
		string(a.Priority),
		string(a.Status),
		formatTimePtr(a.CompletedAt),
		formatDatePtr(a.DueDate),
		days,
		formatTimePtr(a.LastReminderSentAt),
		boolToInt(a.IsOverdue),
		boolToInt(a.OverdueNotificationSent),
		a.AssignedToUserID,
		formatTime(a.UpdatedAt),
		a.ID,
		a.Version,
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
	return getClosure(t.ctx, t.tx, `WHERE id = ?`, id)
}

func (t *Tx) GetActiveClosure(actionID int64) (types.ActionClosure, bool, error) {
	return getClosure(t.ctx, t.tx, `WHERE action_id = ? AND status IN ('pending', 'first_approved') ORDER BY id DESC LIMIT 1`, actionID)
}

func (t *Tx) CreateClosure(c *types.ActionClosure) error {
	evidence, err := ledger.EncodeStringList(c.EvidenceFiles)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO action_closures(action_id, status, requires_upper_approval, requested_by, closure_description, evidence_files,
reviewed_by, review_notes, reviewed_at, upper_approved_by, upper_review_notes, upper_reviewed_at, created_at, updated_at, version)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		c.ActionID,
		string(c.Status),
		boolToInt(c.RequiresUpperApproval),
		c.RequestedBy,
		c.ClosureDescription,
		evidence,
		c.ReviewedBy,
		c.ReviewNotes,
		formatTimePtr(c.ReviewedAt),
		c.UpperApprovedBy,
		c.UpperReviewNotes,
		formatTimePtr(c.UpperReviewedAt),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return mapWriteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	c.Version = 1
	return nil
}

func (t *Tx) UpdateClosure(c *types.ActionClosure) error {
	evidence, err := ledger.EncodeStringList(c.EvidenceFiles)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE action_closures SET status=?, requires_upper_approval=?, closure_description=?, evidence_files=?,
reviewed_by=?, review_notes=?, reviewed_at=?, upper_approved_by=?, upper_review_notes=?, upper_reviewed_at=?, updated_at=?, version=version+1
WHERE id = ? AND version = ?`,
		string(c.Status),
		boolToInt(c.RequiresUpperApproval),
		c.ClosureDescription,
		evidence,
		c.ReviewedBy,
		c.ReviewNotes,
		formatTimePtr(c.ReviewedAt),
		c.UpperApprovedBy,
		c.UpperReviewNotes,
		formatTimePtr(c.UpperReviewedAt),
		formatTime(c.UpdatedAt),
		c.ID,
		c.Version,
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
	a, err := scanAction(q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Action{}, false, nil
	}
	if err != nil {
		return types.Action{}, false, err
	}
	return a, true, nil
}

func getClosure(ctx context.Context, q querier, where string, arg any) (types.ActionClosure, bool, error) {
	c, err := scanClosure(q.QueryRowContext(ctx, `SELECT `+closureColumns+` FROM action_closures `+where, arg))
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
		a                                types.Action
		code                             sql.NullString
		sourceType, level, priority, st  string
		fieldTour, upper, assignee       sql.NullInt64
		completedAt, dueDate, days, last sql.NullString
		isOverdue, overdueSent           int
		createdAt, updatedAt             string
	)
	if err := row.Scan(
		&a.ID, &code, &a.CompanyID, &a.Title, &a.Description, &a.Location, &sourceType, &fieldTour, &upper,
		&a.RiskProbability, &a.RiskSeverity, &a.RiskScore, &level, &priority, &st, &completedAt, &dueDate, &days,
		&last, &isOverdue, &overdueSent, &a.CreatedBy, &assignee, &createdAt, &updatedAt, &a.Version,
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
	a.IsOverdue = isOverdue != 0
	a.OverdueNotificationSent = overdueSent != 0

	var err error
	if a.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return types.Action{}, err
	}
	if a.LastReminderSentAt, err = parseTimePtr(last); err != nil {
		return types.Action{}, err
	}
	if dueDate.Valid {
		d, err := time.Parse(time.DateOnly, dueDate.String)
		if err != nil {
			return types.Action{}, fmt.Errorf("parse due_date: %w", err)
		}
		a.DueDate = &d
	}
	if days.Valid {
		raw := days.String
		if a.ReminderDays, err = ledger.DecodeIntList(&raw); err != nil {
			return types.Action{}, err
		}
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.Action{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.Action{}, err
	}
	return a, nil
}

func scanClosure(row scanner) (types.ActionClosure, error) {
	var (
		c                    types.ActionClosure
		st, evidence         string
		upperFlag            int
		reviewedBy, upperBy  sql.NullInt64
		notes, upperNotes    sql.NullString
		reviewedAt, upperAt  sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&c.ID, &c.ActionID, &st, &upperFlag, &c.RequestedBy, &c.ClosureDescription, &evidence,
		&reviewedBy, &notes, &reviewedAt, &upperBy, &upperNotes, &upperAt, &createdAt, &updatedAt, &c.Version,
	); err != nil {
		return types.ActionClosure{}, err
	}
	c.Status = types.ClosureStatus(st)
	c.RequiresUpperApproval = upperFlag != 0
	c.ReviewedBy = int64Ptr(reviewedBy)
	c.UpperApprovedBy = int64Ptr(upperBy)
	c.ReviewNotes = stringPtr(notes)
	c.UpperReviewNotes = stringPtr(upperNotes)

	var err error
	if c.EvidenceFiles, err = ledger.DecodeStringList(evidence); err != nil {
		return types.ActionClosure{}, err
	}
	if c.ReviewedAt, err = parseTimePtr(reviewedAt); err != nil {
		return types.ActionClosure{}, err
	}
	if c.UpperReviewedAt, err = parseTimePtr(upperAt); err != nil {
		return types.ActionClosure{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.ActionClosure{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.ActionClosure{}, err
	}
	return c, nil
}

func scanOutbox(row scanner) (ledger.PushOutboxRecord, error) {
	var (
		rec                  ledger.PushOutboxRecord
		payload, nextAt      string
		sentAt               sql.NullString
		lastErr              sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.NotificationID, &rec.UserID, &payload, &rec.Status, &rec.AttemptCount, &nextAt, &lastErr, &sentAt, &createdAt, &updatedAt); err != nil {
		return ledger.PushOutboxRecord{}, err
	}
	rec.PayloadJSON = []byte(payload)
	rec.LastError = stringPtr(lastErr)

	var err error
	if rec.NextAttemptAt, err = parseTime(nextAt); err != nil {
		return ledger.PushOutboxRecord{}, err
	}
	if rec.SentAt, err = parseTimePtr(sentAt); err != nil {
		return ledger.PushOutboxRecord{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.PushOutboxRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ledger.PushOutboxRecord{}, err
	}
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
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	}
	return err
}

// Timestamps are stored as fixed-width UTC text so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDate(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
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

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullBytes(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
