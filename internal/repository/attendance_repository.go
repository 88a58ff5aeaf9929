package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
)

// AttendanceRepository handles teaching sessions.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const sessionColumns = `id, teacher_id, subject, date, status, credit_units, notes, created_at, updated_at`

// Upsert writes one teaching session, keyed by teacher and date. A second
// mark for the same day overwrites the first.
func (r *AttendanceRepository) Upsert(ctx context.Context, session *models.TeachingSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO teaching_sessions (` + sessionColumns + `)
        VALUES (:id, :teacher_id, :subject, :date, :status, :credit_units, :notes, :created_at, :updated_at)
        ON CONFLICT (teacher_id, date) DO UPDATE SET
            subject = EXCLUDED.subject,
            status = EXCLUDED.status,
            credit_units = EXCLUDED.credit_units,
            notes = EXCLUDED.notes,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("upsert teaching session: %w", err)
	}
	return nil
}

// UpsertTx is Upsert inside the caller's transaction, used by atomic bulk
// marking.
func (r *AttendanceRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, session *models.TeachingSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO teaching_sessions (` + sessionColumns + `)
        VALUES (:id, :teacher_id, :subject, :date, :status, :credit_units, :notes, :created_at, :updated_at)
        ON CONFLICT (teacher_id, date) DO UPDATE SET
            subject = EXCLUDED.subject,
            status = EXCLUDED.status,
            credit_units = EXCLUDED.credit_units,
            notes = EXCLUDED.notes,
            updated_at = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("upsert teaching session: %w", err)
	}
	return nil
}

// FindByID returns one session by its ID.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.TeachingSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM teaching_sessions WHERE id = $1`
	var session models.TeachingSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions filtered by the provided criteria.
func (r *AttendanceRepository) List(ctx context.Context, filter models.TeachingSessionFilter) ([]models.TeachingSession, int, error) {
	base := "FROM teaching_sessions"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT "+sessionColumns+" %s ORDER BY date %s LIMIT %d OFFSET %d",
		base+clause, order, size, offset)

	var sessions []models.TeachingSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teaching sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count teaching sessions: %w", err)
	}
	return sessions, total, nil
}
