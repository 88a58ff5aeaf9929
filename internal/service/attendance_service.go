package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/pkg/database"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
)

type attendanceRepository interface {
	Upsert(ctx context.Context, session *models.TeachingSession) error
	UpsertTx(ctx context.Context, tx *sqlx.Tx, session *models.TeachingSession) error
	FindByID(ctx context.Context, id string) (*models.TeachingSession, error)
	List(ctx context.Context, filter models.TeachingSessionFilter) ([]models.TeachingSession, int, error)
}

type attendanceTeacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

// MarkSessionRequest records one teacher's attendance for a date. Marking
// the same teacher and date again overwrites the earlier entry.
type MarkSessionRequest struct {
	TeacherID   string  `json:"teacher_id" validate:"required"`
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	Status      string  `json:"status" validate:"required,oneof=PRESENT ABSENT EXCUSED SICK"`
	CreditUnits float64 `json:"credit_units" validate:"min=0,max=24"`
	Subject     *string `json:"subject,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// BulkMarkRequest records many sessions at once. Mode "atomic" rolls the
// whole batch back on the first bad row; "partialOnError" applies the good
// rows and reports the rest as conflicts.
type BulkMarkRequest struct {
	Mode     string               `json:"mode" validate:"omitempty,oneof=atomic partialOnError"`
	Sessions []MarkSessionRequest `json:"sessions" validate:"required,min=1,max=200,dive"`
}

// BulkMarkResult summarizes a bulk write.
type BulkMarkResult struct {
	Marked    []models.TeachingSession     `json:"marked"`
	Conflicts []models.SessionBulkConflict `json:"conflicts,omitempty"`
}

// AttendanceService records teaching sessions, the raw material payroll is
// computed from.
type AttendanceService struct {
	db        *sqlx.DB
	repo      attendanceRepository
	teachers  attendanceTeacherReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs an AttendanceService.
func NewAttendanceService(db *sqlx.DB, repo attendanceRepository, teachers attendanceTeacherReader, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		db:        db,
		repo:      repo,
		teachers:  teachers,
		validator: validate,
		logger:    logger,
	}
}

func (s *AttendanceService) buildSession(ctx context.Context, req MarkSessionRequest) (*models.TeachingSession, error) {
	status := models.SessionStatus(req.Status)
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported session status")
	}
	if status == models.SessionStatusPresent && req.CreditUnits <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "present sessions need credit units")
	}

	if _, err := s.teachers.FindByID(ctx, req.TeacherID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid session date")
	}

	units := req.CreditUnits
	if !status.CountsForPay() {
		units = 0
	}
	return &models.TeachingSession{
		TeacherID:   req.TeacherID,
		Subject:     req.Subject,
		Date:        date,
		Status:      status,
		CreditUnits: units,
		Notes:       req.Notes,
	}, nil
}

// Mark records a single session.
func (s *AttendanceService) Mark(ctx context.Context, req MarkSessionRequest) (*models.TeachingSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	session, err := s.buildSession(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record session")
	}
	return session, nil
}

// BulkMark records many sessions under the requested mode.
func (s *AttendanceService) BulkMark(ctx context.Context, req BulkMarkRequest) (*BulkMarkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	mode := models.BulkOperationMode(req.Mode)
	if mode == "" {
		mode = models.BulkModeAtomic
	}

	if mode == models.BulkModeAtomic {
		return s.bulkAtomic(ctx, req.Sessions)
	}
	return s.bulkPartial(ctx, req.Sessions)
}

func (s *AttendanceService) bulkAtomic(ctx context.Context, reqs []MarkSessionRequest) (*BulkMarkResult, error) {
	sessions := make([]*models.TeachingSession, 0, len(reqs))
	for _, r := range reqs {
		session, err := s.buildSession(ctx, r)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	err := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for _, session := range sessions {
			if err := s.repo.UpsertTx(ctx, tx, session); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record sessions")
	}

	result := BulkMarkResult{Marked: make([]models.TeachingSession, 0, len(sessions))}
	for _, session := range sessions {
		result.Marked = append(result.Marked, *session)
	}
	return &result, nil
}

func (s *AttendanceService) bulkPartial(ctx context.Context, reqs []MarkSessionRequest) (*BulkMarkResult, error) {
	result := BulkMarkResult{}
	for _, r := range reqs {
		conflict := func(reason string) {
			date, _ := time.ParseInLocation("2006-01-02", r.Date, time.UTC)
			result.Conflicts = append(result.Conflicts, models.SessionBulkConflict{
				TeacherID: r.TeacherID,
				Date:      date,
				Reason:    reason,
			})
		}

		session, err := s.buildSession(ctx, r)
		if err != nil {
			conflict(appErrors.FromError(err).Message)
			continue
		}
		if err := s.repo.Upsert(ctx, session); err != nil {
			s.logger.Warn("failed to record session in bulk",
				zap.String("teacher_id", r.TeacherID), zap.Error(err))
			conflict("failed to record session")
			continue
		}
		result.Marked = append(result.Marked, *session)
	}
	return &result, nil
}

// Get returns one teaching session.
func (s *AttendanceService) Get(ctx context.Context, id string) (*models.TeachingSession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// List returns sessions with pagination metadata.
func (s *AttendanceService) List(ctx context.Context, filter models.TeachingSessionFilter) ([]models.TeachingSession, *models.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
