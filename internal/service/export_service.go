package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/export"
	"github.com/noah-isme/bimbel-adp-api/pkg/storage"
)

type exportPaymentReader interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type exportPayrollReader interface {
	FindByID(ctx context.Context, id string) (*models.PayrollRecord, error)
}

type exportTeacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	ExpiresAt    time.Time
}

// ExportService renders payment ledgers and payslips and persists the files
// behind signed download URLs.
type ExportService struct {
	payments exportPaymentReader
	payrolls exportPayrollReader
	teachers exportTeacherReader
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(payments exportPaymentReader, payrolls exportPayrollReader, teachers exportTeacherReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		payments: payments,
		payrolls: payrolls,
		teachers: teachers,
		storage:  files,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
}

// ExportPayments renders the filtered payment ledger as CSV and stores it.
func (s *ExportService) ExportPayments(ctx context.Context, filter models.PaymentFilter) (*ExportResult, error) {
	filter.Page = 1
	if filter.PageSize <= 0 || filter.PageSize > 10000 {
		filter.PageSize = 10000
	}
	payments, _, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments for export")
	}

	headers := []string{"ID", "Kind", "Method", "Amount", "Currency", "Status", "External Reference", "Paid At", "Created At"}
	rows := make([]map[string]string, 0, len(payments))
	for _, p := range payments {
		rows = append(rows, map[string]string{
			"ID":                 p.ID,
			"Kind":               string(p.Kind),
			"Method":             string(p.Method),
			"Amount":             fmt.Sprintf("%d", p.Amount),
			"Currency":           p.Currency,
			"Status":             string(p.Status),
			"External Reference": p.ExternalReference,
			"Paid At":            formatExportTime(p.PaidAt),
			"Created At":         p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	payload, err := s.csv.Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render payment export")
	}

	filename := fmt.Sprintf("payments_%s.csv", time.Now().UTC().Format("20060102_150405"))
	return s.store("payments", filename, payload)
}

// ExportPayslip renders one payroll record as a PDF payslip.
func (s *ExportService) ExportPayslip(ctx context.Context, payrollID string) (*ExportResult, error) {
	record, err := s.payrolls.FindByID(ctx, payrollID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "payroll record not found")
	}
	teacherName := record.TeacherID
	if teacher, err := s.teachers.FindByID(ctx, record.TeacherID); err == nil {
		teacherName = teacher.FullName
	}

	dataset := export.Dataset{
		Headers: []string{"Item", "Value"},
		Rows: []map[string]string{
			{"Item": "Teacher", "Value": teacherName},
			{"Item": "Period", "Value": fmt.Sprintf("%04d-%02d", record.Year, record.Month)},
			{"Item": "Credit Units", "Value": fmt.Sprintf("%.2f", record.CreditUnits)},
			{"Item": "Rate Per Unit", "Value": fmt.Sprintf("%d", record.RatePerUnit)},
			{"Item": "Base Pay", "Value": fmt.Sprintf("%d", record.BasePay)},
			{"Item": "Incentive", "Value": fmt.Sprintf("%d", record.Incentive)},
			{"Item": "Deduction", "Value": fmt.Sprintf("%d", record.Deduction)},
			{"Item": "Net Total", "Value": fmt.Sprintf("%d", record.NetTotal)},
			{"Item": "Status", "Value": string(record.Status)},
		},
	}

	title := fmt.Sprintf("Payslip %s %04d-%02d", teacherName, record.Year, record.Month)
	payload, err := s.pdf.Render(dataset, title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render payslip")
	}

	filename := fmt.Sprintf("payslip_%s_%04d%02d.pdf", sanitizeFilename(record.TeacherID), record.Year, record.Month)
	return s.store(record.ID, filename, payload)
}

func (s *ExportService) store(jobID, filename string, payload []byte) (*ExportResult, error) {
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export file")
	}

	token, expiresAt, err := s.signer.Generate(jobID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL
// when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatExportTime(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
