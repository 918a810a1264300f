package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmarchetti/studio-api/internal/models"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
	"github.com/nmarchetti/studio-api/pkg/export"
	"github.com/nmarchetti/studio-api/pkg/storage"
)

// Fixed column orders. Downstream spreadsheet tooling matches by position,
// so these never change without a coordinated migration.
var (
	attendanceReportHeaders = []string{"student_id", "student_name", "classes_held", "classes_attended", "attendance_pct"}
	creditHistoryHeaders    = []string{"created_at", "student_id", "credit_type", "change_amount", "new_balance", "description", "payment_method", "amount_paid"}
	financialReportHeaders  = []string{"payment_method", "payments", "total_paid"}
)

type reportAttendanceRepository interface {
	SummaryByStudent(ctx context.Context, from, to time.Time) ([]models.AttendanceSummary, error)
}

type reportLedgerRepository interface {
	Query(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error)
	PaymentSummary(ctx context.Context, from, to time.Time) ([]models.PaymentSummaryRow, error)
}

// ReportService builds attendance, credit history and financial reports and
// exports them as CSV or PDF files served through signed download URLs.
type ReportService struct {
	attendance reportAttendanceRepository
	ledger     reportLedgerRepository
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
	files      *storage.LocalStorage
	signer     *storage.SignedURLSigner
	retention  time.Duration
	timezone   *time.Location
	logger     *zap.Logger
}

// NewReportService constructs the service.
func NewReportService(
	attendance reportAttendanceRepository,
	ledger reportLedgerRepository,
	files *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	retention time.Duration,
	timezone *time.Location,
	logger *zap.Logger,
) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timezone == nil {
		timezone = time.UTC
	}
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &ReportService{
		attendance: attendance,
		ledger:     ledger,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		files:      files,
		signer:     signer,
		retention:  retention,
		timezone:   timezone,
		logger:     logger,
	}
}

// ExportRequest asks for one report over an inclusive range of studio-local
// calendar days.
type ExportRequest struct {
	Report    string `json:"report"`
	Format    string `json:"format"`
	FromDate  string `json:"from_date"`
	ToDate    string `json:"to_date"`
	StudentID string `json:"student_id,omitempty"`
}

// ExportResult points at the stored file through a signed token.
type ExportResult struct {
	ExportID  string    `json:"export_id"`
	FileName  string    `json:"file_name"`
	Format    string    `json:"format"`
	Rows      int       `json:"rows"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Export builds the requested report, stores the rendered file and returns
// a signed download token.
func (s *ReportService) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.Format != "csv" && req.Format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", req.Format))
	}

	dataset, title, err := s.buildDataset(ctx, req)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch req.Format {
	case "csv":
		payload, err = s.csv.Render(*dataset)
	case "pdf":
		payload, err = s.pdf.Render(*dataset, title)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render report")
	}

	exportID := uuid.NewString()
	fileName := fmt.Sprintf("%s_%s_%s_%s.%s", req.Report, req.FromDate, req.ToDate, exportID, req.Format)
	relPath, err := s.files.Save(fileName, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store report")
	}
	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign download url")
	}

	s.logger.Sugar().Infow("report exported",
		"report", req.Report, "format", req.Format, "rows", len(dataset.Rows), "export_id", exportID)
	return &ExportResult{
		ExportID:  exportID,
		FileName:  fileName,
		Format:    req.Format,
		Rows:      len(dataset.Rows),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *ReportService) buildDataset(ctx context.Context, req ExportRequest) (*export.Dataset, string, error) {
	switch req.Report {
	case "attendance":
		dataset, err := s.attendanceDataset(ctx, req)
		return dataset, "Attendance Report", err
	case "credit_history":
		dataset, err := s.creditHistoryDataset(ctx, req)
		return dataset, "Credit History", err
	case "financial":
		dataset, err := s.financialDataset(ctx, req)
		return dataset, "Financial Report", err
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report %q", req.Report))
	}
}

func (s *ReportService) attendanceDataset(ctx context.Context, req ExportRequest) (*export.Dataset, error) {
	from, err := parseLocalDate(req.FromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseLocalDate(req.ToDate)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}
	summaries, err := s.attendance.SummaryByStudent(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "attendance summary")
	}
	rows := make([]map[string]string, 0, len(summaries))
	for _, summary := range summaries {
		rows = append(rows, map[string]string{
			"student_id":       summary.StudentID,
			"student_name":     summary.StudentName,
			"classes_held":     strconv.Itoa(summary.Held),
			"classes_attended": strconv.Itoa(summary.Attended),
			"attendance_pct":   strconv.FormatFloat(summary.Percent, 'f', 1, 64),
		})
	}
	return &export.Dataset{Headers: attendanceReportHeaders, Rows: rows}, nil
}

func (s *ReportService) creditHistoryDataset(ctx context.Context, req ExportRequest) (*export.Dataset, error) {
	from, to, err := localDayWindow(s.timezone, req.FromDate, req.ToDate)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.Query(ctx, models.LedgerFilter{
		StudentID: req.StudentID,
		From:      &from,
		To:        &to,
		Limit:     500,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "query ledger")
	}
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		row := map[string]string{
			"created_at":    entry.CreatedAt.In(s.timezone).Format(time.RFC3339),
			"student_id":    entry.StudentID,
			"credit_type":   string(entry.CreditType),
			"change_amount": strconv.Itoa(entry.ChangeAmount),
			"new_balance":   strconv.Itoa(entry.NewBalance),
			"description":   entry.Description,
		}
		if entry.PaymentMethod != nil {
			row["payment_method"] = *entry.PaymentMethod
		}
		if entry.AmountPaid != nil {
			row["amount_paid"] = strconv.FormatFloat(*entry.AmountPaid, 'f', 2, 64)
		}
		rows = append(rows, row)
	}
	return &export.Dataset{Headers: creditHistoryHeaders, Rows: rows}, nil
}

func (s *ReportService) financialDataset(ctx context.Context, req ExportRequest) (*export.Dataset, error) {
	from, to, err := localDayWindow(s.timezone, req.FromDate, req.ToDate)
	if err != nil {
		return nil, err
	}
	summary, err := s.ledger.PaymentSummary(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "payment summary")
	}
	rows := make([]map[string]string, 0, len(summary))
	for _, row := range summary {
		rows = append(rows, map[string]string{
			"payment_method": row.PaymentMethod,
			"payments":       strconv.Itoa(row.Payments),
			"total_paid":     strconv.FormatFloat(row.TotalPaid, 'f', 2, 64),
		})
	}
	return &export.Dataset{Headers: financialReportHeaders, Rows: rows}, nil
}

// Download validates the signed token and opens the stored file. The caller
// owns the returned handle.
func (s *ReportService) Download(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid download token")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
	}
	return file, relPath, nil
}

// Cleanup deletes exports older than the retention window. Wired as a
// scheduler task.
func (s *ReportService) Cleanup(ctx context.Context) error {
	deleted, err := s.files.CleanupOlderThan(s.retention)
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		s.logger.Sugar().Infow("expired exports removed", "count", len(deleted))
	}
	return nil
}
