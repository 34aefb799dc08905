package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-outpass-api/internal/models"
	"github.com/noah-isme/hostel-outpass-api/pkg/config"
	appErrors "github.com/noah-isme/hostel-outpass-api/pkg/errors"
	"github.com/noah-isme/hostel-outpass-api/pkg/export"
)

// importHeaders is the canonical column order for templates and result files.
var importHeaders = []string{"email", "full_name", "usn", "branch", "year", "block", "room", "phone", "parent_phone"}

// headerAliases maps common spreadsheet column spellings onto canonical names.
var headerAliases = map[string]string{
	"email":          "email",
	"email_address":  "email",
	"full_name":      "full_name",
	"fullname":       "full_name",
	"name":           "full_name",
	"student_name":   "full_name",
	"usn":            "usn",
	"usn_number":     "usn",
	"roll_no":        "usn",
	"branch":         "branch",
	"department":     "branch",
	"year":           "year",
	"block":          "block",
	"hostel_block":   "block",
	"room":           "room",
	"room_no":        "room",
	"phone":          "phone",
	"mobile":         "phone",
	"parent_phone":   "parent_phone",
	"parent_mobile":  "parent_phone",
	"guardian_phone": "parent_phone",
}

type pendingStudentStore interface {
	Create(ctx context.Context, ps *models.PendingStudent) error
	ListEmails(ctx context.Context) ([]string, error)
}

type importUserStore interface {
	ListEmails(ctx context.Context) ([]string, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type resultStorage interface {
	Save(filename string, data []byte) (string, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ImportService provisions student accounts in bulk from CSV rosters. Rows
// are processed strictly in order with a pause between writes so a large
// import never saturates the database; one bad row fails alone, the run
// continues.
type ImportService struct {
	pending  pendingStudentStore
	users    importUserStore
	exporter *export.CSVExporter
	pdf      *export.PDFExporter
	storage  resultStorage
	audit    auditLogger
	metrics  *MetricsService
	validate *validator.Validate
	cfg      config.ImportConfig
	logger   *zap.Logger
}

// NewImportService constructs the bulk import pipeline.
func NewImportService(pending pendingStudentStore, users importUserStore, storage resultStorage, audit auditLogger, metrics *MetricsService, cfg config.ImportConfig, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		pending:  pending,
		users:    users,
		exporter: export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		storage:  storage,
		audit:    audit,
		metrics:  metrics,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
	}
}

// Template renders the CSV roster template with one illustrative row.
func (s *ImportService) Template() ([]byte, error) {
	return s.exporter.Render(export.Dataset{
		Headers: importHeaders,
		Rows: []map[string]string{{
			"email":        "jane.obrien@college.edu",
			"full_name":    "Jane O'Brien",
			"usn":          "1XX22CS001",
			"branch":       "CSE",
			"year":         "2",
			"block":        "A",
			"room":         "214",
			"phone":        "9876543210",
			"parent_phone": "9876500000",
		}},
	})
}

// DefaultPassword derives the initial credential from the student's first
// name: lower-cased, stripped to letters and digits, suffixed with 123.
func DefaultPassword(fullName string) string {
	first := strings.Fields(strings.TrimSpace(fullName))
	token := ""
	if len(first) > 0 {
		token = first[0]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(token) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "student123"
	}
	return b.String() + "123"
}

// Run parses the roster and provisions a pending account per valid row. The
// returned summary carries per-row outcomes including generated passwords;
// wardenID is attached to every created account.
func (s *ImportService) Run(ctx context.Context, reader io.Reader, wardenID string, actor *models.JWTClaims) (*models.ImportSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if wardenID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "warden_id is required")
	}
	if warden, err := s.users.FindByID(ctx, wardenID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "warden not found")
	} else if warden.Role != models.RoleWarden {
		return nil, appErrors.Clone(appErrors.ErrValidation, "warden_id does not reference a warden account")
	}

	rows, parseErrs, err := s.parse(reader)
	if err != nil {
		return nil, err
	}

	seen, err := s.loadKnownEmails(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to preload existing accounts")
	}

	summary := &models.ImportSummary{Results: make([]models.ImportRowResult, 0, len(rows)+len(parseErrs))}
	summary.Results = append(summary.Results, parseErrs...)
	summary.Failed += len(parseErrs)

	for i, row := range rows {
		if i > 0 && s.cfg.RowDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RowDelay):
			}
		}
		result := s.importRow(ctx, row, wardenID, seen)
		summary.Results = append(summary.Results, result)
		switch result.Status {
		case models.ImportRowSuccess:
			summary.Succeeded++
			seen[strings.ToLower(result.Email)] = struct{}{}
		case models.ImportRowDuplicate:
			summary.Duplicates++
		default:
			summary.Failed++
		}
		s.recordRow(result.Status)
	}
	for range parseErrs {
		s.recordRow(models.ImportRowFailed)
	}
	summary.Total = len(summary.Results)

	if file, err := s.writeResultFile(summary); err != nil {
		s.logger.Warn("import result file not written", zap.Error(err))
	} else {
		summary.ResultFile = file
	}
	if summary.Succeeded > 0 {
		if file, err := s.writeCredentialSheet(summary); err != nil {
			s.logger.Warn("credential sheet not written", zap.Error(err))
		} else {
			summary.CredentialFile = file
		}
	}

	s.emitImportAudit(ctx, actor, wardenID, summary)
	return summary, nil
}

type importRow struct {
	line   int
	record models.PendingStudent
}

// parse reads the CSV, resolves header aliases and splits rows into
// candidates and malformed-row failures.
func (s *ImportService) parse(reader io.Reader) ([]importRow, []models.ImportRowResult, error) {
	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "empty or unreadable CSV file")
	}
	index := map[string]int{}
	for i, raw := range header {
		key := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, " ", "_")))
		if canonical, ok := headerAliases[key]; ok {
			if _, dup := index[canonical]; !dup {
				index[canonical] = i
			}
		}
	}
	if _, ok := index["email"]; !ok {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "CSV is missing an email column")
	}
	if _, ok := index["full_name"]; !ok {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "CSV is missing a full name column")
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []importRow
	var failures []models.ImportRowResult
	line := 1
	for {
		record, err := r.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			failures = append(failures, models.ImportRowResult{
				Line:    line,
				Status:  models.ImportRowFailed,
				Message: "malformed CSV row",
			})
			continue
		}
		empty := true
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		rows = append(rows, importRow{
			line: line,
			record: models.PendingStudent{
				Email:       field(record, "email"),
				FullName:    field(record, "full_name"),
				USN:         field(record, "usn"),
				Branch:      field(record, "branch"),
				Year:        field(record, "year"),
				Block:       field(record, "block"),
				Room:        field(record, "room"),
				Phone:       field(record, "phone"),
				ParentPhone: field(record, "parent_phone"),
			},
		})
	}
	return rows, failures, nil
}

func (s *ImportService) importRow(ctx context.Context, row importRow, wardenID string, seen map[string]struct{}) models.ImportRowResult {
	result := models.ImportRowResult{
		Line:     row.line,
		Email:    row.record.Email,
		FullName: row.record.FullName,
	}
	if row.record.Email == "" {
		result.Status = models.ImportRowFailed
		result.Message = "Missing email"
		return result
	}
	if row.record.FullName == "" {
		result.Status = models.ImportRowFailed
		result.Message = "full name is required"
		return result
	}
	if err := s.validate.Var(row.record.Email, "email"); err != nil {
		result.Status = models.ImportRowFailed
		result.Message = "invalid email address"
		return result
	}
	normalized := strings.ToLower(row.record.Email)
	if _, exists := seen[normalized]; exists {
		result.Status = models.ImportRowDuplicate
		result.Message = "account already exists for this email"
		return result
	}

	password := DefaultPassword(row.record.FullName)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		result.Status = models.ImportRowFailed
		result.Message = "failed to generate credentials"
		return result
	}

	record := row.record
	record.Email = normalized
	record.WardenID = wardenID
	record.PasswordHash = string(hash)
	if err := s.pending.Create(ctx, &record); err != nil {
		s.logger.Warn("pending student insert failed",
			zap.Int("line", row.line), zap.String("email", normalized), zap.Error(err))
		result.Status = models.ImportRowFailed
		result.Message = "database insert failed"
		return result
	}

	result.Status = models.ImportRowSuccess
	result.Password = password
	result.Message = "account provisioned"
	return result
}

// loadKnownEmails builds the duplicate-detection set from both the active
// users table and earlier pending imports in two reads, so per-row lookups
// are avoided entirely.
func (s *ImportService) loadKnownEmails(ctx context.Context) (map[string]struct{}, error) {
	active, err := s.users.ListEmails(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.pending.ListEmails(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(active)+len(pending))
	for _, email := range active {
		seen[strings.ToLower(email)] = struct{}{}
	}
	for _, email := range pending {
		seen[strings.ToLower(email)] = struct{}{}
	}
	return seen, nil
}

func (s *ImportService) writeResultFile(summary *models.ImportSummary) (string, error) {
	if s.storage == nil {
		return "", nil
	}
	rows := make([]map[string]string, 0, len(summary.Results))
	for _, res := range summary.Results {
		rows = append(rows, map[string]string{
			"line":      fmt.Sprintf("%d", res.Line),
			"email":     res.Email,
			"full_name": res.FullName,
			"password":  res.Password,
			"status":    string(res.Status),
			"message":   res.Message,
		})
	}
	data, err := s.exporter.Render(export.Dataset{
		Headers: []string{"line", "email", "full_name", "password", "status", "message"},
		Rows:    rows,
	})
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("imports/import-%s.csv", time.Now().UTC().Format("20060102-150405"))
	return s.storage.Save(name, data)
}

// writeCredentialSheet renders a printable sheet of the freshly provisioned
// accounts and their default passwords, for one-time distribution to students.
func (s *ImportService) writeCredentialSheet(summary *models.ImportSummary) (string, error) {
	if s.storage == nil {
		return "", nil
	}
	rows := make([]map[string]string, 0, summary.Succeeded)
	for _, res := range summary.Results {
		if res.Status != models.ImportRowSuccess {
			continue
		}
		rows = append(rows, map[string]string{
			"email":     res.Email,
			"full_name": res.FullName,
			"password":  res.Password,
		})
	}
	data, err := s.pdf.Render(export.Dataset{
		Headers: []string{"email", "full_name", "password"},
		Rows:    rows,
	}, "Issued Student Credentials")
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("imports/import-%s-credentials.pdf", time.Now().UTC().Format("20060102-150405"))
	return s.storage.Save(name, data)
}

// Cleanup removes import artifacts older than ttl.
func (s *ImportService) Cleanup(ttl time.Duration) {
	if s.storage == nil || ttl <= 0 {
		return
	}
	removed, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		s.logger.Warn("import artifact cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("import artifacts removed", zap.Int("count", len(removed)))
	}
}

func (s *ImportService) emitImportAudit(ctx context.Context, actor *models.JWTClaims, wardenID string, summary *models.ImportSummary) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"warden_id":  wardenID,
		"total":      summary.Total,
		"succeeded":  summary.Succeeded,
		"duplicates": summary.Duplicates,
		"failed":     summary.Failed,
	})
	log := &models.AuditLog{
		UserID:    &actor.UserID,
		Action:    models.AuditActionBulkImport,
		Resource:  "pending_students",
		NewValues: payload,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", models.AuditActionBulkImport), zap.Error(err))
	}
}

func (s *ImportService) recordRow(status models.ImportRowStatus) {
	if s.metrics != nil {
		s.metrics.RecordImportRow(strings.ToLower(string(status)))
	}
}
