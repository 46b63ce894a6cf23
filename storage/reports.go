package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colinzhu/jmeter-web-runner-sub000/errors"
)

// Report is the metadata record for one completed execution's output
// directory (HTML report plus results log).
type Report struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReportStore records where each completed execution's output landed
type ReportStore struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewReportStore creates a report metadata store
func NewReportStore(db *sql.DB, log *zap.SugaredLogger) *ReportStore {
	return &ReportStore{db: db, log: log.Named("reports")}
}

// RegisterOutput records an execution's output directory and returns the
// new report artifact id.
func (s *ReportStore) RegisterOutput(executionID string, outputDir string) (string, error) {
	report := &Report{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Path:        outputDir,
		CreatedAt:   time.Now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO reports (id, execution_id, path, created_at) VALUES (?, ?, ?, ?)`,
		report.ID, report.ExecutionID, report.Path, report.CreatedAt,
	)
	if err != nil {
		return "", errors.Wrapf(err, "failed to register report for execution %s", executionID)
	}

	s.log.Infow("Report registered", "report_id", report.ID, "execution_id", executionID, "path", outputDir)
	return report.ID, nil
}

// Get retrieves a report record by id
func (s *ReportStore) Get(id string) (*Report, error) {
	var report Report
	err := s.db.QueryRow(
		`SELECT id, execution_id, path, created_at FROM reports WHERE id = ?`, id,
	).Scan(&report.ID, &report.ExecutionID, &report.Path, &report.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("report %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get report")
	}
	return &report, nil
}

// GetByExecution retrieves the report registered for an execution
func (s *ReportStore) GetByExecution(executionID string) (*Report, error) {
	var report Report
	err := s.db.QueryRow(
		`SELECT id, execution_id, path, created_at FROM reports WHERE execution_id = ? ORDER BY created_at DESC LIMIT 1`,
		executionID,
	).Scan(&report.ID, &report.ExecutionID, &report.Path, &report.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("no report for execution %s", executionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get report by execution")
	}
	return &report, nil
}

// List returns all report records, newest first
func (s *ReportStore) List() ([]*Report, error) {
	rows, err := s.db.Query(
		`SELECT id, execution_id, path, created_at FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reports")
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var report Report
		if err := rows.Scan(&report.ID, &report.ExecutionID, &report.Path, &report.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan report")
		}
		reports = append(reports, &report)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating reports")
	}
	return reports, nil
}
