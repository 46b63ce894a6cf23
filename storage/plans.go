package storage

import (
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colinzhu/jmeter-web-runner-sub000/errors"
)

// allowedPlanExtensions is the set of upload extensions accepted as test
// plans: a bare .jmx plan or a .zip bundling the plan with its data files.
var allowedPlanExtensions = map[string]bool{
	".jmx": true,
	".zip": true,
}

// TestPlan is the metadata record for one uploaded test plan artifact
type TestPlan struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// PlanStore stores uploaded test plans on disk with metadata in SQLite
type PlanStore struct {
	db  *sql.DB
	dir string
	log *zap.SugaredLogger
}

// NewPlanStore creates a store rooted at dir, creating it if needed
func NewPlanStore(db *sql.DB, dir string, log *zap.SugaredLogger) (*PlanStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create plan directory %s", dir)
	}
	return &PlanStore{db: db, dir: dir, log: log.Named("plans")}, nil
}

// Save stores an uploaded test plan and returns its metadata record.
// The content itself is never inspected here; validation is the JMeter
// run's job.
func (s *PlanStore) Save(filename string, r io.Reader) (*TestPlan, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedPlanExtensions[ext] {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unsupported test plan type %q (want .jmx or .zip)", ext)
	}

	id := uuid.New().String()
	destPath := filepath.Join(s.dir, id+ext)

	dest, err := os.Create(destPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create plan file %s", destPath)
	}

	written, err := io.Copy(dest, r)
	if err != nil {
		dest.Close()
		os.Remove(destPath)
		return nil, errors.Wrap(err, "failed to write plan file")
	}
	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return nil, errors.Wrap(err, "failed to close plan file")
	}

	plan := &TestPlan{
		ID:         id,
		Filename:   filename,
		Path:       destPath,
		SizeBytes:  written,
		UploadedAt: time.Now(),
	}

	_, err = s.db.Exec(
		`INSERT INTO test_plans (id, filename, path, size_bytes, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		plan.ID, plan.Filename, plan.Path, plan.SizeBytes, plan.UploadedAt,
	)
	if err != nil {
		os.Remove(destPath)
		return nil, errors.Wrap(err, "failed to insert test plan metadata")
	}

	s.log.Infow("Test plan stored", "plan_id", id, "filename", filename, "size", written)
	return plan, nil
}

// Exists reports whether a test plan with the given id is stored.
// Lookup failures are logged and reported as absent.
func (s *PlanStore) Exists(id string) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM test_plans WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		s.log.Warnw("Test plan existence check failed", "plan_id", id, "error", err)
		return false
	}
	return true
}

// ResolvePath returns the on-disk path of the stored plan file
func (s *PlanStore) ResolvePath(id string) (string, error) {
	plan, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(plan.Path); err != nil {
		return "", errors.NewNotFoundError("test plan file %s missing from disk", plan.Path)
	}
	return plan.Path, nil
}

// Get retrieves a test plan record by id
func (s *PlanStore) Get(id string) (*TestPlan, error) {
	var plan TestPlan
	err := s.db.QueryRow(
		`SELECT id, filename, path, size_bytes, uploaded_at FROM test_plans WHERE id = ?`, id,
	).Scan(&plan.ID, &plan.Filename, &plan.Path, &plan.SizeBytes, &plan.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("test plan %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get test plan")
	}
	return &plan, nil
}

// List returns all stored test plans, newest first
func (s *PlanStore) List() ([]*TestPlan, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, path, size_bytes, uploaded_at FROM test_plans ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list test plans")
	}
	defer rows.Close()

	var plans []*TestPlan
	for rows.Next() {
		var plan TestPlan
		if err := rows.Scan(&plan.ID, &plan.Filename, &plan.Path, &plan.SizeBytes, &plan.UploadedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan test plan")
		}
		plans = append(plans, &plan)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating test plans")
	}
	return plans, nil
}

// Delete removes a test plan record and its file
func (s *PlanStore) Delete(id string) error {
	plan, err := s.Get(id)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM test_plans WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete test plan metadata")
	}
	if err := os.Remove(plan.Path); err != nil && !os.IsNotExist(err) {
		s.log.Warnw("Failed to remove plan file", "plan_id", id, "path", plan.Path, "error", err)
	}
	return nil
}
