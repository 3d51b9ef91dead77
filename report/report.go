// Package report persists compliance reports: a JSON artifact on disk for
// auditors, and a database row for the API's report listing.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opsgate/releasegate/models"
)

// Recorder is the database side of report persistence.
type Recorder interface {
	SaveReport(report *models.ComplianceReport) error
}

// Store writes compliance report artifacts.
type Store struct {
	dir      string
	recorder Recorder
	archive  Archive
}

func NewStore(dir string, recorder Recorder) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Store{dir: dir, recorder: recorder}, nil
}

// WithArchive adds long-term artifact retention to the store.
func (s *Store) WithArchive(archive Archive) *Store {
	s.archive = archive
	return s
}

// Save persists the report artifact and the database record. Unlike audit
// delivery, report persistence is expected to succeed; callers surface the
// error to the operator.
func (s *Store) Save(ctx context.Context, report *models.ComplianceReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(s.dir, s.filename(report))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report artifact: %w", err)
	}

	if s.recorder != nil {
		if err := s.recorder.SaveReport(report); err != nil {
			return fmt.Errorf("failed to record report: %w", err)
		}
	}

	if s.archive != nil {
		key := report.Service + "/" + s.filename(report)
		if err := s.archive.Put(ctx, key, data); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) filename(report *models.ComplianceReport) string {
	return fmt.Sprintf("compliance-%s-%s-%s.json",
		report.Service,
		report.CompletedAt.UTC().Format("20060102T150405Z"),
		report.ID)
}
