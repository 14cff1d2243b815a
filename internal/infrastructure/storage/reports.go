package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

var _ ports.ReportRepository = (*Store)(nil)

// GetReportByJob returns nil when the job has no report.
func (s *Store) GetReportByJob(ctx context.Context, jobID string) (*domain.Report, error) {
	row, err := s.queryRow(ctx, s.sb.Select("id", "job_id", "subject", "markdown", "html", "created_at").
		From("reports").
		Where(sq.Eq{"job_id": jobID}))
	if err != nil {
		return nil, err
	}

	var (
		report    domain.Report
		createdAt string
	)
	err = row.Scan(&report.ID, &report.JobID, &report.Subject, &report.Markdown, &report.HTML, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report for job %s: %w", jobID, err)
	}
	report.CreatedAt = parseTime(createdAt)
	return &report, nil
}

// CreateReport inserts the report; false means the job already had one.
func (s *Store) CreateReport(ctx context.Context, report *domain.Report) (bool, error) {
	if report == nil {
		return false, errors.New("create report: nil report")
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	res, err := s.exec(ctx, s.sb.Insert("reports").
		Columns("id", "job_id", "subject", "markdown", "html", "created_at").
		Values(report.ID, report.JobID, report.Subject, report.Markdown, report.HTML, formatTime(report.CreatedAt)).
		Suffix("ON CONFLICT (job_id) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert report: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert report rows affected: %w", err)
	}
	return affected > 0, nil
}
