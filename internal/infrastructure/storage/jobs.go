package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

var _ ports.JobRepository = (*Store)(nil)

var jobColumns = []string{
	"j.id", "j.user_id", "j.period", "j.topic_id", "j.status",
	"j.attempt", "j.state", "j.created_at", "j.updated_at",
}

// CreateJob inserts the job; false means a job already exists for the user and period.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) (bool, error) {
	if job == nil {
		return false, errors.New("create job: nil job")
	}
	state, err := domain.MarshalState(job.State)
	if err != nil {
		return false, err
	}
	now := job.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res, err := s.exec(ctx, s.sb.Insert("jobs").
		Columns("id", "user_id", "period", "topic_id", "status", "attempt", "state", "created_at", "updated_at").
		Values(job.ID, job.UserID, job.Period, job.TopicID, string(job.Status), job.Attempt, state, formatTime(now), formatTime(now)).
		Suffix("ON CONFLICT (user_id, period) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert job rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	job.CreatedAt = now.UTC()
	job.UpdatedAt = now.UTC()
	return true, nil
}

// GetJob returns nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row, err := s.queryRow(ctx, s.sb.Select(jobColumns...).From("jobs j").Where(sq.Eq{"j.id": id}))
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob writes status, attempt and state in one row update.
func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return errors.New("update job: nil job")
	}
	if err := job.State.Validate(); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	state, err := domain.MarshalState(job.State)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.exec(ctx, s.sb.Update("jobs").
		Set("status", string(job.Status)).
		Set("attempt", job.Attempt).
		Set("state", state).
		Set("updated_at", formatTime(now)).
		Where(sq.Eq{"id": job.ID}))
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, domain.ErrNotFound)
	}
	job.UpdatedAt = now
	return nil
}

// ListAdvanceable returns non-terminal jobs without a report, partial jobs
// first and then oldest first.
func (s *Store) ListAdvanceable(ctx context.Context, limit int) ([]domain.Job, error) {
	statuses := make([]string, 0, 3)
	for _, st := range domain.AdvanceableStatuses() {
		statuses = append(statuses, string(st))
	}
	builder := s.sb.Select(jobColumns...).
		From("jobs j").
		LeftJoin("reports r ON r.job_id = j.id").
		Where(sq.Eq{"j.status": statuses}).
		Where("r.id IS NULL").
		OrderBy(
			fmt.Sprintf("CASE WHEN j.status = '%s' THEN 0 ELSE 1 END", domain.StatusPartial),
			"j.created_at ASC",
			"j.id ASC",
		)
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.listJobs(ctx, builder)
}

// ListRecent returns the newest jobs first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	builder := s.sb.Select(jobColumns...).From("jobs j").OrderBy("j.created_at DESC", "j.id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.listJobs(ctx, builder)
}

// LastTopicUse maps topic id to the creation time of the user's newest job on it.
func (s *Store) LastTopicUse(ctx context.Context, userID string) (map[string]time.Time, error) {
	rows, err := s.query(ctx, s.sb.Select("topic_id", "MAX(created_at)").
		From("jobs").
		Where(sq.Eq{"user_id": userID}).
		GroupBy("topic_id"))
	if err != nil {
		return nil, fmt.Errorf("query topic use: %w", err)
	}

	result := make(map[string]time.Time)
	for rows.Next() {
		var topicID, last string
		if err := rows.Scan(&topicID, &last); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan topic use: %w", err)
		}
		result[topicID] = parseTime(last)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return result, nil
}

func (s *Store) listJobs(ctx context.Context, builder sq.SelectBuilder) ([]domain.Job, error) {
	rows, err := s.query(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		status, state        string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&job.ID, &job.UserID, &job.Period, &job.TopicID, &status,
		&job.Attempt, &state, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := domain.UnmarshalState(state)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.State = parsed
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}
