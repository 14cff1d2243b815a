package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

var _ ports.SourceRepository = (*Store)(nil)

var sourceColumns = []string{
	"id", "job_id", "url", "rank", "title", "source_name",
	"published_at", "access_status", "extracted_text", "fetched_at",
}

// InsertSources seeds sources for a job, skipping URLs the job already has.
// It returns how many rows were inserted.
func (s *Store) InsertSources(ctx context.Context, jobID string, sources []domain.Source) (int, error) {
	inserted := 0
	for i, src := range sources {
		id := src.ID
		if id == "" {
			id = uuid.NewString()
		}
		rank := src.Rank
		if rank == 0 {
			rank = i + 1
		}
		status := src.AccessStatus
		if status == "" {
			status = domain.AccessUnknown
		}
		res, err := s.exec(ctx, s.sb.Insert("sources").
			Columns("id", "job_id", "url", "rank", "title", "source_name", "published_at", "access_status").
			Values(id, jobID, src.URL, rank, src.Title, src.SourceName, formatTimePtr(src.PublishedAt), string(status)).
			Suffix("ON CONFLICT (job_id, url) DO NOTHING"))
		if err != nil {
			return inserted, fmt.Errorf("insert source %s: %w", src.URL, err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// PendingSources returns sources not fetched yet, in rank order.
func (s *Store) PendingSources(ctx context.Context, jobID string, limit int) ([]domain.Source, error) {
	builder := s.sb.Select(sourceColumns...).
		From("sources").
		Where(sq.Eq{"job_id": jobID, "access_status": string(domain.AccessUnknown)}).
		OrderBy("rank ASC", "id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.listSources(ctx, builder)
}

// ReadySources returns accessible sources with extracted text, in rank order.
func (s *Store) ReadySources(ctx context.Context, jobID string, limit int) ([]domain.Source, error) {
	builder := s.sb.Select(sourceColumns...).
		From("sources").
		Where(sq.Eq{"job_id": jobID, "access_status": string(domain.AccessOK)}).
		Where(sq.NotEq{"extracted_text": nil}).
		OrderBy("rank ASC", "id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.listSources(ctx, builder)
}

// RecordOutcome stores the fetch result. Only sources still unknown are
// touched, so a source is classified at most once.
func (s *Store) RecordOutcome(ctx context.Context, src domain.Source) error {
	fetchedAt := time.Now().UTC()
	if src.FetchedAt != nil {
		fetchedAt = *src.FetchedAt
	}
	var text any
	if src.AccessStatus == domain.AccessOK {
		text = src.ExtractedText
	}
	_, err := s.exec(ctx, s.sb.Update("sources").
		Set("access_status", string(src.AccessStatus)).
		Set("title", src.Title).
		Set("source_name", src.SourceName).
		Set("published_at", formatTimePtr(src.PublishedAt)).
		Set("extracted_text", text).
		Set("fetched_at", formatTime(fetchedAt)).
		Where(sq.Eq{"id": src.ID, "access_status": string(domain.AccessUnknown)}))
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", src.URL, err)
	}
	return nil
}

// CountSources aggregates the job's sources by access status.
func (s *Store) CountSources(ctx context.Context, jobID string) (domain.SourceCounts, error) {
	var counts domain.SourceCounts
	rows, err := s.query(ctx, s.sb.Select("access_status", "COUNT(*)").
		From("sources").
		Where(sq.Eq{"job_id": jobID}).
		GroupBy("access_status"))
	if err != nil {
		return counts, fmt.Errorf("count sources: %w", err)
	}

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return counts, fmt.Errorf("scan source count: %w", err)
		}
		switch domain.AccessStatus(status) {
		case domain.AccessOK:
			counts.OK = n
		case domain.AccessPaywalled:
			counts.Paywalled = n
		case domain.AccessBlocked:
			counts.Blocked = n
		default:
			counts.Unknown += n
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return counts, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return counts, fmt.Errorf("close rows: %w", closeErr)
	}
	return counts, nil
}

func (s *Store) listSources(ctx context.Context, builder sq.SelectBuilder) ([]domain.Source, error) {
	rows, err := s.query(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}

	var sources []domain.Source
	for rows.Next() {
		var (
			src                    domain.Source
			status                 string
			publishedAt, fetchedAt sql.NullString
			text                   sql.NullString
		)
		if err := rows.Scan(
			&src.ID, &src.JobID, &src.URL, &src.Rank, &src.Title, &src.SourceName,
			&publishedAt, &status, &text, &fetchedAt,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.AccessStatus = domain.AccessStatus(status)
		src.PublishedAt = parseTimePtr(publishedAt)
		src.FetchedAt = parseTimePtr(fetchedAt)
		if text.Valid {
			src.ExtractedText = text.String
		}
		sources = append(sources, src)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return sources, nil
}
