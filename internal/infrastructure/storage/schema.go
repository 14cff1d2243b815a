package storage

import (
	"context"
	"fmt"
)

// schemaStatements is dialect-neutral DDL understood by Postgres and SQLite.
// users, topics, user_topics and the corpus tables belong to neighbouring
// systems; they are created here so the module runs on its own.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		chat_id TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		max_sources INTEGER NOT NULL DEFAULT 0,
		research_weekday INTEGER NULL
	)`,
	`CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS user_topics (
		user_id TEXT NOT NULL,
		topic_id TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, topic_id)
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		period TEXT NOT NULL,
		topic_id TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, period)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		url TEXT NOT NULL,
		rank INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		published_at TEXT NULL,
		access_status TEXT NOT NULL DEFAULT 'unknown',
		extracted_text TEXT NULL,
		fetched_at TEXT NULL,
		UNIQUE (job_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_job_status ON sources (job_id, access_status)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL UNIQUE,
		subject TEXT NOT NULL,
		markdown TEXT NOT NULL,
		html TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS corpus_articles (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		snippet TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		published_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_corpus_published ON corpus_articles (published_at)`,
	`CREATE TABLE IF NOT EXISTS corpus_topic_matches (
		article_id TEXT NOT NULL,
		topic_id TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (article_id, topic_id)
	)`,
	`CREATE TABLE IF NOT EXISTS source_tiers (
		host TEXT PRIMARY KEY,
		tier INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blocked_hosts (
		pattern TEXT PRIMARY KEY
	)`,
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := retryOnBusy(ctx, func() error {
			_, err := s.db.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
