package domain

import "time"

// Topic is a subject a user follows.
type Topic struct {
	ID       string
	Label    string
	Keywords []string
}

// User carries the per-job configuration the core reads.
type User struct {
	ID         string
	Email      string
	// ChatID is the Telegram chat that receives this user's briefs.
	ChatID     string
	Enabled    bool
	MaxSources int
	// ResearchWeekday is the first weekday a job may be created in a period; nil means any day.
	ResearchWeekday *time.Weekday
	TopicIDs        []string
}
