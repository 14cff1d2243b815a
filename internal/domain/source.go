package domain

import "time"

// AccessStatus classifies a fetched candidate.
type AccessStatus string

const (
	AccessUnknown   AccessStatus = "unknown"
	AccessOK        AccessStatus = "ok"
	AccessPaywalled AccessStatus = "paywalled"
	AccessBlocked   AccessStatus = "blocked"
)

// Candidate is a URL considered for evidence before fetching.
type Candidate struct {
	URL         string
	Title       string
	SourceName  string
	Snippet     string
	PublishedAt *time.Time
}

// Source is one candidate document attached to a job.
type Source struct {
	ID            string
	JobID         string
	URL           string
	Rank          int
	Title         string
	SourceName    string
	PublishedAt   *time.Time
	AccessStatus  AccessStatus
	ExtractedText string
	FetchedAt     *time.Time
}

// SourceCounts aggregates access statuses for a job.
type SourceCounts struct {
	Unknown   int
	OK        int
	Paywalled int
	Blocked   int
}

// Total returns the number of sources across all statuses.
func (c SourceCounts) Total() int {
	return c.Unknown + c.OK + c.Paywalled + c.Blocked
}

// FetchedDocument is the raw outcome of a document GET.
type FetchedDocument struct {
	StatusCode  int
	FinalURL    string
	ContentType string
	Body        []byte
}
