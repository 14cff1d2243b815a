package domain

import "time"

// Report is the single published artifact for a job.
type Report struct {
	ID        string
	JobID     string
	Subject   string
	Markdown  string
	HTML      string
	CreatedAt time.Time
}

// Artifact is the read surface exposed for a job.
type Artifact struct {
	JobID  string
	Status JobStatus
	Stage  Stage
	Report *Report
}

// LinkTokens are recipient-scoped tokens embedded in the notification footer.
type LinkTokens struct {
	Preferences string `json:"prefsToken"`
	Pause       string `json:"pauseToken"`
	Unsubscribe string `json:"unsubscribeToken"`
}
