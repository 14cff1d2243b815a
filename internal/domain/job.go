package domain

import "time"

// JobStatus enumerates the lifecycle of a research job.
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusRunning  JobStatus = "running"
	StatusPartial  JobStatus = "partial"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
	StatusAborted  JobStatus = "aborted"
)

// IsHardTerminal reports whether no further step may touch the job.
func (s JobStatus) IsHardTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// AdvanceableStatuses lists statuses the advance loop may pick up.
func AdvanceableStatuses() []JobStatus {
	return []JobStatus{StatusQueued, StatusRunning, StatusPartial}
}

// Job is one research task for one user and one period.
type Job struct {
	ID        string
	UserID    string
	Period    string
	TopicID   string
	Status    JobStatus
	Attempt   int
	State     JobState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RestingStatus is the status a job settles into between steps.
func (j *Job) RestingStatus() JobStatus {
	if j.State.Partial {
		return StatusPartial
	}
	return StatusQueued
}

// FinalStatus is the status a job ends with once its report is stored.
func (j *Job) FinalStatus() JobStatus {
	if j.State.Partial {
		return StatusPartial
	}
	return StatusComplete
}

// MarkPartial flags the job as degraded; the flag survives the running status.
func (j *Job) MarkPartial() {
	j.State.Partial = true
	j.Status = StatusPartial
}
