package model

import "time"

// JobType distinguishes a full re-index from an incremental pull.
type JobType string

const (
	JobTypeFull        JobType = "full"
	JobTypeIncremental JobType = "incremental"
)

// JobStatus is the lifecycle state of an indexing job.
// Queued → Running → {Completed | Failed | Cancelled}.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are immutable
// and retained for audit until evicted by the retention policy.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobProgress tracks document counters for a running job.
type JobProgress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Indexed   int `json:"indexed"`
	Failed    int `json:"failed"`
}

// JobError describes why a job failed, including the failing document
// when known, for operator inspection.
type JobError struct {
	DocumentID string    `json:"document_id,omitempty"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// IndexingJob is one unit of pipeline work. It is created by the pipeline on
// an ingestion request and mutated only by the worker executing it.
type IndexingJob struct {
	ID         string      `json:"id"`
	JobType    JobType     `json:"job_type"`
	ProviderID string      `json:"provider_id"`
	Status     JobStatus   `json:"status"`
	Progress   JobProgress `json:"progress"`
	Error      *JobError   `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
