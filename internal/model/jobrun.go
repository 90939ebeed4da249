package model

import "time"

// RunStatus represents the state of a single scheduled job invocation.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// JobRun is the bookkeeping row for one invocation of a scheduled job.
// An open row (finished_at null) doubles as the cross-instance run lease:
// only one open row may exist per job id.
type JobRun struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Status     RunStatus  `json:"status"`
	Processed  int        `json:"processed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
