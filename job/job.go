package job

import (
	"time"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed. Dispatch jobs are not retried;
	// a still-due occurrence fires again once its lease expires.
	StateFailed State = "failed"
)

// Job represents a unit of work to be processed by a worker.
type Job struct {
	cadence.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Domain      string        `json:"domain,omitempty"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
