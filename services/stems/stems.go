package stems

import (
	"context"

	"github.com/warriorguo/stemflow/types"
)

type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobStarted   JobStatus = "STARTED"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether the job will not change status anymore.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a stem separation job, Result maps stem names to download URLs.
type Job struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   string            `json:"workflow"`
	Status JobStatus         `json:"status"`
	Params types.Data        `json:"params,omitempty"`
	Result map[string]string `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func (j *Job) Succeeded() bool {
	return j != nil && j.Status == JobSucceeded
}

/**
 * Service is the stem separation job collaborator.
 * WaitForJobCompletion only returns a nil error with a terminal job, the
 * caller decides what a non-success status means.
 */
type Service interface {
	AddJob(ctx context.Context, sessionID, jobType string, params types.Data) (string, error)
	WaitForJobCompletion(ctx context.Context, jobID string) (*Job, error)
	DownloadJobResults(ctx context.Context, job *Job, destDir string) (map[string]string, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Uploader makes a local file reachable by the job service and returns its input URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// ParamInputURL is the job parameter naming the uploaded input.
const ParamInputURL = "inputUrl"
