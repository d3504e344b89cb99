package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is one document waiting for extraction.
type Job struct {
	ID          uuid.UUID
	Path        string
	DocType     string
	SubmittedAt time.Time
	TraceID     string
}

// NewJob stamps a job with a fresh id and submission time.
func NewJob(path, docType string) Job {
	return Job{ID: uuid.New(), Path: path, DocType: docType, SubmittedAt: time.Now()}
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
