package constants

// JobStatus is the canonical status for rows in extract_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusOCROK   JobStatus = "OCR_OK" // text detected, LLM pending
	JobStatusLLMOK   JobStatus = "LLM_OK" // fields extracted
	JobStatusFailed  JobStatus = "FAILED"
)
