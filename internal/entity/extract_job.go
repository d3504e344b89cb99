package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExtractJob is one recorded pipeline run, for data transfer between layers.
type ExtractJob struct {
	ID            uuid.UUID       `json:"id"`
	Source        string          `json:"source"`
	DocType       string          `json:"doc_type"`
	Status        string          `json:"status"`
	FailedStage   *string         `json:"failed_stage,omitempty"`
	ErrorKind     *string         `json:"error_kind,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	OCRText       *string         `json:"ocr_text,omitempty"`
	OCRConfidence *float32        `json:"ocr_confidence,omitempty"`
	ResultJSON    json.RawMessage `json:"result_json,omitempty"`
	ModelName     *string         `json:"model_name,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	Attempts      int             `json:"attempts"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached a terminal status.
func (j *ExtractJob) Finished() bool {
	return j.FinishedAt != nil
}
