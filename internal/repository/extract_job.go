package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

type ExtractJobRepository interface {
	Start(ctx context.Context, source, docType string) (*entity.ExtractJob, error)
	FinishOCR(ctx context.Context, jobID uuid.UUID, ocrText string, confidence float32) error
	FinishSuccess(ctx context.Context, jobID uuid.UUID, resultJSON []byte, model string, attempts int, warnings []string) error
	FinishFailure(ctx context.Context, jobID uuid.UUID, stage, kind, message string) error
	Get(ctx context.Context, jobID uuid.UUID) (*entity.ExtractJob, error)
	List(ctx context.Context, limit int) ([]*entity.ExtractJob, error)
	Count(ctx context.Context) (int, error)
}

type extractJobRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewExtractJobRepository(db *DB, log *slog.Logger) ExtractJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &extractJobRepo{db: db, log: log, now: time.Now}
}

var jobColumns = []string{
	"id", "source", "doc_type", "status", "failed_stage", "error_kind", "error_message",
	"ocr_text", "ocr_confidence", "result_json", "model_name", "warnings", "attempts",
	"started_at", "finished_at",
}

func (r *extractJobRepo) Start(ctx context.Context, source, docType string) (*entity.ExtractJob, error) {
	job := &entity.ExtractJob{
		ID:        uuid.New(),
		Source:    source,
		DocType:   docType,
		Status:    string(constants.JobStatusRunning),
		StartedAt: r.now().UTC().Truncate(time.Millisecond),
	}
	q, args := r.db.builder().Insert(extractJobTable).
		Columns("id", "source", "doc_type", "status", "attempts", "started_at").
		Values(job.ID.String(), job.Source, job.DocType, job.Status, 0, job.StartedAt.UnixMilli()).
		Query()
	if err := r.db.Driver.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("extract_job start failed", "source", source, "err", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	r.log.Info("extract_job started", "job_id", job.ID, "source", source, "doc_type", docType)
	return job, nil
}

func (r *extractJobRepo) FinishOCR(ctx context.Context, jobID uuid.UUID, ocrText string, confidence float32) error {
	err := r.update(ctx, jobID, map[string]any{
		"status":         string(constants.JobStatusOCROK),
		"ocr_text":       ocrText,
		"ocr_confidence": float64(confidence),
	})
	if err != nil {
		r.log.Error("extract_job finish(OCR_OK) failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Info("extract_job advanced (OCR_OK)", "job_id", jobID, "ocr_bytes", len(ocrText))
	return nil
}

func (r *extractJobRepo) FinishSuccess(ctx context.Context, jobID uuid.UUID, resultJSON []byte, model string, attempts int, warnings []string) error {
	set := map[string]any{
		"status":      string(constants.JobStatusLLMOK),
		"result_json": string(resultJSON),
		"model_name":  model,
		"attempts":    attempts,
		"finished_at": r.now().UTC().UnixMilli(),
	}
	if len(warnings) > 0 {
		b, _ := json.Marshal(warnings)
		set["warnings"] = string(b)
	}
	if err := r.update(ctx, jobID, set); err != nil {
		r.log.Error("extract_job finish(LLM_OK) failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Info("extract_job finished (LLM_OK)", "job_id", jobID, "model", model, "attempts", attempts)
	return nil
}

func (r *extractJobRepo) FinishFailure(ctx context.Context, jobID uuid.UUID, stage, kind, message string) error {
	err := r.update(ctx, jobID, map[string]any{
		"status":        string(constants.JobStatusFailed),
		"failed_stage":  stage,
		"error_kind":    kind,
		"error_message": message,
		"finished_at":   r.now().UTC().UnixMilli(),
	})
	if err != nil {
		r.log.Error("extract_job finish(FAILED) failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Warn("extract_job finished (FAILED)", "job_id", jobID, "stage", stage, "kind", kind, "error", message)
	return nil
}

// update applies set to one row; columns are written in jobColumns order so
// generated SQL is stable.
func (r *extractJobRepo) update(ctx context.Context, jobID uuid.UUID, set map[string]any) error {
	u := r.db.builder().Update(extractJobTable)
	for _, c := range jobColumns {
		if v, ok := set[c]; ok {
			u.Set(c, v)
		}
	}
	q, args := u.Where(entsql.EQ("id", jobID.String())).Query()

	var res stdsql.Result
	if err := r.db.Driver.Exec(ctx, q, args, &res); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("extract_job %s: %w", jobID, common.ErrNotFound)
	}
	return nil
}

func (r *extractJobRepo) Get(ctx context.Context, jobID uuid.UUID) (*entity.ExtractJob, error) {
	b := r.db.builder()
	q, args := b.Select(jobColumns...).
		From(b.Table(extractJobTable)).
		Where(entsql.EQ("id", jobID.String())).
		Query()
	row := r.db.Driver.DB().QueryRowContext(ctx, q, args...)
	job, err := scanJob(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("extract_job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return job, nil
}

// List returns the most recent jobs first.
func (r *extractJobRepo) List(ctx context.Context, limit int) ([]*entity.ExtractJob, error) {
	if limit <= 0 {
		limit = 100
	}
	b := r.db.builder()
	q, args := b.Select(jobColumns...).
		From(b.Table(extractJobTable)).
		OrderBy(entsql.Desc("started_at"), "id").
		Limit(limit).
		Query()
	rows, err := r.db.Driver.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.ExtractJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *extractJobRepo) Count(ctx context.Context) (int, error) {
	b := r.db.builder()
	q, args := b.Select(entsql.Count("*")).From(b.Table(extractJobTable)).Query()
	var n int
	if err := r.db.Driver.DB().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*entity.ExtractJob, error) {
	var (
		id                                    string
		job                                   entity.ExtractJob
		stage, kind, msg, text, result, model stdsql.NullString
		warnings                              stdsql.NullString
		conf                                  stdsql.NullFloat64
		started                               int64
		finished                              stdsql.NullInt64
	)
	err := s.Scan(&id, &job.Source, &job.DocType, &job.Status, &stage, &kind, &msg,
		&text, &conf, &result, &model, &warnings, &job.Attempts, &started, &finished)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad job id %q: %w", id, err)
	}
	job.FailedStage = nullString(stage)
	job.ErrorKind = nullString(kind)
	job.ErrorMessage = nullString(msg)
	job.OCRText = nullString(text)
	job.ModelName = nullString(model)
	if conf.Valid {
		c := float32(conf.Float64)
		job.OCRConfidence = &c
	}
	if result.Valid && result.String != "" {
		job.ResultJSON = json.RawMessage(result.String)
	}
	if warnings.Valid && warnings.String != "" {
		_ = json.Unmarshal([]byte(warnings.String), &job.Warnings)
	}
	job.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		job.FinishedAt = &t
	}
	return &job, nil
}

func nullString(ns stdsql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
