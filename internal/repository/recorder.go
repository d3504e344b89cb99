package repository

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

// JobRecorder persists pipeline transitions as extract_job rows. Storage
// errors are logged and never alter the run's outcome.
type JobRecorder struct {
	Jobs   ExtractJobRepository
	Model  string
	Logger *slog.Logger
}

func NewJobRecorder(jobs ExtractJobRepository, model string, logger *slog.Logger) *JobRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRecorder{Jobs: jobs, Model: model, Logger: logger}
}

func (r *JobRecorder) OnStart(ctx context.Context, in pipeline.Input) context.Context {
	job, err := r.Jobs.Start(context.WithoutCancel(ctx), in.Source(), in.DocType)
	if err != nil {
		r.Logger.Warn("recorder.start.failed", "req_id", common.RequestIDFromContext(ctx), "error", err)
		return ctx
	}
	return common.WithJobID(ctx, job.ID)
}

func (r *JobRecorder) OnStage(ctx context.Context, stage pipeline.Stage, out *pipeline.Outcome) {
	// the transcript is complete once prompt building begins
	if stage != pipeline.StagePromptBuilding {
		return
	}
	id, ok := common.JobIDFromContext(ctx)
	if !ok {
		return
	}
	if err := r.Jobs.FinishOCR(context.WithoutCancel(ctx), id, out.Transcript, out.Confidence); err != nil {
		r.Logger.Warn("recorder.ocr.failed", "req_id", out.RequestID, "job_id", id, "error", err)
	}
}

func (r *JobRecorder) OnFinish(ctx context.Context, out *pipeline.Outcome) {
	id, ok := common.JobIDFromContext(ctx)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var err error
	if out.Err == nil {
		err = r.Jobs.FinishSuccess(ctx, id, out.JSON(), r.Model, out.Attempts, out.Warnings)
	} else {
		err = r.Jobs.FinishFailure(ctx, id, string(out.FailedStage), string(out.Kind()), out.Err.Error())
	}
	if err != nil {
		r.Logger.Warn("recorder.finish.failed", "req_id", out.RequestID, "job_id", id, "error", err)
	}
}
