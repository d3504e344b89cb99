package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/imaging"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/ocr"
)

// Deps are the collaborators shared across runs. Completer should already
// carry its retry policy.
type Deps struct {
	Detector  ocr.Detector
	Completer llm.Completer
	Observer  Observer
}

type Config struct {
	Threshold            imaging.ThresholdOptions
	BoxStyle             imaging.BoxStyle
	AllowEmptyTranscript bool
	RequestTimeout       time.Duration
	SkipSchemaCheck      bool
}

// ConfigFrom maps the env-driven application config onto pipeline settings.
func ConfigFrom(cfg *common.Config) Config {
	return Config{
		Threshold:            imaging.ThresholdOptionsFromConfig(cfg.Preprocess),
		BoxStyle:             imaging.DefaultBoxStyle(),
		AllowEmptyTranscript: cfg.Pipeline.AllowEmptyTranscript,
		RequestTimeout:       cfg.Pipeline.RequestTimeout,
	}
}

// Pipeline sequences load → preprocess → detect → annotate → aggregate →
// prompt → extract → parse. It is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    Config
	obs    Observer
	logger *slog.Logger
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold.BlockSize == 0 {
		cfg.Threshold = imaging.DefaultThresholdOptions()
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pipeline{deps: deps, cfg: cfg, obs: obs, logger: logger}
}

// Run executes one extraction. It never returns nil and never panics;
// every failure is folded into the Outcome.
func (p *Pipeline) Run(ctx context.Context, in Input) *Outcome {
	start := time.Now()
	ctx, rid := common.EnsureRequestID(ctx)
	dt, known := constants.ParseDocumentType(in.DocType)

	out := &Outcome{
		RequestID: rid,
		DocType:   dt,
		Source:    in.Source(),
		State:     StageLoading,
		Timings:   make(map[Stage]time.Duration, len(Stages())),
	}

	ctx = p.obs.OnStart(ctx, in)
	ctx, cancel := common.WithOptionalTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	p.logger.Info("pipeline.start",
		"req_id", rid,
		"source", out.Source,
		"doc_type", dt,
		"known_type", known,
	)

	r := &run{p: p, ctx: ctx, in: in, out: out}
	r.exec()

	out.Elapsed = time.Since(start)
	if out.Err == nil {
		out.State = StageDone
		p.obs.OnStage(ctx, StageDone, out)
		p.logger.Info("pipeline.done",
			"req_id", rid,
			"doc_type", dt,
			"fields", len(out.Result),
			"attempts", out.Attempts,
			"elapsed_ms", out.Elapsed.Milliseconds(),
		)
	} else {
		p.logger.Warn("pipeline.failed",
			"req_id", rid,
			"doc_type", dt,
			"stage", out.FailedStage,
			"kind", out.Kind(),
			"error", out.Err,
			"elapsed_ms", out.Elapsed.Milliseconds(),
		)
	}
	p.obs.OnFinish(ctx, out)
	return out
}

// run holds the intermediate artifacts of a single execution.
type run struct {
	p   *Pipeline
	ctx context.Context
	in  Input
	out *Outcome

	img       image.Image
	pre       imaging.Preprocessed
	annotated []byte
}

func (r *run) exec() {
	steps := []struct {
		stage Stage
		fn    func() error
	}{
		{StageLoading, r.load},
		{StagePreprocessing, r.preprocess},
		{StageDetecting, r.detect},
		{StageAnnotating, r.annotate},
		{StageAggregating, r.aggregate},
		{StagePromptBuilding, r.buildPrompt},
		{StageExtracting, r.extract},
		{StageParsing, r.parse},
	}
	for _, s := range steps {
		if !r.step(s.stage, s.fn) {
			return
		}
	}
}

func (r *run) step(stage Stage, fn func() error) bool {
	if err := r.ctx.Err(); err != nil {
		r.fail(stage, common.TimeoutError(string(stage), err))
		return false
	}
	r.out.State = stage
	r.p.obs.OnStage(r.ctx, stage, r.out)

	t := time.Now()
	err := r.protect(stage, fn)
	r.out.Timings[stage] = time.Since(t)

	r.p.logger.Debug("pipeline.stage",
		"req_id", r.out.RequestID,
		"stage", stage,
		"ok", err == nil,
		"elapsed_ms", r.out.Timings[stage].Milliseconds(),
	)
	if err != nil {
		r.fail(stage, r.classify(stage, err))
		return false
	}
	return true
}

// protect converts a panic inside fn into an Unhandled error. The stack is
// logged here and nowhere else.
func (r *run) protect(stage Stage, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			r.p.logger.Error("pipeline.panic",
				"req_id", r.out.RequestID,
				"stage", stage,
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()),
			)
			err = common.UnhandledError("unexpected error during "+string(stage), fmt.Errorf("panic: %v", v))
		}
	}()
	return fn()
}

func (r *run) classify(stage Stage, err error) error {
	pe, ok := asPipelineError(err)
	if ok && pe.Kind == common.KindTimeout {
		return pe
	}
	if r.ctx.Err() != nil || common.IsContextDone(err) {
		return common.TimeoutError(string(stage), err)
	}
	if ok {
		if pe.Stage == "" {
			pe.Stage = string(stage)
		}
		return pe
	}
	switch stage {
	case StageDetecting:
		return common.UnhandledError("text detection failed: "+err.Error(), err)
	case StageExtracting:
		return common.ExtractionServiceError(llm.FailureMessage, err)
	default:
		return common.UnhandledError(strings.ToLower(string(stage))+" failed: "+err.Error(), err)
	}
}

func (r *run) fail(stage Stage, err error) {
	if pe, ok := asPipelineError(err); ok && pe.Stage == "" {
		pe.Stage = string(stage)
	}
	r.out.Err = err
	r.out.FailedStage = stage
	r.out.State = StageFailed
	r.out.Result = nil
	r.p.obs.OnStage(r.ctx, StageFailed, r.out)
}

func (r *run) load() error {
	var err error
	if len(r.in.Data) > 0 {
		r.img, err = imaging.LoadBytes(r.in.Data)
	} else {
		r.img, err = imaging.LoadFile(r.in.Path)
	}
	return err
}

func (r *run) preprocess() error {
	binarize := DetectVariant(r.out.DocType) == VariantBinary
	pre, err := imaging.Preprocess(r.ctx, r.img, r.p.cfg.Threshold, binarize)
	if err != nil {
		return err
	}
	r.pre = pre
	return nil
}

func (r *run) detect() error {
	var src image.Image = r.pre.Gray
	if DetectVariant(r.out.DocType) == VariantBinary {
		src = r.pre.Binary
	}
	regions, err := r.p.deps.Detector.Detect(r.ctx, src)
	if err != nil {
		return err
	}
	r.out.Regions = regions
	r.out.Confidence = ocr.MeanConfidence(regions)
	return nil
}

// annotate draws on the original image, not the preprocessed one.
func (r *run) annotate() error {
	r.out.Annotated = imaging.Annotate(r.img, r.out.Regions, r.p.cfg.BoxStyle)
	b, err := imaging.EncodePNG(r.out.Annotated)
	if err != nil {
		return err
	}
	r.annotated = b
	return nil
}

func (r *run) aggregate() error {
	r.out.Transcript = ocr.Transcript(r.out.Regions)
	if strings.TrimSpace(r.out.Transcript) == "" && !r.p.cfg.AllowEmptyTranscript {
		return common.NoTextExtractedError()
	}
	return nil
}

func (r *run) buildPrompt() error {
	r.out.Prompt = llm.BuildPrompt(r.out.Transcript, string(r.out.DocType))
	return nil
}

func (r *run) extract() error {
	ctx, attempts := llm.WithAttemptCounter(r.ctx)
	text, err := r.p.deps.Completer.Complete(ctx, llm.CompletionRequest{
		Prompt:    r.out.Prompt,
		Image:     r.annotated,
		ImageMIME: imaging.PNGMime,
	})
	r.out.Attempts = int(attempts.Load())
	if r.out.Attempts == 0 {
		// completer without a retry wrapper
		r.out.Attempts = 1
	}
	if err != nil {
		return err
	}
	r.out.Completion = text
	return nil
}

func (r *run) parse() error {
	result, err := llm.ParseResponse(r.out.Completion)
	if err != nil {
		return err
	}
	if !r.p.cfg.SkipSchemaCheck {
		if verr := llm.ValidateResult(string(r.out.DocType), result); verr != nil {
			r.out.Warnings = append(r.out.Warnings, verr.Error())
			r.p.logger.Warn("pipeline.schema.mismatch",
				"req_id", r.out.RequestID,
				"doc_type", r.out.DocType,
				"error", verr,
			)
		}
	}
	r.out.Result = result
	return nil
}
