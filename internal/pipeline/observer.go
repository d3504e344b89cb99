package pipeline

import "context"

// Observer watches a run's transitions. Implementations must not block for
// long and cannot change the outcome.
type Observer interface {
	// OnStart may return a derived context (e.g. carrying a job id) used for
	// the rest of the run.
	OnStart(ctx context.Context, in Input) context.Context
	OnStage(ctx context.Context, stage Stage, out *Outcome)
	OnFinish(ctx context.Context, out *Outcome)
}

// Observers fans out to each member in order.
type Observers []Observer

func (os Observers) OnStart(ctx context.Context, in Input) context.Context {
	for _, o := range os {
		if o != nil {
			ctx = o.OnStart(ctx, in)
		}
	}
	return ctx
}

func (os Observers) OnStage(ctx context.Context, stage Stage, out *Outcome) {
	for _, o := range os {
		if o != nil {
			o.OnStage(ctx, stage, out)
		}
	}
}

func (os Observers) OnFinish(ctx context.Context, out *Outcome) {
	for _, o := range os {
		if o != nil {
			o.OnFinish(ctx, out)
		}
	}
}

type nopObserver struct{}

func (nopObserver) OnStart(ctx context.Context, _ Input) context.Context { return ctx }
func (nopObserver) OnStage(context.Context, Stage, *Outcome)              {}
func (nopObserver) OnFinish(context.Context, *Outcome)                    {}
