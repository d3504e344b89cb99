package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/ocr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T, w, h int, fill uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func words(ws ...string) []ocr.TextRegion {
	out := make([]ocr.TextRegion, len(ws))
	for i, w := range ws {
		out[i] = ocr.TextRegion{
			Quad:       ocr.QuadFromRect(image.Rect(2+i*3, 2, 4+i*3, 6)),
			Text:       w,
			Confidence: 0.9,
		}
	}
	return out
}

func staticDetector(regions []ocr.TextRegion) ocr.Detector {
	return ocr.DetectorFunc(func(context.Context, image.Image) ([]ocr.TextRegion, error) {
		return regions, nil
	})
}

type fakeCompleter struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   func(call int) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	return f.reply(n)
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func replyWith(s string) *fakeCompleter {
	return &fakeCompleter{reply: func(int) (string, error) { return s, nil }}
}

type instantClock struct{ sleeps atomic.Int32 }

func (c *instantClock) Sleep(ctx context.Context, _ time.Duration) error {
	c.sleeps.Add(1)
	return ctx.Err()
}

func newPipeline(det ocr.Detector, comp llm.Completer, obs Observer) *Pipeline {
	return New(Deps{Detector: det, Completer: comp, Observer: obs}, Config{}, quietLogger())
}

func TestRun_BillsEndToEnd(t *testing.T) {
	det := staticDetector(words("Total", "$42.50", "2024-01-15", "Acme Store", "Inv#1001"))
	comp := replyWith("```json\n{\"totalAmount\":\"42.50\",\"date\":\"2024-01-15\",\"vendor\":\"Acme Store\",\"invoiceNumber\":\"1001\"}\n```")
	p := newPipeline(det, comp, nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 40, 20, 255), DocType: "bills"})

	require.NoError(t, out.Err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, constants.Bills, out.DocType)
	assert.Equal(t, "Total $42.50 2024-01-15 Acme Store Inv#1001", out.Transcript)
	assert.Equal(t, 1, comp.Calls())
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, comp.prompts[0], "Total $42.50 2024-01-15 Acme Store Inv#1001")
	assert.Contains(t, comp.prompts[0], "- vendor\n")
	assert.JSONEq(t,
		`{"totalAmount":"42.50","date":"2024-01-15","vendor":"Acme Store","invoiceNumber":"1001"}`,
		string(out.JSON()))
	assert.NotNil(t, out.Annotated)
	for _, s := range Stages() {
		_, ok := out.Timings[s]
		assert.True(t, ok, "missing timing for %s", s)
	}
}

func TestRun_IdempotentOutput(t *testing.T) {
	det := staticDetector(words("Gross", "50000", "Net", "42000"))
	comp := replyWith(`{"netAmount": 42000, "grossAmount": 50000, "employer": "Acme"}`)
	p := newPipeline(det, comp, nil)
	data := pngBytes(t, 30, 30, 200)

	first := p.Run(context.Background(), Input{Data: data, DocType: "spending"}).JSON()
	second := p.Run(context.Background(), Input{Data: data, DocType: "spending"}).JSON()

	assert.Equal(t, first, second)
	assert.Equal(t, `{"employer":"Acme","grossAmount":50000,"netAmount":42000}`, string(first))
}

func TestRun_BlankImageSkipsExtraction(t *testing.T) {
	comp := replyWith(`{}`)
	p := newPipeline(staticDetector(nil), comp, nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	require.Error(t, out.Err)
	assert.Equal(t, common.KindNoTextExtracted, out.Kind())
	assert.Equal(t, StageAggregating, out.FailedStage)
	assert.Equal(t, StageFailed, out.State)
	assert.Equal(t, 0, comp.Calls())
	assert.Equal(t, `{"error":"No text extracted from image."}`, string(out.JSON()))
}

func TestRun_WhitespaceTranscriptCountsAsEmpty(t *testing.T) {
	comp := replyWith(`{}`)
	p := newPipeline(staticDetector(words(" ", "\t")), comp, nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	assert.Equal(t, common.KindNoTextExtracted, out.Kind())
	assert.Equal(t, 0, comp.Calls())
}

func TestRun_AllowEmptyTranscript(t *testing.T) {
	comp := replyWith(`{"amount": 0}`)
	p := New(Deps{Detector: staticDetector(nil), Completer: comp}, Config{AllowEmptyTranscript: true}, quietLogger())

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "other"})

	require.NoError(t, out.Err)
	assert.Equal(t, 1, comp.Calls())
}

func TestRun_ParseFailureCarriesRawText(t *testing.T) {
	comp := replyWith("Sorry, I cannot help with that.")
	p := newPipeline(staticDetector(words("hello")), comp, nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	assert.Equal(t, common.KindResponseParse, out.Kind())
	assert.Equal(t, StageParsing, out.FailedStage)
	env := out.Envelope()
	assert.Equal(t, "Sorry, I cannot help with that.", env["rawText"])
	assert.True(t, strings.HasPrefix(env["error"].(string), "Could not parse JSON from AI response:"))
}

func TestRun_DecodeError(t *testing.T) {
	comp := replyWith(`{}`)
	p := newPipeline(staticDetector(words("x")), comp, nil)

	out := p.Run(context.Background(), Input{Data: []byte("not an image"), DocType: "bills"})
	assert.Equal(t, common.KindImageDecode, out.Kind())
	assert.Equal(t, StageLoading, out.FailedStage)
	assert.Equal(t, `{"error":"Could not decode image data"}`, string(out.JSON()))

	out = p.Run(context.Background(), Input{Path: "/definitely/missing.png", DocType: "bills"})
	assert.Equal(t, common.KindImageDecode, out.Kind())
	assert.Equal(t, `{"error":"Could not read image file: /definitely/missing.png"}`, string(out.JSON()))
	assert.Equal(t, 0, comp.Calls())
}

func TestRun_RetryExhaustion(t *testing.T) {
	inner := &fakeCompleter{reply: func(int) (string, error) {
		return "", &llm.ServiceError{Status: 503, Body: "unavailable"}
	}}
	clock := &instantClock{}
	comp := llm.Retrying(inner, llm.RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second, Clock: clock}, quietLogger())
	p := newPipeline(staticDetector(words("Total", "10")), comp, nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	assert.Equal(t, common.KindExtractionService, out.Kind())
	assert.Equal(t, StageExtracting, out.FailedStage)
	assert.Equal(t, 3, inner.Calls())
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 2, clock.sleeps.Load())
	assert.Equal(t, `{"error":"extraction service failed after retries"}`, string(out.JSON()))
}

func TestRun_RecoversAfterTwoFailedAttempts(t *testing.T) {
	inner := &fakeCompleter{reply: func(call int) (string, error) {
		if call < 3 {
			return "", &llm.ServiceError{Status: 503, Body: "unavailable"}
		}
		return `{"totalAmount": 10, "vendor": "Acme"}`, nil
	}}
	clock := &instantClock{}
	comp := llm.Retrying(inner, llm.RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second, Clock: clock}, quietLogger())
	p := newPipeline(staticDetector(words("Total", "10")), comp, nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	require.True(t, out.Succeeded(), "err: %v", out.Err)
	assert.Equal(t, 3, inner.Calls())
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 2, clock.sleeps.Load())
	assert.Equal(t, "Acme", out.Result["vendor"])
}

func TestRun_TimeoutIsDistinguishable(t *testing.T) {
	comp := llm.CompleterFunc(func(ctx context.Context, _ llm.CompletionRequest) (string, error) {
		<-ctx.Done()
		return "", &llm.ServiceError{Cause: ctx.Err()}
	})
	p := New(Deps{Detector: staticDetector(words("a")), Completer: comp},
		Config{RequestTimeout: 100 * time.Millisecond}, quietLogger())

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	assert.Equal(t, common.KindTimeout, out.Kind())
	assert.Equal(t, StageExtracting, out.FailedStage)
	assert.True(t, errors.Is(out.Err, &common.PipelineError{Kind: common.KindTimeout}))
	assert.Equal(t, `{"error":"request timed out during Extracting"}`, string(out.JSON()))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPipeline(staticDetector(words("a")), replyWith(`{}`), nil)

	out := p.Run(ctx, Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})
	assert.Equal(t, common.KindTimeout, out.Kind())
	assert.Equal(t, StageLoading, out.FailedStage)
}

func TestRun_DetectorPanicIsRecovered(t *testing.T) {
	det := ocr.DetectorFunc(func(context.Context, image.Image) ([]ocr.TextRegion, error) {
		panic("engine exploded")
	})
	p := newPipeline(det, replyWith(`{}`), nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	assert.Equal(t, common.KindUnhandled, out.Kind())
	assert.Equal(t, StageDetecting, out.FailedStage)
	assert.Equal(t, `{"error":"unexpected error during Detecting"}`, string(out.JSON()))
}

func TestRun_DetectorErrorIsUnhandled(t *testing.T) {
	det := ocr.DetectorFunc(func(context.Context, image.Image) ([]ocr.TextRegion, error) {
		return nil, errors.New("no engine")
	})
	p := newPipeline(det, replyWith(`{}`), nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "bills"})

	assert.Equal(t, common.KindUnhandled, out.Kind())
	assert.Equal(t, `{"error":"text detection failed: no engine"}`, string(out.JSON()))
}

func TestRun_SalaryDetectsOnBinaryImage(t *testing.T) {
	var seen []uint8
	var mu sync.Mutex
	det := ocr.DetectorFunc(func(_ context.Context, img image.Image) ([]ocr.TextRegion, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, color.GrayModel.Convert(img.At(5, 5)).(color.Gray).Y)
		return words("Salary", "1000"), nil
	})
	p := newPipeline(det, replyWith(`{"salaryIncome": 1000}`), nil)
	data := pngBytes(t, 20, 20, 128)

	require.NoError(t, p.Run(context.Background(), Input{Data: data, DocType: "salary"}).Err)
	require.NoError(t, p.Run(context.Background(), Input{Data: data, DocType: "bills"}).Err)

	assert.Equal(t, []uint8{255, 128}, seen)
}

func TestRun_UnknownTypeUsesGenericTemplate(t *testing.T) {
	comp := replyWith(`{"amount": 5}`)
	p := newPipeline(staticDetector(words("5")), comp, nil)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "receipt"})

	require.NoError(t, out.Err)
	assert.Equal(t, constants.Other, out.DocType)
	assert.Contains(t, comp.prompts[0], "financial document parser")
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []Stage
	done   *Outcome
}

func (r *recordingObserver) OnStart(ctx context.Context, _ Input) context.Context { return ctx }
func (r *recordingObserver) OnStage(_ context.Context, s Stage, _ *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}
func (r *recordingObserver) OnFinish(_ context.Context, out *Outcome) { r.done = out }

func TestRun_ObserverSeesEveryTransition(t *testing.T) {
	obs := &recordingObserver{}
	p := newPipeline(staticDetector(words("a")), replyWith(`{"amount":1}`), obs)

	out := p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "other"})

	require.NoError(t, out.Err)
	assert.Equal(t, append(Stages(), StageDone), obs.stages)
	assert.Same(t, out, obs.done)

	obs = &recordingObserver{}
	p = newPipeline(staticDetector(nil), replyWith(`{}`), obs)
	p.Run(context.Background(), Input{Data: pngBytes(t, 20, 20, 255), DocType: "other"})
	assert.Equal(t, []Stage{
		StageLoading, StagePreprocessing, StageDetecting, StageAnnotating, StageAggregating, StageFailed,
	}, obs.stages)
}

func TestMetrics_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	ok := newPipeline(staticDetector(words("a")), replyWith(`{"amount":1}`), m)
	empty := newPipeline(staticDetector(nil), replyWith(`{}`), m)
	ok.Run(context.Background(), Input{Data: pngBytes(t, 10, 10, 255), DocType: "bills"})
	empty.Run(context.Background(), Input{Data: pngBytes(t, 10, 10, 255), DocType: "bills"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bills", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bills", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("Aggregating", "NO_TEXT_EXTRACTED")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "double registration must fail")
}

func TestDetectVariant(t *testing.T) {
	assert.Equal(t, VariantBinary, DetectVariant(constants.Salary))
	assert.Equal(t, VariantGray, DetectVariant(constants.Bills))
	assert.Equal(t, VariantGray, DetectVariant(constants.Other))
}
