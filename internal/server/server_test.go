package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/tax"
)

func init() { gin.SetMode(gin.TestMode) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type runnerFunc func(ctx context.Context, in pipeline.Input) *pipeline.Outcome

func (f runnerFunc) Run(ctx context.Context, in pipeline.Input) *pipeline.Outcome { return f(ctx, in) }

func echoRunner(seen *pipeline.Input) Runner {
	return runnerFunc(func(ctx context.Context, in pipeline.Input) *pipeline.Outcome {
		*seen = in
		return &pipeline.Outcome{
			RequestID: common.RequestIDFromContext(ctx),
			State:     pipeline.StageDone,
			Result:    map[string]any{"vendor": "Acme"},
		}
	})
}

func newTestRouter(h Handlers) *gin.Engine {
	return NewRouter(h, 1<<20, quiet())
}

func TestHealth(t *testing.T) {
	r := newTestRouter(Handlers{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestExtract_Multipart(t *testing.T) {
	var seen pipeline.Input
	r := newTestRouter(Handlers{Extract: NewExtractHandler(echoRunner(&seen), 1<<20, quiet())})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "bill.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("PNGDATA"))
	require.NoError(t, mw.WriteField("document_type", "bills"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(RequestIDHeader, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"vendor":"Acme"}`, w.Body.String())
	assert.Equal(t, "rid-1", w.Header().Get(RequestIDHeader))
	assert.Equal(t, []byte("PNGDATA"), seen.Data)
	assert.Equal(t, "bills", seen.DocType)
}

func TestExtract_RawBody(t *testing.T) {
	var seen pipeline.Input
	r := newTestRouter(Handlers{Extract: NewExtractHandler(echoRunner(&seen), 1<<20, quiet())})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract?document_type=salary", bytes.NewReader([]byte("IMG")))
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "salary", seen.DocType)
	assert.Equal(t, []byte("IMG"), seen.Data)
}

func TestExtract_Validation(t *testing.T) {
	var seen pipeline.Input
	r := newTestRouter(Handlers{Extract: NewExtractHandler(echoRunner(&seen), 4, quiet())})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/extract?document_type=bills", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/extract", bytes.NewReader([]byte("IMG"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "document_type")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/extract?document_type=bills", bytes.NewReader([]byte("TOO LARGE"))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestExtract_FailureStatusFollowsKind(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{common.NoTextExtractedError(), http.StatusUnprocessableEntity, `{"error":"No text extracted from image."}`},
		{common.ImageDecodeError("Could not decode image data", nil), http.StatusBadRequest, `{"error":"Could not decode image data"}`},
		{common.ExtractionServiceError(llm.FailureMessage, nil), http.StatusBadGateway, `{"error":"extraction service failed after retries"}`},
		{common.TimeoutError("Extracting", context.DeadlineExceeded), http.StatusGatewayTimeout, `{"error":"request timed out during Extracting"}`},
		{common.ResponseParseError("Could not parse JSON from AI response: x", "raw", nil), http.StatusUnprocessableEntity, `{"error":"Could not parse JSON from AI response: x","rawText":"raw"}`},
	}
	for _, tc := range cases {
		runner := runnerFunc(func(context.Context, pipeline.Input) *pipeline.Outcome {
			return &pipeline.Outcome{State: pipeline.StageFailed, Err: tc.err}
		})
		r := newTestRouter(Handlers{Extract: NewExtractHandler(runner, 1<<20, quiet())})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/extract?document_type=bills", bytes.NewReader([]byte("IMG"))))
		assert.Equal(t, tc.status, w.Code, tc.body)
		assert.Equal(t, tc.body, w.Body.String())
	}
}

func TestGenerateReport(t *testing.T) {
	svc := &tax.Service{}
	r := newTestRouter(Handlers{Tax: NewTaxHandler(svc, quiet())})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-report",
		bytes.NewReader([]byte(`{"income_details":{"salary_income":1200000},"tax_paid":{"tds":50000}}`))))
	require.Equal(t, http.StatusOK, w.Code)
	var rep map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 640000.0, rep["taxable_income_old"])
	assert.Contains(t, rep, "investment_insights")

	for _, body := range []string{"", "{}", "nope"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-report", bytes.NewReader([]byte(body))))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Invalid input data"}`, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-report",
		bytes.NewReader([]byte(`{"income_details":{"salary_income":-5}}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "salary_income")
}

type reportFunc func(ctx context.Context, body []byte) (tax.Report, error)

func (f reportFunc) Generate(ctx context.Context, body []byte) (tax.Report, error) { return f(ctx, body) }

func TestGenerateReport_BodyLimitAndInternalErrors(t *testing.T) {
	var called bool
	gen := reportFunc(func(context.Context, []byte) (tax.Report, error) {
		called = true
		return tax.Report{}, errors.New("dial tcp 10.0.0.7:5432: connection refused")
	})
	r := newTestRouter(Handlers{Tax: NewTaxHandler(gen, quiet())})

	big := bytes.Repeat([]byte(" "), MaxReportBodyBytes+1)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-report", bytes.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, called, "oversized bodies never reach the generator")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-report",
		bytes.NewReader([]byte(`{"income_details":{"salary_income":1}}`))))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"failed to generate report"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "10.0.0.7")
}

type stubJobs struct {
	repository.ExtractJobRepository
	job *entity.ExtractJob
}

func (s stubJobs) List(context.Context, int) ([]*entity.ExtractJob, error) {
	return []*entity.ExtractJob{s.job}, nil
}

func (s stubJobs) Get(_ context.Context, id uuid.UUID) (*entity.ExtractJob, error) {
	if id == s.job.ID {
		return s.job, nil
	}
	return nil, common.ErrNotFound
}

func TestJobsRoutes(t *testing.T) {
	job := &entity.ExtractJob{ID: uuid.New(), Source: "a.png", DocType: "bills", Status: "LLM_OK"}
	jobs := stubJobs{job: job}
	r := newTestRouter(Handlers{Jobs: NewJobsHandler(jobs, export.NewService(jobs, quiet()), quiet())})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=5", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), job.ID.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/export.xlsx", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := pipeline.NewMetrics(reg)
	require.NoError(t, err)
	r := newTestRouter(Handlers{Gatherer: reg})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServe_HealthAndShutdown(t *testing.T) {
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer, hs := NewGRPCServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Servers{
			HTTP:    &http.Server{Handler: newTestRouter(Handlers{})},
			HTTPLis: httpLis,
			GRPC:    grpcServer,
			GRPCLis: grpcLis,
			Health:  hs,
		}, quiet())
	}()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(cctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	res, err := http.Get("http://" + httpLis.Addr().String() + "/health")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("servers did not stop")
	}
}
