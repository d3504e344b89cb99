package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/tax"
)

const (
	RequestIDHeader = "X-Request-ID"
	jsonContentType = "application/json; charset=utf-8"
)

// Runner is the part of *pipeline.Pipeline the HTTP surface needs.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) *pipeline.Outcome
}

type ExtractHandler struct {
	runner   Runner
	maxBytes int64
	logger   *slog.Logger
}

func NewExtractHandler(runner Runner, maxBytes int64, logger *slog.Logger) *ExtractHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &ExtractHandler{runner: runner, maxBytes: maxBytes, logger: logger}
}

// Extract accepts a multipart "file" plus "document_type" field, or a raw
// image body with ?document_type=. The response body is the outcome JSON.
func (h *ExtractHandler) Extract(c *gin.Context) {
	docType := strings.TrimSpace(c.PostForm("document_type"))
	if docType == "" {
		docType = strings.TrimSpace(c.Query("document_type"))
	}

	data, err := h.readUpload(c)
	if errors.Is(err, errTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}

	v := common.NewValidator().
		Field("file", data, common.Required).
		Field("document_type", docType, common.Required)
	if v.HasErrors() {
		c.JSON(http.StatusBadRequest, gin.H{"error": v.ErrorMessage()})
		return
	}

	out := h.runner.Run(c.Request.Context(), pipeline.Input{Data: data, DocType: docType})
	c.Header(RequestIDHeader, out.RequestID)
	c.Data(common.HTTPStatus(out.Kind()), jsonContentType, out.JSON())
}

var errTooLarge = errors.New("upload exceeds limit")

func (h *ExtractHandler) readUpload(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, err
		}
		if fh.Size > h.maxBytes {
			return nil, errTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	b, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > h.maxBytes {
		return nil, errTooLarge
	}
	return b, nil
}

// MaxReportBodyBytes caps the /generate-report request body.
const MaxReportBodyBytes = 64 << 10

const reportFailedMessage = "failed to generate report"

// ReportGenerator is the part of *tax.Service the HTTP surface needs.
type ReportGenerator interface {
	Generate(ctx context.Context, body []byte) (tax.Report, error)
}

type TaxHandler struct {
	svc    ReportGenerator
	logger *slog.Logger
}

func NewTaxHandler(svc ReportGenerator, logger *slog.Logger) *TaxHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaxHandler{svc: svc, logger: logger}
}

// GenerateReport computes the tax report for a JSON body.
func (h *TaxHandler) GenerateReport(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxReportBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": tax.InvalidInputMessage})
		return
	}
	rep, err := h.svc.Generate(c.Request.Context(), body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, rep)
	case errors.Is(err, common.ErrValidation):
		var ae *common.AppError
		details := err.Error()
		if errors.As(err, &ae) {
			details = ae.Message
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": tax.InvalidInputMessage, "details": details})
	case errors.Is(err, common.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": tax.InvalidInputMessage})
	default:
		h.logger.Error("tax.report.failed", "req_id", common.RequestIDFromContext(c.Request.Context()), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": reportFailedMessage})
	}
}
