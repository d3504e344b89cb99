package tax

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

const (
	NoInsightsMessage   = "No insights generated."
	insightsErrorPrefix = "Error fetching insights: "
)

// Advisor asks the model for narrative tax-saving advice.
type Advisor struct {
	completer llm.Completer
	logger    *slog.Logger
}

func NewAdvisor(c llm.Completer, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{completer: c, logger: logger}
}

// InsightsPrompt renders the advice request for the user's raw data.
func InsightsPrompt(raw map[string]any) (string, error) {
	b, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return "", err
	}
	return "Given the following user financial data:\n" + string(b) + "\n\n" +
		"Provide personalized tax-saving and investment insights, considering the Indian tax laws. " +
		"Format the response with clear headings and bullet points for readability.", nil
}

// Insights never fails: errors are reported inside the returned text.
func (a *Advisor) Insights(ctx context.Context, raw map[string]any) string {
	ctx, rid := common.EnsureRequestID(ctx)
	start := time.Now()

	prompt, err := InsightsPrompt(raw)
	if err != nil {
		return insightsErrorPrefix + err.Error()
	}
	text, err := a.completer.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		a.logger.Warn("tax.insights.failed", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return insightsErrorPrefix + err.Error()
	}
	if strings.TrimSpace(text) == "" {
		return NoInsightsMessage
	}
	a.logger.Info("tax.insights.ok", "req_id", rid, "chars", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text
}

// Service produces a full report. A nil advisor leaves insights empty.
type Service struct {
	Advisor *Advisor
}

func (s *Service) Generate(ctx context.Context, body []byte) (Report, error) {
	in, raw, err := ParseInput(body)
	if err != nil {
		return Report{}, err
	}
	rep := Compute(in)
	if s != nil && s.Advisor != nil {
		rep.InvestmentInsights = s.Advisor.Insights(ctx, raw)
	}
	return rep, nil
}
