package tokens

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
	"github.com/suPer8Hu/ai-chatdoc/internal/metrics"
)

var million = decimal.NewFromInt(1_000_000)

type Config struct {
	HighUsageThreshold int
	ContextWindow      int
	ContextWarnRatio   float64
	PerMessageTokens   int
	MaxHistoryTokens   int
}

func DefaultConfig() Config {
	return Config{
		HighUsageThreshold: 10000,
		ContextWindow:      200000,
		ContextWarnRatio:   0.8,
		PerMessageTokens:   50,
		MaxHistoryTokens:   50000,
	}
}

type Report struct {
	Model            string          `json:"model"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	OutputRatio      float64         `json:"output_ratio"`
	RatioApplicable  bool            `json:"ratio_applicable"`
	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd"`
	HighUsage        bool            `json:"high_usage"`
	NearContextLimit bool            `json:"near_context_limit"`
}

type Accountant struct {
	cfg   Config
	rates RateTable
}

func NewAccountant(cfg Config, rates RateTable) *Accountant {
	def := DefaultConfig()
	if cfg.HighUsageThreshold <= 0 {
		cfg.HighUsageThreshold = def.HighUsageThreshold
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = def.ContextWindow
	}
	if cfg.ContextWarnRatio <= 0 || cfg.ContextWarnRatio > 1 {
		cfg.ContextWarnRatio = def.ContextWarnRatio
	}
	if cfg.PerMessageTokens <= 0 {
		cfg.PerMessageTokens = def.PerMessageTokens
	}
	if cfg.MaxHistoryTokens <= 0 {
		cfg.MaxHistoryTokens = def.MaxHistoryTokens
	}
	if rates == nil {
		rates = NewStaticRates(3.0, 15.0)
	}
	return &Accountant{cfg: cfg, rates: rates}
}

// Summarize builds the usage report for one completion, logs it and records
// token metrics.
func (a *Accountant) Summarize(ctx context.Context, model string, u ai.Usage) Report {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}

	r := Report{
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
		EstimatedCostUSD: a.EstimateCost(model, u.PromptTokens, u.CompletionTokens),
		HighUsage:        total > a.cfg.HighUsageThreshold,
		NearContextLimit: float64(total) > float64(a.cfg.ContextWindow)*a.cfg.ContextWarnRatio,
	}
	if total > 0 {
		r.OutputRatio = float64(u.CompletionTokens) / float64(total) * 100
		r.RatioApplicable = true
	}

	logger := log.Ctx(ctx)
	logger.Info().
		Str("model", model).
		Int("input_tokens", r.PromptTokens).
		Int("output_tokens", r.CompletionTokens).
		Int("total_tokens", r.TotalTokens).
		Float64("output_ratio_pct", r.OutputRatio).
		Bool("ratio_applicable", r.RatioApplicable).
		Str("estimated_cost_usd", r.EstimatedCostUSD.StringFixed(6)).
		Msg("token usage")

	if r.HighUsage {
		logger.Warn().Int("total_tokens", total).Int("threshold", a.cfg.HighUsageThreshold).Msg("high token usage")
		metrics.RecordUsageWarning("high_usage")
	}
	if r.NearContextLimit {
		logger.Warn().Int("total_tokens", total).Int("context_window", a.cfg.ContextWindow).Msg("approaching context window limit")
		metrics.RecordUsageWarning("near_context_limit")
	}

	metrics.RecordTokens(model, r.PromptTokens, r.CompletionTokens)
	cost, _ := r.EstimatedCostUSD.Float64()
	metrics.RecordCost(model, cost)
	return r
}

func (a *Accountant) EstimateCost(model string, promptTokens, completionTokens int) decimal.Decimal {
	rate := a.rates.RateFor(model)
	in := decimal.NewFromInt(int64(promptTokens)).Mul(rate.InputPerMillion).Div(million)
	out := decimal.NewFromInt(int64(completionTokens)).Mul(rate.OutputPerMillion).Div(million)
	return in.Add(out)
}

// ShouldTrimHistory is advisory: it reports whether the estimated history
// size exceeds the configured maximum but never trims anything itself.
func (a *Accountant) ShouldTrimHistory(history []ai.Message) bool {
	return len(history)*a.cfg.PerMessageTokens > a.cfg.MaxHistoryTokens
}
