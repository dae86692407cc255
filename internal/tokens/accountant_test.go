package tokens

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
)

func history(n int) []ai.Message {
	return make([]ai.Message, n)
}

func TestShouldTrimHistory_Boundary(t *testing.T) {
	a := NewAccountant(DefaultConfig(), nil)

	// 1000 * 50 == 50000 is not over the limit
	assert.False(t, a.ShouldTrimHistory(history(1000)))
	assert.True(t, a.ShouldTrimHistory(history(1001)))
	assert.False(t, a.ShouldTrimHistory(nil))

	small := NewAccountant(Config{PerMessageTokens: 10, MaxHistoryTokens: 30}, nil)
	assert.False(t, small.ShouldTrimHistory(history(3)))
	assert.True(t, small.ShouldTrimHistory(history(4)))
}

func TestEstimateCost_DefaultRates(t *testing.T) {
	a := NewAccountant(DefaultConfig(), nil)

	// 1M input at $3 + 1M output at $15
	assert.True(t, decimal.NewFromInt(18).Equal(a.EstimateCost("any", 1_000_000, 1_000_000)))
	// 1000 in, 500 out: 0.003 + 0.0075
	assert.Equal(t, "0.0105", a.EstimateCost("any", 1000, 500).String())
}

func TestEstimateCost_PerModelRates(t *testing.T) {
	rates := NewStaticRates(3, 15)
	rates.Set("llama3", Rate{InputPerMillion: decimal.Zero, OutputPerMillion: decimal.Zero})
	rates.Set("gpt-4o", Rate{InputPerMillion: decimal.NewFromFloat(2.5), OutputPerMillion: decimal.NewFromInt(10)})
	a := NewAccountant(DefaultConfig(), rates)

	assert.True(t, a.EstimateCost("llama3:latest", 5000, 5000).IsZero())
	assert.Equal(t, "0.0125", a.EstimateCost("gpt-4o", 1000, 1000).String())
	assert.Equal(t, "0.018", a.EstimateCost("other", 1000, 1000).String())
}

func TestSummarize(t *testing.T) {
	a := NewAccountant(DefaultConfig(), nil)

	r := a.Summarize(context.Background(), "m", ai.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40})
	assert.Equal(t, 40, r.TotalTokens)
	assert.InDelta(t, 25.0, r.OutputRatio, 1e-9)
	assert.True(t, r.RatioApplicable)
	assert.False(t, r.HighUsage)
	assert.False(t, r.NearContextLimit)
}

func TestSummarize_ZeroTotalHasNoRatio(t *testing.T) {
	a := NewAccountant(DefaultConfig(), nil)
	r := a.Summarize(context.Background(), "m", ai.Usage{})
	assert.Equal(t, 0.0, r.OutputRatio)
	assert.False(t, r.RatioApplicable)
	assert.True(t, r.EstimatedCostUSD.IsZero())
}

func TestSummarize_Thresholds(t *testing.T) {
	a := NewAccountant(DefaultConfig(), nil)

	r := a.Summarize(context.Background(), "m", ai.Usage{PromptTokens: 10000, TotalTokens: 10000})
	assert.False(t, r.HighUsage, "equal to threshold is not high usage")

	r = a.Summarize(context.Background(), "m", ai.Usage{PromptTokens: 10001, TotalTokens: 10001})
	assert.True(t, r.HighUsage)
	assert.False(t, r.NearContextLimit)

	r = a.Summarize(context.Background(), "m", ai.Usage{PromptTokens: 160000, TotalTokens: 160000})
	assert.False(t, r.NearContextLimit, "exactly 80% is not over")

	r = a.Summarize(context.Background(), "m", ai.Usage{PromptTokens: 150000, CompletionTokens: 10001})
	assert.Equal(t, 160001, r.TotalTokens)
	assert.True(t, r.NearContextLimit)
}
