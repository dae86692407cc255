package tokens

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Rate is a USD price per million tokens.
type Rate struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

type RateTable interface {
	RateFor(model string) Rate
}

// StaticRates looks models up by exact name, then by prefix, then falls back
// to Default.
type StaticRates struct {
	Default Rate
	Models  map[string]Rate
}

func NewStaticRates(inputPerMillion, outputPerMillion float64) *StaticRates {
	return &StaticRates{
		Default: Rate{
			InputPerMillion:  decimal.NewFromFloat(inputPerMillion),
			OutputPerMillion: decimal.NewFromFloat(outputPerMillion),
		},
		Models: map[string]Rate{},
	}
}

func (r *StaticRates) Set(model string, rate Rate) {
	r.Models[strings.ToLower(model)] = rate
}

func (r *StaticRates) RateFor(model string) Rate {
	model = strings.ToLower(strings.TrimSpace(model))
	if rate, ok := r.Models[model]; ok {
		return rate
	}
	best := ""
	for name := range r.Models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return r.Models[best]
	}
	return r.Default
}
