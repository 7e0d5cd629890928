package costcontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetModelPricingExactMatch(t *testing.T) {
	p := GetModelPricing("claude-sonnet-4-5-20250929")
	assert.Equal(t, 3.0, p.InputPerMTok)
	assert.Equal(t, 15.0, p.OutputPerMTok)
}

func TestGetModelPricingLongestPrefixWins(t *testing.T) {
	// "claude-opus-4-6-preview" must match the claude-opus-4-6 family,
	// not the broader (and pricier) claude-opus family.
	p := GetModelPricing("claude-opus-4-6-preview")
	assert.Equal(t, 5.0, p.InputPerMTok)

	broad := GetModelPricing("claude-opus-9-experimental")
	assert.Equal(t, 15.0, broad.InputPerMTok)
}

func TestGetModelPricingUnknownIsConservative(t *testing.T) {
	p := GetModelPricing("totally-unknown-model")
	assert.Equal(t, defaultPricing, p)
}

func TestCalculateCost(t *testing.T) {
	pricing := ModelPricing{InputPerMTok: 3, OutputPerMTok: 15}
	cost := CalculateCost(1_000_000, 100_000, pricing)
	assert.InDelta(t, 3.0+1.5, cost, 1e-9)
}

func TestCalculateCostWithCache(t *testing.T) {
	pricing := ModelPricing{InputPerMTok: 10, OutputPerMTok: 20}
	cost := CalculateCostWithCache(100_000, 0, 1_000_000, 1_000_000, pricing)
	// 100k plain input = 1.0, cache write = 12.5, cache read = 1.0
	assert.InDelta(t, 1.0+12.5+1.0, cost, 1e-9)
}

func TestEstimateTokensNonEmpty(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Greater(t, EstimateTokens("hello world, this is a prompt"), 0)
}
