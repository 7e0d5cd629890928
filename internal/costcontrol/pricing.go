// Package costcontrol prices completed exchanges and estimates request
// token counts for budget enforcement.
package costcontrol

import "strings"

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// exactPricing maps full model names to pricing.
var exactPricing = map[string]ModelPricing{
	"claude-opus-4-6":            {InputPerMTok: 5, OutputPerMTok: 25},
	"claude-opus-4-0-20250514":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0-20250514": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5-20251001":  {InputPerMTok: 1, OutputPerMTok: 5},

	"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5},

	"claude-3-5-sonnet-20241022": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	"gpt-4o":                 {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-2024-11-20":      {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":            {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o-mini-2024-07-18": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
}

// familyPricing maps model name prefixes to pricing. Lookup picks the
// longest matching prefix so "claude-opus-4-6" wins over "claude-opus".
var familyPricing = map[string]ModelPricing{
	"claude-opus-4-6":   {InputPerMTok: 5, OutputPerMTok: 25},
	"claude-opus-4-0":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	"claude-opus":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"gpt-4o-mini":   {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":        {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4":         {InputPerMTok: 10, OutputPerMTok: 30},
}

// defaultPricing prices unknown models conservatively so a typo in a model
// name cannot bypass a budget.
var defaultPricing = ModelPricing{InputPerMTok: 15, OutputPerMTok: 75}

// GetModelPricing resolves pricing for a model: exact name first, then
// longest family prefix, then the conservative default.
func GetModelPricing(model string) ModelPricing {
	if p, ok := exactPricing[model]; ok {
		return p
	}
	bestPrefix := ""
	var best ModelPricing
	for prefix, p := range familyPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			best = p
		}
	}
	if bestPrefix != "" {
		return best
	}
	return defaultPricing
}

// CalculateCost computes the USD cost of an exchange from token counts.
func CalculateCost(inputTokens, outputTokens int, pricing ModelPricing) float64 {
	return float64(inputTokens)/1_000_000*pricing.InputPerMTok +
		float64(outputTokens)/1_000_000*pricing.OutputPerMTok
}

// CalculateCostWithCache adds prompt-cache accounting: cache writes bill at
// 1.25x the input rate, cache reads at 0.1x. Plain input tokens exclude the
// cached portions.
func CalculateCostWithCache(inputTokens, outputTokens, cacheCreationTokens, cacheReadTokens int, pricing ModelPricing) float64 {
	cost := CalculateCost(inputTokens, outputTokens, pricing)
	cost += float64(cacheCreationTokens) / 1_000_000 * pricing.InputPerMTok * 1.25
	cost += float64(cacheReadTokens) / 1_000_000 * pricing.InputPerMTok * 0.1
	return cost
}
