// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrCostLimitExceeded is returned when the configured spend ceiling has
// already been reached.
var ErrCostLimitExceeded = errors.New("llm cost limit exceeded")

// ModelPricing holds per-model token pricing in US dollars per 1K tokens.
//
// Thread Safety: ModelPricing is a value type, safe to copy.
type ModelPricing struct {
	// InputPer1K is the cost in USD per 1K prompt tokens.
	InputPer1K float64

	// OutputPer1K is the cost in USD per 1K completion tokens.
	OutputPer1K float64
}

// defaultPricing is keyed by base model name. Azure deployment names usually
// contain the base model, so lookup is by containment.
var defaultPricing = map[string]ModelPricing{
	"gpt-4o":       {InputPer1K: 5.00, OutputPer1K: 15.00},
	"gpt-4o-mini":  {InputPer1K: 0.150, OutputPer1K: 0.600},
	"gpt-4-turbo":  {InputPer1K: 10.00, OutputPer1K: 30.00},
	"gpt-4":        {InputPer1K: 30.00, OutputPer1K: 60.00},
	"gpt-35-turbo": {InputPer1K: 0.50, OutputPer1K: 1.50},
}

// unknownModelPricing is applied to models with no pricing entry.
var unknownModelPricing = ModelPricing{InputPer1K: 10.00, OutputPer1K: 30.00}

// CostEstimator tracks cumulative spend and enforces an optional ceiling.
//
// Description:
//
//	Estimates the cost of each completion from provider-reported token
//	usage. A limit of 0 means unlimited. Local providers (ollama) are
//	recorded at zero cost.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type CostEstimator struct {
	mu             sync.Mutex
	pricing        map[string]ModelPricing
	totalCostCents float64
	limitCents     float64
}

// NewCostEstimator creates a new cost estimator.
//
// Inputs:
//   - limitCents: Maximum cumulative cost in US cents. 0 means unlimited.
//
// Outputs:
//   - *CostEstimator: Configured estimator with default pricing.
func NewCostEstimator(limitCents float64) *CostEstimator {
	pricing := make(map[string]ModelPricing, len(defaultPricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	return &CostEstimator{
		pricing:    pricing,
		limitCents: limitCents,
	}
}

// CheckBudget returns ErrCostLimitExceeded once cumulative spend has
// reached the limit.
func (c *CostEstimator) CheckBudget() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limitCents > 0 && c.totalCostCents >= c.limitCents {
		return fmt.Errorf("%w: spent %.4f of %.4f cents", ErrCostLimitExceeded, c.totalCostCents, c.limitCents)
	}
	return nil
}

// Record records actual token usage and updates the cumulative cost.
//
// Inputs:
//   - provider: Backend provider name. "ollama" is free.
//   - model: The model or deployment name.
//   - promptTokens: Reported prompt token count.
//   - completionTokens: Reported completion token count.
//
// Outputs:
//   - float64: The cost of this call in US cents.
func (c *CostEstimator) Record(provider, model string, promptTokens, completionTokens int) float64 {
	if provider == "ollama" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.lookupPricingLocked(model)
	dollars := float64(promptTokens)/1000*p.InputPer1K + float64(completionTokens)/1000*p.OutputPer1K
	cents := dollars * 100
	c.totalCostCents += cents
	return cents
}

// TotalCostCents returns the cumulative cost in US cents.
func (c *CostEstimator) TotalCostCents() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCostCents
}

// Summary returns a human-readable cost summary.
func (c *CostEstimator) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limitCents == 0 {
		return fmt.Sprintf("total cost: $%.4f (unlimited)", c.totalCostCents/100)
	}
	return fmt.Sprintf("total cost: $%.4f / $%.4f limit", c.totalCostCents/100, c.limitCents/100)
}

// lookupPricingLocked finds pricing for a model. Caller must hold mu.
// The longest contained base name wins so "gpt-4o-mini-prod" resolves to
// gpt-4o-mini rather than gpt-4o.
func (c *CostEstimator) lookupPricingLocked(model string) ModelPricing {
	lower := strings.ToLower(model)
	if p, ok := c.pricing[lower]; ok {
		return p
	}

	best := ""
	for name := range c.pricing {
		if strings.Contains(lower, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return c.pricing[best]
	}
	return unknownModelPricing
}
