package llm

import "strings"

// Price is a rate in USD per million tokens
type Price struct {
	Prompt     float64
	Completion float64
}

// defaultPrices covers the deployments the pipeline is normally pointed at
var defaultPrices = map[string]Price{
	"gpt-5.2":      {Prompt: 1.75, Completion: 14.00},
	"gpt-4o":       {Prompt: 2.50, Completion: 10.00},
	"gpt-4o-mini":  {Prompt: 0.15, Completion: 0.60},
	"o1":           {Prompt: 15.00, Completion: 60.00},
	"o1-mini":      {Prompt: 1.10, Completion: 4.40},
	"o1-preview":   {Prompt: 15.00, Completion: 60.00},
	"gpt-4-turbo":  {Prompt: 10.00, Completion: 30.00},
	"gpt-4":        {Prompt: 30.00, Completion: 60.00},
	"gpt-35-turbo": {Prompt: 0.50, Completion: 1.50},
}

// PriceTable resolves per-model rates
type PriceTable struct {
	prices map[string]Price
}

// NewPriceTable returns the built-in rates with overrides layered on top
func NewPriceTable(overrides map[string]Price) *PriceTable {
	prices := make(map[string]Price, len(defaultPrices)+len(overrides))
	for k, v := range defaultPrices {
		prices[k] = v
	}
	for k, v := range overrides {
		prices[strings.ToLower(k)] = v
	}
	return &PriceTable{prices: prices}
}

// Lookup finds the rate for a model name: exact match first, then the
// longest table key the name starts with or contains. Unknown models cost nothing.
func (t *PriceTable) Lookup(name string) (Price, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if p, ok := t.prices[name]; ok {
		return p, true
	}

	best := ""
	for key := range t.prices {
		if (strings.HasPrefix(name, key) || strings.Contains(name, key)) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return Price{}, false
	}
	return t.prices[best], true
}

// Cost prices a usage: tokens times rate divided by one million
func (t *PriceTable) Cost(name string, usage Usage) (prompt, completion, total float64) {
	p, _ := t.Lookup(name)
	prompt = float64(usage.Prompt()) * p.Prompt / 1_000_000
	completion = float64(usage.Completion()) * p.Completion / 1_000_000
	return prompt, completion, prompt + completion
}
