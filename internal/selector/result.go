// Package selector resolves semantic selector names to concrete DOM
// elements by trying a descriptor's strategies in priority order,
// scoring each candidate, and returning the best match with confidence
// metadata (spec §4.3).
package selector

import (
	"scrapcore/internal/domdriver"
	"scrapcore/internal/selectorconfig"
)

// AttemptStatus classifies the outcome of trying one strategy.
type AttemptStatus string

const (
	StatusMatched AttemptStatus = "matched"
	StatusNoMatch AttemptStatus = "no_match"
	StatusTimeout AttemptStatus = "timeout"
	StatusError   AttemptStatus = "error"
)

// AttemptRecord is present for every strategy actually tried during a
// resolution (spec §3 invariant).
type AttemptRecord struct {
	StrategyKind selectorconfig.StrategyKind
	Status       AttemptStatus
	Err          error
	DurationMs   int64
}

// Result is the outcome of a resolve call.
type Result struct {
	Handle        *domdriver.Handle
	StrategyUsed  selectorconfig.StrategyKind
	Confidence    float64
	Attempts      []AttemptRecord
	DurationMs    int64
	CorrelationID string
	CacheHit      bool
	DOMGeneration uint64
}

// Matched reports whether Result carries a usable element handle.
func (r Result) Matched() bool {
	return r.Handle != nil
}
