package selector

import (
	"context"
	"sync"
	"time"

	"scrapcore/internal/correlation"
	"scrapcore/internal/domdriver"
	"scrapcore/internal/eventbus"
	"scrapcore/internal/selectorconfig"
)

// Driver is the subset of the DOM Driver Facade the engine needs to
// query and inspect candidates. Satisfied by *domdriver.Facade; defined
// here so tests can supply a fake driver against a fixture DOM.
type Driver interface {
	QueryAll(ctx context.Context, q domdriver.Query, timeout time.Duration) ([]*domdriver.Handle, error)
	IsVisible(ctx context.Context, h *domdriver.Handle) (bool, error)
	InnerText(ctx context.Context, h *domdriver.Handle) (string, error)
	Click(ctx context.Context, h *domdriver.Handle) error
	Fill(ctx context.Context, h *domdriver.Handle, text string) error
	Press(ctx context.Context, h *domdriver.Handle, key string) error
	Hover(ctx context.Context, h *domdriver.Handle) error
	ScrollIntoView(ctx context.Context, h *domdriver.Handle) error
}

// TabContext is the minimal view of a browsing context the engine needs:
// its id for cache partitioning and a live accessor for the current
// dom_generation_counter so mid-resolution navigation can be detected.
type TabContext struct {
	ID         string
	Scope      string
	Generation func() uint64
}

type cacheEntry struct {
	handle       *domdriver.Handle
	generation   uint64
	strategyUsed selectorconfig.StrategyKind
	confidence   float64
}

// Engine resolves semantic selectors against live tab contexts (spec
// §4.3).
type Engine struct {
	store    *selectorconfig.Store
	bus      *eventbus.Bus
	Counters *Counters

	mu    sync.Mutex
	cache map[string]cacheEntry // key: contextID + "\x00" + semanticName
}

// New constructs an Engine reading descriptors from store and publishing
// telemetry to bus.
func New(store *selectorconfig.Store, bus *eventbus.Bus) *Engine {
	return &Engine{
		store:    store,
		bus:      bus,
		Counters: NewCounters(),
		cache:    make(map[string]cacheEntry),
	}
}

const (
	retryBackoffBase = 100 * time.Millisecond
	retryBackoffCap  = 2 * time.Second
	maxAttemptTimeout = 2 * time.Second
)

func cacheKey(contextID, name string) string {
	return contextID + "\x00" + name
}

// Resolve runs a descriptor's strategies in priority order against tab,
// scoring candidates and returning the best match (spec §4.3 algorithm).
func (e *Engine) Resolve(ctx context.Context, name string, tab TabContext, facade Driver, correlationID string) (Result, error) {
	if correlationID == "" {
		correlationID = correlation.New()
	}
	started := time.Now()

	descriptor, ok := e.store.Active().Get(name, tab.Scope)
	if !ok {
		return Result{CorrelationID: correlationID}, &UnknownSelectorError{Name: name}
	}

	generation := tab.generation()

	if entry, hit := e.lookupCache(tab.ID, name, generation); hit {
		visible, err := facade.IsVisible(ctx, entry.handle)
		if err == nil && visible {
			e.Counters.record(name, entry.strategyUsed, true, 0)
			return Result{
				Handle:        entry.handle,
				StrategyUsed:  entry.strategyUsed,
				Confidence:    entry.confidence,
				DurationMs:    time.Since(started).Milliseconds(),
				CorrelationID: correlationID,
				CacheHit:      true,
				DOMGeneration: generation,
			}, nil
		}
		e.evictCache(tab.ID, name)
	}

	var allAttempts []AttemptRecord
	retries := descriptor.RetryCount

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if tab.generation() != generation {
				return Result{Attempts: allAttempts, CorrelationID: correlationID, DOMGeneration: tab.generation()},
					&ContextInvalidatedError{ContextID: tab.ID}
			}
			backoff := retryBackoffBase * time.Duration(1<<uint(attempt-1))
			if backoff > retryBackoffCap {
				backoff = retryBackoffCap
			}
			select {
			case <-ctx.Done():
				return Result{Attempts: allAttempts, CorrelationID: correlationID}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, attempts, matched := e.tryStrategies(ctx, descriptor, facade)
		allAttempts = append(allAttempts, attempts...)
		if matched {
			result.Attempts = allAttempts
			result.DurationMs = time.Since(started).Milliseconds()
			result.CorrelationID = correlationID
			result.DOMGeneration = generation
			e.storeCache(tab.ID, name, generation, result)
			e.Counters.record(name, result.StrategyUsed, true, result.DurationMs)
			e.publish(correlationID, eventbus.EventSelectorResolutionCompleted, map[string]interface{}{
				"semantic_name": name, "strategy_used": result.StrategyUsed,
				"confidence": result.Confidence, "attempts_count": len(allAttempts),
				"duration_ms": result.DurationMs, "cache_hit": false,
			})
			return result, nil
		}
	}

	e.Counters.record(name, "", false, time.Since(started).Milliseconds())
	e.publish(correlationID, eventbus.EventSelectorResolutionFailed, map[string]interface{}{
		"semantic_name": name, "attempts_count": len(allAttempts),
	})
	return Result{
		Attempts:      allAttempts,
		Confidence:    0,
		DurationMs:    time.Since(started).Milliseconds(),
		CorrelationID: correlationID,
		DOMGeneration: generation,
	}, nil
}

// tryStrategies runs one full pass over the descriptor's strategies in
// priority order, returning on the first candidate scoring at or above
// threshold.
func (e *Engine) tryStrategies(ctx context.Context, descriptor *selectorconfig.Descriptor, facade Driver) (Result, []AttemptRecord, bool) {
	var attempts []AttemptRecord

	for _, strategy := range descriptor.Strategies {
		attemptTimeout := time.Duration(descriptor.TimeoutMs) * time.Millisecond
		if attemptTimeout > maxAttemptTimeout || attemptTimeout == 0 {
			attemptTimeout = maxAttemptTimeout
		}

		started := time.Now()
		handles, err := facade.QueryAll(ctx, toQuery(strategy), attemptTimeout)
		elapsed := time.Since(started).Milliseconds()

		if err != nil {
			status := StatusNoMatch
			if dErr, ok := asDriverError(err); ok && dErr.Category == "timeout" {
				status = StatusTimeout
			} else if !ok {
				status = StatusError
			}
			attempts = append(attempts, AttemptRecord{StrategyKind: strategy.Kind, Status: status, Err: err, DurationMs: elapsed})
			continue
		}
		if len(handles) == 0 {
			attempts = append(attempts, AttemptRecord{StrategyKind: strategy.Kind, Status: StatusNoMatch, DurationMs: elapsed})
			continue
		}

		candidate := handles[0]
		visible, _ := facade.IsVisible(ctx, candidate)

		var candidateText string
		applicable := textMatchApplicable(strategy)
		if applicable {
			candidateText, _ = facade.InnerText(ctx, candidate)
		}

		validationPassed := e.validate(ctx, facade, candidate, descriptor)

		conf, disqualified := score(scoreInputs{
			weight:              strategy.Weight,
			matchCount:          len(handles),
			validationPassed:    validationPassed,
			visible:             visible,
			textMatchApplicable: applicable,
			candidateText:       candidateText,
			wantText:            wantText(strategy),
		})

		if disqualified || conf < descriptor.Confidence.Threshold {
			attempts = append(attempts, AttemptRecord{StrategyKind: strategy.Kind, Status: StatusNoMatch, DurationMs: elapsed})
			continue
		}

		attempts = append(attempts, AttemptRecord{StrategyKind: strategy.Kind, Status: StatusMatched, DurationMs: elapsed})
		return Result{Handle: candidate, StrategyUsed: strategy.Kind, Confidence: conf}, attempts, true
	}

	return Result{}, attempts, false
}

func (e *Engine) validate(ctx context.Context, facade Driver, h *domdriver.Handle, d *selectorconfig.Descriptor) bool {
	if d.Validation == nil {
		return true
	}
	text, err := facade.InnerText(ctx, h)
	if err != nil {
		return false
	}
	if d.Validation.Required && text == "" {
		return false
	}
	if d.Validation.MinLength > 0 && len(text) < d.Validation.MinLength {
		return false
	}
	if d.Validation.MaxLength > 0 && len(text) > d.Validation.MaxLength {
		return false
	}
	return true
}

func (e *Engine) lookupCache(contextID, name string, generation uint64) (cacheEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[cacheKey(contextID, name)]
	if !ok || entry.generation != generation {
		return cacheEntry{}, false
	}
	return entry, true
}

func (e *Engine) storeCache(contextID, name string, generation uint64, result Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[cacheKey(contextID, name)] = cacheEntry{
		handle: result.Handle, generation: generation,
		strategyUsed: result.StrategyUsed, confidence: result.Confidence,
	}
}

func (e *Engine) evictCache(contextID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, cacheKey(contextID, name))
}

func (e *Engine) publish(correlationID, eventType string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: eventType, CorrelationID: correlationID, Timestamp: time.Now(),
		Severity: eventbus.SeverityInfo, Payload: payload,
	})
}

func (t TabContext) generation() uint64 {
	if t.Generation == nil {
		return 0
	}
	return t.Generation()
}

func toQuery(s selectorconfig.Strategy) domdriver.Query {
	q := domdriver.Query{Kind: domdriver.QueryKind(s.Kind)}
	switch s.Kind {
	case selectorconfig.KindCSS:
		q.CSS = s.Params["selector"]
	case selectorconfig.KindXPath:
		q.XPath = s.Params["expression"]
	case selectorconfig.KindTextAnchor:
		q.Text = s.Params["text"]
	case selectorconfig.KindAttributeMatch:
		q.AttrName = s.Params["name"]
		q.AttrValue = s.Params["value"]
	case selectorconfig.KindRole:
		q.Role = s.Params["role"]
		q.Text = s.Params["name"]
	}
	return q
}

func asDriverError(err error) (*domdriver.DriverError, bool) {
	de, ok := err.(*domdriver.DriverError)
	return de, ok
}
