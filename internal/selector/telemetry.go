package selector

import (
	"sort"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"scrapcore/internal/selectorconfig"
)

// stats aggregates in-process counters for one semantic name (spec
// §4.3 Telemetry: "total, successes, per-strategy success counts,
// rolling latency histogram").
type stats struct {
	Total             int
	Successes         int
	PerStrategy       map[selectorconfig.StrategyKind]int
	recentDurationsMs []int64
}

const maxRollingSamples = 256

// Counters tracks per-semantic-name resolution telemetry. Keys preserve
// first-seen insertion order so reporting is deterministic, via the
// ordered map promoted from the retrieval pack's indirect dependency
// graph.
type Counters struct {
	mu   sync.Mutex
	byName *orderedmap.OrderedMap[string, *stats]
}

// NewCounters returns an empty Counters.
func NewCounters() *Counters {
	return &Counters{byName: orderedmap.New[string, *stats]()}
}

func (c *Counters) record(name string, strategyUsed selectorconfig.StrategyKind, matched bool, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.byName.Get(name)
	if !ok {
		s = &stats{PerStrategy: map[selectorconfig.StrategyKind]int{}}
		c.byName.Set(name, s)
	}
	s.Total++
	if matched {
		s.Successes++
		s.PerStrategy[strategyUsed]++
	}
	s.recentDurationsMs = append(s.recentDurationsMs, durationMs)
	if len(s.recentDurationsMs) > maxRollingSamples {
		s.recentDurationsMs = s.recentDurationsMs[len(s.recentDurationsMs)-maxRollingSamples:]
	}
}

// Snapshot is a point-in-time, read-only view of one name's counters.
type Snapshot struct {
	Name        string
	Total       int
	Successes   int
	PerStrategy map[selectorconfig.StrategyKind]int
	P50, P95, P99 int64
}

// Snapshots returns every tracked name's counters in first-seen order.
func (c *Counters) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, c.byName.Len())
	for pair := c.byName.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		p50, p95, p99 := percentiles(s.recentDurationsMs)
		perStrategy := make(map[selectorconfig.StrategyKind]int, len(s.PerStrategy))
		for k, v := range s.PerStrategy {
			perStrategy[k] = v
		}
		out = append(out, Snapshot{
			Name:        pair.Key,
			Total:       s.Total,
			Successes:   s.Successes,
			PerStrategy: perStrategy,
			P50:         p50,
			P95:         p95,
			P99:         p99,
		})
	}
	return out
}

func percentiles(samples []int64) (p50, p95, p99 int64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(pct float64) int64 {
		idx := int(pct * float64(len(sorted)-1))
		return sorted[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}
