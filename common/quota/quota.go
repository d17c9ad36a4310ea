package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opsrelay/opsrelay/common/telemetry"
)

// Quota kinds for outbound side effects
const (
	KindSlackPosts  = "slack_posts"
	KindRAGSearches = "rag_searches"
)

// ErrExceeded is a typed quota error. The runner treats it as a permanent
// failure, never as a retry candidate.
type ErrExceeded struct {
	Kind  string
	Limit int
}

func (e *ErrExceeded) Error() string {
	return fmt.Sprintf("daily quota exceeded for %s (limit %d)", e.Kind, e.Limit)
}

// IsExceeded reports whether err is a quota denial
func IsExceeded(err error) bool {
	var q *ErrExceeded
	return errors.As(err, &q)
}

// Counters tracks per-day usage for each quota kind. Counters are process
// local; the day boundary is UTC.
type Counters struct {
	mu      sync.Mutex
	day     string
	used    map[string]int
	limits  map[string]int
	metrics *telemetry.Metrics
	now     func() time.Time
}

// New creates counters with the configured per-kind limits. A zero or
// negative limit means the kind is unlimited.
func New(limits map[string]int, metrics *telemetry.Metrics) *Counters {
	return &Counters{
		used:    make(map[string]int),
		limits:  limits,
		metrics: metrics,
		now:     time.Now,
	}
}

// Consume reserves one unit of kind, rolling the counters at the UTC day
// boundary. It returns ErrExceeded without consuming when the cap is reached.
func (c *Counters) Consume(kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDayLocked()

	limit := c.limits[kind]
	if limit > 0 && c.used[kind] >= limit {
		if c.metrics != nil {
			c.metrics.QuotaDenials.WithLabelValues(kind).Inc()
		}
		return &ErrExceeded{Kind: kind, Limit: limit}
	}

	c.used[kind]++
	return nil
}

// Usage is a point-in-time view of one quota kind
type Usage struct {
	Kind      string `json:"kind"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Snapshot reports current usage for every configured kind plus any kinds
// consumed without a configured limit.
func (c *Counters) Snapshot() []Usage {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDayLocked()

	kinds := make(map[string]bool, len(c.limits)+len(c.used))
	for k := range c.limits {
		kinds[k] = true
	}
	for k := range c.used {
		kinds[k] = true
	}

	out := make([]Usage, 0, len(kinds))
	for kind := range kinds {
		limit := c.limits[kind]
		used := c.used[kind]
		remaining := 0
		if limit > 0 {
			remaining = limit - used
			if remaining < 0 {
				remaining = 0
			}
		}
		out = append(out, Usage{Kind: kind, Used: used, Limit: limit, Remaining: remaining})
	}
	return out
}

// Day returns the UTC day the counters currently cover
func (c *Counters) Day() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDayLocked()
	return c.day
}

func (c *Counters) rollDayLocked() {
	today := c.now().UTC().Format("2006-01-02")
	if c.day != today {
		c.day = today
		c.used = make(map[string]int)
	}
}
