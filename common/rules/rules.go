package rules

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
)

// Rule kinds form a closed set. Unknown kinds are not loader errors; they
// surface as per-rule evaluation errors so one bad rule cannot block a file.
const (
	KindStalePR          = "stale_pr"
	KindWIPLimitExceeded = "wip_limit_exceeded"
	KindPRWithoutReview  = "pr_without_review"
	KindNoTicketLink     = "no_ticket_link"
)

// KnownKind reports whether kind belongs to the closed set
func KnownKind(kind string) bool {
	switch kind {
	case KindStalePR, KindWIPLimitExceeded, KindPRWithoutReview, KindNoTicketLink:
		return true
	}
	return false
}

// Rule is one entry of the ordered rule list
type Rule struct {
	Name       string                 `yaml:"name" json:"name"`
	Kind       string                 `yaml:"kind" json:"kind"`
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters"`

	// When is an optional CEL expression over the match context; matches
	// failing the filter are dropped before policy evaluation.
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// document is the on-disk shape of a rule file
type document struct {
	Rules []Rule `yaml:"rules"`
}

// Parse decodes a YAML rule document. Structural problems (missing name,
// empty kind, duplicate names) fail the whole document; unknown kinds do not.
func Parse(data []byte) ([]Rule, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "malformed rules YAML")
	}

	seen := make(map[string]bool, len(doc.Rules))
	for i, rule := range doc.Rules {
		if rule.Name == "" {
			return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("rule %d has no name", i))
		}
		if rule.Kind == "" {
			return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("rule %q has no kind", rule.Name))
		}
		if seen[rule.Name] {
			return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("duplicate rule name %q", rule.Name))
		}
		seen[rule.Name] = true
	}

	return doc.Rules, nil
}

// Loader serves the current rule list, re-reading the file when its mtime
// changes. An invalid file never replaces a previously good list.
type Loader struct {
	path   string
	logger *logger.Logger

	mu      sync.RWMutex
	rules   []Rule
	modTime time.Time
	loaded  bool
}

// NewLoader creates a loader for the rule file at path
func NewLoader(path string, log *logger.Logger) *Loader {
	return &Loader{path: path, logger: log}
}

// Current returns the rule list, reloading from disk if the file changed.
// A missing or invalid file after a successful load keeps the old list.
func (l *Loader) Current() ([]Rule, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		l.mu.RLock()
		defer l.mu.RUnlock()
		if l.loaded {
			return l.rules, nil
		}
		return nil, fmt.Errorf("failed to stat rules file: %w", err)
	}

	l.mu.RLock()
	fresh := l.loaded && info.ModTime().Equal(l.modTime)
	if fresh {
		rules := l.rules
		l.mu.RUnlock()
		return rules, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		l.logger.Warn("keeping previous rules, new file is invalid", "path", l.path, "error", err)
		l.mu.RLock()
		defer l.mu.RUnlock()
		if l.loaded {
			return l.rules, nil
		}
		return nil, err
	}

	l.mu.Lock()
	l.rules = parsed
	l.modTime = info.ModTime()
	l.loaded = true
	l.mu.Unlock()

	l.logger.Info("loaded rules", "path", l.path, "count", len(parsed))
	return parsed, nil
}

// IntParam reads an integer parameter with a default
func (r Rule) IntParam(name string, def int) int {
	v, ok := r.Parameters[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// StringParam reads a string parameter with a default
func (r Rule) StringParam(name, def string) string {
	if v, ok := r.Parameters[name].(string); ok && v != "" {
		return v
	}
	return def
}
