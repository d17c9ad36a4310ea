package policy

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
)

// Mode decides how a proposed action proceeds
type Mode string

const (
	ModeAuto            Mode = "auto"
	ModeAsk             Mode = "ask"
	ModeRequireApproval Mode = "require_approval"
)

// ValidMode reports whether m is a recognized mode
func ValidMode(m Mode) bool {
	return m == ModeAuto || m == ModeAsk || m == ModeRequireApproval
}

// Decision is the policy verdict for one (kind, context) input
type Decision struct {
	Allow  bool   `json:"allow"`
	Action string `json:"action"`
	Risk   string `json:"risk"`
	Mode   Mode   `json:"mode"`
	Reason string `json:"reason"`
}

// fallbackDecision applies when no table entry covers the kind
func fallbackDecision(kind string) Decision {
	return Decision{
		Allow:  true,
		Action: "nudge_chat",
		Risk:   string(models.RiskLow),
		Mode:   ModeAsk,
		Reason: fmt.Sprintf("no policy entry for %q, using default", kind),
	}
}

// ActionPolicy is one table entry
type ActionPolicy struct {
	Action string `yaml:"action" json:"action"`
	Risk   string `yaml:"risk" json:"risk"`
	Mode   Mode   `yaml:"mode" json:"mode"`
	Deny   bool   `yaml:"deny,omitempty" json:"deny,omitempty"`
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Document is the on-disk policy shape
type Document struct {
	Actions map[string]ActionPolicy `yaml:"actions"`
	Limits  map[string]int          `yaml:"limits,omitempty"`
}

// Parse decodes and validates a policy document
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "malformed policy YAML")
	}

	for kind, entry := range doc.Actions {
		if entry.Mode != "" && !ValidMode(entry.Mode) {
			return nil, apperrors.New(apperrors.KindValidation,
				fmt.Sprintf("policy for %q has invalid mode %q", kind, entry.Mode))
		}
		if entry.Risk != "" && !models.ValidRisk(entry.Risk) {
			return nil, apperrors.New(apperrors.KindValidation,
				fmt.Sprintf("policy for %q has invalid risk %q", kind, entry.Risk))
		}
	}
	return &doc, nil
}

// Table serves policy decisions from a YAML file, re-reading on mtime change.
// An invalid file never replaces a previously good table.
type Table struct {
	path   string
	logger *logger.Logger

	mu      sync.RWMutex
	doc     *Document
	modTime time.Time
}

// NewTable creates a table backed by the policy file at path
func NewTable(path string, log *logger.Logger) *Table {
	return &Table{path: path, logger: log}
}

// Evaluate returns the decision for kind, falling back to the permissive
// default when the table has no entry.
func (t *Table) Evaluate(kind string) Decision {
	doc := t.current()
	if doc == nil {
		return fallbackDecision(kind)
	}

	entry, ok := doc.Actions[kind]
	if !ok {
		return fallbackDecision(kind)
	}

	decision := Decision{
		Allow:  !entry.Deny,
		Action: entry.Action,
		Risk:   entry.Risk,
		Mode:   entry.Mode,
		Reason: entry.Reason,
	}
	if decision.Action == "" {
		decision.Action = "nudge_chat"
	}
	if decision.Risk == "" {
		decision.Risk = string(models.RiskLow)
	}
	if decision.Mode == "" {
		decision.Mode = ModeAsk
	}
	if decision.Reason == "" {
		decision.Reason = fmt.Sprintf("policy table entry for %q", kind)
	}
	return decision
}

// Limits returns the limits block of the current document
func (t *Table) Limits() map[string]int {
	doc := t.current()
	if doc == nil {
		return nil
	}
	return doc.Limits
}

func (t *Table) current() *Document {
	info, err := os.Stat(t.path)
	if err != nil {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.doc
	}

	t.mu.RLock()
	fresh := t.doc != nil && info.ModTime().Equal(t.modTime)
	if fresh {
		doc := t.doc
		t.mu.RUnlock()
		return doc
	}
	t.mu.RUnlock()

	data, err := os.ReadFile(t.path)
	if err != nil {
		t.logger.Warn("failed to read policy file", "path", t.path, "error", err)
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.doc
	}

	doc, err := Parse(data)
	if err != nil {
		t.logger.Warn("keeping previous policy, new file is invalid", "path", t.path, "error", err)
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.doc
	}

	t.mu.Lock()
	t.doc = doc
	t.modTime = info.ModTime()
	t.mu.Unlock()

	t.logger.Info("loaded policy", "path", t.path, "actions", len(doc.Actions))
	return doc
}
