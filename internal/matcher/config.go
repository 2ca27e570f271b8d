// Package matcher provides the rule matching engine used to categorize transactions.
//
// A rule pairs a text pattern with a category and a base confidence. The engine
// evaluates the mature, active rules of one tenant against a transaction description
// using one of six strategies:
//   - exact: the whole description equals the pattern
//   - contains: the pattern occurs in the description
//   - wildcard: '*' matches any run of characters and '?' exactly one
//   - tokens: every pattern word occurs among the description words, in any order
//   - fuzzy: a window of one to five consecutive words is close to the pattern
//   - regex: a case-insensitive regular expression
//
// All comparisons are case-insensitive. When a strategy cannot be applied (a
// malformed regular expression stored before validation existed, for instance) the
// engine falls back to plain containment instead of failing the transaction.
//
// The same similarity measure drives rule hygiene: conflict detection between
// existing rules, the duplicate gate applied when a rule is created and the
// search for similar rules.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	engine, err := matcher.NewEngine(ruleStore, config)
//	match, err := engine.Match(ctx, "PAGAMENTO SALARIO OUTUBRO", companyID)
//	if match != nil {
//		fmt.Println(match.Rule.CategoryID, match.Confidence)
//	}
package matcher

import (
	"fmt"
	"strings"
	"time"

	"statement-categorization-service/internal/models"
)

// Selection decides which rule wins when several rules match the same text
type Selection int

const (
	// SelectBest evaluates every rule and keeps the highest final confidence.
	// Ties keep the rule that comes first in confidence order.
	SelectBest Selection = iota

	// SelectFirst stops at the first rule that matches, in descending base
	// confidence order. A later rule with a higher final score is never seen.
	SelectFirst
)

// String returns the string representation of Selection
func (s Selection) String() string {
	switch s {
	case SelectBest:
		return "best"
	case SelectFirst:
		return "first"
	default:
		return "unknown"
	}
}

// ParseSelection parses a selection policy name
func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best":
		return SelectBest, nil
	case "first":
		return SelectFirst, nil
	default:
		return SelectBest, fmt.Errorf("invalid selection policy '%s': must be best or first", s)
	}
}

// MatchingConfig holds the tunables of rule evaluation and rule hygiene checks
type MatchingConfig struct {
	// Selection is the tie-break policy between matching rules
	Selection Selection `json:"selection"`

	// FuzzyThreshold is the minimum similarity for a fuzzy window to match
	FuzzyThreshold float64 `json:"fuzzy_threshold"`

	// FuzzyMaxWindow is the largest number of consecutive words compared to a fuzzy pattern
	FuzzyMaxWindow int `json:"fuzzy_max_window"`

	// ExactBonus is added when the text equals the pattern
	ExactBonus int `json:"exact_bonus"`

	// ContainsBonus is added to contains rules when the literal pattern occurs in the text
	ContainsBonus int `json:"contains_bonus"`

	// Penalties are subtracted per rule type to reflect looser strategies
	Penalties map[models.RuleType]int `json:"penalties"`

	// MinConfidence and MaxConfidence clamp the final score
	MinConfidence int `json:"min_confidence"`
	MaxConfidence int `json:"max_confidence"`

	// ConflictThreshold is the similarity at which two rules are considered similar
	ConflictThreshold float64 `json:"conflict_threshold"`

	// DuplicateWarningThreshold is the similarity at which a new rule pointing at a
	// different category raises a warning
	DuplicateWarningThreshold float64 `json:"duplicate_warning_threshold"`

	// SnapshotTTL keeps a tenant's rule set in memory between matches. Zero reloads
	// the rules on every match.
	SnapshotTTL time.Duration `json:"snapshot_ttl"`

	// RecordUsage increments a rule's usage counter when it wins a match
	RecordUsage bool `json:"record_usage"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		Selection:      SelectBest,
		FuzzyThreshold: 0.85,
		FuzzyMaxWindow: 5,
		ExactBonus:     10,
		ContainsBonus:  5,
		Penalties: map[models.RuleType]int{
			models.RuleTypeExact:    0,
			models.RuleTypeContains: 0,
			models.RuleTypeWildcard: 2,
			models.RuleTypeTokens:   5,
			models.RuleTypeFuzzy:    8,
			models.RuleTypeRegex:    3,
		},
		MinConfidence:             50,
		MaxConfidence:             100,
		ConflictThreshold:         0.8,
		DuplicateWarningThreshold: 0.9,
		SnapshotTTL:               0,
		RecordUsage:               false,
	}
}

// FirstMatchConfig returns the default configuration with first-match selection
func FirstMatchConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.Selection = SelectFirst
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.Selection != SelectBest && mc.Selection != SelectFirst {
		return fmt.Errorf("unknown selection policy: %d", mc.Selection)
	}

	if mc.FuzzyThreshold <= 0.0 || mc.FuzzyThreshold > 1.0 {
		return fmt.Errorf("fuzzy threshold must be in (0.0, 1.0]: %f", mc.FuzzyThreshold)
	}

	if mc.FuzzyMaxWindow < 1 {
		return fmt.Errorf("fuzzy window must be at least 1: %d", mc.FuzzyMaxWindow)
	}

	if mc.MinConfidence < 0 || mc.MaxConfidence > 100 || mc.MinConfidence > mc.MaxConfidence {
		return fmt.Errorf("confidence bounds must satisfy 0 <= min <= max <= 100: [%d, %d]", mc.MinConfidence, mc.MaxConfidence)
	}

	for ruleType, penalty := range mc.Penalties {
		if !ruleType.IsValid() {
			return fmt.Errorf("penalty configured for unknown rule type '%s'", ruleType)
		}
		if penalty < 0 {
			return fmt.Errorf("penalty for %s cannot be negative: %d", ruleType, penalty)
		}
	}

	if mc.ConflictThreshold <= 0.0 || mc.ConflictThreshold > 1.0 {
		return fmt.Errorf("conflict threshold must be in (0.0, 1.0]: %f", mc.ConflictThreshold)
	}

	if mc.DuplicateWarningThreshold <= 0.0 || mc.DuplicateWarningThreshold > 1.0 {
		return fmt.Errorf("duplicate warning threshold must be in (0.0, 1.0]: %f", mc.DuplicateWarningThreshold)
	}

	if mc.SnapshotTTL < 0 {
		return fmt.Errorf("snapshot TTL cannot be negative: %s", mc.SnapshotTTL)
	}

	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	clone.Penalties = make(map[models.RuleType]int, len(mc.Penalties))
	for k, v := range mc.Penalties {
		clone.Penalties[k] = v
	}
	return &clone
}

// Penalty returns the score reduction of a rule type
func (mc *MatchingConfig) Penalty(ruleType models.RuleType) int {
	return mc.Penalties[ruleType]
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Selection: %s, Fuzzy: %.2f/%d words, Confidence: [%d, %d], Conflict: %.2f, Duplicate: %.2f}",
		mc.Selection, mc.FuzzyThreshold, mc.FuzzyMaxWindow, mc.MinConfidence, mc.MaxConfidence,
		mc.ConflictThreshold, mc.DuplicateWarningThreshold)
}
