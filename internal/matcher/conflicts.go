package matcher

import (
	"fmt"
	"sort"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

// ConflictKind classifies a pair of similar rules
type ConflictKind string

const (
	// ConflictCrossCategory is two similar patterns that assign different categories
	ConflictCrossCategory ConflictKind = "cross_category"

	// ConflictSameCategory is two similar patterns that are redundant
	ConflictSameCategory ConflictKind = "same_category"
)

// Severity of a rule conflict
type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityLow  Severity = "low"
)

// Conflict is a pair of similar rules of the same tenant
type Conflict struct {
	First      *models.CategorizationRule `json:"first"`
	Second     *models.CategorizationRule `json:"second"`
	Similarity float64                    `json:"similarity"`
	Kind       ConflictKind               `json:"kind"`
	Severity   Severity                   `json:"severity"`
}

// DuplicateWarning flags an existing rule that is nearly identical to a candidate
type DuplicateWarning struct {
	Rule       *models.CategorizationRule `json:"rule"`
	Similarity float64                    `json:"similarity"`
	Message    string                     `json:"message"`
}

// DuplicateCheck is the outcome of the duplicate gate
type DuplicateCheck struct {
	Blocked   bool
	Duplicate *models.CategorizationRule
	Warnings  []DuplicateWarning
}

// Err returns the blocking error, if any
func (dc *DuplicateCheck) Err() error {
	if dc == nil || !dc.Blocked {
		return nil
	}
	return errors.RuleError(errors.CodeDuplicateRule, dc.Duplicate.Pattern,
		fmt.Errorf("duplicates rule %s", dc.Duplicate.ID)).
		WithContext("existing_rule_id", dc.Duplicate.ID)
}

// SimilarRule is a rule ranked by pattern similarity
type SimilarRule struct {
	Rule       *models.CategorizationRule `json:"rule"`
	Similarity float64                    `json:"similarity"`
}

// RuleAuditor inspects rule sets for conflicts, duplicates and orphans
type RuleAuditor struct {
	Config *MatchingConfig
}

// NewRuleAuditor creates a new rule auditor
func NewRuleAuditor(config *MatchingConfig) *RuleAuditor {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &RuleAuditor{Config: config}
}

// DetectConflicts reports every pair of active rules of the same tenant whose
// patterns are similar enough to compete for the same transactions
func (ra *RuleAuditor) DetectConflicts(rules []*models.CategorizationRule) []Conflict {
	var conflicts []Conflict

	for i := 0; i < len(rules); i++ {
		a := rules[i]
		if a == nil || !a.Active {
			continue
		}
		for j := i + 1; j < len(rules); j++ {
			b := rules[j]
			if b == nil || !b.Active || a.CompanyID != b.CompanyID {
				continue
			}

			similarity := Similarity(normalize(a.Pattern), normalize(b.Pattern))
			if similarity < ra.Config.ConflictThreshold {
				continue
			}

			conflict := Conflict{
				First:      a,
				Second:     b,
				Similarity: similarity,
				Kind:       ConflictSameCategory,
				Severity:   SeverityLow,
			}
			if a.CategoryID != b.CategoryID {
				conflict.Kind = ConflictCrossCategory
				conflict.Severity = SeverityHigh
			}
			conflicts = append(conflicts, conflict)
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Severity != conflicts[j].Severity {
			return conflicts[i].Severity == SeverityHigh
		}
		return conflicts[i].Similarity > conflicts[j].Similarity
	})

	return conflicts
}

// CheckDuplicate applies the creation gate to a candidate rule. An existing active
// rule of the same tenant with the same pattern blocks creation regardless of type
// or category. A nearly identical pattern pointing at another category only warns.
// The candidate itself is skipped when it is already stored.
func (ra *RuleAuditor) CheckDuplicate(candidate *models.CategorizationRule, existing []*models.CategorizationRule) *DuplicateCheck {
	check := &DuplicateCheck{}
	index := NewRuleIndex(existing)

	eligible := func(rule *models.CategorizationRule) bool {
		if !rule.Active || rule.CompanyID != candidate.CompanyID {
			return false
		}
		return candidate.ID == "" || rule.ID != candidate.ID
	}

	for _, rule := range index.FindByPattern(candidate.Pattern) {
		if eligible(rule) {
			check.Blocked = true
			check.Duplicate = rule
			return check
		}
	}

	pattern := normalize(candidate.Pattern)
	for _, rule := range index.Rules {
		if !eligible(rule) || rule.CategoryID == candidate.CategoryID {
			continue
		}
		similarity := Similarity(pattern, normalize(rule.Pattern))
		if similarity >= ra.Config.DuplicateWarningThreshold {
			check.Warnings = append(check.Warnings, DuplicateWarning{
				Rule:       rule,
				Similarity: similarity,
				Message: fmt.Sprintf("pattern '%s' is %.0f%% similar to rule %s which assigns category %s",
					candidate.Pattern, similarity*100, rule.ID, rule.CategoryID),
			})
		}
	}

	return check
}

// FindOrphans returns the rules whose category is missing or no longer active
func (ra *RuleAuditor) FindOrphans(rules []*models.CategorizationRule, categories []*models.Category) []*models.CategorizationRule {
	live := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		if category != nil && category.Active {
			live[category.ID] = struct{}{}
		}
	}

	var orphans []*models.CategorizationRule
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		if _, ok := live[rule.CategoryID]; !ok {
			orphans = append(orphans, rule)
		}
	}
	return orphans
}

// FindSimilar ranks the rules whose pattern similarity to the given pattern reaches
// the threshold, most similar first
func (ra *RuleAuditor) FindSimilar(pattern string, rules []*models.CategorizationRule, threshold float64) []SimilarRule {
	target := normalize(pattern)

	var similar []SimilarRule
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		similarity := Similarity(target, normalize(rule.Pattern))
		if similarity >= threshold {
			similar = append(similar, SimilarRule{Rule: rule, Similarity: similarity})
		}
	}

	sort.SliceStable(similar, func(i, j int) bool {
		if similar[i].Similarity != similar[j].Similarity {
			return similar[i].Similarity > similar[j].Similarity
		}
		return similar[i].Rule.Pattern < similar[j].Rule.Pattern
	})

	return similar
}
