package matcher

import (
	"sort"

	"statement-categorization-service/internal/models"
)

// RuleIndex is an immutable snapshot of a rule set prepared for matching
type RuleIndex struct {
	// Rules holds the rules ordered by confidence score descending. Rules with
	// equal scores keep the order they were loaded in.
	Rules []*models.CategorizationRule

	// ByPattern maps normalized patterns to the rules that use them
	ByPattern map[string][]*models.CategorizationRule

	// ByCategory maps category IDs to their rules
	ByCategory map[string][]*models.CategorizationRule

	// ByType maps rule types to their rules
	ByType map[models.RuleType][]*models.CategorizationRule
}

// NewRuleIndex creates an index over a copy of the given rules
func NewRuleIndex(rules []*models.CategorizationRule) *RuleIndex {
	index := &RuleIndex{
		Rules:      make([]*models.CategorizationRule, 0, len(rules)),
		ByPattern:  make(map[string][]*models.CategorizationRule),
		ByCategory: make(map[string][]*models.CategorizationRule),
		ByType:     make(map[models.RuleType][]*models.CategorizationRule),
	}

	for _, rule := range rules {
		if rule != nil {
			index.Rules = append(index.Rules, rule)
		}
	}

	index.buildIndexes()
	return index
}

func (ri *RuleIndex) buildIndexes() {
	sort.SliceStable(ri.Rules, func(i, j int) bool {
		return ri.Rules[i].ConfidenceScore > ri.Rules[j].ConfidenceScore
	})

	for _, rule := range ri.Rules {
		key := normalize(rule.Pattern)
		ri.ByPattern[key] = append(ri.ByPattern[key], rule)
		ri.ByCategory[rule.CategoryID] = append(ri.ByCategory[rule.CategoryID], rule)
		ri.ByType[rule.RuleType] = append(ri.ByType[rule.RuleType], rule)
	}
}

// Len returns the number of indexed rules
func (ri *RuleIndex) Len() int {
	return len(ri.Rules)
}

// FindByPattern returns the rules whose pattern equals the given one, ignoring case
func (ri *RuleIndex) FindByPattern(pattern string) []*models.CategorizationRule {
	return ri.ByPattern[normalize(pattern)]
}

// Matchable returns the rules of a tenant that are eligible for matching
func (ri *RuleIndex) Matchable(companyID string) []*models.CategorizationRule {
	var result []*models.CategorizationRule
	for _, rule := range ri.Rules {
		if rule.CompanyID == companyID && rule.IsMatchable() {
			result = append(result, rule)
		}
	}
	return result
}

// GetStats returns statistics about the index
func (ri *RuleIndex) GetStats() IndexStats {
	stats := IndexStats{
		TotalRules:       len(ri.Rules),
		UniquePatterns:   len(ri.ByPattern),
		UniqueCategories: len(ri.ByCategory),
		RulesPerType:     make(map[models.RuleType]int, len(ri.ByType)),
	}

	var total float64
	for _, rule := range ri.Rules {
		total += rule.ConfidenceScore
	}
	if stats.TotalRules > 0 {
		stats.AverageConfidence = total / float64(stats.TotalRules)
	}

	for ruleType, rules := range ri.ByType {
		stats.RulesPerType[ruleType] = len(rules)
	}

	return stats
}

// IndexStats provides statistics about a rule index
type IndexStats struct {
	TotalRules        int
	UniquePatterns    int
	UniqueCategories  int
	AverageConfidence float64
	RulesPerType      map[models.RuleType]int
}
