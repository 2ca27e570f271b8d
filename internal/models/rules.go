package models

import (
	"fmt"
	"strings"
	"time"
)

// RuleType selects the matching strategy of a rule
type RuleType string

const (
	RuleTypeExact    RuleType = "exact"
	RuleTypeContains RuleType = "contains"
	RuleTypeWildcard RuleType = "wildcard"
	RuleTypeTokens   RuleType = "tokens"
	RuleTypeFuzzy    RuleType = "fuzzy"
	RuleTypeRegex    RuleType = "regex"
)

// AllRuleTypes lists every supported strategy in a stable order
var AllRuleTypes = []RuleType{
	RuleTypeExact,
	RuleTypeContains,
	RuleTypeWildcard,
	RuleTypeTokens,
	RuleTypeFuzzy,
	RuleTypeRegex,
}

// IsValid checks if the rule type is one of the supported strategies
func (t RuleType) IsValid() bool {
	for _, rt := range AllRuleTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// ParseRuleType parses a rule type from string
func ParseRuleType(s string) (RuleType, error) {
	rt := RuleType(strings.ToLower(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", fmt.Errorf("invalid rule type '%s'", s)
	}
	return rt, nil
}

// RuleStatus is the lifecycle state of a rule
type RuleStatus string

const (
	RuleStatusActive       RuleStatus = "active"
	RuleStatusRefined      RuleStatus = "refined"
	RuleStatusConsolidated RuleStatus = "consolidated"
	RuleStatusInactive     RuleStatus = "inactive"
)

// IsValid checks if the status is known
func (s RuleStatus) IsValid() bool {
	switch s {
	case RuleStatusActive, RuleStatusRefined, RuleStatusConsolidated, RuleStatusInactive:
		return true
	}
	return false
}

// CategorizationRule maps a text pattern to a category for one tenant
type CategorizationRule struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"companyId"`
	Pattern         string     `json:"pattern"`
	RuleType        RuleType   `json:"ruleType"`
	CategoryID      string     `json:"categoryId"`
	ConfidenceScore float64    `json:"confidenceScore"`
	Active          bool       `json:"active"`
	Status          RuleStatus `json:"status"`
	UsageCount      int        `json:"usageCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsMature reports whether the rule is in a lifecycle state eligible for matching
func (r *CategorizationRule) IsMature() bool {
	switch r.Status {
	case RuleStatusActive, RuleStatusRefined, RuleStatusConsolidated:
		return true
	}
	return false
}

// IsMatchable reports whether the rule may be evaluated against transactions
func (r *CategorizationRule) IsMatchable() bool {
	return r.Active && r.IsMature()
}

// Validate checks the rule fields that do not depend on other rules
func (r *CategorizationRule) Validate() error {
	if strings.TrimSpace(r.CompanyID) == "" {
		return fmt.Errorf("rule company cannot be empty")
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("rule pattern cannot be empty")
	}
	if !r.RuleType.IsValid() {
		return fmt.Errorf("invalid rule type: %s", r.RuleType)
	}
	if strings.TrimSpace(r.CategoryID) == "" {
		return fmt.Errorf("rule category cannot be empty")
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("confidence score %.2f must be between 0 and 1", r.ConfidenceScore)
	}
	if r.Status != "" && !r.Status.IsValid() {
		return fmt.Errorf("invalid rule status: %s", r.Status)
	}
	return nil
}

// String returns a string representation of the rule
func (r *CategorizationRule) String() string {
	return fmt.Sprintf("Rule{ID: %s, Pattern: %q, Type: %s, Category: %s, Confidence: %.2f}",
		r.ID, r.Pattern, r.RuleType, r.CategoryID, r.ConfidenceScore)
}

// Category is a tenant-owned bucket transactions are assigned to
type Category struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
}

// ResultSource identifies which classification source produced a decision
type ResultSource string

const (
	SourceHistory ResultSource = "history"
	SourceCache   ResultSource = "cache"
	SourceRule    ResultSource = "rule"
	SourceAI      ResultSource = "ai"
	SourceError   ResultSource = "error"
)

// CategorizationResult is the decision attached to one transaction
type CategorizationResult struct {
	CategoryID   string       `json:"categoryId"`
	CategoryName string       `json:"categoryName"`
	Confidence   int          `json:"confidence"`
	Reasoning    string       `json:"reasoning"`
	Source       ResultSource `json:"source"`
	RuleID       string       `json:"ruleId,omitempty"`
}

// IsUnclassified reports whether the result is the error sentinel
func (r CategorizationResult) IsUnclassified() bool {
	return r.Source == SourceError
}
