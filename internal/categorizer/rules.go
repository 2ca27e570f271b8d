package categorizer

import (
	"context"

	"statement-categorization-service/internal/matcher"
)

// RuleMatcher is the part of the rule engine the orchestrator needs
type RuleMatcher interface {
	Match(ctx context.Context, description, companyID string) (*matcher.RuleMatch, error)
}

// CategoryResolver looks up display names of categories
type CategoryResolver interface {
	CategoryName(ctx context.Context, categoryID string) (string, error)
}

// RuleClassifier exposes the rule engine as a classification source
type RuleClassifier struct {
	engine   RuleMatcher
	resolver CategoryResolver
}

// NewRuleClassifier creates a rule-backed classifier. The resolver is optional.
func NewRuleClassifier(engine RuleMatcher, resolver CategoryResolver) *RuleClassifier {
	return &RuleClassifier{engine: engine, resolver: resolver}
}

// Classify implements Classifier
func (rc *RuleClassifier) Classify(ctx context.Context, req ClassificationRequest) (*Classification, error) {
	match, err := rc.engine.Match(ctx, req.Description, req.CompanyID)
	if err != nil || match == nil {
		return nil, err
	}

	decision := &Classification{
		CategoryID: match.Rule.CategoryID,
		Confidence: match.Confidence,
		Reasoning:  match.Reasoning,
		RuleID:     match.Rule.ID,
	}

	if rc.resolver != nil {
		// a missing name does not invalidate the match
		if name, err := rc.resolver.CategoryName(ctx, match.Rule.CategoryID); err == nil {
			decision.CategoryName = name
		}
	}

	return decision, nil
}
