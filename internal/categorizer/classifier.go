package categorizer

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"statement-categorization-service/internal/models"
)

// ClassificationRequest is what every classification source receives
type ClassificationRequest struct {
	CompanyID   string
	AccountID   string
	Description string
	Amount      decimal.Decimal
	Type        models.TransactionType
}

// NewClassificationRequest builds a request from a parsed transaction
func NewClassificationRequest(tx *models.Transaction, tenant TenantContext) ClassificationRequest {
	return ClassificationRequest{
		CompanyID:   tenant.CompanyID,
		AccountID:   tenant.AccountID,
		Description: tx.Description,
		Amount:      tx.Amount,
		Type:        tx.Type,
	}
}

// NormalizedDescription is the description key shared by history and cache lookups
func (r ClassificationRequest) NormalizedDescription() string {
	return NormalizeDescription(r.Description)
}

// NormalizeDescription lower-cases a description and collapses its whitespace
func NormalizeDescription(description string) string {
	return strings.Join(strings.Fields(strings.ToLower(description)), " ")
}

// Classification is a decision produced by one source
type Classification struct {
	CategoryID   string
	CategoryName string
	Confidence   int
	Reasoning    string
	RuleID       string
}

// Classifier is implemented by every source of category decisions. A nil
// classification with a nil error means the source has no opinion.
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) (*Classification, error)
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(ctx context.Context, req ClassificationRequest) (*Classification, error)

// Classify calls f(ctx, req)
func (f ClassifierFunc) Classify(ctx context.Context, req ClassificationRequest) (*Classification, error) {
	return f(ctx, req)
}

// DecisionRecorder is implemented by caches that remember decisions made by slower sources
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, req ClassificationRequest, decision Classification) error
}

// TenantContext identifies whose rules, history and categories apply
type TenantContext struct {
	CompanyID string
	AccountID string
}
