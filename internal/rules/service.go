// Package rules manages the lifecycle of categorization rules: creation behind the
// validation and duplicate gates, updates, deletion, listing, statistics and the
// hygiene reports (conflicts, similar rules and orphans) built on the matcher.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"statement-categorization-service/internal/matcher"
	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// RuleStore persists categorization rules
type RuleStore interface {
	ListRules(ctx context.Context, companyID string) ([]*models.CategorizationRule, error)
	GetRule(ctx context.Context, id string) (*models.CategorizationRule, error)
	CreateRule(ctx context.Context, rule *models.CategorizationRule) error
	UpdateRule(ctx context.Context, rule *models.CategorizationRule) error
	DeleteRule(ctx context.Context, id string) error
	DeactivateRules(ctx context.Context, ids []string) (int, error)
}

// CategoryStore looks up tenant categories
type CategoryStore interface {
	ListCategories(ctx context.Context, companyID string) ([]*models.Category, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
}

// ChangeListener is notified after a tenant's rule set changes
type ChangeListener func(companyID string)

// CreateRequest describes a new rule
type CreateRequest struct {
	CompanyID       string
	Pattern         string
	RuleType        models.RuleType
	CategoryID      string
	ConfidenceScore float64
	Status          models.RuleStatus
}

// UpdateRequest changes selected fields of a rule. Nil fields are left untouched.
type UpdateRequest struct {
	Pattern         *string
	RuleType        *models.RuleType
	CategoryID      *string
	ConfidenceScore *float64
	Status          *models.RuleStatus
	Active          *bool
}

// MutationResult is the stored rule plus any non-blocking duplicate warnings
type MutationResult struct {
	Rule     *models.CategorizationRule `json:"rule"`
	Warnings []matcher.DuplicateWarning `json:"warnings,omitempty"`
}

// Filter narrows a rule listing
type Filter struct {
	RuleType   models.RuleType
	Status     models.RuleStatus
	CategoryID string
	ActiveOnly bool
	Search     string
}

// Matches reports whether a rule passes the filter
func (f Filter) Matches(rule *models.CategorizationRule) bool {
	if f.RuleType != "" && rule.RuleType != f.RuleType {
		return false
	}
	if f.Status != "" && rule.Status != f.Status {
		return false
	}
	if f.CategoryID != "" && rule.CategoryID != f.CategoryID {
		return false
	}
	if f.ActiveOnly && !rule.Active {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(rule.Pattern), strings.ToLower(strings.TrimSpace(f.Search))) {
		return false
	}
	return true
}

// Stats summarizes the rule set of a tenant
type Stats struct {
	Total             int                        `json:"total"`
	Active            int                        `json:"active"`
	ByType            map[models.RuleType]int    `json:"byType"`
	ByStatus          map[models.RuleStatus]int  `json:"byStatus"`
	AverageConfidence float64                    `json:"averageConfidence"`
	UniquePatterns    int                        `json:"uniquePatterns"`
	UniqueCategories  int                        `json:"uniqueCategories"`
	TotalUsage        int                        `json:"totalUsage"`
	MostUsed          *models.CategorizationRule `json:"mostUsed,omitempty"`
}

// Service implements rule management on top of the rule and category stores
type Service struct {
	rules      RuleStore
	categories CategoryStore
	auditor    *matcher.RuleAuditor
	logger     logger.Logger
	clock      func() time.Time
	newID      func() string
	listeners  []ChangeListener
}

// NewService creates a rule management service
func NewService(rules RuleStore, categories CategoryStore, config *matcher.MatchingConfig) *Service {
	return &Service{
		rules:      rules,
		categories: categories,
		auditor:    matcher.NewRuleAuditor(config),
		logger:     logger.WithComponent("rules"),
		clock:      time.Now,
		newID:      uuid.NewString,
	}
}

// OnChange registers a listener called after create, update, delete and bulk deactivation
func (s *Service) OnChange(listener ChangeListener) {
	s.listeners = append(s.listeners, listener)
}

func (s *Service) notify(companyID string) {
	for _, listener := range s.listeners {
		listener(companyID)
	}
}

// Create validates and stores a new rule
func (s *Service) Create(ctx context.Context, req CreateRequest) (*MutationResult, error) {
	now := s.clock().UTC()
	status := req.Status
	if status == "" {
		status = models.RuleStatusActive
	}

	rule := &models.CategorizationRule{
		ID:              s.newID(),
		CompanyID:       req.CompanyID,
		Pattern:         strings.TrimSpace(req.Pattern),
		RuleType:        req.RuleType,
		CategoryID:      req.CategoryID,
		ConfidenceScore: req.ConfidenceScore,
		Active:          status != models.RuleStatusInactive,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	check, err := s.validate(ctx, rule, "")
	if err != nil {
		return nil, err
	}

	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to store rule")
	}

	s.logger.WithFields(logger.Fields{
		"rule_id":    rule.ID,
		"company_id": rule.CompanyID,
		"rule_type":  string(rule.RuleType),
		"warnings":   len(check.Warnings),
	}).Info("Rule created")
	s.notify(rule.CompanyID)

	return &MutationResult{Rule: rule, Warnings: check.Warnings}, nil
}

// Update applies the requested changes to an existing rule
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*MutationResult, error) {
	existing, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule := *existing
	if req.Pattern != nil {
		rule.Pattern = strings.TrimSpace(*req.Pattern)
	}
	if req.RuleType != nil {
		rule.RuleType = *req.RuleType
	}
	if req.CategoryID != nil {
		rule.CategoryID = *req.CategoryID
	}
	if req.ConfidenceScore != nil {
		rule.ConfidenceScore = *req.ConfidenceScore
	}
	if req.Status != nil {
		rule.Status = *req.Status
		rule.Active = rule.Status != models.RuleStatusInactive
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	rule.UpdatedAt = s.clock().UTC()

	check, err := s.validate(ctx, &rule, existing.CategoryID)
	if err != nil {
		return nil, err
	}

	if err := s.rules.UpdateRule(ctx, &rule); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to update rule")
	}

	s.logger.WithField("rule_id", rule.ID).Info("Rule updated")
	s.notify(rule.CompanyID)

	return &MutationResult{Rule: &rule, Warnings: check.Warnings}, nil
}

// Delete removes a rule
func (s *Service) Delete(ctx context.Context, id string) error {
	rule, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to delete rule")
	}

	s.logger.WithField("rule_id", id).Info("Rule deleted")
	s.notify(rule.CompanyID)
	return nil
}

// List returns the tenant rules passing the filter, highest confidence first
func (s *Service) List(ctx context.Context, companyID string, filter Filter) ([]*models.CategorizationRule, error) {
	all, err := s.list(ctx, companyID)
	if err != nil {
		return nil, err
	}

	var result []*models.CategorizationRule
	for _, rule := range all {
		if filter.Matches(rule) {
			result = append(result, rule)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].ConfidenceScore != result[j].ConfidenceScore {
			return result[i].ConfidenceScore > result[j].ConfidenceScore
		}
		return result[i].Pattern < result[j].Pattern
	})

	return result, nil
}

// FindSimilar ranks the tenant rules whose pattern resembles the given one
func (s *Service) FindSimilar(ctx context.Context, companyID, pattern string, threshold float64) ([]matcher.SimilarRule, error) {
	if threshold <= 0 {
		threshold = s.auditor.Config.ConflictThreshold
	}

	all, err := s.list(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return s.auditor.FindSimilar(pattern, all, threshold), nil
}

// Stats computes summary statistics over the tenant rules
func (s *Service) Stats(ctx context.Context, companyID string) (*Stats, error) {
	all, err := s.list(ctx, companyID)
	if err != nil {
		return nil, err
	}

	indexed := matcher.NewRuleIndex(all).GetStats()
	stats := &Stats{
		Total:             indexed.TotalRules,
		ByType:            indexed.RulesPerType,
		ByStatus:          make(map[models.RuleStatus]int),
		AverageConfidence: indexed.AverageConfidence,
		UniquePatterns:    indexed.UniquePatterns,
		UniqueCategories:  indexed.UniqueCategories,
	}

	for _, rule := range all {
		stats.ByStatus[rule.Status]++
		stats.TotalUsage += rule.UsageCount
		if rule.Active {
			stats.Active++
		}
		if stats.MostUsed == nil || rule.UsageCount > stats.MostUsed.UsageCount {
			stats.MostUsed = rule
		}
	}

	return stats, nil
}

// Conflicts reports pairs of similar active rules of the tenant
func (s *Service) Conflicts(ctx context.Context, companyID string) ([]matcher.Conflict, error) {
	all, err := s.list(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return s.auditor.DetectConflicts(all), nil
}

// ListOrphans returns the tenant rules whose category is missing or inactive
func (s *Service) ListOrphans(ctx context.Context, companyID string) ([]*models.CategorizationRule, error) {
	all, err := s.list(ctx, companyID)
	if err != nil {
		return nil, err
	}

	categories, err := s.categories.ListCategories(ctx, companyID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to list categories")
	}

	return s.auditor.FindOrphans(all, categories), nil
}

// DeactivateOrphans deactivates every active orphan rule of the tenant and
// returns how many rules changed
func (s *Service) DeactivateOrphans(ctx context.Context, companyID string) (int, error) {
	orphans, err := s.ListOrphans(ctx, companyID)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, rule := range orphans {
		if rule.Active {
			ids = append(ids, rule.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	count, err := s.rules.DeactivateRules(ctx, ids)
	if err != nil {
		return 0, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to deactivate orphan rules")
	}

	s.logger.WithFields(logger.Fields{
		"company_id":  companyID,
		"deactivated": count,
	}).Warn("Deactivated orphan rules")
	s.notify(companyID)

	return count, nil
}

// validate runs field validation, pattern validation, the category check and the
// duplicate gate. The category lookup is skipped when an update keeps the category.
func (s *Service) validate(ctx context.Context, rule *models.CategorizationRule, previousCategory string) (*matcher.DuplicateCheck, error) {
	if err := rule.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "rule", rule.String(), err)
	}

	if err := matcher.ValidatePattern(rule.Pattern, rule.RuleType); err != nil {
		return nil, err
	}

	if rule.CategoryID != previousCategory {
		category, err := s.categories.GetCategory(ctx, rule.CategoryID)
		if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
			return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to look up category")
		}
		if category == nil || !category.Active || category.CompanyID != rule.CompanyID {
			return nil, errors.RuleError(errors.CodeUnknownCategory, rule.Pattern,
				fmt.Errorf("category %s is not available for company %s", rule.CategoryID, rule.CompanyID))
		}
	}

	existing, err := s.list(ctx, rule.CompanyID)
	if err != nil {
		return nil, err
	}

	check := s.auditor.CheckDuplicate(rule, existing)
	if err := check.Err(); err != nil {
		return nil, err
	}

	return check, nil
}

func (s *Service) get(ctx context.Context, id string) (*models.CategorizationRule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return nil, errors.RuleError(errors.CodeRuleNotFound, id, err)
		}
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load rule")
	}
	if rule == nil {
		return nil, errors.RuleError(errors.CodeRuleNotFound, id, fmt.Errorf("no rule with id %s", id))
	}
	return rule, nil
}

func (s *Service) list(ctx context.Context, companyID string) ([]*models.CategorizationRule, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "company", companyID, fmt.Errorf("company is required"))
	}

	all, err := s.rules.ListRules(ctx, companyID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to list rules")
	}
	return all, nil
}
