package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

var matchableStatuses = []string{
	string(models.RuleStatusActive),
	string(models.RuleStatusRefined),
	string(models.RuleStatusConsolidated),
}

// RuleStore persists categorization rules
type RuleStore struct {
	db *gorm.DB
}

// ListRules returns every rule of the company, strongest first
func (s *RuleStore) ListRules(ctx context.Context, companyID string) ([]*models.CategorizationRule, error) {
	var rows []ruleRow
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("confidence_score DESC, created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "rule", companyID, err)
	}
	return toRules(rows), nil
}

// ListMatchableRules returns the active, mature rules the engine may evaluate
func (s *RuleStore) ListMatchableRules(ctx context.Context, companyID string) ([]*models.CategorizationRule, error) {
	var rows []ruleRow
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND active = ? AND status IN ?", companyID, true, matchableStatuses).
		Order("confidence_score DESC, created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "rule", companyID, err)
	}
	return toRules(rows), nil
}

// GetRule loads one rule by ID
func (s *RuleStore) GetRule(ctx context.Context, id string) (*models.CategorizationRule, error) {
	var rows []ruleRow
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows)
	if result.Error != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "rule", id, result.Error)
	}
	if len(rows) == 0 {
		return nil, errors.PersistenceError(errors.CodeNotFound, "rule", id, fmt.Errorf("record not found"))
	}
	return rows[0].toModel(), nil
}

// CreateRule inserts a rule, assigning an ID when it has none
func (s *RuleStore) CreateRule(ctx context.Context, rule *models.CategorizationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	row := newRuleRow(rule)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "rule", rule.ID, err)
	}
	rule.CreatedAt = row.CreatedAt
	rule.UpdatedAt = row.UpdatedAt
	return nil
}

// UpdateRule overwrites every column of an existing rule
func (s *RuleStore) UpdateRule(ctx context.Context, rule *models.CategorizationRule) error {
	row := newRuleRow(rule)
	result := s.db.WithContext(ctx).Model(&ruleRow{}).Where("id = ?", rule.ID).Select("*").Omit("id", "created_at").Updates(row)
	if result.Error != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "rule", rule.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.PersistenceError(errors.CodeNotFound, "rule", rule.ID, fmt.Errorf("record not found"))
	}
	rule.UpdatedAt = row.UpdatedAt
	return nil
}

// DeleteRule removes a rule
func (s *RuleStore) DeleteRule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&ruleRow{})
	if result.Error != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "rule", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.PersistenceError(errors.CodeNotFound, "rule", id, fmt.Errorf("record not found"))
	}
	return nil
}

// DeactivateRules switches the given rules off and returns how many changed
func (s *RuleStore) DeactivateRules(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Model(&ruleRow{}).
		Where("id IN ? AND active = ?", ids, true).
		Updates(map[string]interface{}{
			"active":     false,
			"status":     string(models.RuleStatusInactive),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, errors.PersistenceError(errors.CodeWriteFailed, "rule", fmt.Sprintf("%d rules", len(ids)), result.Error)
	}
	return int(result.RowsAffected), nil
}

// IncrementUsage counts one more win for the rule
func (s *RuleStore) IncrementUsage(ctx context.Context, ruleID string) error {
	result := s.db.WithContext(ctx).Model(&ruleRow{}).
		Where("id = ?", ruleID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if result.Error != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "rule", ruleID, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.PersistenceError(errors.CodeNotFound, "rule", ruleID, fmt.Errorf("record not found"))
	}
	return nil
}

func toRules(rows []ruleRow) []*models.CategorizationRule {
	rules := make([]*models.CategorizationRule, len(rows))
	for i := range rows {
		rules[i] = rows[i].toModel()
	}
	return rules
}
