package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

// CategoryStore persists tenant categories
type CategoryStore struct {
	db *gorm.DB
}

// CreateCategory inserts an active category, assigning an ID when it has none
func (s *CategoryStore) CreateCategory(ctx context.Context, category *models.Category) error {
	if strings.TrimSpace(category.Name) == "" {
		return errors.ValidationError(errors.CodeMissingField, "name", category.Name, fmt.Errorf("category name is required"))
	}
	if category.CompanyID == "" {
		return errors.ValidationError(errors.CodeMissingField, "company_id", category.CompanyID, fmt.Errorf("company is required"))
	}
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	category.Active = true

	row := &categoryRow{
		ID:        category.ID,
		CompanyID: category.CompanyID,
		Name:      strings.TrimSpace(category.Name),
		Active:    true,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "category", category.ID, err)
	}
	return nil
}

// ListCategories returns the company's categories ordered by name
func (s *CategoryStore) ListCategories(ctx context.Context, companyID string) ([]*models.Category, error) {
	var rows []categoryRow
	err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("name ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "category", companyID, err)
	}

	categories := make([]*models.Category, len(rows))
	for i := range rows {
		categories[i] = rows[i].toModel()
	}
	return categories, nil
}

// GetCategory loads one category by ID
func (s *CategoryStore) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	var rows []categoryRow
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows)
	if result.Error != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "category", id, result.Error)
	}
	if len(rows) == 0 {
		return nil, errors.PersistenceError(errors.CodeNotFound, "category", id, fmt.Errorf("record not found"))
	}
	return rows[0].toModel(), nil
}

// CategoryName resolves the display name of a category
func (s *CategoryStore) CategoryName(ctx context.Context, categoryID string) (string, error) {
	category, err := s.GetCategory(ctx, categoryID)
	if err != nil {
		return "", err
	}
	return category.Name, nil
}

// DeactivateCategory retires a category; rules pointing at it become orphans
func (s *CategoryStore) DeactivateCategory(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&categoryRow{}).Where("id = ?", id).Update("active", false)
	if result.Error != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "category", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.PersistenceError(errors.CodeNotFound, "category", id, fmt.Errorf("record not found"))
	}
	return nil
}
