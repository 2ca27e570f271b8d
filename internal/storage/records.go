package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"statement-categorization-service/internal/categorizer"
	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

// recordUpdateColumns are overwritten when a transaction is categorized again
var recordUpdateColumns = []string{
	"account_id", "company_id", "batch_number", "type", "amount", "date",
	"description", "normalized_description", "memo", "balance",
	"category_id", "category_name", "confidence", "source", "rule_id", "reasoning",
	"updated_at",
}

// RecordStore persists categorized transactions
type RecordStore struct {
	db *gorm.DB
}

// SaveRecord upserts a record keyed by upload and external transaction ID.
// Confirmed records are left untouched.
func (s *RecordStore) SaveRecord(ctx context.Context, record *models.TransactionRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "upload_id"}, {Name: "external_id"}},
			Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "confirmed = ?", Vars: []interface{}{false}}}},
			DoUpdates: clause.AssignmentColumns(recordUpdateColumns),
		}).
		Create(newRecordRow(record)).Error
	if err != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "transaction", record.UploadID+"/"+record.ExternalID, err)
	}
	return nil
}

// ListRecords returns the records of an upload in statement order
func (s *RecordStore) ListRecords(ctx context.Context, uploadID string) ([]*models.TransactionRecord, error) {
	var rows []recordRow
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("batch_number ASC, date ASC, external_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "transaction", uploadID, err)
	}

	records := make([]*models.TransactionRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toModel()
	}
	return records, nil
}

// CountRecords returns how many records an upload has stored
func (s *RecordStore) CountRecords(ctx context.Context, uploadID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&recordRow{}).Where("upload_id = ?", uploadID).Count(&count).Error; err != nil {
		return 0, errors.PersistenceError(errors.CodeReadFailed, "transaction", uploadID, err)
	}
	return int(count), nil
}

// Confirm records a human-approved category for a transaction. Confirmed
// records feed the history source for later uploads.
func (s *RecordStore) Confirm(ctx context.Context, uploadID, externalID string, category *models.Category) error {
	key := uploadID + "/" + externalID
	result := s.db.WithContext(ctx).Model(&recordRow{}).
		Where("upload_id = ? AND external_id = ?", uploadID, externalID).
		Updates(map[string]interface{}{
			"category_id":   category.ID,
			"category_name": category.Name,
			"confirmed":     true,
		})
	if result.Error != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "transaction", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.PersistenceError(errors.CodeNotFound, "transaction", key, fmt.Errorf("record not found"))
	}
	return nil
}

// HistoryClassifier answers with the category a human last confirmed for the
// same description within the company
type HistoryClassifier struct {
	db         *gorm.DB
	confidence int
}

// NewHistoryClassifier builds the history source; confirmed matches report the given confidence
func NewHistoryClassifier(database *Database, confidence int) *HistoryClassifier {
	return &HistoryClassifier{db: database.db, confidence: confidence}
}

// Classify implements categorizer.Classifier
func (h *HistoryClassifier) Classify(ctx context.Context, req categorizer.ClassificationRequest) (*categorizer.Classification, error) {
	key := req.NormalizedDescription()
	if key == "" || req.CompanyID == "" {
		return nil, nil
	}

	var rows []recordRow
	err := h.db.WithContext(ctx).
		Where("company_id = ? AND normalized_description = ? AND confirmed = ?", req.CompanyID, key, true).
		Order("updated_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "transaction", key, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &categorizer.Classification{
		CategoryID:   row.CategoryID,
		CategoryName: row.CategoryName,
		Confidence:   h.confidence,
		Reasoning:    fmt.Sprintf("confirmed for transaction %s on %s", row.ExternalID, row.UpdatedAt.Format("2006-01-02")),
	}, nil
}
