package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

// JobStore persists uploads and their batch checkpoints
type JobStore struct {
	db *gorm.DB
}

func (s *JobStore) CreateUpload(ctx context.Context, upload *models.Upload) error {
	if err := s.db.WithContext(ctx).Create(newUploadRow(upload)).Error; err != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "upload", upload.ID, err)
	}
	return nil
}

func (s *JobStore) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	var rows []uploadRow
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows)
	if result.Error != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "upload", id, result.Error)
	}
	if len(rows) == 0 {
		return nil, errors.PersistenceError(errors.CodeNotFound, "upload", id, fmt.Errorf("record not found"))
	}
	return rows[0].toModel(), nil
}

// UpdateUpload writes the full checkpoint state of an upload
func (s *JobStore) UpdateUpload(ctx context.Context, upload *models.Upload) error {
	result := s.db.WithContext(ctx).Model(&uploadRow{}).
		Where("id = ?", upload.ID).
		Select("*").Omit("id", "created_at").
		Updates(newUploadRow(upload))
	if result.Error != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "upload", upload.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.PersistenceError(errors.CodeNotFound, "upload", upload.ID, fmt.Errorf("record not found"))
	}
	return nil
}

// ListUploads returns the company's uploads, newest first
func (s *JobStore) ListUploads(ctx context.Context, companyID string) ([]*models.Upload, error) {
	var rows []uploadRow
	err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "upload", companyID, err)
	}

	uploads := make([]*models.Upload, len(rows))
	for i := range rows {
		uploads[i] = rows[i].toModel()
	}
	return uploads, nil
}

// SaveBatch inserts or replaces the checkpoint of one batch
func (s *JobStore) SaveBatch(ctx context.Context, batch *models.ProcessingBatch) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "upload_id"}, {Name: "batch_number"}},
			UpdateAll: true,
		}).
		Create(newBatchRow(batch)).Error
	if err != nil {
		return errors.PersistenceError(errors.CodeWriteFailed, "batch", fmt.Sprintf("%s#%d", batch.UploadID, batch.BatchNumber), err)
	}
	return nil
}

func (s *JobStore) ListBatches(ctx context.Context, uploadID string) ([]*models.ProcessingBatch, error) {
	var rows []batchRow
	err := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).Order("batch_number ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "batch", uploadID, err)
	}

	batches := make([]*models.ProcessingBatch, len(rows))
	for i := range rows {
		batches[i] = rows[i].toModel()
	}
	return batches, nil
}
