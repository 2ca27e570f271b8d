package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"statement-categorization-service/internal/categorizer"
	"statement-categorization-service/internal/models"
)

type ruleRow struct {
	ID              string `gorm:"primaryKey"`
	CompanyID       string `gorm:"index;not null"`
	Pattern         string `gorm:"not null"`
	RuleType        string `gorm:"not null"`
	CategoryID      string `gorm:"index;not null"`
	ConfidenceScore float64
	Active          bool   `gorm:"index"`
	Status          string `gorm:"index"`
	UsageCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ruleRow) TableName() string { return "categorization_rules" }

func newRuleRow(rule *models.CategorizationRule) *ruleRow {
	return &ruleRow{
		ID:              rule.ID,
		CompanyID:       rule.CompanyID,
		Pattern:         rule.Pattern,
		RuleType:        string(rule.RuleType),
		CategoryID:      rule.CategoryID,
		ConfidenceScore: rule.ConfidenceScore,
		Active:          rule.Active,
		Status:          string(rule.Status),
		UsageCount:      rule.UsageCount,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}
}

func (r *ruleRow) toModel() *models.CategorizationRule {
	return &models.CategorizationRule{
		ID:              r.ID,
		CompanyID:       r.CompanyID,
		Pattern:         r.Pattern,
		RuleType:        models.RuleType(r.RuleType),
		CategoryID:      r.CategoryID,
		ConfidenceScore: r.ConfidenceScore,
		Active:          r.Active,
		Status:          models.RuleStatus(r.Status),
		UsageCount:      r.UsageCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type categoryRow struct {
	ID        string `gorm:"primaryKey"`
	CompanyID string `gorm:"index;not null"`
	Name      string `gorm:"not null"`
	Active    bool
	CreatedAt time.Time
}

func (categoryRow) TableName() string { return "categories" }

func (r *categoryRow) toModel() *models.Category {
	return &models.Category{ID: r.ID, CompanyID: r.CompanyID, Name: r.Name, Active: r.Active}
}

type uploadRow struct {
	ID                     string `gorm:"primaryKey"`
	CompanyID              string `gorm:"index"`
	AccountID              string
	TotalTransactions      int
	TotalBatches           int
	CurrentBatch           int
	ProcessedTransactions  int
	LastProcessedIndex     int
	SuccessfulTransactions int
	FailedTransactions     int
	Status                 string `gorm:"index"`
	StartedAt              *time.Time
	CompletedAt            *time.Time
	ProcessingTimeMs       int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (uploadRow) TableName() string { return "uploads" }

func newUploadRow(upload *models.Upload) *uploadRow {
	return &uploadRow{
		ID:                     upload.ID,
		CompanyID:              upload.CompanyID,
		AccountID:              upload.AccountID,
		TotalTransactions:      upload.TotalTransactions,
		TotalBatches:           upload.TotalBatches,
		CurrentBatch:           upload.CurrentBatch,
		ProcessedTransactions:  upload.ProcessedTransactions,
		LastProcessedIndex:     upload.LastProcessedIndex,
		SuccessfulTransactions: upload.SuccessfulTransactions,
		FailedTransactions:     upload.FailedTransactions,
		Status:                 string(upload.Status),
		StartedAt:              upload.StartedAt,
		CompletedAt:            upload.CompletedAt,
		ProcessingTimeMs:       upload.ProcessingTime.Milliseconds(),
	}
}

func (r *uploadRow) toModel() *models.Upload {
	return &models.Upload{
		ID:                     r.ID,
		CompanyID:              r.CompanyID,
		AccountID:              r.AccountID,
		TotalTransactions:      r.TotalTransactions,
		TotalBatches:           r.TotalBatches,
		CurrentBatch:           r.CurrentBatch,
		ProcessedTransactions:  r.ProcessedTransactions,
		LastProcessedIndex:     r.LastProcessedIndex,
		SuccessfulTransactions: r.SuccessfulTransactions,
		FailedTransactions:     r.FailedTransactions,
		Status:                 models.UploadStatus(r.Status),
		StartedAt:              r.StartedAt,
		CompletedAt:            r.CompletedAt,
		ProcessingTime:         time.Duration(r.ProcessingTimeMs) * time.Millisecond,
	}
}

type batchRow struct {
	UploadID              string `gorm:"primaryKey"`
	BatchNumber           int    `gorm:"primaryKey;autoIncrement:false"`
	Status                string
	ProcessedTransactions int
	SuccessCount          int
	FailedCount           int
	ErrorMessage          string
	StartedAt             *time.Time
	CompletedAt           *time.Time
}

func (batchRow) TableName() string { return "processing_batches" }

func newBatchRow(batch *models.ProcessingBatch) *batchRow {
	return &batchRow{
		UploadID:              batch.UploadID,
		BatchNumber:           batch.BatchNumber,
		Status:                string(batch.Status),
		ProcessedTransactions: batch.ProcessedTransactions,
		SuccessCount:          batch.SuccessCount,
		FailedCount:           batch.FailedCount,
		ErrorMessage:          batch.ErrorMessage,
		StartedAt:             batch.StartedAt,
		CompletedAt:           batch.CompletedAt,
	}
}

func (r *batchRow) toModel() *models.ProcessingBatch {
	return &models.ProcessingBatch{
		UploadID:              r.UploadID,
		BatchNumber:           r.BatchNumber,
		Status:                models.BatchStatus(r.Status),
		ProcessedTransactions: r.ProcessedTransactions,
		SuccessCount:          r.SuccessCount,
		FailedCount:           r.FailedCount,
		ErrorMessage:          r.ErrorMessage,
		StartedAt:             r.StartedAt,
		CompletedAt:           r.CompletedAt,
	}
}

type recordRow struct {
	ID                    uint   `gorm:"primaryKey"`
	UploadID              string `gorm:"uniqueIndex:idx_upload_external;not null"`
	ExternalID            string `gorm:"uniqueIndex:idx_upload_external;not null"`
	AccountID             string `gorm:"index"`
	CompanyID             string `gorm:"index:idx_company_description"`
	BatchNumber           int
	Type                  string
	Amount                decimal.Decimal `gorm:"type:text"`
	Date                  time.Time       `gorm:"index"`
	Description           string
	NormalizedDescription string `gorm:"index:idx_company_description"`
	Memo                  string
	Balance               *decimal.Decimal `gorm:"type:text"`
	CategoryID            string           `gorm:"index"`
	CategoryName          string
	Confidence            int
	Source                string
	RuleID                string
	Reasoning             string
	Confirmed             bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (recordRow) TableName() string { return "transaction_records" }

func newRecordRow(record *models.TransactionRecord) *recordRow {
	return &recordRow{
		UploadID:              record.UploadID,
		ExternalID:            record.ExternalID,
		AccountID:             record.AccountID,
		CompanyID:             record.CompanyID,
		BatchNumber:           record.BatchNumber,
		Type:                  string(record.Type),
		Amount:                record.Amount,
		Date:                  record.Date.UTC(),
		Description:           record.Description,
		NormalizedDescription: categorizer.NormalizeDescription(record.Description),
		Memo:                  record.Memo,
		Balance:               record.Balance,
		CategoryID:            record.CategoryID,
		CategoryName:          record.CategoryName,
		Confidence:            record.Confidence,
		Source:                string(record.Source),
		RuleID:                record.RuleID,
		Reasoning:             record.Reasoning,
		Confirmed:             record.Confirmed,
	}
}

func (r *recordRow) toModel() *models.TransactionRecord {
	return &models.TransactionRecord{
		UploadID:     r.UploadID,
		AccountID:    r.AccountID,
		CompanyID:    r.CompanyID,
		BatchNumber:  r.BatchNumber,
		ExternalID:   r.ExternalID,
		Type:         models.TransactionType(r.Type),
		Amount:       r.Amount,
		Date:         r.Date.UTC(),
		Description:  r.Description,
		Memo:         r.Memo,
		Balance:      r.Balance,
		CategoryID:   r.CategoryID,
		CategoryName: r.CategoryName,
		Confidence:   r.Confidence,
		Source:       models.ResultSource(r.Source),
		RuleID:       r.RuleID,
		Reasoning:    r.Reasoning,
		Confirmed:    r.Confirmed,
	}
}
