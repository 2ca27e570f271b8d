package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UploadStatus is the lifecycle state of an ingestion run
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
	UploadStatusPaused     UploadStatus = "paused"
)

// IsTerminal reports whether no further batches will run
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed
}

// IsResumable reports whether an interrupted run may continue
func (s UploadStatus) IsResumable() bool {
	return s == UploadStatusProcessing || s == UploadStatusPaused
}

// Upload tracks one ingestion run over a statement
type Upload struct {
	ID                     string        `json:"id"`
	CompanyID              string        `json:"companyId"`
	AccountID              string        `json:"accountId"`
	TotalTransactions      int           `json:"totalTransactions"`
	TotalBatches           int           `json:"totalBatches"`
	CurrentBatch           int           `json:"currentBatch"`
	ProcessedTransactions  int           `json:"processedTransactions"`
	LastProcessedIndex     int           `json:"lastProcessedIndex"`
	SuccessfulTransactions int           `json:"successfulTransactions"`
	FailedTransactions     int           `json:"failedTransactions"`
	Status                 UploadStatus  `json:"status"`
	StartedAt              *time.Time    `json:"startedAt,omitempty"`
	CompletedAt            *time.Time    `json:"completedAt,omitempty"`
	ProcessingTime         time.Duration `json:"processingTimeMs"`
}

// BatchStatus is the lifecycle state of one batch
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// ProcessingBatch is the checkpoint row of one batch within an upload
type ProcessingBatch struct {
	UploadID              string      `json:"uploadId"`
	BatchNumber           int         `json:"batchNumber"`
	Status                BatchStatus `json:"status"`
	ProcessedTransactions int         `json:"processedTransactions"`
	SuccessCount          int         `json:"successCount"`
	FailedCount           int         `json:"failedCount"`
	ErrorMessage          string      `json:"errorMessage,omitempty"`
	StartedAt             *time.Time  `json:"startedAt,omitempty"`
	CompletedAt           *time.Time  `json:"completedAt,omitempty"`
}

// Duration returns the wall time of a finished batch
func (b *ProcessingBatch) Duration() (time.Duration, bool) {
	if b.StartedAt == nil || b.CompletedAt == nil {
		return 0, false
	}
	return b.CompletedAt.Sub(*b.StartedAt), true
}

// TransactionRecord is the persisted form of a categorized transaction
type TransactionRecord struct {
	UploadID     string           `json:"uploadId"`
	AccountID    string           `json:"accountId"`
	CompanyID    string           `json:"companyId"`
	BatchNumber  int              `json:"batchNumber"`
	ExternalID   string           `json:"externalId"`
	Type         TransactionType  `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	Date         time.Time        `json:"date"`
	Description  string           `json:"description"`
	Memo         string           `json:"memo,omitempty"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
	CategoryID   string           `json:"categoryId"`
	CategoryName string           `json:"categoryName"`
	Confidence   int              `json:"confidence"`
	Source       ResultSource     `json:"source"`
	RuleID       string           `json:"ruleId,omitempty"`
	Reasoning    string           `json:"reasoning,omitempty"`
	Confirmed    bool             `json:"confirmed"`
}

// NewTransactionRecord embeds a categorization decision into a persistable row
func NewTransactionRecord(uploadID, accountID, companyID string, batchNumber int, tx *Transaction, result CategorizationResult) *TransactionRecord {
	return &TransactionRecord{
		UploadID:     uploadID,
		AccountID:    accountID,
		CompanyID:    companyID,
		BatchNumber:  batchNumber,
		ExternalID:   tx.ExternalID(),
		Type:         tx.Type,
		Amount:       tx.Amount,
		Date:         tx.Date,
		Description:  tx.Description,
		Memo:         tx.Memo,
		Balance:      tx.Balance,
		CategoryID:   result.CategoryID,
		CategoryName: result.CategoryName,
		Confidence:   result.Confidence,
		Source:       result.Source,
		RuleID:       result.RuleID,
		Reasoning:    result.Reasoning,
	}
}
