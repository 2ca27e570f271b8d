// Package batch drives categorization and persistence over the transactions of an
// upload.
//
// Transactions are split into sequential batches that act as checkpoints. Each
// batch is split again into chunks whose transactions are categorized and stored
// in parallel, at most ChunkSize at a time. A chunk completes only when every
// transaction in it has settled, and a failing transaction never affects its
// siblings. After every chunk the upload counters are written back so that
// progress can be queried and an interrupted run can resume at the batch after
// the last completed one.
//
// Example usage:
//
//	processor, err := batch.NewProcessor(jobStore, recordStore, orchestrator, batch.DefaultConfig())
//	summary, err := processor.Run(ctx, batch.RunRequest{
//		CompanyID:    companyID,
//		AccountID:    accountID,
//		Transactions: statement.Transactions,
//	})
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"statement-categorization-service/internal/categorizer"
	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// Categorizer produces a category decision for one transaction
type Categorizer interface {
	Categorize(ctx context.Context, tx *models.Transaction, tenant categorizer.TenantContext) models.CategorizationResult
	Unclassified(reason string) models.CategorizationResult
}

// RecordStore persists categorized transactions. SaveRecord must be idempotent
// on (UploadID, ExternalID).
type RecordStore interface {
	SaveRecord(ctx context.Context, record *models.TransactionRecord) error
}

// JobStore persists upload and batch state
type JobStore interface {
	CreateUpload(ctx context.Context, upload *models.Upload) error
	GetUpload(ctx context.Context, id string) (*models.Upload, error)
	UpdateUpload(ctx context.Context, upload *models.Upload) error
	SaveBatch(ctx context.Context, batch *models.ProcessingBatch) error
	ListBatches(ctx context.Context, uploadID string) ([]*models.ProcessingBatch, error)
}

// ProgressCallback is called after every chunk with the upload progress
type ProgressCallback func(Progress)

// BatchRequest describes one batch of an upload
type BatchRequest struct {
	UploadID     string
	BatchNumber  int
	StartIndex   int
	Transactions []*models.Transaction
	Tenant       categorizer.TenantContext
}

// BatchResult summarizes a processed batch
type BatchResult struct {
	BatchNumber  int           `json:"batchNumber"`
	Processed    int           `json:"processed"`
	SuccessCount int           `json:"successCount"`
	FailedCount  int           `json:"failedCount"`
	Chunks       int           `json:"chunks"`
	Errors       []error       `json:"-"`
	Duration     time.Duration `json:"duration"`
}

// CompletionStats are the aggregate outcome recorded when an upload completes
type CompletionStats struct {
	Successful     int
	Failed         int
	ProcessingTime time.Duration
}

// Processor runs batches for uploads
type Processor struct {
	jobs        JobStore
	records     RecordStore
	categorizer Categorizer
	config      *Config
	logger      logger.Logger
	clock       func() time.Time

	// mu serializes upload state updates
	mu        sync.Mutex
	callbacks []ProgressCallback
}

// NewProcessor creates a batch processor
func NewProcessor(jobs JobStore, records RecordStore, categorizer Categorizer, config *Config) (*Processor, error) {
	if jobs == nil || records == nil || categorizer == nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "new_processor",
			fmt.Errorf("job store, record store and categorizer are required"))
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "batch", fmt.Sprintf("%+v", *config), err)
	}

	return &Processor{
		jobs:        jobs,
		records:     records,
		categorizer: categorizer,
		config:      config,
		logger:      logger.WithComponent("batch_processor"),
		clock:       time.Now,
	}, nil
}

// SetLogger replaces the processor logger
func (p *Processor) SetLogger(log logger.Logger) {
	if log != nil {
		p.logger = log.WithComponent("batch_processor")
	}
}

// AddProgressCallback registers a progress callback
func (p *Processor) AddProgressCallback(callback ProgressCallback) {
	p.callbacks = append(p.callbacks, callback)
}

// Config returns the processor configuration
func (p *Processor) Config() *Config {
	return p.config
}

// Prepare initializes an upload for processing total transactions
func (p *Processor) Prepare(ctx context.Context, uploadID string, total int) (*models.Upload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	upload, err := p.jobs.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load upload")
	}

	now := p.clock().UTC()
	upload.TotalTransactions = total
	upload.TotalBatches = p.config.TotalBatches(total)
	upload.CurrentBatch = 0
	upload.ProcessedTransactions = 0
	upload.LastProcessedIndex = -1
	upload.SuccessfulTransactions = 0
	upload.FailedTransactions = 0
	upload.Status = models.UploadStatusProcessing
	upload.StartedAt = &now
	upload.CompletedAt = nil
	upload.ProcessingTime = 0

	if err := p.jobs.UpdateUpload(ctx, upload); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to prepare upload")
	}

	p.logger.WithFields(logger.Fields{
		"upload_id":     uploadID,
		"transactions":  total,
		"total_batches": upload.TotalBatches,
	}).Info("Upload prepared")

	return upload, nil
}

// ProcessBatch categorizes and stores the transactions of one batch. Failures of
// single transactions are counted and logged in the batch error log. An error is
// returned only when the chunk loop itself fails, in which case the batch is
// marked failed and the upload stays resumable.
func (p *Processor) ProcessBatch(ctx context.Context, req BatchRequest) (result *BatchResult, err error) {
	started := p.clock().UTC()
	result = &BatchResult{BatchNumber: req.BatchNumber}
	record := &models.ProcessingBatch{
		UploadID:    req.UploadID,
		BatchNumber: req.BatchNumber,
		Status:      models.BatchStatusProcessing,
		StartedAt:   &started,
	}

	log := p.logger.WithFields(logger.Fields{
		"upload_id":    req.UploadID,
		"batch_number": req.BatchNumber,
		"transactions": len(req.Transactions),
	})

	if err := p.jobs.SaveBatch(ctx, record); err != nil {
		return result, errors.BatchFatalError(errors.CodeChunkLoopFailed, req.UploadID, req.BatchNumber, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = p.failBatch(ctx, record, result, errors.BatchFatalError(errors.CodeChunkLoopFailed,
				req.UploadID, req.BatchNumber, fmt.Errorf("panic: %v", r)))
		}
	}()

	var itemErrors error
	for _, chunk := range p.config.Chunks(len(req.Transactions)) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, p.failBatch(ctx, record, result,
				errors.BatchFatalError(errors.CodeCancelled, req.UploadID, req.BatchNumber, ctxErr))
		}

		outcomes := p.processChunk(ctx, req, req.Transactions[chunk.Start:chunk.End])
		for _, outcome := range outcomes {
			result.Processed++
			if outcome.err != nil {
				result.FailedCount++
				itemErrors = multierr.Append(itemErrors, fmt.Errorf("transaction %s: %w", outcome.id, outcome.err))
			} else {
				result.SuccessCount++
			}
		}
		result.Chunks++

		if err := p.advance(ctx, req, chunk.End); err != nil {
			return result, p.failBatch(ctx, record, result,
				errors.BatchFatalError(errors.CodeChunkLoopFailed, req.UploadID, req.BatchNumber, err))
		}
	}

	result.Errors = multierr.Errors(itemErrors)
	completed := p.clock().UTC()
	result.Duration = completed.Sub(started)

	record.Status = models.BatchStatusCompleted
	record.ProcessedTransactions = result.Processed
	record.SuccessCount = result.SuccessCount
	record.FailedCount = result.FailedCount
	record.CompletedAt = &completed
	if itemErrors != nil {
		record.ErrorMessage = itemErrors.Error()
	}

	if err := p.jobs.SaveBatch(ctx, record); err != nil {
		return result, errors.BatchFatalError(errors.CodeChunkLoopFailed, req.UploadID, req.BatchNumber, err)
	}
	if err := p.syncCounts(ctx, req.UploadID); err != nil {
		return result, errors.BatchFatalError(errors.CodeChunkLoopFailed, req.UploadID, req.BatchNumber, err)
	}

	entry := log.WithFields(logger.Fields{
		"success":  result.SuccessCount,
		"failed":   result.FailedCount,
		"duration": result.Duration.String(),
	})
	if result.FailedCount > 0 {
		entry.Warn("Batch completed with failures")
	} else {
		entry.Info("Batch completed")
	}

	return result, nil
}

type itemOutcome struct {
	id  string
	err error
}

// processChunk runs one chunk on a bounded pool and waits for every item
func (p *Processor) processChunk(ctx context.Context, req BatchRequest, chunk []*models.Transaction) []itemOutcome {
	workers := pool.NewWithResults[itemOutcome]().WithMaxGoroutines(p.config.ChunkSize)
	for _, tx := range chunk {
		workers.Go(func() itemOutcome {
			return p.processItem(ctx, req, tx)
		})
	}
	return workers.Wait()
}

// processItem categorizes and stores one transaction. A categorization panic
// stores the transaction as unclassified. A storage failure or panic is reported
// as the item outcome.
func (p *Processor) processItem(ctx context.Context, req BatchRequest, tx *models.Transaction) (outcome itemOutcome) {
	if tx == nil {
		return itemOutcome{id: "<nil>", err: fmt.Errorf("transaction is nil")}
	}
	outcome.id = tx.ExternalID()

	defer func() {
		if r := recover(); r != nil {
			outcome.err = errors.InternalError(errors.CodeUnexpectedError, "process_transaction", fmt.Errorf("panic: %v", r))
		}
	}()

	result := p.categorize(ctx, req, tx)
	record := models.NewTransactionRecord(req.UploadID, req.Tenant.AccountID, req.Tenant.CompanyID, req.BatchNumber, tx, result)

	if err := p.records.SaveRecord(ctx, record); err != nil {
		outcome.err = errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to store transaction")
	}
	return outcome
}

func (p *Processor) categorize(ctx context.Context, req BatchRequest, tx *models.Transaction) (result models.CategorizationResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logger.Fields{
				"upload_id":      req.UploadID,
				"transaction_id": tx.ExternalID(),
			}).Errorf("Categorization panicked: %v", r)
			result = p.categorizer.Unclassified(fmt.Sprintf("categorization panicked: %v", r))
		}
	}()

	return p.categorizer.Categorize(ctx, tx, req.Tenant)
}

// advance records that the first done transactions of the batch are settled
func (p *Processor) advance(ctx context.Context, req BatchRequest, done int) error {
	p.mu.Lock()
	upload, err := p.jobs.GetUpload(ctx, req.UploadID)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	processed := min(req.StartIndex+done, upload.TotalTransactions)
	if processed > upload.ProcessedTransactions {
		upload.ProcessedTransactions = processed
	}
	if last := req.StartIndex + done - 1; last > upload.LastProcessedIndex {
		upload.LastProcessedIndex = last
	}
	if req.BatchNumber > upload.CurrentBatch {
		upload.CurrentBatch = req.BatchNumber
	}

	err = p.jobs.UpdateUpload(ctx, upload)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.notify(upload)
	return nil
}

// syncCounts recomputes the upload's success and failure totals from its
// completed batch records, so a failed update is repaired by the next one.
func (p *Processor) syncCounts(ctx context.Context, uploadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, err := p.tally(ctx, uploadID)
	if err != nil {
		return err
	}
	upload, err := p.jobs.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}
	upload.SuccessfulTransactions = stats.Successful
	upload.FailedTransactions = stats.Failed
	return p.jobs.UpdateUpload(ctx, upload)
}

func (p *Processor) tally(ctx context.Context, uploadID string) (CompletionStats, error) {
	var stats CompletionStats
	batches, err := p.jobs.ListBatches(ctx, uploadID)
	if err != nil {
		return stats, err
	}
	for _, b := range batches {
		if b.Status != models.BatchStatusCompleted {
			continue
		}
		stats.Successful += b.SuccessCount
		stats.Failed += b.FailedCount
	}
	return stats, nil
}

// failBatch marks the batch failed and returns the fatal error
func (p *Processor) failBatch(ctx context.Context, record *models.ProcessingBatch, result *BatchResult, fatal *errors.CategorizerError) error {
	completed := p.clock().UTC()
	record.Status = models.BatchStatusFailed
	record.ProcessedTransactions = result.Processed
	record.SuccessCount = result.SuccessCount
	record.FailedCount = result.FailedCount
	record.ErrorMessage = fatal.Error()
	record.CompletedAt = &completed

	// the caller's context may be the reason for the failure
	if err := p.jobs.SaveBatch(context.WithoutCancel(ctx), record); err != nil {
		p.logger.WithError(err).Error("Failed to mark batch as failed")
	}

	p.logger.WithError(fatal).WithFields(logger.Fields{
		"upload_id":    record.UploadID,
		"batch_number": record.BatchNumber,
	}).Error("Batch failed")

	return fatal
}

// CompleteUpload marks an upload completed with its aggregate counts. A zero
// processing time is measured from the upload start.
func (p *Processor) CompleteUpload(ctx context.Context, uploadID string, stats CompletionStats) (*models.Upload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	upload, err := p.jobs.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load upload")
	}

	now := p.clock().UTC()
	upload.Status = models.UploadStatusCompleted
	upload.SuccessfulTransactions = stats.Successful
	upload.FailedTransactions = stats.Failed
	upload.ProcessedTransactions = upload.TotalTransactions
	upload.CurrentBatch = upload.TotalBatches
	upload.CompletedAt = &now
	upload.ProcessingTime = stats.ProcessingTime
	if upload.ProcessingTime == 0 && upload.StartedAt != nil {
		upload.ProcessingTime = now.Sub(*upload.StartedAt)
	}

	if err := p.jobs.UpdateUpload(ctx, upload); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to complete upload")
	}

	p.logger.WithFields(logger.Fields{
		"upload_id":       uploadID,
		"successful":      stats.Successful,
		"failed":          stats.Failed,
		"processing_time": upload.ProcessingTime.String(),
	}).Info("Upload completed")

	return upload, nil
}

func (p *Processor) notify(upload *models.Upload) {
	if len(p.callbacks) == 0 {
		return
	}
	progress := newProgress(upload)
	for _, callback := range p.callbacks {
		callback(progress)
	}
}
