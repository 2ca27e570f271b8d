package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"statement-categorization-service/internal/categorizer"
	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// RunRequest describes a full ingestion run. An empty UploadID starts a new upload.
type RunRequest struct {
	UploadID     string
	CompanyID    string
	AccountID    string
	Transactions []*models.Transaction
}

// RunSummary reports the outcome of Run
type RunSummary struct {
	UploadID          string              `json:"uploadId"`
	Status            models.UploadStatus `json:"status"`
	TotalTransactions int                 `json:"totalTransactions"`
	TotalBatches      int                 `json:"totalBatches"`
	StartBatch        int                 `json:"startBatch"`
	BatchesProcessed  int                 `json:"batchesProcessed"`
	Successful        int                 `json:"successful"`
	Failed            int                 `json:"failed"`
	Resumed           bool                `json:"resumed"`
	Paused            bool                `json:"paused"`
	Duration          time.Duration       `json:"duration"`
	Batches           []*BatchResult      `json:"batches"`
}

// Run prepares or resumes an upload, processes its remaining batches in order and
// completes it. A paused upload stops before the next batch and can be resumed by
// calling Run again with the same upload ID and transactions.
func (p *Processor) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	started := p.clock()
	if req.UploadID == "" {
		req.UploadID = uuid.NewString()
	}

	upload, startBatch, resumed, err := p.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		UploadID:          upload.ID,
		TotalTransactions: upload.TotalTransactions,
		TotalBatches:      upload.TotalBatches,
		StartBatch:        startBatch,
		Resumed:           resumed,
	}

	tenant := categorizer.TenantContext{CompanyID: upload.CompanyID, AccountID: upload.AccountID}
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "categorize_upload",
		Total:       int64(upload.TotalTransactions),
		Completed:   int64(upload.ProcessedTransactions),
		LogInterval: p.config.ProgressLogInterval,
		Logger:      p.logger.WithField("upload_id", upload.ID),
		Clock:       p.clock,
	})

	for number := startBatch; number <= upload.TotalBatches; number++ {
		current, err := p.jobs.GetUpload(ctx, upload.ID)
		if err != nil {
			tracker.CompleteWithError(err)
			return summary, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load upload")
		}
		if current.Status == models.UploadStatusPaused {
			summary.Paused = true
			summary.Status = current.Status
			summary.Duration = p.clock().Sub(started)
			p.logger.WithFields(logger.Fields{
				"upload_id":  upload.ID,
				"next_batch": number,
			}).Info("Upload paused before next batch")
			return summary, nil
		}

		span := p.config.BatchSpan(number, len(req.Transactions))
		result, err := p.ProcessBatch(ctx, BatchRequest{
			UploadID:     upload.ID,
			BatchNumber:  number,
			StartIndex:   span.Start,
			Transactions: req.Transactions[span.Start:span.End],
			Tenant:       tenant,
		})
		if result != nil {
			summary.Batches = append(summary.Batches, result)
			tracker.Add(int64(result.Processed))
		}
		if err != nil {
			tracker.CompleteWithError(err)
			summary.Status = models.UploadStatusProcessing
			summary.Duration = p.clock().Sub(started)
			return summary, err
		}
		summary.BatchesProcessed++
	}

	p.mu.Lock()
	final, err := p.tally(ctx, upload.ID)
	p.mu.Unlock()
	if err != nil {
		tracker.CompleteWithError(err)
		return summary, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to list batches")
	}

	completed, err := p.CompleteUpload(ctx, upload.ID, final)
	if err != nil {
		tracker.CompleteWithError(err)
		return summary, err
	}
	tracker.Complete()

	summary.Status = completed.Status
	summary.Successful = completed.SuccessfulTransactions
	summary.Failed = completed.FailedTransactions
	summary.Duration = p.clock().Sub(started)
	return summary, nil
}

// begin creates, prepares or resumes the upload and returns the first batch to run
func (p *Processor) begin(ctx context.Context, req RunRequest) (*models.Upload, int, bool, error) {
	upload, err := p.jobs.GetUpload(ctx, req.UploadID)
	switch {
	case errors.HasCode(err, errors.CodeNotFound):
		upload = &models.Upload{
			ID:        req.UploadID,
			CompanyID: req.CompanyID,
			AccountID: req.AccountID,
			Status:    models.UploadStatusPending,
		}
		if err := p.jobs.CreateUpload(ctx, upload); err != nil {
			return nil, 0, false, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to create upload")
		}
	case err != nil:
		return nil, 0, false, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load upload")
	}

	switch {
	case upload.Status == models.UploadStatusPending:
		prepared, err := p.Prepare(ctx, upload.ID, len(req.Transactions))
		if err != nil {
			return nil, 0, false, err
		}
		return prepared, 1, false, nil

	case upload.Status.IsResumable():
		if upload.TotalTransactions != len(req.Transactions) {
			return nil, 0, false, errors.BatchFatalError(errors.CodeInvalidState, upload.ID, upload.CurrentBatch,
				fmt.Errorf("upload has %d transactions but %d were supplied", upload.TotalTransactions, len(req.Transactions)))
		}

		point, err := p.ResumeProcessing(ctx, upload.ID)
		if err != nil {
			return nil, 0, false, err
		}

		p.mu.Lock()
		upload, err = p.jobs.GetUpload(ctx, upload.ID)
		if err == nil {
			upload.Status = models.UploadStatusProcessing
			err = p.jobs.UpdateUpload(ctx, upload)
		}
		p.mu.Unlock()
		if err != nil {
			return nil, 0, false, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to resume upload")
		}
		return upload, point.NextBatch, true, nil

	default:
		return nil, 0, false, errors.BatchFatalError(errors.CodeInvalidState, upload.ID, upload.CurrentBatch,
			fmt.Errorf("upload status is %s", upload.Status))
	}
}
