package batch

import (
	"context"
	"fmt"
	"time"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// Progress is the externally visible state of an upload
type Progress struct {
	UploadID                 string              `json:"uploadId"`
	CurrentBatch             int                 `json:"currentBatch"`
	TotalBatches             int                 `json:"totalBatches"`
	ProcessedTransactions    int                 `json:"processedTransactions"`
	TotalTransactions        int                 `json:"totalTransactions"`
	Status                   models.UploadStatus `json:"status"`
	Percentage               float64             `json:"percentage"`
	EstimatedTimeRemainingMs *int64              `json:"estimatedTimeRemainingMs,omitempty"`
}

// EstimatedTimeRemaining returns the estimate as a duration, if one is known
func (p Progress) EstimatedTimeRemaining() (time.Duration, bool) {
	if p.EstimatedTimeRemainingMs == nil {
		return 0, false
	}
	return time.Duration(*p.EstimatedTimeRemainingMs) * time.Millisecond, true
}

func newProgress(upload *models.Upload) Progress {
	progress := Progress{
		UploadID:              upload.ID,
		CurrentBatch:          upload.CurrentBatch,
		TotalBatches:          upload.TotalBatches,
		ProcessedTransactions: upload.ProcessedTransactions,
		TotalTransactions:     upload.TotalTransactions,
		Status:                upload.Status,
	}

	switch {
	case upload.TotalTransactions > 0:
		progress.Percentage = float64(upload.ProcessedTransactions) / float64(upload.TotalTransactions) * 100
	case upload.Status == models.UploadStatusCompleted:
		progress.Percentage = 100
	}

	return progress
}

// GetProgress returns the progress of an upload. The remaining time is projected
// from the average wall time of the completed batches over the batches left.
func (p *Processor) GetProgress(ctx context.Context, uploadID string) (*Progress, error) {
	upload, err := p.jobs.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load upload")
	}

	progress := newProgress(upload)
	if !upload.Status.IsResumable() {
		return &progress, nil
	}

	batches, err := p.jobs.ListBatches(ctx, uploadID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to list batches")
	}

	var completed int64
	var elapsed time.Duration
	for _, b := range batches {
		if b.Status != models.BatchStatusCompleted {
			continue
		}
		if d, ok := b.Duration(); ok {
			completed++
			elapsed += d
		}
	}

	remaining := int64(upload.TotalBatches) - completed
	if completed > 0 && remaining > 0 && elapsed > 0 {
		rate := float64(completed) / elapsed.Seconds()
		ms := logger.EstimateRemaining(remaining, rate).Milliseconds()
		progress.EstimatedTimeRemainingMs = &ms
	}

	return &progress, nil
}

// ResumePoint tells an interrupted run where to continue
type ResumePoint struct {
	UploadID              string              `json:"uploadId"`
	Status                models.UploadStatus `json:"status"`
	NextBatch             int                 `json:"nextBatch"`
	LastProcessedIndex    int                 `json:"lastProcessedIndex"`
	ProcessedTransactions int                 `json:"processedTransactions"`
	CompletedBatches      int                 `json:"completedBatches"`
	TotalBatches          int                 `json:"totalBatches"`
}

// ResumeProcessing finds the batch after the highest completed one of an
// upload that is still processing or paused
func (p *Processor) ResumeProcessing(ctx context.Context, uploadID string) (*ResumePoint, error) {
	upload, err := p.jobs.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load upload")
	}

	if !upload.Status.IsResumable() {
		return nil, errors.BatchFatalError(errors.CodeInvalidState, uploadID, upload.CurrentBatch,
			fmt.Errorf("upload status is %s", upload.Status))
	}

	batches, err := p.jobs.ListBatches(ctx, uploadID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to list batches")
	}

	highest, completed := 0, 0
	for _, b := range batches {
		if b.Status != models.BatchStatusCompleted {
			continue
		}
		completed++
		if b.BatchNumber > highest {
			highest = b.BatchNumber
		}
	}

	point := &ResumePoint{
		UploadID:              uploadID,
		Status:                upload.Status,
		NextBatch:             highest + 1,
		LastProcessedIndex:    upload.LastProcessedIndex,
		ProcessedTransactions: upload.ProcessedTransactions,
		CompletedBatches:      completed,
		TotalBatches:          upload.TotalBatches,
	}

	p.logger.WithFields(logger.Fields{
		"upload_id":            uploadID,
		"next_batch":           point.NextBatch,
		"last_processed_index": point.LastProcessedIndex,
	}).Info("Resume point found")

	return point, nil
}

// Pause asks a running upload to stop before its next batch
func (p *Processor) Pause(ctx context.Context, uploadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	upload, err := p.jobs.GetUpload(ctx, uploadID)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to load upload")
	}
	if upload.Status != models.UploadStatusProcessing {
		return errors.BatchFatalError(errors.CodeInvalidState, uploadID, upload.CurrentBatch,
			fmt.Errorf("only processing uploads can be paused, status is %s", upload.Status))
	}

	upload.Status = models.UploadStatusPaused
	if err := p.jobs.UpdateUpload(ctx, upload); err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeWriteFailed, "failed to pause upload")
	}

	p.logger.WithField("upload_id", uploadID).Info("Upload paused")
	return nil
}
