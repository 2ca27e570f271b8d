package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"statement-categorization-service/internal/categorizer"
	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedCategory(t *testing.T, db *Database, id, company, name string) *models.Category {
	t.Helper()
	category := &models.Category{ID: id, CompanyID: company, Name: name}
	if err := db.Categories().CreateCategory(context.Background(), category); err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}
	return category
}

func seedRule(t *testing.T, db *Database, id, company, pattern string, ruleType models.RuleType, categoryID string, score float64, status models.RuleStatus) {
	t.Helper()
	rule := &models.CategorizationRule{
		ID:              id,
		CompanyID:       company,
		Pattern:         pattern,
		RuleType:        ruleType,
		CategoryID:      categoryID,
		ConfidenceScore: score,
		Active:          status != models.RuleStatusInactive,
		Status:          status,
	}
	if err := db.Rules().CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
}

func TestRuleStore_ListMatchableRules(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seedRule(t, db, "r1", "c1", "salario", models.RuleTypeContains, "cat-1", 0.7, models.RuleStatusActive)
	seedRule(t, db, "r2", "c1", "pix*", models.RuleTypeWildcard, "cat-1", 0.9, models.RuleStatusRefined)
	seedRule(t, db, "r3", "c1", "tarifa", models.RuleTypeContains, "cat-2", 0.95, models.RuleStatusInactive)
	seedRule(t, db, "r4", "c1", "ted", models.RuleTypeExact, "cat-2", 0.8, models.RuleStatusConsolidated)
	seedRule(t, db, "r5", "c2", "salario", models.RuleTypeContains, "cat-9", 0.99, models.RuleStatusActive)

	rules, err := db.Rules().ListMatchableRules(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMatchableRules() error = %v", err)
	}

	var ids []string
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}
	if got := strings.Join(ids, ","); got != "r2,r4,r1" {
		t.Errorf("matchable rules = %s, want r2,r4,r1", got)
	}

	all, err := db.Rules().ListRules(ctx, "c1")
	if err != nil {
		t.Fatalf("ListRules() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListRules() returned %d rules, want 4", len(all))
	}
}

func TestRuleStore_CRUD(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Rules()

	rule := &models.CategorizationRule{
		CompanyID:       "c1",
		Pattern:         "aluguel",
		RuleType:        models.RuleTypeContains,
		CategoryID:      "cat-rent",
		ConfidenceScore: 0.8,
		Active:          true,
		Status:          models.RuleStatusActive,
	}
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	if rule.ID == "" {
		t.Fatal("CreateRule() did not assign an ID")
	}

	loaded, err := store.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if loaded.Pattern != "aluguel" || loaded.RuleType != models.RuleTypeContains || !loaded.Active {
		t.Errorf("GetRule() = %+v", loaded)
	}

	loaded.Pattern = "aluguel sala"
	loaded.Active = false
	loaded.Status = models.RuleStatusInactive
	if err := store.UpdateRule(ctx, loaded); err != nil {
		t.Fatalf("UpdateRule() error = %v", err)
	}

	updated, err := store.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule() error = %v", err)
	}
	if updated.Pattern != "aluguel sala" || updated.Active || updated.Status != models.RuleStatusInactive {
		t.Errorf("updated rule = %+v", updated)
	}

	if err := store.IncrementUsage(ctx, rule.ID); err != nil {
		t.Fatalf("IncrementUsage() error = %v", err)
	}
	if err := store.IncrementUsage(ctx, rule.ID); err != nil {
		t.Fatalf("IncrementUsage() error = %v", err)
	}
	counted, _ := store.GetRule(ctx, rule.ID)
	if counted.UsageCount != 2 {
		t.Errorf("UsageCount = %d, want 2", counted.UsageCount)
	}

	if err := store.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	if _, err := store.GetRule(ctx, rule.ID); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("GetRule() after delete error = %v, want not found", err)
	}
	if err := store.DeleteRule(ctx, rule.ID); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("DeleteRule() twice error = %v, want not found", err)
	}
	if err := store.UpdateRule(ctx, loaded); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("UpdateRule() missing error = %v, want not found", err)
	}
}

func TestRuleStore_DeactivateRules(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seedRule(t, db, "r1", "c1", "a", models.RuleTypeContains, "cat-1", 0.8, models.RuleStatusActive)
	seedRule(t, db, "r2", "c1", "b", models.RuleTypeContains, "cat-1", 0.8, models.RuleStatusActive)
	seedRule(t, db, "r3", "c1", "c", models.RuleTypeContains, "cat-1", 0.8, models.RuleStatusInactive)

	changed, err := db.Rules().DeactivateRules(ctx, []string{"r1", "r3", "missing"})
	if err != nil {
		t.Fatalf("DeactivateRules() error = %v", err)
	}
	if changed != 1 {
		t.Errorf("DeactivateRules() changed %d, want 1", changed)
	}

	rule, _ := db.Rules().GetRule(ctx, "r1")
	if rule.Active || rule.Status != models.RuleStatusInactive {
		t.Errorf("r1 = %+v, want inactive", rule)
	}

	if changed, err := db.Rules().DeactivateRules(ctx, nil); err != nil || changed != 0 {
		t.Errorf("DeactivateRules(nil) = %d, %v", changed, err)
	}
}

func TestCategoryStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Categories()

	seedCategory(t, db, "cat-b", "c1", "Vendas")
	seedCategory(t, db, "cat-a", "c1", "Aluguel")
	seedCategory(t, db, "cat-x", "c2", "Outros")

	categories, err := store.ListCategories(ctx, "c1")
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(categories) != 2 || categories[0].Name != "Aluguel" || categories[1].Name != "Vendas" {
		t.Errorf("ListCategories() = %+v", categories)
	}

	name, err := store.CategoryName(ctx, "cat-b")
	if err != nil || name != "Vendas" {
		t.Errorf("CategoryName() = %q, %v", name, err)
	}

	if err := store.DeactivateCategory(ctx, "cat-b"); err != nil {
		t.Fatalf("DeactivateCategory() error = %v", err)
	}
	category, _ := store.GetCategory(ctx, "cat-b")
	if category.Active {
		t.Error("category should be inactive")
	}

	if _, err := store.GetCategory(ctx, "nope"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("GetCategory() error = %v, want not found", err)
	}
	if err := store.CreateCategory(ctx, &models.Category{CompanyID: "c1"}); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("CreateCategory() without name error = %v", err)
	}

	generated := &models.Category{CompanyID: "c1", Name: "  Impostos "}
	if err := store.CreateCategory(ctx, generated); err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}
	if generated.ID == "" || !generated.Active {
		t.Errorf("generated category = %+v", generated)
	}
}

func TestJobStore_UploadsAndBatches(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Jobs()

	started := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	upload := &models.Upload{
		ID:                 "u1",
		CompanyID:          "c1",
		AccountID:          "acc",
		TotalTransactions:  37,
		TotalBatches:       3,
		LastProcessedIndex: -1,
		Status:             models.UploadStatusPending,
	}
	if err := store.CreateUpload(ctx, upload); err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}

	upload.Status = models.UploadStatusProcessing
	upload.CurrentBatch = 1
	upload.ProcessedTransactions = 15
	upload.LastProcessedIndex = 14
	upload.StartedAt = &started
	upload.ProcessingTime = 1500 * time.Millisecond
	if err := store.UpdateUpload(ctx, upload); err != nil {
		t.Fatalf("UpdateUpload() error = %v", err)
	}

	loaded, err := store.GetUpload(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUpload() error = %v", err)
	}
	if loaded.Status != models.UploadStatusProcessing || loaded.LastProcessedIndex != 14 || loaded.ProcessedTransactions != 15 {
		t.Errorf("GetUpload() = %+v", loaded)
	}
	if loaded.StartedAt == nil || !loaded.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", loaded.StartedAt, started)
	}
	if loaded.ProcessingTime != 1500*time.Millisecond {
		t.Errorf("ProcessingTime = %v", loaded.ProcessingTime)
	}

	if _, err := store.GetUpload(ctx, "missing"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("GetUpload() missing error = %v", err)
	}

	batch := &models.ProcessingBatch{UploadID: "u1", BatchNumber: 2, Status: models.BatchStatusProcessing, StartedAt: &started}
	if err := store.SaveBatch(ctx, batch); err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
	if err := store.SaveBatch(ctx, &models.ProcessingBatch{UploadID: "u1", BatchNumber: 1, Status: models.BatchStatusCompleted, ProcessedTransactions: 15, SuccessCount: 15}); err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
	batch.Status = models.BatchStatusCompleted
	batch.SuccessCount = 14
	batch.FailedCount = 1
	batch.ErrorMessage = "T07 failed"
	if err := store.SaveBatch(ctx, batch); err != nil {
		t.Fatalf("SaveBatch() upsert error = %v", err)
	}

	batches, err := store.ListBatches(ctx, "u1")
	if err != nil {
		t.Fatalf("ListBatches() error = %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("ListBatches() returned %d, want 2", len(batches))
	}
	if batches[0].BatchNumber != 1 || batches[1].BatchNumber != 2 {
		t.Errorf("batches out of order: %d, %d", batches[0].BatchNumber, batches[1].BatchNumber)
	}
	if batches[1].Status != models.BatchStatusCompleted || batches[1].FailedCount != 1 || batches[1].ErrorMessage != "T07 failed" {
		t.Errorf("upserted batch = %+v", batches[1])
	}

	uploads, err := store.ListUploads(ctx, "c1")
	if err != nil || len(uploads) != 1 {
		t.Errorf("ListUploads() = %d, %v", len(uploads), err)
	}
}

func testRecord(uploadID, externalID, description, categoryID string) *models.TransactionRecord {
	balance := decimal.RequireFromString("1234.56")
	return &models.TransactionRecord{
		UploadID:     uploadID,
		AccountID:    "acc",
		CompanyID:    "c1",
		BatchNumber:  1,
		ExternalID:   externalID,
		Type:         models.TransactionTypeDebit,
		Amount:       decimal.RequireFromString("-42.10"),
		Date:         time.Date(2024, 10, 3, 0, 0, 0, 0, time.UTC),
		Description:  description,
		Balance:      &balance,
		CategoryID:   categoryID,
		CategoryName: "Tarifas",
		Confidence:   90,
		Source:       models.SourceRule,
		RuleID:       "r1",
	}
}

func TestRecordStore_UpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Records()

	record := testRecord("u1", "T01", "TARIFA PACOTE", "cat-fees")
	for i := 0; i < 3; i++ {
		if err := store.SaveRecord(ctx, record); err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}
	}
	if err := store.SaveRecord(ctx, testRecord("u2", "T01", "TARIFA PACOTE", "cat-fees")); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	count, err := store.CountRecords(ctx, "u1")
	if err != nil || count != 1 {
		t.Errorf("CountRecords(u1) = %d, %v; want 1", count, err)
	}

	record.CategoryID = "unclassified"
	record.Source = models.SourceError
	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	records, err := store.ListRecords(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListRecords() returned %d", len(records))
	}
	got := records[0]
	if got.CategoryID != "unclassified" || got.Source != models.SourceError {
		t.Errorf("record not overwritten: %+v", got)
	}
	if !got.Amount.Equal(decimal.RequireFromString("-42.10")) {
		t.Errorf("Amount = %s", got.Amount)
	}
	if got.Balance == nil || !got.Balance.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("Balance = %v", got.Balance)
	}
	if !got.Date.Equal(time.Date(2024, 10, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", got.Date)
	}
}

func TestRecordStore_ConcurrentSaves(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Records()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("T%02d", i%20)
			errs <- store.SaveRecord(ctx, testRecord("u1", id, "PIX "+id, "cat-sales"))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}
	}
	if count, _ := store.CountRecords(ctx, "u1"); count != 20 {
		t.Errorf("CountRecords() = %d, want 20", count)
	}
}

func TestHistoryClassifier(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.Records()
	history := NewHistoryClassifier(db, 100)

	if err := store.SaveRecord(ctx, testRecord("u1", "T01", "Tarifa   PACOTE", "unclassified")); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	req := categorizer.ClassificationRequest{CompanyID: "c1", Description: "TARIFA PACOTE"}
	decision, err := history.Classify(ctx, req)
	if err != nil || decision != nil {
		t.Fatalf("Classify() before confirmation = %+v, %v", decision, err)
	}

	fees := &models.Category{ID: "cat-fees", CompanyID: "c1", Name: "Tarifas"}
	if err := store.Confirm(ctx, "u1", "T01", fees); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	decision, err = history.Classify(ctx, req)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision == nil || decision.CategoryID != "cat-fees" || decision.Confidence != 100 {
		t.Errorf("Classify() = %+v", decision)
	}

	other := categorizer.ClassificationRequest{CompanyID: "c2", Description: "TARIFA PACOTE"}
	if decision, _ := history.Classify(ctx, other); decision != nil {
		t.Errorf("history leaked across companies: %+v", decision)
	}

	if err := store.Confirm(ctx, "u1", "missing", fees); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("Confirm() missing error = %v", err)
	}

	// Reprocessing leaves a confirmed record alone
	if err := store.SaveRecord(ctx, testRecord("u1", "T01", "TARIFA PACOTE", "cat-other")); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}
	records, _ := store.ListRecords(ctx, "u1")
	if !records[0].Confirmed || records[0].CategoryID != "cat-fees" {
		t.Errorf("confirmed record overwritten: %+v", records[0])
	}
}

func TestDecisionCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	cache := NewDecisionCache(time.Minute)
	cache.clock = func() time.Time { return now }

	req := categorizer.ClassificationRequest{CompanyID: "c1", Description: "Uber  Trip"}
	if decision, _ := cache.Classify(ctx, req); decision != nil {
		t.Fatalf("empty cache returned %+v", decision)
	}

	err := cache.RecordDecision(ctx, req, categorizer.Classification{
		CategoryID: "cat-transport", CategoryName: "Transporte", Confidence: 85, Reasoning: "ai", RuleID: "r9",
	})
	if err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}

	decision, err := cache.Classify(ctx, categorizer.ClassificationRequest{CompanyID: "c1", Description: "uber trip"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision == nil || decision.CategoryID != "cat-transport" || decision.Confidence != 85 {
		t.Fatalf("Classify() = %+v", decision)
	}
	if decision.RuleID != "" || decision.Reasoning != "cached: ai" {
		t.Errorf("cached decision = %+v", decision)
	}

	if decision, _ := cache.Classify(ctx, categorizer.ClassificationRequest{CompanyID: "c2", Description: "uber trip"}); decision != nil {
		t.Error("cache leaked across companies")
	}

	now = now.Add(time.Minute)
	if decision, _ := cache.Classify(ctx, req); decision != nil {
		t.Errorf("expired entry returned %+v", decision)
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after expiry, want 0", cache.Len())
	}

	if err := cache.RecordDecision(ctx, categorizer.ClassificationRequest{CompanyID: "c1"}, categorizer.Classification{}); err != nil || cache.Len() != 0 {
		t.Errorf("empty description was cached: %v, %d", err, cache.Len())
	}
}
