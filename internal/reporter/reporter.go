// Package reporter renders categorization results for people and programs.
//
// Three report types are produced from persisted state:
//   - Upload reports: the outcome of one ingestion run with per-category totals
//   - Progress reports: the checkpoint of a running or interrupted upload
//   - Rule reports: statistics, conflicts and orphans of a tenant's rule set
//
// Every report can be written as console text, JSON or CSV.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	report := reporter.NewUploadReport(upload, batches, records, time.Now())
//	err = generator.GenerateUploadReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"statement-categorization-service/internal/batch"
	"statement-categorization-service/internal/matcher"
	"statement-categorization-service/internal/models"
	"statement-categorization-service/internal/rules"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `mapstructure:"format" json:"format"`

	// Detail level options
	IncludeRecords bool `mapstructure:"include_records" json:"include_records"`
	IncludeBatches bool `mapstructure:"include_batches" json:"include_batches"`

	// MaxListItems truncates long console lists; zero prints everything
	MaxListItems int `mapstructure:"max_list_items" json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `mapstructure:"csv_delimiter" json:"csv_delimiter"`
	CSVHeaders   bool `mapstructure:"csv_headers" json:"csv_headers"`

	// SortByConfidence lists the least confident records first
	SortByConfidence bool `mapstructure:"sort_by_confidence" json:"sort_by_confidence"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:           FormatConsole,
		IncludeRecords:   false,
		IncludeBatches:   true,
		MaxListItems:     20,
		CSVDelimiter:     ',',
		CSVHeaders:       true,
		SortByConfidence: false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '\n' || c.CSVDelimiter == '"') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// CategoryBreakdown aggregates the records assigned to one category
type CategoryBreakdown struct {
	CategoryID   string          `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	Count        int             `json:"count"`
	Total        decimal.Decimal `json:"total"`
}

// UploadSummary holds the headline figures of an upload
type UploadSummary struct {
	UploadID          string                      `json:"uploadId"`
	CompanyID         string                      `json:"companyId"`
	AccountID         string                      `json:"accountId"`
	Status            models.UploadStatus         `json:"status"`
	TotalTransactions int                         `json:"totalTransactions"`
	Processed         int                         `json:"processed"`
	Successful        int                         `json:"successful"`
	Failed            int                         `json:"failed"`
	TotalBatches      int                         `json:"totalBatches"`
	Classified        int                         `json:"classified"`
	Unclassified      int                         `json:"unclassified"`
	AverageConfidence float64                     `json:"averageConfidence"`
	TotalCredits      decimal.Decimal             `json:"totalCredits"`
	TotalDebits       decimal.Decimal             `json:"totalDebits"`
	BySource          map[models.ResultSource]int `json:"bySource"`
	Categories        []CategoryBreakdown         `json:"categories"`
	ProcessingTime    time.Duration               `json:"processingTime"`
}

// UploadReport is everything known about one upload
type UploadReport struct {
	Summary     *UploadSummary              `json:"summary"`
	Batches     []*models.ProcessingBatch   `json:"batches,omitempty"`
	Records     []*models.TransactionRecord `json:"records,omitempty"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}

// NewUploadReport aggregates persisted upload state into a report
func NewUploadReport(upload *models.Upload, batches []*models.ProcessingBatch, records []*models.TransactionRecord, generatedAt time.Time) *UploadReport {
	summary := &UploadSummary{
		UploadID:          upload.ID,
		CompanyID:         upload.CompanyID,
		AccountID:         upload.AccountID,
		Status:            upload.Status,
		TotalTransactions: upload.TotalTransactions,
		Processed:         upload.ProcessedTransactions,
		Successful:        upload.SuccessfulTransactions,
		Failed:            upload.FailedTransactions,
		TotalBatches:      upload.TotalBatches,
		TotalCredits:      decimal.Zero,
		TotalDebits:       decimal.Zero,
		BySource:          make(map[models.ResultSource]int),
		ProcessingTime:    upload.ProcessingTime,
	}

	categories := make(map[string]*CategoryBreakdown)
	var confidence int
	for _, record := range records {
		summary.BySource[record.Source]++
		if record.Source == models.SourceError {
			summary.Unclassified++
		} else {
			summary.Classified++
			confidence += record.Confidence
		}

		if record.Type == models.TransactionTypeDebit {
			summary.TotalDebits = summary.TotalDebits.Add(record.Amount.Abs())
		} else {
			summary.TotalCredits = summary.TotalCredits.Add(record.Amount.Abs())
		}

		breakdown, ok := categories[record.CategoryID]
		if !ok {
			breakdown = &CategoryBreakdown{CategoryID: record.CategoryID, CategoryName: record.CategoryName, Total: decimal.Zero}
			categories[record.CategoryID] = breakdown
		}
		breakdown.Count++
		breakdown.Total = breakdown.Total.Add(record.Amount)
	}

	if summary.Classified > 0 {
		summary.AverageConfidence = float64(confidence) / float64(summary.Classified)
	}

	for _, breakdown := range categories {
		summary.Categories = append(summary.Categories, *breakdown)
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		a, b := summary.Categories[i], summary.Categories[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.CategoryName < b.CategoryName
	})

	return &UploadReport{
		Summary:     summary,
		Batches:     batches,
		Records:     records,
		GeneratedAt: generatedAt,
	}
}

// RuleReport describes the health of a tenant's rule set
type RuleReport struct {
	CompanyID string                       `json:"companyId"`
	Stats     *rules.Stats                 `json:"stats,omitempty"`
	Rules     []*models.CategorizationRule `json:"rules,omitempty"`
	Conflicts []matcher.Conflict           `json:"conflicts,omitempty"`
	Orphans   []*models.CategorizationRule `json:"orphans,omitempty"`
}

// ReportGenerator generates reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateUploadReport writes an upload report
func (rg *ReportGenerator) GenerateUploadReport(report *UploadReport, writer io.Writer) error {
	if report == nil || report.Summary == nil {
		return fmt.Errorf("upload report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateUploadConsole(report, writer)
	case FormatJSON:
		return rg.writeJSON(rg.filterUploadReport(report), writer)
	case FormatCSV:
		return rg.generateRecordsCSV(report.Records, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateProgressReport writes the checkpoint state of an upload
func (rg *ReportGenerator) GenerateProgressReport(progress *batch.Progress, writer io.Writer) error {
	if progress == nil {
		return fmt.Errorf("progress cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "Upload:       %s\n", progress.UploadID)
		fmt.Fprintf(writer, "Status:       %s\n", progress.Status)
		fmt.Fprintf(writer, "Batch:        %d/%d\n", progress.CurrentBatch, progress.TotalBatches)
		fmt.Fprintf(writer, "Transactions: %d/%d (%.1f%%)\n", progress.ProcessedTransactions, progress.TotalTransactions, progress.Percentage)
		if eta, ok := progress.EstimatedTimeRemaining(); ok {
			fmt.Fprintf(writer, "Remaining:    ~%v\n", eta.Round(time.Second))
		}
		return nil
	case FormatJSON:
		return rg.writeJSON(progress, writer)
	case FormatCSV:
		return rg.writeCSV(writer,
			[]string{"Upload_ID", "Status", "Current_Batch", "Total_Batches", "Processed", "Total", "Percentage"},
			[][]string{{
				progress.UploadID,
				string(progress.Status),
				strconv.Itoa(progress.CurrentBatch),
				strconv.Itoa(progress.TotalBatches),
				strconv.Itoa(progress.ProcessedTransactions),
				strconv.Itoa(progress.TotalTransactions),
				fmt.Sprintf("%.2f", progress.Percentage),
			}})
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateRuleReport writes rule statistics, listings, conflicts and orphans
func (rg *ReportGenerator) GenerateRuleReport(report *RuleReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("rule report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateRuleConsole(report, writer)
	case FormatJSON:
		return rg.writeJSON(report, writer)
	case FormatCSV:
		return rg.generateRulesCSV(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateUploadConsole(report *UploadReport, writer io.Writer) error {
	summary := report.Summary

	fmt.Fprintf(writer, "CATEGORIZATION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Upload: %s (company %s)\n", summary.UploadID, summary.CompanyID)
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", summary.ProcessingTime)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	fmt.Fprintf(writer, "Total Credits: %s\n", summary.TotalCredits.StringFixed(2))
	fmt.Fprintf(writer, "Total Debits:  %s\n", summary.TotalDebits.StringFixed(2))
	fmt.Fprintf(writer, "Net:           %s\n\n", summary.TotalCredits.Sub(summary.TotalDebits).StringFixed(2))

	fmt.Fprintf(writer, "=== DECISION SOURCES ===\n")
	rg.printSourceTable(summary, writer)
	fmt.Fprintf(writer, "\n")

	if len(summary.Categories) > 0 {
		fmt.Fprintf(writer, "=== CATEGORIES ===\n")
		for _, category := range summary.Categories {
			fmt.Fprintf(writer, "  %-30s %5d  %12s\n", category.CategoryName, category.Count, category.Total.StringFixed(2))
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeBatches && len(report.Batches) > 0 {
		fmt.Fprintf(writer, "=== BATCHES ===\n")
		rg.printBatches(report.Batches, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeRecords && len(report.Records) > 0 {
		fmt.Fprintf(writer, "=== TRANSACTIONS ===\n")
		rg.printRecordList(report.Records, writer)
	}

	return nil
}

func (rg *ReportGenerator) printSummaryTable(summary *UploadSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Status:        %s\n", summary.Status)
	fmt.Fprintf(writer, "Transactions:  %d\n", summary.TotalTransactions)
	fmt.Fprintf(writer, "  Processed:   %d (%.1f%%)\n", summary.Processed,
		rg.calculatePercentage(summary.Processed, summary.TotalTransactions))
	fmt.Fprintf(writer, "  Successful:  %d\n", summary.Successful)
	fmt.Fprintf(writer, "  Failed:      %d\n", summary.Failed)
	fmt.Fprintf(writer, "Batches:       %d\n", summary.TotalBatches)
	fmt.Fprintf(writer, "Classified:    %d (%.1f%%)\n", summary.Classified,
		rg.calculatePercentage(summary.Classified, summary.Classified+summary.Unclassified))
	fmt.Fprintf(writer, "Unclassified:  %d\n", summary.Unclassified)
	fmt.Fprintf(writer, "Avg Confidence: %.1f\n", summary.AverageConfidence)
}

func (rg *ReportGenerator) printSourceTable(summary *UploadSummary, writer io.Writer) {
	total := 0
	for _, count := range summary.BySource {
		total += count
	}

	sources := []models.ResultSource{
		models.SourceHistory,
		models.SourceCache,
		models.SourceRule,
		models.SourceAI,
		models.SourceError,
	}
	for _, source := range sources {
		count := summary.BySource[source]
		fmt.Fprintf(writer, "%-8s %5d (%.1f%%)\n", strings.ToUpper(string(source)), count, rg.calculatePercentage(count, total))
	}
}

func (rg *ReportGenerator) printBatches(batches []*models.ProcessingBatch, writer io.Writer) {
	for _, b := range batches {
		fmt.Fprintf(writer, "  #%d %-10s processed=%d ok=%d failed=%d", b.BatchNumber, b.Status, b.ProcessedTransactions, b.SuccessCount, b.FailedCount)
		if d, ok := b.Duration(); ok {
			fmt.Fprintf(writer, " took=%v", d.Round(time.Millisecond))
		}
		if b.ErrorMessage != "" {
			fmt.Fprintf(writer, " error=%q", b.ErrorMessage)
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printRecordList(records []*models.TransactionRecord, writer io.Writer) {
	records = rg.sortRecords(records)

	for i, record := range records {
		if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(records)-rg.config.MaxListItems)
			break
		}
		fmt.Fprintf(writer, "  %d. %s %s %12s  %-40s -> %s (%d, %s)\n",
			i+1,
			record.ExternalID,
			record.Date.Format("2006-01-02"),
			record.Amount.StringFixed(2),
			truncate(record.Description, 40),
			record.CategoryName,
			record.Confidence,
			record.Source)
	}
}

func (rg *ReportGenerator) sortRecords(records []*models.TransactionRecord) []*models.TransactionRecord {
	if !rg.config.SortByConfidence {
		return records
	}
	sorted := make([]*models.TransactionRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence < sorted[j].Confidence
	})
	return sorted
}

func (rg *ReportGenerator) generateRecordsCSV(records []*models.TransactionRecord, writer io.Writer) error {
	headers := []string{
		"External_ID",
		"Date",
		"Type",
		"Amount",
		"Description",
		"Category_ID",
		"Category_Name",
		"Confidence",
		"Source",
		"Rule_ID",
		"Batch",
		"Reasoning",
	}

	rows := make([][]string, 0, len(records))
	for _, record := range rg.sortRecords(records) {
		rows = append(rows, []string{
			record.ExternalID,
			record.Date.Format("2006-01-02"),
			string(record.Type),
			record.Amount.StringFixed(2),
			record.Description,
			record.CategoryID,
			record.CategoryName,
			strconv.Itoa(record.Confidence),
			string(record.Source),
			record.RuleID,
			strconv.Itoa(record.BatchNumber),
			record.Reasoning,
		})
	}

	return rg.writeCSV(writer, headers, rows)
}

func (rg *ReportGenerator) generateRuleConsole(report *RuleReport, writer io.Writer) error {
	fmt.Fprintf(writer, "RULE REPORT (company %s)\n\n", report.CompanyID)

	if report.Stats != nil {
		stats := report.Stats
		fmt.Fprintf(writer, "=== STATISTICS ===\n")
		fmt.Fprintf(writer, "Total Rules:     %d\n", stats.Total)
		fmt.Fprintf(writer, "Active Rules:    %d\n", stats.Active)
		fmt.Fprintf(writer, "Avg Confidence:  %.2f\n", stats.AverageConfidence)
		fmt.Fprintf(writer, "Patterns:        %d across %d categories\n", stats.UniquePatterns, stats.UniqueCategories)
		fmt.Fprintf(writer, "Total Usage:     %d\n", stats.TotalUsage)
		if stats.MostUsed != nil {
			fmt.Fprintf(writer, "Most Used:       %s (%d)\n", stats.MostUsed.Pattern, stats.MostUsed.UsageCount)
		}
		for _, ruleType := range models.AllRuleTypes {
			if count := stats.ByType[ruleType]; count > 0 {
				fmt.Fprintf(writer, "  %-10s %d\n", ruleType, count)
			}
		}
		fmt.Fprintf(writer, "\n")
	}

	if len(report.Rules) > 0 {
		fmt.Fprintf(writer, "=== RULES ===\n")
		rg.printRuleList(report.Rules, writer)
		fmt.Fprintf(writer, "\n")
	}

	if report.Conflicts != nil {
		fmt.Fprintf(writer, "=== CONFLICTS ===\n")
		fmt.Fprintf(writer, "Total Conflicts Found: %d\n", len(report.Conflicts))
		for _, conflict := range report.Conflicts {
			fmt.Fprintf(writer, "  - [%s] %q (%s) vs %q (%s): %.0f%% similar\n",
				strings.ToUpper(string(conflict.Severity)),
				conflict.First.Pattern, conflict.First.CategoryID,
				conflict.Second.Pattern, conflict.Second.CategoryID,
				conflict.Similarity*100)
		}
		fmt.Fprintf(writer, "\n")
	}

	if report.Orphans != nil {
		fmt.Fprintf(writer, "=== ORPHANED RULES ===\n")
		fmt.Fprintf(writer, "Total Orphans Found: %d\n", len(report.Orphans))
		rg.printRuleList(report.Orphans, writer)
	}

	return nil
}

func (rg *ReportGenerator) printRuleList(list []*models.CategorizationRule, writer io.Writer) {
	for i, rule := range list {
		if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(list)-rg.config.MaxListItems)
			break
		}
		fmt.Fprintf(writer, "  %s  %-9s %-30q -> %s  score=%.2f status=%s used=%d\n",
			rule.ID, rule.RuleType, rule.Pattern, rule.CategoryID, rule.ConfidenceScore, rule.Status, rule.UsageCount)
	}
}

func (rg *ReportGenerator) generateRulesCSV(report *RuleReport, writer io.Writer) error {
	headers := []string{"Kind", "Rule_ID", "Pattern", "Rule_Type", "Category_ID", "Confidence_Score", "Status", "Usage", "Related_Rule_ID", "Similarity"}

	var rows [][]string
	ruleRow := func(kind string, rule *models.CategorizationRule, related string, similarity string) []string {
		return []string{
			kind,
			rule.ID,
			rule.Pattern,
			string(rule.RuleType),
			rule.CategoryID,
			fmt.Sprintf("%.2f", rule.ConfidenceScore),
			string(rule.Status),
			strconv.Itoa(rule.UsageCount),
			related,
			similarity,
		}
	}

	for _, rule := range report.Rules {
		rows = append(rows, ruleRow("rule", rule, "", ""))
	}
	for _, conflict := range report.Conflicts {
		rows = append(rows, ruleRow("conflict_"+string(conflict.Severity), conflict.First, conflict.Second.ID, fmt.Sprintf("%.3f", conflict.Similarity)))
	}
	for _, rule := range report.Orphans {
		rows = append(rows, ruleRow("orphan", rule, "", ""))
	}

	return rg.writeCSV(writer, headers, rows)
}

func (rg *ReportGenerator) writeJSON(value interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (rg *ReportGenerator) writeCSV(writer io.Writer, headers []string, rows [][]string) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, row := range rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterUploadReport(report *UploadReport) map[string]interface{} {
	output := map[string]interface{}{
		"summary":      report.Summary,
		"generated_at": report.GeneratedAt,
	}

	if rg.config.IncludeBatches && report.Batches != nil {
		output["batches"] = report.Batches
	}

	if rg.config.IncludeRecords && report.Records != nil {
		output["records"] = rg.sortRecords(report.Records)
	}

	return output
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
