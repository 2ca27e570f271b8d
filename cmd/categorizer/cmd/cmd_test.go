package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/internal/reporter"
	"statement-categorization-service/internal/storage"
	"statement-categorization-service/pkg/errors"
)

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.ofx")
	if err := os.WriteFile(validFile, []byte("OFXHEADER:100"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name        string
		filePath    string
		expectError bool
		code        errors.ErrorCode
	}{
		{name: "valid file", filePath: validFile},
		{name: "empty path", filePath: "", expectError: true},
		{name: "non-existent file", filePath: "/non/existent/file.ofx", expectError: true, code: errors.CodeFileNotFound},
		{name: "directory instead of file", filePath: tmpDir, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "statement file")

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.code != "" && !errors.HasCode(err, tt.code) {
				t.Errorf("error %v should carry code %s", err, tt.code)
			}
		})
	}
}

func TestValidateIngestFlags(t *testing.T) {
	tmpDir := t.TempDir()
	statement := filepath.Join(tmpDir, "extrato.ofx")
	second := filepath.Join(tmpDir, "extrato2.ofx")
	for _, path := range []string{statement, second} {
		if err := os.WriteFile(path, []byte("OFXHEADER:100"), 0644); err != nil {
			t.Fatalf("failed to create statement: %v", err)
		}
	}

	tests := []struct {
		name        string
		files       []string
		company     string
		upload      string
		output      string
		expectError bool
	}{
		{name: "valid", files: []string{statement}, company: "acme"},
		{name: "several files", files: []string{statement, second}, company: "acme"},
		{name: "upload with one file", files: []string{statement}, company: "acme", upload: "up-1"},
		{name: "missing files", company: "acme", expectError: true},
		{name: "blank company", files: []string{statement}, company: "  ", expectError: true},
		{name: "upload with several files", files: []string{statement, second}, company: "acme", upload: "up-1", expectError: true},
		{name: "missing file", files: []string{filepath.Join(tmpDir, "nope.ofx")}, company: "acme", expectError: true},
		{name: "output in missing directory", files: []string{statement}, company: "acme", output: "/non/existent/dir/report.json", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statementFiles = tt.files
			companyID = tt.company
			uploadID = tt.upload
			outputFile = tt.output
			defer func() {
				statementFiles, companyID, uploadID, outputFile = nil, "", "", ""
			}()

			err := validateIngestFlags(ingestCmd, nil)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRequireFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("company", "", "")
	cmd.Flags().String("name", "", "")

	check := requireFlags("company", "name")

	err := check(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "--company, --name") {
		t.Errorf("error = %v, want both flags listed", err)
	}

	cmd.Flags().Set("company", "acme")
	cmd.Flags().Set("name", "Vendas")
	if err := check(cmd, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUpdateRequestFromFlags(t *testing.T) {
	defer resetFlags(rootCmd)

	resetFlags(rulesUpdateCmd)
	if _, err := updateRequestFromFlags(rulesUpdateCmd); err == nil {
		t.Error("expected error when no field is set")
	}

	rulesUpdateCmd.Flags().Set("confidence", "0.95")
	rulesUpdateCmd.Flags().Set("status", "refined")
	req, err := updateRequestFromFlags(rulesUpdateCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ConfidenceScore == nil || *req.ConfidenceScore != 0.95 {
		t.Errorf("ConfidenceScore = %v", req.ConfidenceScore)
	}
	if req.Status == nil || *req.Status != models.RuleStatusRefined {
		t.Errorf("Status = %v", req.Status)
	}
	if req.Pattern != nil || req.Active != nil {
		t.Error("unchanged flags should stay nil")
	}

	rulesUpdateCmd.Flags().Set("status", "archived")
	if _, err := updateRequestFromFlags(rulesUpdateCmd); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestCLIErrorHandler_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		exitCode int
		contains string
	}{
		{"nil", nil, 0, ""},
		{"file", errors.FileError(errors.CodeFileNotFound, "x.ofx", os.ErrNotExist), 2, "File error help"},
		{"parse", errors.ParseError(errors.CodeNoTransactions, "no blocks", nil), 3, "Parse error help"},
		{"configuration", errors.ConfigurationError(errors.CodeInvalidConfig, "batch", 0, nil), 4, "Configuration error help"},
		{"persistence", errors.PersistenceError(errors.CodeNotFound, "upload", "up-1", nil), 5, "Storage error help"},
		{"rule", errors.RuleError(errors.CodeDuplicateRule, "venda*", nil), 6, "Rule error help"},
		{"wrapped", fmt.Errorf("ingest: %w", errors.BatchFatalError(errors.CodeInvalidState, "up-1", 2, nil)), 5, "Batch error help"},
		{"missing file", fmt.Errorf("open x: %w", os.ErrNotExist), 2, "File not found"},
		{"generic", fmt.Errorf("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			handler := NewCLIErrorHandler()
			handler.out = &out

			if code := handler.HandleError(tt.err); code != tt.exitCode {
				t.Errorf("exit code = %d, want %d", code, tt.exitCode)
			}
			if !strings.Contains(out.String(), tt.contains) {
				t.Errorf("output should contain %q, got:\n%s", tt.contains, out.String())
			}
		})
	}
}

func TestFormatValidationErrors(t *testing.T) {
	if got := FormatValidationErrors(nil); got != "" {
		t.Errorf("empty input should give empty string, got %q", got)
	}
	if got := FormatValidationErrors([]error{fmt.Errorf("bad")}); got != "Validation error: bad" {
		t.Errorf("single error = %q", got)
	}

	var errs []error
	for i := 0; i < 12; i++ {
		errs = append(errs, fmt.Errorf("problem %d", i))
	}
	got := FormatValidationErrors(errs)
	if !strings.HasPrefix(got, "Found 12 validation errors:") || !strings.Contains(got, "... and 2 more errors") {
		t.Errorf("unexpected output:\n%s", got)
	}
	if strings.Contains(got, "problem 10") {
		t.Error("only the first 10 errors should be listed")
	}
}

// resetFlags restores every flag of cmd and its children to its default
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if slice, ok := f.Value.(pflag.SliceValue); ok {
			slice.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_IngestWorkflow(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "categorizer.db")
	statement := filepath.Join(dir, "extrato.ofx")

	out, err := execute(t, "generate", "--count", "30", "--seed", "7", "--output", statement)
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}
	if !strings.Contains(out, "Wrote 30 transactions") {
		t.Errorf("generate output = %q", out)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	salary := &models.Category{CompanyID: "acme", Name: "Salário"}
	if err := db.Categories().CreateCategory(context.Background(), salary); err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}
	db.Close()

	out, err = execute(t, "rules", "add", "--database", dbPath, "--company", "acme",
		"--pattern", "salario", "--type", "contains", "--category", salary.ID, "--confidence", "0.9")
	if err != nil {
		t.Fatalf("rules add error = %v", err)
	}
	if !strings.Contains(out, "Created rule") {
		t.Errorf("rules add output = %q", out)
	}

	out, err = execute(t, "ingest", "--database", dbPath, "--file", statement,
		"--company", "acme", "--upload", "up-1", "--output-format", "json")
	if err != nil {
		t.Fatalf("ingest error = %v", err)
	}

	var report reporter.UploadReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("ingest output is not a JSON report: %v\n%s", err, out)
	}
	summary := report.Summary
	if summary.UploadID != "up-1" || summary.Status != models.UploadStatusCompleted {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TotalTransactions != 30 || summary.Processed != 30 || summary.TotalBatches != 2 {
		t.Errorf("summary counts = %+v", summary)
	}
	if summary.AccountID != "12345-6" {
		t.Errorf("account should come from the statement, got %q", summary.AccountID)
	}
	if len(report.Records) != 30 {
		t.Errorf("report has %d records, want 30", len(report.Records))
	}
	for _, record := range report.Records {
		if strings.Contains(record.Description, "SALARIO") && record.CategoryID != salary.ID {
			t.Errorf("salary transaction %s categorized as %q", record.ExternalID, record.CategoryID)
		}
	}

	out, err = execute(t, "progress", "--database", dbPath, "--upload", "up-1", "-f", "json")
	if err != nil {
		t.Fatalf("progress error = %v", err)
	}
	if !strings.Contains(out, `"status": "completed"`) || !strings.Contains(out, `"percentage": 100`) {
		t.Errorf("progress output = %s", out)
	}

	_, err = execute(t, "resume", "--database", dbPath, "--file", statement, "--upload", "up-1")
	if !errors.HasCode(err, errors.CodeInvalidState) {
		t.Errorf("resuming a completed upload should fail with invalid state, got %v", err)
	}

	out, err = execute(t, "rules", "stats", "--database", dbPath, "--company", "acme")
	if err != nil {
		t.Fatalf("rules stats error = %v", err)
	}
	if !strings.Contains(out, "=== STATISTICS ===") {
		t.Errorf("rules stats output = %s", out)
	}

	_, err = execute(t, "confirm", "--database", dbPath, "--upload", "up-1", "--transaction", "GEN000001", "--category", "missing")
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("confirm with unknown category should fail with not found, got %v", err)
	}
}

func TestCommands_ResumeRequiresExistingUpload(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "categorizer.db")
	statement := filepath.Join(dir, "extrato.ofx")

	if _, err := execute(t, "generate", "--count", "5", "--seed", "3", "--output", statement); err != nil {
		t.Fatalf("generate error = %v", err)
	}

	tests := []struct {
		name     string
		uploadID string
	}{
		{"unknown id", "never-started"},
		{"uuid id", "0b9f2c4e-6f1a-4d2b-9c3e-7a1d5e8f0b21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "resume", "--database", dbPath, "--file", statement, "--upload", tt.uploadID)
			if !errors.HasCode(err, errors.CodeNotFound) {
				t.Errorf("resume of unknown upload should fail with not found, got %v", err)
			}

			db, err := storage.Open(dbPath)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close()
			if _, err := db.Jobs().GetUpload(context.Background(), tt.uploadID); !errors.HasCode(err, errors.CodeNotFound) {
				t.Errorf("resume must not create upload %s, GetUpload() error = %v", tt.uploadID, err)
			}
		})
	}
}

func TestCommands_InvalidConfiguration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "categorizer.db")

	_, err := execute(t, "categories", "list", "--database", dbPath, "--company", "acme", "--batch-size", "0", "--selection", "first")
	if err == nil {
		t.Fatal("expected configuration error")
	}
	categorizerErr, ok := errors.AsCategorizerError(err)
	if !ok || categorizerErr.Category != errors.CategoryConfiguration {
		t.Errorf("error = %v, want configuration category", err)
	}
	if categorizerErr != nil && categorizerErr.GetExitCode() != 4 {
		t.Errorf("exit code = %d, want 4", categorizerErr.GetExitCode())
	}
}
