package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-categorization-service/internal/batch"
	"statement-categorization-service/internal/parsers"
	"statement-categorization-service/internal/reporter"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// Flags for the ingest and resume commands
var (
	statementFiles []string
	companyID      string
	accountID      string
	uploadID       string
	outputFile     string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Parse, categorize and store bank statements",
	Long: `Ingest parses one or more OFX statements, categorizes every transaction and
stores the results in checkpointed batches. Each file becomes its own upload.

Examples:
  # Single statement
  categorizer ingest --file extrato.ofx --company acme --account 12345-6

  # Several statements parsed concurrently
  categorizer ingest --file jan.ofx --file feb.ofx --company acme

  # Fixed upload ID and JSON report
  categorizer ingest --file extrato.ofx --company acme --upload up-2024-10 -f json -o report.json`,

	PreRunE: validateIngestFlags,
	RunE:    runIngest,
}

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused or interrupted upload",
	Long: `Resume continues an upload from the batch after its last completed one. The
statement file must be the same one the upload was started with.

Example:
  categorizer resume --file extrato.ofx --upload up-2024-10`,

	PreRunE: validateResumeFlags,
	RunE:    runResume,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(resumeCmd)

	ingestCmd.Flags().StringSliceVar(&statementFiles, "file", []string{}, "path to an OFX statement; repeat for several files (required)")
	ingestCmd.Flags().StringVar(&companyID, "company", "", "tenant company ID (required)")
	ingestCmd.Flags().StringVar(&accountID, "account", "", "bank account ID (default: account in the statement)")
	ingestCmd.Flags().StringVar(&uploadID, "upload", "", "upload ID (default: generated; single file only)")
	ingestCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	ingestCmd.MarkFlagRequired("file")
	ingestCmd.MarkFlagRequired("company")

	resumeCmd.Flags().StringSliceVar(&statementFiles, "file", []string{}, "path to the OFX statement of the upload (required)")
	resumeCmd.Flags().StringVar(&uploadID, "upload", "", "upload ID to resume (required)")
	resumeCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	resumeCmd.MarkFlagRequired("file")
	resumeCmd.MarkFlagRequired("upload")
}

func validateIngestFlags(cmd *cobra.Command, args []string) error {
	if len(statementFiles) == 0 {
		return fmt.Errorf("at least one statement file is required")
	}
	if strings.TrimSpace(companyID) == "" {
		return fmt.Errorf("company is required")
	}
	if uploadID != "" && len(statementFiles) > 1 {
		return fmt.Errorf("--upload can only be used with a single statement file")
	}

	for i, file := range statementFiles {
		if err := validateFileExists(file, fmt.Sprintf("statement file %d", i+1)); err != nil {
			return err
		}
	}
	return validateOutputFile(outputFile)
}

func validateResumeFlags(cmd *cobra.Command, args []string) error {
	if len(statementFiles) != 1 {
		return fmt.Errorf("resume takes exactly one statement file")
	}
	if strings.TrimSpace(uploadID) == "" {
		return fmt.Errorf("upload is required")
	}
	if err := validateFileExists(statementFiles[0], "statement file"); err != nil {
		return err
	}
	return validateOutputFile(outputFile)
}

func validateFileExists(path, description string) error {
	if path == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, path, err)
	}
	if err != nil {
		return fmt.Errorf("cannot access %s '%s': %w", description, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s '%s' is a directory, not a file", description, path)
	}
	return nil
}

func validateOutputFile(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("output directory '%s' does not exist", dir)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	op := logger.NewOperationLogger("parse_statements", a.logger)
	results := parsers.NewConcurrentParser(a.parser, a.config.ParseConcurrency).ParseFiles(ctx, statementFiles)
	for _, result := range results {
		if result.Error != nil {
			op.Error(result.Error, "Statement parsing failed")
			return result.Error
		}
		op.Step(filepath.Base(result.FilePath), logger.Fields{
			"transactions": len(result.Statement.Transactions),
		})
	}
	op.Success("Statements parsed")

	out, closeOut, err := openOutput(outputFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	for _, result := range results {
		a.warnParseErrors(result)

		account := accountID
		if account == "" && result.Statement.BankInfo != nil {
			account = result.Statement.BankInfo.AccountID
		}

		summary, err := a.processor.Run(ctx, batch.RunRequest{
			UploadID:     uploadID,
			CompanyID:    companyID,
			AccountID:    account,
			Transactions: result.Statement.Transactions,
		})
		if err != nil {
			if summary != nil {
				ShowProgressError("ingest "+filepath.Base(result.FilePath), summary.UploadID,
					processedCount(summary), int64(summary.TotalTransactions), err)
			}
			return err
		}

		if summary.Paused {
			fmt.Fprintf(os.Stderr, "Upload %s paused; continue with: categorizer resume --file %s --upload %s\n",
				summary.UploadID, result.FilePath, summary.UploadID)
		}
		if err := a.writeUploadReport(ctx, summary.UploadID, out); err != nil {
			return err
		}
	}

	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(viper.GetViper(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	// resume never creates an upload
	point, err := a.processor.ResumeProcessing(ctx, uploadID)
	if err != nil {
		return err
	}
	a.logger.WithFields(logger.Fields{
		"upload_id":  uploadID,
		"next_batch": point.NextBatch,
	}).Info("Resuming upload")

	statement, err := a.parser.ParseFile(ctx, statementFiles[0])
	if err != nil {
		return err
	}
	a.warnParseErrors(parsers.FileResult{FilePath: statementFiles[0], Statement: statement})

	summary, err := a.processor.Run(ctx, batch.RunRequest{
		UploadID:     uploadID,
		Transactions: statement.Transactions,
	})
	if err != nil {
		if summary != nil {
			ShowProgressError("resume", summary.UploadID, processedCount(summary), int64(summary.TotalTransactions), err)
		}
		return err
	}

	out, closeOut, err := openOutput(outputFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	return a.writeUploadReport(ctx, summary.UploadID, out)
}

// writeUploadReport loads the stored state of an upload and renders its report
func (a *app) writeUploadReport(ctx context.Context, id string, out io.Writer) error {
	upload, err := a.db.Jobs().GetUpload(ctx, id)
	if err != nil {
		return err
	}
	batches, err := a.db.Jobs().ListBatches(ctx, id)
	if err != nil {
		return err
	}
	records, err := a.db.Records().ListRecords(ctx, id)
	if err != nil {
		return err
	}

	report := reporter.NewUploadReport(upload, batches, records, time.Now())
	return a.reports.WriteUploadReport(report, out)
}

func (a *app) warnParseErrors(result parsers.FileResult) {
	stats := result.Statement.Stats
	if stats == nil || !stats.HasErrors() {
		return
	}

	a.logger.WithField("file", result.FilePath).Warnf("Skipped invalid transactions: %s", stats.String())
	for _, sample := range stats.GetSampleErrors(5) {
		fmt.Fprintf(os.Stderr, "  - %s\n", sample)
	}
}

func processedCount(summary *batch.RunSummary) int64 {
	var processed int64
	for _, result := range summary.Batches {
		processed += int64(result.Processed)
	}
	return processed
}

// openOutput returns the report destination and a function closing it
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err).
			WithSuggestion("Check that the output directory is writable")
	}
	return file, func() { file.Close() }, nil
}
