package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"statement-categorization-service/cmd/categorizer/config"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool(config.KeyVerbose),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if categorizerErr, ok := errors.AsCategorizerError(err); ok {
		return h.handleCategorizerError(categorizerErr)
	}

	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleCategorizerError(err *errors.CategorizerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more details\n")
	}
	return 1
}

func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the statement file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have permission to read the file and write the database`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the file is an OFX statement exported by the bank
• Check that the document contains <STMTTRN> transaction blocks
• Statements in Latin-1 are decoded automatically; other charsets are not`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Confidence scores are between 0 and 1
• Use --fallback-to-now to accept transactions with malformed dates`

	case errors.CategoryCategorization:
		return `Categorization error help:
• Check that the company has active categories and rules
• Use 'categorizer rules list --company <id>' to inspect the rules
• Unclassified transactions can be fixed with 'categorizer confirm'`

	case errors.CategoryPersistence:
		return `Storage error help:
• Check that the --database path is writable
• Make sure no other process holds a write lock on the database
• Verify the upload, rule or category ID exists`

	case errors.CategoryBatch:
		return `Batch error help:
• Use 'categorizer progress --upload <id>' to see the upload state
• Continue an interrupted upload with 'categorizer resume --file <file> --upload <id>'
• Completed and failed uploads cannot be resumed; ingest the file again`

	case errors.CategoryRule:
		return `Rule error help:
• Check the pattern syntax for the chosen --type
• Use 'categorizer rules similar' to find existing rules with the same pattern
• Make sure the target category exists and is active`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• CATEGORIZER_* environment variables override the configuration file`

	default:
		return `For more help:
• Use 'categorizer --help' for general help
• Use 'categorizer <command> --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return stderrors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return stderrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}

// ShowProgressError reports how far an upload got before failing
func ShowProgressError(operation, uploadID string, processed, total int64, err error) {
	fmt.Fprintf(os.Stderr, "\nOperation '%s' failed after processing %d", operation, processed)
	if total > 0 {
		percentage := float64(processed) / float64(total) * 100
		fmt.Fprintf(os.Stderr, "/%d transactions (%.1f%%)", total, percentage)
	}
	fmt.Fprintf(os.Stderr, "\nError: %v\n", err)

	fmt.Fprintf(os.Stderr, "\nCompleted batches are stored.\n")
	fmt.Fprintf(os.Stderr, "Continue with: categorizer resume --file <statement> --upload %s\n", uploadID)
}

// FormatValidationErrors formats several validation errors as a numbered list
func FormatValidationErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return fmt.Sprintf("Validation error: %v", errs[0])
	}

	lines := []string{fmt.Sprintf("Found %d validation errors:", len(errs))}
	for i, err := range errs {
		if i == 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more errors", len(errs)-10))
			break
		}
		lines = append(lines, fmt.Sprintf("  %d. %v", i+1, err))
	}
	return strings.Join(lines, "\n")
}
