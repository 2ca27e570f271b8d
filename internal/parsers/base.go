// Package parsers turns bank-statement export documents into structured transactions.
//
// Statements are OFX-style tag-delimited text as produced by most Brazilian banks:
// an optional SGML header, an <OFX> envelope, bank and account identity tags, a
// transaction list made of repeated <STMTTRN> blocks and one or two balance blocks.
// Closing tags are optional, as in OFX 1.x SGML.
//
// Parsing is forgiving at the block level and strict at the document level: a block
// with a missing description, an unparsable amount or an invalid date is dropped and
// recorded in ParseStats, while a document without a single valid block is rejected.
//
// Example usage:
//
//	parser, err := NewStatementParser(DefaultParserConfig())
//	stmt, err := parser.ParseFile(ctx, "extrato.ofx")
//	for _, tx := range stmt.Transactions {
//		fmt.Println(tx.Date, tx.Amount, tx.Description)
//	}
//
// The package also renders statements (StatementWriter) and generates synthetic ones
// (GenerateStatement) for fixtures and load tests.
package parsers

import (
	"fmt"
	"io"
	"os"
	"strings"

	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	BlocksFound       int
	TransactionsValid int
	BlocksDropped     int
	DateFallbacks     int
	DuplicateIDs      int
	Errors            []*errors.CategorizerError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{
		Errors: make([]*errors.CategorizerError, 0),
	}
}

// AddError records a dropped block
func (ps *ParseStats) AddError(err *errors.CategorizerError) {
	ps.Errors = append(ps.Errors, err)
	ps.BlocksDropped++
}

// HasErrors returns true if any block was dropped
func (ps *ParseStats) HasErrors() bool {
	return ps.BlocksDropped > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Found %d transaction blocks (%d valid, %d dropped, %d date fallbacks)",
		ps.BlocksFound, ps.TransactionsValid, ps.BlocksDropped, ps.DateFallbacks)
}

// GetSampleErrors returns a sample of the block errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}

// readDocument loads a statement file, classifying file system failures
func readDocument(filePath string, config *ParserConfig, log logger.Logger) (string, error) {
	log.WithField("file_path", filePath).Debug("Opening statement file")

	file, err := os.Open(filePath)
	if err != nil {
		log.WithError(err).WithField("file_path", filePath).Error("Failed to open statement file")
		if os.IsNotExist(err) {
			return "", errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return "", errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return "", errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	defer file.Close()

	if config.MaxDocumentSize > 0 {
		if info, statErr := file.Stat(); statErr == nil && info.Size() > config.MaxDocumentSize {
			return "", errors.FileError(errors.CodeFileCorrupted, filePath,
				fmt.Errorf("file size %d exceeds limit of %d bytes", info.Size(), config.MaxDocumentSize)).
				WithSuggestion("split the statement into smaller periods")
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	doc, ok := decodeDocument(data, config.DecodeLegacyCharset)
	if !ok {
		return "", errors.ParseError(errors.CodeEncodingError, filePath, nil)
	}

	if strings.TrimSpace(doc) == "" {
		return "", errors.ParseError(errors.CodeNoTransactions, filePath, fmt.Errorf("file is empty"))
	}

	return doc, nil
}
