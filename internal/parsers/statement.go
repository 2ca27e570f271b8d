package parsers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// Statement is the structured content of one statement document
type Statement struct {
	Transactions []*models.Transaction   `json:"transactions"`
	BankInfo     *models.BankInfo        `json:"bankInfo,omitempty"`
	Balance      *models.StatementBalance `json:"balance,omitempty"`
	StartDate    *time.Time              `json:"startDate,omitempty"`
	EndDate      *time.Time              `json:"endDate,omitempty"`
	Stats        *ParseStats             `json:"-"`
}

// StatementParser parses statement documents
type StatementParser struct {
	config *ParserConfig
	logger logger.Logger
}

var (
	creditTypes = map[string]bool{
		"CREDIT": true, "DEP": true, "INT": true, "DIV": true, "DIRECTDEP": true,
	}
	debitTypes = map[string]bool{
		"DEBIT": true, "PAYMENT": true, "CHECK": true, "ATM": true, "POS": true,
		"FEE": true, "SRVCHG": true, "DIRECTDEBIT": true, "CASH": true,
	}
)

// NewStatementParser creates a new StatementParser
func NewStatementParser(config *ParserConfig) (*StatementParser, error) {
	if config == nil {
		config = DefaultParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", config, err)
	}

	return &StatementParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("statement_parser"),
	}, nil
}

// ParseFile reads and parses a statement file
func (p *StatementParser) ParseFile(ctx context.Context, filePath string) (*Statement, error) {
	doc, err := readDocument(filePath, p.config, p.logger)
	if err != nil {
		return nil, err
	}

	stmt, err := p.Parse(ctx, doc)
	if err != nil {
		if cerr, ok := errors.AsCategorizerError(err); ok {
			cerr.WithContext("file_path", filePath)
		}
		return nil, err
	}
	return stmt, nil
}

// Parse converts raw statement text into a Statement. An error is returned only when
// the document yields no valid transaction or the context is cancelled.
func (p *StatementParser) Parse(ctx context.Context, raw string) (*Statement, error) {
	doc := normalizeDocument(raw)
	if doc == "" {
		return nil, errors.ParseError(errors.CodeInvalidFormat, "document contains no tags", nil)
	}

	stats := NewParseStats()
	stmt := &Statement{
		BankInfo: p.extractBankInfo(doc),
		Balance:  p.extractBalance(doc),
		Stats:    stats,
	}

	blocks := transactionBlocks(doc)
	stats.BlocksFound = len(blocks)

	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "statement_parsing", err)
		}

		tx, err := p.parseBlock(i+1, block, stats)
		if err != nil {
			stats.AddError(err)
			p.logger.WithFields(logger.Fields{
				"block": i + 1,
				"code":  err.Code,
			}).Warn(err.Message)
			continue
		}
		stmt.Transactions = append(stmt.Transactions, tx)
	}

	stats.TransactionsValid = len(stmt.Transactions)
	if len(stmt.Transactions) == 0 {
		detail := fmt.Sprintf("%d transaction blocks, none valid", len(blocks))
		err := errors.ParseError(errors.CodeNoTransactions, detail, nil)
		if len(stats.Errors) > 0 {
			err.WithContext("sample_errors", stats.GetSampleErrors(3))
		}
		return nil, err
	}

	sort.SliceStable(stmt.Transactions, func(i, j int) bool {
		return stmt.Transactions[i].Date.Before(stmt.Transactions[j].Date)
	})

	stats.DuplicateIDs = uniquifyIDs(stmt.Transactions)
	if stats.DuplicateIDs > 0 {
		p.logger.WithField("renamed", stats.DuplicateIDs).Warn("Repeated transaction IDs in statement, added occurrence suffixes")
	}

	start := stmt.Transactions[0].Date
	end := stmt.Transactions[len(stmt.Transactions)-1].Date
	stmt.StartDate = &start
	stmt.EndDate = &end

	p.logger.WithFields(logger.Fields{
		"bank":          stmt.BankInfo.BankName,
		"account":       stmt.BankInfo.AccountID,
		"transactions":  stats.TransactionsValid,
		"dropped":       stats.BlocksDropped,
		"has_balance":   stmt.Balance != nil,
		"date_fallback": stats.DateFallbacks,
	}).Info("Parsed statement")

	return stmt, nil
}

func (p *StatementParser) extractBankInfo(doc string) *models.BankInfo {
	info := &models.BankInfo{
		BankID:      NormalizeBankCode(tagValue(doc, "BANKID")),
		AccountID:   tagValue(doc, "ACCTID"),
		AccountType: strings.ToUpper(tagValue(doc, "ACCTTYPE")),
		BranchID:    tagValue(doc, "BRANCHID"),
	}

	if org := CleanBankName(CleanText(tagValue(doc, "ORG"))); org != "" {
		info.BankName = org
	} else {
		info.BankName = ResolveBankName(info.BankID)
	}

	return info
}

func (p *StatementParser) extractBalance(doc string) *models.StatementBalance {
	for _, tag := range []string{"LEDGERBAL", "AVAILBAL"} {
		body, ok := section(doc, tag, "LEDGERBAL", "AVAILBAL", "STMTTRN")
		if !ok {
			continue
		}

		amount, err := ParseAmount(tagValue(body, "BALAMT"))
		if err != nil {
			p.logger.WithError(err).WithField("block", tag).Debug("Ignoring balance block")
			continue
		}

		balance := &models.StatementBalance{Amount: amount}
		if asOf, err := ParseDate(tagValue(body, "DTASOF")); err == nil {
			balance.AsOf = &asOf
		}
		return balance
	}
	return nil
}

func (p *StatementParser) parseBlock(index int, block string, stats *ParseStats) (*models.Transaction, *errors.CategorizerError) {
	rawAmount := tagValue(block, "TRNAMT")
	if rawAmount == "" {
		return nil, errors.FieldValidationError(errors.CodeMissingField, index, "TRNAMT", "", nil)
	}
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return nil, errors.FieldValidationError(errors.CodeInvalidAmount, index, "TRNAMT", rawAmount, err)
	}

	rawDate := tagValue(block, "DTPOSTED")
	date, err := ParseDate(rawDate)
	if err != nil {
		if !p.config.FallbackToNow {
			return nil, errors.FieldValidationError(errors.CodeInvalidDate, index, "DTPOSTED", rawDate, err)
		}
		date = p.config.now().UTC()
		stats.DateFallbacks++
		p.logger.WithFields(logger.Fields{
			"block": index,
			"value": rawDate,
		}).Warn("Unparsable posting date, using current time")
	}

	txType := resolveType(tagValue(block, "TRNTYPE"), amount)
	name := truncateRunes(CleanText(tagValue(block, "NAME")), p.config.MaxDescriptionLength)
	memo := truncateRunes(CleanText(tagValue(block, "MEMO")), p.config.MaxDescriptionLength)

	description := name
	if description == "" {
		description = memo
	}
	if description == "" {
		description = fmt.Sprintf("%s - %s", txType.Label(), date.Format("2006-01-02"))
	}

	fitID := CleanText(tagValue(block, "FITID"))
	id := fitID
	if id == "" {
		id = SynthesizeID(date, amount, description)
	}

	tx := &models.Transaction{
		ID:          id,
		Type:        txType,
		Amount:      amount,
		Date:        date,
		Description: description,
		Memo:        memo,
		FITID:       fitID,
	}

	if rawBalance := tagValue(block, "BALAMT"); rawBalance != "" {
		if balance, err := ParseAmount(rawBalance); err == nil {
			tx.Balance = &balance
		}
	}

	if verr := tx.Validate(); verr != nil {
		return nil, errors.FieldValidationError(errors.CodeMissingField, index, "transaction", tx.ID, verr)
	}

	return tx, nil
}

// uniquifyIDs gives every transaction a distinct external ID by appending an
// occurrence suffix (_2, _3, ...) to repeats. Runs after sorting, so the result
// is the same on every parse of a document. Returns how many IDs changed.
func uniquifyIDs(txs []*models.Transaction) int {
	used := make(map[string]bool, len(txs))
	for _, tx := range txs {
		used[tx.ExternalID()] = true
	}

	seen := make(map[string]int, len(txs))
	renamed := 0
	for _, tx := range txs {
		id := tx.ExternalID()
		seen[id]++
		if seen[id] == 1 {
			continue
		}

		n := seen[id]
		candidate := fmt.Sprintf("%s_%d", id, n)
		for used[candidate] {
			n++
			candidate = fmt.Sprintf("%s_%d", id, n)
		}
		seen[id] = n
		used[candidate] = true

		tx.ID = candidate
		if tx.FITID != "" {
			tx.FITID = candidate
		}
		renamed++
	}
	return renamed
}

// resolveType maps TRNTYPE to a direction, falling back to the amount sign
func resolveType(trnType string, amount decimal.Decimal) models.TransactionType {
	code := strings.ToUpper(strings.TrimSpace(trnType))
	switch {
	case creditTypes[code]:
		return models.TransactionTypeCredit
	case debitTypes[code]:
		return models.TransactionTypeDebit
	default:
		return models.TypeFromAmount(amount)
	}
}
