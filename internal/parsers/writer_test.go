package parsers

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"statement-categorization-service/internal/models"
)

func TestStatementWriter_RoundTrip(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.Count = 60
	cfg.Seed = 42
	doc := GenerateStatement(cfg)

	var buf bytes.Buffer
	if err := NewStatementWriter().Write(&buf, doc); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	stmt, err := newTestParser(t, nil).Parse(context.Background(), buf.String())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(stmt.Transactions) != len(doc.Transactions) {
		t.Fatalf("expected %d transactions, got %d", len(doc.Transactions), len(stmt.Transactions))
	}

	byID := make(map[string]*models.Transaction, len(stmt.Transactions))
	for _, tx := range stmt.Transactions {
		byID[tx.ID] = tx
	}
	for _, want := range doc.Transactions {
		got, ok := byID[want.FITID]
		if !ok {
			t.Errorf("transaction %s missing after round trip", want.FITID)
			continue
		}
		if !got.Equals(want) {
			t.Errorf("round trip mismatch:\n got  %s\n want %s", got, want)
		}
	}

	if stmt.BankInfo.BankName != cfg.BankInfo.BankName || stmt.BankInfo.AccountID != cfg.BankInfo.AccountID {
		t.Errorf("bank info mismatch: %+v", stmt.BankInfo)
	}
	if stmt.Balance == nil || !models.CompareAmountsWithTolerance(stmt.Balance.Amount, doc.Balance.Amount, decimal.RequireFromString("0.01")) {
		t.Errorf("balance mismatch: got %v want %s", stmt.Balance, doc.Balance.Amount)
	}
}

func TestStatementWriter_EscapesText(t *testing.T) {
	doc := StatementDocument{
		BankInfo: models.BankInfo{BankID: "033", AccountID: "1"},
		Transactions: []*models.Transaction{{
			ID:          "X1",
			Type:        models.TransactionTypeDebit,
			Amount:      decimal.RequireFromString("-10"),
			Date:        time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			Description: "A <B> & C",
		}},
	}

	path := filepath.Join(t.TempDir(), "out.ofx")
	if err := NewStatementWriter().WriteFile(path, doc); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	stmt, err := newTestParser(t, nil).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if got := stmt.Transactions[0].Description; got != "A <B> & C" {
		t.Errorf("description = %q", got)
	}
	if stmt.BankInfo.BankName != "Santander" {
		t.Errorf("expected bank name from code table, got %q", stmt.BankInfo.BankName)
	}
}

func TestGenerateStatement_Deterministic(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.Count = 20

	var a, b bytes.Buffer
	writer := &StatementWriter{}
	if err := writer.Write(&a, GenerateStatement(cfg)); err != nil {
		t.Fatal(err)
	}
	if err := writer.Write(&b, GenerateStatement(cfg)); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Error("same seed must produce the same document")
	}

	cfg.Seed = 7
	var c bytes.Buffer
	if err := writer.Write(&c, GenerateStatement(cfg)); err != nil {
		t.Fatal(err)
	}
	if a.String() == c.String() {
		t.Error("different seeds should produce different documents")
	}
	if strings.Count(a.String(), "<STMTTRN>") != 20 {
		t.Errorf("expected 20 blocks, got %d", strings.Count(a.String(), "<STMTTRN>"))
	}
}

func TestConcurrentParser_ParseFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.ofx")
	cfg := DefaultGeneratorConfig()
	cfg.Count = 5
	if err := NewStatementWriter().WriteFile(good, GenerateStatement(cfg)); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.ofx")

	results := NewConcurrentParser(newTestParser(t, nil), 2).ParseFiles(context.Background(), []string{good, missing, good})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Error != nil || len(results[0].Statement.Transactions) != 5 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].Error == nil || results[1].FilePath != missing {
		t.Errorf("expected the missing file to fail in place, got %+v", results[1])
	}
	if results[2].Error != nil {
		t.Errorf("a failing sibling must not affect other files: %v", results[2].Error)
	}
}
