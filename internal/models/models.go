package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the direction of a money movement
type TransactionType string

const (
	// TransactionTypeCredit represents money coming into the account
	TransactionTypeCredit TransactionType = "credit"
	// TransactionTypeDebit represents money leaving the account
	TransactionTypeDebit TransactionType = "debit"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeDebit || t == TransactionTypeCredit
}

// Label returns the capitalized form used in synthesized descriptions
func (t TransactionType) Label() string {
	if t == TransactionTypeCredit {
		return "Credit"
	}
	return "Debit"
}

// ParseTransactionType parses a transaction type from string
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit", "c", "cr":
		return TransactionTypeCredit, nil
	case "debit", "d", "dr":
		return TransactionTypeDebit, nil
	default:
		return "", fmt.Errorf("invalid transaction type '%s': must be credit or debit", s)
	}
}

// TypeFromAmount derives the direction from the amount sign
func TypeFromAmount(amount decimal.Decimal) TransactionType {
	if amount.IsNegative() {
		return TransactionTypeDebit
	}
	return TransactionTypeCredit
}

// BankInfo describes the institution and account a statement belongs to
type BankInfo struct {
	BankID      string `json:"bankId"`
	BankName    string `json:"bankName"`
	AccountID   string `json:"accountId"`
	AccountType string `json:"accountType,omitempty"`
	BranchID    string `json:"branchId,omitempty"`
}

// StatementBalance is the closing balance reported by a statement
type StatementBalance struct {
	Amount decimal.Decimal `json:"amount"`
	AsOf   *time.Time      `json:"asOfDate,omitempty"`
}

// Transaction is one money movement extracted from a statement
type Transaction struct {
	ID          string           `json:"id"`
	Type        TransactionType  `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	Date        time.Time        `json:"date"`
	Description string           `json:"description"`
	Memo        string           `json:"memo,omitempty"`
	FITID       string           `json:"fitid,omitempty"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
}

// NewTransaction creates a new Transaction instance
func NewTransaction(id string, txType TransactionType, amount decimal.Decimal, date time.Time, description string) *Transaction {
	return &Transaction{
		ID:          id,
		Type:        txType,
		Amount:      amount,
		Date:        date,
		Description: description,
	}
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("transaction description cannot be empty")
	}

	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	return nil
}

// ExternalID returns the identifier used to deduplicate persisted rows
func (t *Transaction) ExternalID() string {
	if t.FITID != "" {
		return t.FITID
	}
	return t.ID
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Type: %s, Amount: %s, Date: %s, Description: %q}",
		t.ID, t.Type, t.Amount.String(), t.Date.Format(time.RFC3339), t.Description)
}

// MarshalJSON renders amounts as strings and the date in RFC 3339 with milliseconds
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	var balance *string
	if t.Balance != nil {
		s := t.Balance.String()
		balance = &s
	}
	return json.Marshal(&struct {
		Amount  string  `json:"amount"`
		Date    string  `json:"date"`
		Balance *string `json:"balance,omitempty"`
		*Alias
	}{
		Amount:  t.Amount.StringFixed(2),
		Date:    t.Date.UTC().Format(ISOMillis),
		Balance: balance,
		Alias:   (*Alias)(t),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Transaction
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type Alias Transaction
	aux := &struct {
		Amount  string  `json:"amount"`
		Date    string  `json:"date"`
		Balance *string `json:"balance,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(t),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	t.Amount, err = decimal.NewFromString(aux.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}

	t.Date, err = time.Parse(time.RFC3339Nano, aux.Date)
	if err != nil {
		return fmt.Errorf("invalid date format: %w", err)
	}

	if aux.Balance != nil {
		balance, err := decimal.NewFromString(*aux.Balance)
		if err != nil {
			return fmt.Errorf("invalid balance format: %w", err)
		}
		t.Balance = &balance
	}

	return nil
}

// Equals compares the fields that survive a render and re-parse cycle
func (t *Transaction) Equals(other *Transaction) bool {
	if other == nil {
		return false
	}

	return t.Type == other.Type &&
		t.Amount.Equal(other.Amount) &&
		t.Date.Equal(other.Date) &&
		t.Description == other.Description
}

// GetAbsoluteAmount returns the absolute value of the transaction amount
func (t *Transaction) GetAbsoluteAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// IsDebit returns true if the transaction is a debit
func (t *Transaction) IsDebit() bool {
	return t.Type == TransactionTypeDebit
}

// IsCredit returns true if the transaction is a credit
func (t *Transaction) IsCredit() bool {
	return t.Type == TransactionTypeCredit
}

// ISOMillis is the timestamp layout used for dates in JSON output
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
