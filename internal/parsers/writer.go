package parsers

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"os"
	"strings"
	"time"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

// StatementDocument is everything needed to render a statement
type StatementDocument struct {
	BankInfo     models.BankInfo
	Balance      *models.StatementBalance
	Currency     string
	Transactions []*models.Transaction
}

// StatementWriter renders statements in OFX 1.x SGML
type StatementWriter struct {
	// Timezone is appended to every date, e.g. "[-3:BRT]". Empty omits it.
	Timezone string
}

// NewStatementWriter creates a writer using the Brasília timezone suffix
func NewStatementWriter() *StatementWriter {
	return &StatementWriter{Timezone: "[-3:BRT]"}
}

// WriteFile renders the document into a file
func (w *StatementWriter) WriteFile(path string, doc StatementDocument) error {
	file, err := os.Create(path)
	if err != nil {
		if os.IsPermission(err) {
			return errors.FileError(errors.CodeFilePermission, path, err)
		}
		return errors.FileError(errors.CodeFileNotFound, path, err)
	}

	if err := w.Write(file, doc); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Write renders the document
func (w *StatementWriter) Write(out io.Writer, doc StatementDocument) error {
	bw := bufio.NewWriter(out)

	currency := doc.Currency
	if currency == "" {
		currency = "BRL"
	}

	start, end := documentRange(doc.Transactions)

	fmt.Fprint(bw, "OFXHEADER:100\nDATA:OFXSGML\nVERSION:102\nSECURITY:NONE\nENCODING:UTF-8\nCHARSET:NONE\nCOMPRESSION:NONE\nOLDFILEUID:NONE\nNEWFILEUID:NONE\n\n")
	fmt.Fprint(bw, "<OFX>\n<SIGNONMSGSRSV1>\n<SONRS>\n<STATUS>\n<CODE>0\n<SEVERITY>INFO\n</STATUS>\n")
	fmt.Fprintf(bw, "<DTSERVER>%s\n<LANGUAGE>POR\n", w.date(end))
	if doc.BankInfo.BankName != "" {
		fmt.Fprintf(bw, "<FI>\n<ORG>%s\n<FID>%s\n</FI>\n", escape(doc.BankInfo.BankName), escape(doc.BankInfo.BankID))
	}
	fmt.Fprint(bw, "</SONRS>\n</SIGNONMSGSRSV1>\n<BANKMSGSRSV1>\n<STMTTRNRS>\n<TRNUID>1001\n<STATUS>\n<CODE>0\n<SEVERITY>INFO\n</STATUS>\n<STMTRS>\n")
	fmt.Fprintf(bw, "<CURDEF>%s\n<BANKACCTFROM>\n", currency)
	fmt.Fprintf(bw, "<BANKID>%s\n", escape(doc.BankInfo.BankID))
	if doc.BankInfo.BranchID != "" {
		fmt.Fprintf(bw, "<BRANCHID>%s\n", escape(doc.BankInfo.BranchID))
	}
	fmt.Fprintf(bw, "<ACCTID>%s\n", escape(doc.BankInfo.AccountID))
	accountType := doc.BankInfo.AccountType
	if accountType == "" {
		accountType = "CHECKING"
	}
	fmt.Fprintf(bw, "<ACCTTYPE>%s\n</BANKACCTFROM>\n", accountType)

	fmt.Fprintf(bw, "<BANKTRANLIST>\n<DTSTART>%s\n<DTEND>%s\n", w.date(start), w.date(end))
	for _, tx := range doc.Transactions {
		fmt.Fprintf(bw, "<STMTTRN>\n<TRNTYPE>%s\n<DTPOSTED>%s\n<TRNAMT>%s\n",
			trnType(tx), w.date(tx.Date), FormatAmount(tx.Amount))
		if id := tx.ExternalID(); id != "" {
			fmt.Fprintf(bw, "<FITID>%s\n", escape(id))
		}
		if tx.Description != "" {
			fmt.Fprintf(bw, "<NAME>%s\n", escape(tx.Description))
		}
		if tx.Memo != "" {
			fmt.Fprintf(bw, "<MEMO>%s\n", escape(tx.Memo))
		}
		fmt.Fprint(bw, "</STMTTRN>\n")
	}
	fmt.Fprint(bw, "</BANKTRANLIST>\n")

	if doc.Balance != nil {
		asOf := end
		if doc.Balance.AsOf != nil {
			asOf = *doc.Balance.AsOf
		}
		fmt.Fprintf(bw, "<LEDGERBAL>\n<BALAMT>%s\n<DTASOF>%s\n</LEDGERBAL>\n", FormatAmount(doc.Balance.Amount), w.date(asOf))
	}

	fmt.Fprint(bw, "</STMTRS>\n</STMTTRNRS>\n</BANKMSGSRSV1>\n</OFX>\n")

	if err := bw.Flush(); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "statement_writing", err)
	}
	return nil
}

func (w *StatementWriter) date(t time.Time) string {
	return FormatDate(t) + w.Timezone
}

func trnType(tx *models.Transaction) string {
	if tx.Type == models.TransactionTypeCredit {
		return "CREDIT"
	}
	return "DEBIT"
}

func documentRange(txs []*models.Transaction) (time.Time, time.Time) {
	if len(txs) == 0 {
		now := time.Now().UTC()
		return now, now
	}
	start, end := txs[0].Date, txs[0].Date
	for _, tx := range txs[1:] {
		if tx.Date.Before(start) {
			start = tx.Date
		}
		if tx.Date.After(end) {
			end = tx.Date
		}
	}
	return start, end
}

func escape(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
