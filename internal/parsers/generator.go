package parsers

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"statement-categorization-service/internal/models"
)

// GeneratorConfig controls synthetic statement generation
type GeneratorConfig struct {
	Count        int
	Seed         int64
	StartDate    time.Time
	EndDate      time.Time
	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
	DebitRatio   float64
	BankInfo     models.BankInfo
	Descriptions []string
}

// DefaultGeneratorConfig returns a configuration producing a realistic monthly statement
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Count:      100,
		Seed:       1,
		StartDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC),
		MinAmount:  decimal.NewFromInt(5),
		MaxAmount:  decimal.NewFromInt(5000),
		DebitRatio: 0.7,
		BankInfo: models.BankInfo{
			BankID:      "341",
			BankName:    "Itaú Unibanco",
			AccountID:   "12345-6",
			AccountType: "CHECKING",
			BranchID:    "0001",
		},
		Descriptions: []string{
			"PAGAMENTO SALARIO",
			"PIX RECEBIDO CLIENTE",
			"VENDA DE MERCADORIA",
			"UBER TRIP",
			"IFOOD RESTAURANTE",
			"POSTO SHELL",
			"ALUGUEL ESCRITORIO",
			"TARIFA BANCARIA",
			"ENERGIA ELETRICA CEMIG",
			"COMPRA MERCADORIA FORNECEDOR",
			"DARF IMPOSTO",
			"TRANSFERENCIA ENTRE CONTAS",
		},
	}
}

// GenerateStatement builds a reproducible synthetic statement for a seed
func GenerateStatement(cfg GeneratorConfig) StatementDocument {
	rng := rand.New(rand.NewSource(cfg.Seed))

	span := cfg.EndDate.Sub(cfg.StartDate)
	if span <= 0 {
		span = 24 * time.Hour
	}
	amountRange := cfg.MaxAmount.Sub(cfg.MinAmount)
	descriptions := cfg.Descriptions
	if len(descriptions) == 0 {
		descriptions = DefaultGeneratorConfig().Descriptions
	}

	txs := make([]*models.Transaction, 0, cfg.Count)
	balance := decimal.Zero
	for i := 0; i < cfg.Count; i++ {
		date := cfg.StartDate.Add(time.Duration(rng.Int63n(int64(span)))).Truncate(time.Second).UTC()
		amount := decimal.NewFromFloat(rng.Float64()).Mul(amountRange).Add(cfg.MinAmount).Round(2)

		txType := models.TransactionTypeCredit
		if rng.Float64() < cfg.DebitRatio {
			txType = models.TransactionTypeDebit
			amount = amount.Neg()
		}
		balance = balance.Add(amount)

		description := descriptions[rng.Intn(len(descriptions))]
		txs = append(txs, &models.Transaction{
			ID:          fmt.Sprintf("GEN%06d", i+1),
			FITID:       fmt.Sprintf("GEN%06d", i+1),
			Type:        txType,
			Amount:      amount,
			Date:        date,
			Description: description,
		})
	}

	return StatementDocument{
		BankInfo:     cfg.BankInfo,
		Balance:      &models.StatementBalance{Amount: balance},
		Currency:     "BRL",
		Transactions: txs,
	}
}
