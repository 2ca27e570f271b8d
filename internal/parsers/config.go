package parsers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ParserConfig holds configuration for statement parsing
type ParserConfig struct {
	// FallbackToNow substitutes the current time for an unparsable posting date
	// instead of dropping the transaction.
	FallbackToNow bool `json:"fallback_to_now" mapstructure:"fallback_to_now"`

	// DecodeLegacyCharset decodes Windows-1252 documents that are not valid UTF-8.
	DecodeLegacyCharset bool `json:"decode_legacy_charset" mapstructure:"decode_legacy_charset"`

	// MaxDocumentSize rejects larger files before reading them. Zero disables the check.
	MaxDocumentSize int64 `json:"max_document_size" mapstructure:"max_document_size"`

	// MaxDescriptionLength truncates cleaned free text. Zero disables truncation.
	MaxDescriptionLength int `json:"max_description_length" mapstructure:"max_description_length"`

	// Clock is used for the date fallback. Defaults to time.Now.
	Clock func() time.Time `json:"-" mapstructure:"-"`
}

// DefaultParserConfig returns a configuration with sensible defaults
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		FallbackToNow:        false,
		DecodeLegacyCharset:  true,
		MaxDocumentSize:      50 * 1024 * 1024,
		MaxDescriptionLength: 255,
		Clock:                time.Now,
	}
}

// Validate checks if the parser configuration is valid
func (c *ParserConfig) Validate() error {
	if c.MaxDocumentSize < 0 {
		return fmt.Errorf("max document size cannot be negative")
	}
	if c.MaxDescriptionLength < 0 {
		return fmt.Errorf("max description length cannot be negative")
	}
	return nil
}

func (c *ParserConfig) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

// bankNames maps Brazilian COMPE bank codes to display names
var bankNames = map[string]string{
	"001": "Banco do Brasil",
	"003": "Banco da Amazônia",
	"004": "Banco do Nordeste",
	"021": "Banestes",
	"025": "Banco Alfa",
	"033": "Santander",
	"037": "Banpará",
	"041": "Banrisul",
	"047": "Banese",
	"070": "BRB",
	"077": "Banco Inter",
	"084": "Uniprime",
	"085": "Ailos",
	"097": "Credisis",
	"104": "Caixa Econômica Federal",
	"136": "Unicred",
	"197": "Stone",
	"208": "BTG Pactual",
	"212": "Banco Original",
	"218": "Banco BS2",
	"237": "Bradesco",
	"246": "Banco ABC Brasil",
	"260": "Nubank",
	"290": "PagSeguro",
	"323": "Mercado Pago",
	"335": "Banco Digio",
	"336": "C6 Bank",
	"341": "Itaú Unibanco",
	"380": "PicPay",
	"389": "Banco Mercantil do Brasil",
	"403": "Cora",
	"422": "Banco Safra",
	"536": "Neon",
	"611": "Banco Paulista",
	"623": "Banco Pan",
	"633": "Banco Rendimento",
	"637": "Banco Sofisa",
	"655": "Banco Votorantim",
	"707": "Banco Daycoval",
	"735": "Banco Neon",
	"739": "Banco Cetelem",
	"741": "Banco Ribeirão Preto",
	"745": "Citibank",
	"746": "Banco Modal",
	"748": "Sicredi",
	"752": "BNP Paribas",
	"756": "Sicoob",
}

// NormalizeBankCode strips leading zeros and pads the code to three digits
func NormalizeBankCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	n, err := strconv.Atoi(code)
	if err != nil || n < 0 {
		return code
	}
	return fmt.Sprintf("%03d", n)
}

// ResolveBankName returns the display name registered for a bank code.
// Unknown codes yield "Banco <code>".
func ResolveBankName(code string) string {
	normalized := NormalizeBankCode(code)
	if normalized == "" {
		return ""
	}
	if name, ok := bankNames[normalized]; ok {
		return name
	}
	return "Banco " + normalized
}

var nameSeparators = strings.NewReplacer("-", " ", "_", " ", "/", " ", ".", " ")

// CleanBankName turns an organization tag such as "BANCO_ITAU-UNIBANCO" into "Banco Itau Unibanco"
func CleanBankName(raw string) string {
	name := nameSeparators.Replace(raw)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	// a Caser keeps state between calls, so each call gets its own
	return cases.Title(language.BrazilianPortuguese).String(strings.ToLower(name))
}
