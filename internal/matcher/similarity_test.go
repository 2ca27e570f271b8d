package matcher

import (
	"math"
	"testing"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"salario", "salario", 0},
		{"salario", "salarios", 1},
		{"kitten", "sitting", 3},
		{"ação", "acao", 2},
	}

	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"abc", "abc", 1.0},
		{"abc", "xyz", 0.0},
		{"salario", "salarios", 0.875},
		{"uber trp", "uber trip", 8.0 / 9.0},
	}

	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
		if reverse := Similarity(tt.b, tt.a); math.Abs(reverse-got) > 1e-9 {
			t.Errorf("Similarity is not symmetric for %q and %q: %f vs %f", tt.a, tt.b, got, reverse)
		}
	}
}

func TestPatternCache(t *testing.T) {
	cache := NewPatternCache()

	re, err := cache.Get("*venda*", models.RuleTypeWildcard)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !re.MatchString("venda de mercadoria") {
		t.Error("Expected wildcard to match")
	}

	again, _ := cache.Get("*venda*", models.RuleTypeWildcard)
	if again != re {
		t.Error("Expected cached regexp to be reused")
	}

	if _, err := cache.Get("venda(", models.RuleTypeRegex); err == nil {
		t.Error("Expected compile error for malformed regex")
	}
	if _, err := cache.Get("venda(", models.RuleTypeRegex); err == nil {
		t.Error("Expected cached compile error")
	}

	// same text under another type is a separate entry
	if _, err := cache.Get("*venda*", models.RuleTypeRegex); err == nil {
		t.Error("Expected '*venda*' to be an invalid regex")
	}

	if cache.Len() != 3 {
		t.Errorf("Expected 3 cache entries, got %d", cache.Len())
	}
}

func TestWildcardEscapesMetacharacters(t *testing.T) {
	cache := NewPatternCache()
	re, err := cache.Get("pag. (boleto)*", models.RuleTypeWildcard)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !re.MatchString("pag. (boleto) energia") {
		t.Error("Expected literal punctuation to match")
	}
	if re.MatchString("pagx boleto energia") {
		t.Error("Expected '.' to be literal")
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		ruleType models.RuleType
		wantErr  bool
	}{
		{"contains", "salario", models.RuleTypeContains, false},
		{"regex", "^pix .* recebido$", models.RuleTypeRegex, false},
		{"wildcard", "*venda*", models.RuleTypeWildcard, false},
		{"empty", "   ", models.RuleTypeContains, true},
		{"malformed regex", "venda(", models.RuleTypeRegex, true},
		{"wildcard matching everything", "**", models.RuleTypeWildcard, true},
		{"unknown type", "salario", models.RuleType("soundex"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern, tt.ruleType)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePattern() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.HasCode(err, errors.CodeInvalidPattern) {
				t.Errorf("Expected invalid pattern code, got %v", err)
			}
		})
	}
}
