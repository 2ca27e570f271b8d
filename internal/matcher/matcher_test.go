package matcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

type fakeRuleSource struct {
	mu       sync.Mutex
	rules    []*models.CategorizationRule
	err      error
	loads    int
	usage    map[string]int
	usageErr error
}

func (f *fakeRuleSource) ListMatchableRules(ctx context.Context, companyID string) ([]*models.CategorizationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

func (f *fakeRuleSource) IncrementUsage(ctx context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage == nil {
		f.usage = make(map[string]int)
	}
	f.usage[ruleID]++
	return f.usageErr
}

func newRule(id, companyID, pattern string, ruleType models.RuleType, categoryID string, score float64) *models.CategorizationRule {
	return &models.CategorizationRule{
		ID:              id,
		CompanyID:       companyID,
		Pattern:         pattern,
		RuleType:        ruleType,
		CategoryID:      categoryID,
		ConfidenceScore: score,
		Active:          true,
		Status:          models.RuleStatusActive,
	}
}

func newTestEngine(t *testing.T, config *MatchingConfig, rules ...*models.CategorizationRule) (*Engine, *fakeRuleSource) {
	t.Helper()
	source := &fakeRuleSource{rules: rules}
	engine, err := NewEngine(source, config)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine, source
}

func TestNewEngine(t *testing.T) {
	if _, err := NewEngine(nil, nil); err == nil {
		t.Error("Expected error for nil rule source")
	}

	engine, err := NewEngine(&fakeRuleSource{}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if engine.Config().Selection != SelectBest {
		t.Errorf("Expected default selection best, got %s", engine.Config().Selection)
	}

	invalid := DefaultMatchingConfig()
	invalid.FuzzyThreshold = 1.5
	_, err = NewEngine(&fakeRuleSource{}, invalid)
	if !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("Expected invalid config error, got %v", err)
	}
}

func TestEngine_Match_Strategies(t *testing.T) {
	tests := []struct {
		name        string
		rule        *models.CategorizationRule
		description string
		wantMatch   bool
		wantScore   int
	}{
		{
			name:        "contains adds bonus",
			rule:        newRule("r1", "c1", "SALARIO", models.RuleTypeContains, "cat-salary", 0.9),
			description: "PAGAMENTO SALARIO OUTUBRO",
			wantMatch:   true,
			wantScore:   95,
		},
		{
			name:        "contains equal to text is clamped",
			rule:        newRule("r1", "c1", "salario", models.RuleTypeContains, "cat-salary", 0.9),
			description: "SALARIO",
			wantMatch:   true,
			wantScore:   100,
		},
		{
			name:        "exact match",
			rule:        newRule("r1", "c1", "tarifa bancaria", models.RuleTypeExact, "cat-fees", 0.85),
			description: "  TARIFA BANCARIA ",
			wantMatch:   true,
			wantScore:   95,
		},
		{
			name:        "exact requires the whole text",
			rule:        newRule("r1", "c1", "tarifa", models.RuleTypeExact, "cat-fees", 0.85),
			description: "TARIFA BANCARIA",
			wantMatch:   false,
		},
		{
			name:        "wildcard star",
			rule:        newRule("r1", "c1", "*VENDA*", models.RuleTypeWildcard, "cat-sales", 1.0),
			description: "VENDA DE MERCADORIA X",
			wantMatch:   true,
			wantScore:   98,
		},
		{
			name:        "wildcard does not match unrelated text",
			rule:        newRule("r1", "c1", "*VENDA*", models.RuleTypeWildcard, "cat-sales", 1.0),
			description: "COMPRA MERCADORIA",
			wantMatch:   false,
		},
		{
			name:        "wildcard question mark is one character",
			rule:        newRule("r1", "c1", "PIX ??? RECEBIDO", models.RuleTypeWildcard, "cat-pix", 0.8),
			description: "PIX ABC RECEBIDO",
			wantMatch:   true,
			wantScore:   78,
		},
		{
			name:        "wildcard is anchored",
			rule:        newRule("r1", "c1", "PIX ???", models.RuleTypeWildcard, "cat-pix", 0.8),
			description: "PIX ABCD",
			wantMatch:   false,
		},
		{
			name:        "tokens in any order",
			rule:        newRule("r1", "c1", "mercadoria venda", models.RuleTypeTokens, "cat-sales", 0.8),
			description: "VENDA DE MERCADORIA",
			wantMatch:   true,
			wantScore:   75,
		},
		{
			name:        "tokens must all be present",
			rule:        newRule("r1", "c1", "mercadoria venda online", models.RuleTypeTokens, "cat-sales", 0.8),
			description: "VENDA DE MERCADORIA",
			wantMatch:   false,
		},
		{
			name:        "fuzzy tolerates a typo",
			rule:        newRule("r1", "c1", "uber trp", models.RuleTypeFuzzy, "cat-transport", 0.9),
			description: "COMPRA UBER TRIP SAO PAULO",
			wantMatch:   true,
			wantScore:   82,
		},
		{
			name:        "fuzzy rejects distant text",
			rule:        newRule("r1", "c1", "uber trip", models.RuleTypeFuzzy, "cat-transport", 0.9),
			description: "TARIFA BANCARIA MENSAL",
			wantMatch:   false,
		},
		{
			name:        "regex is case insensitive",
			rule:        newRule("r1", "c1", "^pix .* recebido$", models.RuleTypeRegex, "cat-pix", 0.7),
			description: "PIX JOAO SILVA RECEBIDO",
			wantMatch:   true,
			wantScore:   67,
		},
		{
			name:        "low score clamps to minimum",
			rule:        newRule("r1", "c1", "salario", models.RuleTypeContains, "cat-salary", 0.2),
			description: "SALARIO MENSAL",
			wantMatch:   true,
			wantScore:   50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, nil, tt.rule)

			match, err := engine.Match(context.Background(), tt.description, "c1")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if !tt.wantMatch {
				if match != nil {
					t.Errorf("Expected no match, got %s with %d", match.Rule.Pattern, match.Confidence)
				}
				return
			}

			if match == nil {
				t.Fatal("Expected a match")
			}
			if match.Confidence != tt.wantScore {
				t.Errorf("Expected confidence %d, got %d", tt.wantScore, match.Confidence)
			}
			if match.MatchedBy != tt.rule.RuleType {
				t.Errorf("Expected matched by %s, got %s", tt.rule.RuleType, match.MatchedBy)
			}
			if match.FellBack {
				t.Error("Expected strategy to apply without fallback")
			}
		})
	}
}

func TestEngine_Match_WildcardScoresBelowContains(t *testing.T) {
	wildcard, _ := newTestEngine(t, nil, newRule("w", "c1", "*VENDA*", models.RuleTypeWildcard, "cat-sales", 1.0))
	contains, _ := newTestEngine(t, nil, newRule("c", "c1", "VENDA", models.RuleTypeContains, "cat-sales", 1.0))

	wm, _ := wildcard.Match(context.Background(), "VENDA DE MERCADORIA X", "c1")
	cm, _ := contains.Match(context.Background(), "VENDA DE MERCADORIA X", "c1")
	if wm == nil || cm == nil {
		t.Fatal("Expected both rules to match")
	}

	if cm.Confidence-wm.Confidence != 2 {
		t.Errorf("Expected wildcard 2 points below contains, got %d vs %d", wm.Confidence, cm.Confidence)
	}
}

func TestEngine_Match_FallbackOnBrokenRegex(t *testing.T) {
	rule := newRule("r1", "c1", "venda(", models.RuleTypeRegex, "cat-sales", 0.8)
	engine, _ := newTestEngine(t, nil, rule)

	match, err := engine.Match(context.Background(), "ESTORNO VENDA(123)", "c1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if match == nil {
		t.Fatal("Expected substring fallback to match")
	}
	if !match.FellBack {
		t.Error("Expected match to be flagged as fallback")
	}
	if match.Confidence != 77 {
		t.Errorf("Expected confidence 77, got %d", match.Confidence)
	}

	match, _ = engine.Match(context.Background(), "VENDA DE MERCADORIA", "c1")
	if match != nil {
		t.Error("Expected no match when the literal pattern is absent")
	}
}

func TestEngine_Match_Selection(t *testing.T) {
	rules := []*models.CategorizationRule{
		newRule("contains", "c1", "venda", models.RuleTypeContains, "cat-a", 0.9),
		newRule("exact", "c1", "venda de mercadoria", models.RuleTypeExact, "cat-b", 0.88),
	}

	best, _ := newTestEngine(t, DefaultMatchingConfig(), rules...)
	match, _ := best.Match(context.Background(), "VENDA DE MERCADORIA", "c1")
	if match == nil || match.Rule.ID != "exact" || match.Confidence != 98 {
		t.Errorf("Expected best selection to pick exact rule with 98, got %+v", match)
	}

	first, _ := newTestEngine(t, FirstMatchConfig(), rules...)
	match, _ = first.Match(context.Background(), "VENDA DE MERCADORIA", "c1")
	if match == nil || match.Rule.ID != "contains" || match.Confidence != 95 {
		t.Errorf("Expected first selection to pick contains rule with 95, got %+v", match)
	}
}

func TestEngine_Match_TieKeepsConfidenceOrder(t *testing.T) {
	engine, _ := newTestEngine(t, nil,
		newRule("low", "c1", "mercadoria", models.RuleTypeContains, "cat-b", 0.5),
		newRule("first", "c1", "venda", models.RuleTypeContains, "cat-a", 0.9),
		newRule("second", "c1", "mercadoria", models.RuleTypeContains, "cat-b", 0.9),
	)

	for i := 0; i < 5; i++ {
		match, _ := engine.Match(context.Background(), "VENDA DE MERCADORIA", "c1")
		if match == nil || match.Rule.ID != "first" {
			t.Fatalf("Expected deterministic winner 'first', got %+v", match)
		}
	}
}

func TestEngine_Match_TenantAndLifecycle(t *testing.T) {
	inactive := newRule("inactive", "c1", "salario", models.RuleTypeContains, "cat-a", 0.99)
	inactive.Active = false
	retired := newRule("retired", "c1", "salario", models.RuleTypeContains, "cat-a", 0.98)
	retired.Status = models.RuleStatusInactive

	engine, _ := newTestEngine(t, nil,
		newRule("other-tenant", "c2", "salario", models.RuleTypeContains, "cat-x", 1.0),
		inactive,
		retired,
		newRule("own", "c1", "salario", models.RuleTypeContains, "cat-b", 0.6),
	)

	match, err := engine.Match(context.Background(), "PAGAMENTO SALARIO", "c1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if match == nil || match.Rule.ID != "own" {
		t.Errorf("Expected tenant rule 'own', got %+v", match)
	}

	match, _ = engine.Match(context.Background(), "PAGAMENTO SALARIO", "c3")
	if match != nil {
		t.Errorf("Expected no match for tenant without rules, got %+v", match)
	}
}

func TestEngine_Match_EmptyInput(t *testing.T) {
	engine, source := newTestEngine(t, nil, newRule("r1", "c1", "salario", models.RuleTypeContains, "cat-a", 0.9))

	for _, input := range []struct{ description, company string }{{"", "c1"}, {"   ", "c1"}, {"SALARIO", ""}} {
		match, err := engine.Match(context.Background(), input.description, input.company)
		if err != nil || match != nil {
			t.Errorf("Expected no match and no error for %+v, got %+v, %v", input, match, err)
		}
	}
	if source.loads != 0 {
		t.Errorf("Expected rules not to be loaded for empty input, got %d loads", source.loads)
	}
}

func TestEngine_Match_SourceError(t *testing.T) {
	engine, source := newTestEngine(t, nil)
	source.err = fmt.Errorf("database is locked")

	_, err := engine.Match(context.Background(), "SALARIO", "c1")
	if !errors.HasCode(err, errors.CodeRuleLoadFailed) {
		t.Errorf("Expected rule load error, got %v", err)
	}
}

func TestEngine_Match_Cancelled(t *testing.T) {
	engine, _ := newTestEngine(t, nil, newRule("r1", "c1", "salario", models.RuleTypeContains, "cat-a", 0.9))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Match(ctx, "SALARIO", "c1"); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestEngine_SnapshotTTL(t *testing.T) {
	config := DefaultMatchingConfig()
	config.SnapshotTTL = time.Minute
	engine, source := newTestEngine(t, config, newRule("r1", "c1", "salario", models.RuleTypeContains, "cat-a", 0.9))

	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	engine.clock = func() time.Time { return now }

	engine.Match(context.Background(), "SALARIO", "c1")
	engine.Match(context.Background(), "SALARIO", "c1")
	if source.loads != 1 {
		t.Errorf("Expected 1 load within TTL, got %d", source.loads)
	}

	now = now.Add(2 * time.Minute)
	engine.Match(context.Background(), "SALARIO", "c1")
	if source.loads != 2 {
		t.Errorf("Expected reload after TTL, got %d loads", source.loads)
	}

	engine.Invalidate("c1")
	engine.Match(context.Background(), "SALARIO", "c1")
	if source.loads != 3 {
		t.Errorf("Expected reload after invalidation, got %d loads", source.loads)
	}
}

func TestEngine_NoSnapshotReloadsEveryMatch(t *testing.T) {
	engine, source := newTestEngine(t, nil, newRule("r1", "c1", "salario", models.RuleTypeContains, "cat-a", 0.9))

	engine.Match(context.Background(), "SALARIO", "c1")
	engine.Match(context.Background(), "SALARIO", "c1")
	if source.loads != 2 {
		t.Errorf("Expected 2 loads without snapshot TTL, got %d", source.loads)
	}
}

func TestEngine_RecordUsage(t *testing.T) {
	config := DefaultMatchingConfig()
	config.RecordUsage = true
	engine, source := newTestEngine(t, config, newRule("r1", "c1", "salario", models.RuleTypeContains, "cat-a", 0.9))
	source.usageErr = fmt.Errorf("write failed")

	match, err := engine.Match(context.Background(), "SALARIO", "c1")
	if err != nil || match == nil {
		t.Fatalf("Expected match despite usage error, got %v, %v", match, err)
	}
	if source.usage["r1"] != 1 {
		t.Errorf("Expected usage to be recorded once, got %d", source.usage["r1"])
	}

	engine.Match(context.Background(), "TARIFA", "c1")
	if source.usage["r1"] != 1 {
		t.Error("Expected no usage recorded without a match")
	}
}

func TestEngine_MatchRules(t *testing.T) {
	engine, source := newTestEngine(t, nil)
	rules := []*models.CategorizationRule{
		newRule("r1", "c1", "uber", models.RuleTypeContains, "cat-transport", 0.9),
	}

	match := engine.MatchRules("UBER TRIP", "c1", rules)
	if match == nil || match.Rule.ID != "r1" {
		t.Errorf("Expected r1 to match, got %+v", match)
	}
	if source.loads != 0 {
		t.Error("Expected explicit rule set not to touch the source")
	}
}

func TestEngine_ConcurrentMatches(t *testing.T) {
	engine, _ := newTestEngine(t, nil,
		newRule("w", "c1", "*VENDA*", models.RuleTypeWildcard, "cat-sales", 0.9),
		newRule("r", "c1", "^pix", models.RuleTypeRegex, "cat-pix", 0.8),
	)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			description := "VENDA DE MERCADORIA"
			if i%2 == 0 {
				description = "PIX RECEBIDO"
			}
			if match, err := engine.Match(context.Background(), description, "c1"); err != nil || match == nil {
				t.Errorf("Expected match for %q, got %v, %v", description, match, err)
			}
		}()
	}
	wg.Wait()

	if engine.Patterns().Len() != 2 {
		t.Errorf("Expected 2 cached patterns, got %d", engine.Patterns().Len())
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input   string
		want    Selection
		wantErr bool
	}{
		{"", SelectBest, false},
		{"best", SelectBest, false},
		{"FIRST", SelectFirst, false},
		{"random", SelectBest, true},
	}

	for _, tt := range tests {
		got, err := ParseSelection(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSelection(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseSelection(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestMatchingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(c *MatchingConfig) {}, false},
		{"zero fuzzy threshold", func(c *MatchingConfig) { c.FuzzyThreshold = 0 }, true},
		{"zero window", func(c *MatchingConfig) { c.FuzzyMaxWindow = 0 }, true},
		{"inverted bounds", func(c *MatchingConfig) { c.MinConfidence = 90; c.MaxConfidence = 80 }, true},
		{"negative penalty", func(c *MatchingConfig) { c.Penalties[models.RuleTypeFuzzy] = -1 }, true},
		{"unknown penalty type", func(c *MatchingConfig) { c.Penalties["soundex"] = 1 }, true},
		{"negative ttl", func(c *MatchingConfig) { c.SnapshotTTL = -time.Second }, true},
		{"bad selection", func(c *MatchingConfig) { c.Selection = Selection(7) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.modify(config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchingConfig_Clone(t *testing.T) {
	config := DefaultMatchingConfig()
	clone := config.Clone()
	clone.Penalties[models.RuleTypeFuzzy] = 20

	if config.Penalty(models.RuleTypeFuzzy) != 8 {
		t.Error("Expected clone to own its penalty map")
	}
}
