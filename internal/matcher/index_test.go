package matcher

import (
	"testing"

	"statement-categorization-service/internal/models"
)

func createTestRules() []*models.CategorizationRule {
	retired := newRule("R5", "c1", "estorno", models.RuleTypeContains, "cat-refunds", 0.95)
	retired.Status = models.RuleStatusInactive

	return []*models.CategorizationRule{
		newRule("R1", "c1", "SALARIO", models.RuleTypeContains, "cat-salary", 0.7),
		newRule("R2", "c1", "*VENDA*", models.RuleTypeWildcard, "cat-sales", 0.9),
		newRule("R3", "c1", "salario", models.RuleTypeExact, "cat-salary", 0.9),
		newRule("R4", "c2", "uber", models.RuleTypeContains, "cat-transport", 0.8),
		retired,
		nil,
	}
}

func TestNewRuleIndex(t *testing.T) {
	index := NewRuleIndex(createTestRules())

	if index.Len() != 5 {
		t.Fatalf("Expected 5 indexed rules, got %d", index.Len())
	}

	expectedOrder := []string{"R5", "R2", "R3", "R4", "R1"}
	for i, id := range expectedOrder {
		if index.Rules[i].ID != id {
			t.Errorf("Expected rule %s at position %d, got %s", id, i, index.Rules[i].ID)
		}
	}
}

func TestRuleIndex_FindByPattern(t *testing.T) {
	index := NewRuleIndex(createTestRules())

	rules := index.FindByPattern("  Salario ")
	if len(rules) != 2 {
		t.Fatalf("Expected 2 rules for pattern 'salario', got %d", len(rules))
	}
	if rules[0].ID != "R3" {
		t.Errorf("Expected higher confidence rule first, got %s", rules[0].ID)
	}

	if len(index.FindByPattern("pix")) != 0 {
		t.Error("Expected no rules for unknown pattern")
	}
}

func TestRuleIndex_Matchable(t *testing.T) {
	index := NewRuleIndex(createTestRules())

	matchable := index.Matchable("c1")
	if len(matchable) != 3 {
		t.Fatalf("Expected 3 matchable rules for c1, got %d", len(matchable))
	}
	for _, rule := range matchable {
		if rule.CompanyID != "c1" || !rule.IsMatchable() {
			t.Errorf("Unexpected rule in matchable set: %s", rule)
		}
	}
}

func TestRuleIndex_GetStats(t *testing.T) {
	index := NewRuleIndex(createTestRules())
	stats := index.GetStats()

	if stats.TotalRules != 5 {
		t.Errorf("Expected 5 rules, got %d", stats.TotalRules)
	}
	if stats.UniquePatterns != 4 {
		t.Errorf("Expected 4 unique patterns, got %d", stats.UniquePatterns)
	}
	if stats.UniqueCategories != 4 {
		t.Errorf("Expected 4 unique categories, got %d", stats.UniqueCategories)
	}
	if stats.RulesPerType[models.RuleTypeContains] != 3 {
		t.Errorf("Expected 3 contains rules, got %d", stats.RulesPerType[models.RuleTypeContains])
	}

	empty := NewRuleIndex(nil).GetStats()
	if empty.TotalRules != 0 || empty.AverageConfidence != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}
