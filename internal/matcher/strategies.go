package matcher

import (
	"fmt"
	"strings"

	"statement-categorization-service/internal/models"
)

// evaluation is the structural outcome of one rule against one text
type evaluation struct {
	matched  bool
	fellBack bool
	err      error
}

// evaluate applies the rule's strategy to already normalized text and pattern.
// A strategy error degrades to substring containment.
func (e *Engine) evaluate(ruleType models.RuleType, text, pattern string) evaluation {
	matched, err := e.applyStrategy(ruleType, text, pattern)
	if err != nil {
		return evaluation{matched: strings.Contains(text, pattern), fellBack: true, err: err}
	}
	return evaluation{matched: matched}
}

func (e *Engine) applyStrategy(ruleType models.RuleType, text, pattern string) (bool, error) {
	switch ruleType {
	case models.RuleTypeExact:
		return text == pattern, nil
	case models.RuleTypeContains:
		return strings.Contains(text, pattern), nil
	case models.RuleTypeWildcard, models.RuleTypeRegex:
		re, err := e.patterns.Get(pattern, ruleType)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	case models.RuleTypeTokens:
		return matchTokens(text, pattern), nil
	case models.RuleTypeFuzzy:
		return matchFuzzy(text, pattern, e.config.FuzzyMaxWindow, e.config.FuzzyThreshold), nil
	default:
		return false, fmt.Errorf("unknown rule type '%s'", ruleType)
	}
}

func matchTokens(text, pattern string) bool {
	wanted := strings.Fields(pattern)
	if len(wanted) == 0 {
		return false
	}

	present := make(map[string]struct{})
	for _, token := range strings.Fields(text) {
		present[token] = struct{}{}
	}
	for _, token := range wanted {
		if _, ok := present[token]; !ok {
			return false
		}
	}
	return true
}

func matchFuzzy(text, pattern string, maxWindow int, threshold float64) bool {
	words := strings.Fields(text)
	for size := 1; size <= maxWindow && size <= len(words); size++ {
		for start := 0; start+size <= len(words); start++ {
			window := strings.Join(words[start:start+size], " ")
			if Similarity(window, pattern) >= threshold {
				return true
			}
		}
	}
	return false
}
