package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
)

type patternKey struct {
	pattern  string
	ruleType models.RuleType
}

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// PatternCache memoizes compiled wildcard and regex patterns. Compile failures are
// cached as well so a bad pattern is compiled once.
type PatternCache struct {
	mu       sync.RWMutex
	patterns map[patternKey]compiledPattern
}

// NewPatternCache creates an empty cache
func NewPatternCache() *PatternCache {
	return &PatternCache{patterns: make(map[patternKey]compiledPattern)}
}

// Get returns the compiled form of a wildcard or regex pattern
func (c *PatternCache) Get(pattern string, ruleType models.RuleType) (*regexp.Regexp, error) {
	key := patternKey{pattern: pattern, ruleType: ruleType}

	c.mu.RLock()
	entry, ok := c.patterns[key]
	c.mu.RUnlock()
	if ok {
		return entry.re, entry.err
	}

	re, err := compilePattern(pattern, ruleType)

	c.mu.Lock()
	c.patterns[key] = compiledPattern{re: re, err: err}
	c.mu.Unlock()

	return re, err
}

// Len returns the number of cached patterns
func (c *PatternCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.patterns)
}

func compilePattern(pattern string, ruleType models.RuleType) (*regexp.Regexp, error) {
	switch ruleType {
	case models.RuleTypeWildcard:
		return regexp.Compile(wildcardToRegex(pattern))
	case models.RuleTypeRegex:
		return regexp.Compile("(?i)" + pattern)
	default:
		return nil, fmt.Errorf("rule type %s has no compiled form", ruleType)
	}
}

// wildcardToRegex anchors the pattern and translates '*' and '?'
func wildcardToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// ValidatePattern checks that a pattern can be evaluated with the given rule type
func ValidatePattern(pattern string, ruleType models.RuleType) error {
	normalized := normalize(pattern)
	if normalized == "" {
		return errors.RuleError(errors.CodeInvalidPattern, pattern, fmt.Errorf("pattern is empty"))
	}
	if !ruleType.IsValid() {
		return errors.RuleError(errors.CodeInvalidPattern, pattern, fmt.Errorf("unknown rule type '%s'", ruleType))
	}

	switch ruleType {
	case models.RuleTypeRegex:
		if _, err := compilePattern(pattern, ruleType); err != nil {
			return errors.RuleError(errors.CodeInvalidPattern, pattern, err)
		}
	case models.RuleTypeWildcard:
		if strings.Trim(normalized, "*?") == "" {
			return errors.RuleError(errors.CodeInvalidPattern, pattern, fmt.Errorf("wildcard pattern matches everything"))
		}
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
