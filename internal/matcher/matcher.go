package matcher

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// RuleSource loads the rules a tenant may match against. Implementations return
// active rules in a mature status, ordered by confidence score descending.
type RuleSource interface {
	ListMatchableRules(ctx context.Context, companyID string) ([]*models.CategorizationRule, error)
}

// UsageRecorder is implemented by rule sources that track how often a rule wins
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, ruleID string) error
}

// RuleMatch is the winning rule for one description
type RuleMatch struct {
	Rule       *models.CategorizationRule
	Confidence int
	MatchedBy  models.RuleType
	FellBack   bool
	Reasoning  string
}

type snapshot struct {
	index    *RuleIndex
	loadedAt time.Time
}

// Engine evaluates tenant rules against transaction descriptions
type Engine struct {
	source   RuleSource
	config   *MatchingConfig
	patterns *PatternCache
	logger   logger.Logger
	clock    func() time.Time

	mu        sync.Mutex
	snapshots map[string]snapshot
}

// NewEngine creates a rule matching engine
func NewEngine(source RuleSource, config *MatchingConfig) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("rule source cannot be nil")
	}
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err)
	}

	return &Engine{
		source:    source,
		config:    config.Clone(),
		patterns:  NewPatternCache(),
		logger:    logger.WithComponent("matcher"),
		clock:     time.Now,
		snapshots: make(map[string]snapshot),
	}, nil
}

// SetLogger replaces the engine logger
func (e *Engine) SetLogger(log logger.Logger) {
	if log != nil {
		e.logger = log.WithComponent("matcher")
	}
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Patterns exposes the compiled-pattern cache
func (e *Engine) Patterns() *PatternCache {
	return e.patterns
}

// Match finds the rule that categorizes the description for the given tenant.
// A nil match with a nil error means no rule applies.
func (e *Engine) Match(ctx context.Context, description, companyID string) (*RuleMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" || companyID == "" {
		return nil, nil
	}

	index, err := e.rulesFor(ctx, companyID)
	if err != nil {
		return nil, err
	}

	match := e.matchIndex(description, companyID, index)
	if match != nil && e.config.RecordUsage {
		if recorder, ok := e.source.(UsageRecorder); ok {
			if err := recorder.IncrementUsage(ctx, match.Rule.ID); err != nil {
				e.logger.WithError(err).WithField("rule_id", match.Rule.ID).Warn("Failed to record rule usage")
			}
		}
	}

	return match, nil
}

// MatchRules evaluates an explicit rule set without consulting the rule source
func (e *Engine) MatchRules(description, companyID string, rules []*models.CategorizationRule) *RuleMatch {
	return e.matchIndex(description, companyID, NewRuleIndex(rules))
}

// Invalidate drops the cached rule snapshot of a tenant
func (e *Engine) Invalidate(companyID string) {
	e.mu.Lock()
	delete(e.snapshots, companyID)
	e.mu.Unlock()
}

func (e *Engine) rulesFor(ctx context.Context, companyID string) (*RuleIndex, error) {
	if e.config.SnapshotTTL > 0 {
		e.mu.Lock()
		cached, ok := e.snapshots[companyID]
		e.mu.Unlock()
		if ok && e.clock().Sub(cached.loadedAt) < e.config.SnapshotTTL {
			return cached.index, nil
		}
	}

	rules, err := e.source.ListMatchableRules(ctx, companyID)
	if err != nil {
		return nil, errors.CategorizationError(errors.CodeRuleLoadFailed, "rule", err)
	}
	index := NewRuleIndex(rules)

	if e.config.SnapshotTTL > 0 {
		e.mu.Lock()
		e.snapshots[companyID] = snapshot{index: index, loadedAt: e.clock()}
		e.mu.Unlock()
	}

	return index, nil
}

func (e *Engine) matchIndex(description, companyID string, index *RuleIndex) *RuleMatch {
	text := normalize(description)
	if text == "" {
		return nil
	}

	var best *RuleMatch
	for _, rule := range index.Rules {
		if rule.CompanyID != companyID || !rule.IsMatchable() {
			continue
		}

		pattern := normalize(rule.Pattern)
		if pattern == "" {
			continue
		}

		result := e.evaluate(rule.RuleType, text, pattern)
		if result.err != nil {
			e.logger.WithFields(logger.Fields{
				"rule_id":   rule.ID,
				"rule_type": string(rule.RuleType),
				"pattern":   rule.Pattern,
			}).WithError(result.err).Warn("Rule strategy failed, falling back to substring match")
		}
		if !result.matched {
			continue
		}

		confidence := e.Confidence(rule, text, pattern)
		if best == nil || confidence > best.Confidence {
			best = &RuleMatch{
				Rule:       rule,
				Confidence: confidence,
				MatchedBy:  rule.RuleType,
				FellBack:   result.fellBack,
				Reasoning:  reasoning(rule, result.fellBack),
			}
		}

		if e.config.Selection == SelectFirst {
			break
		}
	}

	return best
}

// Confidence computes the final 0-100 score of a rule that matched the text.
// Both text and pattern are expected in normalized form.
func (e *Engine) Confidence(rule *models.CategorizationRule, text, pattern string) int {
	score := rule.ConfidenceScore * 100

	if text == pattern {
		score += float64(e.config.ExactBonus)
	}
	if rule.RuleType == models.RuleTypeContains && strings.Contains(text, pattern) {
		score += float64(e.config.ContainsBonus)
	}
	score -= float64(e.config.Penalty(rule.RuleType))

	score = math.Max(float64(e.config.MinConfidence), math.Min(float64(e.config.MaxConfidence), score))
	return int(math.Round(score))
}

func reasoning(rule *models.CategorizationRule, fellBack bool) string {
	if fellBack {
		return fmt.Sprintf("%s rule '%s' could not be evaluated, matched by substring", rule.RuleType, rule.Pattern)
	}
	return fmt.Sprintf("matched %s rule '%s'", rule.RuleType, rule.Pattern)
}
