// Package categorizer turns a parsed transaction into exactly one category decision.
//
// Decisions come from a fixed priority chain of classification sources:
//  1. history: categories a human confirmed for the same description
//  2. cache: earlier decisions of the AI classifier
//  3. rule: the tenant's rule engine
//  4. ai: an external classifier
//
// Each source has a minimum confidence. The first source that answers at or above
// its minimum wins. The orchestrator never fails its caller: source errors, panics
// and the absence of any decision all produce the Unclassified result.
//
// Example usage:
//
//	orchestrator := categorizer.NewOrchestrator(categorizer.DefaultConfig(), categorizer.Sources{
//		History: historyStore,
//		Cache:   decisionCache,
//		Rules:   categorizer.NewRuleClassifier(engine, categoryStore),
//	})
//	result := orchestrator.Categorize(ctx, tx, categorizer.TenantContext{CompanyID: companyID})
package categorizer

import (
	"context"
	"fmt"
	"runtime/debug"

	"statement-categorization-service/internal/models"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// Config holds the orchestrator tunables
type Config struct {
	HistoryMinConfidence int `mapstructure:"history_min_confidence" json:"history_min_confidence"`
	CacheMinConfidence   int `mapstructure:"cache_min_confidence" json:"cache_min_confidence"`
	RuleMinConfidence    int `mapstructure:"rule_min_confidence" json:"rule_min_confidence"`
	AIMinConfidence      int `mapstructure:"ai_min_confidence" json:"ai_min_confidence"`

	// UnclassifiedID and UnclassifiedName identify the sentinel category
	UnclassifiedID   string `mapstructure:"unclassified_id" json:"unclassified_id"`
	UnclassifiedName string `mapstructure:"unclassified_name" json:"unclassified_name"`

	// RecordAIDecisions writes AI decisions back to the cache source
	RecordAIDecisions bool `mapstructure:"record_ai_decisions" json:"record_ai_decisions"`
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		HistoryMinConfidence: 80,
		CacheMinConfidence:   70,
		RuleMinConfidence:    0,
		AIMinConfidence:      0,
		UnclassifiedID:       "unclassified",
		UnclassifiedName:     "Não Classificado",
		RecordAIDecisions:    true,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for name, value := range map[string]int{
		"history": c.HistoryMinConfidence,
		"cache":   c.CacheMinConfidence,
		"rule":    c.RuleMinConfidence,
		"ai":      c.AIMinConfidence,
	} {
		if value < 0 || value > 100 {
			return fmt.Errorf("%s minimum confidence must be between 0 and 100: %d", name, value)
		}
	}
	if c.UnclassifiedID == "" {
		return fmt.Errorf("unclassified category ID cannot be empty")
	}
	return nil
}

// Sources are the injected classification sources. Any of them may be nil.
type Sources struct {
	History Classifier
	Cache   Classifier
	Rules   Classifier
	AI      Classifier
}

type stage struct {
	source        models.ResultSource
	classifier    Classifier
	minConfidence int
}

// Orchestrator routes transactions through the classification sources
type Orchestrator struct {
	config   *Config
	stages   []stage
	recorder DecisionRecorder
	logger   logger.Logger
}

// NewOrchestrator creates an orchestrator over the given sources
func NewOrchestrator(config *Config, sources Sources) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}

	o := &Orchestrator{
		config: config,
		logger: logger.WithComponent("categorizer"),
	}

	candidates := []stage{
		{models.SourceHistory, sources.History, config.HistoryMinConfidence},
		{models.SourceCache, sources.Cache, config.CacheMinConfidence},
		{models.SourceRule, sources.Rules, config.RuleMinConfidence},
		{models.SourceAI, sources.AI, config.AIMinConfidence},
	}
	for _, candidate := range candidates {
		if candidate.classifier != nil {
			o.stages = append(o.stages, candidate)
		}
	}

	if recorder, ok := sources.Cache.(DecisionRecorder); ok && config.RecordAIDecisions {
		o.recorder = recorder
	}

	return o
}

// SetLogger replaces the orchestrator logger
func (o *Orchestrator) SetLogger(log logger.Logger) {
	if log != nil {
		o.logger = log.WithComponent("categorizer")
	}
}

// Categorize returns the category decision for one transaction. It never fails.
func (o *Orchestrator) Categorize(ctx context.Context, tx *models.Transaction, tenant TenantContext) models.CategorizationResult {
	if tx == nil {
		return o.unclassified(errors.CategorizationError(errors.CodeNoDecision, "input", fmt.Errorf("transaction is nil")))
	}

	req := NewClassificationRequest(tx, tenant)
	log := o.logger.WithFields(logger.Fields{
		"company_id":     tenant.CompanyID,
		"transaction_id": tx.ID,
	})

	var failures []error
	for _, st := range o.stages {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		decision, err := o.classify(ctx, st, req)
		if err != nil {
			log.WithError(err).WithField("source", string(st.source)).Warn("Classification source failed")
			failures = append(failures, err)
			continue
		}
		if decision == nil || decision.CategoryID == "" {
			continue
		}
		if decision.Confidence < st.minConfidence {
			log.WithFields(logger.Fields{
				"source":     string(st.source),
				"confidence": decision.Confidence,
				"minimum":    st.minConfidence,
			}).Debug("Classification below source minimum")
			continue
		}

		if st.source == models.SourceAI {
			o.record(ctx, req, *decision)
		}
		return o.result(st.source, decision)
	}

	if len(failures) > 0 {
		return o.unclassified(failures[len(failures)-1])
	}
	return o.unclassified(errors.CategorizationError(errors.CodeNoDecision, "chain", nil))
}

// classify calls one source and converts a panic into an error
func (o *Orchestrator) classify(ctx context.Context, st stage, req ClassificationRequest) (decision *Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("stack", string(debug.Stack())).Debug("Recovered classification panic")
			decision = nil
			err = errors.CategorizationError(errors.CodeSourcePanicked, string(st.source), fmt.Errorf("panic: %v", r))
		}
	}()

	decision, err = st.classifier.Classify(ctx, req)
	if err != nil {
		return nil, errors.CategorizationError(errors.CodeSourceFailed, string(st.source), err)
	}
	return decision, nil
}

func (o *Orchestrator) record(ctx context.Context, req ClassificationRequest, decision Classification) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordDecision(ctx, req, decision); err != nil {
		o.logger.WithError(err).Warn("Failed to cache AI decision")
	}
}

func (o *Orchestrator) result(source models.ResultSource, decision *Classification) models.CategorizationResult {
	confidence := decision.Confidence
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}

	result := models.CategorizationResult{
		CategoryID:   decision.CategoryID,
		CategoryName: decision.CategoryName,
		Confidence:   confidence,
		Reasoning:    decision.Reasoning,
		Source:       source,
	}
	if source == models.SourceRule {
		result.RuleID = decision.RuleID
	}
	return result
}

// Unclassified returns the sentinel result used when no source decides
func (o *Orchestrator) Unclassified(reason string) models.CategorizationResult {
	return models.CategorizationResult{
		CategoryID:   o.config.UnclassifiedID,
		CategoryName: o.config.UnclassifiedName,
		Confidence:   0,
		Reasoning:    reason,
		Source:       models.SourceError,
	}
}

func (o *Orchestrator) unclassified(err error) models.CategorizationResult {
	return o.Unclassified(err.Error())
}
