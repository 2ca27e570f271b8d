package storage

import (
	"context"
	"sync"
	"time"

	"statement-categorization-service/internal/categorizer"
)

type cacheEntry struct {
	decision categorizer.Classification
	expires  time.Time
}

// DecisionCache remembers recent decisions per company and description.
// Entries expire after the configured TTL; a zero TTL keeps them for the
// lifetime of the process.
type DecisionCache struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewDecisionCache(ttl time.Duration) *DecisionCache {
	return &DecisionCache{
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(req categorizer.ClassificationRequest) string {
	return req.CompanyID + "\x00" + req.NormalizedDescription()
}

// Classify implements categorizer.Classifier
func (c *DecisionCache) Classify(ctx context.Context, req categorizer.ClassificationRequest) (*categorizer.Classification, error) {
	key := cacheKey(req)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if c.ttl > 0 && !c.clock().Before(entry.expires) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current.expires.Equal(entry.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}

	decision := entry.decision
	decision.RuleID = ""
	decision.Reasoning = "cached: " + decision.Reasoning
	return &decision, nil
}

// RecordDecision implements categorizer.DecisionRecorder
func (c *DecisionCache) RecordDecision(ctx context.Context, req categorizer.ClassificationRequest, decision categorizer.Classification) error {
	if req.CompanyID == "" || req.NormalizedDescription() == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(req)] = cacheEntry{decision: decision, expires: c.clock().Add(c.ttl)}
	return nil
}

// Len reports how many entries are held, expired ones included
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
