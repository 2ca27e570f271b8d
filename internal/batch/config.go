package batch

import (
	"fmt"
	"time"
)

// Config holds the batch processing tunables
type Config struct {
	// BatchSize is the number of transactions per checkpointed batch
	BatchSize int `mapstructure:"batch_size" json:"batch_size"`

	// ChunkSize is the number of transactions categorized in parallel within a batch
	ChunkSize int `mapstructure:"chunk_size" json:"chunk_size"`

	// ProgressLogInterval throttles progress log lines during a run
	ProgressLogInterval time.Duration `mapstructure:"progress_log_interval" json:"progress_log_interval"`
}

// DefaultConfig returns the default batch configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:           15,
		ChunkSize:           10,
		ProgressLogInterval: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1: %d", c.BatchSize)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1: %d", c.ChunkSize)
	}
	if c.ProgressLogInterval < 0 {
		return fmt.Errorf("progress log interval cannot be negative: %s", c.ProgressLogInterval)
	}
	return nil
}

// TotalBatches returns how many batches a transaction count splits into
func (c *Config) TotalBatches(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + c.BatchSize - 1) / c.BatchSize
}

// Span is a half-open index range [Start, End)
type Span struct {
	Start int
	End   int
}

// Len returns the number of indexes in the span
func (s Span) Len() int {
	return s.End - s.Start
}

// BatchSpan returns the transaction range of a 1-based batch number
func (c *Config) BatchSpan(batchNumber, total int) Span {
	start := (batchNumber - 1) * c.BatchSize
	if start > total {
		start = total
	}
	return Span{Start: start, End: min(start+c.BatchSize, total)}
}

// Chunks splits n items into consecutive spans of at most ChunkSize
func (c *Config) Chunks(n int) []Span {
	var spans []Span
	for start := 0; start < n; start += c.ChunkSize {
		spans = append(spans, Span{Start: start, End: min(start+c.ChunkSize, n)})
	}
	return spans
}
