// Package config turns viper settings into the typed configurations of the
// categorization components.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"statement-categorization-service/internal/batch"
	"statement-categorization-service/internal/categorizer"
	"statement-categorization-service/internal/matcher"
	"statement-categorization-service/internal/parsers"
	"statement-categorization-service/internal/reporter"
	"statement-categorization-service/pkg/logger"
)

// Keys read from flags, environment and config files
const (
	KeyVerbose           = "verbose"
	KeyDatabase          = "database"
	KeyLogLevel          = "log-level"
	KeyLogFormat         = "log-format"
	KeyOutputFormat      = "output-format"
	KeyBatchSize         = "batch-size"
	KeyChunkSize         = "chunk-size"
	KeySelection         = "selection"
	KeyFuzzyThreshold    = "fuzzy-threshold"
	KeyRecordUsage       = "record-usage"
	KeySnapshotTTL       = "snapshot-ttl"
	KeyCacheTTL          = "cache-ttl"
	KeyHistoryConfidence = "history-confidence"
	KeyFallbackToNow     = "fallback-to-now"
	KeyParseConcurrency  = "parse-concurrency"

	// SectionOrchestrator holds categorizer.Config fields in a config file
	SectionOrchestrator = "orchestrator"
	// SectionParser holds parsers.ParserConfig fields in a config file
	SectionParser = "parser"
)

// Config is the complete CLI configuration
type Config struct {
	Database          string
	Log               *logger.Config
	Parser            *parsers.ParserConfig
	Matching          *matcher.MatchingConfig
	Categorizer       *categorizer.Config
	Batch             *batch.Config
	Report            *reporter.ReportConfig
	CacheTTL          time.Duration
	HistoryConfidence int
	ParseConcurrency  int
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	batchDefaults := batch.DefaultConfig()
	matchDefaults := matcher.DefaultMatchingConfig()

	v.SetDefault(KeyDatabase, "categorizer.db")
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
	v.SetDefault(KeyOutputFormat, string(reporter.FormatConsole))
	v.SetDefault(KeyBatchSize, batchDefaults.BatchSize)
	v.SetDefault(KeyChunkSize, batchDefaults.ChunkSize)
	v.SetDefault(KeySelection, matchDefaults.Selection.String())
	v.SetDefault(KeyFuzzyThreshold, matchDefaults.FuzzyThreshold)
	v.SetDefault(KeyRecordUsage, true)
	v.SetDefault(KeySnapshotTTL, 30*time.Second)
	v.SetDefault(KeyCacheTTL, time.Hour)
	v.SetDefault(KeyHistoryConfidence, 100)
	v.SetDefault(KeyFallbackToNow, false)
	v.SetDefault(KeyParseConcurrency, 4)
}

// Load builds and validates the configuration from viper
func Load(v *viper.Viper) (*Config, error) {
	matching, err := CreateMatchingConfig(v.GetString(KeySelection), v.GetFloat64(KeyFuzzyThreshold), v.GetBool(KeyRecordUsage))
	if err != nil {
		return nil, err
	}
	matching.SnapshotTTL = v.GetDuration(KeySnapshotTTL)

	orchestrator := categorizer.DefaultConfig()
	if v.IsSet(SectionOrchestrator) {
		if err := v.UnmarshalKey(SectionOrchestrator, orchestrator); err != nil {
			return nil, fmt.Errorf("invalid %s section: %w", SectionOrchestrator, err)
		}
	}

	parser := parsers.DefaultParserConfig()
	if v.IsSet(SectionParser) {
		if err := v.UnmarshalKey(SectionParser, parser); err != nil {
			return nil, fmt.Errorf("invalid %s section: %w", SectionParser, err)
		}
	}
	if v.IsSet(KeyFallbackToNow) {
		parser.FallbackToNow = v.GetBool(KeyFallbackToNow)
	}

	cfg := &Config{
		Database:          v.GetString(KeyDatabase),
		Log:               CreateLoggerConfig(v.GetString(KeyLogLevel), v.GetString(KeyLogFormat), v.GetBool(KeyVerbose)),
		Parser:            parser,
		Matching:          matching,
		Categorizer:       orchestrator,
		Batch:             CreateBatchConfig(v.GetInt(KeyBatchSize), v.GetInt(KeyChunkSize)),
		Report:            CreateReportConfig(v.GetString(KeyOutputFormat)),
		CacheTTL:          v.GetDuration(KeyCacheTTL),
		HistoryConfidence: v.GetInt(KeyHistoryConfidence),
		ParseConcurrency:  v.GetInt(KeyParseConcurrency),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every component configuration and reports all problems at once
func (c *Config) Validate() error {
	var err error

	if strings.TrimSpace(c.Database) == "" {
		err = multierr.Append(err, fmt.Errorf("database path cannot be empty"))
	}
	if e := c.Log.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("invalid logging config: %w", e))
	}
	if e := c.Parser.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("invalid parser config: %w", e))
	}
	if e := c.Matching.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("invalid matching config: %w", e))
	}
	if e := c.Categorizer.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("invalid orchestrator config: %w", e))
	}
	if e := c.Batch.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("invalid batch config: %w", e))
	}
	if e := c.Report.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("invalid report config: %w", e))
	}
	if c.CacheTTL < 0 {
		err = multierr.Append(err, fmt.Errorf("cache TTL cannot be negative: %s", c.CacheTTL))
	}
	if c.HistoryConfidence < 0 || c.HistoryConfidence > 100 {
		err = multierr.Append(err, fmt.Errorf("history confidence must be between 0 and 100: %d", c.HistoryConfidence))
	}
	if c.ParseConcurrency < 1 {
		err = multierr.Append(err, fmt.Errorf("parse concurrency must be at least 1: %d", c.ParseConcurrency))
	}

	return err
}

// CreateLoggerConfig creates a logger configuration; verbose forces debug level
func CreateLoggerConfig(level, format string, verbose bool) *logger.Config {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(level))
	config.Format = logger.Format(strings.ToLower(format))
	if verbose {
		config.Level = logger.DebugLevel
	}
	return config
}

// CreateMatchingConfig creates a matching configuration with the CLI overrides
func CreateMatchingConfig(selection string, fuzzyThreshold float64, recordUsage bool) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()

	parsed, err := matcher.ParseSelection(selection)
	if err != nil {
		return nil, err
	}
	config.Selection = parsed

	if fuzzyThreshold > 0 {
		config.FuzzyThreshold = fuzzyThreshold
	}
	config.RecordUsage = recordUsage

	return config, nil
}

// CreateBatchConfig creates a batch configuration with the given sizes
func CreateBatchConfig(batchSize, chunkSize int) *batch.Config {
	config := batch.DefaultConfig()
	config.BatchSize = batchSize
	config.ChunkSize = chunkSize
	return config
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))

	switch config.Format {
	case reporter.FormatJSON:
		config.IncludeBatches = true
		config.IncludeRecords = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		config.IncludeRecords = true
	}

	return config
}
