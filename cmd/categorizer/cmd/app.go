package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"statement-categorization-service/cmd/categorizer/config"
	"statement-categorization-service/internal/batch"
	"statement-categorization-service/internal/categorizer"
	"statement-categorization-service/internal/matcher"
	"statement-categorization-service/internal/parsers"
	"statement-categorization-service/internal/reporter"
	"statement-categorization-service/internal/rules"
	"statement-categorization-service/internal/storage"
	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// app holds the components shared by every command
type app struct {
	config    *config.Config
	logger    logger.Logger
	db        *storage.Database
	engine    *matcher.Engine
	rules     *rules.Service
	processor *batch.Processor
	parser    *parsers.StatementParser
	reports   *reporter.SafeReportGenerator
	out       io.Writer
}

// newApp loads the configuration, installs the global logger and wires storage,
// matching, categorization and batch processing together
func newApp(v *viper.Viper, out io.Writer) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "cli", FormatValidationErrors(multierr.Errors(err)), err).
			WithSuggestion("Check the command-line flags and the configuration file")
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "logging", cfg.Log, err)
	}
	logger.SetGlobalLogger(log)

	var db *storage.Database
	err = logger.TimedOperation("open_database", log.WithField("path", cfg.Database), func() error {
		var openErr error
		db, openErr = storage.Open(cfg.Database, storage.Options{Debug: cfg.Log.Level == logger.DebugLevel})
		return openErr
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		config: cfg,
		logger: log.WithComponent("cli"),
		db:     db,
		out:    out,
	}
	if err := a.wire(v.GetBool(config.KeyVerbose)); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(showProgress bool) error {
	engine, err := matcher.NewEngine(a.db.Rules(), a.config.Matching)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", a.config.Matching, err)
	}
	a.engine = engine

	a.rules = rules.NewService(a.db.Rules(), a.db.Categories(), a.config.Matching)
	a.rules.OnChange(engine.Invalidate)

	orchestrator := categorizer.NewOrchestrator(a.config.Categorizer, categorizer.Sources{
		History: storage.NewHistoryClassifier(a.db, a.config.HistoryConfidence),
		Cache:   storage.NewDecisionCache(a.config.CacheTTL),
		Rules:   categorizer.NewRuleClassifier(engine, a.db.Categories()),
	})

	processor, err := batch.NewProcessor(a.db.Jobs(), a.db.Records(), orchestrator, a.config.Batch)
	if err != nil {
		return err
	}
	if showProgress {
		processor.AddProgressCallback(printProgress)
	}
	a.processor = processor

	parser, err := parsers.NewStatementParser(a.config.Parser)
	if err != nil {
		return err
	}
	a.parser = parser

	reports, err := reporter.NewSafeReportGenerator(a.config.Report, a.logger)
	if err != nil {
		return err
	}
	a.reports = reports

	return nil
}

// Close releases the database
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}

func printProgress(progress batch.Progress) {
	fmt.Fprintf(os.Stderr, "\rProcessing: batch %d/%d, %d/%d transactions (%.1f%%)",
		progress.CurrentBatch, progress.TotalBatches,
		progress.ProcessedTransactions, progress.TotalTransactions, progress.Percentage)
	if progress.ProcessedTransactions >= progress.TotalTransactions {
		fmt.Fprintln(os.Stderr)
	}
}
