// Package storage persists rules, categories, uploads, batches and categorized
// transactions in SQLite through GORM, and provides the history and cache
// classification sources backed by that data.
package storage

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"statement-categorization-service/pkg/errors"
	"statement-categorization-service/pkg/logger"
)

// Database wraps the GORM connection shared by all stores
type Database struct {
	db     *gorm.DB
	logger logger.Logger
}

// Options tune how the database is opened
type Options struct {
	// Debug logs every SQL statement
	Debug bool
}

// Open connects to the SQLite database at path and migrates the schema.
// The pool is limited to one connection so concurrent writers queue instead of
// failing with a locked database.
func Open(path string, opts ...Options) (*Database, error) {
	var options Options
	if len(opts) > 0 {
		options = opts[0]
	}

	level := gormlogger.Silent
	if options.Debug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "database", path, fmt.Errorf("failed to connect to database: %w", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeReadFailed, "database", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ruleRow{}, &categoryRow{}, &uploadRow{}, &batchRow{}, &recordRow{}); err != nil {
		return nil, errors.PersistenceError(errors.CodeWriteFailed, "schema", path, fmt.Errorf("failed to migrate schema: %w", err))
	}

	log := logger.WithComponent("storage")
	log.WithField("path", path).Debug("Database opened")

	return &Database{db: db, logger: log}, nil
}

// Close releases the underlying connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Rules returns the rule store
func (d *Database) Rules() *RuleStore {
	return &RuleStore{db: d.db}
}

// Categories returns the category store
func (d *Database) Categories() *CategoryStore {
	return &CategoryStore{db: d.db}
}

// Jobs returns the upload and batch store
func (d *Database) Jobs() *JobStore {
	return &JobStore{db: d.db}
}

// Records returns the transaction record store
func (d *Database) Records() *RecordStore {
	return &RecordStore{db: d.db}
}
