package parsers

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// ConcurrentParser parses several statement files at once
type ConcurrentParser struct {
	parser         *StatementParser
	maxConcurrency int
}

// NewConcurrentParser creates a new concurrent parser
func NewConcurrentParser(parser *StatementParser, maxConcurrency int) *ConcurrentParser {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	return &ConcurrentParser{
		parser:         parser,
		maxConcurrency: maxConcurrency,
	}
}

// FileResult holds the outcome of parsing one file
type FileResult struct {
	FilePath  string
	Statement *Statement
	Error     error
}

// ParseFiles parses every file and returns results in input order. A failing file
// does not stop the others.
func (cp *ConcurrentParser) ParseFiles(ctx context.Context, paths []string) []FileResult {
	p := pool.New().WithMaxGoroutines(cp.maxConcurrency)

	results := make([]FileResult, len(paths))
	for i, path := range paths {
		p.Go(func() {
			stmt, err := cp.parser.ParseFile(ctx, path)
			results[i] = FileResult{FilePath: path, Statement: stmt, Error: err}
		})
	}
	p.Wait()

	return results
}
