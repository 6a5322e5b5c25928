package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// Researcher runs one research session for a query
type Researcher interface {
	Research(ctx context.Context, query string) (*model.ResearchSession, error)
}

// QueryJob is one batch entry
type QueryJob struct {
	Index      int
	Query      string
	Researcher Researcher
}

// Execute runs the research session for the job's query
func (j *QueryJob) Execute(ctx context.Context) Result {
	session, err := j.Researcher.Research(ctx, j.Query)
	return &QueryResult{
		Index:   j.Index,
		Query:   j.Query,
		Session: session,
		Error:   err,
	}
}

// QueryResult is the outcome of one batch entry
type QueryResult struct {
	Index   int
	Query   string
	Session *model.ResearchSession
	Error   error
}

// GetError returns the error from the research run
func (r *QueryResult) GetError() error {
	return r.Error
}

// BatchProcessor runs many research queries with bounded concurrency
type BatchProcessor struct {
	researcher  Researcher
	concurrency int
}

// NewBatchProcessor creates a batch processor
func NewBatchProcessor(researcher Researcher, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		researcher:  researcher,
		concurrency: concurrency,
	}
}

// ProcessQueries runs every query and returns results in input order
func (b *BatchProcessor) ProcessQueries(ctx context.Context, queries []string) []*QueryResult {
	if len(queries) == 0 {
		return []*QueryResult{}
	}

	pool := NewPoolWithContext(ctx, b.concurrency)
	pool.Start()

	for i, q := range queries {
		pool.Submit(&QueryJob{Index: i, Query: q, Researcher: b.researcher})
	}

	ordered := make([]*QueryResult, len(queries))
	for _, r := range pool.Wait() {
		qr := r.(*QueryResult)
		ordered[qr.Index] = qr
	}

	// Jobs dropped by cancellation still get an entry
	for i, qr := range ordered {
		if qr == nil {
			ordered[i] = &QueryResult{Index: i, Query: queries[i], Error: ctx.Err()}
		}
	}

	return ordered
}

// ProcessFile reads queries from a file and runs them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*QueryResult, error) {
	queries, err := ReadQueriesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}

	return b.ProcessQueries(ctx, queries), nil
}

// ReadQueriesFromFile reads one query per line, skipping blanks, "#"
// comments and duplicates
func ReadQueriesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var queries []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			queries = append(queries, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return queries, nil
}
