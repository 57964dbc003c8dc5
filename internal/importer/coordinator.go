package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/repository"
	"github.com/caseworks/leximport/internal/validation"
)

const (
	// DefaultBatchSize is a fixed chunk size; it never derives from row content.
	DefaultBatchSize = 50
	// DefaultConcurrency bounds in-flight batches so the store is not
	// overwhelmed by a single large file.
	DefaultConcurrency = 3
)

// RowWriter applies one validated row to the store. A returned error wrapping
// repository.ErrUnavailable aborts the batch for retry; any other error is
// recorded against the row and processing continues.
type RowWriter func(ctx context.Context, row validation.ParsedRow) error

// BatchCallback fires after each batch folds in, carrying the batch result
// plus the rows processed so far and the job total.
type BatchCallback func(result domain.BatchResult, processed, total int)

// Outcome aggregates every batch of one job. Counters are plain sums, so they
// are independent of batch completion order.
type Outcome struct {
	Processed int
	Succeeded int
	Errors    []domain.RowDiagnostic
	Batches   []domain.BatchResult
	Cancelled bool
}

// Coordinator partitions validated rows into fixed-size batches and executes
// them under a bounded concurrency limit with per-batch retry.
type Coordinator struct {
	batchSize   int
	concurrency int64
	retry       RetryPolicy
}

// NewCoordinator applies defaults for out-of-range tunables.
func NewCoordinator(batchSize, concurrency int, retry RetryPolicy) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Coordinator{
		batchSize:   batchSize,
		concurrency: int64(concurrency),
		retry:       retry,
	}
}

// Run processes all rows and returns the folded outcome. Batches are
// dispatched in deterministic chunk order; completion order is not guaranteed,
// so results carry their batch index and are folded FIFO at the end. A context
// cancellation is honoured between batch dispatches: remaining batches are
// recorded as failures and Cancelled is set.
func (c *Coordinator) Run(ctx context.Context, rows []validation.ParsedRow, write RowWriter, onBatch BatchCallback) Outcome {
	total := len(rows)
	if total == 0 {
		return Outcome{}
	}

	batches := chunkRows(rows, c.batchSize)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		results   = make([]domain.BatchResult, 0, len(batches))
		processed int
		cancelled bool
	)

	sem := semaphore.NewWeighted(c.concurrency)

	for idx, batch := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled mid-job: everything not yet dispatched is a
			// cancellation failure.
			mu.Lock()
			cancelled = true
			results = append(results, cancelledResult(idx, batch))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(batchIndex int, batchRows []validation.ParsedRow) {
			defer wg.Done()
			defer sem.Release(1)

			result := c.executeBatch(ctx, batchIndex, batchRows, write)

			mu.Lock()
			results = append(results, result)
			processed += result.Attempted
			soFar := processed
			mu.Unlock()

			if onBatch != nil {
				onBatch(result, soFar, total)
			}
		}(idx, batch)
	}

	wg.Wait()

	// Fold in FIFO submission order regardless of completion order.
	sort.Slice(results, func(i, j int) bool {
		return results[i].BatchIndex < results[j].BatchIndex
	})

	outcome := Outcome{Batches: results, Cancelled: cancelled}
	for _, result := range results {
		outcome.Processed += result.Attempted
		outcome.Succeeded += result.Succeeded
		outcome.Errors = append(outcome.Errors, result.Errors...)
	}
	return outcome
}

// executeBatch runs one batch's rows sequentially, recording row failures
// without aborting the batch. A store-unavailable error aborts the batch and
// is retried with backoff; once attempts are exhausted every row in the batch
// counts as failed.
func (c *Coordinator) executeBatch(ctx context.Context, batchIndex int, rows []validation.ParsedRow, write RowWriter) domain.BatchResult {
	start := time.Now()

	var (
		succeeded int
		rowErrors []domain.RowDiagnostic
	)

	batchErr := c.retry.Do(ctx, func() error {
		succeeded = 0
		rowErrors = rowErrors[:0]

		for _, row := range rows {
			err := write(ctx, row)
			if err == nil {
				succeeded++
				continue
			}
			if errors.Is(err, repository.ErrUnavailable) {
				return err
			}
			rowErrors = append(rowErrors, domain.RowDiagnostic{
				Row:       row.RowNumber,
				Field:     validation.ColumnReference,
				Value:     row.Reference.String(),
				Message:   err.Error(),
				Severity:  domain.SeverityError,
				Timestamp: time.Now(),
			})
		}
		return nil
	})

	if batchErr != nil {
		return domain.BatchResult{
			BatchIndex: batchIndex,
			Attempted:  len(rows),
			Succeeded:  0,
			Errors:     batchFailureDiagnostics(rows, fmt.Sprintf("batch %d failed: %v", batchIndex, batchErr)),
			Elapsed:    time.Since(start),
		}
	}

	return domain.BatchResult{
		BatchIndex: batchIndex,
		Attempted:  len(rows),
		Succeeded:  succeeded,
		Errors:     rowErrors,
		Elapsed:    time.Since(start),
	}
}

func chunkRows(rows []validation.ParsedRow, size int) [][]validation.ParsedRow {
	var chunks [][]validation.ParsedRow
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

func cancelledResult(batchIndex int, rows []validation.ParsedRow) domain.BatchResult {
	return domain.BatchResult{
		BatchIndex: batchIndex,
		Attempted:  len(rows),
		Errors:     batchFailureDiagnostics(rows, "import cancelled before batch dispatch"),
	}
}

func batchFailureDiagnostics(rows []validation.ParsedRow, message string) []domain.RowDiagnostic {
	diags := make([]domain.RowDiagnostic, len(rows))
	for i, row := range rows {
		diags[i] = domain.RowDiagnostic{
			Row:       row.RowNumber,
			Message:   message,
			Severity:  domain.SeverityError,
			Timestamp: time.Now(),
		}
	}
	return diags
}
