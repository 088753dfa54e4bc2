// Package runs executes a processor's published playbook against an
// uploaded document on a bounded worker pool.
package runs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"validai/api/internal/metrics"
	"validai/api/internal/store"
)

// Terminal run statuses.
const (
	StatusCompleted  = "completed"
	StatusWithErrors = "completed_with_errors"
	StatusFailed     = "failed"
)

// RunStore is the persistence surface the engine needs.
type RunStore interface {
	MarkRunStarted(ctx context.Context, runID string) error
	MarkRunCompleted(ctx context.Context, runID, status string) error
	IncrementRunProgress(ctx context.Context, runID string, failed bool) error
	InsertOperationResult(ctx context.Context, result store.OperationResult) (store.OperationResult, error)
}

// DocumentSource fetches document bytes by storage path.
type DocumentSource interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// OperationExecutor evaluates one playbook operation against document text.
type OperationExecutor interface {
	Execute(ctx context.Context, op store.PlaybookOperation, document []byte) (string, error)
}

// Engine runs playbooks on a bounded worker pool. Operations within a run
// execute sequentially in playbook order; a failed operation is recorded
// and the run continues.
type Engine struct {
	pool     *pond.WorkerPool
	store    RunStore
	blobs    DocumentSource
	executor OperationExecutor
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// Config controls the worker pool.
type Config struct {
	Workers  int
	QueueLen int
}

func New(cfg Config, runStore RunStore, blobs DocumentSource, executor OperationExecutor, log zerolog.Logger, m *metrics.Metrics) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueLen := cfg.QueueLen
	if queueLen <= 0 {
		queueLen = 64
	}
	return &Engine{
		pool:     pond.New(workers, queueLen),
		store:    runStore,
		blobs:    blobs,
		executor: executor,
		log:      log,
		metrics:  m,
	}
}

// Enqueue schedules a run for execution and returns immediately.
func (e *Engine) Enqueue(run store.Run, document store.Document, config store.PlaybookConfig) {
	e.pool.Submit(func() {
		e.execute(run, document, config)
	})
}

// Stop drains the queue and waits for in-flight runs to finish.
func (e *Engine) Stop() {
	e.pool.StopAndWait()
}

func (e *Engine) execute(run store.Run, document store.Document, config store.PlaybookConfig) {
	ctx := context.Background()
	log := e.log.With().Str("run_id", run.ID).Str("processor_id", run.ProcessorID).Logger()

	e.metrics.RunsStarted.Inc()
	e.metrics.RunsInFlight.Inc()
	defer e.metrics.RunsInFlight.Dec()

	if err := e.storeCall("mark_run_started", func() error {
		return e.store.MarkRunStarted(ctx, run.ID)
	}); err != nil {
		log.Error().Err(err).Msg("mark run started")
	}

	text, err := e.loadDocument(ctx, document)
	if err != nil {
		log.Error().Err(err).Msg("load document")
		if err := e.storeCall("mark_run_completed", func() error {
			return e.store.MarkRunCompleted(ctx, run.ID, StatusFailed)
		}); err != nil {
			log.Error().Err(err).Msg("mark run failed")
		}
		e.metrics.RunsCompleted.WithLabelValues(StatusFailed).Inc()
		return
	}

	// Areas run in display order, operations within an area by position.
	areaRank := make(map[string]int, len(config.Areas))
	for _, area := range config.Areas {
		areaRank[area.Name] = area.DisplayOrder
	}
	ordered := make([]store.PlaybookOperation, len(config.Operations))
	copy(ordered, config.Operations)
	sort.SliceStable(ordered, func(i, j int) bool {
		if areaRank[ordered[i].Area] != areaRank[ordered[j].Area] {
			return areaRank[ordered[i].Area] < areaRank[ordered[j].Area]
		}
		return ordered[i].Position < ordered[j].Position
	})

	failures := 0
	for _, op := range ordered {
		output, opErr := e.executor.Execute(ctx, op, text)

		result := store.OperationResult{
			ID:            uuid.NewString(),
			RunID:         run.ID,
			OperationID:   op.ID,
			OperationName: op.Name,
			OperationType: op.OperationType,
			Status:        "completed",
			Output:        output,
		}
		if opErr != nil {
			result.Status = "failed"
			result.ErrorMessage = opErr.Error()
			failures++
		}
		if err := e.storeCall("insert_operation_result", func() error {
			_, err := e.store.InsertOperationResult(ctx, result)
			return err
		}); err != nil {
			log.Error().Err(err).Str("operation_id", op.ID).Msg("record operation result")
		}
		if err := e.storeCall("increment_run_progress", func() error {
			return e.store.IncrementRunProgress(ctx, run.ID, opErr != nil)
		}); err != nil {
			log.Error().Err(err).Str("operation_id", op.ID).Msg("update run progress")
		}
		e.metrics.OperationsTotal.WithLabelValues(result.Status).Inc()
	}

	status := StatusCompleted
	if failures > 0 {
		status = StatusWithErrors
	}
	if err := e.storeCall("mark_run_completed", func() error {
		return e.store.MarkRunCompleted(ctx, run.ID, status)
	}); err != nil {
		log.Error().Err(err).Msg("mark run completed")
	}
	e.metrics.RunsCompleted.WithLabelValues(status).Inc()
	log.Info().Int("operations", len(ordered)).Int("failed", failures).Str("status", status).Msg("run finished")
}

// storeCall times a persistence call and records its outcome.
func (e *Engine) storeCall(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	e.metrics.RecordStoreOperation(operation, err, time.Since(start))
	return err
}

func (e *Engine) loadDocument(ctx context.Context, document store.Document) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reader, err := e.blobs.Get(ctx, document.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", document.ID, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", document.ID, err)
	}
	return data, nil
}

// KeywordExecutor is the built-in executor. It evaluates an operation by
// checking the document text for the terms named in the prompt.
type KeywordExecutor struct{}

func (KeywordExecutor) Execute(ctx context.Context, op store.PlaybookOperation, document []byte) (string, error) {
	prompt := strings.TrimSpace(op.Prompt)
	if prompt == "" {
		return "", fmt.Errorf("operation %s has no prompt", op.ID)
	}

	text := strings.ToLower(string(document))
	terms := strings.Fields(strings.ToLower(prompt))

	matched := make([]string, 0, len(terms))
	for _, term := range terms {
		if strings.Contains(text, term) {
			matched = append(matched, term)
		}
	}

	switch op.OperationType {
	case "validation":
		if len(matched) < len(terms) {
			return "", fmt.Errorf("validation failed: %d of %d terms found", len(matched), len(terms))
		}
		return fmt.Sprintf("all %d terms present", len(terms)), nil
	default:
		if len(matched) == 0 {
			return "no matching content found", nil
		}
		return fmt.Sprintf("matched terms: %s", strings.Join(matched, ", ")), nil
	}
}
