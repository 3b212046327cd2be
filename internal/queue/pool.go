package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/models"
	"github.com/ternarybob/payrun/internal/orchestrator"
	"golang.org/x/time/rate"
)

// TaskRunner executes one test case and returns its report row
type TaskRunner interface {
	Run(ctx context.Context, task orchestrator.Task) *models.TaskResult
}

// Config bounds the pool
type Config struct {
	Concurrency  int     // simultaneous test cases (browser sessions, encoders, file handles)
	DispatchRate float64 // task starts per second; 0 = unlimited
}

// Pool runs test cases on a fixed number of workers. Tasks are dispatched in
// submission order; completion order is unspecified. A failing or panicking
// task never stops the others.
type Pool struct {
	runner  TaskRunner
	config  Config
	logger  arbor.ILogger
	limiter *rate.Limiter
}

// NewPool creates a pool
func NewPool(runner TaskRunner, config Config, logger arbor.ILogger) *Pool {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.DispatchRate), 1)
	}
	return &Pool{
		runner:  runner,
		config:  config,
		logger:  logger,
		limiter: limiter,
	}
}

type job struct {
	index int
	task  orchestrator.Task
}

// Run executes every task and returns one result per task, in submission order.
// Tasks not started before ctx is cancelled get a CANCELLED result.
func (p *Pool) Run(ctx context.Context, tasks []orchestrator.Task) []*models.TaskResult {
	results := make([]*models.TaskResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	workers := p.config.Concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}

	p.logger.Info().
		Int("tasks", len(tasks)).
		Int("workers", workers).
		Msg("Starting worker pool")

	jobs := make(chan job)
	var completed int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = p.execute(ctx, workerID, j)
				done := atomic.AddInt64(&completed, 1)
				p.logger.Info().
					Str("test_case", j.task.TestCase.ID).
					Str("status", results[j.index].Status).
					Int64("completed", done).
					Int("total", len(tasks)).
					Msg("Test case completed")
			}
		}(w)
	}

	dispatched := 0
	for i, task := range tasks {
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		select {
		case jobs <- job{index: i, task: task}:
			dispatched++
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	for i, r := range results {
		if r == nil {
			results[i] = notStarted(tasks[i], ctx.Err())
		}
	}

	if dispatched < len(tasks) {
		p.logger.Warn().
			Int("dispatched", dispatched).
			Int("total", len(tasks)).
			Msg("Worker pool stopped before every task started")
	}
	return results
}

// execute runs one task, converting a panic or a missing row into a result
func (p *Pool) execute(ctx context.Context, workerID int, j job) (result *models.TaskResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", workerID).
				Str("test_case", j.task.TestCase.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in worker")
			result = failedResult(j.task, started, models.StatusPanic, fmt.Sprintf("panic: %v", r))
		}
	}()

	result = p.runner.Run(ctx, j.task)
	if result == nil {
		result = failedResult(j.task, started, models.StatusFailed, "runner returned no result")
	}
	return result
}

func notStarted(task orchestrator.Task, cause error) *models.TaskResult {
	reason := "not started"
	if cause != nil {
		reason = "not started: " + cause.Error()
	}
	return failedResult(task, time.Now(), models.StatusCancelled, reason)
}

func failedResult(task orchestrator.Task, started time.Time, status, reason string) *models.TaskResult {
	now := time.Now()
	return &models.TaskResult{
		Key:         task.RunID + "/" + task.TestCase.ID,
		TestCaseID:  task.TestCase.ID,
		RunID:       task.RunID,
		Category:    task.Category(),
		Status:      status,
		Reason:      reason,
		StartedAt:   started,
		CompletedAt: now,
		Duration:    now.Sub(started),
		Directory:   task.Directory(),
	}
}

// Summary aggregates a run's results
type Summary struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	ByStatus map[string]int `json:"by_status"`
	Videos   int            `json:"videos"`
	Duration time.Duration  `json:"duration"`
}

// Summarize counts results by outcome
func Summarize(results []*models.TaskResult) Summary {
	s := Summary{ByStatus: make(map[string]int)}
	var first, last time.Time
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Total++
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		s.ByStatus[r.Status]++
		if r.VideoOK {
			s.Videos++
		}
		if first.IsZero() || r.StartedAt.Before(first) {
			first = r.StartedAt
		}
		if r.CompletedAt.After(last) {
			last = r.CompletedAt
		}
	}
	if !first.IsZero() {
		s.Duration = last.Sub(first)
	}
	return s
}

// Statuses returns the statuses present in the summary, sorted
func (s Summary) Statuses() []string {
	out := make([]string, 0, len(s.ByStatus))
	for status := range s.ByStatus {
		out = append(out, status)
	}
	sort.Strings(out)
	return out
}

// LogSummary writes the summary with the process logger
func LogSummary(logger arbor.ILogger, s Summary) {
	event := logger.Info()
	if s.Failed > 0 {
		event = logger.Warn()
	}
	for _, status := range s.Statuses() {
		event = event.Int(status, s.ByStatus[status])
	}
	event.
		Int("total", s.Total).
		Int("passed", s.Passed).
		Int("failed", s.Failed).
		Int("videos", s.Videos).
		Dur("duration", s.Duration).
		Msg("Run complete")
}
