// Package stage runs one pipeline stage over an ordered strategy list.
// The first strategy is the primary; any later one that succeeds after the
// primary failed produces a degraded result with the earlier failures
// retained for observability.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"repolens/internal/analysis"
	"repolens/internal/errors"
	"repolens/internal/logging"
)

// Input is the uniform input of every stage strategy: the materialized
// repository plus its file inventory.
type Input struct {
	Repository       analysis.RepositoryRef
	LocalPath        string
	Files            []analysis.FileInfo
	MaxFileSizeBytes int64
}

// Strategy is one way of producing a stage's payload. Selection between
// strategies is purely a function of availability and success/failure.
type Strategy interface {
	// Name identifies the strategy in results and logs.
	Name() string

	// Available reports whether the strategy can run at all (tool present,
	// built in, index file exists). Unavailability counts as a failure for
	// fallback purposes.
	Available(in Input) bool

	// Run produces the stage payload. Any non-nil error triggers fallback.
	Run(ctx context.Context, in Input) (json.RawMessage, error)
}

// Executor runs one named stage with its configured strategy order.
type Executor struct {
	stage      string
	strategies []Strategy
	required   bool
	timeout    time.Duration
	logger     *logging.Logger
}

// NewExecutor creates a stage executor. The strategy order is fixed at
// construction; the first entry is the primary.
func NewExecutor(stageName string, required bool, timeout time.Duration, logger *logging.Logger, strategies ...Strategy) *Executor {
	return &Executor{
		stage:      stageName,
		strategies: strategies,
		required:   required,
		timeout:    timeout,
		logger:     logger.Component("stage." + stageName),
	}
}

// Name returns the stage name.
func (e *Executor) Name() string { return e.stage }

// Required reports whether a failed run fails the owning job.
func (e *Executor) Required() bool { return e.required }

// Run executes the strategy list in order and returns exactly one
// StageResult. It never returns an error: every failure mode is encoded
// in the result so sibling stages keep running.
func (e *Executor) Run(parent context.Context, in Input) analysis.StageResult {
	start := time.Now()
	ctx := parent
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.timeout)
		defer cancel()
	}

	var failures []string

	for i, strat := range e.strategies {
		if err := ctx.Err(); err != nil {
			// The stage's own deadline expiring is a stage failure; only a
			// dead parent context means the job was cancelled.
			code, msg := errors.StageFailed, "stage timed out"
			if parent.Err() != nil {
				code, msg = errors.JobCancelled, "stage interrupted"
			}
			failures = append(failures, fmt.Sprintf("%s: %v", strat.Name(), errors.Wrap(code, msg, err)))
			break
		}

		if !strat.Available(in) {
			err := errors.New(errors.ToolUnavailable, strat.Name()+" is not available")
			failures = append(failures, err.Error())
			e.logger.Debug("Strategy unavailable", map[string]interface{}{
				"strategy": strat.Name(),
			})
			continue
		}

		payload, err := strat.Run(ctx, in)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", strat.Name(), err))
			e.logger.Warn("Strategy failed", map[string]interface{}{
				"strategy": strat.Name(),
				"error":    err.Error(),
			})
			continue
		}

		result := analysis.StageResult{
			Stage:        e.stage,
			Strategy:     strat.Name(),
			StrategyUsed: analysis.StrategyPrimary,
			Status:       analysis.StageSuccess,
			Payload:      payload,
			DurationMs:   time.Since(start).Milliseconds(),
		}
		if i > 0 {
			// A non-primary strategy succeeded: degraded result, and the
			// primary's failure reason stays visible.
			result.StrategyUsed = analysis.StrategyFallback
			result.Status = analysis.StageDegraded
			result.ErrorDetail = strings.Join(failures, "; ")
		}

		e.logger.Info("Stage finished", map[string]interface{}{
			"strategy": strat.Name(),
			"status":   result.Status,
			"duration": time.Since(start).String(),
		})
		return result
	}

	detail := strings.Join(failures, "; ")
	if detail == "" {
		detail = "no strategies configured"
	}

	e.logger.Error("Stage failed", map[string]interface{}{
		"failures": detail,
	})

	return analysis.StageResult{
		Stage:       e.stage,
		Status:      analysis.StageFailed,
		ErrorDetail: detail,
		DurationMs:  time.Since(start).Milliseconds(),
	}
}
