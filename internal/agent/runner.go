package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
)

// Runner supervises a single agent invocation: it races the call against the
// agent's own deadline and re-invokes on retryable failures up to the
// agent's retry budget. Nothing escapes the Run boundary as an error; every
// failure folds into a Result with Success=false.
type Runner struct {
	retry resilience.RetryConfig
}

// NewRunner creates a Runner. The retry config supplies backoff shape; the
// per-agent attempt budget always comes from the agent's definition.
func NewRunner(retry resilience.RetryConfig) *Runner {
	return &Runner{retry: retry}
}

// Run executes one agent under supervision and always returns a Result.
// Cost and execution time accumulate across retries.
func (r *Runner) Run(ctx context.Context, ag Agent, ec *model.ExecContext) *model.AgentResult {
	def := ag.Definition()
	log := zap.L().With(zap.String("agent", string(def.ID)))

	start := time.Now()
	result := &model.AgentResult{AgentID: def.ID}

	cfg := r.retry.WithMaxAttempts(def.MaxRetries + 1)
	cfg.OnRetry = resilience.RetryLogger(string(def.ID))

	out, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Output, error) {
		result.Attempts++
		o, attemptErr := invokeWithDeadline(ctx, ag, ec, def)
		if o != nil {
			result.CostUSD += o.CostUSD
			result.Usage.Add(o.Usage)
		}
		return o, attemptErr
	})

	result.ExecutionTime = time.Since(start)

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.TimedOut = resilience.IsTimeout(err)
		log.Warn("agent failed",
			zap.Int("attempts", result.Attempts),
			zap.Duration("elapsed", result.ExecutionTime),
			zap.Error(err),
		)
		return result
	}

	result.Success = true
	result.Data = out.Data
	result.Warning = out.Warning
	log.Info("agent complete",
		zap.Int("attempts", result.Attempts),
		zap.Duration("elapsed", result.ExecutionTime),
		zap.Float64("cost_usd", result.CostUSD),
	)
	return result
}

// invokeWithDeadline races one agent call against its declared timeout. When
// the timer fires first the attempt fails with a TimeoutError, but the
// in-flight call is abandoned, not cancelled: it keeps running on the parent
// context and its eventual result is discarded. The agent's own deadline
// must therefore stay strictly shorter than any caller-side guard.
func invokeWithDeadline(ctx context.Context, ag Agent, ec *model.ExecContext, def model.AgentDefinition) (*Output, error) {
	type settled struct {
		out *Output
		err error
	}

	// Buffered so the orphaned goroutine can settle and exit after a timeout.
	ch := make(chan settled, 1)
	go func() {
		out, err := ag.Run(ctx, ec)
		ch <- settled{out: out, err: err}
	}()

	timer := time.NewTimer(def.Timeout)
	defer timer.Stop()

	select {
	case s := <-ch:
		return s.out, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &resilience.TimeoutError{
			Agent:   string(def.ID),
			Elapsed: def.Timeout.String(),
		}
	}
}
