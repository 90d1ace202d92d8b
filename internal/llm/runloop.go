package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/newsdigest/internal/metrics"
	"github.com/RichardoC/newsdigest/internal/tools"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultRunTimeout   = 3 * time.Minute

	cancelRunTimeout = 10 * time.Second
)

// Dispatcher resolves one tool call by name.
type Dispatcher interface {
	Has(name string) bool
	Dispatch(ctx context.Context, name, argsJSON string) (string, error)
}

// RunLoop drives a run from creation to a terminal state, answering
// requires_action episodes with one batch of tool outputs each.
type RunLoop struct {
	api        AssistantAPI
	dispatcher Dispatcher
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewRunLoop(api AssistantAPI, dispatcher Dispatcher, interval, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *RunLoop {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLoop{
		api:        api,
		dispatcher: dispatcher,
		interval:   interval,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
	}
}

// Wait polls the run every interval until it completes, fails, or the
// timeout or caller cancellation ends the wait. The returned run is the last
// state observed.
func (l *RunLoop) Wait(ctx context.Context, threadID, runID string) (openai.Run, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeoutCause(ctx, l.timeout, ErrRunTimedOut)
	defer cancel()

	log := l.logger.With(zap.String("thread_id", threadID), zap.String("run_id", runID))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var last openai.Run
	submitted := make(map[string]bool)
	for {
		select {
		case <-waitCtx.Done():
			return last, l.abort(waitCtx, threadID, runID, start, context.Cause(waitCtx))
		case <-ticker.C:
		}

		run, err := l.api.RetrieveRun(waitCtx, threadID, runID)
		if err != nil {
			if waitCtx.Err() != nil {
				return last, l.abort(waitCtx, threadID, runID, start, context.Cause(waitCtx))
			}
			return last, l.abort(waitCtx, threadID, runID, start, fmt.Errorf("failed to retrieve run %s: %w", runID, err))
		}
		last = run
		log.Debug("run status", zap.String("status", string(run.Status)))

		switch run.Status {
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			continue

		case openai.RunStatusRequiresAction:
			log.Info("run requires action")
			if err := l.resolve(waitCtx, threadID, run, submitted); err != nil {
				if waitCtx.Err() != nil {
					return last, l.abort(waitCtx, threadID, runID, start, context.Cause(waitCtx))
				}
				return last, l.abort(waitCtx, threadID, runID, start, err)
			}

		case openai.RunStatusCompleted:
			l.metrics.ObserveRun(string(run.Status), time.Since(start))
			log.Info("run completed", zap.Duration("elapsed", time.Since(start)))
			return run, nil

		case openai.RunStatusFailed, openai.RunStatusExpired, openai.RunStatusCancelled, runStatusIncomplete:
			l.metrics.ObserveRun(string(run.Status), time.Since(start))
			runErr := newRunError(run)
			log.Warn("run ended without completing", zap.Error(runErr))
			return run, runErr

		default:
			return run, l.abort(waitCtx, threadID, runID, start, fmt.Errorf("run %s has unexpected status %q", runID, run.Status))
		}
	}
}

// resolve dispatches every pending tool call and submits all outputs in one
// request. Nothing is submitted unless every call resolved. Calls already in
// submitted are skipped, so a poll that still shows the previous
// requires_action payload does not produce a second batch.
func (l *RunLoop) resolve(ctx context.Context, threadID string, run openai.Run, submitted map[string]bool) error {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil ||
		len(run.RequiredAction.SubmitToolOutputs.ToolCalls) == 0 {
		return fmt.Errorf("run %s requires action but names no tool calls", run.ID)
	}
	calls := make([]openai.ToolCall, 0, len(run.RequiredAction.SubmitToolOutputs.ToolCalls))
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		if !submitted[call.ID] {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		l.logger.Debug("tool outputs already submitted", zap.String("run_id", run.ID))
		return nil
	}

	for _, call := range calls {
		if !l.dispatcher.Has(call.Function.Name) {
			return &tools.UnknownToolError{Name: call.Function.Name}
		}
	}

	outputs := make([]openai.ToolOutput, 0, len(calls))
	for _, call := range calls {
		out, err := l.dispatcher.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
		if err != nil {
			return fmt.Errorf("failed to resolve tool call %s: %w", call.ID, err)
		}
		outputs = append(outputs, openai.ToolOutput{ToolCallID: call.ID, Output: out})
	}

	l.logger.Info("submitting tool outputs",
		zap.String("run_id", run.ID),
		zap.Int("outputs", len(outputs)))
	if _, err := l.api.SubmitToolOutputs(ctx, threadID, run.ID, openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	}); err != nil {
		return fmt.Errorf("failed to submit tool outputs for run %s: %w", run.ID, err)
	}
	for _, call := range calls {
		submitted[call.ID] = true
	}
	return nil
}

// abort cancels the remote run so the thread accepts new messages, then
// returns cause. The cancel request runs detached from ctx, which is usually
// already done at this point.
func (l *RunLoop) abort(ctx context.Context, threadID, runID string, start time.Time, cause error) error {
	status := "aborted"
	if errors.Is(cause, ErrRunTimedOut) {
		status = "timed_out"
		cause = fmt.Errorf("run %s: %w after %s", runID, ErrRunTimedOut, l.timeout)
	}
	l.metrics.ObserveRun(status, time.Since(start))

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelRunTimeout)
	defer cancel()
	if _, err := l.api.CancelRun(cancelCtx, threadID, runID); err != nil {
		l.logger.Warn("failed to cancel run",
			zap.String("thread_id", threadID),
			zap.String("run_id", runID),
			zap.Error(err))
	}

	l.logger.Warn("run aborted",
		zap.String("thread_id", threadID),
		zap.String("run_id", runID),
		zap.Error(cause))
	return cause
}
