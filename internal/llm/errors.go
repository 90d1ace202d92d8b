package llm

import (
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrEmptyTopic   = errors.New("topic is required")
	ErrNoAssistant  = errors.New("assistant has not been created")
	ErrNoThread     = errors.New("thread has not been created")
	ErrNoRun        = errors.New("no run has been started")
	ErrRunActive    = errors.New("a run is already active for this session")
	ErrRunTimedOut  = errors.New("run timed out")
	ErrRunFailed    = errors.New("run failed")
	ErrRunExpired   = errors.New("run expired")
	ErrRunCancelled = errors.New("run cancelled")
	ErrNoResponse   = errors.New("thread has no text response")
)

const runStatusIncomplete openai.RunStatus = "incomplete"

// RunError reports a run that reached a terminal state other than completed.
type RunError struct {
	RunID   string
	Status  openai.RunStatus
	Message string
}

func newRunError(run openai.Run) *RunError {
	e := &RunError{RunID: run.ID, Status: run.Status}
	if run.LastError != nil {
		e.Message = run.LastError.Message
	}
	return e
}

func (e *RunError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("run %s %s: %s", e.RunID, e.Status, e.Message)
	}
	return fmt.Sprintf("run %s %s", e.RunID, e.Status)
}

func (e *RunError) Is(target error) bool {
	switch e.Status {
	case openai.RunStatusExpired:
		return target == ErrRunExpired
	case openai.RunStatusCancelled:
		return target == ErrRunCancelled
	default:
		return target == ErrRunFailed
	}
}
