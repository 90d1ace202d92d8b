package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/RichardoC/newsdigest/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

// fakeAssistantAPI scripts run statuses per created run and records every
// mutating call.
type fakeAssistantAPI struct {
	mu sync.Mutex

	plans    [][]openai.Run
	queues   map[string][]openai.Run
	runCount int

	assistants  []openai.AssistantRequest
	threads     int
	messages    []openai.MessageRequest
	runs        []openai.RunRequest
	retrieves   int
	submissions [][]openai.ToolOutput
	cancelled   []string

	reply string
	steps []openai.RunStep

	createRunErr error
	retrieveErr  error
}

func newFakeAPI(plans ...[]openai.Run) *fakeAssistantAPI {
	return &fakeAssistantAPI{plans: plans, queues: map[string][]openai.Run{}, reply: "Here is your summary."}
}

func (f *fakeAssistantAPI) CreateAssistant(_ context.Context, req openai.AssistantRequest) (openai.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistants = append(f.assistants, req)
	return openai.Assistant{ID: fmt.Sprintf("asst_%d", len(f.assistants))}, nil
}

func (f *fakeAssistantAPI) CreateThread(_ context.Context, _ openai.ThreadRequest) (openai.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return openai.Thread{ID: fmt.Sprintf("thread_%d", f.threads)}, nil
}

func (f *fakeAssistantAPI) CreateMessage(_ context.Context, _ string, req openai.MessageRequest) (openai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, req)
	return openai.Message{ID: fmt.Sprintf("msg_%d", len(f.messages))}, nil
}

func (f *fakeAssistantAPI) ListMessage(_ context.Context, threadID string, _ *int, _ *string, _ *string, _ *string, _ *string) (openai.MessagesList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reply == "" {
		return openai.MessagesList{}, nil
	}
	return openai.MessagesList{Messages: []openai.Message{{
		ID:       "msg_reply",
		ThreadID: threadID,
		Role:     "assistant",
		Content: []openai.MessageContent{{
			Type: "text",
			Text: &openai.MessageText{Value: f.reply},
		}},
	}}}, nil
}

func (f *fakeAssistantAPI) CreateRun(_ context.Context, threadID string, req openai.RunRequest) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRunErr != nil {
		return openai.Run{}, f.createRunErr
	}
	f.runs = append(f.runs, req)
	id := fmt.Sprintf("run_%d", len(f.runs))

	var plan []openai.Run
	if f.runCount < len(f.plans) {
		plan = f.plans[f.runCount]
	}
	f.runCount++
	queue := make([]openai.Run, 0, len(plan))
	for _, r := range plan {
		r.ID = id
		r.ThreadID = threadID
		queue = append(queue, r)
	}
	f.queues[id] = queue
	return openai.Run{ID: id, ThreadID: threadID, AssistantID: req.AssistantID, Status: openai.RunStatusQueued}, nil
}

func (f *fakeAssistantAPI) RetrieveRun(ctx context.Context, _ string, runID string) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieves++
	if err := ctx.Err(); err != nil {
		return openai.Run{}, err
	}
	if f.retrieveErr != nil {
		return openai.Run{}, f.retrieveErr
	}
	queue := f.queues[runID]
	if len(queue) == 0 {
		return openai.Run{}, errors.New("no such run")
	}
	next := queue[0]
	if len(queue) > 1 {
		f.queues[runID] = queue[1:]
	}
	return next, nil
}

func (f *fakeAssistantAPI) SubmitToolOutputs(_ context.Context, _ string, runID string, req openai.SubmitToolOutputsRequest) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, req.ToolOutputs)
	return openai.Run{ID: runID, Status: openai.RunStatusQueued}, nil
}

func (f *fakeAssistantAPI) CancelRun(_ context.Context, _ string, runID string) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	return openai.Run{ID: runID, Status: openai.RunStatusCancelling}, nil
}

func (f *fakeAssistantAPI) ListRunSteps(_ context.Context, _ string, _ string, _ openai.Pagination) (openai.RunStepList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return openai.RunStepList{RunSteps: f.steps}, nil
}

func status(s openai.RunStatus) openai.Run { return openai.Run{Status: s} }

// requiresAction builds a requires_action run through JSON, the way the
// service delivers it.
func requiresAction(t *testing.T, calls ...openai.ToolCall) openai.Run {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":     "run_pending",
		"status": "requires_action",
		"required_action": map[string]any{
			"type":                "submit_tool_outputs",
			"submit_tool_outputs": map[string]any{"tool_calls": calls},
		},
	})
	require.NoError(t, err)
	var run openai.Run
	require.NoError(t, json.Unmarshal(raw, &run))
	return run
}

func failedRun(t *testing.T, s openai.RunStatus, message string) openai.Run {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":         "run_failed",
		"status":     s,
		"last_error": map[string]any{"code": "server_error", "message": message},
	})
	require.NoError(t, err)
	var run openai.Run
	require.NoError(t, json.Unmarshal(raw, &run))
	return run
}

func newsCall(id, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:       id,
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: "get_news", Arguments: args},
	}
}

func toolCallStep(id string, names ...string) openai.RunStep {
	calls := make([]openai.ToolCall, 0, len(names))
	for i, n := range names {
		calls = append(calls, openai.ToolCall{ID: fmt.Sprintf("call_%d", i), Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: n}})
	}
	return openai.RunStep{ID: id, Type: "tool_calls", Status: "completed", StepDetails: openai.StepDetails{Type: "tool_calls", ToolCalls: calls}}
}

func messageStep(id string) openai.RunStep {
	return openai.RunStep{ID: id, Type: "message_creation", Status: "completed", StepDetails: openai.StepDetails{Type: "message_creation"}}
}

type memStore struct {
	mu      sync.Mutex
	states  map[string]models.SessionState
	digests map[string][]models.Digest
	saves   int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]models.SessionState{}, digests: map[string][]models.Digest{}}
}

func (m *memStore) Load(_ context.Context, sessionID string) (models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[sessionID]; ok {
		return s, nil
	}
	return models.SessionState{SessionID: sessionID}, nil
}

func (m *memStore) Save(_ context.Context, state *models.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.states[state.SessionID] = *state
	return nil
}

func (m *memStore) SaveDigest(_ context.Context, d *models.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = int64(len(m.digests[d.SessionID]) + 1)
	m.digests[d.SessionID] = append([]models.Digest{*d}, m.digests[d.SessionID]...)
	return nil
}

func (m *memStore) ListDigests(_ context.Context, sessionID string, limit int) ([]models.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.digests[sessionID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	delete(m.digests, sessionID)
	return nil
}
