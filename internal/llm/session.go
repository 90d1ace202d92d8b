package llm

import (
	"context"
	"fmt"

	"github.com/RichardoC/newsdigest/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// SessionStore is where a session's assistant and thread identities live
// between submissions.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (models.SessionState, error)
	Save(ctx context.Context, state *models.SessionState) error
}

// Session owns one assistant and one thread for a single UI session. It may
// be driven directly or through Service, which opens a fresh Session per
// submission and serializes them per session id. Within one Session,
// StartRun refuses a second run until the first is waited on. Session is
// not safe for concurrent use.
type Session struct {
	api    AssistantAPI
	store  SessionStore
	loop   *RunLoop
	model  string
	logger *zap.Logger

	state   models.SessionState
	run     *openai.Run
	running bool
}

// NewSession loads the state stored for sessionID.
func NewSession(ctx context.Context, api AssistantAPI, store SessionStore, loop *RunLoop, model, sessionID string, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	state, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}
	state.SessionID = sessionID
	return &Session{
		api:    api,
		store:  store,
		loop:   loop,
		model:  model,
		logger: logger.With(zap.String("session_id", sessionID)),
		state:  state,
	}, nil
}

func (s *Session) State() models.SessionState { return s.state }

// EnsureAssistant creates the assistant once; later calls reuse the stored id
// without contacting the service.
func (s *Session) EnsureAssistant(ctx context.Context, name, instructions string, toolDefs []openai.AssistantTool) error {
	if s.state.AssistantID != "" {
		return nil
	}

	assistant, err := s.api.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        s.model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        toolDefs,
	})
	if err != nil {
		return fmt.Errorf("failed to create assistant: %w", err)
	}

	s.state.AssistantID = assistant.ID
	if err := s.store.Save(ctx, &s.state); err != nil {
		return fmt.Errorf("failed to save assistant id: %w", err)
	}
	s.logger.Info("created assistant", zap.String("assistant_id", assistant.ID))
	return nil
}

// EnsureThread creates the conversation thread once per session.
func (s *Session) EnsureThread(ctx context.Context) error {
	if s.state.ThreadID != "" {
		return nil
	}

	thread, err := s.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}

	s.state.ThreadID = thread.ID
	if err := s.store.Save(ctx, &s.state); err != nil {
		return fmt.Errorf("failed to save thread id: %w", err)
	}
	s.logger.Info("created thread", zap.String("thread_id", thread.ID))
	return nil
}

func (s *Session) PostUserMessage(ctx context.Context, text string) error {
	if s.state.ThreadID == "" {
		return ErrNoThread
	}
	_, err := s.api.CreateMessage(ctx, s.state.ThreadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("failed to add message to thread: %w", err)
	}
	return nil
}

// StartRun creates a fresh run of the assistant over the thread.
func (s *Session) StartRun(ctx context.Context, instructions string) (openai.Run, error) {
	if s.state.AssistantID == "" {
		return openai.Run{}, ErrNoAssistant
	}
	if s.state.ThreadID == "" {
		return openai.Run{}, ErrNoThread
	}
	if s.running {
		return openai.Run{}, ErrRunActive
	}

	run, err := s.api.CreateRun(ctx, s.state.ThreadID, openai.RunRequest{
		AssistantID:  s.state.AssistantID,
		Instructions: instructions,
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("failed to start run: %w", err)
	}

	s.run = &run
	s.running = true
	s.logger.Info("started run", zap.String("run_id", run.ID))
	return run, nil
}

// WaitForCompletion blocks until the current run ends and returns the
// assistant's reply.
func (s *Session) WaitForCompletion(ctx context.Context) (string, error) {
	if s.run == nil {
		return "", ErrNoRun
	}

	run, err := s.loop.Wait(ctx, s.state.ThreadID, s.run.ID)
	s.running = false
	if run.ID != "" {
		s.run = &run
	}
	if err != nil {
		return "", err
	}
	return s.LatestResponse(ctx)
}

// LatestResponse returns the text of the newest message in the thread.
func (s *Session) LatestResponse(ctx context.Context) (string, error) {
	if s.state.ThreadID == "" {
		return "", ErrNoThread
	}

	limit, order := 1, "desc"
	messages, err := s.api.ListMessage(ctx, s.state.ThreadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}
	if len(messages.Messages) == 0 {
		return "", ErrNoResponse
	}

	last := messages.Messages[0]
	for _, content := range last.Content {
		if content.Text != nil {
			s.logger.Debug("latest response", zap.String("role", string(last.Role)), zap.String("message_id", last.ID))
			return content.Text.Value, nil
		}
	}
	return "", ErrNoResponse
}

// RunSteps lists the steps of the current run, oldest first.
func (s *Session) RunSteps(ctx context.Context) ([]models.RunStep, error) {
	if s.run == nil {
		return nil, ErrNoRun
	}

	limit, order := 100, "asc"
	list, err := s.api.ListRunSteps(ctx, s.state.ThreadID, s.run.ID, openai.Pagination{
		Limit: &limit,
		Order: &order,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}

	steps := make([]models.RunStep, 0, len(list.RunSteps))
	for _, step := range list.RunSteps {
		rs := models.RunStep{
			ID:     step.ID,
			Type:   string(step.Type),
			Status: string(step.Status),
		}
		for _, call := range step.StepDetails.ToolCalls {
			rs.ToolCalls = append(rs.ToolCalls, call.Function.Name)
		}
		steps = append(steps, rs)
	}
	return steps, nil
}
