package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// AssistantAPI is the part of the Assistants v2 API the session and run loop
// rely on. *openai.Client satisfies it.
type AssistantAPI interface {
	CreateAssistant(ctx context.Context, request openai.AssistantRequest) (openai.Assistant, error)
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID string, runID string, request openai.SubmitToolOutputsRequest) (openai.Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListRunSteps(ctx context.Context, threadID string, runID string, pagination openai.Pagination) (openai.RunStepList, error)
}

var _ AssistantAPI = (*openai.Client)(nil)

// NewClient builds an Assistants API client. An empty baseURL keeps the
// library default.
func NewClient(token, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}
