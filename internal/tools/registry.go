package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RichardoC/newsdigest/internal/metrics"
	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"
	lctools "github.com/tmc/langchaingo/tools"
	"go.uber.org/zap"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrToolNameEmpty = errors.New("tool name is empty")
	ErrDuplicateTool = errors.New("tool already registered")
)

// Tool is a langchaingo tool whose Call input is the raw JSON arguments of
// the assistant's function call.
type Tool interface {
	lctools.Tool
	Schema() *jsonschema.Schema
}

// UnknownToolError is returned when the assistant asks for a function that
// was never registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return fmt.Sprintf("unknown tool: %q", e.Name) }

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		logger:  logger,
		metrics: m,
	}
}

func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return ErrToolNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions declares every registered tool as an assistant function tool.
func (r *Registry) Definitions() []openai.AssistantTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]openai.AssistantTool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return defs
}

// Dispatch runs the tool registered under name with the JSON-encoded
// arguments and returns its output.
func (r *Registry) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrToolNameEmpty
	}

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.metrics.ObserveToolCall(name, "unknown")
		return "", &UnknownToolError{Name: name}
	}

	start := time.Now()
	out, err := t.Call(ctx, argsJSON)
	if err != nil {
		r.metrics.ObserveToolCall(name, "error")
		r.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("tool %q failed: %w", name, err)
	}

	r.metrics.ObserveToolCall(name, "ok")
	r.logger.Debug("tool call finished",
		zap.String("tool", name),
		zap.Duration("duration", time.Since(start)),
		zap.Int("input_size", len(argsJSON)),
		zap.Int("output_size", len(out)))
	return out, nil
}
