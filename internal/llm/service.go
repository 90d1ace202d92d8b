package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/newsdigest/internal/metrics"
	"github.com/RichardoC/newsdigest/internal/models"
	"github.com/RichardoC/newsdigest/internal/tools"
	"go.uber.org/zap"
)

const (
	DefaultAssistantName         = "News Summarizer"
	DefaultAssistantInstructions = "You are a personal article summarizer Assistant who knows how to take a list of article's titles and descriptions and then write a short summary of all the news articles"
	DefaultRunInstructions       = "Summarize the news"
	DefaultModel                 = "gpt-3.5-turbo-16k"

	digestHistoryLimit = 50
)

// Store persists session identities and the digests produced per session.
type Store interface {
	SessionStore
	SaveDigest(ctx context.Context, d *models.Digest) error
	ListDigests(ctx context.Context, sessionID string, limit int) ([]models.Digest, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type Options struct {
	Model                 string
	AssistantName         string
	AssistantInstructions string
	RunInstructions       string
	PollInterval          time.Duration
	RunTimeout            time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Service runs topic summarizations, one session at a time per session id.
type Service struct {
	api    AssistantAPI
	store  Store
	tools  *tools.Registry
	loop   *RunLoop
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	busy map[string]bool
}

func New(api AssistantAPI, store Store, registry *tools.Registry, opts Options) (*Service, error) {
	if api == nil || store == nil || registry == nil {
		return nil, errors.New("llm: api, store and tool registry are required")
	}
	if len(registry.Names()) == 0 {
		return nil, errors.New("llm: no tools registered")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.AssistantName == "" {
		opts.AssistantName = DefaultAssistantName
	}
	if opts.AssistantInstructions == "" {
		opts.AssistantInstructions = DefaultAssistantInstructions
	}
	if opts.RunInstructions == "" {
		opts.RunInstructions = DefaultRunInstructions
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		api:    api,
		store:  store,
		tools:  registry,
		loop:   NewRunLoop(api, registry, opts.PollInterval, opts.RunTimeout, opts.Logger, opts.Metrics),
		opts:   opts,
		logger: opts.Logger,
		busy:   make(map[string]bool),
	}, nil
}

// Open loads the session for sessionID.
func (s *Service) Open(ctx context.Context, sessionID string) (*Session, error) {
	return NewSession(ctx, s.api, s.store, s.loop, s.opts.Model, sessionID, s.logger)
}

// Summarize posts the topic to the session's thread, drives the run to
// completion and records the resulting digest.
func (s *Service) Summarize(ctx context.Context, sessionID, topic string) (*models.Digest, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if !s.acquire(sessionID) {
		return nil, ErrRunActive
	}
	defer s.release(sessionID)

	sess, err := s.Open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.EnsureAssistant(ctx, s.opts.AssistantName, s.opts.AssistantInstructions, s.tools.Definitions()); err != nil {
		return nil, err
	}
	if err := sess.EnsureThread(ctx); err != nil {
		return nil, err
	}
	if err := sess.PostUserMessage(ctx, fmt.Sprintf("summarize the news on this topic %s?", topic)); err != nil {
		return nil, err
	}

	run, err := sess.StartRun(ctx, s.opts.RunInstructions)
	if err != nil {
		return nil, err
	}
	summary, err := sess.WaitForCompletion(ctx)
	if err != nil {
		return nil, err
	}

	steps, err := sess.RunSteps(ctx)
	if err != nil {
		s.logger.Warn("failed to list run steps", zap.String("run_id", run.ID), zap.Error(err))
		steps = []models.RunStep{}
	}

	digest := &models.Digest{
		SessionID: sessionID,
		Topic:     topic,
		RunID:     run.ID,
		Summary:   summary,
		Steps:     steps,
	}
	if err := s.store.SaveDigest(ctx, digest); err != nil {
		s.logger.Warn("failed to record digest", zap.String("run_id", run.ID), zap.Error(err))
	}
	return digest, nil
}

func (s *Service) History(ctx context.Context, sessionID string) ([]models.Digest, error) {
	return s.store.ListDigests(ctx, sessionID, digestHistoryLimit)
}

// Reset forgets the session so the next submission starts a new assistant
// and thread.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if !s.acquire(sessionID) {
		return ErrRunActive
	}
	defer s.release(sessionID)
	return s.store.DeleteSession(ctx, sessionID)
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[sessionID] {
		return false
	}
	s.busy[sessionID] = true
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, sessionID)
}
