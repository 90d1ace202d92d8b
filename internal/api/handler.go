package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/RichardoC/newsdigest/internal/llm"
	"github.com/RichardoC/newsdigest/internal/models"
	"github.com/RichardoC/newsdigest/internal/news"
	"github.com/RichardoC/newsdigest/internal/tools"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const SessionCookie = "newsdigest_session"

//go:embed web/index.html
var web embed.FS

// Summarizer is the part of llm.Service the handlers use.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID, topic string) (*models.Digest, error)
	History(ctx context.Context, sessionID string) ([]models.Digest, error)
	Reset(ctx context.Context, sessionID string) error
}

type Handler struct {
	svc    Summarizer
	logger *zap.Logger
}

func NewHandler(svc Summarizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

type SummarizeRequest struct {
	Topic string `json:"topic"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.Index)
	mux.HandleFunc("/api/summarize", h.Summarize)
	mux.HandleFunc("/api/digests", h.Digests)
	mux.HandleFunc("/api/session", h.ResetSession)
	mux.HandleFunc("/healthz", h.Health)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page, err := web.ReadFile("web/index.html")
	if err != nil {
		h.logger.Error("Failed to read index page", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.sessionID(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		h.writeError(w, http.StatusBadRequest, "Topic is required")
		return
	}

	sessionID := h.sessionID(w, r)
	digest, err := h.svc.Summarize(r.Context(), sessionID, req.Topic)
	if err != nil {
		status := statusFor(err)
		h.logger.Error("Failed to summarize topic",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.String("topic", req.Topic),
			zap.Int("status", status))
		h.writeError(w, status, messageFor(err))
		return
	}

	h.logger.Info("Summarized topic",
		zap.String("session_id", sessionID),
		zap.String("topic", digest.Topic),
		zap.String("run_id", digest.RunID),
		zap.Int("steps", len(digest.Steps)))
	h.writeJSON(w, http.StatusOK, digest)
}

func (h *Handler) Digests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := h.sessionID(w, r)
	digests, err := h.svc.History(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list digests", zap.Error(err), zap.String("session_id", sessionID))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if digests == nil {
		digests = []models.Digest{}
	}

	h.logger.Debug("Retrieved digests",
		zap.Int("count", len(digests)),
		zap.String("session_id", sessionID))
	h.writeJSON(w, http.StatusOK, digests)
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := h.sessionID(w, r)
	if err := h.svc.Reset(r.Context(), sessionID); err != nil {
		status := statusFor(err)
		h.logger.Error("Failed to reset session", zap.Error(err), zap.String("session_id", sessionID))
		h.writeError(w, status, messageFor(err))
		return
	}

	// Start over with a fresh identity as well.
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// sessionID returns the caller's session id, issuing a cookie on first use.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func statusFor(err error) int {
	var upstream *news.UpstreamHTTPError
	switch {
	case errors.Is(err, llm.ErrEmptyTopic):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, llm.ErrRunTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, llm.ErrRunFailed),
		errors.Is(err, llm.ErrRunExpired),
		errors.Is(err, llm.ErrRunCancelled),
		errors.Is(err, llm.ErrNoResponse),
		errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	var runErr *llm.RunError
	var unknown *tools.UnknownToolError
	switch {
	case errors.Is(err, llm.ErrEmptyTopic):
		return "Topic is required"
	case errors.Is(err, llm.ErrRunActive):
		return "A summary is already in progress for this session"
	case errors.Is(err, llm.ErrRunTimedOut), errors.Is(err, context.DeadlineExceeded):
		return "The assistant did not finish in time"
	case errors.As(err, &unknown):
		return "The assistant requested an unsupported tool: " + unknown.Name
	case errors.As(err, &runErr):
		msg := "The assistant run " + string(runErr.Status)
		if runErr.Message != "" {
			msg += ": " + runErr.Message
		}
		return msg
	default:
		return err.Error()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
