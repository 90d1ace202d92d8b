package models

import "time"

// SessionState is the per-session record of the remote assistant and thread
// identities. Empty ids mean the object has not been created yet.
type SessionState struct {
	SessionID   string    `json:"session_id"`
	AssistantID string    `json:"assistant_id,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Digest is the outcome of one topic submission within a session.
type Digest struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Topic     string    `json:"topic"`
	RunID     string    `json:"run_id"`
	Summary   string    `json:"summary"`
	Steps     []RunStep `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

type RunStep struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`   // message_creation or tool_calls
	Status    string   `json:"status"` // in_progress, completed, failed, ...
	ToolCalls []string `json:"tool_calls,omitempty"`
}
