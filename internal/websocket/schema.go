package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer. The
// answer value is kept raw: its shape depends on the question type and
// is only interpreted at scoring time.
type AutosaveRequest struct {
	Action Action          `json:"action"`
	QID    string          `json:"q_id"`
	Answer json.RawMessage `json:"ans"`
}

// SubmitRequest is sent by the client to finish the attempt. Answers
// is optional; anything in it is merged over the autosaved set before
// scoring.
type SubmitRequest struct {
	Action  Action                     `json:"action"`
	Answers map[string]json.RawMessage `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSaved   Event = "saved"
	EventGraded  Event = "graded"
	EventExpired Event = "expired"
	EventPong    Event = "pong"
)

type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

// GradedResponse reports a finalized attempt. AutoSubmitted is true
// when the deadline, not the student, triggered the submission.
type GradedResponse struct {
	Event         Event   `json:"event"`
	ResultID      string  `json:"result_id"`
	Score         float64 `json:"score"`
	AutoSubmitted bool    `json:"auto_submitted"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event            Event   `json:"event"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}
