package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"log/slog"

	"github.com/skyport0/skyport/internal/assistant"
	"github.com/skyport0/skyport/internal/session"
)

// Chat handles chat endpoints via the Genkit flow.
//
//   - POST /api/v1/chat            - synchronous (JSON request/response)
//   - GET|POST /api/v1/chat/stream - streaming (Server-Sent Events)
//
// Both endpoints run the same flow; the sync one goes through
// genkit.Handler, the stream one through a custom SSE writer. The GET
// form takes query/sessionId as URL parameters so EventSource clients
// can connect.
type Chat struct {
	flow     *assistant.Flow
	agent    *assistant.Agent
	sessions *session.Store
	logger   *slog.Logger
}

// NewChat creates a chat handler around the given flow.
func NewChat(flow *assistant.Flow, agent *assistant.Agent, sessions *session.Store, logger *slog.Logger) *Chat {
	return &Chat{flow: flow, agent: agent, sessions: sessions, logger: logger}
}

// Handler returns the synchronous chat handler, or a 404 when no flow
// is configured (tests without a model).
func (h *Chat) Handler() http.Handler {
	if h.flow == nil {
		return http.NotFoundHandler()
	}
	return genkit.Handler(h.flow)
}

// SSE event types.
const (
	EventChunk = "chunk" // partial response text
	EventDone  = "done"  // stream completed successfully
	EventError = "error" // error occurred during streaming
)

// ChunkPayload is the SSE data payload for streaming text chunks.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload is the SSE data payload when streaming completes.
type DonePayload struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stream handles SSE streaming chat requests.
func (h *Chat) Stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	input, err := streamInput(w, r)
	if err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "INVALID_REQUEST",
			Message: "invalid request body",
		})
		return
	}

	// Fall back to the active session cookie when the client does not
	// name a session explicitly.
	if input.SessionID == "" {
		if sid, ok := sessionIDFromContext(r.Context()); ok {
			input.SessionID = sid.String()
		}
	}
	if input.SessionID == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "MISSING_SESSION_ID", Message: "sessionId is required"})
		return
	}
	if input.Query == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "MISSING_QUERY", Message: "query is required"})
		return
	}

	if h.flow == nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "FLOW_NOT_CONFIGURED", Message: "chat flow not configured"})
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE stream started", "sessionId", input.SessionID)

	var (
		finalOutput assistant.Output
		streamErr   error
	)

	for streamValue, err := range h.flow.Stream(ctx, input) {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected", "sessionId", input.SessionID)
			return
		default:
		}

		if err != nil {
			streamErr = err
			break
		}

		if streamValue.Done {
			finalOutput = streamValue.Output
			break
		}

		if streamValue.Stream.Text != "" {
			if err := writeEvent(w, flusher, EventChunk, ChunkPayload{
				Text: streamValue.Stream.Text,
			}); err != nil {
				// Write failure usually means the connection closed.
				h.logger.Error("failed to write chunk", "error", err)
				return
			}
		}
	}

	if streamErr != nil {
		h.handleStreamError(w, flusher, streamErr)
		return
	}

	_ = writeEvent(w, flusher, EventDone, DonePayload{
		Response:  finalOutput.Response,
		SessionID: finalOutput.SessionID,
	})

	h.maybeTitleSession(r, input)
	h.logger.Debug("SSE stream completed", "sessionId", input.SessionID)
}

// streamInput decodes a streaming chat request. GET carries the fields
// as URL parameters; POST carries a JSON body.
func streamInput(w http.ResponseWriter, r *http.Request) (assistant.Input, error) {
	var input assistant.Input

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		input.Query = q.Get("query")
		input.SessionID = q.Get("sessionId")
		return input, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return assistant.Input{}, err
	}
	return input, nil
}

// maybeTitleSession names an untitled session after its first exchange,
// in the background so the response is not held up.
func (h *Chat) maybeTitleSession(r *http.Request, input assistant.Input) {
	if h.agent == nil || h.sessions == nil {
		return
	}
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		return
	}
	sessionID, err := uuid.Parse(input.SessionID)
	if err != nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		sess, err := h.sessions.Get(ctx, userID, sessionID)
		if err != nil || sess.Title != "" {
			return
		}
		title := h.agent.GenerateTitle(ctx, input.Query)
		if title == "" {
			return
		}
		if err := h.sessions.Rename(ctx, userID, sessionID, title); err != nil {
			h.logger.Debug("renaming session", "error", err)
		}
	}()
}

// handleStreamError maps assistant errors to SSE error events.
func (*Chat) handleStreamError(w io.Writer, f http.Flusher, err error) {
	code := "STREAM_ERROR"

	switch {
	case errors.Is(err, assistant.ErrInvalidSession):
		code = "INVALID_SESSION"
	case errors.Is(err, assistant.ErrCircuitOpen):
		code = "MODEL_UNAVAILABLE"
	case errors.Is(err, assistant.ErrExecutionFailed):
		code = "EXECUTION_FAILED"
	}

	_ = writeEvent(w, f, EventError, ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
