// Package assistant is the conversational travel agent. It wires a
// Genkit model to the retrieval service tools and persists turns in
// the session store.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/skyport0/skyport/internal/log"
	"github.com/skyport0/skyport/internal/session"
)

const (
	// Name identifies the assistant agent.
	Name = "concierge"

	// fallbackResponseMessage covers the rare empty model response.
	fallbackResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."
)

// systemPrompt frames the model as the airline's customer service
// assistant. The airline's designator is CY and its hub is SFO, which
// matches the seeded flight data.
const systemPrompt = `The Skyport Air Customer Service Assistant helps customers of Skyport Air with their travel needs.

Skyport Air (airline unique two letter identifier is CY) is a passenger airline offering convenient flights
to many cities around the world from its hub in San Francisco. Skyport Air takes pride in using the latest
technology to offer the best customer service.

The Assistant answers questions about flights, airports, airport amenities, and airline policy, and can book
tickets for signed-in users. It uses the provided tools for every factual answer and never invents flights,
amenities, or policy. Before booking a ticket it always repeats the flight details back to the user and asks
for confirmation. It keeps answers short and friendly.`

// Sentinel errors for agent execution.
var (
	// ErrInvalidSession indicates the session ID is invalid or malformed.
	ErrInvalidSession = errors.New("invalid session")

	// ErrExecutionFailed indicates agent execution failed.
	ErrExecutionFailed = errors.New("execution failed")
)

// Response is the complete result of one agent turn.
type Response struct {
	FinalText    string
	ToolRequests []*ai.ToolRequest
}

// StreamCallback receives partial model output during streaming.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// Config contains all required parameters for the assistant.
type Config struct {
	Genkit   *genkit.Genkit
	Sessions *session.Store
	Logger   log.Logger
	Tools    []ai.Tool // Pre-registered via RegisterTools

	ModelName string // Provider-qualified, e.g. "googleai/gemini-2.5-flash"
	MaxTurns  int    // Maximum agentic loop turns

	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
	RateLimiter          *rate.Limiter // nil = default 10/s burst 30
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Tools) == 0 {
		return errors.New("at least one tool is required")
	}
	return nil
}

// Agent is the travel assistant. It is stateless between requests;
// all configuration is captured immutably at construction, so a single
// Agent serves concurrent conversations.
type Agent struct {
	modelName string
	maxTurns  int

	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter

	g         *genkit.Genkit
	sessions  *session.Store
	logger    log.Logger
	toolRefs  []ai.ToolRef
	toolNames string

	// generate is the model call. Defaults to genkit.Generate; tests
	// swap in a stub so turns run without a live model.
	generate func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

// New creates the assistant agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}
	cbConfig := cfg.CircuitBreakerConfig
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	a := &Agent{
		modelName:      cfg.ModelName,
		maxTurns:       maxTurns,
		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(cbConfig),
		rateLimiter:    rl,
		g:              cfg.Genkit,
		sessions:       cfg.Sessions,
		logger:         cfg.Logger,
		toolRefs:       toolRefs,
		toolNames:      strings.Join(names, ", "),
	}
	a.generate = func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, a.g, opts...)
	}

	a.logger.Info("assistant initialized",
		"tools", len(a.toolRefs),
		"max_turns", a.maxTurns,
		"model", a.modelName,
	)
	return a, nil
}

// Execute runs one non-streaming turn. Equivalent to ExecuteStream
// with a nil callback.
func (a *Agent) Execute(ctx context.Context, sessionID uuid.UUID, input string) (*Response, error) {
	return a.ExecuteStream(ctx, sessionID, input, nil)
}

// ExecuteStream runs one turn, streaming chunks to callback when it is
// non-nil. The user identity must be attached to ctx with
// ContextWithIdentity; it scopes the session lookup and authenticates
// booking tools.
func (a *Agent) ExecuteStream(ctx context.Context, sessionID uuid.UUID, input string, callback StreamCallback) (*Response, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no user identity in context", ErrExecutionFailed)
	}

	history, err := a.sessions.History(ctx, identity.UserID, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	resp, err := a.generateResponse(ctx, input, history, callback)
	if err != nil {
		return nil, err
	}

	responseText, fellBack := finalText(resp)
	if fellBack {
		a.logger.Warn("model returned empty response", "session_id", sessionID)
	}

	newMessages := []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart(input)),
		ai.NewModelMessage(ai.NewTextPart(responseText)),
	}
	// Best effort; a persistence hiccup should not eat the answer.
	if err := a.sessions.AppendMessages(ctx, identity.UserID, sessionID, newMessages); err != nil {
		a.logger.Warn("appending messages to history", "error", err)
	}

	return &Response{
		FinalText:    responseText,
		ToolRequests: resp.ToolRequests(),
	}, nil
}

// finalText returns the model's text, substituting the fallback message
// when the model produced neither text nor tool calls.
func finalText(resp *ai.ModelResponse) (string, bool) {
	text := resp.Text()
	if strings.TrimSpace(text) == "" && len(resp.ToolRequests()) == 0 {
		return fallbackResponseMessage, true
	}
	return text, false
}

// generateResponse runs the model behind the circuit breaker and retry
// loop. History is deep copied first; Genkit mutates message content
// in place during rendering, which races across concurrent requests.
func (a *Agent) generateResponse(ctx context.Context, input string, history []*ai.Message, callback StreamCallback) (*ai.ModelResponse, error) {
	messages := deepCopyMessages(history)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	opts := []ai.GenerateOption{
		ai.WithSystem(systemPrompt + "\n\nThe current date is " + time.Now().Format("2006-01-02") + "."),
		ai.WithMessages(messages...),
		ai.WithTools(a.toolRefs...),
		ai.WithMaxTurns(a.maxTurns),
	}
	if a.modelName != "" {
		opts = append(opts, ai.WithModelName(a.modelName))
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(callback))
	}

	a.logger.Debug("executing model",
		"tools", a.toolNames,
		"max_turns", a.maxTurns,
		"query_length", len(input),
	)

	if err := a.circuitBreaker.Allow(); err != nil {
		a.logger.Warn("circuit breaker rejecting request",
			"state", a.circuitBreaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	resp, err := a.generateWithRetry(ctx, opts)
	if err != nil {
		a.circuitBreaker.Failure()
		return nil, err
	}
	a.circuitBreaker.Success()
	return resp, nil
}

const (
	titleGenerationTimeout = 5 * time.Second
	titleInputMaxRunes     = 500
	titleMaxRunes          = 80
)

const titlePromptTemplate = `Generate a concise title (max 80 characters) for a conversation based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// GenerateTitle produces a short session title from the user's first
// message. Best effort: returns "" on any failure.
func (a *Agent) GenerateTitle(ctx context.Context, userMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleGenerationTimeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithPrompt(titlePromptTemplate, clipTitleInput(userMessage)),
	}
	if a.modelName != "" {
		opts = append(opts, ai.WithModelName(a.modelName))
	}

	response, err := a.generate(ctx, opts...)
	if err != nil {
		a.logger.Debug("title generation failed", "error", err)
		return ""
	}

	return clipTitle(strings.TrimSpace(response.Text()))
}

// clipTitleInput bounds what gets interpolated into the title prompt.
func clipTitleInput(msg string) string {
	runes := []rune(msg)
	if len(runes) <= titleInputMaxRunes {
		return msg
	}
	return string(runes[:titleInputMaxRunes]) + "..."
}

// clipTitle enforces the titleMaxRunes limit, ellipsizing overflow.
func clipTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= titleMaxRunes {
		return title
	}
	return string(runes[:titleMaxRunes-3]) + "..."
}

// deepCopyMessages copies messages and their parts. Tool request and
// response payloads stay shared; Genkit only mutates the Content slice.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Input: p.ToolRequest.Input,
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Output: p.ToolResponse.Output,
			Ref:    p.ToolResponse.Ref,
		}
	}
	if p.Resource != nil {
		cp.Resource = &ai.ResourcePart{Uri: p.Resource.Uri}
	}
	return cp
}

func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
