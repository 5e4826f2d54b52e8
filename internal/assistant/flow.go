package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
)

// Input is the request payload for the chat flow.
type Input struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

// Output is the response payload from the chat flow.
type Output struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// StreamChunk carries partial text during streaming.
type StreamChunk struct {
	Text string `json:"text"`
}

// FlowName is the registered name of the chat flow in Genkit.
const FlowName = "skyport/chat"

// Flow is the Genkit streaming flow type for the assistant.
type Flow = core.Flow[Input, Output, StreamChunk]

// genkit.DefineStreamingFlow panics on re-registration, so the flow is
// a package singleton.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the chat flow singleton, defining it on first call.
// Later calls return the existing flow and ignore the arguments.
func NewFlow(g *genkit.Genkit, agent *Agent) *Flow {
	flowOnce.Do(func() {
		flow = agent.defineFlow(g)
	})
	return flow
}

// ResetFlowForTesting clears the flow singleton. Tests only.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// defineFlow wraps ExecuteStream in a Genkit flow for tracing, typed
// schemas, and DevUI. The user identity still travels in ctx.
func (a *Agent) defineFlow(g *genkit.Genkit) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input Input, streamCb func(context.Context, StreamChunk) error) (Output, error) {
			sessionID, err := uuid.Parse(input.SessionID)
			if err != nil {
				return Output{SessionID: input.SessionID}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
			}

			var callback StreamCallback
			if streamCb != nil {
				callback = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
					if chunk == nil {
						return nil
					}
					for _, part := range chunk.Content {
						if part.Text == "" {
							continue
						}
						if streamErr := streamCb(ctx, StreamChunk{Text: part.Text}); streamErr != nil {
							return streamErr
						}
					}
					return nil
				}
			}

			resp, err := a.ExecuteStream(ctx, sessionID, input.Query, callback)
			if err != nil {
				return Output{SessionID: input.SessionID}, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
			}

			return Output{
				Response:  resp.FinalText,
				SessionID: input.SessionID,
			}, nil
		},
	)
}
