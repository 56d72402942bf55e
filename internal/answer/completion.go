package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/sony/gobreaker"

	"github.com/bull/pdfrag-server/internal/embedding"
)

// DefaultChatModel is the completion model used when none is configured.
const DefaultChatModel = "gpt-4o-mini"

// ErrAnswerGeneration indicates the completion backend failed or is being
// shielded by the circuit breaker. Retrieval itself succeeded.
var ErrAnswerGeneration = errors.New("answer generation failed")

// CompletionClient produces a chat completion from a system prompt and a user
// message.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAICompletion calls the OpenAI chat completions API behind a circuit
// breaker, so a misbehaving upstream sheds load quickly instead of tying up
// every request for the full timeout.
type OpenAICompletion struct {
	client  *embedding.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAICompletion creates a completion client. Model defaults to
// DefaultChatModel and timeout to 60s.
func NewOpenAICompletion(client *embedding.Client, model string, timeout time.Duration) *OpenAICompletion {
	if model == "" {
		model = DefaultChatModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai-chat",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &OpenAICompletion{
		client:  client,
		model:   model,
		timeout: timeout,
		breaker: breaker,
	}
}

func (c *OpenAICompletion) Complete(ctx context.Context, system, user string) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.Client().Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("no choices in completion response")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnswerGeneration, err)
	}
	return result.(string), nil
}
