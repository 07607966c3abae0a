// Package llm implements the LLM gateway consumed by the Research
// Synthesizer, Quality Assurance, and Decision Loop: a uniform
// chat() call over per-vendor chat models, with the gateway-level
// retry the spec requires for rate-limited/timeout/upstream-5xx
// failures.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dax-arena/core/internal/dataflows"
)

// ErrorKind classifies a gateway failure so callers can decide
// whether to retry (handled internally) versus treat as a hard
// invalid_request failure.
type ErrorKind string

const (
	ErrRateLimited  ErrorKind = "rate_limited"
	ErrTimeout      ErrorKind = "timeout"
	ErrUpstream5xx  ErrorKind = "upstream_5xx"
	ErrInvalidRequest ErrorKind = "invalid_request"
)

// GatewayError wraps an underlying error with its classification.
type GatewayError struct {
	Kind ErrorKind
	Err  error
}

func (e *GatewayError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *GatewayError) Unwrap() error { return e.Err }

// Response is the gateway's uniform chat result.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Options carries the optional chat parameters from spec §6.
type Options struct {
	Temperature *float32
	MaxTokens   *int
	Timeout     time.Duration
}

// Gateway is the interface the core consumes; implementations belong
// to the surrounding application's model wiring (spec §6 treats the
// LLM gateway as an external collaborator).
type Gateway interface {
	Chat(ctx context.Context, modelID string, messages []*schema.Message, opts Options) (*Response, error)
}

// ModelRegistry resolves an opaque api_identifier to a concrete eino
// chat model, generalizing the teacher's single global ChatModel
// into a per-identifier lookup (one per vendor/model pairing).
type ModelRegistry interface {
	Resolve(apiIdentifier string) (model.ToolCallingChatModel, error)
}

// EinoGateway is a Gateway backed by eino chat models, with the
// retry-with-backoff the spec mandates for the first three error
// classes applied uniformly around every call.
type EinoGateway struct {
	registry ModelRegistry
	retry    *dataflows.RetryConfig
}

// NewEinoGateway builds a Gateway over the given model registry.
func NewEinoGateway(registry ModelRegistry) *EinoGateway {
	return &EinoGateway{registry: registry, retry: dataflows.DefaultRetryConfig()}
}

// Chat invokes the resolved chat model, retrying transient failures.
func (g *EinoGateway) Chat(ctx context.Context, modelID string, messages []*schema.Message, opts Options) (*Response, error) {
	chatModel, err := g.registry.Resolve(modelID)
	if err != nil {
		return nil, &GatewayError{Kind: ErrInvalidRequest, Err: err}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var result *Response
	err = dataflows.WithRetry(g.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		genOpts := buildGenerateOptions(opts)
		msg, err := chatModel.Generate(callCtx, messages, genOpts...)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return &GatewayError{Kind: ErrTimeout, Err: err}
			}
			return &GatewayError{Kind: ErrUpstream5xx, Err: err}
		}

		result = &Response{Content: msg.Content}
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			result.PromptTokens = int(msg.ResponseMeta.Usage.PromptTokens)
			result.CompletionTokens = int(msg.ResponseMeta.Usage.CompletionTokens)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
