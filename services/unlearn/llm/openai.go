// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("unlearn.llm")

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds one completion request.
	DefaultTimeout = 60 * time.Second

	// DefaultRequestsPerSecond bounds the request rate.
	DefaultRequestsPerSecond = 2.0
)

// Completer sends a single prompt and returns the model's text answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	// Secret holds the API key. Required.
	Secret *Secret

	// BaseURL overrides the API endpoint, e.g. for compatible gateways.
	BaseURL string

	// Model is the chat model. Default: gpt-4o-mini
	Model string

	// SystemPrompt is sent as the system message.
	SystemPrompt string

	// Timeout bounds each request. Default: 60s
	Timeout time.Duration

	// RequestsPerSecond bounds the request rate. Default: 2
	RequestsPerSecond float64

	// Temperature for sampling. Zero keeps the API default.
	Temperature float32

	// MaxTokens bounds the completion length. Zero keeps the API default.
	MaxTokens int
}

// OpenAIClient is a rate-limited Completer over the chat completions API.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIClient struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIClient creates a client. Zero config fields take defaults.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.Secret == nil {
		return nil, fmt.Errorf("%w: no API key", ErrCollaboratorUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = reportSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &bearerDoer{secret: cfg.Secret, client: &http.Client{}}

	logger = logger.With("component", "llm.OpenAIClient")
	logger.Info("initializing OpenAI client", "model", cfg.Model)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// Complete implements Completer.
//
// # Outputs
//
//   - string: The first choice's content.
//   - error: Wraps ErrCollaboratorUnavailable for transport, API and
//     timeout failures, ErrMalformedResponse when no choice is returned.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.Int("prompt_bytes", len(prompt)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: rate limit wait: %v", ErrCollaboratorUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
	}
	if c.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = c.cfg.MaxTokens
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		c.logger.Warn("OpenAI API call failed", "error", err, "duration", time.Since(start))
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	c.logger.Debug("received response from OpenAI",
		"finish_reason", resp.Choices[0].FinishReason,
		"duration", time.Since(start),
	)
	span.SetAttributes(attribute.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %s", ErrCollaboratorUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
}
