// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/degrade"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
)

var tracer = otel.Tracer("unlearn.vectors")

var (
	// ErrMirrorUnavailable is returned when the remote mirror could not be
	// reached after all retries.
	ErrMirrorUnavailable = errors.New("vector mirror unavailable")

	// ErrMirrorDisabled is returned when the mirror has been switched off.
	ErrMirrorDisabled = errors.New("vector mirror disabled")
)

// -----------------------------------------------------------------------------
// Remote delete
// -----------------------------------------------------------------------------

// DeleteResult counts remote objects removed by one batch delete.
type DeleteResult struct {
	Successful int
	Failed     int
}

// DeleteByNameFunc deletes every object of className whose name property
// contains entity.
type DeleteByNameFunc func(ctx context.Context, className, entity string) (DeleteResult, error)

// NewWeaviateDeleteFunc returns a DeleteByNameFunc backed by a batch delete
// with a Like filter on property.
func NewWeaviateDeleteFunc(client *weaviate.Client, property string) DeleteByNameFunc {
	return func(ctx context.Context, className, entity string) (DeleteResult, error) {
		where := filters.Where().
			WithPath([]string{property}).
			WithOperator(filters.Like).
			WithValueText("*" + ident.Clean(entity) + "*")

		resp, err := client.Batch().ObjectsBatchDeleter().
			WithClassName(className).
			WithWhere(where).
			WithOutput("minimal").
			Do(ctx)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("batch delete from %s: %w", className, err)
		}
		if resp == nil || resp.Results == nil {
			return DeleteResult{}, nil
		}
		return DeleteResult{
			Successful: int(resp.Results.Successful),
			Failed:     int(resp.Results.Failed),
		}, nil
	}
}

// -----------------------------------------------------------------------------
// Mirror
// -----------------------------------------------------------------------------

// MirrorConfig configures a WeaviateMirror.
type MirrorConfig struct {
	// URL is the Weaviate endpoint, e.g. "http://localhost:8080".
	URL string

	// ClassName holds the mirrored entity objects. Default: "Entity"
	ClassName string

	// Property is the entity name property. Default: "entity_name"
	Property string

	// RetryAttempts after the first try. Default: 3
	RetryAttempts int

	// RetryBackoff is the first backoff. Default: 200ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5s
	MaxRetryBackoff time.Duration

	// RetryJitter randomizes the backoff by this fraction. Default: 0.25
	RetryJitter float64

	// Timeout bounds each attempt. Default: 10s
	Timeout time.Duration
}

func (c *MirrorConfig) applyDefaults() {
	if c.ClassName == "" {
		c.ClassName = "Entity"
	}
	if c.Property == "" {
		c.Property = "entity_name"
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 5 * time.Second
	}
	if c.RetryJitter <= 0 || c.RetryJitter > 1 {
		c.RetryJitter = 0.25
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// WeaviateMirror deletes entities from a remote Weaviate copy of the
// embedding index.
//
// # Description
//
// Each delete is retried with exponential backoff and jitter. When all
// attempts fail the tracker is degraded and ErrMirrorUnavailable is
// returned; callers record it and continue. A successful call recovers
// the tracker.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateMirror struct {
	del     DeleteByNameFunc
	cfg     MirrorConfig
	tracker *degrade.Tracker
	logger  *slog.Logger
}

// NewWeaviateMirror connects a mirror to cfg.URL.
func NewWeaviateMirror(cfg MirrorConfig, logger *slog.Logger) (*WeaviateMirror, error) {
	if cfg.URL == "" {
		return nil, errors.New("vector mirror url must not be empty")
	}
	cfg.applyDefaults()

	wc := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		wc.Scheme = "https"
		wc.Host = strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		wc.Host = strings.TrimPrefix(cfg.URL, "http://")
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return NewMirrorWithFunc(NewWeaviateDeleteFunc(client, cfg.Property), cfg, nil, logger), nil
}

// NewMirrorWithFunc creates a mirror over an arbitrary delete function. A
// nil tracker creates one named "vector_mirror".
func NewMirrorWithFunc(del DeleteByNameFunc, cfg MirrorConfig, tracker *degrade.Tracker, logger *slog.Logger) *WeaviateMirror {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = degrade.NewTracker("vector_mirror", logger)
	}
	return &WeaviateMirror{
		del:     del,
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With("component", "vectors.WeaviateMirror"),
	}
}

// Tracker returns the mirror's availability tracker.
func (m *WeaviateMirror) Tracker() *degrade.Tracker { return m.tracker }

// Delete removes entity from the mirror.
//
// # Outputs
//
//   - DeleteResult: Remote counts.
//   - error: ErrMirrorDisabled, ErrMirrorUnavailable or ctx errors.
func (m *WeaviateMirror) Delete(ctx context.Context, entity string) (DeleteResult, error) {
	if m.tracker.Mode() == degrade.ModeDisabled {
		return DeleteResult{}, ErrMirrorDisabled
	}

	ctx, span := tracer.Start(ctx, "WeaviateMirror.Delete",
		trace.WithAttributes(
			attribute.String("class", m.cfg.ClassName),
			attribute.String("mode", m.tracker.Mode().String()),
		),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= m.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := m.backoff(attempt)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("backoff_ms", backoff.Milliseconds()),
			))
			select {
			case <-ctx.Done():
				return DeleteResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		res, err := m.del(callCtx, m.cfg.ClassName, entity)
		cancel()
		if err == nil {
			m.tracker.OnRecovered()
			span.SetAttributes(attribute.Int("deleted", res.Successful))
			span.SetStatus(codes.Ok, "success")
			m.logger.Info("mirror objects deleted",
				"entity", entity, "successful", res.Successful, "failed", res.Failed)
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return DeleteResult{}, ctx.Err()
		}
	}

	m.tracker.OnDegraded(lastErr.Error())
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all retries failed")
	return DeleteResult{}, fmt.Errorf("%w: %v", ErrMirrorUnavailable, lastErr)
}

func (m *WeaviateMirror) backoff(attempt int) time.Duration {
	d := m.cfg.RetryBackoff << (attempt - 1)
	if d > m.cfg.MaxRetryBackoff || d <= 0 {
		d = m.cfg.MaxRetryBackoff
	}
	jitter := 1 + m.cfg.RetryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}
