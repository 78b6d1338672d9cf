// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/lock"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	got    []pipeline.Request
	report *pipeline.DeletionReport
	err    error
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.DeletionReport, error) {
	f.got = append(f.got, req)
	return f.report, f.err
}

func post(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, "/v1/deletions", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router := NewRouter(&fakeRunner{}, Options{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleDeletion_OK(t *testing.T) {
	runner := &fakeRunner{report: &pipeline.DeletionReport{RunID: "run-1", Outcome: pipeline.OutcomeCompleted}}
	router := NewRouter(runner, Options{})

	w := post(t, router, `{"entity": " Dumbledore ", "entities": ["Hagrid"], "dry_run": true, "backup": false}`)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, runner.got, 1)
	got := runner.got[0]
	assert.Equal(t, []string{"Dumbledore", "Hagrid"}, got.Entities)
	assert.True(t, got.DryRun)
	require.NotNil(t, got.Backup)
	assert.False(t, *got.Backup)

	var report pipeline.DeletionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, pipeline.OutcomeCompleted, report.Outcome)
}

func TestHandleDeletion_BadRequests(t *testing.T) {
	runner := &fakeRunner{}
	router := NewRouter(runner, Options{})

	for _, body := range []string{`not json`, `{}`, `{"entity": "  "}`} {
		w := post(t, router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, runner.got)
}

func TestHandleDeletion_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"locked", fmt.Errorf("acquire: %w", lock.ErrFileLocked), http.StatusConflict},
		{"rolled back", errors.New("vectors: corrupt"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{
				report: &pipeline.DeletionReport{Outcome: pipeline.OutcomeFailed},
				err:    tt.err,
			}
			w := post(t, NewRouter(runner, Options{}), `{"entity": "Dumbledore"}`)
			assert.Equal(t, tt.want, w.Code)

			var resp struct {
				Error  string                   `json:"error"`
				Report *pipeline.DeletionReport `json:"report"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			require.NotNil(t, resp.Report)
			assert.Equal(t, pipeline.OutcomeFailed, resp.Report.Outcome)
		})
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("unlearn_runs_total 1\n"))
	})
	router := NewRouter(&fakeRunner{}, Options{Metrics: metrics})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unlearn_runs_total")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	NewRouter(&fakeRunner{}, Options{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", NewRouter(&fakeRunner{}, Options{}), slog.New(slog.DiscardHandler))
	}()
	cancel()
	assert.NoError(t, <-done)
}
