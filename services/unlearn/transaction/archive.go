// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Archiver copies a finished backup off the machine.
type Archiver interface {
	// Archive uploads every file in dir and returns the destination URI.
	Archive(ctx context.Context, dir string) (string, error)
	Close() error
}

// GCSConfig configures GCSArchiver.
type GCSConfig struct {
	Bucket          string
	Project         string
	CredentialsFile string

	// Prefix is prepended to object names. Default: unlearn-backups
	Prefix string
}

// GCSArchiver uploads backups to a Cloud Storage bucket as
// gs://<bucket>/<prefix>/<backup dir name>/<file>.
type GCSArchiver struct {
	client *storage.Client
	cfg    GCSConfig
	logger *slog.Logger
}

// NewGCSArchiver creates a Cloud Storage client. Without a credentials
// file, application default credentials are used.
func NewGCSArchiver(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSArchiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs archiver: bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "unlearn-backups"
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	return &GCSArchiver{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "transaction.GCSArchiver", "bucket", cfg.Bucket, "project", cfg.Project),
	}, nil
}

// Archive implements Archiver.
func (a *GCSArchiver) Archive(ctx context.Context, dir string) (string, error) {
	ctx, span := tracer.Start(ctx, "GCSArchiver.Archive")
	defer span.End()

	base := path.Join(a.cfg.Prefix, filepath.Base(dir))
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return a.upload(ctx, p, path.Join(base, d.Name()))
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	uri := fmt.Sprintf("gs://%s/%s", a.cfg.Bucket, base)
	a.logger.Info("backup archived", "uri", uri)
	return uri, nil
}

func (a *GCSArchiver) upload(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	w := a.client.Bucket(a.cfg.Bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("uploading %s to %s: %w", localPath, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing %s: %w", object, err)
	}
	return nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
