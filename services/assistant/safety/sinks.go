// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"google.golang.org/api/option"
)

// =============================================================================
// Audit Sinks
// =============================================================================

// JSONLSink appends records as JSON lines to a local file — the simplest
// durable mirror, enabled by APP_AUDIT_LOG_PATH.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink builds a file sink at path.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// Name implements Sink.
func (s *JSONLSink) Name() string { return "jsonl" }

// Write implements Sink.
func (s *JSONLSink) Write(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("safety: encode audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("safety: open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("safety: append audit log: %w", err)
	}
	return nil
}

// InfluxSink mirrors decisions into InfluxDB for dashboarding: one point per
// record, tagged by kind/method/decision with the reasons as a field.
type InfluxSink struct {
	writeAPI influxapi.WriteAPIBlocking
	client   influxdb2.Client
	timeout  time.Duration
}

// NewInfluxSink connects to InfluxDB v2.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		writeAPI: client.WriteAPIBlocking(org, bucket),
		client:   client,
		timeout:  5 * time.Second,
	}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Write implements Sink.
func (s *InfluxSink) Write(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	point := influxdb2.NewPoint(
		"audit",
		map[string]string{
			"kind":     rec.Kind,
			"method":   rec.Method,
			"decision": rec.Decision,
		},
		map[string]any{
			"path":    rec.Path,
			"reasons": strings.Join(rec.Reasons, "; "),
		},
		rec.Time,
	)
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("safety: influx write: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// GCSSink archives each record as its own object under a date-partitioned
// prefix. Object names carry a UUID so concurrent writers never collide.
type GCSSink struct {
	bucket  *storage.BucketHandle
	prefix  string
	timeout time.Duration
}

// NewGCSSink builds a Cloud Storage sink writing under
// gs://<bucket>/<prefix>/YYYY-MM-DD/<uuid>.json.
//
// Credentials come from the ambient environment (ADC), or from the service
// account key file named by AUDIT_GCS_CREDENTIALS_FILE when set.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	var clientOpts []option.ClientOption
	if creds := os.Getenv("AUDIT_GCS_CREDENTIALS_FILE"); creds != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(creds))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("safety: gcs client: %w", err)
	}
	return &GCSSink{
		bucket:  client.Bucket(bucket),
		prefix:  strings.Trim(prefix, "/"),
		timeout: 10 * time.Second,
	}, nil
}

// Name implements Sink.
func (s *GCSSink) Name() string { return "gcs" }

// Write implements Sink.
func (s *GCSSink) Write(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("safety: encode audit record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	name := fmt.Sprintf("%s/%s/%s.json", s.prefix, rec.Time.UTC().Format("2006-01-02"), uuid.NewString())
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("safety: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("safety: gcs close: %w", err)
	}
	return nil
}
