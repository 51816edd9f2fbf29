// Package worker dispatches heavy-lane jobs to the external, out-of-process
// worker pool over HTTP (spec.md §4.3, §4.5.2). The worker itself is a black
// box; it reports back asynchronously via POST /internal/callback.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// Config configures the HTTP dispatcher, grounded on the teacher's
// configured-timeout http.Client idiom in infra/uploadask/embedder/chatgpt.go.
type Config struct {
	DispatchURL string
	CallbackURL string
	Timeout     time.Duration
}

// Dispatcher POSTs a job payload to the external worker pool and treats a
// non-2xx response or a timeout as a dispatch failure (spec.md §4.5.2).
type Dispatcher struct {
	cfg    Config
	client *http.Client
}

// New constructs a Dispatcher with the configured per-attempt timeout.
func New(cfg Config) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type dispatchPayload struct {
	DocumentID        string `json:"documentId"`
	FilePath          string `json:"filePath"`
	Format            string `json:"format"`
	SnapshotProfileID string `json:"snapshotProfileId"`
	CallbackURL       string `json:"callbackUrl"`
}

// Handle satisfies ingest.JobHandler: it is installed via JobQueue.SetHandler
// so the queue's retry/lease machinery wraps every dispatch attempt.
func (d *Dispatcher) Handle(ctx context.Context, job ingest.Job) error {
	payload := dispatchPayload{
		DocumentID:        job.DocumentID.String(),
		FilePath:          job.StoragePath,
		Format:            job.Format,
		SnapshotProfileID: job.SnapshotProfileID.String(),
		CallbackURL:       d.cfg.CallbackURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.DispatchURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker dispatch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker dispatch rejected with status %d", resp.StatusCode)
	}
	return nil
}

var _ ingest.JobHandler = (&Dispatcher{}).Handle
