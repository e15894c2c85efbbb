// Package archive implements the Paperless-ngx-style archive adapter
// (spec.md §4.8): async upload returning a task_id, Sonarr-style polling
// verification, and a bounded pending-metadata cache applied as custom
// fields once verification succeeds.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

var _ backend.Archive = (*Backend)(nil)

// PendingCache stores metadata keyed by task_id between archive and
// verify (spec.md §4.8, §9 "Open question"). MemoryCache bounds it at
// capacity with oldest-first eviction; RedisCache has no capacity bound
// and lets entries expire after a TTL.
type PendingCache interface {
	Put(ctx context.Context, taskID string, metadata map[string]any)
	PopAndGet(ctx context.Context, taskID string) (map[string]any, bool)
}

// Backend is the Paperless-ngx archive adapter.
type Backend struct {
	url     string
	token   string
	client  *http.Client
	logger  *slog.Logger
	pending PendingCache
}

// Config configures a Backend.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
	Pending PendingCache // defaults to NewMemoryCache(100) if nil
}

// New constructs a paperless Backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	pending := cfg.Pending
	if pending == nil {
		pending = NewMemoryCache(100)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Backend{
		url:     strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		pending: pending,
	}
}

func (b *Backend) Name() string { return "paperless" }

func (b *Backend) IsConfigured() bool { return b.url != "" && b.token != "" }

// IsAvailable defaults to IsConfigured; Paperless has no cheap standalone
// liveness endpoint worth an extra round trip before every archive call.
func (b *Backend) IsAvailable(_ context.Context) bool { return b.IsConfigured() }

// Archive uploads path to Paperless, stashing metadata for deferred
// custom-field application.
func (b *Backend) Archive(ctx context.Context, path, title string, created, correspondent string, tags []string, metadata map[string]any) (domain.ArchiveResult, error) {
	if !b.IsConfigured() {
		errMsg := "Paperless not configured (missing URL or token)"
		b.logger.Error(errMsg)
		return domain.NewArchiveFailure(errMsg, b.Name())
	}

	if _, err := os.Stat(path); err != nil {
		errMsg := fmt.Sprintf("File not found: %s", path)
		b.logger.Error(errMsg)
		return domain.NewArchiveFailure(errMsg, b.Name())
	}

	createdNormalized := normalizeCreated(created, b.logger)

	taskID, err := b.postDocument(ctx, path, title, createdNormalized, correspondent, tags)
	if err != nil {
		errMsg := err.Error()
		b.logger.Error(errMsg)
		return domain.NewArchiveFailure(errMsg, b.Name())
	}
	if taskID == "" {
		errMsg := "Paperless upload failed (no task_id returned)"
		b.logger.Error(errMsg)
		return domain.NewArchiveFailure(errMsg, b.Name())
	}

	if len(metadata) > 0 {
		b.pending.Put(ctx, taskID, metadata)
	}

	b.logger.Info("document archived to Paperless", "task_id", taskID)
	return domain.NewArchiveSuccess(taskID, fmt.Sprintf("%s/tasks/%s", b.url, taskID), b.Name())
}

// normalizeCreated normalizes a trailing 'Z' to '+00:00' and validates
// ISO-8601 parseability; on parse failure it logs a warning and returns ""
// (continue with no date), matching spec.md §4.8 step 2.
func normalizeCreated(created string, logger *slog.Logger) string {
	if created == "" {
		return ""
	}
	normalized := created
	if strings.HasSuffix(created, "Z") {
		normalized = created[:len(created)-1] + "+00:00"
	}
	if _, err := time.Parse(time.RFC3339, normalized); err != nil {
		logger.Warn("invalid date format", "created", created, "error", err)
		return ""
	}
	return normalized
}

func (b *Backend) postDocument(ctx context.Context, path, title, created, correspondent string, tags []string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}

	_ = mw.WriteField("title", title)
	if created != "" {
		_ = mw.WriteField("created", created)
	}
	if correspondent != "" {
		_ = mw.WriteField("correspondent", correspondent)
	}
	for _, t := range tags {
		_ = mw.WriteField("tags", t)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/api/documents/post_document/", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Token "+b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paperless upload returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	taskID := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return taskID, nil
}

type taskStatusResponse struct {
	Status          string `json:"status"`
	RelatedDocument *int   `json:"related_document"`
}

// Verify polls the task endpoint at a fixed 2s interval until a concrete
// document id appears or timeout elapses. Regardless of outcome, pending
// metadata for this task is always removed from the cache; if present and
// verification succeeded, it is applied as custom fields (failures here
// are logged at warning level and never change the overall result).
func (b *Backend) Verify(ctx context.Context, documentID string, timeout int) bool {
	if !b.IsConfigured() {
		b.logger.Error("cannot verify - Paperless not configured")
		return false
	}

	verifiedID := b.pollTask(ctx, documentID, time.Duration(timeout)*time.Second, 2*time.Second)

	pending, hadPending := b.pending.PopAndGet(ctx, documentID)

	if verifiedID != "" && hadPending {
		if err := b.setCustomFields(ctx, verifiedID, pending); err != nil {
			b.logger.Warn("failed to set custom fields", "error", err)
		}
	}

	return verifiedID != ""
}

func (b *Backend) pollTask(ctx context.Context, taskID string, timeout, interval time.Duration) string {
	deadline := time.Now().Add(timeout)
	for {
		id, done := b.checkTask(ctx, taskID)
		if done {
			return id
		}
		if time.Now().After(deadline) {
			return ""
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(interval):
		}
	}
}

func (b *Backend) checkTask(ctx context.Context, taskID string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url+"/api/tasks/?task_id="+taskID, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Authorization", "Token "+b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}

	var tasks []taskStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil || len(tasks) == 0 {
		return "", false
	}
	t := tasks[0]
	if t.RelatedDocument != nil {
		return strconv.Itoa(*t.RelatedDocument), true
	}
	return "", false
}

func (b *Backend) setCustomFields(ctx context.Context, documentID string, fields map[string]any) error {
	payload, err := json.Marshal(map[string]any{"custom_fields": fields})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, b.url+"/api/documents/"+documentID+"/", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("set custom fields returned status %d", resp.StatusCode)
	}
	return nil
}
