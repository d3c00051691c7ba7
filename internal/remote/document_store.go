// Package remote is the client boundary for the hosted document store that
// queued offline writes are replayed against.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Write is one document mutation.
type Write struct {
	Collection string                 `json:"collection"`
	Operation  string                 `json:"operation"`
	DocumentID string                 `json:"document_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// DocumentStore applies writes to the remote store and returns the remote
// document id.
type DocumentStore interface {
	Write(ctx context.Context, w Write) (string, error)
}

// StatusError is a non-2xx answer from the remote store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("document store returned %d", e.StatusCode)
	}
	return fmt.Sprintf("document store returned %d: %s", e.StatusCode, e.Body)
}

// ErrNotConfigured is returned when no remote endpoint is set.
var ErrNotConfigured = errors.New("document store not configured")

// IsTransient reports whether a failed write is worth retrying later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// HTTPDocumentStore is a REST client for the document store.
type HTTPDocumentStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPDocumentStore constructs the client. An empty baseURL makes every
// write fail with ErrNotConfigured, so callers queue instead.
func NewHTTPDocumentStore(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPDocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDocumentStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type writeResponse struct {
	ID string `json:"id"`
}

// Write sends a single mutation. Deletes and updates address the document
// path; creates post to the collection.
func (s *HTTPDocumentStore) Write(ctx context.Context, w Write) (string, error) {
	if s.baseURL == "" {
		return "", ErrNotConfigured
	}
	method, path := route(w)
	var body io.Reader
	if w.Operation != "delete" {
		raw, err := json.Marshal(w.Payload)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("document store %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Debug("document store rejected write",
			zap.String("collection", w.Collection),
			zap.String("operation", w.Operation),
			zap.Int("status", resp.StatusCode))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out writeResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return "", fmt.Errorf("decode document store response: %w", err)
		}
	}
	if out.ID == "" {
		out.ID = w.DocumentID
	}
	return out.ID, nil
}

func route(w Write) (string, string) {
	path := "/v1/collections/" + w.Collection + "/documents"
	switch w.Operation {
	case "update":
		return http.MethodPatch, path + "/" + w.DocumentID
	case "delete":
		return http.MethodDelete, path + "/" + w.DocumentID
	default:
		if w.DocumentID != "" {
			return http.MethodPut, path + "/" + w.DocumentID
		}
		return http.MethodPost, path
	}
}
