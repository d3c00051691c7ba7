package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDocumentStoreCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/collections/progress/documents", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "lesson-1", payload["content_id"])

		_, _ = w.Write([]byte(`{"id":"doc-9"}`))
	}))
	defer server.Close()

	store := NewHTTPDocumentStore(server.URL, "secret", time.Second, nil)
	id, err := store.Write(context.Background(), Write{
		Collection: "progress",
		Operation:  "create",
		Payload:    map[string]interface{}{"content_id": "lesson-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-9", id)
}

func TestHTTPDocumentStoreDeleteKeepsDocumentID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/collections/notes/documents/n-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewHTTPDocumentStore(server.URL, "", time.Second, nil)
	id, err := store.Write(context.Background(), Write{Collection: "notes", Operation: "delete", DocumentID: "n-1"})
	require.NoError(t, err)
	assert.Equal(t, "n-1", id)
}

func TestHTTPDocumentStoreClassifiesFailures(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()
	store := NewHTTPDocumentStore(server.URL, "", time.Second, nil)

	_, err := store.Write(context.Background(), Write{Collection: "c", Operation: "create"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	status.Store(http.StatusUnprocessableEntity)
	_, err = store.Write(context.Background(), Write{Collection: "c", Operation: "create"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	unconfigured := NewHTTPDocumentStore("", "", 0, nil)
	_, err := unconfigured.Write(context.Background(), Write{Collection: "c", Operation: "create"})
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.True(t, IsTransient(err))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("bad payload")))
	assert.True(t, IsTransient(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, IsTransient(&StatusError{StatusCode: http.StatusForbidden}))
}
