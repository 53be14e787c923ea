// Package gcs_test contains unit tests for the gcs package.
package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/clipstream/clipcrawler/internal/storage/gcs"
)

// newTestStore creates a BlobStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler) (*gcs.BlobStore, func()) {
	t.Helper()

	server := httptest.NewServer(handler)

	client, err := gstorage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := gcs.New(client, gcs.Config{Bucket: "test-bucket"})
	require.NoError(t, err)

	return store, server.Close
}

func TestPutObject(t *testing.T) {
	objectPath := "snapshots/alice/7301/abc123.json"
	snapshot := `{"comments":["first!"]}`

	// This handler simulates the GCS JSON API for multipart uploads.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, objectPath, r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), snapshot)

		fmt.Fprintln(w, `{ "name": "`+objectPath+`" }`)
	})

	store, cleanup := newTestStore(t, handler)
	defer cleanup()

	uri, err := store.PutObject(context.Background(), objectPath, "application/json", strings.NewReader(snapshot))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/"+objectPath, uri)
}

func TestPutObject_ServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store, cleanup := newTestStore(t, handler)
	defer cleanup()

	_, err := store.PutObject(context.Background(), "snapshots/alice/7301/abc123.json", "application/json", strings.NewReader("{}"))
	assert.Error(t, err)
}

func TestPutObject_EmptyPath(t *testing.T) {
	handler := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected for an empty path")
	})

	store, cleanup := newTestStore(t, handler)
	defer cleanup()

	_, err := store.PutObject(context.Background(), "  ", "application/json", strings.NewReader("{}"))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client := &gstorage.Client{}
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}
