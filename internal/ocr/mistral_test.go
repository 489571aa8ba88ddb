package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePDF(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 test"), 0o600))
	return p
}

func TestRunDocumentSendsDataURI(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Response{Pages: []Page{
			{Index: 1, Markdown: "Example 2 40\n\n"},
			{Index: 0, Markdown: "  Example 1 1,200 \nTitle"},
		}})
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", APIURL: srv.URL, Model: "m"}, nil)
	resp, err := c.RunDocument(context.Background(), writePDF(t), []int{2, 1, 2})
	require.NoError(t, err)

	doc := got["document"].(map[string]any)
	assert.Equal(t, "document_url", doc["type"])
	assert.True(t, strings.HasPrefix(doc["document_url"].(string), "data:application/pdf;base64,"))
	assert.Equal(t, []any{float64(0), float64(1)}, got["pages"])
	assert.Equal(t, "m", got["model"])

	assert.Equal(t, []string{"Example 1 1,200", "Title", "Example 2 40"}, resp.Lines())
	assert.Equal(t, "  Example 1 1,200 \nTitle\nExample 2 40\n\n", resp.Markdown())
}

func TestRunURLDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", APIURL: srv.URL, RetryDelay: time.Millisecond}, nil)
	_, err := c.RunURL(context.Background(), "https://example.com/a.pdf", nil)
	require.Error(t, err)

	var ocrErr *OCRError
	require.True(t, errors.As(err, &ocrErr))
	assert.Equal(t, http.StatusUnauthorized, ocrErr.StatusCode)
	assert.Equal(t, "bad key", ocrErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunURLRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Pages: []Page{{Index: 0, Markdown: "ok"}}})
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", APIURL: srv.URL, RetryDelay: time.Millisecond}, nil)
	resp, err := c.RunURL(context.Background(), "https://example.com/a.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, resp.Lines())
	assert.EqualValues(t, 3, calls.Load())
}

func TestNotConfigured(t *testing.T) {
	c := New(Options{}, nil)
	assert.False(t, c.Configured())
	_, err := c.RunDocument(context.Background(), "x.pdf", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestInvalidPage(t *testing.T) {
	c := New(Options{APIKey: "k"}, nil)
	_, err := c.RunURL(context.Background(), "https://example.com/a.pdf", []int{0})
	assert.Error(t, err)
}

func TestConcurrencyLimit(t *testing.T) {
	SetConcurrencyLimit(1)
	t.Cleanup(func() { SetConcurrencyLimit(0) })

	sem := slots.Load()
	require.NotNil(t, sem)
	require.True(t, sem.TryAcquire(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := limited(ctx, func() (Response, error) { return Response{}, nil })
	assert.ErrorIs(t, err, context.Canceled)

	sem.Release(1)
	got, err := limited(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	SetConcurrencyLimit(0)
	assert.Nil(t, slots.Load())
}
