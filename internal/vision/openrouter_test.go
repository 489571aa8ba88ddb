package vision

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

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "p1_img1.png")
	require.NoError(t, os.WriteFile(p, pngHeader, 0o600))
	return p
}

func completion(content string) map[string]any {
	return map[string]any{
		"id": "x",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestRecognize(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(completion(`{"smiles":" c1ccccc1O "}`))
	}))
	defer srv.Close()

	r := New(Options{APIKey: "key", APIURL: srv.URL, Model: "vm", MaxConcurrent: 2}, nil)
	got, err := r.Recognize(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "c1ccccc1O", got)

	assert.Equal(t, "vm", body["model"])
	msgs := body["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	url := content[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestRecognizeFencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion("```json\n{\"smiles\":\"CCO\"}\n```"))
	}))
	defer srv.Close()

	got, err := New(Options{APIKey: "k", APIURL: srv.URL}, nil).Recognize(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "CCO", got)
}

func TestRecognizeEmptyIsNoStructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion(`{"smiles":""}`))
	}))
	defer srv.Close()

	_, err := New(Options{APIKey: "k", APIURL: srv.URL}, nil).Recognize(context.Background(), writeImage(t))
	assert.ErrorIs(t, err, ErrNoStructure)
}

func TestRecognizeClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":402,"message":"insufficient credits"}}`))
	}))
	defer srv.Close()

	_, err := New(Options{APIKey: "k", APIURL: srv.URL, RetryDelay: time.Millisecond}, nil).Recognize(context.Background(), writeImage(t))
	var ve *VisionError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "402", ve.Code)
	assert.Equal(t, "insufficient credits", ve.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRecognizeServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(completion(`{"smiles":"N"}`))
	}))
	defer srv.Close()

	got, err := New(Options{APIKey: "k", APIURL: srv.URL, RetryDelay: time.Millisecond}, nil).Recognize(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "N", got)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRecognizeInlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":"moderation","message":"flagged"}}`))
	}))
	defer srv.Close()

	_, err := New(Options{APIKey: "k", APIURL: srv.URL, RetryDelay: time.Millisecond}, nil).Recognize(context.Background(), writeImage(t))
	var ve *VisionError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "moderation", ve.Code)
}

func TestRecognizeNotConfigured(t *testing.T) {
	_, err := New(Options{}, nil).Recognize(context.Background(), "x.png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRecognizeMissingImage(t *testing.T) {
	_, err := New(Options{APIKey: "k"}, nil).Recognize(context.Background(), filepath.Join(t.TempDir(), "none.png"))
	assert.Error(t, err)
}
