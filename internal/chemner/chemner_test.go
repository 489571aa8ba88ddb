package chemner

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

	"github.com/toricodesthings/compound-association-service/internal/pairing"
)

func TestHTTPExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "2-chlorophenol was stirred", in["text"])
		_, _ = w.Write([]byte(`[{"names":["2-chlorophenol"]},{"names":[]}]`))
	}))
	defer srv.Close()

	out, err := NewHTTP(srv.URL, time.Second, nil).ExtractNames(context.Background(), "2-chlorophenol was stirred")
	require.NoError(t, err)
	assert.Equal(t, []pairing.Compound{{Names: []string{"2-chlorophenol"}}, {Names: []string{}}}, out)
}

func TestHTTPExtractorClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad text", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, time.Second, nil).ExtractNames(context.Background(), "x")
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusUnprocessableEntity, ce.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestHTTPExtractorRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, time.Second, nil)
	h.retryDelay = time.Millisecond
	out, err := h.ExtractNames(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestHTTPExtractorBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"names":`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, time.Second, nil)
	h.retryDelay = time.Millisecond
	_, err := h.ExtractNames(context.Background(), "x")
	assert.Error(t, err)
}

func TestLocalExtractor(t *testing.T) {
	t.Parallel()

	out, err := NewLocal().ExtractNames(context.Background(),
		"4-(1-methylethyl)benzoic acid was added to the flask, then 2-chlorophenol. Yield 95 %")
	require.NoError(t, err)

	var names []string
	for _, c := range out {
		names = append(names, c.Names[0])
	}
	assert.Equal(t, []string{"4-(1-methylethyl)benzoic", "2-chlorophenol"}, names)
}

func TestLocalExtractorRejectsNumbers(t *testing.T) {
	t.Parallel()

	out, err := NewLocal().ExtractNames(context.Background(), "123456 ------ 1,2,3,4")
	require.NoError(t, err)
	assert.Empty(t, out)
}
