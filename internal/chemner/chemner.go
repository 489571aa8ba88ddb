// Package chemner finds candidate chemical names in a paragraph, either via
// a remote recognition service or with a local nomenclature heuristic.
package chemner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/pairing"
)

type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chemner %d: %s", e.StatusCode, e.Message)
}

func isClientError(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.StatusCode >= 400 && ce.StatusCode < 500
	}
	return false
}

const (
	maxRetries = 2
	retryDelay = 500 * time.Millisecond
)

// HTTPExtractor POSTs {"text": paragraph} and expects [{"names": [...]}].
type HTTPExtractor struct {
	url        string
	http       *http.Client
	retryDelay time.Duration
	log        logging.Logger
}

func NewHTTP(url string, timeout time.Duration, log logging.Logger) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		url:        strings.TrimSpace(url),
		http:       &http.Client{Timeout: timeout},
		retryDelay: retryDelay,
		log:        logging.OrNop(log).Named("chemner"),
	}
}

func (h *HTTPExtractor) ExtractNames(ctx context.Context, paragraph string) ([]pairing.Compound, error) {
	body, err := json.Marshal(map[string]string{"text": paragraph})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(h.retryDelay * time.Duration(attempt)):
			}
		}
		out, err := h.do(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if isClientError(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("name extraction failed: %w", lastErr)
}

func (h *HTTPExtractor) do(ctx context.Context, body []byte) ([]pairing.Compound, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	var out []pairing.Compound
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// MinLocalTokenLength is the shortest token LocalExtractor considers.
const MinLocalTokenLength = 6

// Morphemes that mark systematic nomenclature.
var morphemes = []string{
	"yl", "amino", "amido", "oxy", "oxo", "phen", "pyr", "benz", "indol",
	"azol", "azin", "carb", "sulf", "fluor", "chlor", "brom", "iod", "nitr",
	"hydr", "meth", "eth", "prop", "but", "cyclo", "ane", "ene", "yne",
	"ine", "ide", "ol", "one", "al", "acid", "ate",
}

// LocalExtractor needs no network. Each whitespace token of at least
// MinLocalTokenLength characters that contains a nomenclature morpheme and
// at least one letter becomes a one-name compound, in paragraph order.
type LocalExtractor struct{}

func NewLocal() LocalExtractor { return LocalExtractor{} }

func (LocalExtractor) ExtractNames(_ context.Context, paragraph string) ([]pairing.Compound, error) {
	var out []pairing.Compound
	for _, tok := range strings.Fields(paragraph) {
		tok = strings.Trim(tok, ".,;")
		if len(tok) < MinLocalTokenLength || !looksSystematic(tok) {
			continue
		}
		out = append(out, pairing.Compound{Names: []string{tok}})
	}
	return out, nil
}

func looksSystematic(tok string) bool {
	lower := strings.ToLower(tok)
	if strings.IndexFunc(lower, func(r rune) bool { return r >= 'a' && r <= 'z' }) < 0 {
		return false
	}
	for _, m := range morphemes {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
