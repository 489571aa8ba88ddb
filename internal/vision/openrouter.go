// Package vision reads chemical structure drawings with a vision model served
// through OpenRouter and returns their SMILES notation.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/compound-association-service/internal/logging"
)

// ── Config ───────────────────────────────────────────────────────────────────

const (
	DefaultAPIURL  = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel   = "google/gemma-3-27b-it"
	maxRetries     = 1
	retryDelay     = 2 * time.Second
	defaultTimeout = 60 * time.Second
	maxImageBytes  = 20 << 20
)

const recognitionPrompt = `The image shows a single chemical structure drawing cut from a patent page.
Transcribe the depicted molecule as one SMILES string. Respond ONLY with the requested JSON.
If the image does not show a molecular structure, return an empty string for "smiles".`

var recognitionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "structure_recognition",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"smiles": map[string]any{
					"type":        "string",
					"description": "SMILES for the drawn molecule, empty when none is drawn",
				},
			},
			"required":             []string{"smiles"},
			"additionalProperties": false,
		},
	},
}

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("OPENROUTER_API_KEY not configured")

// ErrNoStructure is returned when the model saw no molecule.
var ErrNoStructure = errors.New("no structure recognized")

// ── OpenRouter response types ────────────────────────────────────────────────

type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Choices []chatCompletionChoice  `json:"choices"`
	Error   *openRouterErrorPayload `json:"error,omitempty"`
}

type chatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      chatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterErrorPayload struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

type recognitionResult struct {
	Smiles string `json:"smiles"`
}

// ── Error type ───────────────────────────────────────────────────────────────

type VisionError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *VisionError) Error() string {
	return fmt.Sprintf("openrouter vision %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func isClientError(err error) bool {
	var ve *VisionError
	if errors.As(err, &ve) {
		return ve.StatusCode >= 400 && ve.StatusCode < 500
	}
	return false
}

// ── Public API ───────────────────────────────────────────────────────────────

type Options struct {
	APIKey     string
	APIURL     string
	Model      string
	Timeout    time.Duration
	RetryDelay time.Duration
	// MaxConcurrent bounds in-flight requests across all documents; <= 0
	// means unbounded.
	MaxConcurrent int64
	HTTPClient    *http.Client
}

type Recognizer struct {
	opts Options
	http *http.Client
	sem  *semaphore.Weighted
	log  logging.Logger
}

func New(opts Options, log logging.Logger) *Recognizer {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = retryDelay
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	r := &Recognizer{opts: opts, http: hc, log: logging.OrNop(log).Named("vision")}
	if opts.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return r
}

func (r *Recognizer) Configured() bool {
	return r != nil && strings.TrimSpace(r.opts.APIKey) != ""
}

// Recognize sends the image at imagePath to the model and returns the SMILES
// it reads. ErrNoStructure means the model answered but saw no molecule.
func (r *Recognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	if !r.Configured() {
		return "", ErrNotConfigured
	}
	uri, err := dataURI(imagePath)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"model": r.opts.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "image_url", "image_url": map[string]any{"url": uri}},
					{"type": "text", "text": recognitionPrompt},
				},
			},
		},
		"response_format": recognitionSchema,
		"temperature":     0.0,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer r.sem.Release(1)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.opts.RetryDelay * time.Duration(attempt)):
			}
		}

		res, err := r.execute(ctx, bodyBytes)
		if err == nil {
			smiles := strings.TrimSpace(res.Smiles)
			if smiles == "" {
				return "", ErrNoStructure
			}
			return smiles, nil
		}
		lastErr = err
		r.log.Debug("recognition attempt failed", logging.String("image", filepath.Base(imagePath)), logging.Int("attempt", attempt+1), logging.Err(err))

		// Don't retry client errors (4xx)
		if isClientError(err) {
			break
		}
	}
	return "", fmt.Errorf("structure recognition failed after %d attempts: %w", maxRetries+1, lastErr)
}

// ── Internal ─────────────────────────────────────────────────────────────────

func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %dMB", maxImageBytes>>20)
	}
	mt := http.DetectContentType(data)
	if !strings.HasPrefix(mt, "image/") {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg":
			mt = "image/jpeg"
		default:
			mt = "image/png"
		}
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (r *Recognizer) execute(ctx context.Context, bodyBytes []byte) (recognitionResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.opts.APIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return recognitionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "compound-association/1.0")

	resp, err := r.http.Do(req)
	if err != nil {
		return recognitionResult{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return recognitionResult{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return recognitionResult{}, parseVisionError(resp.StatusCode, rawBody)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(rawBody, &completion); err != nil {
		return recognitionResult{}, fmt.Errorf("decode response: %w", err)
	}
	// OpenRouter can return 200 with an error object.
	if completion.Error != nil && completion.Error.Message != "" {
		return recognitionResult{}, &VisionError{
			StatusCode: resp.StatusCode,
			Code:       strings.Trim(string(completion.Error.Code), `"`),
			Message:    completion.Error.Message,
		}
	}
	if len(completion.Choices) == 0 {
		return recognitionResult{}, fmt.Errorf("empty choices in response")
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```json"), "```")
	var res recognitionResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &res); err != nil {
		return recognitionResult{}, fmt.Errorf("decode structured output: %w (raw: %.200s)", err, content)
	}
	return res, nil
}

func parseVisionError(statusCode int, body []byte) error {
	var errResp struct {
		Error openRouterErrorPayload `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return &VisionError{
			StatusCode: statusCode,
			Code:       strings.Trim(string(errResp.Error.Code), `"`),
			Message:    errResp.Error.Message,
		}
	}
	msg := string(body)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return &VisionError{StatusCode: statusCode, Code: "unknown", Message: msg}
}
