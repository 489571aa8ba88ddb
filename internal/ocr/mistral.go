// Package ocr runs scanned documents through the Mistral OCR API.
package ocr

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
	"sort"
	"strings"
	"time"

	"github.com/toricodesthings/compound-association-service/internal/logging"
)

type Page struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type Response struct {
	Pages     []Page    `json:"pages"`
	Model     string    `json:"model"`
	UsageInfo UsageInfo `json:"usage_info"`
}

type UsageInfo struct {
	PagesProcessed int  `json:"pages_processed"`
	DocSizeBytes   *int `json:"doc_size_bytes"`
}

// Lines returns every non-blank markdown line across pages, in page order.
func (r Response) Lines() []string {
	pages := append([]Page(nil), r.Pages...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	var out []string
	for _, p := range pages {
		for _, l := range strings.Split(p.Markdown, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
	}
	return out
}

// Markdown joins page markdown in page order.
func (r Response) Markdown() string {
	pages := append([]Page(nil), r.Pages...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Markdown)
	}
	return strings.Join(parts, "\n")
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const (
	DefaultAPIURL  = "https://api.mistral.ai/v1/ocr"
	DefaultModel   = "mistral-ocr-latest"
	maxRetries     = 2
	retryDelay     = 2 * time.Second
	requestTimeout = 120 * time.Second
	// Inline documents are sent as data URIs; keep them well under the
	// provider's request cap.
	maxInlineBytes = 50 << 20
)

// ErrNotConfigured is returned by every call on a Client without an API key.
var ErrNotConfigured = errors.New("MISTRAL_API_KEY not configured")

type Options struct {
	APIKey     string
	APIURL     string
	Model      string
	RetryDelay time.Duration
	HTTPClient *http.Client
}

type Client struct {
	opts Options
	http *http.Client
	log  logging.Logger
}

func New(opts Options, log logging.Logger) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = retryDelay
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Client{opts: opts, http: hc, log: logging.OrNop(log)}
}

// Configured reports whether calls can succeed at all.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.opts.APIKey) != ""
}

// RunDocument OCRs a local PDF, sent inline as a base64 data URI. pages1
// are 1-based page numbers; empty means every page.
func (c *Client) RunDocument(ctx context.Context, pdfPath string, pages1 []int) (Response, error) {
	if !c.Configured() {
		return Response{}, ErrNotConfigured
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return Response{}, fmt.Errorf("read document: %w", err)
	}
	if len(data) > maxInlineBytes {
		return Response{}, fmt.Errorf("document too large for inline OCR: %dMB", len(data)>>20)
	}
	uri := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data)
	return c.RunURL(ctx, uri, pages1)
}

// RunURL OCRs a document reachable at url (https or data URI).
func (c *Client) RunURL(ctx context.Context, url string, pages1 []int) (Response, error) {
	if !c.Configured() {
		return Response{}, ErrNotConfigured
	}
	if url == "" {
		return Response{}, fmt.Errorf("document URL required")
	}

	pages0, err := zeroIndexed(pages1)
	if err != nil {
		return Response{}, err
	}

	body := map[string]any{
		"model": c.opts.Model,
		"document": map[string]any{
			"type":         "document_url",
			"document_url": url,
		},
	}
	if len(pages0) > 0 {
		body["pages"] = pages0
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal: %w", err)
	}

	return limited(ctx, func() (Response, error) {
		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return Response{}, ctx.Err()
				case <-time.After(c.opts.RetryDelay * time.Duration(attempt)):
				}
			}

			result, err := c.execute(ctx, bodyBytes)
			if err == nil {
				return result, nil
			}
			lastErr = err
			c.log.Debug("ocr attempt failed", logging.Int("attempt", attempt+1), logging.Err(err))

			// Don't retry client errors (4xx)
			if isClientError(err) {
				break
			}
		}
		return Response{}, fmt.Errorf("OCR failed after %d attempts: %w", maxRetries+1, lastErr)
	})
}

func (c *Client) execute(ctx context.Context, bodyBytes []byte) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.opts.APIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "compound-association/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, parseErrorResponse(resp)
	}

	// Parse response (limit to 100MB)
	var result Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 100<<20)).Decode(&result); err != nil {
		return Response{}, fmt.Errorf("decode: %w", err)
	}

	if len(result.Pages) == 0 {
		return Response{}, fmt.Errorf("OCR returned no pages")
	}
	for i, page := range result.Pages {
		if page.Index < 0 {
			return Response{}, fmt.Errorf("invalid page index at %d: %d", i, page.Index)
		}
		if len(page.Markdown) > 10<<20 {
			return Response{}, fmt.Errorf("page %d markdown too large: %dMB", page.Index, len(page.Markdown)/(1<<20))
		}
	}
	return result, nil
}

func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp mistralErrorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error.Message != "" {
		return &OCRError{
			StatusCode: resp.StatusCode,
			Message:    errResp.Error.Message,
			Type:       errResp.Error.Type,
		}
	}
	return &OCRError{
		StatusCode: resp.StatusCode,
		Message:    string(bodyBytes),
		Type:       "unknown",
	}
}

type OCRError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *OCRError) Error() string {
	return fmt.Sprintf("mistral OCR %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

func isClientError(err error) bool {
	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return ocrErr.StatusCode >= 400 && ocrErr.StatusCode < 500
	}
	return false
}

func zeroIndexed(pages1 []int) ([]int, error) {
	if len(pages1) == 0 {
		return nil, nil
	}
	seen := make(map[int]bool, len(pages1))
	out := make([]int, 0, len(pages1))
	for _, p := range pages1 {
		if p < 1 || p > 10000 {
			return nil, fmt.Errorf("invalid page: %d", p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p-1)
		}
	}
	sort.Ints(out)
	return out, nil
}
