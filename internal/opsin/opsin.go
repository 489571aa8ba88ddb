// Package opsin translates systematic chemical names to SMILES through an
// OPSIN web service.
package opsin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/pairing"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

const DefaultBaseURL = "https://opsin.ch.cam.ac.uk/opsin"

// ErrNoStructure means OPSIN could not parse the name.
var ErrNoStructure = errors.New("opsin: name not translatable")

type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("opsin %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	BaseURL   string
	RateEvery time.Duration
	RateBurst int
	Timeout   time.Duration
}

type result struct {
	smiles string
	err    error
}

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	log     logging.Logger

	mu    sync.Mutex
	cache map[string]result
}

func New(opts Options, log logging.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RateEvery <= 0 {
		opts.RateEvery = 200 * time.Millisecond
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Every(opts.RateEvery), opts.RateBurst),
		timeout: opts.Timeout,
		log:     logging.OrNop(log).Named("opsin"),
		cache:   make(map[string]result),
	}
}

type opsinResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	SMILES  string `json:"smiles"`
}

// Translate returns the SMILES for name. Definitive answers, including
// ErrNoStructure, are cached for the life of the client.
func (c *Client) Translate(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNoStructure
	}

	c.mu.Lock()
	if r, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return r.smiles, r.err
	}
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	smiles, err := c.fetch(ctx, name)
	if err == nil || errors.Is(err, ErrNoStructure) {
		c.mu.Lock()
		c.cache[name] = result{smiles: smiles, err: err}
		c.mu.Unlock()
	}
	return smiles, err
}

func (c *Client) fetch(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.base + "/" + url.PathEscape(name) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var body opsinResponse
	decodeErr := json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// OPSIN answers 404 for names it cannot parse.
		return "", ErrNoStructure
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := body.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &Error{StatusCode: resp.StatusCode, Message: msg}
	case decodeErr != nil:
		return "", fmt.Errorf("decode: %w", decodeErr)
	case strings.TrimSpace(body.SMILES) == "":
		return "", ErrNoStructure
	}
	return strings.TrimSpace(body.SMILES), nil
}

// Structures translates every pair's name and returns structure records in
// pair order. Untranslatable names are skipped; other failures are logged.
func (c *Client) Structures(ctx context.Context, pairs []pairing.Pair) []types.ExtractionRecord {
	var out []types.ExtractionRecord
	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		smiles, err := c.Translate(ctx, p.Name)
		if err != nil {
			if !errors.Is(err, ErrNoStructure) {
				c.log.Warn("name translation failed",
					logging.String("collaborator", "opsin"),
					logging.String("item", p.Name),
					logging.Err(err))
			}
			continue
		}
		out = append(out, types.ExtractionRecord{
			Identifier: p.ID,
			Field:      types.FieldStructure,
			Value:      smiles,
			Source:     types.SourceOPSIN,
		})
	}
	return out
}
