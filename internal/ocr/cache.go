package ocr

import (
	"context"
	"fmt"
	"sync"
)

// Runner is the subset of Client the cache wraps.
type Runner interface {
	Configured() bool
	RunDocument(ctx context.Context, pdfPath string, pages1 []int) (Response, error)
}

// Cache memoizes RunDocument per document so the tasks working on one
// document share OCR passes. A page subset is served from a cached
// whole-document response when there is one. Errors are not cached.
type Cache struct {
	inner Runner

	mu      sync.Mutex
	results map[string]map[string]Response
}

func NewCache(inner Runner) *Cache {
	return &Cache{inner: inner, results: make(map[string]map[string]Response)}
}

func (c *Cache) Configured() bool {
	return c.inner != nil && c.inner.Configured()
}

func (c *Cache) RunDocument(ctx context.Context, pdfPath string, pages1 []int) (Response, error) {
	if !c.Configured() {
		return Response{}, ErrNotConfigured
	}
	key := fmt.Sprint(pages1)

	c.mu.Lock()
	byPages := c.results[pdfPath]
	if r, ok := byPages[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	if full, ok := byPages[fmt.Sprint([]int(nil))]; ok && len(pages1) > 0 {
		c.mu.Unlock()
		return full.subset(pages1), nil
	}
	c.mu.Unlock()

	resp, err := c.inner.RunDocument(ctx, pdfPath, pages1)
	if err != nil {
		return Response{}, err
	}
	c.mu.Lock()
	if c.results[pdfPath] == nil {
		c.results[pdfPath] = make(map[string]Response)
	}
	c.results[pdfPath][key] = resp
	c.mu.Unlock()
	return resp, nil
}

// Forget drops every cached response for pdfPath.
func (c *Cache) Forget(pdfPath string) {
	c.mu.Lock()
	delete(c.results, pdfPath)
	c.mu.Unlock()
}

// subset keeps the pages whose 1-based number is in pages1.
func (r Response) subset(pages1 []int) Response {
	want := make(map[int]bool, len(pages1))
	for _, p := range pages1 {
		want[p] = true
	}
	out := Response{Model: r.Model, UsageInfo: r.UsageInfo}
	for _, p := range r.Pages {
		if want[p.Index+1] {
			out.Pages = append(out.Pages, p)
		}
	}
	return out
}
