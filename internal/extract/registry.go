package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupported = errors.New("unsupported document type")

type Registry struct {
	byMIME      map[string]Extractor
	byExtension map[string]Extractor
	extractors  []Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		byMIME:      make(map[string]Extractor),
		byExtension: make(map[string]Extractor),
	}
}

func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
	for _, mt := range e.SupportedTypes() {
		if key := strings.ToLower(strings.TrimSpace(mt)); key != "" {
			r.byMIME[key] = e
		}
	}
	for _, ext := range e.SupportedExtensions() {
		if key := strings.ToLower(strings.TrimSpace(ext)); key != "" {
			r.byExtension[key] = e
		}
	}
}

// Extensions lists every registered extension, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Resolve prefers the extension, then the exact MIME type, then the MIME
// type without parameters. Any other text/* falls back to text/plain.
func (r *Registry) Resolve(mimeType, extension string) (Extractor, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(strings.TrimSpace(extension))

	if e, ok := r.byExtension[ext]; ok {
		return e, nil
	}
	if e, ok := r.byMIME[mt]; ok {
		return e, nil
	}
	if base, _, ok := strings.Cut(mt, ";"); ok {
		if e, ok := r.byMIME[strings.TrimSpace(base)]; ok {
			return e, nil
		}
	}
	if strings.HasPrefix(mt, "text/") {
		if e, ok := r.byMIME["text/plain"]; ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: mime=%q extension=%q", ErrUnsupported, mimeType, extension)
}
