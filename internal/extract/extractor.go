package extract

import "context"

// Extractor produces the text layer and any tables of one document kind.
// The registry resolves an Extractor by extension first, then MIME type.
type Extractor interface {
	Name() string
	SupportedExtensions() []string
	SupportedTypes() []string
	// MaxFileSize is the largest input accepted; 0 means no limit.
	MaxFileSize() int64
	Extract(ctx context.Context, job Job) (Result, error)
}
