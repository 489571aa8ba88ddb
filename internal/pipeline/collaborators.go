package pipeline

import (
	"context"
	"time"

	"github.com/toricodesthings/compound-association-service/internal/imagestruct"
	"github.com/toricodesthings/compound-association-service/internal/pairing"
)

type observeFunc func(name string, d time.Duration, err error)

// call bounds fn by timeout (when positive) and reports its outcome.
func call[T any](ctx context.Context, name string, timeout time.Duration, observe observeFunc, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	v, err := fn(ctx)
	if observe != nil {
		observe(name, time.Since(start), err)
	}
	return v, err
}

func withTimeout(inner pairing.NameExtractor, name string, timeout time.Duration, observe observeFunc) pairing.NameExtractor {
	return pairing.NameExtractorFunc(func(ctx context.Context, paragraph string) ([]pairing.Compound, error) {
		if inner == nil {
			return nil, nil
		}
		return call(ctx, name, timeout, observe, func(ctx context.Context) ([]pairing.Compound, error) {
			return inner.ExtractNames(ctx, paragraph)
		})
	})
}

func recognizerWithTimeout(inner imagestruct.Recognizer, name string, timeout time.Duration, observe observeFunc) imagestruct.Recognizer {
	return imagestruct.RecognizerFunc(func(ctx context.Context, imagePath string) (string, error) {
		if inner == nil {
			return "", nil
		}
		return call(ctx, name, timeout, observe, func(ctx context.Context) (string, error) {
			return inner.Recognize(ctx, imagePath)
		})
	})
}
