package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Renderer turns a speaker-prefixed script into raw PCM samples
// (mono, 16-bit little endian, SampleRate Hz).
type Renderer interface {
	Render(ctx context.Context, script string) ([]byte, error)
}

// ErrEmptyAudio is returned when the service answers without audio data
var ErrEmptyAudio = errors.New("speech: response contained no audio")

// Retrying wraps a Renderer with capped exponential backoff
type Retrying struct {
	next       Renderer
	maxRetries uint64
	interval   time.Duration
	logger     zerolog.Logger
}

// WithRetry retries failed renders up to maxRetries extra times
func WithRetry(next Renderer, maxRetries uint64, interval time.Duration, logger zerolog.Logger) *Retrying {
	return &Retrying{next: next, maxRetries: maxRetries, interval: interval, logger: logger}
}

func (r *Retrying) Render(ctx context.Context, script string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	if r.interval > 0 {
		b.InitialInterval = r.interval
	}
	b.MaxElapsedTime = 0

	var pcm []byte
	attempt := 0
	op := func() error {
		attempt++
		out, err := r.next.Render(ctx, script)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			r.logger.Warn().Err(err).Int("attempt", attempt).Msg("speech render failed")
			return err
		}
		pcm = out
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("render failed after %d attempts: %w", attempt, err)
	}
	return pcm, nil
}
