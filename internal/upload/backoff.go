package upload

import "time"

// backoff doubles a delay up to a ceiling. Each upload owns its own value.
type backoff struct {
	current  time.Duration
	maxDelay time.Duration
}

func newBackoff(initial, maxDelay time.Duration) *backoff {
	return &backoff{current: initial, maxDelay: maxDelay}
}

// next returns the current delay and advances to the next value.
func (b *backoff) next() time.Duration {
	d := b.current
	b.current = min(b.current*2, b.maxDelay)
	return d
}
