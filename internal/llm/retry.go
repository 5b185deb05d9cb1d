package llm

import "context"

// Retry runs attempt up to maxAttempts times and returns the first
// success or the last error. There is no delay between attempts; the
// per-request timeout inside attempt is the only pacing.
func Retry[T any](maxAttempts int, attempt func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for i := 0; i < maxAttempts; i++ {
		out, err = attempt()
		if err == nil {
			return out, nil
		}
	}
	return out, err
}

// RetryingClient wraps a Client with the bounded-retry policy.
type RetryingClient struct {
	inner    Client
	attempts int
}

func WithRetry(inner Client, attempts int) *RetryingClient {
	return &RetryingClient{inner: inner, attempts: attempts}
}

func (c *RetryingClient) Complete(ctx context.Context, messages []Message) (Response, error) {
	return Retry(c.attempts, func() (Response, error) {
		return c.inner.Complete(ctx, messages)
	})
}
