package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrGenerationTimeout is surfaced to the client when a generation exceeds
// its deadline.
var ErrGenerationTimeout = errors.New("generation_timeout")

// DefaultTimeout bounds one server-side generation.
const DefaultTimeout = 20 * time.Second

// Generator produces JSON for a prompt plus a structured input payload.
// Cross-cutting concerns (timeout, retries, logging) are applied via
// Middleware, not inside implementations.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}

// Middleware decorates a Generator.
type Middleware func(Generator) Generator

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Generator, mws ...Middleware) Generator {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// PermanentError marks a failure that retrying cannot help (bad request,
// malformed response). Retry middleware stops on it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so retry layers give up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// WithTimeout bounds each generation. d <= 0 uses DefaultTimeout. A deadline
// hit maps to ErrGenerationTimeout so the client sees a stable code.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		d = DefaultTimeout
	}
	return func(next Generator) Generator {
		return &timed{next: next, d: d}
	}
}

type timed struct {
	next Generator
	d    time.Duration
}

func (t *timed) Name() string { return t.next.Name() }
func (t *timed) Close() error { return t.next.Close() }
func (t *timed) Generate(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	raw, err := t.next.Generate(ctx, prompt, input)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrGenerationTimeout, err))
	}
	return raw, err
}

// WithRetry retries Generate up to maxAttempts with exponential backoff
// starting at baseDelay. Permanent errors and canceled contexts stop
// immediately.
func WithRetry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Generator) Generator {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next Generator
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }
func (r *retrying) Generate(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var last error
	for i := 0; i < r.max; i++ {
		resp, err := r.next.Generate(ctx, prompt, input)
		if err == nil {
			return resp, nil
		}
		var pErr *PermanentError
		if errors.As(err, &pErr) {
			return nil, err
		}
		last = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		time.Sleep(r.base * time.Duration(1<<i))
	}
	return nil, last
}

// WithLogging logs request sizes and errors. nil uses log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next Generator) Generator {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next Generator
	log  *log.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }
func (l *logging) Generate(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.Marshal(input)
	l.log.Printf("ai request (%s): %d bytes", l.next.Name(), len(prompt)+len(in))
	raw, err := l.next.Generate(ctx, prompt, input)
	if err != nil {
		l.log.Printf("ai error (%s): %v", l.next.Name(), err)
	}
	return raw, err
}
