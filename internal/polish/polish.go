// Package polish asks a local or hosted language model to tidy punctuation.
// Every call is best effort: callers fall back to the input on any error.
package polish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dictamic/internal/domain"
	"dictamic/internal/ports"
)

// Instruction is sent ahead of the text to every backend.
const Instruction = "Clean up punctuation and readability only.\n" +
	"Preserve wording, names, and list structure.\n" +
	"Return only the final text with no commentary."

// ErrMalformed means the backend answered with nothing usable.
var ErrMalformed = errors.New("malformed polish response")

func prompt(text string) string {
	return Instruction + "\n\nText:\n" + text
}

// Bounded runs p with a hard deadline. It returns when the deadline passes
// even if p ignores its context.
func Bounded(ctx context.Context, p ports.Polisher, text string, timeout time.Duration) (string, error) {
	if p == nil {
		return "", errors.New("no polisher configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		out, err := p.Polish(ctx, text)
		done <- result{text: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %v", domain.ErrPolishTimeout, r.err)
			}
			return "", r.err
		}
		return validate(text, r.text)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.ErrPolishTimeout
		}
		return "", ctx.Err()
	}
}

// validate rejects empty answers and answers that dropped most of the input.
func validate(input string, output string) (string, error) {
	out := strings.TrimSpace(output)
	if out == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformed)
	}
	if len(out)*2 < len(strings.TrimSpace(input)) {
		return "", fmt.Errorf("%w: response much shorter than input", ErrMalformed)
	}
	return out, nil
}
