package llm

import (
	"context"
	"errors"
	"fmt"
)

const strictSuffix = "\n\nIMPORTANT: Respond with ONLY a single valid JSON value matching the requested structure. No markdown fences, no commentary, no text before or after the JSON."

// CompleteStructuredStrict requests structured output and, when the response
// cannot be decoded, retries exactly once with a stricter instruction
// appended. A second malformed response propagates as an error; transport
// errors are not retried here, the provider already bounds those.
func CompleteStructuredStrict(ctx context.Context, p Provider, req CompletionRequest, target interface{}) error {
	err := p.CompleteStructured(ctx, req, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrMalformedResponse) {
		return err
	}

	strict := req
	strict.Prompt = req.Prompt + strictSuffix
	if retryErr := p.CompleteStructured(ctx, strict, target); retryErr != nil {
		return fmt.Errorf("structured extraction failed after strict retry: %w", retryErr)
	}
	return nil
}
