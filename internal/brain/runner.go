package brain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// Cost describes the spend of one generation call.
type Cost struct {
	// InputTokens is the number of prompt tokens consumed.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the number of completion tokens produced.
	OutputTokens int64 `json:"output_tokens"`
	// TotalCostCents is the estimated cost of the call in cents.
	TotalCostCents int64 `json:"total_cost_cents"`
}

// Result is the outcome of one generation call. Output is untrusted
// free text; callers validate it against their own schema.
type Result struct {
	// Output is the raw text returned by the model.
	Output string `json:"output"`
	// Cost is the spend of this call.
	Cost Cost `json:"cost"`
	// Duration is how long the call took.
	Duration time.Duration `json:"duration"`
}

// Runner is the narrow execute-and-get-structured-result contract the
// scheduler core consumes. Implementations must honor the context
// deadline and must be assumed occasionally to return malformed output.
type Runner interface {
	Execute(ctx context.Context, prompt, systemPrompt string) (*Result, error)
}

// APIRunner executes prompts against the Anthropic API with a bounded
// per-call timeout.
type APIRunner struct {
	client  *Client
	timeout time.Duration
}

// NewRunner creates a Runner over the given client. A zero timeout
// defaults to five minutes.
func NewRunner(client *Client, timeout time.Duration) *APIRunner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &APIRunner{client: client, timeout: timeout}
}

// Execute sends one prompt and returns the model's text output with cost
// accounting. Timeout expiry surfaces as an error and flows into the
// normal retry path, not a crash.
func (r *APIRunner) Execute(ctx context.Context, prompt, systemPrompt string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()

	params := anthropic.MessageNewParams{
		Model:     r.client.Model(),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := r.client.sdk().Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("generation call: %w", err)
	}

	r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var output strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			output.WriteString(variant.Text)
		}
	}

	return &Result{
		Output: output.String(),
		Cost: Cost{
			InputTokens:    resp.Usage.InputTokens,
			OutputTokens:   resp.Usage.OutputTokens,
			TotalCostCents: costCents(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		},
		Duration: time.Since(start),
	}, nil
}
