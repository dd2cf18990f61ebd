package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/fetch"
)

// HTTPOptions configures remote service operations.
type HTTPOptions struct {
	Timeout time.Duration
	Headers map[string]string
}

// NewHTTPOperation returns an operation that posts its arguments as JSON to
// endpoint and decodes the JSON object it answers with. Non-object
// responses are wrapped under "result".
func NewHTTPOperation(endpoint string, opts *HTTPOptions) Func {
	fetchOpts := fetch.DefaultOptions()
	if opts != nil {
		if opts.Timeout > 0 {
			fetchOpts.Timeout = opts.Timeout
		}
		fetchOpts.Headers = opts.Headers
	}

	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		resp, err := fetch.PostJSON(ctx, endpoint, args, fetchOpts)
		if err != nil {
			return nil, err
		}

		var decoded any
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
		}
		if obj, ok := decoded.(map[string]any); ok {
			return obj, nil
		}
		return map[string]any{"result": decoded}, nil
	}
}
