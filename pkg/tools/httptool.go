package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"lalo/core/pkg/core"
)

// HTTPAPITool performs bounded HTTP calls: a fixed method set, a response
// size cap, and exactly one retry with backoff on transient failure.
type HTTPAPITool struct {
	client       *http.Client
	maxBodyBytes int64
}

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodHead: true,
}

func NewHTTPAPITool(maxBodyBytes int64) *HTTPAPITool {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &HTTPAPITool{
		client:       &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: maxBodyBytes,
	}
}

func (t *HTTPAPITool) Definition() Definition {
	return Definition{
		Name:        "http_request",
		Description: "Perform an HTTP request against an external API",
		Category:    CategoryNetwork,
		Parameters: []Parameter{
			{Name: "method", Type: TypeString, Required: true, Enum: []string{"GET", "POST", "PUT", "DELETE", "HEAD"}},
			{Name: "url", Type: TypeString, Required: true},
			{Name: "body", Type: TypeString, Required: false},
			{Name: "content_type", Type: TypeString, Required: false, Default: "application/json"},
		},
		Returns: "status code, headers and capped response body",
	}
}

func (t *HTTPAPITool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rawMethod, _ := args["method"].(string)
	method := strings.ToUpper(rawMethod)
	rawURL, _ := args["url"].(string)
	if !allowedMethods[method] {
		return nil, core.E(core.KindValidationFailed, "method %s is not allowed", method)
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, core.E(core.KindValidationFailed, "url must be http or https")
	}
	body, _ := args["body"].(string)
	contentType, _ := args["content_type"].(string)

	var resp *http.Response
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != "" {
			req.Header.Set("Content-Type", contentType)
		}
		r, err := t.client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return core.E(core.KindDependencyUnavailable, "server returned %d", r.StatusCode)
		}
		resp = r
		return nil
	}

	// One retry: two attempts total.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, core.Wrap(core.KindDependencyUnavailable, err, "http request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
	if err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "failed to read response body")
	}

	return &Result{
		Success: resp.StatusCode < 400,
		Output:  string(data),
		Error:   errorForStatus(resp.StatusCode),
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"truncated":    int64(len(data)) == t.maxBodyBytes,
		},
	}, nil
}

func errorForStatus(code int) string {
	if code < 400 {
		return ""
	}
	return http.StatusText(code)
}
