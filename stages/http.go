package stages

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/dcshock/pipectl/pipeline"
)

// NewClient returns a client whose requests are recorded as client spans on
// tp, or on the global tracer provider when tp is nil.
func NewClient(tp trace.TracerProvider) *http.Client {
	var opts []otelhttp.Option
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport, opts...)}
}

// Get performs a GET to url with ctx and copies the body to w. Non-2xx
// responses fail; 4xx are marked permanent so the orchestrator does not retry them.
func Get(ctx context.Context, client *http.Client, url string, w io.Writer) (int64, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, pipeline.PermanentErr(fmt.Errorf("http get: new request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http get %q: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("http get %q: status %d", url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, pipeline.PermanentErr(err)
		}
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("http get %q: read body: %w", url, err)
	}
	return n, nil
}
