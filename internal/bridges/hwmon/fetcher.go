package hwmon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds a single request to the monitoring endpoint.
const DefaultFetchTimeout = 5 * time.Second

// maxTreeBytes caps the size of a sensor tree document.
const maxTreeBytes = 8 << 20

// TreeFetcher retrieves the current sensor tree.
type TreeFetcher interface {
	FetchTree(ctx context.Context) (*SensorTreeNode, error)
}

// HTTPFetcher reads the sensor tree from a monitoring endpoint over HTTP.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for the given endpoint URL.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// URL returns the endpoint address.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// FetchTree requests and decodes the sensor tree.
func (f *HTTPFetcher) FetchTree(ctx context.Context) (*SensorTreeNode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %v", ErrFetch, f.url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, f.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTreeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}
	if len(body) > maxTreeBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrParse, maxTreeBytes)
	}
	return DecodeTree(body)
}
