package disposable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Load reads a list from source, which is either an http(s) URL or a file
// path, and merges it with the embedded list.
func Load(ctx context.Context, source string, client *http.Client) (*Set, error) {
	if source == "" {
		return Default(), nil
	}

	rc, err := open(ctx, source, client)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	extra, err := Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return Default().Merge(extra), nil
}

func open(ctx context.Context, source string, client *http.Client) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open disposable list: %w", err)
		}
		return f, nil
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build disposable list request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch disposable list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch disposable list: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}
