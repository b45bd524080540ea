package resolver

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agent-uri/agentcore/problem"
)

// FetchResult is one HTTP GET outcome, abstracted away from net/http so the
// resolver's caching logic can be exercised against a fake Fetcher in tests.
type FetchResult struct {
	StatusCode   int
	Body         []byte
	ETag         string
	LastModified string
	MaxAgeSecs   int // -1 if the response carried no usable Cache-Control max-age
	NotModified  bool
}

// Fetcher performs a single conditional GET. etag/lastModified are the
// validators from a previously cached entry; both empty means "no cache
// entry, fetch unconditionally".
type Fetcher interface {
	Fetch(ctx context.Context, url, etag, lastModified string) (*FetchResult, error)
}

// httpFetcher is the default Fetcher, backed by net/http. follow_redirects
// defaults to false for descriptor fetches per the configuration option
// table.
type httpFetcher struct {
	client          *http.Client
	followRedirects bool
}

func newHTTPFetcher(timeout time.Duration, followRedirects bool) *httpFetcher {
	client := &http.Client{Timeout: timeout}
	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &httpFetcher{client: client, followRedirects: followRedirects}
}

func (f *httpFetcher) Fetch(ctx context.Context, url, etag, lastModified string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, problem.Wrap(problem.NetworkError, "failed to build resolver request", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, problem.Wrap(problem.TimeoutError, "resolver fetch deadline exceeded", err).WithInstance(url)
		}
		return nil, problem.Wrap(problem.NetworkError, "resolver fetch failed", err).WithInstance(url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{StatusCode: resp.StatusCode, NotModified: true, MaxAgeSecs: parseMaxAge(resp.Header.Get("Cache-Control"))}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, problem.Wrap(problem.NetworkError, "failed to read resolver response body", err).WithInstance(url)
	}

	return &FetchResult{
		StatusCode:   resp.StatusCode,
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		MaxAgeSecs:   parseMaxAge(resp.Header.Get("Cache-Control")),
	}, nil
}

func parseMaxAge(cacheControl string) int {
	if cacheControl == "" {
		return -1
	}
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, "max-age=") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
		if err != nil {
			return -1
		}
		return n
	}
	return -1
}
