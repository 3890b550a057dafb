// Package fetch retrieves raw documents over HTTP for the pipeline.
//
// A Fetcher owns one resty client with a cookie jar, so every request a run
// makes shares the same session. There are no retries: a failed request is a
// scrapeerr.Network error and the caller decides what to do with it.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http/cookiejar"
	"strings"
	"time"

	"scrape/internal/metrics"
	"scrape/internal/scrapeerr"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent unless Options.UserAgent overrides it.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// DefaultTimeout bounds one request end to end.
const DefaultTimeout = 10 * time.Second

// bodySnippetLimit caps how much of a non-2xx body ends up in the error.
const bodySnippetLimit = 4096

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	UserAgent string
	Headers   map[string]string
	Timeout   time.Duration

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64
}

// Page is a fetched document.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Input describes where a document should come from.
type Input struct {
	// URL, if provided, is fetched via HTTP GET.
	URL string

	// Stdin is used when URL is empty. If nil, stdin reads as empty.
	Stdin io.Reader
}

// Fetcher issues GET requests through a single session.
type Fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// New builds a Fetcher.
func New(opts Options) (*Fetcher, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", opts.UserAgent)
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}

	f := &Fetcher{client: client}
	if opts.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return f.limiter.Wait(req.Context())
		})
	}
	return f, nil
}

type taskKey struct{}

// WithTask tags ctx with the task name used as the metrics label for requests
// made under it.
func WithTask(ctx context.Context, task string) context.Context {
	return context.WithValue(ctx, taskKey{}, task)
}

func taskFrom(ctx context.Context) string {
	if s, ok := ctx.Value(taskKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// Fetch returns the body of url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	p, err := f.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return p.Body, nil
}

// Get performs one GET and returns the page with its content type.
//
// On non-2xx responses Get returns a Network error that includes the status
// code and up to 4KB of the response body for debugging.
func (f *Fetcher) Get(ctx context.Context, url string) (*Page, error) {
	op := "fetch " + url
	if strings.TrimSpace(url) == "" {
		return nil, scrapeerr.Newf(scrapeerr.Network, op, "empty url")
	}

	resp, err := f.client.R().
		SetContext(ctx).
		EnableTrace().
		Get(url)

	status, size := 0, int64(-1)
	reqDur, respDur := time.Duration(-1), time.Duration(-1)
	if resp != nil && resp.RawResponse != nil {
		status = resp.StatusCode()
		size = int64(len(resp.Body()))
		ti := resp.Request.TraceInfo()
		respDur = ti.ResponseTime
		reqDur = ti.TotalTime - ti.ResponseTime
	}
	metrics.RecordHTTP(taskFrom(ctx), status, err, reqDur, respDur, size)

	if err != nil {
		return nil, scrapeerr.New(scrapeerr.Network, op, err)
	}
	if status < 200 || status >= 300 {
		body := resp.Body()
		if len(body) > bodySnippetLimit {
			body = body[:bodySnippetLimit]
		}
		return nil, scrapeerr.Newf(scrapeerr.Network, op, "http status %d: %s", status, strings.TrimSpace(string(body)))
	}

	return &Page{
		URL:         url,
		StatusCode:  status,
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}, nil
}

// Load returns the document for either stdin (when input.URL is empty) or a
// fetched URL.
func (f *Fetcher) Load(ctx context.Context, input Input) ([]byte, error) {
	if strings.TrimSpace(input.URL) == "" {
		if input.Stdin == nil {
			return nil, nil
		}
		b, err := io.ReadAll(input.Stdin)
		if err != nil {
			return nil, scrapeerr.New(scrapeerr.IO, "read stdin", err)
		}
		return b, nil
	}
	return f.Fetch(ctx, input.URL)
}
