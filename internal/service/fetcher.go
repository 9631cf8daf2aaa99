package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/synadia-labs/workload-probe/internal/config"
)

// Fetcher retrieves the raw body of a caller supplied URL.
type Fetcher struct {
	client *http.Client
	cfg    config.FetchConfig
}

func NewFetcher(cfg config.FetchConfig) *Fetcher {
	client := &http.Client{Transport: newTransport(cfg.BlockPrivateNetworks)}
	if cfg.BlockPrivateNetworks {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return checkScheme(req.URL)
		}
	}
	return &Fetcher{client: client, cfg: cfg}
}

// Fetch issues a single GET for rawURL. Every failure is reported in the
// returned record, never as a panic or error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, takeScreenshot bool) (res FetchResult) {
	res = FetchResult{URL: rawURL, Kind: KindNone}

	defer func() {
		if r := recover(); r != nil {
			res = fetchFailure(rawURL, fmt.Errorf("fetch panicked: %v", r))
		}
		if res.Failed() {
			zerolog.Ctx(ctx).Debug().
				Str("url", rawURL).
				Str("kind", string(res.Kind)).
				Str("error", *res.Error).
				Msg("fetch failed")
		}
	}()

	content, err := f.fetch(ctx, rawURL)
	if err != nil {
		return fetchFailure(rawURL, err)
	}

	res.Content = content
	if takeScreenshot {
		res.Screenshot = strPtr(ScreenshotPlaceholder)
	}
	return res
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("%w: url is required", ErrMalformedInput)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an absolute URL", ErrMalformedInput, rawURL)
	}
	if f.cfg.BlockPrivateNetworks {
		if err := checkScheme(u); err != nil {
			return "", err
		}
	}

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if f.cfg.FailOnStatus && resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := readBody(resp.Body, f.cfg.MaxBodyBytes)
	if err != nil {
		return "", classifyTransport(ctx, err)
	}

	// invalid sequences become U+FFFD, valid UTF-8 is passed through untouched
	return strings.ToValidUTF8(string(body), "\uFFFD"), nil
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return body, nil
}

func classifyTransport(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: fetch canceled", ErrTimeout)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return err
	}
}

func fetchFailure(rawURL string, err error) FetchResult {
	return FetchResult{
		URL:   rawURL,
		Error: strPtr(err.Error()),
		Kind:  kindOf(err),
	}
}

func kindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, ErrLaunch), errors.Is(err, ErrCommandDisabled):
		return KindLaunch
	default:
		return KindTransport
	}
}
