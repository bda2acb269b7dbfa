// Package source provides RemoteSource adapters for the archives the
// pipeline reads from.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

// DefaultUserAgent is sent by the HTTP source unless configured otherwise.
// Some archives reject requests without a browser user agent.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/99.0.4844.51 Safari/537.36"

const maxListingSize = 32 << 20

var _ output.RemoteSource = (*HTTPSource)(nil)

// HTTPSource implements RemoteSource for HTTP(S) listing pages.
type HTTPSource struct {
	client    *http.Client
	userAgent string
	username  string
	password  string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// HTTPConfig holds HTTP source configuration.
type HTTPConfig struct {
	UserAgent string
	VerifyTLS bool
	Timeout   time.Duration
	Rate      float64 // Requests per second, 0 disables throttling
	Burst     int
	Username  string
	Password  string
}

// NewHTTPSource creates a new HTTP source adapter.
func NewHTTPSource(cfg HTTPConfig, logger *slog.Logger) *HTTPSource {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS {
		logger.Warn("TLS certificate verification disabled for HTTP sources")
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //#nosec G402 -- explicit operator opt-in
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	return &HTTPSource{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		userAgent: cfg.UserAgent,
		username:  cfg.Username,
		password:  cfg.Password,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		logger:    logger,
	}
}

// List fetches the listing page and returns every distinct pattern match in
// page order. The raw match is kept in RawLine; Name has quotes stripped.
func (s *HTTPSource) List(ctx context.Context, loc domain.Locator) ([]domain.RemoteEntry, error) {
	re, err := regexp.Compile(loc.Pattern)
	if err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: fmt.Errorf("%w: pattern: %v", domain.ErrInvalidInput, err)}
	}

	resp, err := s.get(ctx, http.MethodGet, loc.ListPath)
	if err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingSize))
	if err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}

	seen := make(map[string]bool)
	var entries []domain.RemoteEntry
	for _, m := range re.FindAllString(string(body), -1) {
		e := domain.NewRemoteEntry(m, "")
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		target, err := resolve(loc, e.Name)
		if err != nil {
			return nil, &domain.FetchError{Operation: "list", Name: e.Name, Err: err}
		}
		e.Location = target
		entries = append(entries, e)
	}

	s.logger.Debug("listing parsed", "url", loc.ListPath, "entries", len(entries))
	return entries, nil
}

// resolve builds the fetch URL of name. With a fetch prefix the name is
// appended verbatim; otherwise it is resolved against the listing URL.
func resolve(loc domain.Locator, name string) (string, error) {
	if loc.FetchPrefix != "" {
		return loc.FetchPrefix + name, nil
	}
	base, err := url.Parse(loc.ListPath)
	if err != nil {
		return "", fmt.Errorf("%w: listing url: %v", domain.ErrInvalidInput, err)
	}
	ref, err := url.Parse(name)
	if err != nil {
		return "", fmt.Errorf("%w: entry name: %v", domain.ErrInvalidInput, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Fetch downloads an entry into w.
func (s *HTTPSource) Fetch(ctx context.Context, entry domain.RemoteEntry, w io.Writer) (int64, error) {
	resp, err := s.get(ctx, http.MethodGet, entry.Location)
	if err != nil {
		return 0, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}
	return n, nil
}

// Exists checks an entry with a HEAD request.
func (s *HTTPSource) Exists(ctx context.Context, entry domain.RemoteEntry) (bool, error) {
	resp, err := s.get(ctx, http.MethodHead, entry.Location)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &domain.FetchError{Operation: "exists", Name: entry.Name, Err: err}
	}
	_ = resp.Body.Close()
	return true, nil
}

// Close releases idle connections.
func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// get issues a throttled request and classifies failures.
// The caller must close the body of a successful response.
func (s *HTTPSource) get(ctx context.Context, method, target string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}

	if err := statusErr(resp.StatusCode); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return resp, nil
}

func statusErr(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("HTTP %d: %w", code, domain.ErrRemoteFileNotFound)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("HTTP %d: %w", code, domain.ErrAuth)
	default:
		return fmt.Errorf("HTTP %d: %w", code, domain.ErrTransport)
	}
}

// classifyNetErr maps dial failures to ErrConnection and everything else
// (timeouts, resets, TLS) to ErrTransport.
func classifyNetErr(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}
