// Package fetch performs SSRF-hardened HTTPS GET requests to
// user-supplied URLs.
package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/appcraft/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 1 << 20
	DefaultUserAgent    = "appcraft-fetch/1.0"
)

// Fetch errors. Every rejection wraps exactly one of these.
var (
	ErrInvalidURL       = errors.New("fetch: invalid URL")
	ErrSchemeNotAllowed = errors.New("fetch: only https URLs are allowed")
	ErrBlockedAddress   = errors.New("fetch: destination address is not public")
	ErrHostDenied       = errors.New("fetch: host denied by URL filter")
	ErrResolve          = errors.New("fetch: DNS resolution failed")
	ErrRedirect         = errors.New("fetch: redirects are not followed")
	ErrStatus           = errors.New("fetch: unexpected response status")
	ErrTooLarge         = errors.New("fetch: response body too large")
	ErrTimeout          = errors.New("fetch: request timed out")
	ErrTransport        = errors.New("fetch: request failed")
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Config tunes a Fetcher. Zero values select the defaults.
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	UserAgent    string        `yaml:"user_agent"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// Result is a successful response.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Addr        netip.Addr
	FetchedAt   time.Time
}

// Fetcher issues GET requests that can only reach public addresses.
// The host is resolved on every call and the connection is dialed to the
// checked address, so a DNS answer changing between check and connect
// cannot redirect the request.
type Fetcher struct {
	cfg       Config
	resolver  Resolver
	filter    *security.URLFilter
	isBlocked func(netip.Addr) bool
	rootCAs   *x509.CertPool
	dialer    *net.Dialer
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option { return func(f *Fetcher) { f.resolver = r } }

// WithURLFilter adds domain allow/deny lists.
func WithURLFilter(filter *security.URLFilter) Option {
	return func(f *Fetcher) { f.filter = filter }
}

// WithAddressPolicy replaces the reserved-address check. Tests use it to
// reach a loopback server.
func WithAddressPolicy(blocked func(netip.Addr) bool) Option {
	return func(f *Fetcher) { f.isBlocked = blocked }
}

// WithRootCAs sets the trusted roots used to verify servers.
func WithRootCAs(pool *x509.CertPool) Option { return func(f *Fetcher) { f.rootCAs = pool } }

// WithTracer sets the tracer used for fetch spans.
func WithTracer(t trace.Tracer) Option { return func(f *Fetcher) { f.tracer = t } }

// New creates a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg.defaults()
	f := &Fetcher{
		cfg:       cfg,
		resolver:  net.DefaultResolver,
		isBlocked: security.IsReservedAddr,
		dialer:    &net.Dialer{Timeout: cfg.Timeout, KeepAlive: -1},
		tracer:    otel.Tracer("github.com/flemzord/appcraft/internal/fetch"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// MaxBodyBytes returns the response size cap.
func (f *Fetcher) MaxBodyBytes() int64 { return f.cfg.MaxBodyBytes }

// Fetch performs a GET of rawURL. It returns an error wrapping one of the
// package sentinels when the URL or its destination is rejected, or when
// the response is a redirect, non-2xx, or exceeds the size cap.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (_ *Result, err error) {
	ctx, span := f.tracer.Start(ctx, "fetch.Fetch")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Reason(err))
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	u, host, port, err := f.checkURL(rawURL)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("fetch.host", host))

	addr, err := f.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("fetch.addr", addr.String()))

	client := f.pinnedClient(host, netip.AddrPortFrom(addr, port))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, f.cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return nil, fmt.Errorf("%w: %d to %q", ErrRedirect, resp.StatusCode, resp.Header.Get("Location"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	if resp.ContentLength > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: declared %d bytes (max %d)", ErrTooLarge, resp.ContentLength, f.cfg.MaxBodyBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w reading body", ErrTimeout)
		}
		return nil, fmt.Errorf("%w: reading body: %w", ErrTransport, err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.cfg.MaxBodyBytes)
	}

	return &Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Addr:        addr,
		FetchedAt:   f.now().UTC(),
	}, nil
}

// checkURL performs the static checks: syntax, scheme, literal address
// and domain lists.
func (f *Fetcher) checkURL(rawURL string) (*url.URL, string, uint16, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "https" {
		return nil, "", 0, fmt.Errorf("%w: got %q", ErrSchemeNotAllowed, u.Scheme)
	}
	if u.User != nil {
		return nil, "", 0, fmt.Errorf("%w: credentials in URL", ErrInvalidURL)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, "", 0, fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	port := uint16(443)
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return nil, "", 0, fmt.Errorf("%w: port %q", ErrInvalidURL, p)
		}
		port = uint16(n)
	}

	if addr, err := netip.ParseAddr(host); err == nil && (addr.Zone() != "" || f.isBlocked(addr)) {
		return nil, "", 0, fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}

	if f.filter != nil && f.filter.IsConfigured() {
		if err := f.filter.Check(u.String()); err != nil {
			return nil, "", 0, fmt.Errorf("%w: %w", ErrHostDenied, err)
		}
	}

	return u, host, port, nil
}

// resolve looks host up now and rejects it if any answer is reserved.
// The first answer is the one dialed.
func (f *Fetcher) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}

	addrs, err := f.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		if ctx.Err() != nil {
			return netip.Addr{}, fmt.Errorf("%w resolving %s", ErrTimeout, host)
		}
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s: no addresses", ErrResolve, host)
	}
	for _, a := range addrs {
		if f.isBlocked(a) {
			return netip.Addr{}, fmt.Errorf("%w: %s resolved to %s", ErrBlockedAddress, host, a)
		}
	}
	return addrs[0].Unmap(), nil
}

// pinnedClient returns a one-shot client that dials target regardless of
// the request host, verifies TLS against serverName, ignores proxy
// settings and never follows redirects.
func (f *Fetcher) pinnedClient(serverName string, target netip.AddrPort) *http.Client {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return f.dialer.DialContext(ctx, network, target.String())
		},
		TLSClientConfig: &tls.Config{
			ServerName: serverName,
			RootCAs:    f.rootCAs,
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout:    f.cfg.Timeout,
		ResponseHeaderTimeout:  f.cfg.Timeout,
		DisableKeepAlives:      true,
		MaxResponseHeaderBytes: 64 << 10,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Reason classifies a fetch error into a short label for metrics and
// audit events.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSchemeNotAllowed):
		return "scheme"
	case errors.Is(err, ErrBlockedAddress):
		return "blocked_address"
	case errors.Is(err, ErrHostDenied):
		return "host_denied"
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrResolve):
		return "dns"
	case errors.Is(err, ErrRedirect):
		return "redirect"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "transport"
	}
}

// IsPolicyRejection reports whether err is a security rejection made
// before any request left the process.
func IsPolicyRejection(err error) bool {
	return errors.Is(err, ErrSchemeNotAllowed) ||
		errors.Is(err, ErrBlockedAddress) ||
		errors.Is(err, ErrHostDenied)
}
