// Package discovery resolves OpenID Provider metadata.
//
// Connect metadata comes from <op_host><op_discovery_path>/.well-known/openid-configuration
// and UMA 2 metadata from <op_host><op_discovery_path>/.well-known/uma2-configuration.
// Results are cached per OP for the configured key cache window.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
)

const (
	// ConnectWellKnownPath is the OpenID Connect discovery suffix.
	ConnectWellKnownPath = "/.well-known/openid-configuration"

	// UMAWellKnownPath is the UMA 2 discovery suffix.
	UMAWellKnownPath = "/.well-known/uma2-configuration"

	// maxDocumentSize bounds discovery documents read from the OP.
	maxDocumentSize = 1 << 20
)

// ErrDiscoveryFailed wraps every failure to obtain OP metadata.
var ErrDiscoveryFailed = errors.New("op discovery failed")

// ConnectMetadata is the subset of the OpenID Provider configuration the
// daemon needs.
type ConnectMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint"`
	IntrospectionEndpoint string   `json:"introspection_endpoint"`
	EndSessionEndpoint    string   `json:"end_session_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	ScopesSupported       []string `json:"scopes_supported"`
}

// UMAMetadata is the subset of the UMA 2 configuration the daemon needs.
type UMAMetadata struct {
	Issuer                    string `json:"issuer"`
	ClaimsInteractionEndpoint string `json:"claims_interaction_endpoint"`
	PermissionEndpoint        string `json:"permission_endpoint"`
	TokenEndpoint             string `json:"token_endpoint"`
	IntrospectionEndpoint     string `json:"introspection_endpoint"`
}

// Client resolves OP metadata.
type Client interface {
	ConnectDiscovery(ctx context.Context, opHost, discoveryPath string) (*ConnectMetadata, error)
	UMADiscovery(ctx context.Context, opHost, discoveryPath string) (*UMAMetadata, error)
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// HTTPClient fetches metadata over HTTP and caches it.
type HTTPClient struct {
	http    *http.Client
	ttl     time.Duration
	metrics *instrumentation.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithMetrics records OP request metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) { c.now = now }
}

// NewHTTPClient creates a discovery client. A ttl of zero disables caching.
func NewHTTPClient(httpClient *http.Client, ttl time.Duration, opts ...Option) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &HTTPClient{
		http:   httpClient,
		ttl:    ttl,
		logger: slog.Default(),
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectDiscovery returns the OpenID Connect metadata of opHost. Without a
// discovery path the document is fetched with go-oidc. An advertised issuer
// that differs from opHost is logged but not rejected.
func (c *HTTPClient) ConnectDiscovery(ctx context.Context, opHost, discoveryPath string) (*ConnectMetadata, error) {
	opHost = normalizeHost(opHost)
	v, err := c.cached(ctx, "connect", opHost, discoveryPath, func(ctx context.Context) (any, error) {
		if discoveryPath == "" {
			return c.fetchConnectOIDC(ctx, opHost)
		}
		body, err := c.fetch(ctx, opHost, documentURL(opHost, discoveryPath, ConnectWellKnownPath))
		if err != nil {
			return nil, err
		}
		return parseConnect(body), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ConnectMetadata), nil
}

// UMADiscovery returns the UMA 2 metadata of opHost.
func (c *HTTPClient) UMADiscovery(ctx context.Context, opHost, discoveryPath string) (*UMAMetadata, error) {
	opHost = normalizeHost(opHost)
	v, err := c.cached(ctx, "uma", opHost, discoveryPath, func(ctx context.Context) (any, error) {
		body, err := c.fetch(ctx, opHost, documentURL(opHost, discoveryPath, UMAWellKnownPath))
		if err != nil {
			return nil, err
		}
		return parseUMA(body), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*UMAMetadata), nil
}

func (c *HTTPClient) cached(ctx context.Context, kind, opHost, discoveryPath string, load func(context.Context) (any, error)) (any, error) {
	if opHost == "" {
		return nil, fmt.Errorf("%w: op_host is empty", ErrDiscoveryFailed)
	}
	key := kind + "|" + opHost + "|" + discoveryPath

	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		ctx, span := instrumentation.StartOPSpan(ctx, instrumentation.EndpointDiscovery, opHost)
		defer span.End()

		start := time.Now()
		v, err := load(ctx)
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		}
		c.metrics.RecordOPRequest(ctx, instrumentation.EndpointDiscovery, opHost, status, time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDiscoveryFailed, opHost, err)
		}

		c.store(key, v)
		c.logger.Debug("discovered op metadata", logging.OpHost(opHost), slog.String("kind", kind))
		return v, nil
	})
	return v, err
}

func (c *HTTPClient) lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.cache[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *HTTPClient) store(key string, v any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{value: v, expiresAt: c.now().Add(c.ttl)}
}

// Sweep drops expired cache entries and returns how many were removed.
func (c *HTTPClient) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.cache {
		if !now.Before(e.expiresAt) {
			delete(c.cache, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached documents.
func (c *HTTPClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *HTTPClient) fetchConnectOIDC(ctx context.Context, opHost string) (*ConnectMetadata, error) {
	ctx = oidc.InsecureIssuerURLContext(oidc.ClientContext(ctx, c.http), opHost)
	provider, err := oidc.NewProvider(ctx, opHost)
	if err != nil {
		return nil, err
	}
	var meta ConnectMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("decoding provider claims: %w", err)
	}
	if normalizeHost(meta.Issuer) != opHost {
		c.logger.Warn("op advertises a different issuer", logging.OpHost(opHost), slog.String("issuer", meta.Issuer))
	}
	return &meta, nil
}

// normalizeHost drops trailing slashes so "https://op/" and "https://op"
// share one cache entry and one discovery URL.
func normalizeHost(opHost string) string {
	return strings.TrimRight(strings.TrimSpace(opHost), "/")
}

func (c *HTTPClient) fetch(ctx context.Context, opHost, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("reading discovery document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s returned an invalid JSON document", url)
	}
	if issuer := gjson.GetBytes(body, "issuer").String(); issuer == "" {
		c.logger.Warn("discovery document without issuer", logging.OpHost(opHost), slog.String("url", url))
	}
	return body, nil
}

func documentURL(opHost, discoveryPath, wellKnown string) string {
	base := normalizeHost(opHost)
	if discoveryPath != "" {
		base += "/" + strings.Trim(discoveryPath, "/")
	}
	return base + wellKnown
}

func parseConnect(body []byte) *ConnectMetadata {
	doc := gjson.ParseBytes(body)
	meta := &ConnectMetadata{
		Issuer:                doc.Get("issuer").String(),
		AuthorizationEndpoint: doc.Get("authorization_endpoint").String(),
		TokenEndpoint:         doc.Get("token_endpoint").String(),
		RegistrationEndpoint:  doc.Get("registration_endpoint").String(),
		IntrospectionEndpoint: doc.Get("introspection_endpoint").String(),
		EndSessionEndpoint:    doc.Get("end_session_endpoint").String(),
		JWKSURI:               doc.Get("jwks_uri").String(),
	}
	for _, s := range doc.Get("scopes_supported").Array() {
		meta.ScopesSupported = append(meta.ScopesSupported, s.String())
	}
	return meta
}

func parseUMA(body []byte) *UMAMetadata {
	doc := gjson.ParseBytes(body)
	return &UMAMetadata{
		Issuer:                    doc.Get("issuer").String(),
		ClaimsInteractionEndpoint: doc.Get("claims_interaction_endpoint").String(),
		PermissionEndpoint:        doc.Get("permission_endpoint").String(),
		TokenEndpoint:             doc.Get("token_endpoint").String(),
		IntrospectionEndpoint:     doc.Get("introspection_endpoint").String(),
	}
}
