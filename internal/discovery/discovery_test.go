package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOP struct {
	*httptest.Server
	connectHits atomic.Int32
	umaHits     atomic.Int32
	issuer      string
}

func newFakeOP(t *testing.T) *fakeOP {
	t.Helper()
	op := &fakeOP{}
	mux := http.NewServeMux()
	connect := func(w http.ResponseWriter, _ *http.Request) {
		op.connectHits.Add(1)
		issuer := op.issuer
		if issuer == "" {
			issuer = op.URL
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": op.URL + "/authorize",
			"token_endpoint":         op.URL + "/token",
			"registration_endpoint":  op.URL + "/register",
			"introspection_endpoint": op.URL + "/introspect",
			"jwks_uri":               op.URL + "/jwks",
			"scopes_supported":       []string{"openid", "profile"},
		})
	}
	mux.HandleFunc("/.well-known/openid-configuration", connect)
	mux.HandleFunc("/oxauth/.well-known/openid-configuration", connect)
	mux.HandleFunc("/.well-known/uma2-configuration", func(w http.ResponseWriter, _ *http.Request) {
		op.umaHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                      op.URL,
			"claims_interaction_endpoint": op.URL + "/uma/gather_claims",
			"permission_endpoint":         op.URL + "/uma/permission",
		})
	})
	mux.HandleFunc("/broken/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})
	op.Server = httptest.NewServer(mux)
	t.Cleanup(op.Close)
	return op
}

func TestConnectDiscovery_StandardPath(t *testing.T) {
	op := newFakeOP(t)
	c := NewHTTPClient(op.Client(), time.Minute)

	meta, err := c.ConnectDiscovery(context.Background(), op.URL, "")
	require.NoError(t, err)
	assert.Equal(t, op.URL, meta.Issuer)
	assert.Equal(t, op.URL+"/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, op.URL+"/register", meta.RegistrationEndpoint)
	assert.Equal(t, op.URL+"/introspect", meta.IntrospectionEndpoint)
	assert.Equal(t, []string{"openid", "profile"}, meta.ScopesSupported)
}

func TestConnectDiscovery_TrailingSlashHost(t *testing.T) {
	op := newFakeOP(t)
	c := NewHTTPClient(op.Client(), time.Minute)
	ctx := context.Background()

	meta, err := c.ConnectDiscovery(ctx, op.URL+"/", "")
	require.NoError(t, err)
	assert.Equal(t, op.URL, meta.Issuer)
	assert.Equal(t, op.URL+"/register", meta.RegistrationEndpoint)

	_, err = c.ConnectDiscovery(ctx, op.URL, "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), op.connectHits.Load())
	assert.Equal(t, 1, c.Len())

	uma, err := c.UMADiscovery(ctx, op.URL+"/", "")
	require.NoError(t, err)
	assert.Equal(t, op.URL+"/uma/gather_claims", uma.ClaimsInteractionEndpoint)
}

func TestConnectDiscovery_IssuerMismatch(t *testing.T) {
	op := newFakeOP(t)
	op.issuer = "https://other.example.com"
	c := NewHTTPClient(op.Client(), time.Minute)

	meta, err := c.ConnectDiscovery(context.Background(), op.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com", meta.Issuer)
	assert.Equal(t, op.URL+"/authorize", meta.AuthorizationEndpoint)
}

func TestConnectDiscovery_CustomPath(t *testing.T) {
	op := newFakeOP(t)
	c := NewHTTPClient(op.Client(), time.Minute)

	meta, err := c.ConnectDiscovery(context.Background(), op.URL+"/", "/oxauth")
	require.NoError(t, err)
	assert.Equal(t, op.URL+"/token", meta.TokenEndpoint)
	assert.Equal(t, op.URL+"/jwks", meta.JWKSURI)
}

func TestConnectDiscovery_Errors(t *testing.T) {
	op := newFakeOP(t)
	c := NewHTTPClient(op.Client(), time.Minute)
	ctx := context.Background()

	_, err := c.ConnectDiscovery(ctx, "", "")
	assert.ErrorIs(t, err, ErrDiscoveryFailed)

	_, err = c.ConnectDiscovery(ctx, op.URL, "/missing")
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
	assert.ErrorContains(t, err, "404")

	_, err = c.ConnectDiscovery(ctx, op.URL, "/broken")
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestUMADiscovery(t *testing.T) {
	op := newFakeOP(t)
	c := NewHTTPClient(op.Client(), time.Minute)

	meta, err := c.UMADiscovery(context.Background(), op.URL, "")
	require.NoError(t, err)
	assert.Equal(t, op.URL+"/uma/gather_claims", meta.ClaimsInteractionEndpoint)
	assert.Equal(t, op.URL+"/uma/permission", meta.PermissionEndpoint)
}

func TestCache_ReusesAndExpires(t *testing.T) {
	op := newFakeOP(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewHTTPClient(op.Client(), time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for range 3 {
		_, err := c.UMADiscovery(ctx, op.URL, "")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), op.umaHits.Load())
	assert.Equal(t, 1, c.Len())

	assert.Zero(t, c.Sweep(now.Add(30*time.Second)))

	now = now.Add(2 * time.Minute)
	_, err := c.UMADiscovery(ctx, op.URL, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), op.umaHits.Load())

	assert.Equal(t, 1, c.Sweep(now.Add(time.Hour)))
	assert.Zero(t, c.Len())
}

func TestCache_Disabled(t *testing.T) {
	op := newFakeOP(t)
	c := NewHTTPClient(op.Client(), 0)

	for range 2 {
		_, err := c.UMADiscovery(context.Background(), op.URL, "")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), op.umaHits.Load())
	assert.Zero(t, c.Len())
}

func TestConcurrentDiscovery(t *testing.T) {
	op := newFakeOP(t)
	c := NewHTTPClient(op.Client(), time.Minute)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meta, err := c.ConnectDiscovery(context.Background(), op.URL, "/oxauth")
			assert.NoError(t, err)
			assert.NotEmpty(t, meta.AuthorizationEndpoint)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, op.connectHits.Load(), int32(20))
	assert.Equal(t, 1, c.Len())
}

func TestDocumentURL(t *testing.T) {
	assert.Equal(t, "https://op.example.com/.well-known/openid-configuration",
		documentURL("https://op.example.com/", "", ConnectWellKnownPath))
	assert.Equal(t, "https://op.example.com/oxauth/.well-known/uma2-configuration",
		documentURL("https://op.example.com", "/oxauth/", UMAWellKnownPath))
}
