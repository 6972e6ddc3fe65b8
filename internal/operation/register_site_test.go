package operation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/discovery"
	"github.com/teemow/oxd/internal/protocol"
	"github.com/teemow/oxd/internal/rp"
)

func TestRegisterSite_DynamicRegistration(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, protocol.CommandRegisterSite, RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
	})
	require.NoError(t, err)

	resp, ok := out.(RegisterSiteResponse)
	require.True(t, ok)
	assert.Equal(t, "https://op.example.com", resp.OpHost)
	_, err = uuid.Parse(resp.OxdID)
	require.NoError(t, err)

	stored, err := h.store.Get(context.Background(), resp.OxdID)
	require.NoError(t, err)
	assert.Equal(t, "c1", stored.ClientID)
	assert.Equal(t, "s1", stored.ClientSecret)
	assert.Equal(t, []string{"code"}, stored.ResponseTypes)
	assert.Equal(t, []string{"authorization_code"}, stored.GrantType)
	assert.ElementsMatch(t, []string{"https://app.example.com/cb"}, stored.RedirectURIs)
	assert.Equal(t, rp.ApplicationTypeWeb, stored.ApplicationType)
	assert.False(t, stored.Protected())

	req := h.op.lastRegistration(t)
	assert.Equal(t, "oxd client for site: "+resp.OxdID, req.ClientName)
	assert.Equal(t, "web", req.ApplicationType)
	assert.Equal(t, "openid", req.Scope)
	assert.Equal(t, []string{"https://app.example.com/cb"}, req.RedirectURIs)
	assert.Equal(t, []string{"authorization_code"}, req.GrantTypes)
}

func TestRegisterSite_MandatoryFieldOrder(t *testing.T) {
	tests := []struct {
		name     string
		fallback rp.RP
		params   RegisterSiteParams
		want     protocol.ErrorCode
	}{
		{
			name:   "nothing set",
			params: RegisterSiteParams{},
			want:   protocol.CodeInvalidOpHost,
		},
		{
			name:   "op_host missing while others present",
			params: RegisterSiteParams{AuthorizationRedirectURI: "https://app.example.com/cb", Scope: []string{"openid"}},
			want:   protocol.CodeInvalidOpHost,
		},
		{
			name:   "redirect missing",
			params: RegisterSiteParams{OpHost: "https://op.example.com"},
			want:   protocol.CodeInvalidAuthorizationRedirectURI,
		},
		{
			name:   "redirect not a url",
			params: RegisterSiteParams{OpHost: "https://op.example.com", AuthorizationRedirectURI: "app/cb", Scope: []string{"openid"}},
			want:   protocol.CodeInvalidAuthorizationRedirectURI,
		},
		{
			name:   "scope missing",
			params: RegisterSiteParams{OpHost: "https://op.example.com", AuthorizationRedirectURI: "https://app.example.com/cb"},
			want:   protocol.CodeInvalidScope,
		},
		{
			name:     "default op_host does not hide missing redirect",
			fallback: rp.RP{OpHost: "https://op.example.com"},
			params:   RegisterSiteParams{Scope: []string{"openid"}},
			want:     protocol.CodeInvalidAuthorizationRedirectURI,
		},
		{
			name:     "default template fills everything but scope",
			fallback: rp.RP{OpHost: "https://op.example.com", AuthorizationRedirectURI: "https://app.example.com/cb"},
			params:   RegisterSiteParams{},
			want:     protocol.CodeInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.Configuration) { c.DefaultSite = tt.fallback })

			_, err := h.run(t, protocol.CommandRegisterSite, tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.want, protocol.CodeOf(err))

			assert.Zero(t, h.count(t), "no rp is persisted on validation failure")
			assert.Zero(t, h.op.registerHits.Load(), "the op is not contacted on validation failure")
		})
	}
}

func TestRegisterSite_DefaultSiteFallback(t *testing.T) {
	h := newHarness(t, func(c *config.Configuration) {
		c.DefaultSite = rp.RP{
			OpHost:                   "https://default-op.example.com",
			OpDiscoveryPath:          "/oxauth",
			AuthorizationRedirectURI: "https://default.example.com/cb",
			PostLogoutRedirectURI:    "https://default.example.com/logout",
			GrantType:                []string{"authorization_code", "refresh_token"},
			ResponseTypes:            []string{"code", "id_token"},
			Scope:                    []string{"openid", "profile"},
			AcrValues:                []string{"basic"},
			Contacts:                 []string{"admin@example.com"},
			UILocales:                []string{"en"},
			ClaimsLocales:            []string{"de"},
			ClientJwksURI:            "https://default.example.com/jwks",
		}
	})

	out, err := h.run(t, protocol.CommandRegisterSite, RegisterSiteParams{})
	require.NoError(t, err)
	resp := out.(RegisterSiteResponse)
	assert.Equal(t, "https://default-op.example.com", resp.OpHost)

	stored, err := h.store.Get(context.Background(), resp.OxdID)
	require.NoError(t, err)
	assert.Equal(t, "/oxauth", stored.OpDiscoveryPath)
	assert.Equal(t, "https://default.example.com/cb", stored.AuthorizationRedirectURI)
	assert.Equal(t, "https://default.example.com/logout", stored.PostLogoutRedirectURI)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, stored.GrantType)
	assert.Equal(t, []string{"code", "id_token"}, stored.ResponseTypes)
	assert.Equal(t, []string{"openid", "profile"}, stored.Scope)
	assert.Equal(t, []string{"basic"}, stored.AcrValues)
	assert.Equal(t, []string{"admin@example.com"}, stored.Contacts)
	assert.Equal(t, []string{"en"}, stored.UILocales)
	assert.Equal(t, []string{"de"}, stored.ClaimsLocales)
	assert.Equal(t, "https://default.example.com/jwks", stored.ClientJwksURI)
}

func TestRegisterSite_CallerValuesWinOverDefaults(t *testing.T) {
	h := newHarness(t, func(c *config.Configuration) {
		c.DefaultSite = rp.RP{
			OpHost:          "https://default-op.example.com",
			OpDiscoveryPath: "/oxauth",
			GrantType:       []string{"implicit"},
			Scope:           []string{"profile"},
		}
	})

	out, err := h.run(t, protocol.CommandRegisterSite, RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		GrantTypes:               []string{"authorization_code"},
		Scope:                    []string{"openid"},
	})
	require.NoError(t, err)

	stored, err := h.store.Get(context.Background(), out.(RegisterSiteResponse).OxdID)
	require.NoError(t, err)
	assert.Equal(t, "https://op.example.com", stored.OpHost)
	assert.Empty(t, stored.OpDiscoveryPath, "the default discovery path belongs to the default op")
	assert.Equal(t, []string{"authorization_code"}, stored.GrantType)
	assert.Equal(t, []string{"openid"}, stored.Scope)
}

func TestRegisterSite_RedirectURIs(t *testing.T) {
	const cb = "https://app.example.com/cb"

	tests := []struct {
		name       string
		params     RegisterSiteParams
		want       []string
		postLogout string
	}{
		{
			name: "authorization redirect only",
			want: []string{cb},
		},
		{
			name:   "supplied list without authorization redirect",
			params: RegisterSiteParams{RedirectURIs: []string{"https://app.example.com/other"}},
			want:   []string{cb, "https://app.example.com/other"},
		},
		{
			name:   "duplicates collapse",
			params: RegisterSiteParams{RedirectURIs: []string{cb, cb, "https://app.example.com/other"}},
			want:   []string{cb, "https://app.example.com/other"},
		},
		{
			name:   "post logout joins supplied list",
			params: RegisterSiteParams{RedirectURIs: []string{"https://app.example.com/other"}, PostLogoutRedirectURI: "https://app.example.com/logout"},
			want:   []string{cb, "https://app.example.com/other", "https://app.example.com/logout"},
		},
		{
			name:   "post logout alone is not a redirect uri",
			params: RegisterSiteParams{PostLogoutRedirectURI: "https://app.example.com/logout"},
			want:   []string{cb},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			params := tt.params
			params.OpHost = "https://op.example.com"
			params.AuthorizationRedirectURI = cb
			params.Scope = []string{"openid"}

			out, err := h.run(t, protocol.CommandRegisterSite, params)
			require.NoError(t, err)

			stored, err := h.store.Get(context.Background(), out.(RegisterSiteResponse).OxdID)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, stored.RedirectURIs)
			assert.Contains(t, stored.RedirectURIs, cb)
			assert.ElementsMatch(t, tt.want, h.op.lastRegistration(t).RedirectURIs)
		})
	}
}

func TestRegisterSite_ReusesCallerCredentials(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, protocol.CommandRegisterSite, RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
		ClientID:                 "existing-client",
		ClientSecret:             "existing-secret",
	})
	require.NoError(t, err)

	assert.Zero(t, h.op.registerHits.Load())
	assert.Zero(t, h.discovery.connectHits.Load())

	stored, err := h.store.Get(context.Background(), out.(RegisterSiteResponse).OxdID)
	require.NoError(t, err)
	assert.Equal(t, "existing-client", stored.ClientID)
	assert.Equal(t, "existing-secret", stored.ClientSecret)
	assert.Empty(t, stored.ClientRegistrationAccessToken)
}

func TestRegisterSite_PartialCredentialsRegister(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, protocol.CommandRegisterSite, RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
		ClientID:                 "existing-client",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.op.registerHits.Load())

	stored, err := h.store.Get(context.Background(), out.(RegisterSiteResponse).OxdID)
	require.NoError(t, err)
	assert.Equal(t, "c1", stored.ClientID)
}

func TestRegisterSite_RegistrationFailures(t *testing.T) {
	base := RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
	}

	t.Run("no registration endpoint", func(t *testing.T) {
		h := newHarness(t)
		h.discovery.noRegistration = true

		_, err := h.run(t, protocol.CommandRegisterSite, base)
		assert.Equal(t, protocol.CodeNoClientRegistrationEndpoint, protocol.CodeOf(err))
		assert.Zero(t, h.count(t))
	})

	t.Run("response without secret", func(t *testing.T) {
		h := newHarness(t)
		h.op.registrationBody = map[string]any{"client_id": "c1"}

		_, err := h.run(t, protocol.CommandRegisterSite, base)
		assert.Equal(t, protocol.CodeRegistrationFailed, protocol.CodeOf(err))
		assert.Zero(t, h.count(t))
	})

	t.Run("op error", func(t *testing.T) {
		h := newHarness(t)
		h.op.registrationStatus = 400
		h.op.registrationBody = map[string]any{"error": "invalid_redirect_uri", "error_description": "redirect not allowed"}

		_, err := h.run(t, protocol.CommandRegisterSite, base)
		perr, ok := protocol.AsError(err)
		require.True(t, ok)
		assert.Equal(t, protocol.CodeRegistrationFailed, perr.Code)
		assert.Contains(t, perr.Description, "redirect not allowed")
		assert.Zero(t, h.count(t))
	})

	t.Run("discovery failure is internal", func(t *testing.T) {
		h := newHarness(t)
		h.discovery.connectErr = discovery.ErrDiscoveryFailed

		_, err := h.run(t, protocol.CommandRegisterSite, base)
		require.Error(t, err)
		_, typed := protocol.AsError(err)
		assert.False(t, typed)
		assert.Zero(t, h.count(t))
	})
}

func TestRegisterSite_Protection(t *testing.T) {
	base := RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
	}

	t.Run("valid token binds setup client", func(t *testing.T) {
		h := newHarness(t, protectionOn)
		h.op.tokens["pat"] = "setup-client"

		params := base
		params.ProtectionAccessToken = "pat"
		out, err := h.run(t, protocol.CommandRegisterSite, params)
		require.NoError(t, err)

		oxdID := out.(RegisterSiteResponse).OxdID
		stored, err := h.store.Get(context.Background(), oxdID)
		require.NoError(t, err)
		assert.Equal(t, "setup-client", stored.SetupClientID)
		assert.Equal(t, oxdID, stored.SetupOxdID)
	})

	t.Run("failed introspection keeps unprotected rp", func(t *testing.T) {
		h := newHarness(t, protectionOn)
		h.services.NewID = func() string { return "fixed-id" }

		params := base
		params.ProtectionAccessToken = "unknown-token"
		_, err := h.run(t, protocol.CommandRegisterSite, params)
		assert.Equal(t, protocol.CodeProtectionDenied, protocol.CodeOf(err))

		stored, err := h.store.Get(context.Background(), "fixed-id")
		require.NoError(t, err)
		assert.Equal(t, "c1", stored.ClientID)
		assert.Empty(t, stored.SetupClientID)
		assert.Empty(t, stored.SetupOxdID)
	})

	t.Run("inactive token", func(t *testing.T) {
		h := newHarness(t, protectionOn)
		h.op.tokens["expired"] = ""

		params := base
		params.ProtectionAccessToken = "expired"
		_, err := h.run(t, protocol.CommandRegisterSite, params)
		assert.Equal(t, protocol.CodeProtectionDenied, protocol.CodeOf(err))
		assert.Equal(t, 1, h.count(t))
	})

	t.Run("blank token with protection on", func(t *testing.T) {
		h := newHarness(t, protectionOn)

		_, err := h.run(t, protocol.CommandRegisterSite, base)
		assert.Equal(t, protocol.CodeBlankProtectionAccessToken, protocol.CodeOf(err))
		assert.Equal(t, 1, h.count(t))
		assert.Zero(t, h.op.introspectHits.Load())
	})

	t.Run("protection disabled without token skips introspection", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.run(t, protocol.CommandRegisterSite, base)
		require.NoError(t, err)
		assert.Zero(t, h.op.introspectHits.Load())
	})

	t.Run("protection disabled with token still validates", func(t *testing.T) {
		h := newHarness(t)
		h.op.tokens["pat"] = "setup-client"

		params := base
		params.ProtectionAccessToken = "pat"
		out, err := h.run(t, protocol.CommandRegisterSite, params)
		require.NoError(t, err)
		assert.Equal(t, int32(1), h.op.introspectHits.Load())

		stored, err := h.store.Get(context.Background(), out.(RegisterSiteResponse).OxdID)
		require.NoError(t, err)
		assert.Equal(t, "setup-client", stored.SetupClientID)
	})
}

func TestSetupClient(t *testing.T) {
	h := newHarness(t, protectionOn)
	h.op.registrationBody = map[string]any{
		"client_id":                 "setup-c",
		"client_secret":             "setup-s",
		"registration_access_token": "rat",
	}

	out, err := h.run(t, protocol.CommandSetupClient, RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid", "uma_protection"},
	})
	require.NoError(t, err, "setup_client is exempt from protection")
	assert.Zero(t, h.op.introspectHits.Load())

	resp, ok := out.(SetupClientResponse)
	require.True(t, ok)
	assert.Equal(t, "setup-c", resp.ClientID)
	assert.Equal(t, "setup-s", resp.ClientSecret)
	assert.Equal(t, "rat", resp.ClientRegistrationAccessToken)

	stored, err := h.store.Get(context.Background(), resp.OxdID)
	require.NoError(t, err)
	assert.Equal(t, "setup-c", stored.SetupClientID)
	assert.Equal(t, resp.OxdID, stored.SetupOxdID)
}

func TestRegisterSite_ClaimsRedirect(t *testing.T) {
	params := RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
		ClaimsRedirectURI:        []string{"https://app.example.com/claims"},
	}

	t.Run("auto register on", func(t *testing.T) {
		h := newHarness(t, func(c *config.Configuration) {
			c.UMA2AutoRegisterClaimsGatheringEndpoint = config.BoolPtr(true)
		})

		out, err := h.run(t, protocol.CommandRegisterSite, params)
		require.NoError(t, err)

		stored, err := h.store.Get(context.Background(), out.(RegisterSiteResponse).OxdID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"https://app.example.com/claims",
			"https://op.example.com/uma/gather_claims?authentication=true",
		}, stored.ClaimsRedirectURI)
		assert.ElementsMatch(t, stored.ClaimsRedirectURI, h.op.lastRegistration(t).ClaimsRedirectURIs)
	})

	t.Run("auto register off", func(t *testing.T) {
		h := newHarness(t)

		out, err := h.run(t, protocol.CommandRegisterSite, params)
		require.NoError(t, err)
		assert.Zero(t, h.discovery.umaHits.Load())

		stored, err := h.store.Get(context.Background(), out.(RegisterSiteResponse).OxdID)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://app.example.com/claims"}, stored.ClaimsRedirectURI)
	})

	t.Run("no claims redirect skips uma", func(t *testing.T) {
		h := newHarness(t, func(c *config.Configuration) {
			c.UMA2AutoRegisterClaimsGatheringEndpoint = config.BoolPtr(true)
		})

		p := params
		p.ClaimsRedirectURI = nil
		_, err := h.run(t, protocol.CommandRegisterSite, p)
		require.NoError(t, err)
		assert.Zero(t, h.discovery.umaHits.Load())
	})
}

func TestRegisterSite_CustomClientName(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, protocol.CommandRegisterSite, RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
		ClientName:               "my app",
	})
	require.NoError(t, err)
	assert.Equal(t, "my app", h.op.lastRegistration(t).ClientName)
}

func TestRegisterSite_FreshIDs(t *testing.T) {
	h := newHarness(t)
	params := RegisterSiteParams{
		OpHost:                   "https://op.example.com",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
	}

	first, err := h.run(t, protocol.CommandRegisterSite, params)
	require.NoError(t, err)
	second, err := h.run(t, protocol.CommandRegisterSite, params)
	require.NoError(t, err)

	assert.NotEqual(t, first.(RegisterSiteResponse).OxdID, second.(RegisterSiteResponse).OxdID)
	assert.Equal(t, 2, h.count(t))
}

func TestRegisterSite_OpHostWithTrailingSlash(t *testing.T) {
	h := newHarness(t)
	h.services.Discovery = discovery.NewHTTPClient(h.op.Client(), time.Minute)

	out, err := h.run(t, protocol.CommandRegisterSite, RegisterSiteParams{
		OpHost:                   h.op.URL + "/",
		AuthorizationRedirectURI: "https://app.example.com/cb",
		Scope:                    []string{"openid"},
	})
	require.NoError(t, err)

	resp := out.(RegisterSiteResponse)
	stored, err := h.store.Get(context.Background(), resp.OxdID)
	require.NoError(t, err)
	assert.Equal(t, "c1", stored.ClientID)
	assert.Equal(t, int32(1), h.op.registerHits.Load())
}
