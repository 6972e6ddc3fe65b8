package httpclient

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/oxd/internal/config"
)

func newTLSServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTrustStore(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNew_TrustStore(t *testing.T) {
	srv := newTLSServer(t)

	client, err := New(Options{Timeout: 5 * time.Second, TrustStorePath: writeTrustStore(t, srv)})
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_RejectsUnknownAuthority(t *testing.T) {
	srv := newTLSServer(t)

	client, err := New(Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = client.Get(srv.URL)
	assert.Error(t, err)
}

func TestNew_TrustAllCerts(t *testing.T) {
	srv := newTLSServer(t)

	client, err := New(Options{Timeout: 5 * time.Second, TrustAllCerts: true})
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{TrustAllCerts: true, TrustStorePath: "/tmp/ca.pem"})
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = New(Options{TrustStorePath: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorContains(t, err, "failed to read trust store")

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a certificate"), 0o600))
	_, err = New(Options{TrustStorePath: empty})
	assert.ErrorContains(t, err, "no PEM certificates")
}

func TestNew_DefaultTimeout(t *testing.T) {
	client, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.Timeout)
}

func TestIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client, err := New(Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(os.ErrNotExist))
}

func TestOptionsFromConfig(t *testing.T) {
	conf := config.Default()
	conf.TimeOutInSeconds = 7
	conf.TrustStorePath = "/etc/oxd/ca.pem"

	opts := OptionsFromConfig(conf)
	assert.Equal(t, 7*time.Second, opts.Timeout)
	assert.Equal(t, "/etc/oxd/ca.pem", opts.TrustStorePath)
	assert.False(t, opts.TrustAllCerts)
}
