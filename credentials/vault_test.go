package credentials

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVaultSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/registry-credentials", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		w.Write([]byte(`{"data": {"data": {"username": "builder", "password": "hunter2"}}}`))
	}))
	defer srv.Close()

	source, err := NewVaultSource(srv.URL, "test-token", "secret", "registry-credentials", testLogger())
	require.NoError(t, err)

	creds, err := source.RegistryCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "builder", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
}

func TestVaultSourceMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"data": {"username": "builder"}}}`))
	}))
	defer srv.Close()

	source, err := NewVaultSource(srv.URL, "test-token", "secret", "registry-credentials", testLogger())
	require.NoError(t, err)

	_, err = source.RegistryCredentials(context.Background())
	assert.Error(t, err)
}

func TestVaultSourceMissingSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors": []}`))
	}))
	defer srv.Close()

	source, err := NewVaultSource(srv.URL, "test-token", "secret", "registry-credentials", testLogger())
	require.NoError(t, err)

	_, err = source.RegistryCredentials(context.Background())
	assert.Error(t, err)
}

func TestStaticSource(t *testing.T) {
	source := &StaticSource{Credentials: interfaces.RegistryCredentials{Username: "u", Password: "p"}}

	creds, err := source.RegistryCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u", creds.Username)
	assert.Equal(t, "p", creds.Password)
}
