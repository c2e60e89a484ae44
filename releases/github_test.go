package releases

import (
	"context"
	"encoding/json"
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

func TestReleaseExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/example/releases/releases/tags/demo-v1.2.3":
			w.Write([]byte(`{"id": 1}`))
		case "/repos/example/releases/releases/tags/demo-v9.9.9":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := NewGitHubReleases("example", "releases", "token", testLogger(), WithBaseURLs(srv.URL, srv.URL))

	exists, err := client.ReleaseExists(context.Background(), "demo-v1.2.3")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.ReleaseExists(context.Background(), "demo-v9.9.9")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = client.ReleaseExists(context.Background(), "demo-v0.0.0")
	assert.Error(t, err)
}

func TestCreateRelease(t *testing.T) {
	var uploadedAssets []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/repos/example/releases/releases":
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "demo-v1.2.3", req["tag_name"])
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 42}`))
		case r.Method == http.MethodPost && r.URL.Path == "/repos/example/releases/releases/42/assets":
			uploadedAssets = append(uploadedAssets, r.URL.Query().Get("name"))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := NewGitHubReleases("example", "releases", "token", testLogger(), WithBaseURLs(srv.URL, srv.URL))

	err := client.CreateRelease(context.Background(), "demo-v1.2.3", []interfaces.ReleaseFile{
		{Name: interfaces.EnclaveImageFile, Data: []byte("eif")},
		{Name: interfaces.MeasurementsFile, Data: []byte("{}")},
		{Name: interfaces.MetadataFile, Data: []byte("{}")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		interfaces.EnclaveImageFile,
		interfaces.MeasurementsFile,
		interfaces.MetadataFile,
	}, uploadedAssets)
}

func TestCreateReleaseExistingTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Validation Failed: already_exists"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewGitHubReleases("example", "releases", "token", testLogger(), WithBaseURLs(srv.URL, srv.URL))
	err := client.CreateRelease(context.Background(), "demo-v1.2.3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
