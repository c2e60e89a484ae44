// Package credentials provides registry credential sources for the stage
// coordinators. Credentials are fetched per run rather than read from
// ambient process state, so a run's behavior is fully determined by its
// explicit inputs.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// VaultSource fetches registry credentials from a HashiCorp Vault KV v2
// secret. It implements interfaces.CredentialSource.
type VaultSource struct {
	client     *api.Client
	mountPath  string
	secretPath string
	log        *slog.Logger
}

// NewVaultSource creates a credential source reading from
// <mountPath>/data/<secretPath>. The secret must carry "username" and
// "password" fields.
func NewVaultSource(address, token, mountPath, secretPath string, log *slog.Logger) (*VaultSource, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultSource{
		client:     client,
		mountPath:  strings.TrimSuffix(mountPath, "/"),
		secretPath: strings.Trim(secretPath, "/"),
		log:        log,
	}, nil
}

// RegistryCredentials reads the registry username and password from Vault.
func (s *VaultSource) RegistryCredentials(ctx context.Context) (interfaces.RegistryCredentials, error) {
	path := fmt.Sprintf("%s/data/%s", s.mountPath, s.secretPath)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return interfaces.RegistryCredentials{}, fmt.Errorf("failed to read registry credentials from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return interfaces.RegistryCredentials{}, fmt.Errorf("no registry credentials at %s", path)
	}

	// KV v2 nests the fields under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return interfaces.RegistryCredentials{}, fmt.Errorf("unexpected secret format at %s", path)
	}

	username, _ := data["username"].(string)
	password, _ := data["password"].(string)
	if username == "" || password == "" {
		return interfaces.RegistryCredentials{}, fmt.Errorf("registry credentials at %s are missing username or password", path)
	}

	s.log.Debug("Fetched registry credentials from Vault",
		slog.String("path", path),
		slog.String("username", username))

	return interfaces.RegistryCredentials{Username: username, Password: password}, nil
}

// StaticSource returns fixed credentials, for development and tests.
type StaticSource struct {
	Credentials interfaces.RegistryCredentials
}

// RegistryCredentials returns the fixed credentials.
func (s *StaticSource) RegistryCredentials(ctx context.Context) (interfaces.RegistryCredentials, error) {
	return s.Credentials, nil
}
