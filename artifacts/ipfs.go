package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// IPFSBackend mirrors released artifacts into IPFS, giving every published
// file a permanent content-addressed copy. IPFS addresses content by CID
// rather than by release path, so the backend keeps the path-to-CID index
// in process; fetches for paths stored by another process fall through to
// the canonical backend in a multi-backend setup.
type IPFSBackend struct {
	shell       *shell.Shell
	log         *slog.Logger
	locationURI string

	mu    sync.RWMutex
	index map[string]string // artifact path -> CID
}

// NewIPFSBackend creates an IPFS mirror backend connected to the given
// node API address.
func NewIPFSBackend(host, port string, log *slog.Logger) *IPFSBackend {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/", apiURL),
		index:       make(map[string]string),
	}
}

// Fetch retrieves an artifact mirrored by this process. Paths stored
// elsewhere return ErrArtifactNotFound.
func (b *IPFSBackend) Fetch(ctx context.Context, key interfaces.ArtifactKey, file string) ([]byte, error) {
	b.mu.RLock()
	cid, ok := b.index[key.Path(file)]
	b.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrArtifactNotFound
	}

	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.Cat("/ipfs/" + cid)
	if err != nil {
		return nil, fmt.Errorf("failed to cat %s from IPFS: %w", cid, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read IPFS content: %w", err)
	}

	b.log.Debug("Fetched artifact from IPFS",
		slog.String("cid", cid),
		slog.Int("size", len(data)))

	return data, nil
}

// Store adds the artifact to IPFS and records its CID under the release
// path.
func (b *IPFSBackend) Store(ctx context.Context, key interfaces.ArtifactKey, file string, data []byte) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to add artifact to IPFS: %w", err)
	}

	b.mu.Lock()
	b.index[key.Path(file)] = cid
	b.mu.Unlock()

	b.log.Info("Mirrored artifact to IPFS",
		slog.String("path", key.Path(file)),
		slog.String("cid", cid),
		slog.Int("size", len(data)))

	return nil
}

// Exists reports whether this process has mirrored the artifact.
func (b *IPFSBackend) Exists(ctx context.Context, key interfaces.ArtifactKey, file string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[key.Path(file)]
	return ok, nil
}

// Available checks if the IPFS node is up.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this backend.
func (b *IPFSBackend) Name() string {
	return "ipfs"
}

// LocationURI returns the URI identifying this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
