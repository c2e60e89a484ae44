package imagebuild

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushDigestRegex(t *testing.T) {
	output := []byte(`The push refers to repository [registry.example.com/apps/demo]
5f70bf18a086: Pushed
demo-1.2.3-aaf4c61ddcc5: digest: sha256:4355a46b19d348dc2f57c046f8ef63d4538ebb936000f3c9ee954a27460dd865 size: 1234
`)

	match := pushDigestRegex.FindSubmatch(output)
	require.NotNil(t, match)
	assert.Equal(t, "sha256:4355a46b19d348dc2f57c046f8ef63d4538ebb936000f3c9ee954a27460dd865", string(match[1]))
}

func TestPushDigestRegexNoDigest(t *testing.T) {
	assert.Nil(t, pushDigestRegex.FindSubmatch([]byte("error: denied\n")))
	assert.Nil(t, pushDigestRegex.FindSubmatch([]byte("digest: sha256:tooshort\n")))
}

func TestPullRejectsUnpinnedRef(t *testing.T) {
	// The ref validation fails before any engine invocation.
	cli := NewDockerCLI("docker", nil, testLogger())

	_, err := cli.Pull(context.Background(), interfaces.ImageRef{Repository: "registry.example.com/apps/demo"})
	assert.ErrorIs(t, err, interfaces.ErrStageExecution)
}
