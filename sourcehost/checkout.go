package sourcehost

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// GitCheckout materializes exact commits using the git CLI. It implements
// interfaces.SourceCheckout.
type GitCheckout struct {
	gitPath string
	log     *slog.Logger
}

// NewGitCheckout creates a checkout helper. gitPath defaults to "git" on
// PATH when empty.
func NewGitCheckout(gitPath string, log *slog.Logger) *GitCheckout {
	if gitPath == "" {
		gitPath = "git"
	}
	return &GitCheckout{gitPath: gitPath, log: log}
}

// Checkout clones the repository and checks out the given commit. The
// commit is checked out directly rather than the branch head, so the
// working tree matches exactly what request resolution recorded even if
// the branch has moved since.
func (g *GitCheckout) Checkout(ctx context.Context, repo, commit, dest string) error {
	if out, err := g.run(ctx, "", "clone", "--no-checkout", repo, dest); err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, out)
	}

	if out, err := g.run(ctx, dest, "checkout", "--detach", commit); err != nil {
		return fmt.Errorf("git checkout %s failed: %w: %s", commit, err, out)
	}

	g.log.Debug("Checked out commit",
		slog.String("repo", repo),
		slog.String("commit", commit),
		slog.String("dest", dest))

	return nil
}

func (g *GitCheckout) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
