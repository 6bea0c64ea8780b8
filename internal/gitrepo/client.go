// Package gitrepo shells out to git for fingerprint probing and shallow
// repository materialization. The engine only depends on the Client
// interface; tests substitute fakes.
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"repolens/internal/analysis"
	"repolens/internal/errors"
	"repolens/internal/logging"
)

// Client abstracts the cloning collaborator.
type Client interface {
	// LatestFingerprint returns the current content fingerprint for a
	// repository/branch pair without mutating any local state. A transport
	// failure is reported as a ProbeFailed error, never as a guessed
	// fingerprint.
	LatestFingerprint(ctx context.Context, ref analysis.RepositoryRef) (analysis.Fingerprint, error)

	// Materialize produces a local checkout of the repository and returns
	// its path.
	Materialize(ctx context.Context, ref analysis.RepositoryRef) (string, error)

	// Cleanup removes a materialized checkout.
	Cleanup(path string) error
}

// ExecClient implements Client with the git executable.
type ExecClient struct {
	cloneDir     string
	cloneDepth   int
	probeTimeout time.Duration
	cloneTimeout time.Duration
	logger       *logging.Logger
}

// Options configures an ExecClient.
type Options struct {
	CloneDir     string
	CloneDepth   int
	ProbeTimeout time.Duration
	CloneTimeout time.Duration
}

// NewExecClient creates a git-backed client.
func NewExecClient(opts Options, logger *logging.Logger) *ExecClient {
	if opts.CloneDepth <= 0 {
		opts.CloneDepth = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 15 * time.Second
	}
	if opts.CloneTimeout <= 0 {
		opts.CloneTimeout = 2 * time.Minute
	}
	return &ExecClient{
		cloneDir:     opts.CloneDir,
		cloneDepth:   opts.CloneDepth,
		probeTimeout: opts.ProbeTimeout,
		cloneTimeout: opts.CloneTimeout,
		logger:       logger.Component("gitrepo"),
	}
}

// IsGitAvailable reports whether a git executable is on PATH.
func IsGitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// LatestFingerprint probes the remote head of the branch via ls-remote.
// Only the commit hash is known at probe time; commit metadata is filled
// in after materialization.
func (c *ExecClient) LatestFingerprint(ctx context.Context, ref analysis.RepositoryRef) (analysis.Fingerprint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	out, err := runGit(ctx, "", "ls-remote", ref.URL, "refs/heads/"+ref.Branch)
	if err != nil {
		return analysis.Fingerprint{}, errors.Wrap(errors.ProbeFailed,
			fmt.Sprintf("ls-remote failed for %s@%s", ref.URL, ref.Branch), err)
	}

	hash := parseLsRemote(out, ref.Branch)
	if hash == "" {
		return analysis.Fingerprint{}, errors.New(errors.ProbeFailed,
			fmt.Sprintf("branch %s not found on %s", ref.Branch, ref.URL))
	}

	c.logger.Debug("Probed fingerprint", map[string]interface{}{
		"repo":   ref.URL,
		"branch": ref.Branch,
		"commit": hash,
	})

	return analysis.Fingerprint{CommitHash: hash}, nil
}

// Materialize shallow-clones the repository into the clone directory. An
// existing checkout for the same target is removed first.
func (c *ExecClient) Materialize(ctx context.Context, ref analysis.RepositoryRef) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cloneTimeout)
	defer cancel()

	if err := os.MkdirAll(c.cloneDir, 0755); err != nil {
		return "", errors.Wrap(errors.RepoUnavailable, "cannot create clone directory", err)
	}

	target := filepath.Join(c.cloneDir, fmt.Sprintf("%s-%s", ref.Name(), sanitizeBranch(ref.Branch)))
	if _, err := os.Stat(target); err == nil {
		if err := os.RemoveAll(target); err != nil {
			return "", errors.Wrap(errors.RepoUnavailable, "cannot replace existing checkout", err)
		}
	}

	c.logger.Info("Cloning repository", map[string]interface{}{
		"repo":   ref.URL,
		"branch": ref.Branch,
		"target": target,
	})

	_, err := runGit(ctx, "", "clone",
		"--depth", fmt.Sprintf("%d", c.cloneDepth),
		"--branch", ref.Branch,
		"--single-branch",
		ref.URL, target)
	if err != nil {
		return "", errors.Wrap(errors.RepoUnavailable,
			fmt.Sprintf("clone failed for %s@%s", ref.URL, ref.Branch), err)
	}

	return target, nil
}

// Cleanup removes a materialized checkout.
func (c *ExecClient) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}

// HeadFingerprint reads the full fingerprint of a local checkout.
func HeadFingerprint(ctx context.Context, repoPath string) (analysis.Fingerprint, error) {
	out, err := runGit(ctx, repoPath, "log", "-1", "--format=%H%x09%cI%x09%an")
	if err != nil {
		return analysis.Fingerprint{}, errors.Wrap(errors.ProbeFailed, "git log failed", err)
	}
	return parseHeadLine(out)
}

// parseLsRemote extracts the commit hash for the branch from ls-remote
// output lines of the form "<hash>\trefs/heads/<branch>".
func parseLsRemote(out, branch string) string {
	want := "refs/heads/" + branch
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == want {
			return fields[0]
		}
	}
	return ""
}

// parseHeadLine parses "hash<TAB>commit-time<TAB>author".
func parseHeadLine(out string) (analysis.Fingerprint, error) {
	line := strings.TrimSpace(out)
	parts := strings.SplitN(line, "\t", 3)
	if len(parts) < 1 || parts[0] == "" {
		return analysis.Fingerprint{}, errors.New(errors.ProbeFailed, "empty git log output")
	}
	fp := analysis.Fingerprint{CommitHash: parts[0]}
	if len(parts) > 1 {
		if t, err := time.Parse(time.RFC3339, parts[1]); err == nil {
			fp.CommitTime = t
		}
	}
	if len(parts) > 2 {
		fp.Author = parts[2]
	}
	return fp, nil
}

func sanitizeBranch(branch string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, branch)
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}
