package commander

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// WorktreeManager prepares and tears down the isolated VCS worktrees
// workers run against. Grounded on internal/mcptools/git.go's shell-out-to-
// system-git approach, generalized from read-only status/diff queries to
// the mutating worktree lifecycle.
type WorktreeManager struct {
	RepoPath string // path to the main checkout, used as the worktree's origin
	BaseDir  string // directory new worktrees are created under
}

func NewWorktreeManager(repoPath, baseDir string) *WorktreeManager {
	return &WorktreeManager{RepoPath: repoPath, BaseDir: baseDir}
}

var branchSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// WorkerIDForBranch derives a worker id from a branch name, per WorkerConfig's
// "worker_id (string, derived from branch)".
func WorkerIDForBranch(branch string) string {
	return branchSanitizer.ReplaceAllString(branch, "-")
}

// Prepare creates a new worktree bound to branch, returning its absolute
// workspace path. An existing branch is checked out into the new worktree;
// if branch does not yet exist, a new branch is created from the current
// HEAD. An existing worktree at the target path is not reused.
func (m *WorktreeManager) Prepare(ctx context.Context, branch string) (string, error) {
	path := filepath.Join(m.BaseDir, WorkerIDForBranch(branch))

	if m.branchExists(ctx, branch) {
		if err := m.run(ctx, "worktree", "add", path, branch); err != nil {
			return "", fmt.Errorf("git worktree add: %w", err)
		}
	} else {
		if err := m.run(ctx, "worktree", "add", "-b", branch, path); err != nil {
			return "", fmt.Errorf("git worktree add -b: %w", err)
		}
	}
	return path, nil
}

// Remove releases a worktree once its worker has reached a terminal state.
func (m *WorktreeManager) Remove(ctx context.Context, workspacePath string) error {
	if err := m.run(ctx, "worktree", "remove", "--force", workspacePath); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	return nil
}

// List parses `git worktree list --porcelain` into path/branch pairs.
func (m *WorktreeManager) List(ctx context.Context) ([]WorktreeInfo, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", m.RepoPath, "worktree", "list", "--porcelain")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}
	return parseWorktreePorcelain(out.String()), nil
}

// WorktreeInfo is one entry from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	Head   string
}

func parseWorktreePorcelain(s string) []WorktreeInfo {
	var out []WorktreeInfo
	var cur WorktreeInfo
	flush := func() {
		if cur.Path != "" {
			out = append(out, cur)
		}
		cur = WorktreeInfo{}
	}
	for _, line := range strings.Split(s, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return out
}

func (m *WorktreeManager) branchExists(ctx context.Context, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", m.RepoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return cmd.Run() == nil
}

func (m *WorktreeManager) run(ctx context.Context, args ...string) error {
	full := append([]string{"-C", m.RepoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
