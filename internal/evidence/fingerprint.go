package evidence

import (
	"os/exec"
	"strings"
)

// CommitFingerprint returns the source-tree identity at execution time: the
// current git commit hash, with a "-dirty" suffix when the worktree has
// uncommitted changes. Outside a git repository it returns "unknown" —
// evidence recording must not fail because versioning is unavailable.
func CommitFingerprint(dir string) string {
	rev := exec.Command("git", "rev-parse", "HEAD")
	rev.Dir = dir
	out, err := rev.Output()
	if err != nil {
		return "unknown"
	}
	hash := strings.TrimSpace(string(out))
	if hash == "" {
		return "unknown"
	}

	status := exec.Command("git", "status", "--porcelain")
	status.Dir = dir
	if st, err := status.Output(); err == nil && len(strings.TrimSpace(string(st))) > 0 {
		return hash + "-dirty"
	}
	return hash
}
