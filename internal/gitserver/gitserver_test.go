package gitserver

import (
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mustafasegf/pemasak-infra/internal/store"
)

func TestRoutePrefix(t *testing.T) {
	p := store.Project{OwnerName: "alice", Name: "booker"}
	if got := routePrefix(p); got != "/alice/booker" {
		t.Fatalf("routePrefix() = %q, want %q", got, "/alice/booker")
	}
}

func TestCurrentRefsOnEmptyRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := filepath.Join(t.TempDir(), "repo.git")
	if err := exec.Command("git", "init", "--bare", dir).Run(); err != nil {
		t.Fatalf("git init --bare: %v", err)
	}
	refs := currentRefs(dir)
	if len(refs) != 0 {
		t.Fatalf("expected no refs in a fresh bare repo, got %v", refs)
	}
}

func TestEnsureBareRepoIsIdempotent(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	s := &Server{reposDir: t.TempDir()}
	path := s.repoPath("alice", "booker")

	if err := s.ensureBareRepo(path); err != nil {
		t.Fatalf("first ensureBareRepo() error = %v", err)
	}
	if err := s.ensureBareRepo(path); err != nil {
		t.Fatalf("second ensureBareRepo() error = %v", err)
	}

	out, err := exec.Command("git", "-C", path, "config", "--get", "receive.denyCurrentBranch").Output()
	if err != nil {
		t.Fatalf("read receive.denyCurrentBranch: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "ignore" {
		t.Fatalf("receive.denyCurrentBranch = %q, want %q", got, "ignore")
	}
}
