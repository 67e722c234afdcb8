// Package gitserver is the GitEndpoint: smart-HTTP git push/fetch for every
// project's repository, served by delegating to the system git http-backend
// binary over CGI rather than hand-rolling pkt-line parsing (spec
// section 4.1).
package gitserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/cgi"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mustafasegf/pemasak-infra/internal/auth"
	"github.com/mustafasegf/pemasak-infra/internal/lock"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

// BuildTrigger is invoked after a successful push with the project id, the
// bare repo path, and the commit sha the moved ref now points at, so the
// caller can hand off to the Builder without gitserver depending on it
// directly.
type BuildTrigger func(ctx context.Context, projectID int64, repoPath, ref string)

type Server struct {
	st       *store.Store
	gate     *auth.Gate
	reposDir string
	onPush   BuildTrigger
	log      *log.Logger

	// locks serializes concurrent pushes to the same project (spec
	// section 4.1): the second push's receive-pack blocks until the
	// first's has exited.
	locks *lock.Keyed
}

func New(st *store.Store, gate *auth.Gate, reposDir string, onPush BuildTrigger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "gitserver ", log.LstdFlags|log.LUTC)
	}
	return &Server{st: st, gate: gate, reposDir: reposDir, onPush: onPush, log: logger, locks: lock.NewKeyed()}
}

// RepoPath returns the bare repository path for an owner/project pair.
func (s *Server) RepoPath(ownerName, projectName string) string {
	return filepath.Join(s.reposDir, ownerName, projectName+".git")
}

// repoPath returns the same path as RepoPath; it does not create anything
// (ensureBareRepo does that on first push).
func (s *Server) repoPath(ownerName, projectName string) string {
	return s.RepoPath(ownerName, projectName)
}

// ensureBareRepo creates path as a bare repository on first push, setting
// receive.denyCurrentBranch=ignore (spec section 4.1: a bare repo has no
// working tree to protect, so the usual "refuse pushes to the checked-out
// branch" guard only gets in the way here).
func (s *Server) ensureBareRepo(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := exec.Command("git", "init", "--bare", path).Run(); err != nil {
		return err
	}
	return exec.Command("git", "-C", path, "config", "receive.denyCurrentBranch", "ignore").Run()
}

// Handler serves the smart-HTTP endpoint at /<owner>/<project>/{info/refs,
// git-receive-pack,git-upload-pack} (spec section 4.1 and 4.7 step 4). The
// caller's router is expected to extract owner and project from the URL and
// look up the project before reaching here; ServeHTTP is mounted per-project
// so Basic-auth can be checked against that project's token.
func (s *Server) Handler(p store.Project) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.VerifyProjectToken(r.Context(), p.ID, r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="pws git"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		repoPath := s.repoPath(p.OwnerName, p.Name)
		if err := s.ensureBareRepo(repoPath); err != nil {
			http.Error(w, "repo init failed: "+err.Error(), http.StatusInternalServerError)
			return
		}

		gitBin, err := exec.LookPath("git")
		if err != nil {
			http.Error(w, "git not available: "+err.Error(), http.StatusInternalServerError)
			return
		}

		// Concurrent pushes to the same project serialize here: the second
		// request's receive-pack blocks until the first's has exited (spec
		// section 4.1).
		s.locks.Lock(p.ID)
		defer s.locks.Unlock(p.ID)

		before := currentRefs(repoPath)

		path := strings.TrimPrefix(r.URL.Path, routePrefix(p))
		w.Header().Set("Cache-Control", "no-cache")

		h := &cgi.Handler{
			Path: gitBin,
			Args: []string{"http-backend"},
			Dir:  repoPath,
			Env: []string{
				"GIT_PROJECT_ROOT=" + s.reposDir,
				"PATH_INFO=" + path,
				"QUERY_STRING=" + r.URL.RawQuery,
				"REQUEST_METHOD=" + r.Method,
				"GIT_HTTP_EXPORT_ALL=true",
				"GIT_HTTP_ALLOW_REPACK=true",
				"GIT_HTTP_ALLOW_PUSH=true",
			},
		}
		h.ServeHTTP(w, r)

		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "git-receive-pack") {
			s.afterReceive(p, repoPath, before)
		}
	})
}

// routePrefix is the mount point a project's git endpoints are served
// under: /<owner>/<project> (spec section 4.1, 4.7 step 4), not aliased
// under /api/* (spec section 9's first Open Question resolves against
// supporting both).
func routePrefix(p store.Project) string {
	return fmt.Sprintf("/%s/%s", p.OwnerName, p.Name)
}

// currentRefs snapshots ref -> commit sha, used to detect which ref moved
// once git-receive-pack has run.
func currentRefs(repoPath string) map[string]string {
	out, err := exec.Command("git", "--git-dir="+repoPath, "show-ref").Output()
	if err != nil {
		return map[string]string{}
	}
	refs := map[string]string{}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			refs[fields[1]] = fields[0]
		}
	}
	return refs
}

func (s *Server) afterReceive(p store.Project, repoPath string, before map[string]string) {
	after := currentRefs(repoPath)
	for ref, sha := range after {
		if before[ref] != sha && ref == "refs/heads/master" {
			s.log.Printf("push detected project=%d ref=%s sha=%s", p.ID, ref, sha)
			if s.onPush != nil {
				// The build must outlive this request, so it gets a fresh
				// background context rather than the (soon to be canceled) one.
				go s.onPush(context.Background(), p.ID, repoPath, sha)
			}
			return
		}
	}
}
