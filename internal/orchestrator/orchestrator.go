// Package orchestrator is the process root: it wires every other module
// together, runs the start-up reconciliation pass, and owns graceful
// shutdown (spec section 4.7).
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mustafasegf/pemasak-infra/internal/api"
	"github.com/mustafasegf/pemasak-infra/internal/auth"
	"github.com/mustafasegf/pemasak-infra/internal/build"
	"github.com/mustafasegf/pemasak-infra/internal/config"
	"github.com/mustafasegf/pemasak-infra/internal/gitserver"
	"github.com/mustafasegf/pemasak-infra/internal/router"
	"github.com/mustafasegf/pemasak-infra/internal/runtime"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

const shutdownGrace = 30 * time.Second

// gitPathPattern recognizes the three smart-HTTP git paths mounted directly
// under the root (spec section 4.7 step 4): /<owner>/<project>/info/refs,
// /<owner>/<project>/git-receive-pack, /<owner>/<project>/git-upload-pack.
// No alias under /api/* is implemented (spec section 9's first Open
// Question resolves against guessing at other overlaps).
var gitPathPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(info/refs|git-receive-pack|git-upload-pack)$`)

type Orchestrator struct {
	cfg config.Config
	log *log.Logger

	st  *store.Store
	rt  *runtime.Runtime
	gate *auth.Gate
	rtr *router.Router
	bld *build.Builder
	git *gitserver.Server
	api *api.Server

	apiHandler http.Handler
	httpSrv    *http.Server
}

func New(cfg config.Config, logger *log.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "pemasak ", log.LstdFlags|log.LUTC)
	}

	dbPath := filepath.Join(cfg.GitBase, "pemasak.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rt, err := runtime.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect runtime: %w", err)
	}

	gate := auth.New(st)
	rtr := router.New(st, cfg.Application.Domain)
	builder := build.New(st, rt, filepath.Join(cfg.GitBase, "_scratch"))

	o := &Orchestrator{cfg: cfg, log: logger, st: st, rt: rt, gate: gate, rtr: rtr, bld: builder}

	o.git = gitserver.New(st, gate, cfg.GitBase, o.onPush, logger)
	o.api = api.New(st, gate, rt, rtr, builder, o.git, cfg.Application.Domain, "assets", logger)
	o.apiHandler = o.api.Router()

	o.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           http.HandlerFunc(o.route),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return o, nil
}

// onPush is the Builder trigger wired into the GitEndpoint: every accepted
// push to master kicks off a build for that project (spec section 4.1).
func (o *Orchestrator) onPush(ctx context.Context, projectID int64, repoPath, ref string) {
	if _, err := o.bld.Trigger(ctx, repoPath, projectID, ref); err != nil {
		o.log.Printf("build trigger failed project=%d: %v", projectID, err)
	}
}

// route dispatches every request to one of the three disjoint path
// prefixes spec section 4.7 step 4 requires: git endpoints directly under
// /<owner>/<project>, the Control API under /api/* (plus /healthz), static
// dashboard assets under /web/*, and everything else to the Router, which
// proxies by Host header rather than path.
func (o *Orchestrator) route(w http.ResponseWriter, r *http.Request) {
	if m := gitPathPattern.FindStringSubmatch(r.URL.Path); m != nil {
		o.serveGit(w, r, m[1], m[2])
		return
	}
	if r.URL.Path == "/healthz" || strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/web/") {
		o.apiHandler.ServeHTTP(w, r)
		return
	}
	o.rtr.ServeHTTP(w, r)
}

// serveGit looks up the project named by owner/project and dispatches to
// the GitEndpoint for it.
func (o *Orchestrator) serveGit(w http.ResponseWriter, r *http.Request, owner, project string) {
	p, err := o.st.GetProject(r.Context(), owner, project)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if limit := o.cfg.Application.BodyLimit; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	o.git.Handler(p).ServeHTTP(w, r)
}

// Reconcile recovers from an unclean shutdown: builds left "building" are
// failed, and containers/networks with no matching live project are torn
// down (spec section 4.7).
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	n, err := o.st.MarkAllBuildingAsFailed(ctx)
	if err != nil {
		return fmt.Errorf("mark stale builds failed: %w", err)
	}
	if n > 0 {
		o.log.Printf("reconcile: failed %d build(s) interrupted by restart", n)
	}

	if _, err := o.st.DeleteExpiredSessions(ctx); err != nil {
		o.log.Printf("reconcile: prune expired sessions: %v", err)
	}

	live, err := o.liveProjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("list live projects: %w", err)
	}
	return o.rt.Reconcile(ctx, live)
}

func (o *Orchestrator) liveProjectIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := o.st.DB().QueryContext(ctx, `SELECT id FROM projects WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Run blocks until ctx is canceled, then drains the HTTP server within the
// shutdown grace period.
func (o *Orchestrator) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		o.log.Printf("listening on %s", o.httpSrv.Addr)
		if err := o.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	o.log.Printf("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return o.httpSrv.Shutdown(shutdownCtx)
}

func (o *Orchestrator) Close() error {
	_ = o.rt.Close()
	return o.st.Close()
}
