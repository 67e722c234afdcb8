// Package api is the Control API: the chi-routed HTTP surface for account
// management, project CRUD, env vars, builds, and the container log/terminal
// endpoints (spec section 4.5).
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mustafasegf/pemasak-infra/internal/apierror"
	"github.com/mustafasegf/pemasak-infra/internal/auth"
	"github.com/mustafasegf/pemasak-infra/internal/build"
	"github.com/mustafasegf/pemasak-infra/internal/gitserver"
	"github.com/mustafasegf/pemasak-infra/internal/router"
	"github.com/mustafasegf/pemasak-infra/internal/runtime"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

type Server struct {
	st        *store.Store
	gate      *auth.Gate
	rt        *runtime.Runtime
	rtr       *router.Router
	builder   *build.Builder
	git       *gitserver.Server
	domain    string
	assetsDir string
	log       *log.Logger
}

func New(st *store.Store, gate *auth.Gate, rt *runtime.Runtime, rtr *router.Router, builder *build.Builder, git *gitserver.Server, baseDomain, assetsDir string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "pws-api ", log.LstdFlags|log.LUTC)
	}
	if assetsDir == "" {
		assetsDir = "assets"
	}
	return &Server{st: st, gate: gate, rt: rt, rtr: rtr, builder: builder, git: git, domain: baseDomain, assetsDir: assetsDir, log: logger}
}

// Router builds the Control API: /api/* per spec section 6's literal wire
// contract, plus /web/* serving the dashboard's static assets (spec section
// 9: "the dashboard assets are treated as opaque static blobs"). The
// Orchestrator is responsible for routing everything else (git endpoints,
// reverse-proxied project domains) away from this handler, so there is no
// catch-all fallback here.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/validate", s.handleValidate)
			r.Get("/dashboard/project/", s.handleDashboardProjects)
			r.Post("/project/new", s.handleProjectNew)

			r.Route("/project/{owner}/{project}", func(r chi.Router) {
				r.Use(s.loadProject)
				r.Post("/delete", s.handleDeleteProject)
				r.Post("/rebuild", s.handleRebuild)
				r.Post("/stop", s.handleStop)
				r.Post("/token/rotate", s.handleRotateToken)

				r.Get("/env/", s.handleGetEnv)
				r.Post("/env", s.handleSetEnv)
				r.Post("/env/delete", s.handleDeleteEnv)

				r.Get("/builds/", s.handleListBuilds)
				r.Get("/builds/{build_id}", s.handleGetBuild)

				r.Get("/logs", s.handleContainerLogs)
				r.Get("/terminal/ws", s.handleTerminal)
			})
		})
	})

	fs := http.FileServer(http.Dir(s.assetsDir))
	r.Handle("/web/*", http.StripPrefix("/web/", fs))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	apierror.Write(w, err)
}
