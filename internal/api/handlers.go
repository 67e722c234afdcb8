package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mustafasegf/pemasak-infra/internal/apierror"
	"github.com/mustafasegf/pemasak-infra/internal/auth"
	"github.com/mustafasegf/pemasak-infra/internal/naming"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierror.Validation("invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeErr(w, apierror.Validation("username and password are required"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	u, _, err := s.st.CreateUser(r.Context(), req.Username, hash, req.Name)
	if err != nil {
		writeErr(w, apierror.Conflict("username already taken"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "username": u.Username, "name": u.DisplayName})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin redirects to the dashboard root on success, setting the
// session cookie along the way: "the dashboard treats 302 as success"
// (spec section 6).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierror.Validation("invalid request body"))
		return
	}
	u, err := s.gate.Login(r.Context(), r.RemoteAddr, req.Username, req.Password)
	if err != nil {
		writeErr(w, apierror.Auth("invalid username or password"))
		return
	}
	cookie, err := s.gate.IssueSession(r.Context(), u.ID)
	if err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, "/web/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	_ = s.gate.Logout(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{"id": u.ID, "username": u.Username, "name": u.DisplayName})
}

func (s *Server) handleDashboardProjects(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	ps, err := s.st.ListProjectsForUser(r.Context(), u.ID)
	if err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	data := make([]map[string]any, 0, len(ps))
	for _, p := range ps {
		data = append(data, map[string]any{"id": p.ID, "owner_name": p.OwnerName, "name": p.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

type projectNewRequest struct {
	Owner   string `json:"owner"`
	Project string `json:"project"`
}

// handleProjectNew creates the project, mints its Git token, and returns
// the push remote URL (spec section 4.5, 6, and the literal §8 scenario 2
// response shape: {id,owner_name,project_name,domain,git_username,
// git_password}, password shown once).
func (s *Server) handleProjectNew(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	var req projectNewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierror.Validation("invalid request body"))
		return
	}
	owner, err := s.st.GetOwnerByName(r.Context(), req.Owner)
	if err != nil {
		writeErr(w, apierror.NotFound("owner not found"))
		return
	}
	ok, err := s.st.UserOwnsOwner(r.Context(), u.ID, owner.ID)
	if err != nil || !ok {
		writeErr(w, apierror.Auth("not a member of this owner"))
		return
	}
	p, err := s.st.CreateProject(r.Context(), owner.ID, req.Project)
	if err != nil {
		writeErr(w, apierror.Validation(err.Error()))
		return
	}
	secret, err := s.st.CreateProjectToken(r.Context(), p.ID)
	if err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	domain := scheme + "://" + s.domain + "/" + p.OwnerName + "/" + p.Name
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           p.ID,
		"owner_name":   p.OwnerName,
		"project_name": p.Name,
		"domain":       domain,
		"git_username": p.OwnerName,
		"git_password": secret,
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	if err := s.rt.Destroy(r.Context(), p.ID); err != nil {
		s.log.Printf("destroy runtime for project %d: %v", p.ID, err)
	}
	if d, err := s.st.GetDomainByProject(r.Context(), p.ID); err == nil {
		s.rtr.Invalidate(d.Host)
	}
	if err := s.st.DeleteProject(r.Context(), p.ID); err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	repoPath := s.git.RepoPath(p.OwnerName, p.Name)
	go s.builder.Trigger(context.Background(), repoPath, p.ID, "HEAD")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuild triggered"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	if err := s.rt.Stop(r.Context(), p.ID); err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	if err := s.st.SetProjectState(r.Context(), p.ID, store.ProjectStateStopped); err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	secret, err := s.st.CreateProjectToken(r.Context(), p.ID)
	if err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": secret})
}

func (s *Server) handleGetEnv(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"env": projectFrom(r).Env})
}

type setEnvRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// handleSetEnv upserts one key and, if the project is running, schedules a
// rebuild with the current master — environment changes require a new
// container (spec section 4.5, and the literal §8 scenario 5).
func (s *Server) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	var req setEnvRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierror.Validation("invalid request body"))
		return
	}
	if !naming.ValidEnvKey(req.Key) {
		writeErr(w, apierror.Validation("invalid env key"))
		return
	}
	if err := s.st.SetProjectEnvVar(r.Context(), p.ID, req.Key, req.Value); err != nil {
		writeErr(w, apierror.Validation(err.Error()))
		return
	}
	s.triggerRebuildIfRunning(r, p)
	w.WriteHeader(http.StatusNoContent)
}

type deleteEnvRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleDeleteEnv(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	var req deleteEnvRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, apierror.Validation("invalid request body"))
		return
	}
	if err := s.st.DeleteProjectEnvVar(r.Context(), p.ID, req.Key); err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	s.triggerRebuildIfRunning(r, p)
	w.WriteHeader(http.StatusNoContent)
}

// triggerRebuildIfRunning kicks off the same rebuild handleRebuild does,
// only when the project is currently serving traffic (spec section 4.5).
func (s *Server) triggerRebuildIfRunning(r *http.Request, p store.Project) {
	if p.State != store.ProjectStateRunning {
		return
	}
	repoPath := s.git.RepoPath(p.OwnerName, p.Name)
	go s.builder.Trigger(context.Background(), repoPath, p.ID, "HEAD")
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	builds, err := s.st.ListBuilds(r.Context(), p.ID)
	if err != nil {
		writeErr(w, apierror.Internal(err.Error()))
		return
	}
	data := make([]map[string]any, 0, len(builds))
	for _, b := range builds {
		data = append(data, map[string]any{"id": b.ID, "status": b.Status, "created_at": b.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "build_id")
	b, err := s.st.GetBuild(r.Context(), id)
	if err != nil {
		writeErr(w, apierror.NotFound("build not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": b.ID, "status": b.Status, "logs": b.Log})
}

// handleContainerLogs returns the last 100 lines of container output (spec
// section 6).
func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	p := projectFrom(r)
	logs, err := s.rt.Logs(r.Context(), p.ID, 100)
	if err != nil {
		writeErr(w, apierror.NotFound(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}
