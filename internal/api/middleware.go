package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mustafasegf/pemasak-infra/internal/apierror"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

type ctxKey int

const (
	ctxUser ctxKey = iota
	ctxProject
)

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.gate.Authenticate(r)
		if err != nil {
			writeErr(w, apierror.Auth("login required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUser, u)))
	})
}

func userFrom(r *http.Request) store.User {
	u, _ := r.Context().Value(ctxUser).(store.User)
	return u
}

// loadProject resolves {owner}/{project} from the URL, checking the caller
// is a member of the owning Owner (spec section 4.5's authorization rule).
func (s *Server) loadProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := chi.URLParam(r, "owner")
		name := chi.URLParam(r, "project")

		p, err := s.st.GetProject(r.Context(), owner, name)
		if err != nil {
			writeErr(w, apierror.NotFound("project not found"))
			return
		}
		u := userFrom(r)
		ok, err := s.st.UserOwnsOwner(r.Context(), u.ID, p.OwnerID)
		if err != nil || !ok {
			writeErr(w, apierror.NotFound("project not found"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxProject, p)))
	})
}

func projectFrom(r *http.Request) store.Project {
	p, _ := r.Context().Value(ctxProject).(store.Project)
	return p
}
