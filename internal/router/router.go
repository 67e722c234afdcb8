// Package router is the Router: resolves an incoming request's Host header
// to the container address currently serving that project (spec
// section 4.4), caching the mapping in memory so the hot path never touches
// the store.
package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/mustafasegf/pemasak-infra/internal/naming"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

type target struct {
	ip   string
	port int
}

// Router owns the host -> container-address cache and proxies requests once
// resolved.
type Router struct {
	st         *store.Store
	baseDomain string

	cache sync.Map // host string -> target
}

func New(st *store.Store, baseDomain string) *Router {
	return &Router{st: st, baseDomain: baseDomain}
}

// Invalidate drops a project's cached route, called by the Runtime whenever
// a project's container is swapped, stopped, or destroyed so stale entries
// never outlive the container they point to.
func (r *Router) Invalidate(host string) {
	r.cache.Delete(host)
}

// Put seeds (or refreshes) the cache entry for host, called once a build
// finishes starting a new container (spec section 4.1).
func (r *Router) Put(host, ip string, port int) {
	r.cache.Store(host, target{ip: ip, port: port})
}

func (r *Router) resolve(ctx context.Context, host string) (target, error) {
	if t, ok := r.cache.Load(host); ok {
		return t.(target), nil
	}

	owner, project, ok := naming.SplitHost(host, r.baseDomain)
	if !ok {
		return target{}, fmt.Errorf("host %q does not resolve under %q", host, r.baseDomain)
	}

	p, err := r.lookupProject(ctx, owner, project, host)
	if err != nil {
		return target{}, err
	}
	d, err := r.st.GetDomainByProject(ctx, p.ID)
	if err != nil {
		return target{}, fmt.Errorf("no domain record for project %d: %w", p.ID, err)
	}
	t := target{ip: d.ContainerIP, port: d.ContainerPort}
	r.cache.Store(host, t)
	return t, nil
}

// lookupProject tries the direct (owner, project) split first and falls
// back to every dash-position candidate, since owner names may themselves
// contain dashes once slugified (spec section 4.4's ambiguous-host rule).
func (r *Router) lookupProject(ctx context.Context, owner, project, host string) (store.Project, error) {
	if p, err := r.st.GetProject(ctx, owner, project); err == nil {
		return p, nil
	}
	for _, c := range naming.SplitHostCandidates(host, r.baseDomain) {
		if p, err := r.st.GetProject(ctx, c.OwnerSlug, c.Project); err == nil {
			return p, nil
		}
	}
	return store.Project{}, fmt.Errorf("no project found for host %q", host)
}

// ServeHTTP reverse-proxies a request to the resolved project's container.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	host := req.Host
	t, err := r.resolve(req.Context(), host)
	if err != nil || t.ip == "" {
		http.Error(w, "no running project for this host", http.StatusBadGateway)
		return
	}
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", t.ip, t.port)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ServeHTTP(w, req)
}
