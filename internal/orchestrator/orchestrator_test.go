package orchestrator

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/mustafasegf/pemasak-infra/internal/config"
)

// newTestOrchestrator builds an Orchestrator against a throwaway GitBase so
// tests never touch a developer's real repo tree. It skips when no Docker
// daemon is reachable, since runtime.New() dials one eagerly.
func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := config.Config{}
	cfg.Application.Port = 0
	cfg.Application.Domain = "pemasak.test"
	cfg.GitBase = t.TempDir()

	o, err := New(cfg, nil)
	if err != nil {
		t.Skipf("orchestrator.New: %v (no docker daemon reachable?)", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestReconcileRunsCleanOnFreshStore(t *testing.T) {
	o := newTestOrchestrator(t)
	if err := o.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
}

func TestServeGitNotFoundForUnknownProject(t *testing.T) {
	o := newTestOrchestrator(t)

	req := httptest.NewRequest("GET", "/nobody/nothing/info/refs", nil)
	rec := httptest.NewRecorder()
	o.serveGit(rec, req, "nobody", "nothing")

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
