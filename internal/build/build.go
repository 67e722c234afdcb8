// Package build is the Builder: the only place a project's source is turned
// into a runnable image (spec section 4.2). At most one build runs per
// project at a time, guarded by a per-project lock acquired before any store
// transaction (never the reverse, which is the deadlock spec section 5
// warns against).
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mustafasegf/pemasak-infra/internal/lock"
	"github.com/mustafasegf/pemasak-infra/internal/runtime"
	"github.com/mustafasegf/pemasak-infra/internal/store"
)

const buildTimeout = 20 * time.Minute

// Builder drives a project's repository from a git ref to a tagged image.
type Builder struct {
	store   *store.Store
	runtime *runtime.Runtime
	locks   *lock.Keyed
	workDir string // scratch root for materialized worktrees
}

func New(st *store.Store, rt *runtime.Runtime, workDir string) *Builder {
	return &Builder{store: st, runtime: rt, locks: lock.NewKeyed(), workDir: workDir}
}

// Trigger queues a build for a project's repo at ref and runs it
// synchronously to completion in the calling goroutine. Callers (the git
// endpoint's push handler, or a manual rebuild request) are expected to
// call this from its own goroutine; Trigger itself only ever lets one build
// run per project; a concurrent call blocks on the project's lock, and a call
// whose build was superseded by a newer one while it waited returns without
// building.
func (b *Builder) Trigger(ctx context.Context, repoPath string, projectID int64, ref string) (store.Build, error) {
	bld, err := b.store.CreateBuild(ctx, projectID)
	if err != nil {
		return store.Build{}, fmt.Errorf("create build record: %w", err)
	}

	b.locks.Lock(projectID)
	defer b.locks.Unlock(projectID)

	// Newest-wins coalescing: once we hold the lock, any older pending build
	// still waiting for this project is moot.
	if err := b.store.SupersedeOlderPending(ctx, projectID, bld.ID); err != nil {
		return bld, fmt.Errorf("supersede older pending builds: %w", err)
	}

	ok, err := b.store.TransitionBuilding(ctx, bld.ID)
	if err != nil {
		return bld, err
	}
	if !ok {
		// Someone superseded us between CreateBuild and acquiring the lock.
		return b.store.GetBuild(ctx, bld.ID)
	}

	buildCtx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	if err := b.run(buildCtx, repoPath, projectID, ref, bld.ID); err != nil {
		_ = b.store.AppendBuildLog(ctx, bld.ID, "\nbuild failed: "+err.Error()+"\n")
		_ = b.store.FinishBuild(ctx, bld.ID, store.BuildFailed)
		return b.store.GetBuild(ctx, bld.ID)
	}
	if err := b.store.FinishBuild(ctx, bld.ID, store.BuildSucceeded); err != nil {
		return b.store.GetBuild(ctx, bld.ID)
	}
	return b.store.GetBuild(ctx, bld.ID)
}

func (b *Builder) run(ctx context.Context, repoPath string, projectID int64, ref, buildID string) error {
	scratch := filepath.Join(b.workDir, fmt.Sprintf("project-%d", projectID))
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	if err := b.checkout(ctx, repoPath, scratch, ref, buildID); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	dockerfile, err := ensureDockerfile(scratch)
	if err != nil {
		return fmt.Errorf("detect build plan: %w", err)
	}

	tag := fmt.Sprintf("pws-project-%d:%s", projectID, buildID)
	_ = b.store.AppendBuildLog(ctx, buildID, fmt.Sprintf("building image %s from %s\n", tag, dockerfile))

	log, err := b.runtime.BuildImage(ctx, scratch, tag, dockerfile)
	_ = b.store.AppendBuildLog(ctx, buildID, log)
	if err != nil {
		return fmt.Errorf("docker build: %w", err)
	}

	p, err := b.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	handle, err := b.runtime.Swap(ctx, projectID, tag, p.Env, detectedPort(scratch))
	if err != nil {
		return fmt.Errorf("swap container: %w", err)
	}
	if err := b.store.SetProjectState(ctx, projectID, store.ProjectStateRunning); err != nil {
		return err
	}

	d, err := b.store.GetDomainByProject(ctx, projectID)
	host := ""
	if err == nil {
		host = d.Host
	}
	_, err = b.store.UpsertDomain(ctx, projectID, host, detectedPort(scratch), handle.ContainerIP, "")
	return err
}

// checkout materializes ref into dir using `git --work-tree` against the
// project's bare repository, the same approach used by deploy hooks that
// need a working copy without a second clone (spec section 4.3).
func (b *Builder) checkout(ctx context.Context, repoPath, dir, ref, buildID string) error {
	cmd := exec.CommandContext(ctx, "git", "--git-dir="+repoPath, "--work-tree="+dir, "checkout", "-f", ref)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	_ = b.store.AppendBuildLog(ctx, buildID, out.String())
	return err
}

// runtimeStack describes the base image and install step for one of the
// auto-detected language runtimes (spec section 3.4: "Node if
// package.json, Python if requirements.txt, Go if go.mod, else a generic
// buildpack-less error").
type runtimeStack struct {
	marker  string // file at the repo root that signals this runtime
	image   string
	install string // RUN line executed before the Procfile's web command
}

var runtimeStacks = []runtimeStack{
	{marker: "package.json", image: "node:20-bookworm-slim", install: "npm install"},
	{marker: "requirements.txt", image: "python:3.12-slim", install: "pip install --no-cache-dir -r requirements.txt"},
	{marker: "go.mod", image: "golang:1.22-bookworm", install: "go build -o /app/.pws-bin ./..."},
}

// ensureDockerfile returns the path (relative to dir) to a Dockerfile,
// synthesizing a minimal one from a Procfile's "web" command plus a
// runtime-specific base image when the repository has no Dockerfile of its
// own (spec section 3.4).
func ensureDockerfile(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		return "Dockerfile", nil
	}

	procfile := filepath.Join(dir, "Procfile")
	data, err := os.ReadFile(procfile)
	if err != nil {
		return "", fmt.Errorf("no Dockerfile and no Procfile found")
	}
	webCmd := ""
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "web:") {
			webCmd = strings.TrimSpace(strings.TrimPrefix(line, "web:"))
			break
		}
	}
	if webCmd == "" {
		return "", fmt.Errorf("Procfile has no web process")
	}

	stack, err := detectRuntimeStack(dir)
	if err != nil {
		return "", err
	}

	synthesized := fmt.Sprintf(
		"FROM %s\nWORKDIR /app\nCOPY . .\nRUN %s\nCMD [\"sh\", \"-c\", %q]\n",
		stack.image, stack.install, webCmd,
	)
	genPath := filepath.Join(dir, "Dockerfile.pws-generated")
	if err := os.WriteFile(genPath, []byte(synthesized), 0o644); err != nil {
		return "", err
	}
	return "Dockerfile.pws-generated", nil
}

// detectRuntimeStack picks a base image from the first marker file found at
// dir's root; a repo matching none of the known runtimes is rejected rather
// than falling back to a generic image with no language runtime installed.
func detectRuntimeStack(dir string) (runtimeStack, error) {
	for _, stack := range runtimeStacks {
		if _, err := os.Stat(filepath.Join(dir, stack.marker)); err == nil {
			return stack, nil
		}
	}
	return runtimeStack{}, fmt.Errorf("no supported runtime detected (expected one of: package.json, requirements.txt, go.mod)")
}

// detectedPort reads a PORT hint left in a .pws-port file at the repo root,
// falling back to the conventional 8080 when absent.
func detectedPort(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, ".pws-port"))
	if err != nil {
		return 8080
	}
	var port int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &port); err != nil || port <= 0 {
		return 8080
	}
	return port
}
