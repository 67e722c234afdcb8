package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
)

const (
	labelProject = "pws.project_id"
	stopTimeout  = 10 * time.Second

	// healthPollInterval, healthTimeout, and swapGrace implement the swap
	// algorithm in spec section 4.3: poll for up to healthTimeout, then give
	// the retired container swapGrace to drain in-flight connections.
	healthPollInterval = 500 * time.Millisecond
	healthTimeout      = 30 * time.Second
	swapGrace          = 5 * time.Second
)

// Runtime owns the single long-lived container that serves a project's
// traffic (spec section 3.5). Each project gets its own bridge network so
// containers never see each other's interfaces by default.
type Runtime struct {
	docker *dockerClient
}

func New() (*Runtime, error) {
	dc, err := newDockerClient()
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	return &Runtime{docker: dc}, nil
}

func (r *Runtime) Close() error { return r.docker.Close() }

func containerName(projectID int64) string { return fmt.Sprintf("pws-%d", projectID) }
func networkName(projectID int64) string   { return fmt.Sprintf("pwsnet-%d", projectID) }

// Handle describes the container currently serving a project.
type Handle struct {
	ContainerID string
	ContainerIP string
	HostPort    string
}

func stagingName(canonical string) string  { return canonical + "-next" }
func retiringName(canonical string) string { return canonical + "-retiring" }

// Swap creates a fresh container from image alongside any container already
// serving the project and only retires the old one once the new one proves
// healthy (spec section 4.3): (a) ensure the project's network exists; (b)
// start the new container under a staging name; (c) poll its logs until
// "listening on $PORT" appears or a 30s timeout elapses; (d) on success,
// promote the new container into the canonical name and remove the previous
// one after a 5s grace period; on failure, remove the new container and
// leave the previous one in place. env is passed through as KEY=VALUE
// container environment; containerPort is the port the image's process
// listens on internally.
func (r *Runtime) Swap(ctx context.Context, projectID int64, image string, env map[string]string, containerPort int) (Handle, error) {
	netName := networkName(projectID)
	netID, err := r.docker.EnsureNetwork(ctx, netName, map[string]string{labelProject: fmt.Sprint(projectID)})
	if err != nil {
		return Handle{}, fmt.Errorf("ensure network: %w", err)
	}

	canonical := containerName(projectID)
	staging := stagingName(canonical)
	// A staging container from a previous failed swap may be left behind;
	// clear it before trying again.
	if err := r.destroyContainer(ctx, staging); err != nil {
		return Handle{}, fmt.Errorf("clear stale staging container: %w", err)
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	cfg := &container.Config{
		Image:  image,
		Env:    envList,
		Labels: map[string]string{labelProject: fmt.Sprint(projectID)},
	}
	hostCfg := &container.HostConfig{
		PublishAllPorts: true,
		RestartPolicy:   container.RestartPolicy{Name: "unless-stopped"},
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			netName: {NetworkID: netID},
		},
	}

	id, err := r.docker.CreateContainer(ctx, cfg, hostCfg, netCfg, staging)
	if err != nil {
		return Handle{}, fmt.Errorf("create container: %w", err)
	}
	if err := r.docker.StartContainer(ctx, id); err != nil {
		_ = r.docker.RemoveContainer(ctx, id, true)
		return Handle{}, fmt.Errorf("start container: %w", err)
	}

	if err := r.awaitHealthy(ctx, id, containerPort); err != nil {
		_ = r.docker.RemoveContainer(ctx, id, true)
		return Handle{}, fmt.Errorf("new container never became healthy, previous container left running: %w", err)
	}

	if err := r.retireAndPromote(ctx, canonical, staging, id); err != nil {
		_ = r.docker.RemoveContainer(ctx, id, true)
		return Handle{}, fmt.Errorf("promote new container: %w", err)
	}

	_, info, err := r.docker.ContainerByName(ctx, canonical)
	if err != nil || info == nil {
		return Handle{}, fmt.Errorf("inspect promoted container: %w", err)
	}
	containerIP := ""
	if ep, ok := info.NetworkSettings.Networks[netName]; ok {
		containerIP = ep.IPAddress
	}
	hostPort, _ := r.docker.HostPortFor(ctx, id, containerPort)

	return Handle{ContainerID: id, ContainerIP: containerIP, HostPort: hostPort}, nil
}

// awaitHealthy polls a container's logs until it reports listening on port
// or healthTimeout elapses.
func (r *Runtime) awaitHealthy(ctx context.Context, containerID string, port int) error {
	deadline := time.Now().Add(healthTimeout)
	for {
		logs, err := r.docker.Logs(ctx, containerID, 200)
		if err == nil && logsIndicateListening(logs, port) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for \"listening on %d\"", healthTimeout, port)
		}
		if err := sleepCtx(ctx, healthPollInterval); err != nil {
			return err
		}
	}
}

// logsIndicateListening reports whether logs contain a line announcing the
// process is listening on port, tolerating the common phrasings an
// application might log.
func logsIndicateListening(logs string, port int) bool {
	p := fmt.Sprint(port)
	for _, phrase := range []string{"listening on " + p, "listening on :" + p, "listening on port " + p} {
		if strings.Contains(logs, phrase) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retireAndPromote moves any previous canonical container out of the way,
// renames the now-healthy staging container into the canonical name, then
// stops and removes the retired container after a 5s grace period (spec
// section 4.3).
func (r *Runtime) retireAndPromote(ctx context.Context, canonical, staging, newID string) error {
	oldID, info, err := r.docker.ContainerByName(ctx, canonical)
	if err != nil {
		return err
	}
	hadPrevious := info != nil
	if hadPrevious {
		if err := r.docker.RenameContainer(ctx, oldID, retiringName(canonical)); err != nil {
			return fmt.Errorf("retire previous container: %w", err)
		}
	}
	if err := r.docker.RenameContainer(ctx, staging, canonical); err != nil {
		return fmt.Errorf("promote new container %s: %w", newID, err)
	}
	if !hadPrevious {
		return nil
	}

	// The new container already owns the canonical name and is serving
	// traffic; a cancellation past this point only shortens the grace
	// period, it doesn't undo the swap.
	_ = sleepCtx(ctx, swapGrace)
	_ = r.docker.StopContainer(context.Background(), oldID, stopTimeout)
	return r.docker.RemoveContainer(context.Background(), oldID, true)
}

// Stop stops a project's container without removing it, for the
// running->stopped / running->idle transitions (spec section 4.1).
func (r *Runtime) Stop(ctx context.Context, projectID int64) error {
	name := containerName(projectID)
	id, info, err := r.docker.ContainerByName(ctx, name)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	return r.docker.StopContainer(ctx, id, stopTimeout)
}

// Destroy removes a project's container and network entirely, for project
// deletion (spec section 4.1).
func (r *Runtime) Destroy(ctx context.Context, projectID int64) error {
	if err := r.destroyContainer(ctx, containerName(projectID)); err != nil {
		return err
	}
	return r.docker.RemoveNetwork(ctx, networkName(projectID))
}

func (r *Runtime) destroyContainer(ctx context.Context, name string) error {
	id, info, err := r.docker.ContainerByName(ctx, name)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	return r.docker.RemoveContainer(ctx, id, true)
}

// Logs returns the most recent output of a project's container.
func (r *Runtime) Logs(ctx context.Context, projectID int64, tail int) (string, error) {
	name := containerName(projectID)
	id, info, err := r.docker.ContainerByName(ctx, name)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", fmt.Errorf("no container running for project %d", projectID)
	}
	return r.docker.Logs(ctx, id, tail)
}

// AttachTerminal opens an interactive shell inside a project's container,
// backing the Control API's WebSocket terminal endpoint.
func (r *Runtime) AttachTerminal(ctx context.Context, projectID int64, stdin io.Reader, stdout io.Writer, rows, cols uint) error {
	name := containerName(projectID)
	id, info, err := r.docker.ContainerByName(ctx, name)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("no container running for project %d", projectID)
	}
	return r.docker.ExecTTY(ctx, id, []string{"sh"}, stdin, stdout, rows, cols)
}

// Reconcile removes every pws-labeled container whose project is not live,
// together with that project's pwsnet-<id> network, run once at Orchestrator
// start-up (spec section 4.7). Networks are not listed on their own: a stale
// network with no labeled container left is not removed.
func (r *Runtime) Reconcile(ctx context.Context, liveProjectIDs map[int64]bool) error {
	containers, err := r.docker.ListContainers(ctx, true, map[string]string{})
	if err != nil {
		return err
	}
	for _, c := range containers {
		idStr, ok := c.Labels[labelProject]
		if !ok {
			continue
		}
		var pid int64
		if _, err := fmt.Sscanf(idStr, "%d", &pid); err != nil {
			continue
		}
		if !liveProjectIDs[pid] {
			_ = r.docker.RemoveContainer(ctx, c.ID, true)
			_ = r.docker.RemoveNetwork(ctx, networkName(pid))
		}
	}
	return nil
}

// BuildImage builds a Docker image tagged tag from the Dockerfile at the
// root of buildDir, returning the decoded build log (spec section 3.4/4.2's
// build step).
func (r *Runtime) BuildImage(ctx context.Context, buildDir, tag, dockerfile string) (string, error) {
	ctxTar, err := tarDirectory(buildDir)
	if err != nil {
		return "", fmt.Errorf("tar build context: %w", err)
	}
	return r.docker.BuildImage(ctx, ctxTar, tag, dockerfile, nil)
}

// RemoveImage force-deletes a previously built image by reference.
func (r *Runtime) RemoveImage(ctx context.Context, ref string) error {
	return r.docker.RemoveImage(ctx, ref)
}
