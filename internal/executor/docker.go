package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// DockerBackend runs jobs in ephemeral containers: network disabled, a
// per-language memory ceiling, the submitted source injected at start, and
// the container removed on every exit path.
type DockerBackend struct {
	cli *client.Client
}

// NewDockerBackend creates a backend against the local Docker daemon.
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerBackend{cli: cli}, nil
}

func (b *DockerBackend) Name() string { return "docker" }

// chunkWriter forwards demultiplexed container output as it arrives.
type chunkWriter struct {
	emit func(chunk string)
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.emit(string(p))
	}
	return len(p), nil
}

// Run provisions a container for the job, streams stdout/stderr until the
// process exits, then removes the container. The deferred forced remove also
// kills the container if the context deadline fires mid-run, so a timed-out
// job cannot leak its environment.
func (b *DockerBackend) Run(ctx context.Context, job Job, emit func(chunk string)) error {
	cfg := languages[job.Language]
	logCtx := logrus.WithFields(logrus.Fields{"session_id": job.SessionID, "image": cfg.Image})

	// The source travels base64-encoded through the shell so arbitrary
	// participant code cannot break out of the command string.
	encoded := base64.StdEncoding.EncodeToString([]byte(job.Code))
	script := fmt.Sprintf(`mkdir -p /app && echo "%s" | base64 -d > /app/code.%s && %s`,
		encoded, cfg.FileExt, cfg.RunCmd)

	created, err := b.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        cfg.Image,
			Cmd:          []string{"sh", "-c", script},
			AttachStdout: true,
			AttachStderr: true,
			Tty:          false,
		},
		&container.HostConfig{
			Resources:   container.Resources{Memory: cfg.MemoryLimit},
			NetworkMode: "none",
		},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	logCtx = logCtx.WithField("container_id", created.ID[:12])

	defer func() {
		// Teardown must not depend on the (possibly expired) job context.
		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := b.cli.ContainerRemove(removeCtx, created.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			logCtx.WithError(err).Error("Failed to remove execution container")
		} else {
			logCtx.Debug("Execution container removed")
		}
	}()

	if err := b.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	logCtx.Debug("Execution container started")

	logs, err := b.cli.ContainerLogs(ctx, created.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attach container logs: %w", err)
	}
	defer logs.Close()

	copyDone := make(chan error, 1)
	go func() {
		w := &chunkWriter{emit: emit}
		_, copyErr := stdcopy.StdCopy(w, w, logs)
		copyDone <- copyErr
	}()

	statusCh, errCh := b.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return fmt.Errorf("wait for container: %w", err)
	case status := <-statusCh:
		// Drain remaining buffered output before reporting the exit.
		select {
		case <-copyDone:
		case <-ctx.Done():
		}
		if status.Error != nil {
			return fmt.Errorf("container exited with error: %s", status.Error.Message)
		}
		logCtx.WithField("exit_code", status.StatusCode).Debug("Execution container exited")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
