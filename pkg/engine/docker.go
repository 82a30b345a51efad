package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/ewoutp/kiruna/pkg/log"
)

// Docker implements Engine against the Docker Engine API. Connection
// parameters come from the environment (DOCKER_HOST etc), falling back to
// the local socket.
type Docker struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewDocker connects to the engine and pings it, failing fast when the
// daemon is unreachable.
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("engine unreachable: %w", err)
	}

	d := &Docker{
		cli:    cli,
		logger: log.Component("engine"),
	}
	d.logger.Info().Str("host", cli.DaemonHost()).Msg("engine connected")
	return d, nil
}

func (d *Docker) InspectContainer(ctx context.Context, nameOrID string) (container.InspectResponse, error) {
	info, err := d.cli.ContainerInspect(ctx, nameOrID)
	return info, d.decorate(err)
}

func (d *Docker) CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", d.decorate(err)
	}
	return resp.ID, nil
}

func (d *Docker) StartContainer(ctx context.Context, id string) error {
	return d.decorate(d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (d *Docker) StopContainer(ctx context.Context, id string) error {
	return d.decorate(d.cli.ContainerStop(ctx, id, container.StopOptions{}))
}

func (d *Docker) RemoveContainer(ctx context.Context, id string) error {
	return d.decorate(d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

func (d *Docker) ListContainers(ctx context.Context) ([]container.Summary, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	return list, d.decorate(err)
}

func (d *Docker) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "200",
	})
	return rc, d.decorate(err)
}

func (d *Docker) InspectImage(ctx context.Context, ref string) (image.InspectResponse, error) {
	info, err := d.cli.ImageInspect(ctx, ref)
	return info, d.decorate(err)
}

func (d *Docker) PullImage(ctx context.Context, img, tag, registry string) error {
	ref := img + ":" + tag
	if registry != "" {
		ref = registry + "/" + ref
	}
	d.logger.Info().Str("image", ref).Msg("pulling image")

	stream, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, d.decorate(err))
	}
	defer stream.Close()

	// The pull is not complete until the progress stream is drained.
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("pull stream for %s failed: %w", ref, err)
	}
	return nil
}

func (d *Docker) ListImages(ctx context.Context) ([]image.Summary, error) {
	list, err := d.cli.ImageList(ctx, image.ListOptions{})
	return list, d.decorate(err)
}

func (d *Docker) RemoveImage(ctx context.Context, ref string) error {
	_, err := d.cli.ImageRemove(ctx, ref, image.RemoveOptions{})
	return d.decorate(err)
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

// decorate normalizes the SDK's 404-equivalents onto the engine-agnostic
// not-found marker.
func (d *Docker) decorate(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return NotFound(err)
	}
	return err
}
