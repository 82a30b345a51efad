package engine

import (
	"context"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
)

// Engine is the container engine surface the daemon reconciles against.
// The production implementation talks to the Docker Engine API; tests use
// in-memory fakes.
type Engine interface {
	// InspectContainer resolves a container by name or ID. A missing
	// container satisfies IsNotFound.
	InspectContainer(ctx context.Context, nameOrID string) (container.InspectResponse, error)

	// CreateContainer creates a named container and returns its ID.
	CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error)

	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error

	// ListContainers lists all containers, including stopped ones.
	ListContainers(ctx context.Context) ([]container.Summary, error)

	// ContainerLogs returns the container's multiplexed stdout/stderr stream.
	ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)

	// InspectImage resolves a local image reference. A missing image
	// satisfies IsNotFound.
	InspectImage(ctx context.Context, ref string) (image.InspectResponse, error)

	// PullImage pulls [registry/]image:tag, consuming the progress stream
	// to completion.
	PullImage(ctx context.Context, img, tag, registry string) error

	ListImages(ctx context.Context) ([]image.Summary, error)
	RemoveImage(ctx context.Context, ref string) error

	Close() error
}

// IsNotFound reports whether err means the container or image does not
// exist. All Engine implementations normalize their engine's 404-equivalent
// onto this.
func IsNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}

// NotFound decorates err so it satisfies IsNotFound. Used by fakes and by
// implementations whose native errors do not already carry the marker.
func NotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return err
	}
	return notFoundError{err}
}

type notFoundError struct{ err error }

func (e notFoundError) Error() string { return e.err.Error() }
func (e notFoundError) Unwrap() error { return e.err }
func (e notFoundError) Is(target error) bool {
	return target == cerrdefs.ErrNotFound
}
