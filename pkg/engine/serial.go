package engine

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"

	"github.com/ewoutp/kiruna/pkg/queue"
)

// Serialized funnels every engine call through a single FIFO queue. The
// underlying client does not tolerate being hammered with concurrent
// inspect/create calls during rollouts, and a serial engine also makes
// failure diagnosis deterministic: calls complete in submission order, never
// reordering across submitters.
type Serialized struct {
	inner Engine
	q     *queue.Serial
}

// Serialize wraps inner with the engine queue.
func Serialize(inner Engine) *Serialized {
	return &Serialized{
		inner: inner,
		q:     queue.NewSerial(),
	}
}

func (s *Serialized) InspectContainer(ctx context.Context, nameOrID string) (container.InspectResponse, error) {
	var out container.InspectResponse
	err := s.q.Do(func() error {
		var err error
		out, err = s.inner.InspectContainer(ctx, nameOrID)
		return err
	})
	return out, err
}

func (s *Serialized) CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	var id string
	err := s.q.Do(func() error {
		var err error
		id, err = s.inner.CreateContainer(ctx, name, cfg, hostCfg)
		return err
	})
	return id, err
}

func (s *Serialized) StartContainer(ctx context.Context, id string) error {
	return s.q.Do(func() error { return s.inner.StartContainer(ctx, id) })
}

func (s *Serialized) StopContainer(ctx context.Context, id string) error {
	return s.q.Do(func() error { return s.inner.StopContainer(ctx, id) })
}

func (s *Serialized) RemoveContainer(ctx context.Context, id string) error {
	return s.q.Do(func() error { return s.inner.RemoveContainer(ctx, id) })
}

func (s *Serialized) ListContainers(ctx context.Context) ([]container.Summary, error) {
	var out []container.Summary
	err := s.q.Do(func() error {
		var err error
		out, err = s.inner.ListContainers(ctx)
		return err
	})
	return out, err
}

func (s *Serialized) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	var out io.ReadCloser
	err := s.q.Do(func() error {
		var err error
		out, err = s.inner.ContainerLogs(ctx, id)
		return err
	})
	return out, err
}

func (s *Serialized) InspectImage(ctx context.Context, ref string) (image.InspectResponse, error) {
	var out image.InspectResponse
	err := s.q.Do(func() error {
		var err error
		out, err = s.inner.InspectImage(ctx, ref)
		return err
	})
	return out, err
}

func (s *Serialized) PullImage(ctx context.Context, img, tag, registry string) error {
	return s.q.Do(func() error { return s.inner.PullImage(ctx, img, tag, registry) })
}

func (s *Serialized) ListImages(ctx context.Context) ([]image.Summary, error) {
	var out []image.Summary
	err := s.q.Do(func() error {
		var err error
		out, err = s.inner.ListImages(ctx)
		return err
	})
	return out, err
}

func (s *Serialized) RemoveImage(ctx context.Context, ref string) error {
	return s.q.Do(func() error { return s.inner.RemoveImage(ctx, ref) })
}

func (s *Serialized) Close() error {
	err := s.q.Do(func() error { return s.inner.Close() })
	s.q.Close()
	return err
}
