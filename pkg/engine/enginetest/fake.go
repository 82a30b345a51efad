package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/go-connections/nat"

	"github.com/ewoutp/kiruna/pkg/engine"
)

// Container is the fake's view of one engine container.
type Container struct {
	ID      string
	Name    string
	Running bool
	Ports   nat.PortMap
	Config  *container.Config
	Host    *container.HostConfig
}

// Fake is an in-memory engine.Engine for tests. It records every call and
// lets tests mutate container state between ticks.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*Container
	images     map[string]bool
	nextID     int
	calls      []string

	// FailCreate makes CreateContainer return an error.
	FailCreate error
}

// NewFake creates an empty fake engine.
func NewFake() *Fake {
	return &Fake{
		containers: make(map[string]*Container),
		images:     make(map[string]bool),
	}
}

// AddContainer seeds a container and returns its ID.
func (f *Fake) AddContainer(name string, running bool, ports nat.PortMap) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID()
	f.containers[id] = &Container{ID: id, Name: name, Running: running, Ports: ports}
	return id
}

// AddImage seeds a local image reference.
func (f *Fake) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// SetRunning flips a container's running state, as an external kill or
// start would.
func (f *Fake) SetRunning(id string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.Running = running
	}
}

// Container returns the fake's state for an ID, or nil.
func (f *Fake) Container(id string) *Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		snapshot := *c
		return &snapshot
	}
	return nil
}

// Lookup returns the container with the given name, or nil.
func (f *Fake) Lookup(name string) *Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.findLocked(name); c != nil {
		snapshot := *c
		return &snapshot
	}
	return nil
}

// Calls returns the recorded call log ("create web-x__0_kir", "stop ctr-001", …).
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how many recorded calls have the given prefix.
func (f *Fake) CallCount(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) newID() string {
	f.nextID++
	return fmt.Sprintf("ctr-%03d", f.nextID)
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fake) findLocked(nameOrID string) *Container {
	if c, ok := f.containers[nameOrID]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.Name == nameOrID {
			return c
		}
	}
	return nil
}

func notFound(what, name string) error {
	return engine.NotFound(fmt.Errorf("no such %s: %s", what, name))
}

func (f *Fake) InspectContainer(_ context.Context, nameOrID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inspect %s", nameOrID)
	c := f.findLocked(nameOrID)
	if c == nil {
		return container.InspectResponse{}, notFound("container", nameOrID)
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    c.ID,
			Name:  "/" + c.Name,
			State: &container.State{Running: c.Running},
		},
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{Ports: c.Ports},
		},
	}, nil
}

func (f *Fake) CreateContainer(_ context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s", name)
	if f.FailCreate != nil {
		return "", f.FailCreate
	}
	id := f.newID()
	f.containers[id] = &Container{ID: id, Name: name, Config: cfg, Host: hostCfg}
	return id, nil
}

func (f *Fake) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start %s", id)
	c := f.findLocked(id)
	if c == nil {
		return notFound("container", id)
	}
	c.Running = true
	return nil
}

func (f *Fake) StopContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", id)
	c := f.findLocked(id)
	if c == nil {
		return notFound("container", id)
	}
	c.Running = false
	return nil
}

func (f *Fake) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove %s", id)
	c := f.findLocked(id)
	if c == nil {
		return notFound("container", id)
	}
	delete(f.containers, c.ID)
	return nil
}

func (f *Fake) ListContainers(_ context.Context) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list containers")
	var out []container.Summary
	for _, c := range f.containers {
		state := "exited"
		if c.Running {
			state = "running"
		}
		out = append(out, container.Summary{
			ID:    c.ID,
			Names: []string{"/" + c.Name},
			State: state,
		})
	}
	return out, nil
}

func (f *Fake) ContainerLogs(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("logs %s", id)
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *Fake) InspectImage(_ context.Context, ref string) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inspect-image %s", ref)
	if !f.images[ref] {
		return image.InspectResponse{}, notFound("image", ref)
	}
	return image.InspectResponse{ID: "sha256:" + ref, RepoTags: []string{ref}}, nil
}

func (f *Fake) PullImage(_ context.Context, img, tag, registry string) error {
	ref := img + ":" + tag
	if registry != "" {
		ref = registry + "/" + ref
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull %s", ref)
	f.images[ref] = true
	return nil
}

func (f *Fake) ListImages(_ context.Context) ([]image.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list images")
	var out []image.Summary
	for ref := range f.images {
		out = append(out, image.Summary{ID: "sha256:" + ref, RepoTags: []string{ref}})
	}
	return out, nil
}

func (f *Fake) RemoveImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove-image %s", ref)
	if !f.images[ref] {
		return notFound("image", ref)
	}
	delete(f.images, ref)
	return nil
}

func (f *Fake) Close() error { return nil }
