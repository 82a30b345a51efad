package service

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/engine"
	"github.com/ewoutp/kiruna/pkg/engine/enginetest"
	"github.com/ewoutp/kiruna/pkg/events"
	"github.com/ewoutp/kiruna/pkg/runner"
)

func TestMain(m *testing.M) {
	runner.InitialWatchInterval = 20 * time.Millisecond
	runner.SteadyWatchInterval = 30 * time.Millisecond
	os.Exit(m.Run())
}

// fakeHost implements Host for service tests. Dependent stops cascade to
// explicitly registered services, like the application would.
type fakeHost struct {
	hub     *events.Hub
	eng     engine.Engine
	version string

	mu             sync.Mutex
	stopping       bool
	dependents     map[string][]*Service
	dependentStops []string
}

func newFakeHost(eng engine.Engine) *fakeHost {
	return &fakeHost{
		hub:        events.NewHub(),
		eng:        eng,
		version:    "1.0.0-test",
		dependents: make(map[string][]*Service),
	}
}

func (h *fakeHost) Events() *events.Hub { return h.hub }
func (h *fakeHost) Version() string     { return h.version }

func (h *fakeHost) Stopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

func (h *fakeHost) StopDependentsOf(ctx context.Context, name string) {
	h.mu.Lock()
	h.dependentStops = append(h.dependentStops, name)
	deps := h.dependents[name]
	h.mu.Unlock()
	for i := len(deps) - 1; i >= 0; i-- {
		deps[i].Stop(ctx)
	}
}

func (h *fakeHost) StopAndRemoveContainer(ctx context.Context, id string) error {
	info, err := h.eng.InspectContainer(ctx, id)
	if engine.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.State != nil && info.State.Running {
		if err := h.eng.StopContainer(ctx, id); err != nil && !engine.IsNotFound(err) {
			return err
		}
	}
	if err := h.eng.RemoveContainer(ctx, id); err != nil && !engine.IsNotFound(err) {
		return err
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func webSpec(scale int) config.ServiceSpec {
	return config.ServiceSpec{
		Name:  "web",
		Image: "example/web",
		Tag:   "1.0.0",
		Scale: scale,
	}
}

func TestLaunchCreatesMissingContainers(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(2), host, eng, nil)
	defer svc.Close()
	require.NoError(t, svc.Link(map[string]*Service{"web": svc}))

	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "all replicas up")

	for i := 0; i < 2; i++ {
		name := ContainerName("web", svc.Hash(), i)
		c := eng.Lookup(name)
		require.NotNil(t, c, "container %s missing", name)
		assert.True(t, c.Running)
	}
	assert.Equal(t, 2, eng.CallCount("create "))
}

func TestLaunchIsIdempotent(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(1), host, eng, nil)
	defer svc.Close()
	require.NoError(t, svc.Link(map[string]*Service{"web": svc}))

	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "first launch")
	require.Equal(t, 1, eng.CallCount("create "))

	// A second launch with no external changes creates nothing.
	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "second launch")
	assert.Equal(t, 1, eng.CallCount("create "))
	assert.Equal(t, 0, eng.CallCount("remove "))
}

func TestLaunchAdoptsRunningContainer(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(1), host, eng, nil)
	defer svc.Close()
	require.NoError(t, svc.Link(map[string]*Service{"web": svc}))

	// A previous daemon run left a live container with the canonical name.
	eng.AddContainer(ContainerName("web", svc.Hash(), 0), true, nil)

	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "adoption")
	assert.Equal(t, 0, eng.CallCount("create "))
}

func TestLaunchRecreatesStoppedContainer(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(1), host, eng, nil)
	defer svc.Close()
	require.NoError(t, svc.Link(map[string]*Service{"web": svc}))

	// Same generation, but exited: must be removed and recreated.
	stale := eng.AddContainer(ContainerName("web", svc.Hash(), 0), false, nil)

	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "recreation")

	assert.Nil(t, eng.Container(stale))
	assert.Equal(t, 1, eng.CallCount("create "))
}

func TestHardDeployClearsOldGenerationFirst(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	spec := webSpec(1)
	spec.HardDeploy = true
	svc := New(context.Background(), spec, host, eng, nil)
	defer svc.Close()
	require.NoError(t, svc.Link(map[string]*Service{"web": svc}))

	// A running container from a previous generation.
	oldID := eng.AddContainer("web-fedcba9876543210__0_kir", true, nil)

	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "hard deploy")

	// Old generation stopped and removed before the new one was created.
	assert.Nil(t, eng.Container(oldID))
	calls := eng.Calls()
	removeIdx, createIdx := -1, -1
	for i, c := range calls {
		if strings.HasPrefix(c, "remove "+oldID) && removeIdx < 0 {
			removeIdx = i
		}
		if strings.HasPrefix(c, "create ") && createIdx < 0 {
			createIdx = i
		}
	}
	require.GreaterOrEqual(t, removeIdx, 0)
	require.GreaterOrEqual(t, createIdx, 0)
	assert.Less(t, removeIdx, createIdx, "old generation must be removed before the new one is created")

	// Dependents were asked to stop first.
	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Contains(t, host.dependentStops, "web")
}

func TestLaunchWaitsForDependencyAndResumes(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("coreos/etcd:0.4.6")
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	etcdSpec := config.ServiceSpec{Name: "etcd", Image: "coreos/etcd", Tag: "0.4.6", Scale: 1}
	etcd := New(context.Background(), etcdSpec, host, eng, nil)
	defer etcd.Close()

	wspec := webSpec(1)
	wspec.Dependencies = []string{"etcd"}
	web := New(context.Background(), wspec, host, eng, nil)
	defer web.Close()

	byName := map[string]*Service{"etcd": etcd, "web": web}
	require.NoError(t, etcd.Link(byName))
	require.NoError(t, web.Link(byName))
	assert.True(t, web.DependsOn("etcd"))

	// Web launches first: nothing can start while etcd is down.
	require.NoError(t, web.Launch(context.Background()))
	assert.Equal(t, 0, eng.CallCount("create "))
	assert.False(t, web.IsRunning())

	// Etcd coming up resumes web automatically through the started event.
	require.NoError(t, etcd.Launch(context.Background()))
	waitFor(t, etcd.AllUp, "etcd up")
	waitFor(t, web.AllUp, "web resumed")

	// The link points at etcd's first container.
	webContainer := eng.Lookup(ContainerName("web", web.Hash(), 0))
	require.NotNil(t, webContainer)
	require.NotNil(t, webContainer.Host)
	assert.Equal(t, []string{etcd.FirstContainerName() + ":etcd"}, webContainer.Host.Links)
}

func TestStopRemovesCurrentGeneration(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(2), host, eng, nil)
	defer svc.Close()
	require.NoError(t, svc.Link(map[string]*Service{"web": svc}))

	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "launch")

	svc.Stop(context.Background())

	assert.False(t, svc.IsRunning())
	for i := 0; i < 2; i++ {
		assert.Nil(t, eng.Lookup(ContainerName("web", svc.Hash(), i)))
	}

	// Stopped deliberately: the service must not restart its replicas.
	time.Sleep(400 * time.Millisecond)
	assert.False(t, svc.IsRunning())
}

func TestCrashedReplicaIsReplaced(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(1), host, eng, nil)
	defer svc.Close()
	require.NoError(t, svc.Link(map[string]*Service{"web": svc}))

	require.NoError(t, svc.Launch(context.Background()))
	waitFor(t, svc.AllUp, "launch")
	name := ContainerName("web", svc.Hash(), 0)
	first := eng.Lookup(name)
	require.NotNil(t, first)

	// Kill it externally; the service replaces the casualty.
	eng.SetRunning(first.ID, false)
	waitFor(t, func() bool {
		c := eng.Lookup(name)
		return c != nil && c.Running && c.ID != first.ID
	}, "replacement container")
	waitFor(t, svc.AllUp, "recovered")
}

func TestPullImageSkipsPresentImage(t *testing.T) {
	eng := enginetest.NewFake()
	eng.AddImage("example/web:1.0.0")
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(1), host, eng, nil)
	defer svc.Close()

	require.NoError(t, svc.PullImage(context.Background()))
	assert.Equal(t, 0, eng.CallCount("pull "))
}

func TestPullImageFetchesMissingImage(t *testing.T) {
	eng := enginetest.NewFake()
	host := newFakeHost(eng)
	defer host.hub.Close()

	svc := New(context.Background(), webSpec(1), host, eng, nil)
	defer svc.Close()

	require.NoError(t, svc.PullImage(context.Background()))
	assert.Equal(t, 1, eng.CallCount("pull example/web:1.0.0"))
}
