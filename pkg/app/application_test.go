package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/engine/enginetest"
	"github.com/ewoutp/kiruna/pkg/runner"
	"github.com/ewoutp/kiruna/pkg/service"
)

func TestMain(m *testing.M) {
	runner.InitialWatchInterval = 20 * time.Millisecond
	runner.SteadyWatchInterval = 30 * time.Millisecond
	os.Exit(m.Run())
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

func parse(t *testing.T, manifest string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(manifest))
	require.NoError(t, err)
	return cfg
}

const coldStartManifest = `{
	"Services": {
		"web-app": {
			"Image": "example/web",
			"Tag": "1.0.0",
			"Dependencies": ["etcd"],
			"Register": false
		},
		"etcd": {
			"Image": "coreos/etcd",
			"Tag": "0.4.6",
			"Register": false
		}
	}
}`

func TestSortSpecsDependencyOrder(t *testing.T) {
	cfg := parse(t, coldStartManifest)

	sorted, err := sortSpecs(cfg.Services)
	require.NoError(t, err)
	require.Len(t, sorted, 2)
	assert.Equal(t, "etcd", sorted[0].Name)
	assert.Equal(t, "web-app", sorted[1].Name)
}

func TestSortSpecsKeepsIndependentOrder(t *testing.T) {
	cfg := parse(t, `{"Services": {
		"charlie": {"Image": "c", "Tag": "1"},
		"alpha": {"Image": "a", "Tag": "1"},
		"bravo": {"Image": "b", "Tag": "1"}
	}}`)

	sorted, err := sortSpecs(cfg.Services)
	require.NoError(t, err)
	// No interdependencies: the name-sorted input order survives.
	assert.Equal(t, "alpha", sorted[0].Name)
	assert.Equal(t, "bravo", sorted[1].Name)
	assert.Equal(t, "charlie", sorted[2].Name)
}

func TestSortSpecsDetectsCycle(t *testing.T) {
	cfg := parse(t, `{"Services": {
		"a": {"Image": "a", "Tag": "1", "Dependencies": ["b"]},
		"b": {"Image": "b", "Tag": "1", "Dependencies": ["a"]}
	}}`)

	_, err := sortSpecs(cfg.Services)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestColdStart(t *testing.T) {
	cfg := parse(t, coldStartManifest)
	eng := enginetest.NewFake()

	a, err := New(context.Background(), cfg, eng, nil, "1.0.0")
	require.NoError(t, err)
	defer a.Shutdown()

	require.NoError(t, a.Launch(context.Background(), nil))
	waitFor(t, a.IsUp, "application up")

	// Both images pulled, dependency first.
	calls := eng.Calls()
	var pulls []string
	for _, c := range calls {
		if strings.HasPrefix(c, "pull ") {
			pulls = append(pulls, c)
		}
	}
	require.Equal(t, []string{"pull coreos/etcd:0.4.6", "pull example/web:1.0.0"}, pulls)

	// Containers carry canonical names.
	etcd := a.byName["etcd"]
	web := a.byName["web-app"]
	etcdContainer := eng.Lookup(service.ContainerName("etcd", etcd.Hash(), 0))
	require.NotNil(t, etcdContainer)
	webContainer := eng.Lookup(service.ContainerName("web-app", web.Hash(), 0))
	require.NotNil(t, webContainer)

	// Web links to etcd's first container under the default alias.
	require.NotNil(t, webContainer.Host)
	assert.Equal(t, []string{etcd.FirstContainerName() + ":etcd"}, webContainer.Host.Links)
}

func TestUnchangedReloadCreatesNothing(t *testing.T) {
	cfg := parse(t, coldStartManifest)
	eng := enginetest.NewFake()

	first, err := New(context.Background(), cfg, eng, nil, "1.0.0")
	require.NoError(t, err)
	require.NoError(t, first.Launch(context.Background(), nil))
	waitFor(t, first.IsUp, "first application up")

	creates := eng.CallCount("create ")
	pulls := eng.CallCount("pull ")

	// Same manifest again: the new application adopts everything.
	second, err := New(context.Background(), parse(t, coldStartManifest), eng, nil, "1.0.0")
	require.NoError(t, err)
	require.NoError(t, second.Launch(context.Background(), first))
	waitFor(t, second.IsUp, "second application up")
	first.Shutdown()
	defer second.Shutdown()

	assert.Equal(t, creates, eng.CallCount("create "), "unchanged reload must not create containers")
	assert.Equal(t, pulls, eng.CallCount("pull "), "unchanged reload must not pull images")
	assert.Equal(t, 0, eng.CallCount("remove "))
}

func TestHardDeployReplacesGeneration(t *testing.T) {
	eng := enginetest.NewFake()

	first, err := New(context.Background(), parse(t, `{"Services": {
		"etcd": {"Image": "coreos/etcd", "Tag": "0.4.6", "HardDeploy": true, "Register": false},
		"web-app": {"Image": "example/web", "Tag": "1.0.0", "Dependencies": ["etcd"], "Register": false}
	}}`), eng, nil, "1.0.0")
	require.NoError(t, err)
	require.NoError(t, first.Launch(context.Background(), nil))
	waitFor(t, first.IsUp, "first generation up")

	oldEtcd := first.byName["etcd"]
	oldName := service.ContainerName("etcd", oldEtcd.Hash(), 0)
	require.NotNil(t, eng.Lookup(oldName))

	// Tag bump: a hard deploy replaces the etcd generation.
	second, err := New(context.Background(), parse(t, `{"Services": {
		"etcd": {"Image": "coreos/etcd", "Tag": "0.5.0", "HardDeploy": true, "Register": false},
		"web-app": {"Image": "example/web", "Tag": "1.0.0", "Dependencies": ["etcd"], "Register": false}
	}}`), eng, nil, "1.0.0")
	require.NoError(t, err)
	require.NoError(t, second.Launch(context.Background(), first))
	waitFor(t, second.IsUp, "second generation up")
	first.Shutdown()
	defer second.Shutdown()

	newEtcd := second.byName["etcd"]
	assert.NotEqual(t, oldEtcd.Hash(), newEtcd.Hash())
	assert.Nil(t, eng.Lookup(oldName), "old etcd generation must be removed")
	require.NotNil(t, eng.Lookup(service.ContainerName("etcd", newEtcd.Hash(), 0)))

	// Web was relaunched against the new generation's link.
	newWeb := second.byName["web-app"]
	webContainer := eng.Lookup(service.ContainerName("web-app", newWeb.Hash(), 0))
	require.NotNil(t, webContainer)
	require.NotNil(t, webContainer.Host)
	assert.Equal(t, []string{newEtcd.FirstContainerName() + ":etcd"}, webContainer.Host.Links)
}

func TestDependencyCollapseAndRecovery(t *testing.T) {
	cfg := parse(t, coldStartManifest)
	eng := enginetest.NewFake()

	a, err := New(context.Background(), cfg, eng, nil, "1.0.0")
	require.NoError(t, err)
	defer a.Shutdown()
	require.NoError(t, a.Launch(context.Background(), nil))
	waitFor(t, a.IsUp, "application up")

	etcd := a.byName["etcd"]
	web := a.byName["web-app"]
	etcdName := service.ContainerName("etcd", etcd.Hash(), 0)
	firstEtcd := eng.Lookup(etcdName)
	require.NotNil(t, firstEtcd)

	// Kill etcd externally: web observes the stop and goes down with it,
	// then both recover automatically.
	eng.SetRunning(firstEtcd.ID, false)

	waitFor(t, func() bool {
		c := eng.Lookup(etcdName)
		return c != nil && c.Running && c.ID != firstEtcd.ID
	}, "etcd replacement")
	waitFor(t, a.IsUp, "full recovery")
	assert.True(t, web.AllUp())
}

func TestIsUpIgnoresDisabledServices(t *testing.T) {
	cfg := parse(t, `{"Services": {
		"web": {"Image": "example/web", "Tag": "1.0.0", "Register": false},
		"batch": {"Image": "example/batch", "Tag": "1.0.0", "Enabled": false, "Register": false}
	}}`)
	eng := enginetest.NewFake()

	a, err := New(context.Background(), cfg, eng, nil, "1.0.0")
	require.NoError(t, err)
	defer a.Shutdown()

	require.NoError(t, a.Launch(context.Background(), nil))
	waitFor(t, a.IsUp, "up without disabled service")

	// The disabled service never produced a container.
	assert.Equal(t, 1, eng.CallCount("create "))
}

func TestStopAndRemoveContainerToleratesMissing(t *testing.T) {
	eng := enginetest.NewFake()
	a := &Application{eng: eng}

	// Absent container: success.
	require.NoError(t, a.StopAndRemoveContainer(context.Background(), "nope"))

	// Running container: stopped, then removed.
	id := eng.AddContainer("web-abc__0_kir", true, nil)
	require.NoError(t, a.StopAndRemoveContainer(context.Background(), id))
	assert.Nil(t, eng.Container(id))
}
