package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewoutp/kiruna/pkg/engine/enginetest"
)

func TestPruneImageTagsRetention(t *testing.T) {
	eng := enginetest.NewFake()
	for _, ref := range []string{
		"coreos/etcd:0.4.0",
		"coreos/etcd:0.4.2",
		"coreos/etcd:0.4.5",
		"coreos/etcd:0.4.6",
		"example/web:1.0.0",
	} {
		eng.AddImage(ref)
	}

	a := &Application{eng: eng, logger: zerolog.Nop()}

	list, err := eng.ListImages(context.Background())
	require.NoError(t, err)
	var tags []string
	for _, img := range list {
		tags = append(tags, img.RepoTags...)
	}

	a.pruneImageTags(context.Background(), tags, "coreos/etcd", "", "coreos/etcd:0.4.6")

	// Current plus the two newest old tags survive; the oldest goes.
	_, err = eng.InspectImage(context.Background(), "coreos/etcd:0.4.0")
	assert.Error(t, err, "oldest tag must be removed")
	for _, kept := range []string{"coreos/etcd:0.4.2", "coreos/etcd:0.4.5", "coreos/etcd:0.4.6", "example/web:1.0.0"} {
		_, err = eng.InspectImage(context.Background(), kept)
		assert.NoError(t, err, "%s must be retained", kept)
	}
}

func TestPruneImageTagsNeverRemovesCurrent(t *testing.T) {
	eng := enginetest.NewFake()
	// Current is the oldest version on disk.
	for _, ref := range []string{
		"coreos/etcd:0.4.0",
		"coreos/etcd:0.4.5",
		"coreos/etcd:0.4.6",
		"coreos/etcd:0.5.0",
	} {
		eng.AddImage(ref)
	}

	a := &Application{eng: eng, logger: zerolog.Nop()}
	tags := []string{"coreos/etcd:0.4.0", "coreos/etcd:0.4.5", "coreos/etcd:0.4.6", "coreos/etcd:0.5.0"}

	a.pruneImageTags(context.Background(), tags, "coreos/etcd", "", "coreos/etcd:0.4.0")

	_, err := eng.InspectImage(context.Background(), "coreos/etcd:0.4.0")
	assert.NoError(t, err, "in-use image must survive even as the oldest")
	_, err = eng.InspectImage(context.Background(), "coreos/etcd:0.4.5")
	assert.Error(t, err, "oldest non-current tag must be removed")
}

func TestPruneImageTagsSkipsNonSemverTags(t *testing.T) {
	eng := enginetest.NewFake()
	for _, ref := range []string{
		"example/web:latest",
		"example/web:devel",
		"example/web:unstable",
		"example/web:1.0.0",
	} {
		eng.AddImage(ref)
	}

	a := &Application{eng: eng, logger: zerolog.Nop()}
	tags := []string{"example/web:latest", "example/web:devel", "example/web:unstable", "example/web:1.0.0"}

	a.pruneImageTags(context.Background(), tags, "example/web", "", "example/web:1.0.0")

	for _, kept := range []string{"example/web:latest", "example/web:devel", "example/web:unstable"} {
		_, err := eng.InspectImage(context.Background(), kept)
		assert.NoError(t, err, "unversioned tag %s must be left alone", kept)
	}
}

func TestCleanupContainersScope(t *testing.T) {
	eng := enginetest.NewFake()
	// An owned leftover from a previous generation.
	leftover := eng.AddContainer("web-fedcba9876543210__0_kir", true, nil)
	// A container the daemon does not own.
	foreign := eng.AddContainer("some-other-container", true, nil)

	a := &Application{eng: eng, logger: zerolog.Nop()}
	a.cleanupContainers(context.Background())

	assert.Nil(t, eng.Container(leftover), "owned obsolete container must be reaped")
	assert.NotNil(t, eng.Container(foreign), "cleanup must never touch foreign containers")
}
