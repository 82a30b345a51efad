package app

import (
	"context"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ewoutp/kiruna/pkg/metrics"
	"github.com/ewoutp/kiruna/pkg/service"
)

// imagesToKeep is the retention bound per service: the image in use plus
// two previous tags.
const imagesToKeep = 3

// selfImage is the daemon's own image; its old tags follow the same
// retention rule as any service.
const selfImage = "ewoutp/kiruna"

// cleanup reaps obsolete containers and prunes old image tags. It only runs
// once every enabled service is fully up, so anything owned but not current
// is genuinely leftover.
func (a *Application) cleanup(ctx context.Context) {
	a.logger.Debug().Msg("running cleanup")
	a.cleanupContainers(ctx)
	a.cleanupImages(ctx)
}

// cleanupContainers removes owned containers that back no current runner.
// Containers without the ownership postfix in their name are never touched.
func (a *Application) cleanupContainers(ctx context.Context) {
	valid := make(map[string]bool)
	for _, svc := range a.services {
		for _, id := range svc.RunnerIDs() {
			valid[id] = true
		}
	}

	list, err := a.eng.ListContainers(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("cleanup: failed to list containers")
		return
	}

	for _, c := range list {
		if len(c.Names) == 0 || valid[c.ID] {
			continue
		}
		raw := c.Names[0]
		if strings.Count(raw, "/") > 1 {
			continue
		}
		if !service.Owned(strings.TrimPrefix(raw, "/")) {
			continue
		}
		a.logger.Info().Str("container", raw).Msg("cleanup: removing obsolete container")
		if err := a.StopAndRemoveContainer(ctx, c.ID); err != nil {
			a.logger.Error().Err(err).Str("container", raw).Msg("cleanup: remove failed")
			continue
		}
		metrics.ContainersReapedTotal.Inc()
	}
}

// cleanupImages prunes old tags per service, oldest first, keeping the tag
// in use plus imagesToKeep-1 previous ones. The in-use image is never a
// removal candidate.
func (a *Application) cleanupImages(ctx context.Context) {
	list, err := a.eng.ListImages(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("cleanup: failed to list images")
		return
	}

	var tags []string
	for _, img := range list {
		tags = append(tags, img.RepoTags...)
	}

	for _, svc := range a.services {
		spec := svc.Spec()
		a.pruneImageTags(ctx, tags, spec.Image, spec.Registry, spec.ImageRef())
	}
	// The daemon's own image follows the same rule.
	a.pruneImageTags(ctx, tags, selfImage, "", selfImage+":"+a.version)
}

// pruneImageTags removes the oldest semver-tagged images of one repository
// beyond the retention bound. current is exempt; tags that do not parse as
// versions are left alone.
func (a *Application) pruneImageTags(ctx context.Context, tags []string, image, registryHost, current string) {
	prefixes := []string{image + ":"}
	if registryHost != "" {
		prefixes = append(prefixes, registryHost+"/"+image+":")
	}

	type candidate struct {
		ref     string
		version *semver.Version
	}
	var candidates []candidate
	for _, tag := range tags {
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(tag, p) {
				matched = true
				break
			}
		}
		if !matched || tag == current {
			continue
		}
		v, err := semver.NewVersion(tag[strings.LastIndex(tag, ":")+1:])
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{ref: tag, version: v})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].version.LessThan(candidates[j].version)
	})

	for len(candidates) > imagesToKeep-1 {
		oldest := candidates[0]
		candidates = candidates[1:]
		a.logger.Info().Str("image", oldest.ref).Msg("cleanup: removing old image")
		if err := a.eng.RemoveImage(ctx, oldest.ref); err != nil {
			a.logger.Error().Err(err).Str("image", oldest.ref).Msg("cleanup: image remove failed")
			continue
		}
		metrics.ImagesRemovedTotal.Inc()
	}
}
