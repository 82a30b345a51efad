package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/engine"
	"github.com/ewoutp/kiruna/pkg/events"
	"github.com/ewoutp/kiruna/pkg/log"
	"github.com/ewoutp/kiruna/pkg/metrics"
	"github.com/ewoutp/kiruna/pkg/queue"
	"github.com/ewoutp/kiruna/pkg/registry"
	"github.com/ewoutp/kiruna/pkg/service"
)

// Application is one manifest snapshot at runtime: the dependency-ordered
// service list, the shared event hub, and the global janitor. It lives
// until the next accepted config change supersedes it.
type Application struct {
	services []*service.Service
	byName   map[string]*service.Service
	eng      engine.Engine
	hub      *events.Hub
	version  string
	logger   zerolog.Logger
	ctx      context.Context

	stopping atomic.Bool
	cleanupQ *queue.Serial
}

// New builds the service graph from a loaded manifest. Services are sorted
// so every dependency precedes its dependents; a cycle is fatal. reg may be
// nil when no registry is configured.
func New(ctx context.Context, cfg *config.Config, eng engine.Engine, reg registry.Publisher, version string) (*Application, error) {
	sorted, err := sortSpecs(cfg.Services)
	if err != nil {
		return nil, err
	}

	a := &Application{
		eng:      eng,
		hub:      events.NewHub(),
		version:  version,
		logger:   log.Component("app"),
		ctx:      ctx,
		byName:   make(map[string]*service.Service, len(sorted)),
		cleanupQ: queue.NewSerial(),
	}

	for _, spec := range sorted {
		svc := service.New(ctx, spec, a, eng, reg)
		a.services = append(a.services, svc)
		a.byName[spec.Name] = svc
	}
	// Linking follows the sorted order so transitive closures are complete.
	for _, svc := range a.services {
		if err := svc.Link(a.byName); err != nil {
			a.Shutdown()
			return nil, err
		}
	}

	a.hub.Notify(a.onServiceEvent)

	metrics.ServicesTotal.Set(float64(len(a.services)))
	return a, nil
}

// sortSpecs orders services so dependencies come first: repeatedly take the
// head; rotate it to the tail while it still depends on a remaining entry.
// More than 2N iterations means the dependency graph has a cycle.
func sortSpecs(specs []config.ServiceSpec) ([]config.ServiceSpec, error) {
	pending := append([]config.ServiceSpec(nil), specs...)
	sorted := make([]config.ServiceSpec, 0, len(pending))
	placed := make(map[string]bool, len(pending))

	limit := 2 * len(pending)
	for iter := 0; len(pending) > 0; iter++ {
		if iter > limit {
			return nil, fmt.Errorf("circular dependency among services")
		}
		head := pending[0]
		pending = pending[1:]

		ready := true
		for _, dep := range head.DependencyNames() {
			if !placed[dep] {
				ready = false
				break
			}
		}
		if ready {
			sorted = append(sorted, head)
			placed[head.Name] = true
		} else {
			pending = append(pending, head)
		}
	}
	return sorted, nil
}

// Events implements service.Host.
func (a *Application) Events() *events.Hub { return a.hub }

// Version implements service.Host.
func (a *Application) Version() string { return a.version }

// Stopping implements service.Host. A stopping application no longer
// restarts crashed containers.
func (a *Application) Stopping() bool { return a.stopping.Load() }

// SetStopping marks the application superseded.
func (a *Application) SetStopping() { a.stopping.Store(true) }

// Services returns the dependency-ordered service list.
func (a *Application) Services() []*service.Service { return a.services }

// Launch pulls every image in order, marks the previous application as
// stopping, then launches each service. A failing service never prevents
// the others from launching.
func (a *Application) Launch(ctx context.Context, prev *Application) error {
	metrics.RolloutsTotal.Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RolloutDuration)

	// Sequential pulls avoid hammering the image registry.
	for _, svc := range a.services {
		if !svc.Spec().IsEnabled() {
			continue
		}
		if err := svc.PullImage(ctx); err != nil {
			a.logger.Error().Err(err).Str("service", svc.Name()).Msg("image pull failed")
		}
	}

	if prev != nil {
		prev.SetStopping()
	}

	for _, svc := range a.services {
		if !svc.Spec().IsEnabled() {
			continue
		}
		if err := svc.Launch(ctx); err != nil {
			a.logger.Error().Err(err).Str("service", svc.Name()).Msg("launch failed")
		}
	}
	return nil
}

// StopAll stops every enabled service, dependents before dependencies.
func (a *Application) StopAll(ctx context.Context) {
	a.SetStopping()
	for i := len(a.services) - 1; i >= 0; i-- {
		if !a.services[i].Spec().IsEnabled() {
			continue
		}
		a.services[i].Stop(ctx)
	}
}

// StopDependentsOf implements service.Host: stop every service that
// transitively depends on name, in reverse dependency order.
func (a *Application) StopDependentsOf(ctx context.Context, name string) {
	for i := len(a.services) - 1; i >= 0; i-- {
		svc := a.services[i]
		if svc.DependsOn(name) {
			svc.Stop(ctx)
		}
	}
}

// StopAndRemoveContainer implements service.Host. Every step tolerates the
// container being gone already: someone else removing it is success.
func (a *Application) StopAndRemoveContainer(ctx context.Context, id string) error {
	info, err := a.eng.InspectContainer(ctx, id)
	if engine.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.State != nil && info.State.Running {
		if err := a.eng.StopContainer(ctx, id); err != nil && !engine.IsNotFound(err) {
			return err
		}
	}

	if _, err := a.eng.InspectContainer(ctx, id); err != nil {
		if engine.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := a.eng.RemoveContainer(ctx, id); err != nil && !engine.IsNotFound(err) {
		return err
	}
	return nil
}

// IsUp reports whether every enabled service has all replicas running.
// An empty application is never up.
func (a *Application) IsUp() bool {
	if len(a.services) == 0 {
		return false
	}
	for _, svc := range a.services {
		if !svc.Spec().IsEnabled() {
			continue
		}
		if !svc.AllUp() {
			return false
		}
	}
	return true
}

// onServiceEvent triggers the janitor once the whole application is up. It
// runs on the hub's dispatch goroutine; the cleanup itself is queued so slow
// engine calls never hold up event delivery.
func (a *Application) onServiceEvent(ev events.Event) {
	if ev.Type != events.ServiceAllStarted {
		return
	}
	a.cleanupQ.Push(func() {
		if a.stopping.Load() || !a.IsUp() {
			return
		}
		a.cleanup(a.ctx)
	})
}

// Shutdown tears down the application's plumbing without touching its
// containers: the superseding application adopts or retires them.
func (a *Application) Shutdown() {
	a.SetStopping()
	a.hub.Close()
	for _, svc := range a.services {
		svc.Quiesce()
		svc.Close()
	}
	a.cleanupQ.Close()
}
