package runner

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/rs/zerolog"

	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/engine"
	"github.com/ewoutp/kiruna/pkg/health"
	"github.com/ewoutp/kiruna/pkg/log"
	"github.com/ewoutp/kiruna/pkg/metrics"
	"github.com/ewoutp/kiruna/pkg/registry"
)

// maxHealthFailures is the tolerance window for transient probe failures
// after a container has been running.
const maxHealthFailures = 4

var (
	// InitialWatchInterval drives the watch loop until the container turns
	// healthy and again after every failed check, so startup and recovery
	// are detected quickly. Vars, not consts, so tests can run the loop at
	// full speed.
	InitialWatchInterval = 250 * time.Millisecond

	// SteadyWatchInterval drives the watch loop once the container is
	// healthy.
	SteadyWatchInterval = 15 * time.Second
)

// Callbacks receive the runner's edge-triggered lifecycle events. Each
// fires at most once, from the runner's watch goroutine.
type Callbacks struct {
	OnStarted func(*Runner)
	OnStopped func(*Runner)
}

// Runner owns one engine container from adoption until its terminal stop.
// It inspects and probes the container on a timer, publishes endpoints on
// every healthy check, and stops the container when the failure budget runs
// out.
type Runner struct {
	eng     engine.Engine
	reg     registry.Publisher
	service string
	index   int
	probes  []config.Probe
	id      string
	cb      Callbacks
	logger  zerolog.Logger
	ctx     context.Context

	stopping atomic.Bool
	interval time.Duration

	mu             sync.Mutex
	name           string
	started        bool
	stopped        bool
	healthFailures int
}

// New adopts the container with the given engine ID and starts its watch
// loop. reg may be nil when the service does not register endpoints.
func New(ctx context.Context, eng engine.Engine, reg registry.Publisher, service string, index int, probes []config.Probe, id string, cb Callbacks) *Runner {
	r := &Runner{
		eng:      eng,
		reg:      reg,
		service:  service,
		index:    index,
		probes:   probes,
		id:       id,
		cb:       cb,
		logger:   log.Container(service, id),
		ctx:      ctx,
		interval: InitialWatchInterval,
	}
	go r.watch()
	return r
}

// ID returns the engine container ID.
func (r *Runner) ID() string { return r.id }

// Index returns the replica index within the service.
func (r *Runner) Index() int { return r.index }

// Name returns the engine-assigned container name, cached on adoption.
func (r *Runner) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// IsStarted reports whether the container is running and has passed its
// first health check.
func (r *Runner) IsStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.stopped
}

// MarkStopping makes the watch loop terminal: the next tick does nothing
// and no further events fire. Used when the owning service retires the
// container deliberately.
func (r *Runner) MarkStopping() {
	r.stopping.Store(true)
}

func (r *Runner) watch() {
	if info, err := r.eng.InspectContainer(r.ctx, r.id); err == nil {
		r.mu.Lock()
		r.name = strings.TrimPrefix(info.Name, "/")
		r.mu.Unlock()
		r.logger = log.Container(r.service, r.name)
	}

	for {
		timer := time.NewTimer(r.interval)
		select {
		case <-timer.C:
		case <-r.ctx.Done():
			timer.Stop()
			return
		}
		if r.stopping.Load() {
			return
		}
		if !r.tick() {
			return
		}
	}
}

// tick runs one inspect+probe cycle. Returns false when the loop must end.
func (r *Runner) tick() bool {
	info, err := r.eng.InspectContainer(r.ctx, r.id)
	if err != nil {
		if engine.IsNotFound(err) {
			r.logger.Info().Msg("container is gone")
		} else {
			r.logger.Error().Err(err).Msg("inspect failed")
		}
		r.emitStopped()
		return false
	}

	if info.State == nil || !info.State.Running {
		r.logger.Info().Msg("container is no longer running")
		r.attachLogs()
		r.emitStopped()
		return false
	}

	result := health.Check(r.ctx, r.probes, info, r.logger)
	if result.Healthy {
		r.mu.Lock()
		r.healthFailures = 0
		r.mu.Unlock()
		if r.reg != nil {
			r.publishEndpoints(info)
		}
		r.interval = SteadyWatchInterval
		r.emitStarted()
		return true
	}

	r.mu.Lock()
	started := r.started
	failures := r.healthFailures
	r.mu.Unlock()

	r.interval = InitialWatchInterval
	if !started {
		// Still starting up; failures do not count against the budget.
		return true
	}
	if failures < maxHealthFailures {
		r.mu.Lock()
		r.healthFailures++
		r.mu.Unlock()
		r.logger.Warn().Int("failures", failures+1).Str("reason", result.Message).Msg("health check failed")
		return true
	}

	r.logger.Error().Str("reason", result.Message).Msg("health budget exhausted, stopping container")
	if err := r.eng.StopContainer(r.ctx, r.id); err != nil && !engine.IsNotFound(err) {
		r.logger.Error().Err(err).Msg("stop failed")
	}
	r.emitStopped()
	return false
}

// publishEndpoints re-writes every bound port into the registry. Write
// failures are logged by the registry and do not affect the container.
func (r *Runner) publishEndpoints(info container.InspectResponse) {
	if info.NetworkSettings == nil {
		return
	}
	for port, bindings := range info.NetworkSettings.Ports {
		for _, b := range bindings {
			if b.HostPort == "" {
				continue
			}
			_ = r.reg.PublishEndpoint(r.ctx, r.service, r.index, string(port), b.HostPort)
		}
	}
}

// attachLogs forwards the dead container's output into the daemon log, once.
func (r *Runner) attachLogs() {
	rc, err := r.eng.ContainerLogs(r.ctx, r.id)
	if err != nil || rc == nil {
		return
	}
	go log.AttachContainer(r.service, r.Name(), rc)
}

func (r *Runner) emitStarted() {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	metrics.ContainersTotal.WithLabelValues("running").Inc()
	r.logger.Info().Msg("container started")
	if r.cb.OnStarted != nil {
		r.cb.OnStarted(r)
	}
}

func (r *Runner) emitStopped() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	wasStarted := r.started
	r.stopped = true
	r.mu.Unlock()

	if wasStarted {
		metrics.ContainersTotal.WithLabelValues("running").Dec()
	}
	r.logger.Info().Msg("container stopped")
	if r.cb.OnStopped != nil {
		r.cb.OnStopped(r)
	}
}
