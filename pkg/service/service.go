package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/engine"
	"github.com/ewoutp/kiruna/pkg/events"
	"github.com/ewoutp/kiruna/pkg/log"
	"github.com/ewoutp/kiruna/pkg/metrics"
	"github.com/ewoutp/kiruna/pkg/queue"
	"github.com/ewoutp/kiruna/pkg/registry"
	"github.com/ewoutp/kiruna/pkg/runner"
)

// maxRecentFailures quarantines a service: once its replicas have stopped
// more than this many times more than they started, no further automatic
// restarts happen until the next config change rebuilds the service.
const maxRecentFailures = 20

// Host is the application surface a service needs: the shared event hub,
// reverse-dependency stops, and tolerant container teardown.
type Host interface {
	Events() *events.Hub
	Stopping() bool
	Version() string
	StopDependentsOf(ctx context.Context, name string)
	StopAndRemoveContainer(ctx context.Context, id string) error
}

type directDep struct {
	svc   *Service
	alias string
}

// Service drives one manifest entry: its rollout state machine, its scaled
// replicas, and its reactions to dependency events. Every mutating step runs
// on the service's serialized work queue, so rollouts never interleave.
type Service struct {
	spec   config.ServiceSpec
	host   Host
	eng    engine.Engine
	reg    registry.Publisher
	hash   string
	q      *queue.Serial
	logger zerolog.Logger
	ctx    context.Context

	direct   []directDep
	deps     []*Service
	depNames map[string]bool

	mu             sync.Mutex
	runners        map[int]*runner.Runner
	recentFailures int
	launched       bool
	stopping       bool
}

// New builds the runtime object for spec. reg may be nil when the spec opts
// out of registration.
func New(ctx context.Context, spec config.ServiceSpec, host Host, eng engine.Engine, reg registry.Publisher) *Service {
	if !spec.Registers() {
		reg = nil
	}
	return &Service{
		spec:    spec,
		host:    host,
		eng:     eng,
		reg:     reg,
		hash:    SpecHash(spec, host.Version()),
		q:       queue.NewSerial(),
		logger:  log.Service(spec.Name),
		ctx:     ctx,
		runners: make(map[int]*runner.Runner),
	}
}

// Name returns the service name.
func (s *Service) Name() string { return s.spec.Name }

// Spec returns the service's manifest entry.
func (s *Service) Spec() config.ServiceSpec { return s.spec }

// Hash returns the generation hash baked into container names.
func (s *Service) Hash() string { return s.hash }

// FirstContainerName is the canonical name of replica zero, used as the
// link target by dependents.
func (s *Service) FirstContainerName() string {
	return ContainerName(s.spec.Name, s.hash, 0)
}

// Link resolves dependency names to services and subscribes to their
// lifecycle events. Dependencies are the union of the direct entries and
// their already-linked transitive dependencies, so linking must happen in
// dependency order.
func (s *Service) Link(byName map[string]*Service) error {
	set := make(map[string]*Service)
	for _, entry := range s.spec.Dependencies {
		name, alias := config.SplitDependency(entry)
		dep, ok := byName[name]
		if !ok {
			return fmt.Errorf("service %s depends on unknown service %s", s.spec.Name, name)
		}
		s.direct = append(s.direct, directDep{svc: dep, alias: alias})
		set[dep.Name()] = dep
		for _, t := range dep.deps {
			set[t.Name()] = t
		}
	}

	s.deps = make([]*Service, 0, len(set))
	for _, dep := range set {
		s.deps = append(s.deps, dep)
	}
	sort.Slice(s.deps, func(i, j int) bool { return s.deps[i].Name() < s.deps[j].Name() })

	s.depNames = make(map[string]bool, len(s.deps))
	for _, dep := range s.deps {
		s.depNames[dep.Name()] = true
	}
	s.host.Events().Notify(s.onDependencyEvent)
	return nil
}

// DependsOn reports whether name is among the transitive dependencies.
func (s *Service) DependsOn(name string) bool {
	for _, dep := range s.deps {
		if dep.Name() == name {
			return true
		}
	}
	return false
}

// onDependencyEvent reacts to dependency lifecycle transitions: a stopped
// dependency stops this service, a started dependency resumes a waiting
// launch. It runs on the hub's dispatch goroutine and only enqueues the
// reaction; the work itself runs on the service queue like every other
// mutation.
func (s *Service) onDependencyEvent(ev events.Event) {
	if !s.depNames[ev.Service] {
		return
	}
	switch ev.Type {
	case events.ServiceStarted:
		s.q.Push(func() {
			s.mu.Lock()
			launched := s.launched
			quarantined := s.recentFailures > maxRecentFailures
			s.mu.Unlock()
			if !launched || quarantined || s.host.Stopping() {
				return
			}
			s.logger.Debug().Str("dependency", ev.Service).Msg("dependency started, resuming")
			s.startContainers(s.ctx)
		})
	case events.ServiceStopped:
		s.q.Push(func() {
			s.logger.Info().Str("dependency", ev.Service).Msg("dependency stopped, stopping")
			s.stop(s.ctx)
		})
	}
}

// PullImage makes the service's image available locally. Already-present
// images return immediately; otherwise the pull stream is consumed and the
// image re-inspected to confirm availability.
func (s *Service) PullImage(ctx context.Context) error {
	ref := s.spec.ImageRef()
	if _, err := s.eng.InspectImage(ctx, ref); err == nil {
		s.logger.Debug().Str("image", ref).Msg("image already present")
		return nil
	}
	if err := s.eng.PullImage(ctx, s.spec.Image, s.spec.Tag, s.spec.Registry); err != nil {
		return err
	}
	if _, err := s.eng.InspectImage(ctx, ref); err != nil {
		return fmt.Errorf("image %s missing after pull: %w", ref, err)
	}
	return nil
}

// Launch runs the rollout sequence on the work queue: collect running
// containers of the current generation, clear the ground on a hard deploy,
// then create and start whatever is missing.
func (s *Service) Launch(ctx context.Context) error {
	return s.q.Do(func() error {
		s.collectRunning(ctx)

		s.mu.Lock()
		adopted := len(s.runners)
		s.mu.Unlock()
		if adopted == 0 && s.spec.HardDeploy {
			s.logger.Info().Msg("hard deploy, stopping previous generation first")
			s.stop(ctx)
		}

		s.mu.Lock()
		s.launched = true
		s.mu.Unlock()

		return s.startContainers(ctx)
	})
}

// Stop retires the service: its dependents first, then every owned
// container including the current generation.
func (s *Service) Stop(ctx context.Context) {
	s.q.Do(func() error {
		s.stop(ctx)
		return nil
	})
}

// IsRunning reports whether at least one replica is started.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countStartedLocked() > 0
}

// AllUp reports whether every scaled replica is started.
func (s *Service) AllUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countStartedLocked() == s.spec.Scale
}

// RunnerIDs returns the engine IDs of the current replicas. Cleanup spares
// these.
func (s *Service) RunnerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runners))
	for _, r := range s.runners {
		ids = append(ids, r.ID())
	}
	return ids
}

// Quiesce marks every runner stopping without touching the containers.
// Used when the application is superseded: the next generation adopts the
// containers, so only the watch loops must end.
func (s *Service) Quiesce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	for _, r := range s.runners {
		r.MarkStopping()
	}
}

// Close shuts the work queue down. Queued tasks finish first; the event
// handler stays registered but its hub dies with the application.
func (s *Service) Close() {
	s.q.Close()
}

// collectRunning adopts already-running containers of the current
// generation, index by index. Missing or stopped containers are left for
// startContainers.
func (s *Service) collectRunning(ctx context.Context) {
	for i := 0; i < s.spec.Scale; i++ {
		name := ContainerName(s.spec.Name, s.hash, i)
		info, err := s.eng.InspectContainer(ctx, name)
		if err != nil {
			if !engine.IsNotFound(err) {
				s.logger.Error().Err(err).Str("container", name).Msg("inspect failed during collection")
			}
			continue
		}
		if info.State != nil && info.State.Running {
			s.logger.Info().Str("container", name).Msg("adopting running container")
			s.adopt(info.ID, i)
		}
	}
}

// startContainers brings the service to scale. A dependency that is not
// running aborts the pass; the dependency's started event retries it later.
func (s *Service) startContainers(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()

	for _, dep := range s.deps {
		if !dep.IsRunning() {
			s.logger.Info().Str("dependency", dep.Name()).Msg("waiting for dependency")
			return nil
		}
	}

	for i := 0; i < s.spec.Scale; i++ {
		s.mu.Lock()
		_, exists := s.runners[i]
		s.mu.Unlock()
		if exists {
			continue
		}

		name := ContainerName(s.spec.Name, s.hash, i)
		info, err := s.eng.InspectContainer(ctx, name)
		switch {
		case err == nil && info.State != nil && info.State.Running:
			s.adopt(info.ID, i)
			continue
		case err == nil:
			// Exists but is not running: recreate from scratch.
			if err := s.eng.RemoveContainer(ctx, info.ID); err != nil && !engine.IsNotFound(err) {
				s.logger.Error().Err(err).Str("container", name).Msg("failed to remove stopped container")
				continue
			}
		case !engine.IsNotFound(err):
			s.logger.Error().Err(err).Str("container", name).Msg("inspect failed")
			continue
		}

		id, err := s.createAndStart(ctx, name)
		if err != nil {
			s.logger.Error().Err(err).Str("container", name).Msg("failed to start container")
			continue
		}
		s.adopt(id, i)
	}
	return nil
}

func (s *Service) createAndStart(ctx context.Context, name string) (string, error) {
	links := make([]string, 0, len(s.direct))
	for _, d := range s.direct {
		links = append(links, d.svc.FirstContainerName()+":"+d.alias)
	}

	id, err := s.eng.CreateContainer(ctx, name, createConfig(s.spec), hostConfig(s.spec, links))
	if err != nil {
		return "", fmt.Errorf("create failed: %w", err)
	}
	if err := s.eng.StartContainer(ctx, id); err != nil {
		return "", fmt.Errorf("start failed: %w", err)
	}
	s.logger.Info().Str("container", name).Msg("container created and started")
	return id, nil
}

// adopt wires a runner for the container and tracks it. Runner events come
// back through the work queue.
func (s *Service) adopt(id string, index int) {
	cb := runner.Callbacks{
		OnStarted: func(r *runner.Runner) {
			s.q.Push(func() { s.onRunnerStarted(r) })
		},
		OnStopped: func(r *runner.Runner) {
			s.q.Push(func() { s.onRunnerStopped(r) })
		},
	}
	run := runner.New(s.ctx, s.eng, s.reg, s.spec.Name, index, s.spec.Health, id, cb)

	s.mu.Lock()
	s.runners[index] = run
	s.mu.Unlock()
}

func (s *Service) onRunnerStarted(r *runner.Runner) {
	s.mu.Lock()
	if s.recentFailures > 0 {
		s.recentFailures--
	}
	count := s.countStartedLocked()
	s.mu.Unlock()

	if count == 1 {
		s.host.Events().Publish(events.Event{Type: events.ServiceStarted, Service: s.spec.Name})
	}
	if count == s.spec.Scale {
		s.logger.Info().Int("scale", s.spec.Scale).Msg("all replicas running")
		s.host.Events().Publish(events.Event{Type: events.ServiceAllStarted, Service: s.spec.Name})
		s.scheduleRetire()
	}
}

func (s *Service) onRunnerStopped(r *runner.Runner) {
	s.mu.Lock()
	for i, rr := range s.runners {
		if rr == r {
			delete(s.runners, i)
		}
	}
	s.recentFailures++
	failures := s.recentFailures
	count := s.countStartedLocked()
	stopping := s.stopping
	s.mu.Unlock()

	if count == 0 {
		s.host.Events().Publish(events.Event{Type: events.ServiceStopped, Service: s.spec.Name})
	}
	if failures > maxRecentFailures {
		s.logger.Error().Int("failures", failures).Msg("too many failures, service quarantined until next config change")
		return
	}
	if stopping || s.host.Stopping() {
		return
	}

	metrics.ContainerRestartsTotal.WithLabelValues(s.spec.Name).Inc()
	s.startContainers(s.ctx)
}

// scheduleRetire queues retirement of the previous generation, delayed by
// the settle timeout so load balancers can converge on the new endpoints.
func (s *Service) scheduleRetire() {
	retire := func() {
		if err := s.stopOldContainers(s.ctx, false); err != nil {
			s.logger.Error().Err(err).Msg("failed to retire previous generation")
		}
	}
	if s.spec.SettleTimeoutMs > 0 {
		delay := time.Duration(s.spec.SettleTimeoutMs) * time.Millisecond
		time.AfterFunc(delay, func() { s.q.Push(retire) })
		return
	}
	s.q.Push(retire)
}

// stop runs on the work queue. Dependents go down first, then every owned
// container of this service is removed.
func (s *Service) stop(ctx context.Context) {
	s.mu.Lock()
	s.stopping = true
	runners := make([]*runner.Runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.runners = make(map[int]*runner.Runner)
	s.mu.Unlock()

	for _, r := range runners {
		r.MarkStopping()
	}

	s.host.StopDependentsOf(ctx, s.spec.Name)

	if err := s.stopOldContainers(ctx, true); err != nil {
		s.logger.Error().Err(err).Msg("failed to stop containers")
	}
}

// stopOldContainers retires owned containers of this service. With force,
// the current generation goes too; without it only previous generations
// match.
func (s *Service) stopOldContainers(ctx context.Context, force bool) error {
	list, err := s.eng.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range list {
		if len(c.Names) == 0 {
			continue
		}
		if !matchesOldContainer(c.Names[0], s.spec.Name, s.hash, force) {
			continue
		}
		s.logger.Info().Str("container", c.Names[0]).Msg("retiring container")
		if err := s.host.StopAndRemoveContainer(ctx, c.ID); err != nil {
			s.logger.Error().Err(err).Str("container", c.Names[0]).Msg("failed to retire container")
		}
	}
	return nil
}

func (s *Service) countStartedLocked() int {
	count := 0
	for _, r := range s.runners {
		if r.IsStarted() {
			count++
		}
	}
	return count
}
