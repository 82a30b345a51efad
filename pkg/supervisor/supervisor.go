package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ewoutp/kiruna/pkg/app"
	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/engine"
	"github.com/ewoutp/kiruna/pkg/log"
	"github.com/ewoutp/kiruna/pkg/queue"
	"github.com/ewoutp/kiruna/pkg/registry"
)

// State is the supervisor's externally visible condition.
type State string

const (
	// StateEmpty means no application has launched yet.
	StateEmpty State = "empty"

	// StateUpdating means a config-change task is in flight.
	StateUpdating State = "updating"

	// StateIdle means an application is active and no config-change task is
	// in flight. After a failed reload the previous application stays active,
	// so idle does not imply that it matches the manifest on disk.
	StateIdle State = "idle"
)

// Supervisor sequences config changes: build the new application, mark the
// old one stopping, launch, and swap on success. Change notifications go
// through a collapse queue, so a burst of file events becomes one rollout
// and only the newest pending task survives.
type Supervisor struct {
	path    string
	version string
	eng     engine.Engine
	q       *queue.Latest
	logger  zerolog.Logger
	ctx     context.Context

	mu      sync.Mutex
	current *app.Application
	reg     *registry.Registry
	state   State
}

// New creates a supervisor for the manifest at path.
func New(ctx context.Context, path, version string, eng engine.Engine) *Supervisor {
	return &Supervisor{
		path:    path,
		version: version,
		eng:     eng,
		q:       queue.NewLatest(),
		logger:  log.Component("supervisor"),
		ctx:     ctx,
		state:   StateEmpty,
	}
}

// Start performs the initial load and launch. Its errors are fatal: without
// a first application there is nothing to keep alive.
func (s *Supervisor) Start() error {
	return s.reload()
}

// ConfigChanged enqueues a reload. Pending tasks from earlier notifications
// are collapsed; failures keep the previous application active.
func (s *Supervisor) ConfigChanged() {
	s.q.Push(func() {
		if err := s.reload(); err != nil {
			s.logger.Error().Err(err).Msg("config change failed, previous application stays active")
		}
	})
}

func (s *Supervisor) reload() error {
	s.setState(StateUpdating)
	defer s.settleState()

	cfg, err := config.Load(s.path)
	if err != nil {
		return err
	}
	if cfg.Logging.Console.Level != "" {
		log.SetLevel(cfg.Logging.Console.Level)
	}

	var reg *registry.Registry
	if registrationNeeded(cfg) {
		reg, err = registry.New(cfg.Registration)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	prev, prevReg := s.current, s.reg
	s.mu.Unlock()

	var pub registry.Publisher
	if reg != nil {
		pub = reg
	}
	next, err := app.New(s.ctx, cfg, s.eng, pub, s.version)
	if err != nil {
		closeRegistry(reg)
		return err
	}

	s.logger.Info().Int("services", len(next.Services())).Msg("launching application")
	if err := next.Launch(s.ctx, prev); err != nil {
		next.Shutdown()
		closeRegistry(reg)
		return fmt.Errorf("launch failed: %w", err)
	}

	s.mu.Lock()
	s.current, s.reg = next, reg
	s.mu.Unlock()

	if prev != nil {
		prev.Shutdown()
	}
	closeRegistry(prevReg)

	s.logger.Info().Msg("application active")
	return nil
}

// registrationNeeded reports whether any enabled service publishes
// endpoints. Only then is the registry constructed, and only then is a
// missing HostIp fatal.
func registrationNeeded(cfg *config.Config) bool {
	for i := range cfg.Services {
		spec := &cfg.Services[i]
		if spec.IsEnabled() && spec.Registers() {
			return true
		}
	}
	return false
}

func closeRegistry(reg *registry.Registry) {
	if reg != nil {
		reg.Close()
	}
}

// Up reports whether the active application has all services running.
func (s *Supervisor) Up() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.IsUp()
}

// State returns empty, updating, or idle.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StopAll stops every service of the active application.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		current.StopAll(s.ctx)
	}
}

// Shutdown stops accepting config changes and tears down the active
// application's plumbing. Containers keep running; the next daemon start
// rediscovers them from the engine.
func (s *Supervisor) Shutdown() {
	s.q.Close()
	s.mu.Lock()
	current, reg := s.current, s.reg
	s.current, s.reg = nil, nil
	s.state = StateEmpty
	s.mu.Unlock()

	if current != nil {
		current.Shutdown()
	}
	closeRegistry(reg)
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// settleState returns to idle or empty depending on whether an application
// is active.
func (s *Supervisor) settleState() {
	s.mu.Lock()
	if s.current != nil {
		s.state = StateIdle
	} else {
		s.state = StateEmpty
	}
	s.mu.Unlock()
}
