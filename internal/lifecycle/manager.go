package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/driftwatch/internal/logging"
)

// DefaultShutdownTimeout is the per-component grace period on Stop.
const DefaultShutdownTimeout = 30 * time.Second

// Manager starts components in dependency order and stops them in reverse.
// Components that exceed the shutdown grace period are abandoned, not
// waited on.
type Manager struct {
	components   []Component
	dependencies map[Component][]Component
	running      map[Component]bool
	started      []Component

	shutdownTimeout time.Duration
	mu              sync.RWMutex
	lifecycleMu     sync.Mutex
	logger          *logging.Logger
}

// NewManager creates an empty manager with the default shutdown timeout.
func NewManager() *Manager {
	return &Manager{
		dependencies:    make(map[Component][]Component),
		running:         make(map[Component]bool),
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register adds a component. Its dependencies must already be registered;
// the component starts after them and stops before them.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if component == nil {
		return fmt.Errorf("cannot register nil component")
	}
	if component.Name() == "" {
		return fmt.Errorf("component must have a non-empty name")
	}
	for _, c := range m.components {
		if c == component {
			return fmt.Errorf("component %s is already registered", component.Name())
		}
	}
	for _, dep := range dependsOn {
		if !m.isRegistered(dep) {
			return fmt.Errorf("dependency %s is not registered", dep.Name())
		}
	}
	if m.wouldCreateCycle(component, dependsOn) {
		return fmt.Errorf("registering %s would create a circular dependency", component.Name())
	}

	m.components = append(m.components, component)
	m.dependencies[component] = dependsOn
	m.running[component] = false

	m.logger.Debug("registered component %s with %d dependencies", component.Name(), len(dependsOn))
	return nil
}

func (m *Manager) isRegistered(component Component) bool {
	for _, c := range m.components {
		if c == component {
			return true
		}
	}
	return false
}

func (m *Manager) wouldCreateCycle(component Component, dependencies []Component) bool {
	visited := make(map[Component]bool)
	return m.reaches(component, dependencies, visited)
}

// reaches reports whether following dependency edges from deps ever leads
// back to target.
func (m *Manager) reaches(target Component, deps []Component, visited map[Component]bool) bool {
	for _, dep := range deps {
		if dep == target {
			return true
		}
		if visited[dep] {
			continue
		}
		visited[dep] = true
		if m.reaches(target, m.dependencies[dep], visited) {
			return true
		}
	}
	return false
}

// Start brings up all components in dependency order. If one fails, the
// ones already started are stopped again in reverse order and the error
// is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.started = nil
	for _, component := range m.topologicalSort() {
		m.logger.Info("starting %s", component.Name())
		startTime := time.Now()

		if err := component.Start(ctx); err != nil {
			m.logger.Error("failed to start %s: %v", component.Name(), err)
			m.rollback()
			return fmt.Errorf("initialization failed for %s: %w", component.Name(), err)
		}

		m.mu.Lock()
		m.running[component] = true
		m.started = append(m.started, component)
		m.mu.Unlock()

		m.logger.Info("%s started (took %dms)", component.Name(), time.Since(startTime).Milliseconds())
	}

	m.logger.Info("all components started")
	return nil
}

// topologicalSort orders components so dependencies come before their
// dependents. Registration order breaks ties.
func (m *Manager) topologicalSort() []Component {
	visited := make(map[Component]bool)
	var sorted []Component

	var visit func(Component)
	visit = func(component Component) {
		visited[component] = true
		for _, dep := range m.dependencies[component] {
			if !visited[dep] {
				visit(dep)
			}
		}
		sorted = append(sorted, component)
	}

	for _, component := range m.components {
		if !visited[component] {
			visit(component)
		}
	}
	return sorted
}

// rollback stops everything a failed Start managed to bring up, newest
// first, each with a short deadline.
func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		m.logger.Debug("rolling back: stopping %s", component.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := component.Stop(ctx); err != nil {
			m.logger.Warn("error stopping %s during rollback: %v", component.Name(), err)
		}
		cancel()

		m.mu.Lock()
		m.running[component] = false
		m.mu.Unlock()
	}
}

// Stop shuts down all started components in reverse start order. Every
// component gets its own grace period; errors are logged, never returned,
// so one stuck component cannot block the rest of the shutdown.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.logger.Info("stopping all components")

	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		if !m.IsRunning(component) {
			continue
		}

		m.logger.Info("stopping %s", component.Name())
		startTime := time.Now()

		componentCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := component.Stop(componentCtx)
		cancel()

		if err != nil {
			if err == context.DeadlineExceeded {
				m.logger.Warn("component %s exceeded the %dms grace period, abandoning it",
					component.Name(), m.shutdownTimeout.Milliseconds())
			} else {
				m.logger.Error("error stopping %s: %v", component.Name(), err)
			}
		} else {
			m.logger.Info("%s stopped (took %dms)", component.Name(), time.Since(startTime).Milliseconds())
		}

		m.mu.Lock()
		m.running[component] = false
		m.mu.Unlock()
	}

	m.logger.Info("all components stopped")
	return nil
}

// IsRunning reports whether the component started and has not stopped.
func (m *Manager) IsRunning(component Component) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running[component]
}

// SetShutdownTimeout overrides the per-component grace period.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
