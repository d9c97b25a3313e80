package system

import (
	"context"
	"fmt"
	"sync"

	core "github.com/forgemirror/mirror-layer/internal/app/core/service"
)

// Manager owns the lifecycle of a set of registered services, starting them
// in registration order and stopping them in reverse order.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
	descr     []DescriptorProvider
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{services: make([]Service, 0)}
}

// Register adds svc to the managed set. It must be called before Start.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("system: cannot register nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("system: cannot register %q after Start", svc.Name())
	}
	m.services = append(m.services, svc)
	if dp, ok := svc.(DescriptorProvider); ok {
		m.descr = append(m.descr, dp)
	}
	return nil
}

// Start starts every registered service in order. If any service fails to
// start, the services already started are stopped in reverse order and the
// originating error is returned.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		started := make([]Service, 0, len(services))
		for _, svc := range services {
			if startErr := svc.Start(ctx); startErr != nil {
				err = fmt.Errorf("system: start %q: %w", svc.Name(), startErr)
				for i := len(started) - 1; i >= 0; i-- {
					_ = started[i].Stop(ctx)
				}
				break
			}
			started = append(started, svc)
		}
	})
	return err
}

// Stop stops every registered service in reverse order, collecting the first
// error encountered but continuing to stop the remainder.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if stopErr := services[i].Stop(ctx); stopErr != nil && err == nil {
				err = fmt.Errorf("system: stop %q: %w", services[i].Name(), stopErr)
			}
		}
	})
	return err
}

// DescriptorProviders returns every registered service that advertises a
// descriptor.
func (m *Manager) DescriptorProviders() []DescriptorProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DescriptorProvider(nil), m.descr...)
}

// Descriptors returns the sorted descriptors of every registered service.
func (m *Manager) Descriptors() []core.Descriptor {
	return CollectDescriptors(m.DescriptorProviders())
}
