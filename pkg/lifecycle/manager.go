// Package lifecycle manages the construction and teardown of shared service
// objects (loggers, database pools, caches). Objects are registered with
// their dependencies; startup walks the dependency graph in topological
// order and shutdown unwinds it in reverse.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/abaveja313/httpsugar/pkg/logging"
	"github.com/abaveja313/httpsugar/pkg/telemetry"
)

var (
	// ErrCycle is returned when a registration would close a dependency cycle.
	ErrCycle = errors.New("dependency cycle detected")
	// ErrUnknown is returned when looking up an unregistered object.
	ErrUnknown = errors.New("object not registered")
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("object already registered")
	// ErrDangling is returned at startup when a declared dependency was
	// never registered.
	ErrDangling = errors.New("dependency not registered")
	// ErrStarted is returned when registering after startup.
	ErrStarted = errors.New("manager already started")
	// ErrNotStarted is returned when fetching an instance before startup.
	ErrNotStarted = errors.New("manager not started")
)

// Object is a managed global object.
type Object interface {
	// Setup initialises the object. Dependencies are guaranteed to have
	// been set up already.
	Setup(ctx context.Context) error
	// Teardown releases the object. Dependents are guaranteed to have
	// been torn down already.
	Teardown(ctx context.Context) error
}

// Hooks adapts plain functions to the Object interface. Nil hooks are no-ops.
type Hooks struct {
	OnSetup    func(ctx context.Context) error
	OnTeardown func(ctx context.Context) error
}

// Setup implements Object.
func (h Hooks) Setup(ctx context.Context) error {
	if h.OnSetup == nil {
		return nil
	}
	return h.OnSetup(ctx)
}

// Teardown implements Object.
func (h Hooks) Teardown(ctx context.Context) error {
	if h.OnTeardown == nil {
		return nil
	}
	return h.OnTeardown(ctx)
}

type node struct {
	id   int64
	name string
	obj  Object
	deps []string
}

func (n *node) ID() int64 { return n.id }

// Manager owns the dependency graph and the object lifecycle.
type Manager struct {
	mu      sync.Mutex
	graph   *simple.DirectedGraph
	nodes   map[string]*node
	nextID  int64
	pending map[string][]string // dep name -> dependents waiting for it
	order   []*node             // topological order captured at startup
	started bool
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		graph:   simple.NewDirectedGraph(),
		nodes:   make(map[string]*node),
		pending: make(map[string][]string),
	}
}

// Register adds obj under name with the given dependency names. Dependencies
// may be registered later; unresolved references are checked at Startup.
// A registration that would close a cycle is rejected and rolled back.
func (m *Manager) Register(name string, obj Object, deps ...string) error {
	if obj == nil {
		return fmt.Errorf("register %q: object is nil", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("register %q: %w", name, ErrStarted)
	}
	if _, exists := m.nodes[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicate)
	}

	n := &node{id: m.nextID, name: name, obj: obj, deps: deps}
	m.nextID++
	m.graph.AddNode(n)
	m.nodes[name] = n

	var added []graph.Edge
	var forwardRefs []string
	rollback := func() {
		for _, e := range added {
			m.graph.RemoveEdge(e.From().ID(), e.To().ID())
		}
		// Forward references recorded for this registration must not
		// survive it, or Startup would report a dangling dependency no
		// remaining object declares.
		for _, dep := range forwardRefs {
			waiters := m.pending[dep]
			for i, waiter := range waiters {
				if waiter == name {
					m.pending[dep] = append(waiters[:i], waiters[i+1:]...)
					break
				}
			}
			if len(m.pending[dep]) == 0 {
				delete(m.pending, dep)
			}
		}
		m.graph.RemoveNode(n.id)
		delete(m.nodes, name)
	}

	// Edges run dep -> dependent so topological order yields deps first.
	for _, dep := range deps {
		if dep == name {
			rollback()
			return fmt.Errorf("register %q: self dependency: %w", name, ErrCycle)
		}
		depNode, ok := m.nodes[dep]
		if !ok {
			m.pending[dep] = append(m.pending[dep], name)
			forwardRefs = append(forwardRefs, dep)
			continue
		}
		e := m.graph.NewEdge(depNode, n)
		m.graph.SetEdge(e)
		added = append(added, e)
	}

	// Satisfy forward references that were waiting for this name.
	for _, dependent := range m.pending[name] {
		depNode, ok := m.nodes[dependent]
		if !ok {
			continue
		}
		e := m.graph.NewEdge(n, depNode)
		m.graph.SetEdge(e)
		added = append(added, e)
	}

	if _, err := topo.Sort(m.graph); err != nil {
		rollback()
		return fmt.Errorf("register %q: %w", name, ErrCycle)
	}

	delete(m.pending, name)
	return nil
}

// MustRegister is Register that panics on error. Intended for package-level
// wiring where a failure is a programming bug.
func (m *Manager) MustRegister(name string, obj Object, deps ...string) {
	if err := m.Register(name, obj, deps...); err != nil {
		panic(err)
	}
}

// Startup sets up all registered objects in dependency order. On the first
// failure it tears down everything already started, in reverse, and returns
// the failure.
func (m *Manager) Startup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrStarted
	}
	if len(m.pending) > 0 {
		missing := make([]string, 0, len(m.pending))
		for dep := range m.pending {
			missing = append(missing, dep)
		}
		return fmt.Errorf("%w: %v", ErrDangling, missing)
	}

	sorted, err := topo.Sort(m.graph)
	if err != nil {
		return fmt.Errorf("order dependency graph: %w", ErrCycle)
	}

	log := logging.WithComponent("lifecycle")
	tracer := telemetry.Tracer("lifecycle")
	order := make([]*node, 0, len(sorted))
	for _, gn := range sorted {
		order = append(order, gn.(*node))
	}

	for i, n := range order {
		begin := time.Now()
		setupCtx, span := tracer.Start(ctx, "setup "+n.name)
		err := n.obj.Setup(setupCtx)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		telemetry.RecordLifecycle(ctx, telemetry.LifecycleEvent{
			Object:   n.name,
			Phase:    telemetry.PhaseSetup,
			Duration: time.Since(begin),
			Err:      err,
		})
		if err != nil {
			log.Error().Err(err).Str("object", n.name).Msg("setup failed, unwinding")
			m.teardownLocked(ctx, order[:i])
			return fmt.Errorf("setup %q: %w", n.name, err)
		}
		log.Debug().Str("object", n.name).Dur("elapsed", time.Since(begin)).Msg("object ready")
	}

	m.order = order
	m.started = true
	return nil
}

// Shutdown tears down all started objects in reverse dependency order.
// Teardown is best-effort: every object is attempted and errors are joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	err := m.teardownLocked(ctx, m.order)
	m.order = nil
	m.started = false
	return err
}

func (m *Manager) teardownLocked(ctx context.Context, started []*node) error {
	log := logging.WithComponent("lifecycle")
	tracer := telemetry.Tracer("lifecycle")
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		n := started[i]
		begin := time.Now()
		downCtx, span := tracer.Start(ctx, "teardown "+n.name)
		err := n.obj.Teardown(downCtx)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		telemetry.RecordLifecycle(ctx, telemetry.LifecycleEvent{
			Object:   n.name,
			Phase:    telemetry.PhaseTeardown,
			Duration: time.Since(begin),
			Err:      err,
		})
		if err != nil {
			log.Error().Err(err).Str("object", n.name).Msg("teardown failed")
			errs = append(errs, fmt.Errorf("teardown %q: %w", n.name, err))
		}
	}
	return errors.Join(errs...)
}

// Get returns the registered object for name. The manager must have been
// started so callers never observe a half-initialised object.
func (m *Manager) Get(name string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[name]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", name, ErrUnknown)
	}
	if !m.started {
		return nil, fmt.Errorf("get %q: %w", name, ErrNotStarted)
	}
	return n.obj, nil
}

// Names returns the registered object names in startup order when started,
// otherwise in registration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		out := make([]string, len(m.order))
		for i, n := range m.order {
			out[i] = n.name
		}
		return out
	}
	all := make([]*node, 0, len(m.nodes))
	for _, n := range m.nodes {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	out := make([]string, len(all))
	for i, n := range all {
		out[i] = n.name
	}
	return out
}

// Resolve fetches the object registered under name and asserts it to T.
func Resolve[T any](m *Manager, name string) (T, error) {
	var zero T
	obj, err := m.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("resolve %q: registered object is %T, not %T", name, obj, zero)
	}
	return typed, nil
}
