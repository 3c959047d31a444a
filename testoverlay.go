package alloy

import "reflect"

// RegistrySnapshot captures the process-wide metadata and identifier
// registries so a test can mutate global registration state and restore
// it afterward.
type RegistrySnapshot struct {
	metadata   map[ServiceKey]*Registration
	identifier *identifierRegistry
	exports    map[string]any
}

// Snapshot captures the current process-wide registries.
func Snapshot() RegistrySnapshot {
	return RegistrySnapshot{
		metadata:   globalRegistry.snapshot(),
		identifier: globalIdentifiers.snapshot(),
		exports:    snapshotExports(),
	}
}

// Restore returns the process-wide registries to a previously captured
// Snapshot, including any importer substitutions made through Export.
// Typically deferred immediately after Snapshot in a test's setup.
func Restore(s RegistrySnapshot) {
	globalRegistry.restore(s.metadata)
	globalIdentifiers.restore(s.identifier)
	restoreExports(s.exports)
}

// TestContainerOption configures CreateTestContainer.
type TestContainerOption func(*testContainerConfig)

type testContainerConfig struct {
	overrides map[ServiceKey]any
	providers []Provider
	autoMock  []ServiceKey
	mockFor   func(ServiceKey) (any, bool)
}

// WithOverride pins an instance for T in the resulting test container,
// bypassing its real factory entirely.
func WithOverride[T any](instance any) TestContainerOption {
	return func(cfg *testContainerConfig) { cfg.overrides[KeyOf[T]()] = instance }
}

// WithTestProviders applies extra providers (commonly value bindings for
// configuration tokens) to the test container before auto-mocking runs.
func WithTestProviders(providers ...Provider) TestContainerOption {
	return func(cfg *testContainerConfig) { cfg.providers = append(cfg.providers, providers...) }
}

// WithAutoMock walks T's dependency graph breadth-first and replaces every
// transitively-reached service with whatever mockFor returns, skipping
// anything already pinned by WithOverride. The target is constructed
// with every real dependency short-circuited to a stand-in, so a unit
// test exercises only the target's own logic.
func WithAutoMock[T any](mockFor func(ServiceKey) (any, bool)) TestContainerOption {
	return func(cfg *testContainerConfig) {
		cfg.autoMock = append(cfg.autoMock, KeyOf[T]())
		cfg.mockFor = mockFor
	}
}

// CreateTestContainer builds a Container with overrides and auto-mocked
// dependencies already applied, ready for MustGet[Target].
//
// Example:
//
//	defer alloy.Restore(alloy.Snapshot())
//
//	c, err := alloy.CreateTestContainer(
//	    alloy.WithOverride[*PaymentGateway](fakeGateway),
//	    alloy.WithAutoMock[*CheckoutService](alloy.ZeroValueMock))
//	if err != nil {
//	    t.Fatal(err)
//	}
//	svc := alloy.MustGet[*CheckoutService](c)
func CreateTestContainer(opts ...TestContainerOption) (*Container, error) {
	cfg := &testContainerConfig{overrides: make(map[ServiceKey]any)}
	for _, opt := range opts {
		opt(cfg)
	}

	c := NewContainer(WithDebugWarnings(false))

	if err := ApplyProviders(c, cfg.providers...); err != nil {
		return nil, err
	}

	for key, inst := range cfg.overrides {
		c.OverrideInstance(key, inst)
	}

	if cfg.mockFor != nil {
		visited := newMockVisitSet()
		for _, root := range cfg.autoMock {
			autoMockWalk(c, root, cfg, visited)
		}
	}

	return c, nil
}

// mockVisitSet tracks which keys the auto-mock BFS has already queued.
type mockVisitSet struct {
	seen map[ServiceKey]bool
}

func newMockVisitSet() *mockVisitSet { return &mockVisitSet{seen: make(map[ServiceKey]bool)} }

func (s *mockVisitSet) markIfNew(key ServiceKey) bool {
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

func autoMockWalk(c *Container, root ServiceKey, cfg *testContainerConfig, visited *mockVisitSet) {
	queue := []ServiceKey{root}
	visited.markIfNew(root)

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]

		reg, ok := globalRegistry.get(key)
		if !ok {
			continue
		}

		for i, dep := range reg.Dependencies {
			var target ServiceKey
			switch dep.Kind {
			case DepConstructor:
				target = dep.Target
			case DepDeferred:
				// The target key is unknown until the import runs, so
				// probe the importer once here; a failing probe (export
				// not published yet) leaves the edge untouched.
				resolved, ok := probeDeferredTarget(dep.Deferred)
				if !ok {
					continue
				}
				target = resolved
			default:
				continue
			}
			if !visited.markIfNew(target) {
				continue
			}
			if _, alreadyOverridden := cfg.overrides[target]; alreadyOverridden {
				continue
			}
			if mock, ok := cfg.mockFor(target); ok {
				c.OverrideInstance(target, mock)
				if dep.Kind == DepDeferred {
					substituteDeferredImporter(reg, i, mock)
				}
				continue
			}
			queue = append(queue, target)
		}
	}
}

// probeDeferredTarget invokes a deferred edge's importer once, outside
// the retry loop, to learn which service it points at.
func probeDeferredTarget(d *DeferredImport) (ServiceKey, bool) {
	if d == nil || d.Import == nil {
		return ServiceKey{}, false
	}
	v, err := d.Import()
	if err != nil {
		return ServiceKey{}, false
	}
	key, ok := unwrapFactoryBox(v).(ServiceKey)
	return key, ok
}

// substituteDeferredImporter publishes a copy of the registration whose
// i-th dependency's importer returns a constructor for mock, so
// resolution hands out the stand-in without running the real import.
// The copy is what makes the substitution reversible: a registry
// snapshot taken before the walk still holds the original Registration,
// and restoring it undoes the swap.
func substituteDeferredImporter(reg *Registration, i int, mock any) {
	current, ok := globalRegistry.get(reg.Key)
	if !ok {
		current = reg
	}
	clone := *current
	clone.Dependencies = append([]Dependency(nil), current.Dependencies...)
	sub := &DeferredImport{Import: func() (any, error) {
		return func() any { return mock }, nil
	}}
	if orig := clone.Dependencies[i].Deferred; orig != nil {
		sub.Retry = orig.Retry
	}
	clone.Dependencies[i].Deferred = sub
	globalRegistry.set(&clone)
}

// ZeroValueMock returns a reflect-built zero value for key's declared
// type, a fallback mockFor implementations can delegate to for
// dependencies they don't care to stub explicitly (e.g. an interface
// dependency nobody asserts against in a given test).
func ZeroValueMock(key ServiceKey) (any, bool) {
	if key.typ == nil {
		return nil, false
	}
	return reflect.Zero(key.typ).Interface(), true
}
