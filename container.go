package alloy

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Container resolves services from the process-wide metadata registry.
// Everything it owns directly (singleton cache, pending-creation
// coalescing, instance overrides, token values, the factory-warning memo)
// is container-scoped; only the metadata and identifier registries are
// process-wide.
type Container struct {
	singletonMu sync.RWMutex
	singletons  map[ServiceKey]any

	overrideMu sync.RWMutex
	overrides  map[ServiceKey]any

	tokenMu sync.RWMutex
	tokens  map[*Token]any

	warnMu sync.Mutex
	warned map[ServiceKey]bool

	group singleflight.Group

	logger        *zap.Logger
	debugWarnings bool
}

// ContainerOption configures a Container at construction time.
type ContainerOption func(*Container)

// WithLogger attaches a structured logger. The container logs only the
// factory-deferred developer-mode warning through it.
func WithLogger(l *zap.Logger) ContainerOption {
	return func(c *Container) { c.logger = l }
}

// WithDebugWarnings toggles the factory-deferred developer-mode warning.
// Enabled by default.
func WithDebugWarnings(enabled bool) ContainerOption {
	return func(c *Container) { c.debugWarnings = enabled }
}

// NewContainer creates an empty, ready-to-use Container.
//
// The container reads registrations from the process-wide metadata
// registry, so it can be created before or after the packages that
// register services have loaded. It is thread-safe and can be shared
// across goroutines.
//
// Example:
//
//	container := alloy.NewContainer()
//	svc := alloy.MustGet[*UserService](container)
func NewContainer(opts ...ContainerOption) *Container {
	c := &Container{
		singletons:    make(map[ServiceKey]any),
		overrides:     make(map[ServiceKey]any),
		tokens:        make(map[*Token]any),
		warned:        make(map[ServiceKey]bool),
		logger:        zap.NewNop(),
		debugWarnings: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Has reports whether T has a registration in the metadata registry.
func Has[T any]() bool {
	_, ok := globalRegistry.get(KeyOf[T]())
	return ok
}

// Get resolves T from c using context.Background().
func Get[T any](c *Container) (T, error) {
	return GetCtx[T](context.Background(), c)
}

// MustGet resolves T or panics.
//
// Example:
//
//	logger := alloy.MustGet[Logger](container)
//	logger.Log("ready")
func MustGet[T any](c *Container) T {
	v, err := Get[T](c)
	if err != nil {
		panic(err)
	}
	return v
}

// GetCtx resolves T, threading ctx through any deferred-import retries.
func GetCtx[T any](ctx context.Context, c *Container) (T, error) {
	var zero T
	v, err := c.resolve(ctx, KeyOf[T](), nil, false)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, ErrInvalidDependency{Key: KeyOf[T](), RuntimeType: fmt.Sprintf("%T", v)}
	}
	return typed, nil
}

// Resolve resolves a ServiceKey without a static type parameter, the form
// generated code and the manifest/codegen paths use when the target type
// is only known dynamically.
func (c *Container) Resolve(key ServiceKey) (any, error) {
	return c.resolve(context.Background(), key, nil, false)
}

// GetByIdentifier resolves the service bound to id. Resolution through
// this entry point never trips the factory-deferred developer-mode
// warning.
func (c *Container) GetByIdentifier(ctx context.Context, id *Identifier) (any, error) {
	key, ok := globalIdentifiers.lookup(id.String())
	if !ok {
		return nil, ErrNoService{Identifier: id.String()}
	}
	return c.resolve(ctx, key, nil, true)
}

// ProvideValue records a value for a token.
func (c *Container) ProvideValue(t *Token, value any) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.tokens[t] = value
}

// GetToken reads a previously provided token value.
func (c *Container) GetToken(t *Token) (any, error) {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	v, ok := c.tokens[t]
	if !ok {
		return nil, ErrMissingToken{Token: t}
	}
	return v, nil
}

// OverrideInstance pins instance as the resolution result for key, also
// seeding the singleton cache so later singleton resolutions short-circuit
// to the same value.
func (c *Container) OverrideInstance(key ServiceKey, instance any) {
	c.overrideMu.Lock()
	c.overrides[key] = instance
	c.overrideMu.Unlock()

	c.singletonMu.Lock()
	c.singletons[key] = instance
	c.singletonMu.Unlock()
}

func (c *Container) resolve(ctx context.Context, key ServiceKey, chain []ServiceKey, viaIdentifier bool) (any, error) {
	c.overrideMu.RLock()
	inst, overridden := c.overrides[key]
	c.overrideMu.RUnlock()
	if overridden {
		return inst, nil
	}

	for _, seen := range chain {
		if seen == key {
			return nil, ErrCircularDependency{Chain: append(append([]ServiceKey{}, chain...), key)}
		}
	}

	reg, ok := globalRegistry.get(key)
	if !ok {
		return nil, ErrNotRegistered{Key: key}
	}

	nextChain := append(append([]ServiceKey{}, chain...), key)

	var (
		result any
		err    error
	)
	if reg.Lifetime == LifetimeSingleton {
		result, err = c.resolveSingleton(ctx, reg, nextChain, viaIdentifier)
	} else {
		result, err = c.create(ctx, reg, nextChain, viaIdentifier)
	}
	if err != nil {
		switch err.(type) {
		case ErrCircularDependency, ErrMissingToken, ErrNotAClass, ErrDeferredImportFailed,
			ErrInvalidDependency, ErrNotRegistered, ErrInvalidFactory, ErrResolutionFailed:
			return nil, err
		}
		return nil, ErrResolutionFailed{Key: key, Cause: err}
	}
	return result, nil
}

// resolveSingleton: a cache hit returns immediately; concurrent
// first-time callers coalesce onto one construction via singleflight; a
// failed attempt never poisons the slot because singleflight forgets the
// key once Do returns.
func (c *Container) resolveSingleton(ctx context.Context, reg *Registration, chain []ServiceKey, viaIdentifier bool) (any, error) {
	c.singletonMu.RLock()
	if inst, ok := c.singletons[reg.Key]; ok {
		c.singletonMu.RUnlock()
		return inst, nil
	}
	c.singletonMu.RUnlock()

	v, err, _ := c.group.Do(reg.Key.uniqueID(), func() (any, error) {
		c.singletonMu.RLock()
		if inst, ok := c.singletons[reg.Key]; ok {
			c.singletonMu.RUnlock()
			return inst, nil
		}
		c.singletonMu.RUnlock()

		inst, err := c.create(ctx, reg, chain, viaIdentifier)
		if err != nil {
			return nil, err
		}

		c.singletonMu.Lock()
		c.singletons[reg.Key] = inst
		c.singletonMu.Unlock()
		return inst, nil
	})
	return v, err
}

// create fetches the real factory through the deferred-import path when
// the registration is factory-deferred, resolves all dependencies
// concurrently, then invokes the factory with positional results in
// declaration order.
func (c *Container) create(ctx context.Context, reg *Registration, chain []ServiceKey, viaIdentifier bool) (any, error) {
	factory := reg.Factory

	if reg.FactoryImport != nil {
		v, err := runDeferredImport(ctx, reg.FactoryImport)
		if err != nil {
			return nil, ErrDeferredImportFailed{Key: reg.Key, Cause: err}
		}
		fn, ok := asFunc(v)
		if !ok {
			return nil, ErrNotAClass{Key: reg.Key}
		}
		factory = fn
		if !viaIdentifier && !reg.fromProvider {
			c.warnFactoryDeferred(reg.Key)
		}
	}

	if factory == nil {
		return nil, ErrInvalidFactory{Key: reg.Key, Message: "no factory registered"}
	}

	args, err := c.resolveDependencies(ctx, reg.Dependencies, chain)
	if err != nil {
		return nil, err
	}
	return callFactory(factory, args)
}

// resolveDependencies resolves every dependency concurrently (their
// individual resolutions may each suspend on a deferred import or a
// pending singleton), but always returns results in declaration order so
// the factory is invoked with positional arguments matching the original
// dependency list regardless of completion interleaving.
func (c *Container) resolveDependencies(ctx context.Context, deps []Dependency, chain []ServiceKey) ([]any, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	args := make([]any, len(deps))
	g, gctx := errgroup.WithContext(ctx)
	for i, dep := range deps {
		i, dep := i, dep
		g.Go(func() error {
			v, err := c.resolveDependency(gctx, dep, chain)
			if err != nil {
				return err
			}
			args[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return args, nil
}

func (c *Container) resolveDependency(ctx context.Context, dep Dependency, chain []ServiceKey) (any, error) {
	switch dep.Kind {
	case DepConstructor:
		return c.resolve(ctx, dep.Target, chain, false)
	case DepToken:
		return c.GetToken(dep.Token)
	case DepDeferred:
		v, err := runDeferredImport(ctx, dep.Deferred)
		if err != nil {
			return nil, ErrDeferredImportFailed{Cause: err}
		}
		// The import yields either the target service's key, resolved
		// recursively against the registry, or a constructor directly
		// (the shape substituted importers from the test overlay use).
		if key, ok := v.(ServiceKey); ok {
			return c.resolve(ctx, key, chain, false)
		}
		if fn, ok := asFunc(v); ok {
			return callFactory(fn, nil)
		}
		return nil, ErrNotAClass{}
	default:
		return nil, ErrInvalidDependency{RuntimeType: fmt.Sprintf("%T", dep)}
	}
}

func (c *Container) warnFactoryDeferred(key ServiceKey) {
	c.warnMu.Lock()
	defer c.warnMu.Unlock()
	if c.warned[key] {
		return
	}
	c.warned[key] = true
	if c.debugWarnings && c.logger != nil {
		c.logger.Warn("resolved factory-deferred service via its constructor; prefer GetByIdentifier for stable identity",
			zap.String("service", key.String()))
	}
}

func asFunc(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if reflect.ValueOf(v).Kind() != reflect.Func {
		return nil, false
	}
	return v, true
}
