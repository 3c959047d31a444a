package alloy

// Provider is one entry of a provider list passed to ApplyProviders: a
// value binding, a plain service binding, or a deferred-service binding.
// Exactly one of the three fields is set.
type Provider struct {
	Value           *ValueBinding
	Service         *ServiceBinding
	DeferredService *DeferredServiceBinding
}

// ValueBinding provides a literal value for a token.
type ValueBinding struct {
	Token *Token
	Value any
}

// ServiceBinding registers a service the way Injectable/Singleton do,
// but from a provider list rather than a source annotation.
type ServiceBinding struct {
	Key      ServiceKey
	Lifetime Lifetime
	Factory  any
	Deps     []Dependency
}

// DeferredServiceBinding registers a factory-deferred service from a
// provider list. The resulting registration is marked fromProvider so the
// constructor-resolution developer-mode warning never fires for it.
type DeferredServiceBinding struct {
	Key      ServiceKey
	Lifetime Lifetime
	Import   *DeferredImport
	Deps     []Dependency
}

// ProvideValue builds a Provider wrapping a ValueBinding.
func ProvideValue(t *Token, value any) Provider {
	return Provider{Value: &ValueBinding{Token: t, Value: value}}
}

// ProvideService builds a Provider wrapping a ServiceBinding for T.
func ProvideService[T any](lifetime Lifetime, factory any, deps ...Dependency) Provider {
	return Provider{Service: &ServiceBinding{Key: KeyOf[T](), Lifetime: lifetime, Factory: factory, Deps: deps}}
}

// ProvideDeferredService builds a Provider wrapping a DeferredServiceBinding
// for T.
func ProvideDeferredService[T any](lifetime Lifetime, d *DeferredImport, deps ...Dependency) Provider {
	return Provider{DeferredService: &DeferredServiceBinding{Key: KeyOf[T](), Lifetime: lifetime, Import: d, Deps: deps}}
}

// ApplyProviders applies providers in a fixed order: all value bindings
// first (so later service construction can rely on tokens already being
// populated), then plain service bindings, then deferred-service
// bindings. Before any binding is applied, the full provider list is
// walked for cycles across array-form Dependency.Target edges (the only
// edges visible without running a factory); a cycle aborts the whole
// batch so no provider from this call is partially applied.
//
// Example:
//
//	err := alloy.ApplyProviders(container,
//	    alloy.ProvideValue(DSNToken, "postgres://localhost/app"),
//	    alloy.ProvideService[*Repository](alloy.LifetimeSingleton,
//	        NewRepository, alloy.FromToken(DSNToken)))
func ApplyProviders(c *Container, providers ...Provider) error {
	if err := detectProviderCycles(providers); err != nil {
		return err
	}

	for _, p := range providers {
		if p.Value == nil {
			continue
		}
		c.ProvideValue(p.Value.Token, p.Value.Value)
	}

	for _, p := range providers {
		if p.Service == nil {
			continue
		}
		reg := &Registration{
			Key:          p.Service.Key,
			Lifetime:     p.Service.Lifetime,
			Factory:      p.Service.Factory,
			Dependencies: p.Service.Deps,
		}
		if reg.Factory != nil {
			if err := validateFactory(reg.Key, reg.Factory); err != nil {
				return err
			}
		}
		globalRegistry.set(reg)
	}

	for _, p := range providers {
		if p.DeferredService == nil {
			continue
		}
		globalRegistry.set(&Registration{
			Key:           p.DeferredService.Key,
			Lifetime:      p.DeferredService.Lifetime,
			Dependencies:  p.DeferredService.Deps,
			FactoryImport: p.DeferredService.Import,
			isPlaceholder: true,
			fromProvider:  true,
		})
	}

	return nil
}

// detectProviderCycles runs a DFS over the array-form dependency graph
// implied by a provider batch. Token and deferred dependencies are not
// part of this graph: a token has no producing key to cycle through, and
// a deferred dependency's target key is unknown until its import runs,
// so the pre-check covers DepConstructor edges only.
func detectProviderCycles(providers []Provider) error {
	edges := make(map[ServiceKey][]ServiceKey)
	for _, p := range providers {
		switch {
		case p.Service != nil:
			edges[p.Service.Key] = constructorTargets(p.Service.Deps)
		case p.DeferredService != nil:
			edges[p.DeferredService.Key] = constructorTargets(p.DeferredService.Deps)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[ServiceKey]int, len(edges))

	var visit func(key ServiceKey, path []ServiceKey) error
	visit = func(key ServiceKey, path []ServiceKey) error {
		switch color[key] {
		case black:
			return nil
		case gray:
			return ErrCircularDependency{Chain: append(append([]ServiceKey{}, path...), key)}
		}
		color[key] = gray
		path = append(path, key)
		for _, dep := range edges[key] {
			if err := visit(dep, path); err != nil {
				return err
			}
		}
		color[key] = black
		return nil
	}

	for key := range edges {
		if err := visit(key, nil); err != nil {
			return err
		}
	}
	return nil
}

func constructorTargets(deps []Dependency) []ServiceKey {
	var out []ServiceKey
	for _, d := range deps {
		if d.Kind == DepConstructor {
			out = append(out, d.Target)
		}
	}
	return out
}
