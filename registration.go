package alloy

import (
	"reflect"
	"strconv"
	"time"
)

// ServiceKey identifies a registered service by its declared type: a
// stable, comparable handle a generated module or a hand-written init()
// can register metadata against, and that the resolver keys its singleton
// cache and resolution stack on.
type ServiceKey struct {
	typ reflect.Type
}

// KeyOf returns the ServiceKey for T.
func KeyOf[T any]() ServiceKey {
	var zero T
	return ServiceKey{typ: reflect.TypeOf(&zero).Elem()}
}

// String renders the key's underlying type name, used in error messages and
// resolution-path traces.
func (k ServiceKey) String() string {
	if k.typ == nil {
		return "<invalid>"
	}
	return k.typ.String()
}

// IsValid reports whether the key was produced by KeyOf.
func (k ServiceKey) IsValid() bool { return k.typ != nil }

// uniqueID is a collision-free string form used as the singleflight
// key. String() elides package paths (two same-named types from
// different packages share it), so this keys on the canonical runtime
// type descriptor instead, which reflect interns per type.
func (k ServiceKey) uniqueID() string {
	if k.typ == nil {
		return "<invalid>"
	}
	return strconv.FormatUint(uint64(reflect.ValueOf(k.typ).Pointer()), 16)
}

// DependencyKind tags a Dependency as one of the three resolution
// classes: constructor, token, or deferred.
type DependencyKind int

const (
	// DepConstructor resolves recursively against the container.
	DepConstructor DependencyKind = iota
	// DepToken reads a provided value from the container's token map.
	DepToken
	// DepDeferred fetches a registered service's key through a deferred
	// importer (with retry/backoff) before recursing.
	DepDeferred
)

// RetryPolicy carries the retry hints parsed from a Lazy(...) call's
// options: attempts after the first, the initial backoff, and the
// exponential factor.
type RetryPolicy struct {
	AttemptsAfterFirst int
	InitialBackoff     time.Duration
	Factor             float64
}

func (r RetryPolicy) normalized() RetryPolicy {
	if r.Factor <= 0 {
		r.Factor = 2
	}
	if r.AttemptsAfterFirst < 0 {
		r.AttemptsAfterFirst = 0
	}
	return r
}

// DeferredImport models the `Lazy(() => import(...))` wrapper. Import is
// retried per Retry on failure. The resolved value, once unwrapped from a
// FactoryBox, is expected to be either a ServiceKey (for dependency-level
// deferral: the "class" was already registered, only its reference was
// fetched lazily) or a constructor func (for service-level factory
// deferral: a stub's real constructor fetched on first use).
type DeferredImport struct {
	Import func() (any, error)
	Retry  RetryPolicy
}

// FactoryBox wraps a deferred import's result the way a module system
// wraps a default export; a boxed value behaves identically to a bare
// one.
type FactoryBox struct {
	Default any
}

func unwrapFactoryBox(v any) any {
	if fb, ok := v.(FactoryBox); ok {
		return fb.Default
	}
	return v
}

// Dependency is one positional constructor argument.
type Dependency struct {
	Kind     DependencyKind
	Target   ServiceKey      // DepConstructor
	Token    *Token          // DepToken
	Deferred *DeferredImport // DepDeferred
}

// To declares a constructor-typed dependency on T.
func To[T any]() Dependency {
	return Dependency{Kind: DepConstructor, Target: KeyOf[T]()}
}

// FromToken declares a token-typed dependency.
func FromToken(t *Token) Dependency {
	return Dependency{Kind: DepToken, Token: t}
}

// DeferredDep declares a dependency fetched lazily through Lazy(...).
func DeferredDep(d *DeferredImport) Dependency {
	return Dependency{Kind: DepDeferred, Deferred: d}
}

// Registration is the metadata-registry entry for one ServiceKey: its
// lifetime, its factory, its positional dependencies, and, for
// factory-deferred services, the DeferredImport used to fetch the real
// factory at resolution time in place of an empty stub body.
type Registration struct {
	Key           ServiceKey
	Lifetime      Lifetime
	Factory       any
	Dependencies  []Dependency
	FactoryImport *DeferredImport
	isPlaceholder bool

	// fromProvider marks a registration created by ApplyProviders'
	// deferred-service binding. Those stubs are expected to be resolved
	// by constructor, so the factory-deferred developer-mode warning is
	// suppressed for them; it only targets source-annotated
	// factory-deferred services resolved the "wrong" way.
	fromProvider bool
}

// IsProviderPlaceholder reports whether this registration is a
// factory-deferred stub, whether registered through WithFactoryImport or
// a deferred-service provider. Warning suppression does not consult it;
// that keys on fromProvider.
func (r *Registration) IsProviderPlaceholder() bool { return r.isPlaceholder }

func validateFactory(key ServiceKey, factory any) error {
	fv := reflect.ValueOf(factory)
	if fv.Kind() != reflect.Func {
		return ErrInvalidFactory{Key: key, Message: "factory must be a function"}
	}
	ft := fv.Type()
	if ft.NumOut() == 0 {
		return ErrInvalidFactory{Key: key, Message: "factory must return a value"}
	}
	out0 := ft.Out(0)
	if key.typ != nil && !out0.AssignableTo(key.typ) &&
		!(key.typ.Kind() == reflect.Interface && out0.Implements(key.typ)) {
		return ErrInvalidFactory{
			Key:     key,
			Message: "factory return type " + out0.String() + " is not assignable to " + key.typ.String(),
		}
	}
	if ft.NumOut() == 2 {
		errType := reflect.TypeOf((*error)(nil)).Elem()
		if !ft.Out(1).Implements(errType) {
			return ErrInvalidFactory{Key: key, Message: "second return value must be error"}
		}
	}
	if ft.NumOut() > 2 {
		return ErrInvalidFactory{Key: key, Message: "factory cannot return more than 2 values"}
	}
	return nil
}

func callFactory(factory any, args []any) (any, error) {
	fv := reflect.ValueOf(factory)
	ft := fv.Type()
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(ft.In(i))
			continue
		}
		in[i] = reflect.ValueOf(a)
	}
	results := fv.Call(in)
	if len(results) == 2 && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}
