package alloy

// This file is the source-annotation surface: the handful of calls
// internal/scanner pattern-matches syntactically. They are ordinary
// functions: calling them directly (typically from an init()) self-
// registers into the process-wide metadata registry, which is what makes
// the runtime exercisable without the compiler. The compiler recognizes
// the same call shapes without executing them, for projects that generate
// an explicit registration file instead of relying on package-import side
// effects.

// Option configures an Injectable/Singleton registration.
type Option func(*Registration)

// WithFactory sets the constructor function. Required for any service
// that isn't factory-deferred.
func WithFactory(factory any) Option {
	return func(r *Registration) { r.Factory = factory }
}

// WithDeps sets the positional dependency list. Dependencies built with
// To, FromToken, or DeferredDep.
func WithDeps(deps ...Dependency) Option {
	return func(r *Registration) { r.Dependencies = deps }
}

// WithScope overrides the lifetime implied by the annotation name
// (Injectable registers transient, Singleton registers singleton): an
// explicit way of setting scope that the annotation name alone already
// usually settles.
func WithScope(l Lifetime) Option {
	return func(r *Registration) { r.Lifetime = l }
}

// WithFactoryImport marks the registration as factory-deferred: a stub
// identity whose real constructor is fetched through d at first
// resolution, while the registered key stays stable.
func WithFactoryImport(d *DeferredImport) Option {
	return func(r *Registration) {
		r.FactoryImport = d
		r.isPlaceholder = true
	}
}

// Options is the object-literal form of an annotation's configuration,
// the third way (after the annotation name and WithScope) a registration
// can settle its scope. The scanner recognizes the composite-literal
// shape without evaluating it.
type Options struct {
	Scope        Lifetime
	Dependencies []Dependency
	Factory      any
}

// WithOptions applies an Options literal to a registration. Zero-valued
// fields leave the registration untouched, so Options{Scope:
// LifetimeSingleton} composes with a separately-set factory.
func WithOptions(o Options) Option {
	return func(r *Registration) {
		if o.Scope != LifetimeTransient {
			r.Lifetime = o.Scope
		}
		if o.Dependencies != nil {
			r.Dependencies = o.Dependencies
		}
		if o.Factory != nil {
			r.Factory = o.Factory
		}
	}
}

// Deps is an identity helper: its only role is to preserve argument
// shape through to WithDeps / dependency expressions recorded by the
// scanner.
func Deps(deps ...Dependency) []Dependency { return deps }

// Injectable registers T as a transient service (scope overridable via
// WithScope). The scanner matches this call by its callee-tail
// identifier, so alloy.Injectable and a dot-imported Injectable both
// count.
//
// Example:
//
//	func init() {
//	    alloy.Injectable[*UserService](
//	        alloy.WithFactory(NewUserService),
//	        alloy.WithDeps(alloy.To[Logger](), alloy.To[*UserRepository]()))
//	}
func Injectable[T any](opts ...Option) bool {
	return registerAnnotated[T](LifetimeTransient, opts)
}

// Singleton registers T as a singleton service.
//
// Example:
//
//	func init() {
//	    alloy.Singleton[*ConnectionPool](alloy.WithFactory(NewConnectionPool))
//	}
func Singleton[T any](opts ...Option) bool {
	return registerAnnotated[T](LifetimeSingleton, opts)
}

func registerAnnotated[T any](defaultLifetime Lifetime, opts []Option) bool {
	reg := &Registration{Key: KeyOf[T](), Lifetime: defaultLifetime}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.Factory != nil {
		if err := validateFactory(reg.Key, reg.Factory); err != nil {
			panic(err)
		}
	}
	globalRegistry.set(reg)
	return true
}

// Lazy is the deferral wrapper, the Go rendering of
// `Lazy(() => import(...))`. importer is retried per opts on failure; see
// deferred.go for the backoff schedule.
//
// Example:
//
//	alloy.Injectable[*ReportService](
//	    alloy.WithFactory(NewReportService),
//	    alloy.WithDeps(alloy.DeferredDep(alloy.Lazy(func() (any, error) {
//	        return alloy.Import("./reports", "ReportRunner")
//	    }, alloy.WithRetries(3), alloy.WithInitialBackoff(50)))))
func Lazy(importer func() (any, error), opts ...RetryOption) *DeferredImport {
	var policy RetryPolicy
	for _, opt := range opts {
		opt(&policy)
	}
	return &DeferredImport{Import: importer, Retry: policy.normalized()}
}

// RetryOption configures the retry policy attached to a Lazy(...) call's
// trailing options.
type RetryOption func(*RetryPolicy)

// WithRetries sets attempts_after_first.
func WithRetries(n int) RetryOption {
	return func(p *RetryPolicy) { p.AttemptsAfterFirst = n }
}

// WithInitialBackoff sets initial_backoff_ms.
func WithInitialBackoff(ms int) RetryOption {
	return func(p *RetryPolicy) { p.InitialBackoff = msToDuration(ms) }
}

// WithFactor sets the exponential backoff multiplier.
func WithFactor(f float64) RetryOption {
	return func(p *RetryPolicy) { p.Factor = f }
}

// AssertDeps is a compile-time-only identity for asserting a dependency
// list against a constructor's signature; it has no runtime effect.
func AssertDeps(depsThunk any, target any) {}
