package alloy

import (
	"fmt"
	"strings"
)

// ErrNotRegistered is returned when resolving a type that has no
// registration in the metadata registry, typically because a generated
// module's registration loop was skipped or is incomplete.
type ErrNotRegistered struct {
	Key ServiceKey
}

func (e ErrNotRegistered) Error() string {
	return fmt.Sprintf("alloy: %s is not registered", e.Key)
}

// ErrCircularDependency is returned when resolving a type would revisit a
// key already on the current resolution stack. Chain names the full path
// from the outermost key being resolved, ending with the repeated key
// (which is also the first element when the outermost key is on the cycle).
//
// Example:
//
//	_, err := alloy.Get[*ServiceA](container)
//	if err != nil {
//	    var circular alloy.ErrCircularDependency
//	    if errors.As(err, &circular) {
//	        fmt.Printf("cycle: %v\n", circular.Chain)
//	    }
//	}
type ErrCircularDependency struct {
	Chain []ServiceKey
}

func (e ErrCircularDependency) Error() string {
	names := make([]string, len(e.Chain))
	for i, k := range e.Chain {
		names[i] = k.String()
	}
	return fmt.Sprintf("alloy: circular dependency detected: %s", strings.Join(names, " -> "))
}

// ErrResolutionFailed wraps any error raised while constructing a service or
// one of its dependencies.
type ErrResolutionFailed struct {
	Key   ServiceKey
	Cause error
}

func (e ErrResolutionFailed) Error() string {
	return fmt.Sprintf("alloy: failed to resolve %s: %v", e.Key, e.Cause)
}

func (e ErrResolutionFailed) Unwrap() error { return e.Cause }

// ErrInvalidFactory is returned when a factory's signature is malformed.
type ErrInvalidFactory struct {
	Key     ServiceKey
	Message string
}

func (e ErrInvalidFactory) Error() string {
	return fmt.Sprintf("alloy: invalid factory for %s: %s", e.Key, e.Message)
}

// ErrMissingToken is returned when a token dependency has no provided
// value.
type ErrMissingToken struct {
	Token *Token
}

func (e ErrMissingToken) Error() string {
	return fmt.Sprintf("alloy: no value provided for token %q", e.Token.Description())
}

// ErrInvalidDependency is returned when a Dependency carries a kind the
// resolver doesn't recognize, or a deferred import resolves to the wrong
// shape for its context (see ErrNotAClass for the latter, which is more
// specific and preferred).
type ErrInvalidDependency struct {
	Key         ServiceKey
	RuntimeType string
}

func (e ErrInvalidDependency) Error() string {
	return fmt.Sprintf("alloy: invalid dependency for %s: unsupported value of type %s", e.Key, e.RuntimeType)
}

// ErrDeferredImportFailed is returned after a deferred import's retries
// are exhausted. Use [errors.Unwrap] or the Unwrap method to reach the
// last underlying cause.
//
// Example:
//
//	_, err := alloy.Get[*ReportService](container)
//	if err != nil {
//	    var failed alloy.ErrDeferredImportFailed
//	    if errors.As(err, &failed) {
//	        fmt.Printf("import failed: %v\n", failed.Cause)
//	    }
//	}
type ErrDeferredImportFailed struct {
	Key   ServiceKey
	Cause error
}

func (e ErrDeferredImportFailed) Error() string {
	return fmt.Sprintf("alloy: deferred import for %s failed after retries: %v", e.Key, e.Cause)
}

func (e ErrDeferredImportFailed) Unwrap() error { return e.Cause }

// ErrNotAClass is returned when a deferred importer resolves to a value
// that isn't usable as the constructor/key its context expects.
type ErrNotAClass struct {
	Key ServiceKey
}

func (e ErrNotAClass) Error() string {
	return fmt.Sprintf("alloy: deferred import for %s did not resolve to a constructor", e.Key)
}

// ErrNoService is returned by GetByIdentifier when the identifier is
// unbound.
type ErrNoService struct {
	Identifier string
}

func (e ErrNoService) Error() string {
	return fmt.Sprintf("alloy: no service bound to identifier %q", e.Identifier)
}

// ErrPlaceholderInstantiated is returned when user code attempts to
// construct a factory-deferred placeholder type directly instead of
// resolving it through the container.
type ErrPlaceholderInstantiated struct {
	Key ServiceKey
}

func (e ErrPlaceholderInstantiated) Error() string {
	return fmt.Sprintf("alloy: %s is a factory-deferred placeholder and cannot be instantiated directly", e.Key)
}

// ErrDuplicateRegistration is a compiler-side error (internal/codegen), kept
// here so the runtime and compiler share one error vocabulary; it is never
// raised by the runtime itself.
type ErrDuplicateRegistration struct {
	ClassName  string
	LocalPath  string
	ImportPath string
}

func (e ErrDuplicateRegistration) Error() string {
	return fmt.Sprintf("alloy: %q is declared both locally (%s) and in an ingested manifest (%s)",
		e.ClassName, e.LocalPath, e.ImportPath)
}

// ErrUnsupportedLazyIdentifier is a compiler-side error: a configured
// lazy-service entry whose identifier does not carry the "alloy:" prefix
// is a misconfiguration, not a service reference, and aborts codegen.
type ErrUnsupportedLazyIdentifier struct {
	Identifier string
}

func (e ErrUnsupportedLazyIdentifier) Error() string {
	return fmt.Sprintf("alloy: lazy-service identifier %q does not carry the alloy: prefix", e.Identifier)
}

// ErrProvidersRequirePreserveModules is raised by the manifest emitter:
// providers listed in a manifest build need a build mode that yields
// stable public subpath specifiers.
type ErrProvidersRequirePreserveModules struct {
	PackageName string
	BuildMode   string
}

func (e ErrProvidersRequirePreserveModules) Error() string {
	return fmt.Sprintf("alloy: manifest for %q lists providers but buildMode is %q; providers require preserve-modules",
		e.PackageName, e.BuildMode)
}
