// Package model holds the data types shared across the compiler pipeline:
// scanner output, discovery-store entries, manifest records, and the
// values codegen consumes. Keeping them in one package (rather than
// letting each stage define its own near-duplicate structs) is how the
// scanner's output becomes the manifest ingestor's input becomes
// codegen's input without translation layers at every stage boundary.
package model

// Scope is the declared lifetime of a discovered or manifested service,
// the source-level counterpart of the runtime's alloy.Lifetime.
type Scope int

const (
	// ScopeTransient is the default when no annotation overrides it.
	ScopeTransient Scope = iota
	// ScopeSingleton is set by a Singleton(...) annotation, a
	// scope-bearing option literal, or a manifest record's scope field.
	ScopeSingleton
)

func (s Scope) String() string {
	if s == ScopeSingleton {
		return "singleton"
	}
	return "transient"
}

// ParseScope maps a manifest/option-literal string onto a Scope,
// defaulting to ScopeTransient for anything other than "singleton".
func ParseScope(s string) Scope {
	if s == "singleton" {
		return ScopeSingleton
	}
	return ScopeTransient
}

// DependencyKind tags one entry of a service's dependency list by how its
// expression was recognized in source or manifest form.
type DependencyKind int

const (
	// DepConstructor is a plain `alloy.To[T]()`-shaped expression, or
	// in manifest form a name match against another service's class
	// name.
	DepConstructor DependencyKind = iota
	// DepToken is an `alloy.FromToken(t)`-shaped expression, or a
	// manifest token dep.
	DepToken
	// DepDeferred is an `alloy.DeferredDep(alloy.Lazy(...))`-shaped
	// expression, or a manifest deferred dep with retry hints.
	DepDeferred
)

// RetryHints mirrors the optional retry configuration attached to a
// deferred dependency, parsed from either a Lazy(...) call's trailing
// options or a manifest record's retry block.
type RetryHints struct {
	AttemptsAfterFirst int
	InitialBackoffMS   int
	Factor             float64
}

// Dependency is one positional argument of a discovered or manifested
// service's constructor, captured at the source level (not yet resolved
// against a ServiceKey; that only happens inside the runtime once
// generated code runs).
type Dependency struct {
	Kind DependencyKind

	// Expression is the verbatim source text for this dependency
	// argument, reproduced in generated code with only the identifier
	// rewriting of the reconstruction step applied. For manifest-
	// derived dependencies it is synthesized rather than sliced from
	// source.
	Expression string

	// ReferencedIdentifiers are every identifier name this
	// expression's walk touched, used for import resolution.
	ReferencedIdentifiers []string

	// TargetClassName is set for DepConstructor: the class name this
	// dependency resolves to, used for name matching and duplicate
	// detection before any Go type exists.
	TargetClassName string

	// TargetFilePath pins the chosen candidate when TargetClassName is
	// ambiguous across files; empty when the name was unique or kept
	// verbatim with no known candidate.
	TargetFilePath string

	// DeferredKey is set for DepDeferred dependencies whose import
	// argument was a literal relative path ("./" or "../"), and for
	// every deferred dependency ingested from a manifest:
	// "<resolved-path>::<export-name>". Empty for a non-literal or a
	// non-relative literal argument, per the conservative-eager rule,
	// which still records the expression but resolves no key.
	DeferredKey string
	Retry       RetryHints
}

// ImportRef is one import the generated registration file needs for a
// discovered or manifested service: a package path and the local
// identifier that package is referred to by at the declaration site.
type ImportRef struct {
	PackagePath string
	LocalName   string
}

// DiscoveredService is one Injectable/Singleton-annotated class found by
// the scanner, or reconstructed from a manifest record by the ingestor.
// Both sources produce the same shape so codegen never needs to know
// which stage a service came from.
type DiscoveredService struct {
	ClassName   string
	PackageName string
	FilePath    string // canonical, slash-normalized

	// TypeExpr is the verbatim type argument of the annotation call
	// ("*Database", "Clock"), preserved so codegen re-emits the exact
	// pointer-ness/interface-ness of the declared service type. Empty
	// for manifest services that omit it; defaults to "*<class>".
	TypeExpr string

	// IdentifierKey is the stable opaque identifier anchor,
	// "alloy:<package>/<relative-path>#<class-name>" for scanned
	// services and the manifest's symbolKey for ingested ones.
	IdentifierKey string

	Scope        Scope
	Dependencies []Dependency

	// FactoryDeferred marks a service whose constructor itself is
	// fetched through a Lazy(...) import rather than statically
	// resolvable; codegen emits a placeholder stub for these instead
	// of a direct import.
	FactoryDeferred bool
	FactoryImport   *Dependency // Kind always DepDeferred when set

	Import ImportRef

	// ReferencedImports are imports the service's dependency
	// expressions mention (token constants and the like), carried so
	// codegen emits them alongside the service package imports under
	// the same local names the expressions use.
	ReferencedImports []ImportRef

	// FromManifest is set when this entry was materialized by
	// internal/manifest rather than discovered locally; codegen uses
	// it to pick the right duplicate-detection error wording.
	FromManifest   bool
	ManifestOrigin string
}

// DeferredRefKey builds the deferred-reference set key this service is
// looked up under: the same "<path>::<class-name>" shape the scanner
// records for Lazy(...) targets.
func (s DiscoveredService) DeferredRefKey() string {
	return s.FilePath + "::" + s.ClassName
}

// Diagnostic is a non-fatal problem recorded while ingesting a manifest:
// invalid records are skipped rather than failing the build they were
// pulled into. The scanner records none.
type Diagnostic struct {
	Severity string // "warning" | "error"
	Message  string
	Source   string // file path or manifest package name
}

// BuildMode is the compilation mode a library manifest declares. Only
// preserve-modules builds keep stable public subpath specifiers, which
// providers require.
type BuildMode string

const (
	BuildModePreserveModules BuildMode = "preserve-modules"
	BuildModeChunks          BuildMode = "chunks"
	BuildModeBundled         BuildMode = "bundled"
)

// Manifest is one library's declarative service descriptor, as decoded
// from its alloy.manifest.yaml.
type Manifest struct {
	SchemaVersion int      `yaml:"schemaVersion"`
	PackageName   string   `yaml:"packageName"`
	BuildMode     string   `yaml:"buildMode"`
	Services      []Record `yaml:"services"`
	Providers     []string `yaml:"providers,omitempty"`
}

// Record is one service entry inside a Manifest, pre-validation.
type Record struct {
	ExportName string `yaml:"exportName"`
	ImportPath string `yaml:"importPath"`
	SymbolKey  string `yaml:"symbolKey"`
	Scope      string `yaml:"scope"`

	// TypeExpr overrides the registered type expression; defaults to
	// "*<exportName>" (the pointer form Go constructors usually return).
	TypeExpr string `yaml:"typeExpr,omitempty"`

	Deps         []string      `yaml:"deps,omitempty"`
	TokenDeps    []TokenRef    `yaml:"tokenDeps,omitempty"`
	DeferredDeps []DeferredRef `yaml:"deferredDeps,omitempty"`

	FactoryImport *DeferredRef `yaml:"factoryImport,omitempty"`
}

// TokenRef is a manifest-level token dependency: the token constant's
// export name and the package it is imported from.
type TokenRef struct {
	ExportName string `yaml:"exportName"`
	ImportPath string `yaml:"importPath"`
}

// DeferredRef is a manifest-level deferred reference: an import path,
// export name, and optional retry hints.
type DeferredRef struct {
	ImportPath string `yaml:"importPath"`
	ExportName string `yaml:"exportName"`

	Retries   int     `yaml:"retries,omitempty"`
	BackoffMS int     `yaml:"backoffMs,omitempty"`
	Factor    float64 `yaml:"factor,omitempty"`
}
