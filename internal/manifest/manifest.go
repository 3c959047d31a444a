// Package manifest ingests externally-declared service manifests
// (typically a published library's alloy.manifest.yaml) into the same
// DiscoveredService shape the scanner produces locally, so codegen never
// needs to know whether a service came from this repo's source or from
// an imported package's manifest. Its Emit half is the manifest-emitter
// variant of the compiler, producing the same YAML shape Ingest reads.
package manifest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/internal/model"
)

// Result aggregates what a batch of manifests contributed: services in
// the discovered shape, provider module specifiers, deferred-reference
// keys for the global deferred set, and any skip diagnostics.
type Result struct {
	Services     []model.DiscoveredService
	Providers    []string
	DeferredKeys map[string]struct{}
	Diagnostics  []model.Diagnostic
}

// Decode parses one alloy.manifest.yaml into its Manifest.
func Decode(raw []byte) (model.Manifest, error) {
	var m model.Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return model.Manifest{}, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}

// Ingest validates and materializes manifests, matching each record's
// plain deps against known (the locally-discovered services plus records
// materialized earlier in the same batch). A manifest failing validation
// is skipped whole and recorded as a Diagnostic rather than aborting;
// manifests originate from independent builds, so one library's bad
// manifest must not break every other package's compile.
func Ingest(manifests []model.Manifest, known []model.DiscoveredService) Result {
	res := Result{DeferredKeys: make(map[string]struct{})}
	pool := append([]model.DiscoveredService(nil), known...)

	for i, m := range manifests {
		if diag, ok := validate(i, m); !ok {
			res.Diagnostics = append(res.Diagnostics, diag)
			continue
		}
		for _, rec := range m.Services {
			svc := materialize(m, rec, pool, res.DeferredKeys)
			pool = append(pool, svc)
			res.Services = append(res.Services, svc)
		}
		res.Providers = append(res.Providers, m.Providers...)
	}

	return res
}

func validate(index int, m model.Manifest) (model.Diagnostic, bool) {
	fail := func(msg string) (model.Diagnostic, bool) {
		return model.Diagnostic{
			Severity: "warning",
			Source:   m.PackageName,
			Message:  fmt.Sprintf("manifest %d: %s, skipped", index, msg),
		}, false
	}

	// schemaVersion 0 is a manifest predating the field; treated as 1.
	if m.SchemaVersion != 0 && m.SchemaVersion != 1 {
		return fail(fmt.Sprintf("unsupported schemaVersion %d", m.SchemaVersion))
	}
	if m.PackageName == "" {
		return fail("missing packageName")
	}
	switch model.BuildMode(m.BuildMode) {
	case model.BuildModePreserveModules, model.BuildModeChunks, model.BuildModeBundled:
	default:
		return fail(fmt.Sprintf("invalid buildMode %q", m.BuildMode))
	}
	for i, rec := range m.Services {
		if rec.ExportName == "" || rec.ImportPath == "" || rec.SymbolKey == "" {
			return fail(fmt.Sprintf("service %d: missing exportName, importPath, or symbolKey", i))
		}
	}
	return model.Diagnostic{}, true
}

func materialize(m model.Manifest, rec model.Record, pool []model.DiscoveredService, deferredKeys map[string]struct{}) model.DiscoveredService {
	typeExpr := rec.TypeExpr
	if typeExpr == "" {
		typeExpr = "*" + rec.ExportName
	}
	svc := model.DiscoveredService{
		ClassName:      rec.ExportName,
		PackageName:    m.PackageName,
		FilePath:       rec.ImportPath, // bare specifier preserved
		TypeExpr:       typeExpr,
		IdentifierKey:  rec.SymbolKey,
		Scope:          model.ParseScope(rec.Scope),
		Import:         model.ImportRef{PackagePath: rec.ImportPath, LocalName: lastSegment(rec.ImportPath)},
		FromManifest:   true,
		ManifestOrigin: m.PackageName,
	}

	for _, name := range rec.Deps {
		target, targetFile := bestMatch(name, m.PackageName, pool)
		svc.Dependencies = append(svc.Dependencies, model.Dependency{
			Kind:                  model.DepConstructor,
			Expression:            fmt.Sprintf("alloy.To[%s]()", target),
			ReferencedIdentifiers: []string{target},
			TargetClassName:       target,
			TargetFilePath:        targetFile,
		})
	}

	for _, tok := range rec.TokenDeps {
		local := lastSegment(tok.ImportPath)
		svc.Dependencies = append(svc.Dependencies, model.Dependency{
			Kind:                  model.DepToken,
			Expression:            fmt.Sprintf("alloy.FromToken(%s.%s)", local, tok.ExportName),
			ReferencedIdentifiers: []string{local, tok.ExportName},
		})
		svc.ReferencedImports = append(svc.ReferencedImports, model.ImportRef{
			PackagePath: tok.ImportPath,
			LocalName:   local,
		})
	}

	for _, ref := range rec.DeferredDeps {
		dep := deferredDependency(ref)
		svc.Dependencies = append(svc.Dependencies, dep)
		deferredKeys[dep.DeferredKey] = struct{}{}
	}

	if rec.FactoryImport != nil {
		dep := deferredDependency(*rec.FactoryImport)
		svc.FactoryDeferred = true
		svc.FactoryImport = &dep
		deferredKeys[dep.DeferredKey] = struct{}{}
	}

	return svc
}

// bestMatch implements the dep-selection order of the materialization
// rules: exact unique class-name match; among several, prefer the
// candidate whose file path shares the manifest's package scope prefix;
// otherwise the first; with no candidate at all, the name stands
// verbatim and the runtime fails at resolution if it is truly missing.
func bestMatch(name, packageName string, pool []model.DiscoveredService) (string, string) {
	var candidates []model.DiscoveredService
	for _, svc := range pool {
		if svc.ClassName == name {
			candidates = append(candidates, svc)
		}
	}
	if len(candidates) == 0 {
		return name, ""
	}
	if len(candidates) == 1 {
		return name, candidates[0].FilePath
	}
	scope := scopePrefix(packageName)
	for _, c := range candidates {
		if strings.HasPrefix(c.FilePath, scope) {
			return c.ClassName, c.FilePath
		}
	}
	return candidates[0].ClassName, candidates[0].FilePath
}

func scopePrefix(packageName string) string {
	if i := strings.Index(packageName, "/"); i > 0 {
		return packageName[:i]
	}
	return packageName
}

// deferredDependency reconstructs a Lazy(...) expression from a manifest
// deferred ref, with its retry option bag, so codegen emits the exact
// text the scanner would have sliced from equivalent source and the
// runtime parses the same retry semantics either way.
func deferredDependency(ref model.DeferredRef) model.Dependency {
	var opts []string
	if ref.Retries > 0 {
		opts = append(opts, fmt.Sprintf("alloy.WithRetries(%d)", ref.Retries))
	}
	if ref.BackoffMS > 0 {
		opts = append(opts, fmt.Sprintf("alloy.WithInitialBackoff(%d)", ref.BackoffMS))
	}
	if ref.Factor > 0 {
		opts = append(opts, fmt.Sprintf("alloy.WithFactor(%g)", ref.Factor))
	}
	expr := fmt.Sprintf("alloy.Lazy(func() (any, error) { return alloy.Import(%q, %q) }", ref.ImportPath, ref.ExportName)
	if len(opts) > 0 {
		expr += ", " + strings.Join(opts, ", ")
	}
	expr += ")"

	return model.Dependency{
		Kind:        model.DepDeferred,
		Expression:  expr,
		DeferredKey: ref.ImportPath + "::" + ref.ExportName,
		Retry: model.RetryHints{
			AttemptsAfterFirst: ref.Retries,
			InitialBackoffMS:   ref.BackoffMS,
			Factor:             ref.Factor,
		},
	}
}

func lastSegment(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// EmitOptions configures Emit, the manifest-emitter variant of the
// compiler.
type EmitOptions struct {
	PackageName string
	BuildMode   model.BuildMode
	Providers   []string
}

// Emit renders the manifest YAML for a set of locally-discovered
// services, the inverse of Ingest. Providers in the manifest require a
// build mode with stable public subpath specifiers.
func Emit(services []model.DiscoveredService, opts EmitOptions) ([]byte, error) {
	if len(opts.Providers) > 0 && opts.BuildMode != model.BuildModePreserveModules {
		return nil, alloy.ErrProvidersRequirePreserveModules{
			PackageName: opts.PackageName,
			BuildMode:   string(opts.BuildMode),
		}
	}

	m := model.Manifest{
		SchemaVersion: 1,
		PackageName:   opts.PackageName,
		BuildMode:     string(opts.BuildMode),
		Providers:     opts.Providers,
	}

	for _, svc := range services {
		rec := model.Record{
			ExportName: svc.ClassName,
			ImportPath: publicImportPath(opts.PackageName, svc),
			SymbolKey:  svc.IdentifierKey,
			Scope:      svc.Scope.String(),
		}
		for _, dep := range svc.Dependencies {
			switch dep.Kind {
			case model.DepConstructor:
				rec.Deps = append(rec.Deps, dep.TargetClassName)
			case model.DepToken:
				rec.TokenDeps = append(rec.TokenDeps, model.TokenRef{
					ExportName: tokenExportName(dep),
					ImportPath: publicImportPath(opts.PackageName, svc),
				})
			case model.DepDeferred:
				rec.DeferredDeps = append(rec.DeferredDeps, deferredRef(dep))
			}
		}
		if svc.FactoryImport != nil {
			ref := deferredRef(*svc.FactoryImport)
			rec.FactoryImport = &ref
		}
		m.Services = append(m.Services, rec)
	}

	return yaml.Marshal(m)
}

// EmitIdentifiers renders the companion Go source exporting one interned
// identifier constant per service, so consumers can address a library's
// services by the exact identity its manifest declares without importing
// any of its wiring.
func EmitIdentifiers(services []model.DiscoveredService, goPackage string) []byte {
	var b strings.Builder
	b.WriteString("// Code generated by alloyc. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", goPackage)
	b.WriteString("import \"github.com/alloyhq/alloy\"\n\n")
	b.WriteString("var (\n")
	for _, svc := range services {
		fmt.Fprintf(&b, "\t%sIdentifier = alloy.InternIdentifier(%q)\n", svc.ClassName, svc.IdentifierKey)
	}
	b.WriteString(")\n")
	return []byte(b.String())
}

func deferredRef(dep model.Dependency) model.DeferredRef {
	ref := model.DeferredRef{
		Retries:   dep.Retry.AttemptsAfterFirst,
		BackoffMS: dep.Retry.InitialBackoffMS,
		Factor:    dep.Retry.Factor,
	}
	if i := strings.LastIndex(dep.DeferredKey, "::"); i >= 0 {
		ref.ImportPath = dep.DeferredKey[:i]
		ref.ExportName = dep.DeferredKey[i+2:]
	}
	return ref
}

func publicImportPath(packageName string, svc model.DiscoveredService) string {
	dir := svc.FilePath
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	}
	dir = strings.TrimPrefix(dir, "./")
	if dir == "" || dir == "." {
		return packageName
	}
	return packageName + "/" + dir
}

// tokenExportName pulls the token constant's name out of a recorded
// token expression's identifier walk; the walk visits the selector base
// first, so the constant is the last identifier recorded.
func tokenExportName(dep model.Dependency) string {
	if len(dep.ReferencedIdentifiers) > 0 {
		return dep.ReferencedIdentifiers[len(dep.ReferencedIdentifiers)-1]
	}
	return ""
}
