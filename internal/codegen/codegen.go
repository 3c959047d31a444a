// Package codegen synthesizes a generated Go registration file (and a
// companion identifier-constants file) from the unified service list
// internal/discovery and internal/manifest produce. Grounded on
// tuhuynh27-go-ioc's internal/wire/generator.go: both build an
// intermediate template-data struct from resolved components, emit
// through text/template, then gofmt the result.
package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"hash/fnv"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/internal/model"
)

// Output is what Generate produces: a registration module and a
// companion identifier-constants file, the Go renderings of the
// generated virtual module and its ambient type declarations.
type Output struct {
	Module   []byte
	TypeDecl []byte
}

// Options configures the generated package's identity, the configured
// factory-deferred set, and the provider packages the generated module
// applies after its registration loop.
type Options struct {
	PackageName string

	// ModulePath is the scanned project's Go module path, used to
	// derive package import paths for locally-discovered services that
	// only carry a file path.
	ModulePath string

	// LazyServices holds identifier keys ("alloy:..." strings) whose
	// backing services must be emitted factory-deferred even though
	// their source carried no WithFactoryImport.
	LazyServices []string

	// ProviderPackages are import paths of wiring packages; each is
	// expected to export `var Providers []alloy.Provider`, imported
	// aliased providers_0..N and applied in order.
	ProviderPackages []string
}

// Generate runs the full reconciliation-and-emission sequence: active
// filtering against the deferred set, eager reinstatement, configured
// factory-deferral, duplicate detection, collision aliasing, import
// resolution, and finally template emission of both output files.
func Generate(services []model.DiscoveredService, deferredKeys map[string]struct{}, opts Options) (Output, error) {
	lazySet, err := validateLazyServices(opts.LazyServices)
	if err != nil {
		return Output{}, err
	}

	active := filterActive(services, deferredKeys)

	for i := range active {
		if active[i].Import.PackagePath == "" {
			active[i].Import = deriveImport(opts.ModulePath, active[i])
		}
		if _, ok := lazySet[active[i].IdentifierKey]; ok && active[i].FactoryImport == nil {
			augmentFactoryDeferral(&active[i])
		}
	}

	if err := detectDuplicates(active); err != nil {
		return Output{}, err
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].FilePath != active[j].FilePath {
			return active[i].FilePath < active[j].FilePath
		}
		return active[i].ClassName < active[j].ClassName
	})

	aliases := resolveIdentifierCollisions(active)
	imports, qualifiers := resolveImports(active)

	entries := make([]registrationEntry, 0, len(active))
	for _, svc := range active {
		entries = append(entries, buildEntry(svc, active, aliases, qualifiers))
	}

	servicePaths := make(map[string]struct{})
	for _, svc := range active {
		if !svc.FactoryDeferred && svc.Import.PackagePath != "" {
			servicePaths[svc.Import.PackagePath] = struct{}{}
		}
	}
	var typeImports []importEntry
	for _, imp := range imports {
		if _, ok := servicePaths[imp.Path]; ok {
			typeImports = append(typeImports, imp)
		}
	}

	data := templateData{
		PackageName: opts.PackageName,
		Imports:     imports,
		TypeImports: typeImports,
		Entries:     entries,
		Providers:   providerImports(opts.ProviderPackages),
	}

	module, err := render(moduleTemplate, data)
	if err != nil {
		return Output{}, err
	}
	typeDecl, err := render(typeDeclTemplate, data)
	if err != nil {
		return Output{}, err
	}

	return Output{Module: module, TypeDecl: typeDecl}, nil
}

// deriveImport maps a locally-scanned service's file path onto its
// package import path under the project module.
func deriveImport(modulePath string, svc model.DiscoveredService) model.ImportRef {
	dir := path.Dir(svc.FilePath)
	dir = strings.TrimPrefix(dir, "./")
	if dir == "." {
		dir = ""
	}
	pkgPath := dir
	switch {
	case modulePath != "" && dir != "":
		pkgPath = modulePath + "/" + dir
	case modulePath != "":
		pkgPath = modulePath
	}
	return model.ImportRef{PackagePath: pkgPath, LocalName: svc.PackageName}
}

func validateLazyServices(keys []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if !strings.HasPrefix(k, "alloy:") {
			return nil, alloy.ErrUnsupportedLazyIdentifier{Identifier: k}
		}
		set[k] = struct{}{}
	}
	return set, nil
}

// filterActive implements the two-step deferred reconciliation: drop
// services whose (file path, class name) appears in the deferred set,
// since they are referenced only through Lazy(...) and must not be
// imported eagerly, then reinstate any dropped service whose class name is also
// referenced by a non-deferred dependency expression somewhere else.
func filterActive(services []model.DiscoveredService, deferredKeys map[string]struct{}) []model.DiscoveredService {
	eagerNames := make(map[string]struct{})
	for _, svc := range services {
		if _, deferred := deferredKeys[svc.DeferredRefKey()]; deferred {
			continue
		}
		for _, dep := range svc.Dependencies {
			if dep.Kind == model.DepDeferred {
				continue
			}
			for _, id := range dep.ReferencedIdentifiers {
				eagerNames[id] = struct{}{}
			}
		}
	}

	var active []model.DiscoveredService
	for _, svc := range services {
		if _, deferred := deferredKeys[svc.DeferredRefKey()]; deferred {
			if _, eager := eagerNames[svc.ClassName]; !eager {
				continue
			}
		}
		active = append(active, svc)
	}
	return active
}

// augmentFactoryDeferral attaches a synthesized factory import to a
// service the configuration demands be lazy, mirroring what a
// WithFactoryImport annotation would have produced in its source.
func augmentFactoryDeferral(svc *model.DiscoveredService) {
	expr := fmt.Sprintf("alloy.Lazy(func() (any, error) { return alloy.Import(%q, %q) })",
		svc.FilePath, svc.ClassName)
	svc.FactoryDeferred = true
	svc.FactoryImport = &model.Dependency{
		Kind:        model.DepDeferred,
		Expression:  expr,
		DeferredKey: svc.DeferredRefKey(),
	}
}

// detectDuplicates aborts when a class name is declared both locally and
// in an ingested manifest, naming both sources.
func detectDuplicates(services []model.DiscoveredService) error {
	local := make(map[string]model.DiscoveredService)
	manifested := make(map[string]model.DiscoveredService)
	for _, svc := range services {
		if svc.FromManifest {
			manifested[svc.ClassName] = svc
		} else {
			local[svc.ClassName] = svc
		}
	}
	var names []string
	for name := range local {
		if _, ok := manifested[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > 0 {
		name := names[0]
		return alloy.ErrDuplicateRegistration{
			ClassName:  name,
			LocalPath:  local[name].FilePath,
			ImportPath: manifested[name].FilePath,
		}
	}
	return nil
}

// resolveIdentifierCollisions assigns every occurrence of a class name
// shared across files an aliased export key `<name>_<hash>`, hash being
// a short base-36 FNV-1a digest of the normalized file path (stable
// across runs and machines).
func resolveIdentifierCollisions(services []model.DiscoveredService) map[string]string {
	files := make(map[string]map[string]struct{})
	for _, svc := range services {
		if files[svc.ClassName] == nil {
			files[svc.ClassName] = make(map[string]struct{})
		}
		files[svc.ClassName][svc.FilePath] = struct{}{}
	}

	aliases := make(map[string]string)
	for _, svc := range services {
		if len(files[svc.ClassName]) > 1 {
			aliases[aliasKey(svc)] = svc.ClassName + "_" + pathHash(svc.FilePath)
		}
	}
	return aliases
}

func aliasKey(svc model.DiscoveredService) string {
	return svc.ClassName + "\x00" + svc.FilePath
}

func pathHash(filePath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(filePath))
	s := strconv.FormatUint(h.Sum64(), 36)
	if len(s) > 7 {
		s = s[:7]
	}
	return s
}

// exportName is the key a service appears under in ServiceIdentifiers:
// the bare class name when unique, the aliased form when colliding.
func exportName(svc model.DiscoveredService, aliases map[string]string) string {
	if alias, ok := aliases[aliasKey(svc)]; ok {
		return alias
	}
	return svc.ClassName
}

type importEntry struct {
	Path  string
	Alias string
}

// runtimeImportPath is always present in the template's import block;
// referenced imports pointing back at it are dropped rather than
// duplicated.
const runtimeImportPath = "github.com/alloyhq/alloy"

// resolveImports dedups package imports by path. Referenced imports
// (token constants mentioned verbatim in dependency expressions) keep
// the exact local name the expression uses; service package imports
// yield and take a `_N` counter alias when their base name is already
// claimed. Returns the import list plus a path→qualifier map used when
// reconstructing dependency expressions.
func resolveImports(services []model.DiscoveredService) ([]importEntry, map[string]string) {
	type pendingImport struct {
		ref   model.ImportRef
		fixed bool
	}
	byPath := make(map[string]pendingImport)
	for _, svc := range services {
		for _, ri := range svc.ReferencedImports {
			if ri.PackagePath == "" || ri.PackagePath == runtimeImportPath {
				continue
			}
			if _, ok := byPath[ri.PackagePath]; !ok {
				byPath[ri.PackagePath] = pendingImport{ref: ri, fixed: true}
			}
		}
	}
	for _, svc := range services {
		if svc.FactoryDeferred || svc.Import.PackagePath == "" {
			continue
		}
		if _, ok := byPath[svc.Import.PackagePath]; !ok {
			byPath[svc.Import.PackagePath] = pendingImport{ref: svc.Import}
		}
	}

	var paths []string
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	claimed := make(map[string]bool)
	qualifiers := make(map[string]string)
	var out []importEntry

	add := func(p string, pi pendingImport) {
		base := pi.ref.LocalName
		if base == "" {
			parts := strings.Split(p, "/")
			base = parts[len(parts)-1]
		}
		qualifier := base
		if !pi.fixed {
			for n := 2; claimed[qualifier]; n++ {
				qualifier = fmt.Sprintf("%s_%d", base, n)
			}
		}
		claimed[qualifier] = true
		parts := strings.Split(p, "/")
		alias := ""
		if qualifier != parts[len(parts)-1] {
			alias = qualifier
		}
		qualifiers[p] = qualifier
		out = append(out, importEntry{Path: p, Alias: alias})
	}

	for _, p := range paths {
		if byPath[p].fixed {
			add(p, byPath[p])
		}
	}
	for _, p := range paths {
		if !byPath[p].fixed {
			add(p, byPath[p])
		}
	}
	return out, qualifiers
}

type providerImport struct {
	Alias string
	Path  string
}

func providerImports(pkgs []string) []providerImport {
	out := make([]providerImport, 0, len(pkgs))
	for i, p := range pkgs {
		out = append(out, providerImport{Alias: fmt.Sprintf("providers_%d", i), Path: p})
	}
	return out
}

type registrationEntry struct {
	ClassName       string // original class name; the Export lookup key
	ExportName      string // ServiceIdentifiers key, aliased on collision
	TypeRef         string // qualified type expression, or the local stub name
	FactoryRef      string // qualified constructor reference, empty when factory-deferred
	IdentifierKey   string
	FilePath        string
	Singleton       bool
	FactoryDeferred bool
	FactoryExpr     string // reconstructed alloy.Lazy(...) expression
	DepExprs        []string
}

// buildEntry reconstructs one registration: the qualified type and
// constructor references, plus each dependency expression with the
// reconstruction rules applied: constructor targets rewritten to their
// import qualifier, deferred import paths normalized to the resolved
// form, everything else byte-for-byte as the user wrote it.
func buildEntry(svc model.DiscoveredService, all []model.DiscoveredService, aliases, qualifiers map[string]string) registrationEntry {
	entry := registrationEntry{
		ClassName:       svc.ClassName,
		ExportName:      exportName(svc, aliases),
		IdentifierKey:   svc.IdentifierKey,
		FilePath:        svc.FilePath,
		Singleton:       svc.Scope == model.ScopeSingleton,
		FactoryDeferred: svc.FactoryDeferred,
	}

	if svc.FactoryDeferred {
		entry.TypeRef = entry.ExportName
		if svc.FactoryImport != nil {
			entry.FactoryExpr = rewriteDeferredPath(*svc.FactoryImport)
		}
	} else {
		qualifier := qualifiers[svc.Import.PackagePath]
		entry.TypeRef = qualifyType(qualifier, svc)
		entry.FactoryRef = qualify(qualifier, "New"+svc.ClassName)
	}

	for _, dep := range svc.Dependencies {
		entry.DepExprs = append(entry.DepExprs, reconstructDep(dep, all, qualifiers))
	}
	return entry
}

func qualify(qualifier, name string) string {
	if qualifier == "" {
		return name
	}
	return qualifier + "." + name
}

// qualifyType inserts the import qualifier into a service's verbatim
// type expression, preserving pointer-ness: ("db", "*Database") →
// "*db.Database".
func qualifyType(qualifier string, svc model.DiscoveredService) string {
	expr := svc.TypeExpr
	if expr == "" {
		expr = svc.ClassName
	}
	stars := ""
	for strings.HasPrefix(expr, "*") {
		stars += "*"
		expr = expr[1:]
	}
	return stars + qualify(qualifier, expr)
}

func reconstructDep(dep model.Dependency, all []model.DiscoveredService, qualifiers map[string]string) string {
	switch dep.Kind {
	case model.DepConstructor:
		if target, ok := findTarget(all, dep); ok {
			qualifier := qualifiers[target.Import.PackagePath]
			if qualifier != "" {
				return fmt.Sprintf("alloy.To[%s]()", qualifyType(qualifier, target))
			}
		}
		return dep.Expression
	case model.DepDeferred:
		// The recorded expression is the bare Lazy(...) call; in a
		// dependency list it rides inside the DeferredDep wrapper.
		return "alloy.DeferredDep(" + rewriteDeferredPath(dep) + ")"
	default:
		return dep.Expression
	}
}

// findTarget resolves a constructor dependency to its service, honoring
// the pinned file path when name matching was ambiguous.
func findTarget(all []model.DiscoveredService, dep model.Dependency) (model.DiscoveredService, bool) {
	var fallback model.DiscoveredService
	found := false
	for _, svc := range all {
		if svc.ClassName != dep.TargetClassName {
			continue
		}
		if dep.TargetFilePath != "" && svc.FilePath == dep.TargetFilePath {
			return svc, true
		}
		if !found {
			fallback, found = svc, true
		}
	}
	return fallback, found
}

// rewriteDeferredPath substitutes the original (possibly relative)
// import argument inside a Lazy(...) expression with the normalized path
// its deferred key resolved to, leaving the rest of the user's text,
// including any retry option bag, untouched.
func rewriteDeferredPath(dep model.Dependency) string {
	if dep.DeferredKey == "" {
		return dep.Expression
	}
	normalized := dep.DeferredKey
	if i := strings.LastIndex(normalized, "::"); i >= 0 {
		normalized = normalized[:i]
	}
	start := strings.Index(dep.Expression, "alloy.Import(")
	if start < 0 {
		return dep.Expression
	}
	open := start + len("alloy.Import(")
	quoteStart := strings.Index(dep.Expression[open:], `"`)
	if quoteStart < 0 {
		return dep.Expression
	}
	quoteStart += open + 1
	quoteEnd := strings.Index(dep.Expression[quoteStart:], `"`)
	if quoteEnd < 0 {
		return dep.Expression
	}
	return dep.Expression[:quoteStart] + normalized + dep.Expression[quoteStart+quoteEnd:]
}

type templateData struct {
	PackageName string
	Imports     []importEntry
	TypeImports []importEntry // service packages only; the identifier table needs no token imports
	Entries     []registrationEntry
	Providers   []providerImport
}

var moduleTemplate = template.Must(template.New("module").Parse(`// Code generated by alloyc. DO NOT EDIT.

package {{.PackageName}}

import (
	"github.com/alloyhq/alloy"
{{- range .Imports}}
	{{if .Alias}}{{.Alias}} {{end}}"{{.Path}}"
{{- end}}
{{- range .Providers}}
	{{.Alias}} "{{.Path}}"
{{- end}}
)
{{range .Entries}}{{if .FactoryDeferred}}
// {{.TypeRef}} is a placeholder identity for a factory-deferred service;
// its real constructor is fetched through the registered factory import.
type {{.TypeRef}} struct{ alloy.FactoryStub }
{{end}}{{end}}
// Container is this package's wiring container. Resolve services from it
// directly, or via ServiceIdentifiers for a build-stripping-safe handle.
var Container = alloy.NewContainer()

func init() {
{{- range .Entries}}
	{{if .Singleton}}alloy.Singleton{{else}}alloy.Injectable{{end}}[{{.TypeRef}}]({{if .FactoryDeferred}}alloy.WithFactoryImport({{.FactoryExpr}}){{else}}alloy.WithFactory({{.FactoryRef}}){{end}}{{if .DepExprs}}, alloy.WithDeps(
{{- range .DepExprs}}
		{{.}},
{{- end}}
	){{end}})
{{- end}}
{{- if .Providers}}
	var providerList []alloy.Provider
{{- range .Providers}}
	providerList = append(providerList, {{.Alias}}.Providers...)
{{- end}}
	if err := alloy.ApplyProviders(Container, providerList...); err != nil {
		panic(err)
	}
{{- end}}
{{- range .Entries}}
	if _, err := alloy.RegisterIdentifier[{{.TypeRef}}]({{printf "%q" .IdentifierKey}}); err != nil {
		panic(err)
	}
	alloy.Export({{printf "%q" .FilePath}}, {{printf "%q" .ClassName}}, alloy.KeyOf[{{.TypeRef}}]())
{{- end}}
}
`))

var typeDeclTemplate = template.Must(template.New("typedecl").Parse(`// Code generated by alloyc. DO NOT EDIT.

package {{.PackageName}}

import (
	"github.com/alloyhq/alloy"
{{- range .TypeImports}}
	{{if .Alias}}{{.Alias}} {{end}}"{{.Path}}"
{{- end}}
)

// ServiceIdentifiers maps each export key to its stable Identifier, safe
// to reference after a build step strips type names. Colliding class
// names appear under their aliased keys.
var ServiceIdentifiers = map[string]*alloy.Identifier{
{{- range .Entries}}
	{{printf "%q" .ExportName}}: alloy.MustIdentifier[{{.TypeRef}}]({{printf "%q" .IdentifierKey}}),
{{- end}}
}
`))

func render(tmpl *template.Template, data templateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("codegen: render %s: %w", tmpl.Name(), err)
	}
	return formatOrRaw(buf.Bytes()), nil
}

// formatOrRaw runs go/format over generated source; a template bug
// producing invalid Go is a build-time problem the generated file's own
// compiler error will surface, so this degrades to the raw bytes instead
// of hiding the output entirely.
func formatOrRaw(src []byte) []byte {
	formatted, err := format.Source(src)
	if err != nil {
		return src
	}
	return formatted
}
