// Package scanner statically recognizes the alloy source-annotation
// surface (Injectable, Singleton, Deps, Lazy) in a parsed Go file,
// without executing any of it. Grounded on google/wire's injector-call
// recognition (internal/wire/wire.go): both walk a *ast.File's top-level
// declarations looking for call expressions whose shape matches a fixed
// vocabulary, using go/ast + golang.org/x/tools/go/ast/astutil rather
// than a hand-rolled parser.
package scanner

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/alloyhq/alloy/internal/model"
)

// Result is what ParseFile produces for one source file: every
// discovered service and every deferred-reference key its Lazy(...)
// calls resolved to a same-repo relative import.
type Result struct {
	Services     []model.DiscoveredService
	DeferredKeys map[string]struct{}
}

// ParseFile scans one Go source file's bytes for Injectable/Singleton
// annotations. filename is used for error messages and for resolving
// alloy.Lazy(...) relative import arguments against the file's directory.
func ParseFile(filename string, src []byte) (Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return Result{}, fmt.Errorf("scanner: parse %s: %w", filename, err)
	}

	result := Result{DeferredKeys: make(map[string]struct{})}
	packageName := file.Name.Name
	canonicalPath := filepath.ToSlash(filename)
	fileImports := collectImports(file)

	walk := func(expr ast.Expr) {
		call, ok := expr.(*ast.CallExpr)
		if !ok {
			return
		}
		scope, ok := annotationScope(call)
		if !ok {
			return
		}
		svc := discoverService(fset, src, call, scope, packageName, canonicalPath)
		if svc == nil {
			return
		}
		attachReferencedImports(svc, fileImports)
		result.Services = append(result.Services, *svc)
		for _, dep := range svc.Dependencies {
			if dep.Kind == model.DepDeferred && dep.DeferredKey != "" {
				result.DeferredKeys[dep.DeferredKey] = struct{}{}
			}
		}
		if svc.FactoryImport != nil && svc.FactoryImport.DeferredKey != "" {
			result.DeferredKeys[svc.FactoryImport.DeferredKey] = struct{}{}
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name.Name != "init" || d.Body == nil {
				continue
			}
			for _, stmt := range d.Body.List {
				exprStmt, ok := stmt.(*ast.ExprStmt)
				if !ok {
					continue
				}
				walk(exprStmt.X)
			}
		case *ast.GenDecl:
			if d.Tok != token.VAR {
				continue
			}
			for _, spec := range d.Specs {
				vspec, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for _, value := range vspec.Values {
					walk(value)
				}
			}
		}
	}

	return result, nil
}

// collectImports builds the file's local-name → import table. Blank and
// dot imports carry no usable local name and are skipped.
func collectImports(file *ast.File) map[string]model.ImportRef {
	out := make(map[string]model.ImportRef)
	for _, spec := range file.Imports {
		p := strings.Trim(spec.Path.Value, "\"`")
		name := ""
		if spec.Name != nil {
			name = spec.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		if name == "" {
			parts := strings.Split(p, "/")
			name = parts[len(parts)-1]
		}
		out[name] = model.ImportRef{PackagePath: p, LocalName: name}
	}
	return out
}

// attachReferencedImports records, per the discovered-service contract,
// the subset of file imports whose local name appears in any dependency
// expression.
func attachReferencedImports(svc *model.DiscoveredService, fileImports map[string]model.ImportRef) {
	seen := make(map[string]struct{})
	collect := func(dep model.Dependency) {
		for _, id := range dep.ReferencedIdentifiers {
			ref, ok := fileImports[id]
			if !ok {
				continue
			}
			if _, dup := seen[ref.PackagePath]; dup {
				continue
			}
			seen[ref.PackagePath] = struct{}{}
			svc.ReferencedImports = append(svc.ReferencedImports, ref)
		}
	}
	for _, dep := range svc.Dependencies {
		collect(dep)
	}
	if svc.FactoryImport != nil {
		collect(*svc.FactoryImport)
	}
}

// annotationScope reports whether call's callee tail identifier is
// Injectable or Singleton (a selector expression's final identifier, so
// both `alloy.Injectable[T]` and a dot-imported bare `Injectable[T]`
// match), and the Scope that implies.
func annotationScope(call *ast.CallExpr) (model.Scope, bool) {
	tail := calleeTail(call.Fun)
	switch tail {
	case "Injectable":
		return model.ScopeTransient, true
	case "Singleton":
		return model.ScopeSingleton, true
	default:
		return 0, false
	}
}

// calleeTail unwraps an IndexExpr (generic instantiation, e.g.
// Injectable[UserService]) down to the underlying call and returns the
// tail identifier of a selector or bare identifier.
func calleeTail(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.IndexExpr:
		return calleeTail(f.X)
	case *ast.IndexListExpr:
		return calleeTail(f.X)
	case *ast.SelectorExpr:
		return f.Sel.Name
	case *ast.Ident:
		return f.Name
	default:
		return ""
	}
}

// typeArgName extracts the annotated class's type-argument name from a
// generic call's index/index-list expression, e.g. "UserService" from
// Injectable[*UserService](...).
func typeArgName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.IndexExpr:
		return exprName(f.Index)
	case *ast.IndexListExpr:
		if len(f.Indices) > 0 {
			return exprName(f.Indices[0])
		}
	}
	return ""
}

// typeArg returns the type-argument expression node itself, so its
// verbatim source text ("*UserService") can be preserved.
func typeArg(fun ast.Expr) ast.Expr {
	switch f := fun.(type) {
	case *ast.IndexExpr:
		return f.Index
	case *ast.IndexListExpr:
		if len(f.Indices) > 0 {
			return f.Indices[0]
		}
	}
	return nil
}

func exprName(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.Ident:
		return v.Name
	case *ast.SelectorExpr:
		return v.Sel.Name
	case *ast.StarExpr:
		return exprName(v.X)
	default:
		return ""
	}
}

func discoverService(fset *token.FileSet, src []byte, call *ast.CallExpr, scope model.Scope, pkgName, filePath string) *model.DiscoveredService {
	className := typeArgName(call.Fun)
	if className == "" {
		return nil
	}

	svc := &model.DiscoveredService{
		ClassName:     className,
		PackageName:   pkgName,
		FilePath:      filePath,
		IdentifierKey: fmt.Sprintf("alloy:%s/%s#%s", pkgName, filePath, className),
		Scope:         scope,
	}
	if arg := typeArg(call.Fun); arg != nil {
		svc.TypeExpr = sourceSlice(fset, src, arg)
	}

	for _, arg := range call.Args {
		if lit, ok := arg.(*ast.CompositeLit); ok {
			applyOptionsLiteral(fset, src, lit, svc, filePath)
			continue
		}
		optCall, ok := arg.(*ast.CallExpr)
		if !ok {
			continue
		}
		switch calleeTail(optCall.Fun) {
		case "WithDeps", "Deps":
			svc.Dependencies = extractDependencies(fset, src, optCall.Args, filePath)
		case "WithScope":
			if len(optCall.Args) == 1 && exprName(optCall.Args[0]) == "LifetimeSingleton" {
				svc.Scope = model.ScopeSingleton
			}
		case "WithOptions":
			if len(optCall.Args) == 1 {
				if lit, ok := optCall.Args[0].(*ast.CompositeLit); ok {
					applyOptionsLiteral(fset, src, lit, svc, filePath)
				}
			}
		case "WithFactoryImport":
			if len(optCall.Args) == 1 {
				if dep, ok := extractLazyDependency(fset, src, optCall.Args[0], filePath); ok {
					svc.FactoryDeferred = true
					svc.FactoryImport = &dep
				}
			}
		}
	}

	return svc
}

// applyOptionsLiteral recognizes the object-literal override shape
// alloy.Options{Scope: alloy.LifetimeSingleton, Dependencies: ...}, the
// annotation's third configuration form next to the annotation name and
// the WithScope/WithDeps options.
func applyOptionsLiteral(fset *token.FileSet, src []byte, lit *ast.CompositeLit, svc *model.DiscoveredService, filePath string) {
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		switch exprName(kv.Key) {
		case "Scope":
			if exprName(kv.Value) == "LifetimeSingleton" {
				svc.Scope = model.ScopeSingleton
			}
		case "Dependencies":
			switch v := kv.Value.(type) {
			case *ast.CallExpr:
				if calleeTail(v.Fun) == "Deps" {
					svc.Dependencies = extractDependencies(fset, src, v.Args, filePath)
				}
			case *ast.CompositeLit:
				svc.Dependencies = extractDependencies(fset, src, v.Elts, filePath)
			}
		}
	}
}

func extractDependencies(fset *token.FileSet, src []byte, args []ast.Expr, filePath string) []model.Dependency {
	deps := make([]model.Dependency, 0, len(args))
	for _, arg := range args {
		call, ok := arg.(*ast.CallExpr)
		if !ok {
			continue
		}
		switch calleeTail(call.Fun) {
		case "To":
			deps = append(deps, model.Dependency{
				Kind:                  model.DepConstructor,
				Expression:            sourceSlice(fset, src, arg),
				ReferencedIdentifiers: referencedIdentifiers(arg),
				TargetClassName:       typeArgName(call.Fun),
			})
		case "FromToken":
			deps = append(deps, model.Dependency{
				Kind:                  model.DepToken,
				Expression:            sourceSlice(fset, src, arg),
				ReferencedIdentifiers: referencedIdentifiers(arg),
			})
		case "DeferredDep":
			if len(call.Args) != 1 {
				continue
			}
			if dep, ok := extractLazyDependency(fset, src, call.Args[0], filePath); ok {
				deps = append(deps, dep)
			}
		}
	}
	return deps
}

// extractLazyDependency recognizes `alloy.Lazy(func() (any, error) {
// return alloy.Import(pkgPath, exportName) })`-shaped expressions (the
// wrapped form, where a later statement derives a value from the Import
// call's result, is also recognized) and resolves a relative import path
// against the scanned file's directory.
func extractLazyDependency(fset *token.FileSet, src []byte, expr ast.Expr, contextFile string) (model.Dependency, bool) {
	call, ok := expr.(*ast.CallExpr)
	if !ok || calleeTail(call.Fun) != "Lazy" || len(call.Args) == 0 {
		return model.Dependency{}, false
	}

	dep := model.Dependency{
		Kind:                  model.DepDeferred,
		Expression:            sourceSlice(fset, src, expr),
		ReferencedIdentifiers: referencedIdentifiers(expr),
	}

	funcLit, ok := call.Args[0].(*ast.FuncLit)
	if ok && funcLit.Body != nil {
		importCall := findImportCall(funcLit.Body)
		if importCall != nil && len(importCall.Args) >= 2 {
			pkgPath, pathOK := stringLiteral(importCall.Args[0])
			exportName, nameOK := stringLiteral(importCall.Args[1])
			if pathOK && nameOK {
				if resolved := resolveDeferredTarget(pkgPath, contextFile); resolved != "" {
					dep.DeferredKey = resolved + "::" + exportName
				}
			}
		}
	}

	for _, arg := range call.Args[1:] {
		if opt, ok := arg.(*ast.CallExpr); ok {
			applyRetryOption(&dep.Retry, opt)
		}
	}

	return dep, true
}

// findImportCall descends into a closure body looking for a call to
// alloy.Import(...), directly returned or feeding a later statement that
// derives a value from its result.
func findImportCall(body *ast.BlockStmt) *ast.CallExpr {
	var found *ast.CallExpr
	ast.Inspect(body, func(n ast.Node) bool {
		if found != nil {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch calleeTail(call.Fun) {
		case "Import", "ImportKey":
			found = call
			return false
		}
		return true
	})
	return found
}

func stringLiteral(e ast.Expr) (string, bool) {
	lit, ok := e.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	return strings.Trim(lit.Value, "\"`"), true
}

// resolveDeferredTarget resolves a relative import argument ("./foo" or
// "../foo") against the scanned file's directory, yielding the single
// ".go" candidate. A non-relative package path yields no deferred-
// reference key; its target is conservatively treated as eager.
func resolveDeferredTarget(pkgPath, contextFile string) string {
	if !strings.HasPrefix(pkgPath, "./") && !strings.HasPrefix(pkgPath, "../") {
		return ""
	}
	dir := filepath.ToSlash(filepath.Dir(contextFile))
	return path.Join(dir, pkgPath) + ".go"
}

func applyRetryOption(policy *model.RetryHints, opt *ast.CallExpr) {
	if len(opt.Args) != 1 {
		return
	}
	lit, ok := opt.Args[0].(*ast.BasicLit)
	if !ok {
		return
	}
	switch calleeTail(opt.Fun) {
	case "WithRetries":
		fmt.Sscanf(lit.Value, "%d", &policy.AttemptsAfterFirst)
	case "WithInitialBackoff":
		fmt.Sscanf(lit.Value, "%d", &policy.InitialBackoffMS)
	case "WithFactor":
		fmt.Sscanf(lit.Value, "%f", &policy.Factor)
	}
}

// referencedIdentifiers walks expr with astutil, descending into
// composite-literal element values and alloy.Lazy(...) closure bodies,
// collecting every identifier touched: the three walk rules of the
// dependency-expression scan, used downstream for import resolution.
func referencedIdentifiers(expr ast.Expr) []string {
	seen := make(map[string]struct{})
	var names []string
	record := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	astutil.Apply(expr, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.Ident:
			record(n.Name)
		case *ast.SelectorExpr:
			if ident, ok := n.X.(*ast.Ident); ok {
				record(ident.Name)
			}
			record(n.Sel.Name)
			return false
		}
		return true
	}, nil)

	return names
}

func sourceSlice(fset *token.FileSet, src []byte, expr ast.Node) string {
	start := fset.Position(expr.Pos()).Offset
	end := fset.Position(expr.End()).Offset
	if start < 0 || end > len(src) || start > end {
		return ""
	}
	return string(src[start:end])
}
