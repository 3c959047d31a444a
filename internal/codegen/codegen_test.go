package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/internal/model"
)

func service(class, file, pkgPath, local string) model.DiscoveredService {
	return model.DiscoveredService{
		ClassName:     class,
		PackageName:   local,
		FilePath:      file,
		TypeExpr:      "*" + class,
		IdentifierKey: "alloy:" + local + "/" + file + "#" + class,
		Import:        model.ImportRef{PackagePath: pkgPath, LocalName: local},
	}
}

func basicServices() []model.DiscoveredService {
	db := service("Database", "app/db/db.go", "acme/app/db", "db")
	db.Scope = model.ScopeSingleton

	repo := service("Repository", "app/repo/repo.go", "acme/app/repo", "repo")
	repo.Dependencies = []model.Dependency{{
		Kind:                  model.DepConstructor,
		Expression:            "alloy.To[*Database]()",
		ReferencedIdentifiers: []string{"Database"},
		TargetClassName:       "Database",
	}}

	return []model.DiscoveredService{db, repo}
}

func TestGenerateBasicModule(t *testing.T) {
	out, err := Generate(basicServices(), nil, Options{PackageName: "generated"})
	require.NoError(t, err)

	module := string(out.Module)
	assert.Contains(t, module, "package generated")
	assert.Contains(t, module, `"acme/app/db"`)
	assert.Contains(t, module, `"acme/app/repo"`)
	assert.Contains(t, module, "alloy.Singleton[*db.Database](alloy.WithFactory(db.NewDatabase)")
	assert.Contains(t, module, "alloy.Injectable[*repo.Repository](alloy.WithFactory(repo.NewRepository)")
	// The dependency expression is rewritten to the import qualifier.
	assert.Contains(t, module, "alloy.To[*db.Database]()")
	assert.Contains(t, module, `alloy.RegisterIdentifier[*db.Database]("alloy:db/app/db/db.go#Database")`)

	decl := string(out.TypeDecl)
	// gofmt aligns map values, so the shorter key carries extra padding.
	assert.Contains(t, decl, `"Database":   alloy.MustIdentifier[*db.Database]`)
	assert.Contains(t, decl, `"Repository": alloy.MustIdentifier[*repo.Repository]`)
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(basicServices(), nil, Options{PackageName: "generated"})
	require.NoError(t, err)
	b, err := Generate(basicServices(), nil, Options{PackageName: "generated"})
	require.NoError(t, err)
	assert.Equal(t, a.Module, b.Module)
	assert.Equal(t, a.TypeDecl, b.TypeDecl)
}

func TestGeneratePermutationIndependent(t *testing.T) {
	svcs := basicServices()
	reversed := []model.DiscoveredService{svcs[1], svcs[0]}

	a, err := Generate(svcs, nil, Options{PackageName: "generated"})
	require.NoError(t, err)
	b, err := Generate(reversed, nil, Options{PackageName: "generated"})
	require.NoError(t, err)
	assert.Equal(t, a.Module, b.Module)
	assert.Equal(t, a.TypeDecl, b.TypeDecl)
}

func TestGenerateExcludesDeferredOnlyServices(t *testing.T) {
	worker := service("Worker", "app/worker.go", "acme/app", "app")

	caller := service("Scheduler", "app/sched.go", "acme/app", "app")
	caller.Dependencies = []model.Dependency{{
		Kind:        model.DepDeferred,
		Expression:  `alloy.Lazy(func() (any, error) { return alloy.Import("./worker", "Worker") })`,
		DeferredKey: "app/worker.go::Worker",
	}}

	deferred := map[string]struct{}{"app/worker.go::Worker": {}}

	out, err := Generate([]model.DiscoveredService{worker, caller}, deferred, Options{PackageName: "generated"})
	require.NoError(t, err)

	module := string(out.Module)
	assert.NotContains(t, module, "NewWorker",
		"a service referenced only through Lazy(...) must not be registered eagerly")
	assert.Contains(t, module, "Scheduler")
	// The deferred expression's import argument is normalized.
	assert.Contains(t, module, `alloy.Import("app/worker.go", "Worker")`)
}

func TestGenerateReinstatesEagerlyReferencedService(t *testing.T) {
	worker := service("Worker", "app/worker.go", "acme/app", "app")

	lazyCaller := service("Scheduler", "app/sched.go", "acme/app", "app")
	lazyCaller.Dependencies = []model.Dependency{{
		Kind:        model.DepDeferred,
		Expression:  `alloy.Lazy(func() (any, error) { return alloy.Import("./worker", "Worker") })`,
		DeferredKey: "app/worker.go::Worker",
	}}

	eagerCaller := service("Monitor", "app/monitor.go", "acme/app", "app")
	eagerCaller.Dependencies = []model.Dependency{{
		Kind:                  model.DepConstructor,
		Expression:            "alloy.To[*Worker]()",
		ReferencedIdentifiers: []string{"Worker"},
		TargetClassName:       "Worker",
	}}

	deferred := map[string]struct{}{"app/worker.go::Worker": {}}

	out, err := Generate([]model.DiscoveredService{worker, lazyCaller, eagerCaller}, deferred, Options{PackageName: "generated"})
	require.NoError(t, err)

	module := string(out.Module)
	assert.Contains(t, module, "alloy.Injectable[*app.Worker]",
		"a service referenced both eagerly and deferredly is registered eagerly")
}

func TestGenerateCollisionAliasing(t *testing.T) {
	a := service("Service", "app/auth/service.go", "acme/app/auth", "auth")
	b := service("Service", "app/billing/service.go", "acme/app/billing", "billing")

	out, err := Generate([]model.DiscoveredService{a, b}, nil, Options{PackageName: "generated"})
	require.NoError(t, err)

	decl := string(out.TypeDecl)
	hashA := "Service_" + pathHash("app/auth/service.go")
	hashB := "Service_" + pathHash("app/billing/service.go")
	assert.NotEqual(t, hashA, hashB)
	assert.Contains(t, decl, `"`+hashA+`"`)
	assert.Contains(t, decl, `"`+hashB+`"`)

	module := string(out.Module)
	assert.Contains(t, module, "alloy:auth/app/auth/service.go#Service")
	assert.Contains(t, module, "alloy:billing/app/billing/service.go#Service")
}

func TestGenerateDuplicateLocalAndManifest(t *testing.T) {
	local := service("Foo", "app/foo.go", "acme/app", "app")

	manifested := service("Foo", "acme/widgets/foo", "acme/widgets/foo", "foo")
	manifested.FromManifest = true
	manifested.ManifestOrigin = "acme/widgets"

	_, err := Generate([]model.DiscoveredService{local, manifested}, nil, Options{PackageName: "generated"})
	var dup alloy.ErrDuplicateRegistration
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Foo", dup.ClassName)
	assert.Equal(t, "app/foo.go", dup.LocalPath)
	assert.Equal(t, "acme/widgets/foo", dup.ImportPath)
}

func TestGenerateLazyServicesValidation(t *testing.T) {
	_, err := Generate(nil, nil, Options{
		PackageName:  "generated",
		LazyServices: []string{"not-an-alloy-key"},
	})
	var unsupported alloy.ErrUnsupportedLazyIdentifier
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "not-an-alloy-key", unsupported.Identifier)
}

func TestGenerateConfiguredFactoryDeferral(t *testing.T) {
	svcs := basicServices()

	out, err := Generate(svcs, nil, Options{
		PackageName:  "generated",
		LazyServices: []string{"alloy:repo/app/repo/repo.go#Repository"},
	})
	require.NoError(t, err)

	module := string(out.Module)
	assert.Contains(t, module, "type Repository struct{ alloy.FactoryStub }")
	assert.Contains(t, module, `alloy.WithFactoryImport(alloy.Lazy(func() (any, error) { return alloy.Import("app/repo/repo.go", "Repository") }))`)
	assert.NotContains(t, module, `"acme/app/repo"`,
		"a factory-deferred service's package must not be imported eagerly")
}

func TestGenerateProviderPackages(t *testing.T) {
	out, err := Generate(basicServices(), nil, Options{
		PackageName:      "generated",
		ProviderPackages: []string{"acme/app/wiring", "acme/app/extra"},
	})
	require.NoError(t, err)

	module := string(out.Module)
	assert.Contains(t, module, `providers_0 "acme/app/wiring"`)
	assert.Contains(t, module, `providers_1 "acme/app/extra"`)
	assert.Contains(t, module, "providers_0.Providers...")
	assert.Contains(t, module, "alloy.ApplyProviders(Container, providerList...)")
}

func TestGenerateImportAliasCollision(t *testing.T) {
	a := service("AuthStore", "app/auth/store/store.go", "acme/app/auth/store", "store")
	b := service("BillingStore", "app/billing/store/store.go", "acme/app/billing/store", "store")

	out, err := Generate([]model.DiscoveredService{a, b}, nil, Options{PackageName: "generated"})
	require.NoError(t, err)

	module := string(out.Module)
	assert.Contains(t, module, `store_2 "acme/app/billing/store"`)
	assert.Contains(t, module, "*store.AuthStore")
	assert.Contains(t, module, "*store_2.BillingStore")
}

func TestGenerateTokenReferencedImports(t *testing.T) {
	svc := service("Connector", "app/conn/conn.go", "acme/app/conn", "conn")
	svc.Dependencies = []model.Dependency{{
		Kind:                  model.DepToken,
		Expression:            "alloy.FromToken(config.DSNToken)",
		ReferencedIdentifiers: []string{"config", "DSNToken"},
	}}
	svc.ReferencedImports = []model.ImportRef{{
		PackagePath: "acme/app/config",
		LocalName:   "config",
	}}

	out, err := Generate([]model.DiscoveredService{svc}, nil, Options{PackageName: "generated"})
	require.NoError(t, err)

	module := string(out.Module)
	assert.Contains(t, module, `"acme/app/config"`)
	assert.Contains(t, module, "alloy.FromToken(config.DSNToken)")
	// The identifier table references no token package.
	assert.NotContains(t, string(out.TypeDecl), `"acme/app/config"`)
}

func TestRewriteDeferredPathPreservesRetryOptions(t *testing.T) {
	dep := model.Dependency{
		Kind:        model.DepDeferred,
		Expression:  `alloy.Lazy(func() (any, error) { return alloy.Import("./d", "D") }, alloy.WithRetries(3), alloy.WithInitialBackoff(1))`,
		DeferredKey: "src/d.go::D",
	}
	rewritten := rewriteDeferredPath(dep)
	assert.Equal(t,
		`alloy.Lazy(func() (any, error) { return alloy.Import("src/d.go", "D") }, alloy.WithRetries(3), alloy.WithInitialBackoff(1))`,
		rewritten)
}
