package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alloyhq/alloy/internal/model"
)

const annotatedSource = `package services

import "github.com/alloyhq/alloy"

type Database struct{}

func NewDatabase() *Database { return &Database{} }

type UserService struct{ db *Database }

func NewUserService(db *Database) *UserService { return &UserService{db: db} }

func init() {
	alloy.Singleton[*Database](alloy.WithFactory(NewDatabase))
	alloy.Injectable[*UserService](
		alloy.WithFactory(NewUserService),
		alloy.WithDeps(alloy.To[*Database]()),
	)
}
`

func TestParseFileDiscoversAnnotatedServices(t *testing.T) {
	res, err := ParseFile("app/services/user.go", []byte(annotatedSource))
	require.NoError(t, err)
	require.Len(t, res.Services, 2)

	db := res.Services[0]
	assert.Equal(t, "Database", db.ClassName)
	assert.Equal(t, "*Database", db.TypeExpr)
	assert.Equal(t, "services", db.PackageName)
	assert.Equal(t, "app/services/user.go", db.FilePath)
	assert.Equal(t, model.ScopeSingleton, db.Scope)
	assert.Equal(t, "alloy:services/app/services/user.go#Database", db.IdentifierKey)
	assert.Empty(t, db.Dependencies)

	user := res.Services[1]
	assert.Equal(t, "UserService", user.ClassName)
	assert.Equal(t, model.ScopeTransient, user.Scope)
	require.Len(t, user.Dependencies, 1)
	dep := user.Dependencies[0]
	assert.Equal(t, model.DepConstructor, dep.Kind)
	assert.Equal(t, "alloy.To[*Database]()", dep.Expression)
	assert.Equal(t, "Database", dep.TargetClassName)
	assert.Contains(t, dep.ReferencedIdentifiers, "Database")
}

func TestParseFileVarDeclarationForm(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

type Cache struct{}

var _ = alloy.Singleton[*Cache](alloy.WithFactory(func() *Cache { return &Cache{} }))
`
	res, err := ParseFile("app/cache.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)
	assert.Equal(t, "Cache", res.Services[0].ClassName)
	assert.Equal(t, model.ScopeSingleton, res.Services[0].Scope)
}

func TestParseFileOptionsLiteralScope(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

type Pool struct{}

func init() {
	alloy.Injectable[*Pool](alloy.WithOptions(alloy.Options{Scope: alloy.LifetimeSingleton}))
}
`
	res, err := ParseFile("app/pool.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)
	assert.Equal(t, model.ScopeSingleton, res.Services[0].Scope)
}

func TestParseFileWithScopeOption(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

type Pool struct{}

func init() {
	alloy.Injectable[*Pool](alloy.WithScope(alloy.LifetimeSingleton))
}
`
	res, err := ParseFile("app/pool.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)
	assert.Equal(t, model.ScopeSingleton, res.Services[0].Scope)
}

func TestParseFileLazyDependency(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

type ReportService struct{}

func init() {
	alloy.Injectable[*ReportService](
		alloy.WithFactory(NewReportService),
		alloy.WithDeps(alloy.DeferredDep(alloy.Lazy(func() (any, error) {
			return alloy.Import("./reports", "ReportRunner")
		}, alloy.WithRetries(2), alloy.WithInitialBackoff(5), alloy.WithFactor(1.5)))),
	)
}
`
	res, err := ParseFile("app/services/report.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)

	deps := res.Services[0].Dependencies
	require.Len(t, deps, 1)
	dep := deps[0]
	assert.Equal(t, model.DepDeferred, dep.Kind)
	assert.Equal(t, "app/services/reports.go::ReportRunner", dep.DeferredKey)
	assert.Equal(t, 2, dep.Retry.AttemptsAfterFirst)
	assert.Equal(t, 5, dep.Retry.InitialBackoffMS)
	assert.InDelta(t, 1.5, dep.Retry.Factor, 0.001)
	assert.Contains(t, dep.Expression, `alloy.Import("./reports", "ReportRunner")`)

	assert.Contains(t, res.DeferredKeys, "app/services/reports.go::ReportRunner")
}

func TestParseFileNonRelativeLazyYieldsNoKey(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

type ReportService struct{}

func init() {
	alloy.Injectable[*ReportService](
		alloy.WithDeps(alloy.DeferredDep(alloy.Lazy(func() (any, error) {
			return alloy.Import("github.com/acme/reports", "ReportRunner")
		}))),
	)
}
`
	res, err := ParseFile("app/report.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)
	assert.Empty(t, res.DeferredKeys)
	assert.Empty(t, res.Services[0].Dependencies[0].DeferredKey)
}

func TestParseFileNonLiteralLazyArgumentIsConservative(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

type ReportService struct{}

var target = "./reports"

func init() {
	alloy.Injectable[*ReportService](
		alloy.WithDeps(alloy.DeferredDep(alloy.Lazy(func() (any, error) {
			return alloy.Import(target, "ReportRunner")
		}))),
	)
}
`
	res, err := ParseFile("app/report.go", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, res.DeferredKeys)
}

func TestParseFileFactoryImport(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

type HeavyJob struct{ alloy.FactoryStub }

func init() {
	alloy.Singleton[HeavyJob](alloy.WithFactoryImport(alloy.Lazy(func() (any, error) {
		return alloy.Import("./heavy", "HeavyJob")
	})))
}
`
	res, err := ParseFile("app/jobs/heavy_stub.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)

	svc := res.Services[0]
	assert.True(t, svc.FactoryDeferred)
	require.NotNil(t, svc.FactoryImport)
	assert.Equal(t, "app/jobs/heavy.go::HeavyJob", svc.FactoryImport.DeferredKey)
	assert.Contains(t, res.DeferredKeys, "app/jobs/heavy.go::HeavyJob")
}

func TestParseFileTokenDependency(t *testing.T) {
	src := `package services

import "github.com/alloyhq/alloy"

var DSNToken = alloy.CreateToken("dsn")

type Connector struct{}

func init() {
	alloy.Injectable[*Connector](alloy.WithDeps(alloy.FromToken(DSNToken)))
}
`
	res, err := ParseFile("app/conn.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)
	deps := res.Services[0].Dependencies
	require.Len(t, deps, 1)
	assert.Equal(t, model.DepToken, deps[0].Kind)
	assert.Equal(t, "alloy.FromToken(DSNToken)", deps[0].Expression)
	assert.Contains(t, deps[0].ReferencedIdentifiers, "DSNToken")
}

func TestParseFileReferencedImports(t *testing.T) {
	src := `package services

import (
	"github.com/alloyhq/alloy"
	"acme/app/config"
)

type Connector struct{}

func init() {
	alloy.Injectable[*Connector](alloy.WithDeps(alloy.FromToken(config.DSNToken)))
}
`
	res, err := ParseFile("app/conn.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, res.Services, 1)

	refs := res.Services[0].ReferencedImports
	require.NotEmpty(t, refs)
	paths := make([]string, 0, len(refs))
	for _, r := range refs {
		paths = append(paths, r.PackagePath)
	}
	assert.Contains(t, paths, "acme/app/config")
}

func TestParseFileUnannotatedClassesIgnored(t *testing.T) {
	src := `package services

type Plain struct{}

func helper() {}
`
	res, err := ParseFile("app/plain.go", []byte(src))
	require.NoError(t, err)
	assert.Empty(t, res.Services)
	assert.Empty(t, res.DeferredKeys)
}

func TestParseFileSyntaxErrorPropagates(t *testing.T) {
	_, err := ParseFile("app/broken.go", []byte("package services\n\nfunc {"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.go")
}

func TestParseFileDeterministic(t *testing.T) {
	a, err := ParseFile("app/services/user.go", []byte(annotatedSource))
	require.NoError(t, err)
	b, err := ParseFile("app/services/user.go", []byte(annotatedSource))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
