package alloy_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alloyhq/alloy"
)

// =============================================================================
// Provider Application Tests
// =============================================================================

type Cache struct {
	Addr any
}

type Indexer struct {
	Cache *Cache
}

func TestApplyProvidersOrder(t *testing.T) {
	reset(t)

	addrToken := alloy.CreateToken("cache address")

	c := alloy.NewContainer()
	err := alloy.ApplyProviders(c,
		alloy.ProvideService[*Indexer](alloy.LifetimeTransient,
			func(cache *Cache) *Indexer { return &Indexer{Cache: cache} },
			alloy.To[*Cache]()),
		// Values bind first regardless of argument order, so the cache
		// factory below can read the token during construction.
		alloy.ProvideValue(addrToken, "localhost:6379"),
		alloy.ProvideService[*Cache](alloy.LifetimeSingleton,
			func(addr any) *Cache { return &Cache{Addr: addr} },
			alloy.FromToken(addrToken)),
	)
	if err != nil {
		t.Fatalf("apply providers: %v", err)
	}

	idx := alloy.MustGet[*Indexer](c)
	if idx.Cache == nil || idx.Cache.Addr != "localhost:6379" {
		t.Fatalf("provider-declared graph should resolve, got %+v", idx.Cache)
	}
}

func TestApplyProvidersDetectsCycle(t *testing.T) {
	reset(t)

	c := alloy.NewContainer()
	err := alloy.ApplyProviders(c,
		alloy.ProvideService[*Cache](alloy.LifetimeTransient,
			func(i *Indexer) *Cache { return &Cache{} },
			alloy.To[*Indexer]()),
		alloy.ProvideService[*Indexer](alloy.LifetimeTransient,
			func(ca *Cache) *Indexer { return &Indexer{Cache: ca} },
			alloy.To[*Cache]()),
	)

	var circ alloy.ErrCircularDependency
	if !errors.As(err, &circ) {
		t.Fatalf("expected cycle pre-check to fail the batch, got %v", err)
	}

	// The batch must not be partially applied.
	if _, getErr := alloy.Get[*Cache](c); getErr == nil {
		t.Error("no provider from a rejected batch should be registered")
	}
}

func TestDeferredServiceProviderSuppressesWarning(t *testing.T) {
	reset(t)

	core, logs := observer.New(zap.WarnLevel)
	c := alloy.NewContainer(alloy.WithLogger(zap.New(core)))
	err := alloy.ApplyProviders(c,
		alloy.ProvideDeferredService[*Cache](alloy.LifetimeSingleton,
			alloy.Lazy(func() (any, error) {
				return func() *Cache { return &Cache{Addr: "deferred"} }, nil
			})),
	)
	if err != nil {
		t.Fatalf("apply providers: %v", err)
	}

	cache := alloy.MustGet[*Cache](c)
	if cache.Addr != "deferred" {
		t.Fatalf("deferred-service provider should construct through its import, got %+v", cache)
	}
	if logs.Len() != 0 {
		t.Errorf("provider-registered deferred service should not log the factory warning, got %d entries", logs.Len())
	}
}

// =============================================================================
// Snapshot / Restore Tests
// =============================================================================

func TestSnapshotRestore(t *testing.T) {
	reset(t)

	alloy.Singleton[*Cache](alloy.WithFactory(func() *Cache { return &Cache{} }))
	snap := alloy.Snapshot()

	alloy.Injectable[*Indexer](alloy.WithFactory(func(c *Cache) *Indexer { return &Indexer{Cache: c} }),
		alloy.WithDeps(alloy.To[*Cache]()))
	alloy.Export("app/cache.go", "Cache", alloy.KeyOf[*Cache]())

	alloy.Restore(snap)

	c := alloy.NewContainer()
	if _, err := alloy.Get[*Indexer](c); err == nil {
		t.Error("restore should remove registrations made after the snapshot")
	}
	if _, err := alloy.Import("app/cache.go", "Cache"); err == nil {
		t.Error("restore should undo importer substitutions")
	}
	if _, err := alloy.Get[*Cache](c); err != nil {
		t.Errorf("pre-snapshot registrations should survive restore: %v", err)
	}
}

// =============================================================================
// Test Container / Auto-Mock Tests
// =============================================================================

type PaymentGateway struct {
	Charged []int
}

func (g *PaymentGateway) Charge(cents int) { g.Charged = append(g.Charged, cents) }

type Checkout struct {
	Gateway *PaymentGateway
	Cache   *Cache
}

func NewCheckout(g *PaymentGateway, c *Cache) *Checkout {
	return &Checkout{Gateway: g, Cache: c}
}

func TestCreateTestContainerWithOverride(t *testing.T) {
	reset(t)

	alloy.Singleton[*PaymentGateway](alloy.WithFactory(func() *PaymentGateway {
		t.Fatal("real gateway factory should not run in tests")
		return nil
	}))
	alloy.Singleton[*Cache](alloy.WithFactory(func() *Cache { return &Cache{} }))
	alloy.Injectable[*Checkout](alloy.WithFactory(NewCheckout),
		alloy.WithDeps(alloy.To[*PaymentGateway](), alloy.To[*Cache]()))

	fake := &PaymentGateway{}
	c, err := alloy.CreateTestContainer(alloy.WithOverride[*PaymentGateway](fake))
	if err != nil {
		t.Fatalf("create test container: %v", err)
	}

	checkout := alloy.MustGet[*Checkout](c)
	checkout.Gateway.Charge(199)
	if len(fake.Charged) != 1 || fake.Charged[0] != 199 {
		t.Error("the overridden gateway should receive the call")
	}
}

func TestCreateTestContainerAutoMock(t *testing.T) {
	reset(t)

	alloy.Singleton[*PaymentGateway](alloy.WithFactory(func() *PaymentGateway {
		t.Fatal("real gateway factory should not run under auto-mock")
		return nil
	}))
	alloy.Singleton[*Cache](alloy.WithFactory(func() *Cache {
		t.Fatal("real cache factory should not run under auto-mock")
		return nil
	}))
	alloy.Injectable[*Checkout](alloy.WithFactory(NewCheckout),
		alloy.WithDeps(alloy.To[*PaymentGateway](), alloy.To[*Cache]()))

	mocked := make(map[string]bool)
	c, err := alloy.CreateTestContainer(alloy.WithAutoMock[*Checkout](func(key alloy.ServiceKey) (any, bool) {
		mocked[key.String()] = true
		switch key {
		case alloy.KeyOf[*PaymentGateway]():
			return &PaymentGateway{}, true
		case alloy.KeyOf[*Cache]():
			return &Cache{Addr: "mock"}, true
		}
		return alloy.ZeroValueMock(key)
	}))
	if err != nil {
		t.Fatalf("create test container: %v", err)
	}

	checkout := alloy.MustGet[*Checkout](c)
	if checkout.Gateway == nil || checkout.Cache == nil {
		t.Fatal("auto-mock should supply every transitive constructor dependency")
	}
	if len(mocked) != 2 {
		t.Errorf("expected 2 dependencies walked, got %d: %v", len(mocked), mocked)
	}
}

type Ledger struct {
	Notes []string
}

type Biller struct {
	Gateway *PaymentGateway
	Ledger  *Ledger
}

func NewBiller(g *PaymentGateway, l *Ledger) *Biller {
	return &Biller{Gateway: g, Ledger: l}
}

func TestCreateTestContainerAutoMockDeferredDependency(t *testing.T) {
	reset(t)

	alloy.Singleton[*PaymentGateway](alloy.WithFactory(func() *PaymentGateway {
		t.Fatal("real gateway factory should not run under auto-mock")
		return nil
	}))
	alloy.Singleton[*Ledger](alloy.WithFactory(func() *Ledger {
		t.Fatal("real ledger factory should not run under auto-mock")
		return nil
	}))
	alloy.Export("app/ledger.go", "Ledger", alloy.KeyOf[*Ledger]())

	importCount := 0
	alloy.Injectable[*Biller](alloy.WithFactory(NewBiller),
		alloy.WithDeps(
			alloy.To[*PaymentGateway](),
			alloy.DeferredDep(alloy.Lazy(func() (any, error) {
				importCount++
				return alloy.Import("app/ledger.go", "Ledger")
			}))))

	fakeLedger := &Ledger{Notes: []string{"mocked"}}
	c, err := alloy.CreateTestContainer(alloy.WithAutoMock[*Biller](func(key alloy.ServiceKey) (any, bool) {
		switch key {
		case alloy.KeyOf[*PaymentGateway]():
			return &PaymentGateway{}, true
		case alloy.KeyOf[*Ledger]():
			return fakeLedger, true
		}
		return alloy.ZeroValueMock(key)
	}))
	if err != nil {
		t.Fatalf("create test container: %v", err)
	}
	if importCount != 1 {
		t.Fatalf("the walk should probe the importer exactly once, probed %d times", importCount)
	}

	biller := alloy.MustGet[*Biller](c)
	if biller.Ledger != fakeLedger {
		t.Error("the deferred dependency should resolve to the mock")
	}
	if biller.Gateway == nil {
		t.Error("the constructor dependency should resolve to its mock")
	}
	if importCount != 1 {
		t.Errorf("resolution should use the substituted importer, not the real one; importer ran %d times", importCount)
	}
}

// =============================================================================
// Identifier Registry Tests
// =============================================================================

func TestIdentifierIdempotent(t *testing.T) {
	reset(t)

	a, err := alloy.RegisterIdentifier[*Cache]("alloy:app/cache.go#Cache")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := alloy.RegisterIdentifier[*Cache]("alloy:app/cache.go#Cache")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if a != b {
		t.Error("re-registering the same constructor should return the canonical identifier")
	}
}

func TestInternIdentifierSharesIdentityWithRegistration(t *testing.T) {
	reset(t)

	interned := alloy.InternIdentifier("alloy:app/cache.go#Cache")
	if alloy.InternIdentifier("alloy:app/cache.go#Cache") != interned {
		t.Fatal("interning the same key twice should return the same pointer")
	}

	registered, err := alloy.RegisterIdentifier[*Cache]("alloy:app/cache.go#Cache")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered != interned {
		t.Error("a registration under an interned key should bind the interned identifier")
	}
}

func TestIdentifierRebindFails(t *testing.T) {
	reset(t)

	if _, err := alloy.RegisterIdentifier[*Cache]("alloy:app/cache.go#Cache"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := alloy.RegisterIdentifier[*Indexer]("alloy:app/cache.go#Cache"); err == nil {
		t.Error("binding an existing identifier to a different constructor should fail")
	}
	if _, err := alloy.RegisterIdentifier[*Cache]("alloy:other/key.go#Cache"); err == nil {
		t.Error("rebinding a constructor to a different explicit identifier should fail")
	}
}
