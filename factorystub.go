package alloy

// FactoryStub is embedded by a codegen-emitted placeholder type for a
// factory-deferred service: an identity that stays stable while the real
// constructor is fetched through the factory import. Codegen emits the
// placeholder with no methods of its own, so constructing it directly
// produces a zero value and raises no error.
type FactoryStub struct{}

// AssertNotInstantiated panics with ErrPlaceholderInstantiated. Codegen
// emits no calls to it; a hand-written method on a placeholder type can
// call it to make direct use panic.
func (FactoryStub) AssertNotInstantiated(key ServiceKey) {
	panic(ErrPlaceholderInstantiated{Key: key})
}
