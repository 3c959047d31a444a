// Package alloy is the resolution runtime for generated dependency-injection
// wiring. It owns the metadata registry, a lifetime-aware resolver with
// concurrent-singleton coalescing, deferred-import retry/backoff, a token
// value store, an identifier registry usable after code stripping, and a
// testing overlay (snapshot/restore, auto-mock propagation).
//
// # Basic usage
//
//	func init() {
//	    alloy.Singleton[Logger](alloy.WithFactory(NewConsoleLogger))
//	    alloy.Injectable[UserService](alloy.WithFactory(NewUserService),
//	        alloy.WithDeps(alloy.To[Logger]()))
//	}
//
//	container := alloy.NewContainer()
//	service := alloy.MustGet[UserService](container)
//
// The compiler in internal/scanner and internal/codegen observes the same
// Injectable/Singleton call shapes statically and can synthesize an
// equivalent registration file for projects that disable implicit
// init-time self-registration. Both paths populate the same process-wide
// metadata registry, so a generated file and a hand-written init() are
// interchangeable.
package alloy
