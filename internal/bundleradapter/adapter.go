// Package bundleradapter is the glue between a filesystem watch loop and
// the discovery/codegen pipeline: watch-triggered regeneration of a real
// file on disk, the closest faithful Go analogue of a host bundler's
// virtual-module-and-HMR machinery. Grounded on fsnotify's idiomatic
// watcher/event-loop usage, the corpus's only file-watch dependency.
package bundleradapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alloyhq/alloy/internal/codegen"
	"github.com/alloyhq/alloy/internal/discovery"
)

// Adapter watches a project root for .go file changes, keeps
// internal/discovery's Store in sync, and regenerates the wiring module
// on demand.
type Adapter struct {
	root      string
	store     *discovery.Store
	opts      codegen.Options
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	sessionID string

	mu        sync.Mutex
	lastWrite []byte
	onChange  func()
}

// New creates an Adapter rooted at dir, using store for incremental scan
// results and opts for codegen package naming. Every log line carries
// the adapter's session id so interleaved output from concurrent watch
// sessions stays attributable.
func New(dir string, store *discovery.Store, opts codegen.Options, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("bundleradapter: new watcher: %w", err)
	}
	sessionID := uuid.NewString()
	return &Adapter{
		root:      dir,
		store:     store,
		opts:      opts,
		logger:    logger.With(zap.String("session", sessionID)),
		watcher:   watcher,
		sessionID: sessionID,
	}, nil
}

// SessionID returns the adapter's watch-session id.
func (a *Adapter) SessionID() string { return a.sessionID }

// OnChange registers a callback invoked after each processed file event,
// typically a regeneration closure.
func (a *Adapter) OnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Watch walks root adding every directory to the watcher, then primes the
// store with an initial scan of every .go file found.
func (a *Adapter) Watch() error {
	err := filepath.WalkDir(a.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != a.root {
				return filepath.SkipDir
			}
			return a.watcher.Add(path)
		}
		if strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go") {
			a.scanFile(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bundleradapter: walk %s: %w", a.root, err)
	}
	return nil
}

// Run drains watcher events until the watcher is closed. fsnotify
// coalesces rapid successive writes to the same path into a burst of
// events this loop still processes one at a time, but Update/Remove are
// idempotent against a redundant rescan of unchanged bytes.
func (a *Adapter) Run() {
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".go") || strings.HasSuffix(event.Name, "_test.go") {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				a.scanFile(event.Name)
			case event.Op&fsnotify.Remove != 0:
				a.store.Remove(event.Name)
			default:
				continue
			}
			a.notifyChange()
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (a *Adapter) Close() error { return a.watcher.Close() }

func (a *Adapter) notifyChange() {
	a.mu.Lock()
	fn := a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *Adapter) scanFile(path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		a.logger.Warn("read failed", zap.String("path", path), zap.Error(err))
		return
	}
	if _, _, _, _, err := a.store.Update(path, src); err != nil {
		a.logger.Warn("scan failed", zap.String("path", path), zap.Error(err))
	}
}

// ResolveVirtual maps a project-relative id to the path codegen output
// is addressed by, there being no bundler virtual-module id space to
// translate through.
func (a *Adapter) ResolveVirtual(id string) string {
	return filepath.ToSlash(filepath.Join(a.root, id))
}

// OnBuildStart clears accumulated discovery state at the start of a
// fresh build.
func (a *Adapter) OnBuildStart() {
	a.store.Clear()
}

// OnLoad generates the wiring module and identifier table for the
// current discovery state, writing the identifier table to declDir and
// returning the module bytes.
func (a *Adapter) OnLoad(declDir string) ([]byte, error) {
	out, err := codegen.Generate(a.store.Services(), a.store.DeferredKeys(), a.opts)
	if err != nil {
		return nil, err
	}

	if declDir != "" {
		if err := os.MkdirAll(declDir, 0o755); err != nil {
			return nil, fmt.Errorf("bundleradapter: mkdir %s: %w", declDir, err)
		}
		declPath := filepath.Join(declDir, "service_identifiers.go")
		if err := os.WriteFile(declPath, out.TypeDecl, 0o644); err != nil {
			return nil, fmt.Errorf("bundleradapter: write %s: %w", declPath, err)
		}
	}

	a.mu.Lock()
	a.lastWrite = out.Module
	a.mu.Unlock()

	return out.Module, nil
}

// LastModule returns the module bytes from the most recent OnLoad call.
func (a *Adapter) LastModule() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastWrite
}
