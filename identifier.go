package alloy

import (
	"fmt"
	"sync"
)

// Identifier is a stable opaque handle standing in for a ServiceKey, safe
// to use after a build step strips type names. Two Identifiers for the
// same key are pointer-equal: a process-wide intern table keyed by the
// identifier key string hands out one canonical value per key.
type Identifier struct {
	key string
}

// String returns the underlying identifier_key string.
func (id *Identifier) String() string { return id.key }

type identifierRegistry struct {
	mu         sync.RWMutex
	byKey      map[string]*Identifier
	keyToEntry map[ServiceKey]*Identifier
	entryToKey map[*Identifier]ServiceKey
}

func newIdentifierRegistry() *identifierRegistry {
	return &identifierRegistry{
		byKey:      make(map[string]*Identifier),
		keyToEntry: make(map[ServiceKey]*Identifier),
		entryToKey: make(map[*Identifier]ServiceKey),
	}
}

// register is idempotent per ServiceKey. If explicit is non-empty and the
// key already has a different Identifier bound under a different explicit
// string, that's a fatal configuration error; reusing the same explicit
// string for the same key returns the existing canonical Identifier.
func (r *identifierRegistry) register(key ServiceKey, explicit string) (*Identifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.keyToEntry[key]; ok {
		if explicit != "" && id.key != explicit {
			return nil, fmt.Errorf("alloy: cannot rebind %s from identifier %q to %q", key, id.key, explicit)
		}
		return id, nil
	}

	idKey := explicit
	if idKey == "" {
		idKey = fmt.Sprintf("alloy:anon/%s", key.String())
	}

	// Reuse an interned-but-unbound Identifier so a companion constants
	// file and the registration path hand out the same pointer.
	id, ok := r.byKey[idKey]
	if ok {
		if boundKey, bound := r.entryToKey[id]; bound && boundKey != key {
			return nil, fmt.Errorf("alloy: identifier %q is already bound to %s, cannot rebind to %s", idKey, boundKey, key)
		}
	} else {
		id = &Identifier{key: idKey}
		r.byKey[idKey] = id
	}
	r.keyToEntry[key] = id
	r.entryToKey[id] = key
	return id, nil
}

// intern returns the canonical Identifier for idKey without binding it
// to a ServiceKey, the Symbol.for half of the registry: two interns of
// the same key are pointer-equal, and a later register with the same
// explicit key binds this same pointer.
func (r *identifierRegistry) intern(idKey string) *Identifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[idKey]; ok {
		return id
	}
	id := &Identifier{key: idKey}
	r.byKey[idKey] = id
	return id
}

func (r *identifierRegistry) lookup(idKey string) (ServiceKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[idKey]
	if !ok {
		return ServiceKey{}, false
	}
	key, ok := r.entryToKey[id]
	return key, ok
}

func (r *identifierRegistry) identifierFor(key ServiceKey) (*Identifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.keyToEntry[key]
	return id, ok
}

func (r *identifierRegistry) snapshot() *identifierRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := newIdentifierRegistry()
	for k, v := range r.byKey {
		out.byKey[k] = v
	}
	for k, v := range r.keyToEntry {
		out.keyToEntry[k] = v
	}
	for k, v := range r.entryToKey {
		out.entryToKey[k] = v
	}
	return out
}

func (r *identifierRegistry) restore(snap *identifierRegistry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey = snap.byKey
	r.keyToEntry = snap.keyToEntry
	r.entryToKey = snap.entryToKey
}

// globalIdentifiers is the process-wide identifier registry; like the
// metadata registry it outlives any one container.
var globalIdentifiers = newIdentifierRegistry()

// RegisterIdentifier registers (or looks up) the stable Identifier for T,
// optionally pinning an explicit identifier key.
func RegisterIdentifier[T any](explicit string) (*Identifier, error) {
	return globalIdentifiers.register(KeyOf[T](), explicit)
}

// MustIdentifier is RegisterIdentifier panicking on a rebind conflict,
// the form generated identifier tables use: a conflict there means two
// generated files disagree, which is unrecoverable misgeneration.
func MustIdentifier[T any](explicit string) *Identifier {
	id, err := RegisterIdentifier[T](explicit)
	if err != nil {
		panic(err)
	}
	return id
}

// IdentifierFor returns T's registered Identifier without creating one.
func IdentifierFor[T any]() (*Identifier, bool) {
	return globalIdentifiers.identifierFor(KeyOf[T]())
}

// InternIdentifier returns the canonical Identifier for an identifier
// key without binding a service to it, which is how a library's published
// identifier constants share identity with the consumer's registrations.
func InternIdentifier(key string) *Identifier {
	return globalIdentifiers.intern(key)
}
