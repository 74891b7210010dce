package cache

import (
	"encoding/json"
	"fmt"
	"log"
)

// Keys used by the quote store. Kept here so every backend and the store
// agree on them.
const (
	KeyQuotes   = "quotes"
	KeyMetadata = "metadata"
)

// Backend is the raw keyed byte storage underneath the adapter. A missing
// key is (nil, false, nil), not an error.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// PersistenceError wraps a backend or codec failure. It never crosses the
// adapter boundary; the adapter logs it and degrades.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Adapter is the never-throw JSON layer the quote store talks to. Any
// underlying storage failure is caught and logged; Get falls back to
// leaving the destination untouched, Set is best-effort.
type Adapter struct {
	backend Backend
}

// NewAdapter wraps a backend. A nil backend yields an adapter where every
// Get misses and every Set is a logged no-op, so callers without storage
// still work.
func NewAdapter(backend Backend) *Adapter {
	return &Adapter{backend: backend}
}

// Get decodes the value stored under key into out. Returns false (and
// leaves out alone) when the key is missing or the backend/codec failed.
func (a *Adapter) Get(key string, out any) bool {
	if a.backend == nil {
		return false
	}
	raw, ok, err := a.backend.Get(key)
	if err != nil {
		log.Printf("%v", &PersistenceError{Op: "get", Key: key, Err: err})
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("%v", &PersistenceError{Op: "decode", Key: key, Err: err})
		return false
	}
	return true
}

// Set stores value under key, best effort. Failures are logged, never
// returned.
func (a *Adapter) Set(key string, value any) {
	if a.backend == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("%v", &PersistenceError{Op: "encode", Key: key, Err: err})
		return
	}
	if err := a.backend.Set(key, raw); err != nil {
		log.Printf("%v", &PersistenceError{Op: "set", Key: key, Err: err})
	}
}

// Delete removes key, best effort.
func (a *Adapter) Delete(key string) {
	if a.backend == nil {
		return
	}
	if err := a.backend.Delete(key); err != nil {
		log.Printf("%v", &PersistenceError{Op: "delete", Key: key, Err: err})
	}
}
