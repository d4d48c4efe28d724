/*Package registry provides the authoritative in-memory lookup of model
definitions.

The registry is hydrated from the durable definition store and kept in
sync with it: the store directory is watched for document changes, and
every add, modify or remove event triggers a debounced reload or evict
for the affected model. External edits to the store therefore take
effect without a restart, at the cost of eventual consistency. Reloads
driven by the publish workflow are synchronous and not subject to the
watch delay.
*/
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/logger"
	"github.com/lowkey-tech/basis/core/model"
)

// DefaultDebounce is how long the watcher waits for rapid successive
// writes to the same document to settle before reloading it.
const DefaultDebounce = 250 * time.Millisecond

// Registry is the in-memory model definition cache
type Registry struct {
	store    *model.Store
	debounce time.Duration

	mutex sync.RWMutex
	cache map[string]*model.Definition

	timersMutex sync.Mutex
	timers      map[string]*time.Timer

	// applyMutex serializes watch-driven reloads so concurrent timer
	// callbacks never interleave partial updates
	applyMutex sync.Mutex
}

// New creates a registry backed by the given definition store
func New(store *model.Store) *Registry {
	return &Registry{
		store:    store,
		debounce: DefaultDebounce,
		cache:    make(map[string]*model.Definition),
		timers:   make(map[string]*time.Timer),
	}
}

// MustNew creates a registry and hydrates it from the store. It panics if
// the store cannot be enumerated, this is a construction time function.
func MustNew(store *model.Store) *Registry {
	r := New(store)
	if err := r.LoadAll(); err != nil {
		panic(err)
	}
	return r
}

// Get returns the definition for the given model name. Lookups are by
// exact, case-sensitive logical name as published.
func (r *Registry) Get(name string) (*model.Definition, error) {
	r.mutex.RLock()
	definition, ok := r.cache[name]
	r.mutex.RUnlock()
	if !ok {
		return nil, core.NotFoundf("unknown model '%s'", name)
	}
	return definition, nil
}

// Names returns the sorted names of all registered models
func (r *Registry) Names() []string {
	r.mutex.RLock()
	names := make([]string, 0, len(r.cache))
	for name := range r.cache {
		names = append(names, name)
	}
	r.mutex.RUnlock()
	sort.Strings(names)
	return names
}

// All returns all registered definitions, sorted by name
func (r *Registry) All() []*model.Definition {
	names := r.Names()
	definitions := make([]*model.Definition, 0, len(names))
	r.mutex.RLock()
	for _, name := range names {
		definitions = append(definitions, r.cache[name])
	}
	r.mutex.RUnlock()
	return definitions
}

// Load reads the definition document for a model from the store and
// installs it atomically. A malformed document leaves the previous cache
// entry untouched; the registry never crashes on bad input.
func (r *Registry) Load(name string) error {
	definition, err := r.store.Read(name)
	if err != nil {
		return err
	}
	definition.Normalize()
	r.mutex.Lock()
	r.cache[name] = definition
	r.mutex.Unlock()
	return nil
}

// Evict removes a model from the cache
func (r *Registry) Evict(name string) {
	r.mutex.Lock()
	delete(r.cache, name)
	r.mutex.Unlock()
}

// LoadAll hydrates the registry from all documents in the store. It is
// called once at startup. Malformed documents are logged and skipped.
func (r *Registry) LoadAll() error {
	names, err := r.store.Names()
	if err != nil {
		return err
	}
	rlog := logger.Default()
	for _, name := range names {
		if err := r.Load(name); err != nil {
			rlog.WithError(err).Errorln("skipping malformed definition document:", name)
		}
	}
	return nil
}

// Watch starts watching the store directory for document changes. Events
// for the same model are debounced so that rapid successive writes
// collapse into one reload. Watch returns once the watcher is installed
// and stops when the context is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return core.Internalf(err, "cannot create store watcher")
	}
	if err := watcher.Add(r.store.Dir()); err != nil {
		watcher.Close()
		return core.Internalf(err, "cannot watch definition store %s", r.store.Dir())
	}

	rlog := logger.Default()
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, isDocument := model.NameFromPath(event.Name)
				if !isDocument {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					r.schedule(name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				rlog.WithError(err).Errorln("definition store watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// schedule arms the debounce timer for a model. If a timer is already
// pending, it is reset.
func (r *Registry) schedule(name string) {
	r.timersMutex.Lock()
	defer r.timersMutex.Unlock()
	if timer, ok := r.timers[name]; ok {
		timer.Reset(r.debounce)
		return
	}
	r.timers[name] = time.AfterFunc(r.debounce, func() {
		r.timersMutex.Lock()
		delete(r.timers, name)
		r.timersMutex.Unlock()
		r.apply(name)
	})
}

// apply reconciles the cache entry for a model with the store: a readable
// document is reloaded, a missing document evicts the entry, a malformed
// document is logged and the previous entry retained.
func (r *Registry) apply(name string) {
	r.applyMutex.Lock()
	defer r.applyMutex.Unlock()

	rlog := logger.Default()
	err := r.Load(name)
	if err == nil {
		rlog.Infoln("registry reloaded model:", name)
		return
	}
	if core.KindOf(err) == core.KindNotFound {
		r.Evict(name)
		rlog.Infoln("registry evicted model:", name)
		return
	}
	rlog.WithError(err).Errorln("registry keeps previous definition for model:", name)
}
