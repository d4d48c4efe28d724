/*Package backend is the generic REST surface of the platform.

It wires the model registry, the schema synthesizer, the dynamic query
engine and the access decision point onto a mux router: administrative
model routes under /models and per-model CRUD routes under /api. No code
is generated per model; every request is served off the registry entry
for its model name.
*/
package backend

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/access"
	"github.com/lowkey-tech/basis/core/csql"
	"github.com/lowkey-tech/basis/core/logger"
	"github.com/lowkey-tech/basis/core/model"
	"github.com/lowkey-tech/basis/core/query"
	"github.com/lowkey-tech/basis/core/registry"
	"github.com/lowkey-tech/basis/core/schema"
)

// Backend is the generic rest backend
type Backend struct {
	router      *mux.Router
	store       *model.Store
	notifier    core.Notifier
	synthesizer *schema.Synthesizer
	engine      *query.Engine
	decider     *access.Decider

	// Registry is the model definition registry for this backend
	Registry *registry.Registry
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// ModelsDir is the directory of the durable definition store. This
	// is mandatory.
	ModelsDir string
	// Notifier receives model and record lifecycle notifications. This
	// is optional.
	Notifier core.Notifier
}

// MustNew realizes the actual backend. It hydrates the registry from the
// definition store and adds all routes to the router. It panics on
// invalid construction, this is a configuration error.
func MustNew(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.ModelsDir == "" {
		panic("ModelsDir is missing")
	}

	store := model.MustNewStore(bb.ModelsDir)
	reg := registry.MustNew(store)
	engine := query.New(bb.DB)

	b := &Backend{
		router:      bb.Router,
		store:       store,
		notifier:    bb.Notifier,
		synthesizer: schema.New(bb.DB, store, reg),
		engine:      engine,
		decider:     access.NewDecider(reg, engine),
		Registry:    reg,
	}
	b.handleModelRoutes(bb.Router)
	b.handleRecordRoutes(bb.Router)
	return b
}

// WatchStore starts the definition store watcher so that external edits
// to the store take effect without a restart.
func (b *Backend) WatchStore(ctx context.Context) error {
	return b.Registry.Watch(ctx)
}

// notify sends a lifecycle notification if a notifier is configured
func (b *Backend) notify(resource string, operation core.Operation, payload interface{}) {
	if b.notifier == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	b.notifier.Notify(resource, operation, data)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps the engine's error taxonomy to HTTP status codes.
// Internal causes are logged server-side with full detail, the client
// only gets the single-line message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch core.KindOf(err) {
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindBadRequest:
		status = http.StatusBadRequest
	case core.KindForbidden:
		status = http.StatusForbidden
	default:
		logger.FromContext(r.Context()).WithError(err).Errorln("internal error on", r.Method, r.URL.Path)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
