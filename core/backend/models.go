package backend

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/access"
	"github.com/lowkey-tech/basis/core/logger"
	"github.com/lowkey-tech/basis/core/model"
)

// handleModelRoutes adds the administrative model definition routes
func (b *Backend) handleModelRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("  handle model routes: /models GET,POST")
	rlog.Debugln("  handle model routes: /models/{model} GET,DELETE")

	router.HandleFunc("/models", b.modelsList).Methods(http.MethodGet)
	router.HandleFunc("/models", b.modelsPublish).Methods(http.MethodPost)
	router.HandleFunc("/models/{model}", b.modelsGet).Methods(http.MethodGet)
	router.HandleFunc("/models/{model}", b.modelsDelete).Methods(http.MethodDelete)
}

// requireAdmin gates the mutating model routes: publishing and deleting
// definitions is reserved for the administrative role.
func requireAdmin(r *http.Request) error {
	principal := access.PrincipalFromContext(r.Context())
	if principal == nil || principal.Role == "" {
		return core.Forbiddenf("missing authentication claims")
	}
	if principal.Role != model.RoleAdmin {
		return core.Forbiddenf("role '%s' may not modify model definitions", principal.Role)
	}
	return nil
}

func (b *Backend) modelsList(w http.ResponseWriter, r *http.Request) {
	if access.PrincipalFromContext(r.Context()) == nil {
		writeError(w, r, core.Forbiddenf("missing authentication claims"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": b.Registry.Names()})
}

func (b *Backend) modelsGet(w http.ResponseWriter, r *http.Request) {
	if access.PrincipalFromContext(r.Context()) == nil {
		writeError(w, r, core.Forbiddenf("missing authentication claims"))
		return
	}
	definition, err := b.Registry.Get(mux.Vars(r)["model"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": definition})
}

func (b *Backend) modelsPublish(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, core.BadRequestf("cannot read request body"))
		return
	}
	definition, err := model.Parse(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := b.synthesizer.Publish(definition)
	if err != nil {
		writeError(w, r, err)
		return
	}

	operation := core.OperationUpdate
	status := http.StatusOK
	if result.Created {
		operation = core.OperationCreate
		status = http.StatusCreated
	}
	b.notify("models/"+definition.Name, operation, definition)

	message := "already up to date"
	if result.Created {
		message = fmt.Sprintf("model '%s' created", definition.Name)
	} else if len(result.Changes) > 0 {
		message = fmt.Sprintf("model '%s' migrated", definition.Name)
	}
	writeJSON(w, status, map[string]interface{}{
		"message": message,
		"created": result.Created,
		"changes": result.Changes,
	})
}

func (b *Backend) modelsDelete(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	name := mux.Vars(r)["model"]
	if err := b.synthesizer.Delete(name); err != nil {
		writeError(w, r, err)
		return
	}
	b.notify("models/"+name, core.OperationDelete, map[string]string{"name": name})
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("model '%s' deleted", name)})
}
