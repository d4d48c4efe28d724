package backend

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/access"
	"github.com/lowkey-tech/basis/core/logger"
	"github.com/lowkey-tech/basis/core/model"
	"github.com/lowkey-tech/basis/core/query"
)

// handleRecordRoutes adds the dynamic CRUD routes. One set of handlers
// serves every registered model.
func (b *Backend) handleRecordRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("  handle record routes: /api/{model} GET,POST")
	rlog.Debugln("  handle record routes: /api/{model}/{id} GET,PUT,PATCH,DELETE")

	router.HandleFunc("/api/{model}", b.recordsList).Methods(http.MethodGet)
	router.HandleFunc("/api/{model}", b.recordsCreate).Methods(http.MethodPost)
	router.HandleFunc("/api/{model}/{id}", b.recordsRead).Methods(http.MethodGet)
	router.HandleFunc("/api/{model}/{id}", b.recordsUpdate).Methods(http.MethodPut, http.MethodPatch)
	router.HandleFunc("/api/{model}/{id}", b.recordsDelete).Methods(http.MethodDelete)
}

// gate runs the access decision point for a record request and resolves
// the target model. A nil definition return means the response has
// already been written.
func (b *Backend) gate(w http.ResponseWriter, r *http.Request, recordID *int64) *model.Definition {
	principal := access.PrincipalFromContext(r.Context())
	modelName := mux.Vars(r)["model"]
	if err := b.decider.Decide(principal, r.Method, modelName, recordID); err != nil {
		writeError(w, r, err)
		return nil
	}
	definition, err := b.Registry.Get(modelName)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	return definition
}

// recordID parses the {id} route variable
func recordID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, core.BadRequestf("invalid record id '%s'", mux.Vars(r)["id"])
	}
	return id, nil
}

// decodePayload reads the request body into an untyped payload map
func decodePayload(r *http.Request) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, core.BadRequestf("cannot parse request body: %s", err)
	}
	return payload, nil
}

func (b *Backend) recordsCreate(w http.ResponseWriter, r *http.Request) {
	definition := b.gate(w, r, nil)
	if definition == nil {
		return
	}
	payload, err := decodePayload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var ownerID *int64
	if principal := access.PrincipalFromContext(r.Context()); principal != nil {
		ownerID = &principal.ID
	}
	record, err := b.engine.Create(definition, payload, ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b.notify(definition.Name, core.OperationCreate, record)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"data": record})
}

func (b *Backend) recordsList(w http.ResponseWriter, r *http.Request) {
	definition := b.gate(w, r, nil)
	if definition == nil {
		return
	}

	options := query.ListOptions{Search: r.URL.Query().Get("search")}
	var err error
	if value := r.URL.Query().Get("page"); value != "" {
		options.Page, err = strconv.Atoi(value)
		if err != nil || options.Page < 1 {
			writeError(w, r, core.BadRequestf("parameter 'page': out of range"))
			return
		}
	}
	if value := r.URL.Query().Get("limit"); value != "" {
		options.Limit, err = strconv.Atoi(value)
		if err != nil || options.Limit < 1 {
			writeError(w, r, core.BadRequestf("parameter 'limit': out of range"))
			return
		}
	}

	result, err := b.engine.List(definition, options)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (b *Backend) recordsRead(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	definition := b.gate(w, r, &id)
	if definition == nil {
		return
	}
	record, err := b.engine.FindOne(definition, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": record})
}

func (b *Backend) recordsUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	definition := b.gate(w, r, &id)
	if definition == nil {
		return
	}
	payload, err := decodePayload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	record, err := b.engine.Update(definition, id, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b.notify(definition.Name, core.OperationUpdate, record)
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": record})
}

func (b *Backend) recordsDelete(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	definition := b.gate(w, r, &id)
	if definition == nil {
		return
	}
	message, err := b.engine.Delete(definition, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b.notify(definition.Name, core.OperationDelete, map[string]interface{}{"id": id})
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}
