/*Package access provides utilities for access control.

Every CRUD request passes the decision point before the query engine
runs: a role gate against the model's declared policy, and for mutations
on owned models an ownership gate comparing the target record's owner
field with the caller's identity. Authorization is a pure function of
the principal, the operation, the policy and the optionally fetched
record; no authorization state is cached or mutated.
*/
package access

import (
	"context"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/model"
	"github.com/lowkey-tech/basis/core/query"
	"github.com/lowkey-tech/basis/core/registry"
)

// Principal is an authenticated caller with a numeric identity and a role
type Principal struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

// Type for the context keys
type contextKeyPrincipalType struct{}

var contextKeyPrincipal = &contextKeyPrincipalType{}

// ContextWithPrincipal returns a new context with this principal added to it
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, principal)
}

// PrincipalFromContext retrieves a principal from the context
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, ok := ctx.Value(contextKeyPrincipal).(*Principal)
	if ok {
		return principal
	}
	return nil
}

// Decider is the access decision point
type Decider struct {
	registry *registry.Registry
	engine   *query.Engine
}

// NewDecider creates a decision point over the given registry and query
// engine. The engine is only used to fetch target records for ownership
// comparison.
func NewDecider(reg *registry.Registry, engine *query.Engine) *Decider {
	return &Decider{registry: reg, engine: engine}
}

// Decide gates one request. Method is the HTTP-style verb, modelName the
// target model (empty for non-resource actions) and recordID the target
// record for mutations, if the route carries one. A nil error means the
// request may proceed.
func (d *Decider) Decide(principal *Principal, method string, modelName string, recordID *int64) error {
	if principal == nil || principal.Role == "" {
		return core.Forbiddenf("missing authentication claims")
	}

	operation, ok := core.OperationForMethod(method)
	if !ok {
		// not a resource action
		return nil
	}
	if modelName == "" {
		return nil
	}

	definition, err := d.registry.Get(modelName)
	if err != nil {
		return err
	}
	policy := definition.EffectivePolicy()
	if !policy.Allows(principal.Role, operation) {
		return core.Forbiddenf("role '%s' lacks permission '%s' on model '%s'",
			principal.Role, operation, modelName)
	}

	if operation != core.OperationUpdate && operation != core.OperationDelete {
		return nil
	}
	if definition.OwnerField == "" || principal.Role == model.RoleAdmin {
		return nil
	}

	if recordID == nil {
		return core.BadRequestf("record id required for ownership check on model '%s'", modelName)
	}
	record, err := d.engine.FindOne(definition, *recordID)
	if err != nil {
		return err
	}
	owner, ok := ownerValue(record[definition.OwnerField])
	if !ok || owner != principal.ID {
		// the owning identity is deliberately not part of the message
		return core.Forbiddenf("role '%s' may not %s this %s", principal.Role, operation, modelName)
	}
	return nil
}

func ownerValue(value interface{}) (int64, bool) {
	switch t := value.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	}
	return 0, false
}
