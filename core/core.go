package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents a backend storage operation, one of Create, Read, Update, Delete
//
type Operation string

// all supported database operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// PermissionAll is the sentinel permission which grants every operation
// on a model.
const PermissionAll = "all"

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Operation", s)
	}
}

// OperationForMethod maps an HTTP method to the permission it requires.
// Methods outside the CRUD vocabulary return false; they are not resource
// actions and are not gated.
func OperationForMethod(method string) (Operation, bool) {
	switch strings.ToUpper(method) {
	case "POST":
		return OperationCreate, true
	case "GET", "HEAD":
		return OperationRead, true
	case "PUT", "PATCH":
		return OperationUpdate, true
	case "DELETE":
		return OperationDelete, true
	}
	return "", false
}

// Notifier is an interface to receive model and record lifecycle notifications
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
