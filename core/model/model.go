/*Package model defines the declarative model vocabulary of the platform.

A Definition describes one logical resource: its fields, an optional
owner field for ownership-scoped authorization, and a role based access
policy. Definitions are serialized as JSON, one document per model.
*/
package model

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/lowkey-tech/basis/core"
)

// FieldType is the closed set of supported field types
type FieldType string

// all supported field types
const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldRelation FieldType = "relation"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = FieldType(s)
	switch *t {
	case FieldString, FieldNumber, FieldBoolean, FieldDate, FieldRelation:
		return nil
	default:
		return core.BadRequestf("%s is not a valid field type", s)
	}
}

// Field describes one typed attribute of a model. The name becomes the
// literal column name.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Unique      bool      `json:"unique,omitempty"`
	Default     string    `json:"default,omitempty"`
	TargetModel string    `json:"targetModel,omitempty"`
}

// Policy maps a role name to the set of permissions that role holds on a
// model. Permissions are operation names plus the "all" sentinel.
type Policy map[string][]string

// the predefined roles of the default policy
const (
	RoleAdmin   = "Admin"
	RoleManager = "Manager"
	RoleViewer  = "Viewer"
)

// DefaultPolicy is the policy applied to models which do not declare one:
// full access for Admin, create/read/update for Manager, read for Viewer.
func DefaultPolicy() Policy {
	return Policy{
		RoleAdmin:   {core.PermissionAll},
		RoleManager: {string(core.OperationCreate), string(core.OperationRead), string(core.OperationUpdate)},
		RoleViewer:  {string(core.OperationRead)},
	}
}

// Allows returns true if the role holds the permission for the operation,
// either directly or through the "all" sentinel. An absent role has no
// permissions.
func (p Policy) Allows(role string, operation core.Operation) bool {
	for _, permission := range p[role] {
		if permission == core.PermissionAll || permission == string(operation) {
			return true
		}
	}
	return false
}

// Definition is the declarative unit: one logical resource with its
// fields, optional owner field and access policy.
type Definition struct {
	Name       string  `json:"name"`
	TableName  string  `json:"tableName,omitempty"`
	OwnerField string  `json:"ownerField,omitempty"`
	Fields     []Field `json:"fields"`
	RBAC       Policy  `json:"rbac,omitempty"`
}

// Table returns the physical table name: the declared override, or the
// model name lower-cased.
func (d *Definition) Table() string {
	if d.TableName != "" {
		return d.TableName
	}
	return strings.ToLower(d.Name)
}

// EffectivePolicy returns the declared policy, or the default policy if
// the model does not declare one.
func (d *Definition) EffectivePolicy() Policy {
	if len(d.RBAC) > 0 {
		return d.RBAC
	}
	return DefaultPolicy()
}

// FieldByName returns the declared field with the given name
func (d *Definition) FieldByName(name string) (Field, bool) {
	for _, field := range d.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// Normalize resolves the owner field against the declared fields and
// synthesizes it if missing. Resolution is case-insensitive like the
// duplicate field rule, and the declared spelling wins so that the owner
// field always names a real column. The synthesized field is a
// non-required number.
func (d *Definition) Normalize() {
	if d.OwnerField == "" {
		return
	}
	for _, field := range d.Fields {
		if strings.EqualFold(field.Name, d.OwnerField) {
			d.OwnerField = field.Name
			return
		}
	}
	d.Fields = append(d.Fields, Field{Name: d.OwnerField, Type: FieldNumber})
}

// the system columns every model table carries
const (
	ColumnID        = "id"
	ColumnCreatedAt = "createdAt"
	ColumnUpdatedAt = "updatedAt"
)

// IsProtectedColumn returns true for columns the schema synthesizer must
// never drop or retype: the system columns and the model's owner field.
func (d *Definition) IsProtectedColumn(column string) bool {
	if column == ColumnID || column == ColumnCreatedAt || column == ColumnUpdatedAt {
		return true
	}
	return d.OwnerField != "" && column == d.OwnerField
}
