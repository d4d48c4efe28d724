package model

import (
	"strings"
	"testing"

	"github.com/lowkey-tech/basis/core"
)

// lookupMap is a registry stand-in for validation tests
type lookupMap map[string]*Definition

func (l lookupMap) Get(name string) (*Definition, error) {
	if definition, ok := l[name]; ok {
		return definition, nil
	}
	return nil, core.NotFoundf("unknown model '%s'", name)
}

func validProducts() *Definition {
	return &Definition{
		Name: "Products",
		Fields: []Field{
			{Name: "name", Type: FieldString, Required: true},
			{Name: "price", Type: FieldNumber},
		},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	if err := validProducts().Validate(lookupMap{}); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	cases := []*Definition{
		{Name: "drop table", Fields: []Field{{Name: "a", Type: FieldString}}},
		{Name: `products"; --`, Fields: []Field{{Name: "a", Type: FieldString}}},
		{Name: "users", Fields: []Field{{Name: "a", Type: FieldString}}},
		{Name: "Ok", TableName: "no-dashes", Fields: []Field{{Name: "a", Type: FieldString}}},
		{Name: "Ok", Fields: []Field{{Name: "select one", Type: FieldString}}},
		{Name: "Ok", Fields: []Field{}},
	}
	for i, definition := range cases {
		err := definition.Validate(lookupMap{})
		if err == nil {
			t.Fatalf("case %d: accepted invalid definition", i)
		}
		if core.KindOf(err) != core.KindBadRequest {
			t.Fatalf("case %d: want bad request, got %v", i, err)
		}
	}
}

func TestValidateRejectsDuplicateFields(t *testing.T) {
	definition := &Definition{
		Name: "Products",
		Fields: []Field{
			{Name: "name", Type: FieldString},
			{Name: "Name", Type: FieldString},
		},
	}
	if definition.Validate(lookupMap{}) == nil {
		t.Fatal("accepted duplicate field names")
	}
}

func TestValidateRelations(t *testing.T) {
	definition := &Definition{
		Name: "Orders",
		Fields: []Field{
			{Name: "product", Type: FieldRelation, TargetModel: "Products"},
		},
	}
	if err := definition.Validate(lookupMap{"Products": validProducts()}); err != nil {
		t.Fatal(err)
	}
	if definition.Validate(lookupMap{}) == nil {
		t.Fatal("accepted relation to unknown model")
	}

	definition.Fields[0].Type = FieldString
	if definition.Validate(lookupMap{"Products": validProducts()}) == nil {
		t.Fatal("accepted target model on a non-relation field")
	}
}

func TestValidateDefaults(t *testing.T) {
	good := []Field{
		{Name: "name", Type: FieldString, Default: "unnamed"},
		{Name: "price", Type: FieldNumber, Default: "9.99"},
		{Name: "active", Type: FieldBoolean, Default: "true"},
		{Name: "since", Type: FieldDate, Default: "2024-01-01"},
	}
	if err := (&Definition{Name: "Ok", Fields: good}).Validate(lookupMap{}); err != nil {
		t.Fatal(err)
	}

	bad := []Field{
		{Name: "name", Type: FieldString, Default: "x'; DROP TABLE users; --"},
		{Name: "name", Type: FieldString, Default: "1); delete from products"},
		{Name: "name", Type: FieldString, Default: "union select password"},
		{Name: "price", Type: FieldNumber, Default: "not a number"},
		{Name: "active", Type: FieldBoolean, Default: "yes"},
		{Name: "since", Type: FieldDate, Default: "whenever"},
	}
	for i, field := range bad {
		definition := &Definition{Name: "Ok", Fields: []Field{field}}
		if definition.Validate(lookupMap{}) == nil {
			t.Fatalf("case %d: accepted unsafe default %q", i, field.Default)
		}
	}
}

func TestValidateOwnerField(t *testing.T) {
	definition := validProducts()
	definition.OwnerField = "ownerId"
	if err := definition.Validate(lookupMap{}); err != nil {
		t.Fatal(err)
	}

	definition.Fields = append(definition.Fields, Field{Name: "ownerId", Type: FieldString})
	if definition.Validate(lookupMap{}) == nil {
		t.Fatal("accepted non-numeric owner field")
	}

	// resolution follows the case-insensitive duplicate rule
	definition = validProducts()
	definition.OwnerField = "ownerId"
	definition.Fields = append(definition.Fields, Field{Name: "ownerid", Type: FieldString})
	if definition.Validate(lookupMap{}) == nil {
		t.Fatal("accepted non-numeric owner field under a different case")
	}
}

func TestNormalizeAlignsOwnerFieldCase(t *testing.T) {
	definition := validProducts()
	definition.OwnerField = "ownerId"
	definition.Fields = append(definition.Fields, Field{Name: "OwnerID", Type: FieldNumber})
	definition.Normalize()

	if definition.OwnerField != "OwnerID" {
		t.Fatalf("owner field must adopt the declared spelling, got %q", definition.OwnerField)
	}
	count := 0
	for _, field := range definition.Fields {
		if strings.EqualFold(field.Name, "ownerId") {
			count++
		}
	}
	if count != 1 {
		t.Fatal("owner field synthesized next to a case-variant declaration")
	}
}

func TestNormalizeSynthesizesOwnerField(t *testing.T) {
	definition := validProducts()
	definition.OwnerField = "ownerId"
	definition.Normalize()

	field, ok := definition.FieldByName("ownerId")
	if !ok {
		t.Fatal("owner field was not synthesized")
	}
	if field.Type != FieldNumber || field.Required {
		t.Fatal("synthesized owner field must be a non-required number")
	}

	// normalizing twice must not duplicate the field
	definition.Normalize()
	count := 0
	for _, f := range definition.Fields {
		if f.Name == "ownerId" {
			count++
		}
	}
	if count != 1 {
		t.Fatal("owner field synthesized twice")
	}
}

func TestTableName(t *testing.T) {
	definition := validProducts()
	if definition.Table() != "products" {
		t.Fatal("default table name must be the lower-cased model name")
	}
	definition.TableName = "product_catalog"
	if definition.Table() != "product_catalog" {
		t.Fatal("declared table name must win")
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()
	if !policy.Allows(RoleAdmin, core.OperationDelete) {
		t.Fatal("admin must hold all permissions")
	}
	if !policy.Allows(RoleManager, core.OperationCreate) {
		t.Fatal("manager must create")
	}
	if policy.Allows(RoleManager, core.OperationDelete) {
		t.Fatal("manager must not delete")
	}
	if !policy.Allows(RoleViewer, core.OperationRead) {
		t.Fatal("viewer must read")
	}
	if policy.Allows(RoleViewer, core.OperationUpdate) {
		t.Fatal("viewer must not update")
	}
	if policy.Allows("Stranger", core.OperationRead) {
		t.Fatal("unknown roles hold no permissions")
	}
}

func TestEffectivePolicy(t *testing.T) {
	definition := validProducts()
	if !definition.EffectivePolicy().Allows(RoleViewer, core.OperationRead) {
		t.Fatal("undeclared policy must fall back to the default policy")
	}
	definition.RBAC = Policy{"Auditor": {"read"}}
	if definition.EffectivePolicy().Allows(RoleViewer, core.OperationRead) {
		t.Fatal("declared policy must replace the default policy entirely")
	}
	if !definition.EffectivePolicy().Allows("Auditor", core.OperationRead) {
		t.Fatal("declared policy not honored")
	}
}
