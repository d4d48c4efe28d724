package access

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/csql"
	"github.com/lowkey-tech/basis/core/model"
	"github.com/lowkey-tech/basis/core/query"
	"github.com/lowkey-tech/basis/core/registry"
)

func newDecider(t *testing.T, definitions ...*model.Definition) (*Decider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := model.MustNewStore(t.TempDir())
	for _, definition := range definitions {
		if err := store.Write(definition); err != nil {
			t.Fatal(err)
		}
	}
	reg := registry.MustNew(store)
	engine := query.New(&csql.DB{DB: db, Schema: "basis"})
	return NewDecider(reg, engine), mock
}

func tasksDefinition() *model.Definition {
	return &model.Definition{
		Name:       "Tasks",
		OwnerField: "ownerId",
		Fields: []model.Field{
			{Name: "title", Type: model.FieldString, Required: true},
		},
	}
}

func TestDecideRequiresPrincipal(t *testing.T) {
	decider, _ := newDecider(t, tasksDefinition())

	if err := decider.Decide(nil, "GET", "Tasks", nil); core.KindOf(err) != core.KindForbidden {
		t.Fatalf("want forbidden for missing principal, got %v", err)
	}
	anonymous := &Principal{ID: 1}
	if err := decider.Decide(anonymous, "GET", "Tasks", nil); core.KindOf(err) != core.KindForbidden {
		t.Fatalf("want forbidden for missing role, got %v", err)
	}
}

func TestDecideRoleGate(t *testing.T) {
	decider, _ := newDecider(t, tasksDefinition())

	viewer := &Principal{ID: 1, Role: model.RoleViewer}
	if err := decider.Decide(viewer, "GET", "Tasks", nil); err != nil {
		t.Fatal(err)
	}
	if err := decider.Decide(viewer, "POST", "Tasks", nil); core.KindOf(err) != core.KindForbidden {
		t.Fatalf("viewer must not create, got %v", err)
	}

	manager := &Principal{ID: 1, Role: model.RoleManager}
	if err := decider.Decide(manager, "POST", "Tasks", nil); err != nil {
		t.Fatal(err)
	}
	id := int64(9)
	if err := decider.Decide(manager, "DELETE", "Tasks", &id); core.KindOf(err) != core.KindForbidden {
		t.Fatalf("manager must not delete, got %v", err)
	}

	stranger := &Principal{ID: 1, Role: "Stranger"}
	if err := decider.Decide(stranger, "GET", "Tasks", nil); core.KindOf(err) != core.KindForbidden {
		t.Fatalf("unknown role must hold no permissions, got %v", err)
	}
}

func TestDecideUnknownModel(t *testing.T) {
	decider, _ := newDecider(t)
	admin := &Principal{ID: 1, Role: model.RoleAdmin}
	if err := decider.Decide(admin, "GET", "Nope", nil); core.KindOf(err) != core.KindNotFound {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestDecideOwnership(t *testing.T) {
	decider, mock := newDecider(t, tasksDefinition())

	now := time.Now()
	columns := []string{"id", "createdAt", "updatedAt", "title", "ownerId"}
	id := int64(9)

	// the record belongs to 42, principal 7 is rejected
	mock.ExpectQuery(`SELECT "id", "createdAt", "updatedAt", "title", "ownerId" FROM basis."tasks" WHERE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(id, now, now, "write tests", 42.0))

	manager := &Principal{ID: 7, Role: model.RoleManager}
	err := decider.Decide(manager, "PUT", "Tasks", &id)
	if core.KindOf(err) != core.KindForbidden {
		t.Fatalf("want forbidden for foreign record, got %v", err)
	}

	// the owner may update
	mock.ExpectQuery(`SELECT "id", "createdAt", "updatedAt", "title", "ownerId" FROM basis."tasks" WHERE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(id, now, now, "write tests", 42.0))

	owner := &Principal{ID: 42, Role: model.RoleManager}
	if err := decider.Decide(owner, "PUT", "Tasks", &id); err != nil {
		t.Fatal(err)
	}

	// a record without an owner value is nobody's to update
	mock.ExpectQuery(`SELECT "id", "createdAt", "updatedAt", "title", "ownerId" FROM basis."tasks" WHERE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(id, now, now, "write tests", nil))

	if err := decider.Decide(owner, "PUT", "Tasks", &id); core.KindOf(err) != core.KindForbidden {
		t.Fatalf("want forbidden for ownerless record, got %v", err)
	}

	// the admin bypasses the ownership gate, no record fetch happens
	admin := &Principal{ID: 1, Role: model.RoleAdmin}
	if err := decider.Decide(admin, "DELETE", "Tasks", &id); err != nil {
		t.Fatal(err)
	}

	// reads never check ownership
	if err := decider.Decide(manager, "GET", "Tasks", &id); err != nil {
		t.Fatal(err)
	}

	if err := decider.Decide(manager, "PUT", "Tasks", nil); core.KindOf(err) != core.KindBadRequest {
		t.Fatalf("ownership check without a record id must fail, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDecideSkipsNonResourceActions(t *testing.T) {
	decider, _ := newDecider(t)
	viewer := &Principal{ID: 1, Role: model.RoleViewer}
	if err := decider.Decide(viewer, "OPTIONS", "Tasks", nil); err != nil {
		t.Fatal(err)
	}
	if err := decider.Decide(viewer, "GET", "", nil); err != nil {
		t.Fatal(err)
	}
}
