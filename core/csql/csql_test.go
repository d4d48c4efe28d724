package csql

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestClearSchema(t *testing.T) {
	mockdb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockdb.Close()

	db := &DB{DB: mockdb, Schema: "basis"}
	mock.ExpectExec("DROP SCHEMA basis CASCADE").WillReturnResult(sqlmock.NewResult(0, 0))
	db.ClearSchema()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClearSchemaRefusesPublic(t *testing.T) {
	mockdb, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockdb.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("clearing the public schema must panic")
		}
	}()
	db := &DB{DB: mockdb, Schema: "public"}
	db.ClearSchema()
}

func TestErrorMessage(t *testing.T) {
	err := &pq.Error{Message: "ERROR: duplicate key value violates unique constraint\nDETAIL: Key (name) already exists."}
	if got := ErrorMessage(err); got != "duplicate key value violates unique constraint" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := ErrorMessage(&pq.Error{Message: "null value in column violates not-null constraint"}); got != "null value in column violates not-null constraint" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := ErrorMessage(errors.New("plain failure")); got != "plain failure" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestIsConstraintViolation(t *testing.T) {
	if !IsConstraintViolation(&pq.Error{Code: "23505"}) {
		t.Fatal("unique violation not classified")
	}
	if !IsConstraintViolation(&pq.Error{Code: "23503"}) {
		t.Fatal("foreign key violation not classified")
	}
	if IsConstraintViolation(&pq.Error{Code: "42P01"}) {
		t.Fatal("undefined table is not a constraint violation")
	}
	if IsConstraintViolation(errors.New("plain failure")) {
		t.Fatal("plain errors are not constraint violations")
	}
}
