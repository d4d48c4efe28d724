package core

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestOperations_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Operations []Operation `json:"operations"`
	}
	var object Object
	jsonRead := `{"operations":["create","read","update","delete"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	if err != nil {
		t.Fatal(err)
	}

	jsonRead = `{"operations":["invalid"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	if err == nil {
		t.Fatal("invalid operation accepted")
	}

}

func TestOperationForMethod(t *testing.T) {
	cases := map[string]Operation{
		"POST":   OperationCreate,
		"GET":    OperationRead,
		"HEAD":   OperationRead,
		"PUT":    OperationUpdate,
		"PATCH":  OperationUpdate,
		"DELETE": OperationDelete,
		"get":    OperationRead,
	}
	for method, want := range cases {
		operation, ok := OperationForMethod(method)
		if !ok || operation != want {
			t.Fatalf("method %s: got %s, want %s", method, operation, want)
		}
	}
	if _, ok := OperationForMethod("OPTIONS"); ok {
		t.Fatal("OPTIONS is not a resource action")
	}
}

func TestErrorKinds(t *testing.T) {
	if KindOf(NotFoundf("gone")) != KindNotFound {
		t.Fatal("wrong kind for not found")
	}
	if KindOf(BadRequestf("bad")) != KindBadRequest {
		t.Fatal("wrong kind for bad request")
	}
	if KindOf(Forbiddenf("no")) != KindForbidden {
		t.Fatal("wrong kind for forbidden")
	}
	if KindOf(errors.New("anything")) != KindInternal {
		t.Fatal("foreign errors must be internal")
	}

	cause := errors.New("connection reset")
	err := Internalf(cause, "cannot list")
	if err.Error() != "cannot list" {
		t.Fatal("internal cause leaked into client message")
	}
	if !errors.Is(err, cause) {
		t.Fatal("internal error must wrap its cause")
	}
}
