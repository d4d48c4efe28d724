package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lowkey-tech/basis/core"
)

func TestStoreRoundTrip(t *testing.T) {
	store := MustNewStore(t.TempDir())

	definition := &Definition{
		Name:       "Tasks",
		OwnerField: "ownerId",
		Fields: []Field{
			{Name: "title", Type: FieldString, Required: true},
			{Name: "done", Type: FieldBoolean, Default: "false"},
		},
		RBAC: Policy{RoleAdmin: {core.PermissionAll}},
	}
	if err := store.Write(definition); err != nil {
		t.Fatal(err)
	}

	read, err := store.Read("Tasks")
	if err != nil {
		t.Fatal(err)
	}
	if read.Name != "Tasks" || read.OwnerField != "ownerId" || len(read.Fields) != 2 {
		t.Fatal("definition did not survive the round trip")
	}

	names, err := store.Names()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "Tasks" {
		t.Fatalf("unexpected names: %v", names)
	}

	if err := store.Remove("Tasks"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Read("Tasks"); core.KindOf(err) != core.KindNotFound {
		t.Fatal("reading a removed document must be not found")
	}
	if err := store.Remove("Tasks"); core.KindOf(err) != core.KindNotFound {
		t.Fatal("removing a removed document must be not found")
	}
}

func TestStoreRejectsMalformedDocuments(t *testing.T) {
	dir := t.TempDir()
	store := MustNewStore(dir)

	cases := []string{
		`not json at all`,
		`{"name": "Broken"}`,
		`{"name": "Broken", "fields": []}`,
		`{"name": "Broken", "fields": [{"name": "a"}]}`,
		`{"name": "Broken", "fields": [{"name": "a", "type": "blob"}]}`,
		`{"name": "Broken", "fields": [{"name": "a", "type": "string"}], "rbac": {"Admin": ["fly"]}}`,
	}
	for i, document := range cases {
		if err := os.WriteFile(filepath.Join(dir, "Broken.json"), []byte(document), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := store.Read("Broken")
		if err == nil {
			t.Fatalf("case %d: accepted malformed document", i)
		}
		if core.KindOf(err) != core.KindBadRequest {
			t.Fatalf("case %d: want bad request, got %v", i, err)
		}
	}
}

func TestNameFromPath(t *testing.T) {
	name, ok := NameFromPath("/var/models/Products.json")
	if !ok || name != "Products" {
		t.Fatalf("got %q %v", name, ok)
	}
	if _, ok := NameFromPath("/var/models/notes.txt"); ok {
		t.Fatal("non-json files are not documents")
	}
	if _, ok := NameFromPath("/var/models/.Products-1234.json"); ok {
		t.Fatal("temp files are not documents")
	}
}
