package model

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/lowkey-tech/basis/core"
)

// documentSchema describes the serialized form of a Definition. Documents
// read from the store are validated against it before they are trusted;
// the store directory can be edited by operators and external tooling.
const documentSchema = `{
	"type": "object",
	"required": ["name", "fields"],
	"properties": {
		"name": { "type": "string", "minLength": 1 },
		"tableName": { "type": "string" },
		"ownerField": { "type": "string" },
		"fields": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "type"],
				"properties": {
					"name": { "type": "string", "minLength": 1 },
					"type": { "enum": ["string", "number", "boolean", "date", "relation"] },
					"required": { "type": "boolean" },
					"unique": { "type": "boolean" },
					"default": { "type": "string" },
					"targetModel": { "type": "string" }
				}
			}
		},
		"rbac": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": { "enum": ["create", "read", "update", "delete", "all"] }
			}
		}
	}
}`

var documentSchemaLoader = gojsonschema.NewStringLoader(documentSchema)

// Store is the durable definition store: a directory with one JSON
// document per model, keyed by model name.
type Store struct {
	dir string
}

// MustNewStore creates a store for the given directory. The directory is
// created if it does not exist yet.
func MustNewStore(dir string) *Store {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		panic(err)
	}
	return &Store{dir: dir}
}

// Dir returns the store directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the document path for a model name
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// NameFromPath returns the model name a document path belongs to, or false
// if the path is not a definition document.
func NameFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") {
		return "", false
	}
	name := strings.TrimSuffix(base, ".json")
	if !ValidIdentifier(name) {
		return "", false
	}
	return name, true
}

// Read loads and validates the definition document for a model name.
// It returns NotFound if there is no document, and BadRequest if the
// document does not follow the document schema.
func (s *Store) Read(name string) (*Definition, error) {
	if !ValidIdentifier(name) {
		return nil, core.BadRequestf("invalid model name '%s'", name)
	}
	data, err := os.ReadFile(s.Path(name))
	if os.IsNotExist(err) {
		return nil, core.NotFoundf("no definition document for model '%s'", name)
	}
	if err != nil {
		return nil, core.Internalf(err, "cannot read definition document for model '%s'", name)
	}
	return Parse(data)
}

// Parse validates raw document bytes against the document schema and
// unmarshals them into a Definition.
func Parse(data []byte) (*Definition, error) {
	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, core.BadRequestf("definition document is not valid JSON: %s", err)
	}
	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}
		return nil, core.BadRequestf("definition document is invalid: %s", strings.Join(descriptions, "; "))
	}
	var definition Definition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, core.BadRequestf("cannot parse definition document: %s", err)
	}
	return &definition, nil
}

// Names enumerates the model names of all documents in the store
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, core.Internalf(err, "cannot enumerate definition store")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := NameFromPath(entry.Name()); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Write persists a definition document. The write is atomic with respect
// to concurrent readers of the document: the document is written to a
// temporary file first and then renamed into place.
func (s *Store) Write(definition *Definition) error {
	data, err := json.MarshalIndent(definition, "", "  ")
	if err != nil {
		return core.Internalf(err, "cannot serialize definition for model '%s'", definition.Name)
	}
	tmp, err := os.CreateTemp(s.dir, "."+definition.Name+"-*")
	if err != nil {
		return core.Internalf(err, "cannot write definition for model '%s'", definition.Name)
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.Path(definition.Name))
	}
	if err != nil {
		os.Remove(tmp.Name())
		return core.Internalf(err, "cannot write definition for model '%s'", definition.Name)
	}
	return nil
}

// Remove deletes the definition document for a model name. It returns
// NotFound if there is no document.
func (s *Store) Remove(name string) error {
	if !ValidIdentifier(name) {
		return core.BadRequestf("invalid model name '%s'", name)
	}
	err := os.Remove(s.Path(name))
	if os.IsNotExist(err) {
		return core.NotFoundf("no definition document for model '%s'", name)
	}
	if err != nil {
		return core.Internalf(err, "cannot remove definition document for model '%s'", name)
	}
	return nil
}
