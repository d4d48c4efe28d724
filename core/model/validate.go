package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lowkey-tech/basis/core"
)

var identifierRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved model and table names. The principal table, schema migration
// bookkeeping and enumerations belong to the platform itself.
var reservedNames = map[string]bool{
	"user":         true,
	"users":        true,
	"account":      true,
	"accounts":     true,
	"migration":    true,
	"migrations":   true,
	"enumeration":  true,
	"enumerations": true,
}

// tokens that must never appear in a declared default value
var unsafeDefaultTokens = []string{
	"select", "insert", "update", "delete", "drop", "alter",
	"create", "truncate", "grant", "revoke", "union", "exec",
}

// ValidIdentifier returns true if the name is safe to interpolate into SQL
// as an identifier.
func ValidIdentifier(name string) bool {
	return identifierRegexp.MatchString(name)
}

// Lookup resolves a model name to its definition. The registry satisfies
// this interface.
type Lookup interface {
	Get(name string) (*Definition, error)
}

// Validate checks a definition against all declarative rules. Relation
// targets are resolved through the lookup. All violations are reported as
// BadRequest errors identifying the offending field or name; no SQL is
// ever executed here.
func (d *Definition) Validate(lookup Lookup) error {
	if !ValidIdentifier(d.Name) {
		return core.BadRequestf("invalid model name '%s'", d.Name)
	}
	if d.TableName != "" && !ValidIdentifier(d.TableName) {
		return core.BadRequestf("invalid table name '%s'", d.TableName)
	}
	if reservedNames[strings.ToLower(d.Table())] {
		return core.BadRequestf("model name '%s' is reserved", d.Name)
	}
	if len(d.Fields) == 0 {
		return core.BadRequestf("model '%s' declares no fields", d.Name)
	}

	seen := map[string]bool{}
	for _, field := range d.Fields {
		if !ValidIdentifier(field.Name) {
			return core.BadRequestf("invalid field name '%s'", field.Name)
		}
		lower := strings.ToLower(field.Name)
		if seen[lower] {
			return core.BadRequestf("duplicate field name '%s'", field.Name)
		}
		seen[lower] = true

		switch field.Type {
		case FieldString, FieldNumber, FieldBoolean, FieldDate:
			if field.TargetModel != "" {
				return core.BadRequestf("field '%s' declares a target model but is not a relation", field.Name)
			}
		case FieldRelation:
			if !ValidIdentifier(field.TargetModel) {
				return core.BadRequestf("relation field '%s' has invalid target model '%s'", field.Name, field.TargetModel)
			}
			if _, err := lookup.Get(field.TargetModel); err != nil {
				return core.BadRequestf("relation field '%s' targets unknown model '%s'", field.Name, field.TargetModel)
			}
		default:
			return core.BadRequestf("field '%s' has invalid type '%s'", field.Name, field.Type)
		}

		if field.Default != "" {
			if err := validateDefault(field); err != nil {
				return err
			}
		}
	}

	if d.OwnerField != "" {
		if !ValidIdentifier(d.OwnerField) {
			return core.BadRequestf("invalid owner field '%s'", d.OwnerField)
		}
		// resolved case-insensitively, like the duplicate field rule
		for _, field := range d.Fields {
			if strings.EqualFold(field.Name, d.OwnerField) && field.Type != FieldNumber {
				return core.BadRequestf("owner field '%s' must be of type number", d.OwnerField)
			}
		}
	}
	return nil
}

// validateDefault rejects defaults carrying statement separators or SQL
// keyword tokens and requires the literal to parse under the declared type.
func validateDefault(field Field) error {
	value := field.Default
	if strings.ContainsAny(value, ";'\"\\") || strings.Contains(value, "--") {
		return core.BadRequestf("unsafe default value for field '%s'", field.Name)
	}
	lower := strings.ToLower(value)
	for _, token := range unsafeDefaultTokens {
		for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
			return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
		}) {
			if word == token {
				return core.BadRequestf("unsafe default value for field '%s'", field.Name)
			}
		}
	}

	switch field.Type {
	case FieldNumber, FieldRelation:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return core.BadRequestf("default value for number field '%s' is not numeric", field.Name)
		}
	case FieldBoolean:
		if lower != "true" && lower != "false" {
			return core.BadRequestf("default value for boolean field '%s' must be true or false", field.Name)
		}
	case FieldDate:
		if !parseableDate(value) {
			return core.BadRequestf("default value for date field '%s' is not a parseable date", field.Name)
		}
	}
	return nil
}

func parseableDate(value string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
