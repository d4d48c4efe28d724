package schema

import (
	"fmt"

	"github.com/lowkey-tech/basis/core/model"
)

// behavior describes how one field type maps to physical storage: the DDL
// column type, the catalog type it introspects as, and the literal used
// to backfill NULLs before a column turns NOT NULL. One row per member of
// the closed type set, both DDL generation and migration planning are
// driven off this table.
type behavior struct {
	columnType  string
	catalogType string
	zeroLiteral string
}

var behaviors = map[model.FieldType]behavior{
	model.FieldString: {
		columnType:  "text",
		catalogType: "text",
		zeroLiteral: "''",
	},
	model.FieldNumber: {
		columnType:  "double precision",
		catalogType: "double precision",
		zeroLiteral: "0",
	},
	model.FieldBoolean: {
		columnType:  "boolean",
		catalogType: "boolean",
		zeroLiteral: "false",
	},
	model.FieldDate: {
		columnType:  "timestamp with time zone",
		catalogType: "timestamp with time zone",
		zeroLiteral: "'epoch'",
	},
	model.FieldRelation: {
		columnType:  "integer",
		catalogType: "integer",
		// a relation backfill stays NULL, there is no meaningful zero id
		zeroLiteral: "NULL",
	},
}

// castExpression returns the USING expression converting an existing
// column to the target type. Text to number is regex-gated and defaults
// non-numeric values to 0, boolean parses case-insensitive true/false.
func castExpression(fieldType model.FieldType, column string) string {
	quoted := `"` + column + `"`
	switch fieldType {
	case model.FieldNumber:
		return fmt.Sprintf(`(CASE WHEN %s::text ~ '^-?[0-9]+(\.[0-9]+)?$' THEN (%s::text)::double precision ELSE 0 END)`, quoted, quoted)
	case model.FieldBoolean:
		return fmt.Sprintf(`(lower(%s::text) = 'true')`, quoted)
	case model.FieldDate:
		return fmt.Sprintf(`(%s::text)::timestamp with time zone`, quoted)
	case model.FieldRelation:
		return fmt.Sprintf(`(%s::text)::integer`, quoted)
	default:
		return quoted + "::text"
	}
}

// defaultLiteral renders a declared default value as a SQL literal. The
// value has already passed validation, numbers and booleans go in raw,
// strings and dates are quoted.
func defaultLiteral(field model.Field) string {
	switch field.Type {
	case model.FieldNumber, model.FieldBoolean, model.FieldRelation:
		return field.Default
	default:
		return "'" + field.Default + "'"
	}
}
