/*Package schema converges physical tables with model definitions.

The synthesizer computes the least destructive diff between a definition
and the live table and applies it as one atomic unit: a table is never
observed half-migrated. The definition document is persisted and the
registry refreshed only after the schema change has committed.
*/
package schema

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/csql"
	"github.com/lowkey-tech/basis/core/logger"
	"github.com/lowkey-tech/basis/core/model"
	"github.com/lowkey-tech/basis/core/registry"
)

// Synthesizer converges database tables with model definitions
type Synthesizer struct {
	db       *csql.DB
	store    *model.Store
	registry *registry.Registry
}

// New creates a synthesizer for the given database, definition store and
// registry
func New(db *csql.DB, store *model.Store, reg *registry.Registry) *Synthesizer {
	return &Synthesizer{db: db, store: store, registry: reg}
}

// Result reports the outcome of a publish. A republish of an unchanged
// definition yields Created false and an empty change list.
type Result struct {
	Created bool     `json:"created"`
	Changes []string `json:"changes"`
}

// column is one introspected catalog column
type column struct {
	dataType     string
	nullable     bool
	defaultValue sql.NullString
}

const introspectQuery = `SELECT column_name, data_type, is_nullable, column_default ` +
	`FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position;`

// introspect reads the live schema of a table from the catalog. An
// unknown table yields an empty map.
func (s *Synthesizer) introspect(table string) (map[string]column, error) {
	rows, err := s.db.Query(introspectQuery, s.db.Schema, table)
	if err != nil {
		return nil, core.Internalf(err, "cannot introspect table '%s'", table)
	}
	defer rows.Close()

	columns := map[string]column{}
	for rows.Next() {
		var name, dataType, nullable string
		var defaultValue sql.NullString
		if err := rows.Scan(&name, &dataType, &nullable, &defaultValue); err != nil {
			return nil, core.Internalf(err, "cannot introspect table '%s'", table)
		}
		columns[name] = column{
			dataType:     dataType,
			nullable:     nullable == "YES",
			defaultValue: defaultValue,
		}
	}
	return columns, rows.Err()
}

// Publish converges the table for a definition: validation, catalog
// introspection, then either table creation or migration, all DDL inside
// one transaction. On success the definition document is written to the
// store and the registry entry refreshed synchronously.
func (s *Synthesizer) Publish(definition *model.Definition) (*Result, error) {
	if err := definition.Validate(s.registry); err != nil {
		return nil, err
	}
	definition.Normalize()

	columns, err := s.introspect(definition.Table())
	if err != nil {
		return nil, err
	}

	var result *Result
	if len(columns) == 0 {
		result, err = s.create(definition)
	} else {
		result, err = s.migrate(definition, columns)
	}
	if err != nil {
		return nil, err
	}

	// the document is written only after the schema change has committed;
	// a failed migration leaves the model at its pre-publish state
	if err := s.store.Write(definition); err != nil {
		return nil, err
	}
	if err := s.registry.Load(definition.Name); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete drops the model's table with its dependent foreign keys, removes
// the definition document and evicts the registry entry. It returns
// NotFound if no such definition exists.
func (s *Synthesizer) Delete(name string) error {
	definition, err := s.registry.Get(name)
	if err != nil {
		// the registry may be briefly stale, the store is authoritative
		definition, err = s.store.Read(name)
		if err != nil {
			return err
		}
	}
	_, err = s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s."%s" CASCADE;`, s.db.Schema, definition.Table()))
	if err != nil {
		return core.Internalf(err, "cannot drop table for model '%s': %s", name, csql.ErrorMessage(err))
	}
	if err := s.store.Remove(name); err != nil && core.KindOf(err) != core.KindNotFound {
		return err
	}
	s.registry.Evict(name)
	logger.Default().Infoln("schema: dropped table for model", name)
	return nil
}

// create emits the table with its system columns, one column per field
// and the updatedAt trigger, as one atomic unit.
func (s *Synthesizer) create(definition *model.Definition) (*Result, error) {
	table := definition.Table()
	createColumns := []string{
		`"id" SERIAL PRIMARY KEY`,
		`"createdAt" timestamp with time zone NOT NULL DEFAULT now()`,
		`"updatedAt" timestamp with time zone NOT NULL DEFAULT now()`,
	}
	for _, field := range definition.Fields {
		createColumns = append(createColumns, s.columnDDL(field, true))
	}

	statements := []string{
		fmt.Sprintf("CREATE TABLE %s.\"%s\" (%s);", s.db.Schema, table, strings.Join(createColumns, ", ")),
		s.stampFunctionDDL(),
		s.triggerDDL(table),
	}
	if err := s.apply(statements); err != nil {
		return nil, err
	}
	logger.Default().Infoln("schema: created table", table)
	return &Result{Created: true, Changes: []string{fmt.Sprintf(`create table "%s"`, table)}}, nil
}

// migrate computes and applies the diff between the definition and the
// introspected columns: add, drop, retype, require, relax, default
// change, in that order, inside one transaction.
func (s *Synthesizer) migrate(definition *model.Definition, columns map[string]column) (*Result, error) {
	table := definition.Table()
	qualified := fmt.Sprintf("%s.\"%s\"", s.db.Schema, table)

	var statements, changes []string

	declared := map[string]model.Field{}
	for _, field := range definition.Fields {
		declared[field.Name] = field
	}

	// new columns; required-ness is established by the backfill stage below
	for _, field := range definition.Fields {
		if _, ok := columns[field.Name]; ok {
			continue
		}
		statements = append(statements, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", qualified, s.columnDDL(field, false)))
		changes = append(changes, fmt.Sprintf(`add column "%s"`, field.Name))
		columns[field.Name] = column{
			dataType:     behaviors[field.Type].catalogType,
			nullable:     true,
			defaultValue: declaredDefault(field),
		}
	}

	// obsolete columns, protected ones stay
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if definition.IsProtectedColumn(name) {
			continue
		}
		if _, ok := declared[name]; ok {
			continue
		}
		statements = append(statements, fmt.Sprintf(`ALTER TABLE %s DROP COLUMN "%s";`, qualified, name))
		changes = append(changes, fmt.Sprintf(`drop column "%s"`, name))
		delete(columns, name)
	}

	// type changes with an explicit cast. The text to number cast is
	// best-effort and silently maps non-numeric values to 0.
	for _, field := range definition.Fields {
		col := columns[field.Name]
		if definition.IsProtectedColumn(field.Name) {
			continue
		}
		if col.dataType == behaviors[field.Type].catalogType {
			continue
		}
		statements = append(statements, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN "%s" TYPE %s USING %s;`,
			qualified, field.Name, behaviors[field.Type].columnType, castExpression(field.Type, field.Name)))
		changes = append(changes, fmt.Sprintf(`retype column "%s" to %s`, field.Name, field.Type))
		col.dataType = behaviors[field.Type].catalogType
		columns[field.Name] = col
	}

	// nullability, with a type-appropriate backfill before NOT NULL
	for _, field := range definition.Fields {
		col := columns[field.Name]
		if field.Required && col.nullable {
			if zero := behaviors[field.Type].zeroLiteral; zero != "NULL" {
				statements = append(statements, fmt.Sprintf(`UPDATE %s SET "%s" = %s WHERE "%s" IS NULL;`,
					qualified, field.Name, zero, field.Name))
			}
			statements = append(statements, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN "%s" SET NOT NULL;`, qualified, field.Name))
			changes = append(changes, fmt.Sprintf(`require column "%s"`, field.Name))
			col.nullable = false
			columns[field.Name] = col
		} else if !field.Required && !col.nullable {
			statements = append(statements, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN "%s" DROP NOT NULL;`, qualified, field.Name))
			changes = append(changes, fmt.Sprintf(`relax column "%s"`, field.Name))
			col.nullable = true
			columns[field.Name] = col
		}
	}

	// default changes, compared on canonicalized representations
	for _, field := range definition.Fields {
		col := columns[field.Name]
		if defaultsEqual(field, col.defaultValue) {
			continue
		}
		if field.Default == "" {
			statements = append(statements, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN "%s" DROP DEFAULT;`, qualified, field.Name))
		} else {
			statements = append(statements, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN "%s" SET DEFAULT %s;`,
				qualified, field.Name, defaultLiteral(field)))
		}
		changes = append(changes, fmt.Sprintf(`change default of column "%s"`, field.Name))
	}

	if len(statements) == 0 {
		return &Result{Created: false, Changes: []string{}}, nil
	}

	if err := s.apply(statements); err != nil {
		return nil, err
	}
	rlog := logger.Default()
	for _, change := range changes {
		rlog.Infoln("schema:", table, change)
	}
	return &Result{Created: false, Changes: changes}, nil
}

// apply executes all statements in one transaction
func (s *Synthesizer) apply(statements []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return core.Internalf(err, "cannot begin schema transaction")
	}
	for _, statement := range statements {
		if _, err := tx.Exec(statement); err != nil {
			tx.Rollback()
			return core.Internalf(err, "schema change failed: %s", csql.ErrorMessage(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return core.Internalf(err, "cannot commit schema transaction")
	}
	return nil
}

// columnDDL renders the column clause for a field. NOT NULL is only
// emitted on table creation; for added columns the migration backfill
// establishes it.
func (s *Synthesizer) columnDDL(field model.Field, withNotNull bool) string {
	ddl := fmt.Sprintf(`"%s" %s`, field.Name, behaviors[field.Type].columnType)
	if field.Type == model.FieldRelation {
		ddl += fmt.Sprintf(` REFERENCES %s."%s" ("id") ON DELETE SET NULL`, s.db.Schema, s.targetTable(field))
	}
	if withNotNull && field.Required {
		ddl += " NOT NULL"
	}
	if field.Unique {
		ddl += " UNIQUE"
	}
	if field.Default != "" {
		ddl += " DEFAULT " + defaultLiteral(field)
	}
	return ddl
}

// targetTable resolves the physical table a relation field references
func (s *Synthesizer) targetTable(field model.Field) string {
	if target, err := s.registry.Get(field.TargetModel); err == nil {
		return target.Table()
	}
	return strings.ToLower(field.TargetModel)
}

func (s *Synthesizer) stampFunctionDDL() string {
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s.stamp_updated_at() RETURNS trigger AS $stamp$
BEGIN NEW."updatedAt" = now(); RETURN NEW; END;
$stamp$ LANGUAGE plpgsql;`, s.db.Schema)
}

func (s *Synthesizer) triggerDDL(table string) string {
	return fmt.Sprintf(`DROP TRIGGER IF EXISTS "%s_updated_at" ON %s."%s"; `+
		`CREATE TRIGGER "%s_updated_at" BEFORE UPDATE ON %s."%s" FOR EACH ROW EXECUTE PROCEDURE %s.stamp_updated_at();`,
		table, s.db.Schema, table, table, s.db.Schema, table, s.db.Schema)
}

// declaredDefault mirrors what the catalog will report for a freshly
// added column with the field's declared default
func declaredDefault(field model.Field) sql.NullString {
	if field.Default == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: field.Default, Valid: true}
}

// defaultsEqual compares a declared default with the catalog's stored
// representation. Dates and numbers compare by value, the catalog
// renders them differently than the declared literal: a declared
// 2024-01-01 introspects as '2024-01-01 00:00:00+00'::timestamp with
// time zone.
func defaultsEqual(field model.Field, stored sql.NullString) bool {
	current := canonicalDefault(stored)
	if current == field.Default {
		return true
	}
	if current == "" || field.Default == "" {
		return false
	}
	switch field.Type {
	case model.FieldDate:
		currentTime, okCurrent := parseTimestamp(current)
		declaredTime, okDeclared := parseTimestamp(field.Default)
		return okCurrent && okDeclared && currentTime.Equal(declaredTime)
	case model.FieldNumber, model.FieldRelation:
		currentNumber, errCurrent := strconv.ParseFloat(current, 64)
		declaredNumber, errDeclared := strconv.ParseFloat(field.Default, 64)
		return errCurrent == nil && errDeclared == nil && currentNumber == declaredNumber
	}
	return false
}

// parseTimestamp accepts the declared date layouts plus the catalog's
// rendering with a numeric zone offset
func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05-07",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// canonicalDefault normalizes a catalog default representation for
// comparison: the cast suffix and surrounding quotes are stripped, so
// 'abc'::text compares equal to the declared literal abc.
func canonicalDefault(stored sql.NullString) string {
	if !stored.Valid {
		return ""
	}
	value := stored.String
	if i := strings.Index(value, "::"); i >= 0 {
		value = value[:i]
	}
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "'")
	value = strings.TrimSuffix(value, "'")
	return value
}
