/*Package query performs CRUD against arbitrary model tables.

There is no per-model generated code: all SQL is assembled from the
model definition, with identifiers taken only from validated metadata
and every value passed as a bound parameter. Inbound write payloads are
coerced and safelisted against the declared fields, unknown keys never
reach a statement.
*/
package query

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/csql"
	"github.com/lowkey-tech/basis/core/logger"
	"github.com/lowkey-tech/basis/core/model"
)

// Engine executes dynamic CRUD operations
type Engine struct {
	db *csql.DB
}

// New creates a query engine for the given database
func New(db *csql.DB) *Engine {
	return &Engine{db: db}
}

// Record is one row of a model's table, keyed by column name
type Record map[string]interface{}

// ListOptions control pagination and search for List
type ListOptions struct {
	Page   int
	Limit  int
	Search string
}

// ListResult is one page of records plus the total count of all records
// matching the search, regardless of paging.
type ListResult struct {
	Data  []Record `json:"data"`
	Total int      `json:"total"`
}

// Coerce applies field typing to an inbound payload and safelists it
// against the declared fields. Empty and null values are dropped, number
// and relation values are coerced to numeric and dropped if unparseable,
// boolean values get a truthy cast. Unknown keys are silently ignored.
func Coerce(definition *model.Definition, payload map[string]interface{}) map[string]interface{} {
	coerced := map[string]interface{}{}
	for _, field := range definition.Fields {
		value, ok := payload[field.Name]
		if !ok || value == nil || value == "" {
			continue
		}
		switch field.Type {
		case model.FieldNumber, model.FieldRelation:
			number, ok := toNumber(value)
			if !ok {
				continue
			}
			coerced[field.Name] = number
		case model.FieldBoolean:
			coerced[field.Name] = truthy(value)
		default:
			coerced[field.Name] = value
		}
	}
	return coerced
}

func toNumber(value interface{}) (float64, bool) {
	switch t := value.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		number, err := strconv.ParseFloat(t, 64)
		return number, err == nil
	}
	return 0, false
}

func truthy(value interface{}) bool {
	switch t := value.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && strings.ToLower(t) != "false"
	}
	return value != nil
}

// Create inserts a record. If the model declares an owner field and an
// owner id is supplied, the field is forced to the owner id; the payload
// cannot override ownership.
func (e *Engine) Create(definition *model.Definition, payload map[string]interface{}, ownerID *int64) (Record, error) {
	coerced := Coerce(definition, payload)
	if definition.OwnerField != "" && ownerID != nil {
		coerced[definition.OwnerField] = float64(*ownerID)
	}
	if len(coerced) == 0 {
		return nil, core.BadRequestf("empty payload for model '%s'", definition.Name)
	}

	var columns []string
	var placeholders []string
	var arguments []interface{}
	for _, field := range definition.Fields {
		value, ok := coerced[field.Name]
		if !ok {
			continue
		}
		columns = append(columns, `"`+field.Name+`"`)
		placeholders = append(placeholders, "$"+strconv.Itoa(len(arguments)+1))
		arguments = append(arguments, value)
	}

	insertQuery := fmt.Sprintf(`INSERT INTO %s."%s" (%s) VALUES(%s) RETURNING %s;`,
		e.db.Schema, definition.Table(),
		strings.Join(columns, ", "), strings.Join(placeholders, ", "),
		selectColumns(definition))

	values, object := scanValuesAndRecord(definition)
	err := e.db.QueryRow(insertQuery, arguments...).Scan(values...)
	if err != nil {
		return nil, writeError(err, definition)
	}
	return object(), nil
}

// List returns one page of records ordered by id descending. A non-empty
// search becomes a case-insensitive substring match across every string
// and number field. Page fetch and total count are issued as one
// consistent read unit.
func (e *Engine) List(definition *model.Definition, options ListOptions) (*ListResult, error) {
	page := options.Page
	if page < 1 {
		page = 1
	}
	limit := options.Limit
	if limit < 1 {
		limit = 10
	}

	where, arguments := searchClause(definition, options.Search)
	listQuery := fmt.Sprintf(`SELECT %s, count(*) OVER() AS full_count FROM %s."%s" %sORDER BY "id" DESC LIMIT $%d OFFSET $%d;`,
		selectColumns(definition), e.db.Schema, definition.Table(), where,
		len(arguments)+1, len(arguments)+2)
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s."%s" %s;`, e.db.Schema, definition.Table(), where)
	listArguments := append(append([]interface{}{}, arguments...), limit, (page-1)*limit)

	tx, err := e.db.Begin()
	if err != nil {
		return nil, core.Internalf(err, "cannot begin list transaction")
	}
	defer tx.Rollback()

	rows, err := tx.Query(listQuery, listArguments...)
	if err != nil {
		return nil, core.Internalf(err, "cannot list model '%s'", definition.Name)
	}
	defer rows.Close()

	result := &ListResult{Data: []Record{}}
	for rows.Next() {
		values, object := scanValuesAndRecord(definition)
		values = append(values, &result.Total)
		if err := rows.Scan(values...); err != nil {
			return nil, core.Internalf(err, "cannot scan record of model '%s'", definition.Name)
		}
		result.Data = append(result.Data, object())
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internalf(err, "cannot list model '%s'", definition.Name)
	}
	rows.Close()

	if len(result.Data) == 0 {
		// the windowed count comes back empty beyond the last page, ask
		// for the total inside the same transaction
		if err := tx.QueryRow(countQuery, arguments...).Scan(&result.Total); err != nil {
			return nil, core.Internalf(err, "cannot count model '%s'", definition.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, core.Internalf(err, "cannot commit list transaction")
	}
	return result, nil
}

// FindOne returns the record with the given id
func (e *Engine) FindOne(definition *model.Definition, id int64) (Record, error) {
	readQuery := fmt.Sprintf(`SELECT %s FROM %s."%s" WHERE "id" = $1;`,
		selectColumns(definition), e.db.Schema, definition.Table())
	values, object := scanValuesAndRecord(definition)
	err := e.db.QueryRow(readQuery, id).Scan(values...)
	if err == csql.ErrNoRows {
		return nil, core.NotFoundf("no %s with id %d", definition.Name, id)
	}
	if err != nil {
		return nil, core.Internalf(err, "cannot read record of model '%s'", definition.Name)
	}
	return object(), nil
}

// Update modifies a record and stamps updatedAt
func (e *Engine) Update(definition *model.Definition, id int64, payload map[string]interface{}) (Record, error) {
	coerced := Coerce(definition, payload)
	if len(coerced) == 0 {
		return nil, core.BadRequestf("no updatable fields in payload for model '%s'", definition.Name)
	}

	var sets []string
	var arguments []interface{}
	for _, field := range definition.Fields {
		value, ok := coerced[field.Name]
		if !ok {
			continue
		}
		arguments = append(arguments, value)
		sets = append(sets, fmt.Sprintf(`"%s" = $%d`, field.Name, len(arguments)))
	}
	arguments = append(arguments, id)

	updateQuery := fmt.Sprintf(`UPDATE %s."%s" SET %s, "updatedAt" = now() WHERE "id" = $%d RETURNING %s;`,
		e.db.Schema, definition.Table(), strings.Join(sets, ", "), len(arguments),
		selectColumns(definition))

	values, object := scanValuesAndRecord(definition)
	err := e.db.QueryRow(updateQuery, arguments...).Scan(values...)
	if err == csql.ErrNoRows {
		return nil, core.NotFoundf("no %s with id %d", definition.Name, id)
	}
	if err != nil {
		return nil, writeError(err, definition)
	}
	return object(), nil
}

// Delete verifies existence and removes the record, returning a
// confirmation message rather than the deleted row.
func (e *Engine) Delete(definition *model.Definition, id int64) (string, error) {
	var existing int64
	existsQuery := fmt.Sprintf(`SELECT "id" FROM %s."%s" WHERE "id" = $1;`, e.db.Schema, definition.Table())
	err := e.db.QueryRow(existsQuery, id).Scan(&existing)
	if err == csql.ErrNoRows {
		return "", core.NotFoundf("no %s with id %d", definition.Name, id)
	}
	if err != nil {
		return "", core.Internalf(err, "cannot read record of model '%s'", definition.Name)
	}
	deleteQuery := fmt.Sprintf(`DELETE FROM %s."%s" WHERE "id" = $1;`, e.db.Schema, definition.Table())
	if _, err := e.db.Exec(deleteQuery, id); err != nil {
		return "", core.Internalf(err, "cannot delete record of model '%s'", definition.Name)
	}
	return fmt.Sprintf("%s with id %d deleted", definition.Name, id), nil
}

// writeError classifies a database error from a write: constraint
// violations surface to the client with the driver's trimmed message,
// everything else stays internal.
func writeError(err error, definition *model.Definition) error {
	if csql.IsConstraintViolation(err) {
		return core.BadRequestf("%s", csql.ErrorMessage(err))
	}
	logger.Default().WithError(err).Errorln("query: write failed for model", definition.Name)
	return core.Internalf(err, "cannot write record of model '%s'", definition.Name)
}

// selectColumns returns the quoted column list of a model: the system
// columns plus one column per declared field.
func selectColumns(definition *model.Definition) string {
	columns := []string{`"id"`, `"createdAt"`, `"updatedAt"`}
	for _, field := range definition.Fields {
		columns = append(columns, `"`+field.Name+`"`)
	}
	return strings.Join(columns, ", ")
}

// searchClause builds the WHERE clause for a search term: an OR across
// every string and number field, numbers compared via text cast. The
// term is bound as a parameter.
func searchClause(definition *model.Definition, search string) (string, []interface{}) {
	if search == "" {
		return "", nil
	}
	var conditions []string
	for _, field := range definition.Fields {
		switch field.Type {
		case model.FieldString:
			conditions = append(conditions, fmt.Sprintf(`"%s" ILIKE $1`, field.Name))
		case model.FieldNumber:
			conditions = append(conditions, fmt.Sprintf(`CAST("%s" AS TEXT) ILIKE $1`, field.Name))
		}
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE (" + strings.Join(conditions, " OR ") + ") ", []interface{}{"%" + search + "%"}
}

// scanValuesAndRecord creates scan destinations for one row of a model's
// table and a builder that turns the scanned values into a Record.
func scanValuesAndRecord(definition *model.Definition) ([]interface{}, func() Record) {
	values := make([]interface{}, 0, len(definition.Fields)+3)
	values = append(values, new(int64), new(time.Time), new(time.Time))
	for _, field := range definition.Fields {
		switch field.Type {
		case model.FieldNumber:
			values = append(values, new(sql.NullFloat64))
		case model.FieldBoolean:
			values = append(values, new(sql.NullBool))
		case model.FieldDate:
			values = append(values, new(sql.NullTime))
		case model.FieldRelation:
			values = append(values, new(sql.NullInt64))
		default:
			values = append(values, new(sql.NullString))
		}
	}

	object := func() Record {
		record := Record{
			model.ColumnID:        *values[0].(*int64),
			model.ColumnCreatedAt: *values[1].(*time.Time),
			model.ColumnUpdatedAt: *values[2].(*time.Time),
		}
		for i, field := range definition.Fields {
			switch value := values[i+3].(type) {
			case *sql.NullFloat64:
				if value.Valid {
					record[field.Name] = value.Float64
				} else {
					record[field.Name] = nil
				}
			case *sql.NullBool:
				if value.Valid {
					record[field.Name] = value.Bool
				} else {
					record[field.Name] = nil
				}
			case *sql.NullTime:
				if value.Valid {
					record[field.Name] = value.Time
				} else {
					record[field.Name] = nil
				}
			case *sql.NullInt64:
				if value.Valid {
					record[field.Name] = value.Int64
				} else {
					record[field.Name] = nil
				}
			case *sql.NullString:
				if value.Valid {
					record[field.Name] = value.String
				} else {
					record[field.Name] = nil
				}
			}
		}
		return record
	}
	return values, object
}
