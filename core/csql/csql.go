/*Package csql encapsulates access to the postgres database
 */
package csql

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/lowkey-tech/basis/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// MustOpenWithSchema opens a postgres database and selects a schema.
// The schema gets created if it does not exist yet. It panics on
// connection failure, this is a construction time function.
func MustOpenWithSchema(dataSourceName, schema string) *DB {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database")
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		rlog.Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// ErrorMessage returns the driver's message for a database error, trimmed
// to the first line after any "ERROR:" prefix. This is the only part of a
// database error that may surface to clients.
func ErrorMessage(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		message := strings.TrimPrefix(pqErr.Message, "ERROR:")
		return strings.TrimSpace(strings.SplitN(message, "\n", 2)[0])
	}
	return err.Error()
}

// IsConstraintViolation returns true for integrity constraint violations,
// unique and foreign key violations included (SQLSTATE class 23).
func IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && strings.HasPrefix(string(pqErr.Code), "23")
}

// ClearSchema clears all the data contained in the database's schema.
// Technically this is done by dropping the schema and then recreating it.
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Errorln("clear schema error:", db.Schema, err.Error())
	}
}
