package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// maxChain bounds how many wrapped layers LogFields records.
const maxChain = 8

// LogFields flattens err into structured log fields: its code, the wrap chain
// and, when a postgres error sits in the chain, the server-side diagnostics.
// Either postgres driver may be in use depending on how the pool was opened.
func LogFields(err error) map[string]any {
	if err == nil {
		return nil
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.Code())
	}

	var chain []string
	for e := err; e != nil && len(chain) < maxChain; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields["error_chain"] = chain

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		addPG(fields, pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail)
	case stdErrors.As(err, &pqErr):
		addPG(fields, string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail)
	}
	return fields
}

func addPG(fields map[string]any, code, constraint, table, detail string) {
	fields["pg_code"] = code
	if constraint != "" {
		fields["pg_constraint"] = constraint
	}
	if table != "" {
		fields["pg_table"] = table
	}
	if detail != "" {
		fields["pg_detail"] = detail
	}
}
