package sqlbackend

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect controls identifier quoting, placeholders and the few constructs
// that differ between engines.
type Dialect int

const (
	// DialectPostgres uses "ident" quoting and $1, $2, … placeholders.
	DialectPostgres Dialect = iota

	// DialectMySQL uses `ident` quoting and ? placeholders, and has no FULL JOIN.
	DialectMySQL
)

func (d Dialect) String() string {
	if d == DialectMySQL {
		return "mysql"
	}
	return "postgres"
}

// placeholders returns the squirrel format applied when a statement is executed.
// Statements are composed with ? throughout so nested sub-queries never need
// renumbering.
func (d Dialect) placeholders() sq.PlaceholderFormat {
	if d == DialectMySQL {
		return sq.Question
	}
	return sq.Dollar
}

// quoteIdent quotes a single identifier. Embedded quote characters are doubled,
// so names like `orders.amount` produced by disambiguation stay one identifier.
func (d Dialect) quoteIdent(name string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// qualify returns a quoting function for columns of the given table alias.
func (d Dialect) qualify(alias string) func(string) string {
	return func(column string) string {
		return alias + "." + d.quoteIdent(column)
	}
}

func (d Dialect) supportsFullJoin() bool {
	return d != DialectMySQL
}
