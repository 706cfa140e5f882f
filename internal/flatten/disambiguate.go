package flatten

import (
	"strconv"

	"github.com/jzelinskie/stringz"
)

// DefaultSeparator joins a table name and a column name when a column is
// qualified, e.g. "flights.year".
const DefaultSeparator = "."

// Disambiguate returns the renames (table -> old -> new) that make every
// column name unique across tables. A name used by more than one table is
// qualified with its table name in each of them; names used once are kept.
//
// The result depends only on the order of tables and of their columns.
func Disambiguate(tables []string, columns map[string][]string, sep string) map[string]map[string]string {
	sep = stringz.DefaultEmpty(sep, DefaultSeparator)

	owners := make(map[string]int)
	for _, t := range tables {
		for _, c := range stringz.Dedup(columns[t]) {
			owners[c]++
		}
	}

	// Names that survive unchanged are taken first so a qualified name never
	// shadows an existing column.
	taken := make(map[string]bool)
	for _, t := range tables {
		for _, c := range columns[t] {
			if owners[c] == 1 {
				taken[c] = true
			}
		}
	}

	renames := make(map[string]map[string]string)
	for _, t := range tables {
		for _, c := range columns[t] {
			if owners[c] < 2 {
				continue
			}
			name := t + sep + c
			for i := 2; taken[name]; i++ {
				name = t + sep + c + sep + strconv.Itoa(i)
			}
			taken[name] = true
			if renames[t] == nil {
				renames[t] = make(map[string]string)
			}
			renames[t][c] = name
		}
	}
	return renames
}

// renamed returns the name column of table has after renames.
func renamed(renames map[string]map[string]string, table, column string) string {
	if to, ok := renames[table][column]; ok {
		return to
	}
	return column
}
