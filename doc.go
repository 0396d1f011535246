/*
Package rowmap maps rows of a tabular result into Go values through
specialized routines that are compiled at runtime and cached per result
shape. You write plain SQL; rowmap turns each row into a struct, a map or a
single value without reflecting over the destination on every row.

# Overview

A [Cursor] is a forward-only, column-indexed view of the current row.
[RowsCursor] adapts *sql.Rows; any other source (a CSV reader, a columnar
batch, a test fixture) can implement the interface directly.

The first time a (cursor type, row schema, destination type) triple is seen,
rowmap resolves which column feeds which member, then compiles a routine
that reads each column through the cheapest typed getter and stores it at a
precomputed offset. The routine is cached in the [Mapper]; later cursors with
the same shape reuse it.

	cur, _ := rowmap.NewRowsCursor(rows)
	next, err := rowmap.Bind[User](nil, cur)
	for cur.Next() {
	    u, err := next()
	    ...
	}

[Get], [Query] and [Each] wrap this loop for *sql.DB, *sql.Tx and *sql.Conn.

# Mapping rules

  - Struct members bind by `db:"name"` first; otherwise by case-insensitive
    field name. Quoted column names ("id", `id`, [id]) are unquoted.
  - Nested structs are flattened with `db:",inline"` or by embedding.
  - A column feeds at most one member; the first column with a given name
    wins. Columns without a member are ignored unless a `db:",extra"`
    map[string]V member collects them.
  - Members without a column keep their zero value, take their
    `db:"name,default=<literal>"` value, or fail resolution when tagged
    `required` (or for every member under [MissingFail]).
  - Members tagged `json` are decoded from the column's text or bytes.
  - Members implementing sql.Scanner receive the raw driver value.
  - map[string]V destinations collect every column; a single-column result
    maps into a scalar (bool, numbers, string, []byte, time.Time, Scanner).

# NULL handling

Pointer, any, []byte, json and Scanner members accept NULL. Other members
fail with [ErrNullValue] unless they carry a default or the mapper was built
with [WithNullAsZero].

# Errors

Resolution problems are reported as *[ResolutionError] before any row is
read. Row failures are *[ColumnError] naming the column ordinal, its name and
type, and the destination member; failures outside any column are
*[MappingError]. Conversion failures wrap [ErrConvert] or [ErrOverflow].
Get returns sql.ErrNoRows when no row matches.

# Configuration

[NewMapper] takes functional options. The same settings can be loaded from
YAML with [LoadConfig] and applied with [WithConfig]. Cache activity is
logged at debug level through the zap logger given to [WithLogger].

rowmap does not rewrite SQL or placeholders; write queries exactly as your
driver expects.
*/
package rowmap
