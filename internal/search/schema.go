package search

import (
	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/search/sqlschema"
)

// tableName, columnName, columnType, and quoteIdent are local aliases over
// internal/search/sqlschema so the planner can keep calling the short,
// unqualified names it already uses -- the naming itself is shared with
// internal/search/vtab, which declares these exact tables and columns live
// against the archive instead of a materialized copy.
func tableName(sheet string, language archive.Language) string {
	return sqlschema.TableName(sheet, language)
}

const (
	columnRowID    = sqlschema.RowID
	columnSubrowID = sqlschema.SubrowID
)

func columnName(col archive.ColumnDef) string { return sqlschema.ColumnName(col) }

func columnType(k archive.ColumnKind) string { return sqlschema.ColumnType(k) }

func quoteIdent(name string) string { return sqlschema.QuoteIdent(name) }
