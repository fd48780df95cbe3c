// Package vtab implements the mache_sheet SQLite virtual table module: each
// "sheet-{name}@{language}" table reads its rows live from an in-memory
// archive view rather than a materialized copy.
package vtab

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"modernc.org/sqlite/vtab"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/search/sqlschema"
)

// SheetModule implements vtab.Module. It is a process-wide singleton
// because modernc.org/sqlite registers modules globally (driver-level, not
// per-connection).
type SheetModule struct {
	mu      sync.RWMutex
	archive map[string]*archive.Excel
}

var (
	once      sync.Once
	singleton *SheetModule
	initErr   error
)

// Register registers the mache_sheet module with the global SQLite driver.
// Safe to call multiple times — only the first call registers.
func Register() (*SheetModule, error) {
	once.Do(func() {
		singleton = &SheetModule{archive: make(map[string]*archive.Excel)}
		if err := vtab.RegisterModule(nil, "mache_sheet", singleton); err != nil {
			initErr = fmt.Errorf("vtab: register mache_sheet module: %w", err)
			singleton = nil
		}
	})
	return singleton, initErr
}

// RegisterArchive makes excel available to CREATE VIRTUAL TABLE statements
// under the given id (the per-version database's own identity works well
// here, since it's already unique and stable for the process lifetime).
func (m *SheetModule) RegisterArchive(id string, excel *archive.Excel) {
	m.mu.Lock()
	m.archive[id] = excel
	m.mu.Unlock()
}

// UnregisterArchive drops an archive registration once its database closes.
func (m *SheetModule) UnregisterArchive(id string) {
	m.mu.Lock()
	delete(m.archive, id)
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// vtab.Module
// ---------------------------------------------------------------------------

// Create/Connect both parse a USING mache_sheet(archive=ID, sheet=NAME,
// language=LANG) clause and declare the backing table's schema from the
// named sheet's own columns -- row_id/subrow_id, then one column per game
// column, typed per columnType.
func (m *SheetModule) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	// argv[0] = module name, argv[1] = db name, argv[2] = table name,
	// argv[3:] = the USING(...) arguments.
	if len(args) < 4 {
		return nil, fmt.Errorf("mache_sheet: missing arguments (expected USING mache_sheet(archive=..., sheet=..., language=...))")
	}

	params, err := parseArgs(args[3:])
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	excel, ok := m.archive[params.archiveID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mache_sheet: unknown archive id %q", params.archiveID)
	}

	sheet, err := excel.Sheet(params.sheet)
	if err != nil {
		return nil, fmt.Errorf("mache_sheet: sheet %s: %w", params.sheet, err)
	}
	if !sheet.SupportsLanguage(params.language) {
		return nil, fmt.Errorf("mache_sheet: sheet %s does not support language %s", params.sheet, params.language)
	}

	columns := sheet.Columns()
	var decl strings.Builder
	decl.WriteString("CREATE TABLE x(row_id INTEGER, subrow_id INTEGER")
	for _, col := range columns {
		fmt.Fprintf(&decl, ", %s %s", sqlschema.QuoteIdent(sqlschema.ColumnName(col)), sqlschema.ColumnType(col.Kind))
	}
	decl.WriteString(")")
	if err := ctx.Declare(decl.String()); err != nil {
		return nil, fmt.Errorf("mache_sheet: declare %s@%s: %w", params.sheet, params.language, err)
	}

	return &sheetTable{sheet: sheet, language: params.language, columns: columns}, nil
}

func (m *SheetModule) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

type createArgs struct {
	archiveID string
	sheet     string
	language  archive.Language
}

// parseArgs parses the comma-separated key=value argument list SQLite
// passes verbatim from the USING(...) clause.
func parseArgs(raw []string) (createArgs, error) {
	var out createArgs
	for _, part := range raw {
		for _, kv := range strings.Split(part, ",") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return createArgs{}, fmt.Errorf("mache_sheet: malformed argument %q", kv)
			}
			key, value = strings.TrimSpace(key), strings.TrimSpace(value)
			switch key {
			case "archive":
				out.archiveID = value
			case "sheet":
				out.sheet = value
			case "language":
				out.language = archive.Language(value)
			default:
				return createArgs{}, fmt.Errorf("mache_sheet: unrecognized argument %q", key)
			}
		}
	}
	if out.archiveID == "" || out.sheet == "" || out.language == "" {
		return createArgs{}, fmt.Errorf("mache_sheet: missing archive, sheet, or language argument")
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// vtab.Table
// ---------------------------------------------------------------------------

type sheetTable struct {
	sheet    *archive.Sheet
	language archive.Language
	columns  []archive.ColumnDef
}

// BestIndex offers SQLite a cheap point-lookup plan when the query
// constrains row_id by equality, and falls back to a full scan otherwise --
// the same two-tier shape as refsTable.BestIndex, simplified to the single
// constrained column search actually benefits from here.
func (t *sheetTable) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Column != 0 || c.Op != vtab.OpEQ {
			continue
		}
		c.ArgIndex = 0
		c.Omit = true
		info.IdxNum = 1
		info.EstimatedCost = 1
		info.EstimatedRows = 4
		return nil
	}
	info.IdxNum = 0
	info.EstimatedCost = 1e6
	info.EstimatedRows = 1e6
	return nil
}

func (t *sheetTable) Open() (vtab.Cursor, error) {
	return &sheetCursor{table: t}, nil
}

func (t *sheetTable) Disconnect() error { return nil }
func (t *sheetTable) Destroy() error    { return nil }

// ---------------------------------------------------------------------------
// vtab.Cursor
// ---------------------------------------------------------------------------

type sheetCursor struct {
	table *sheetTable
	rows  []archive.Row
	pos   int
}

func (c *sheetCursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.rows = c.rows[:0]
	c.pos = 0

	if idxNum == 1 {
		rowID, ok := rowIDArg(vals[0])
		if !ok {
			return nil
		}
		return c.table.sheet.Iter(c.table.language, func(row archive.Row) bool {
			if row.RowID < rowID {
				return true
			}
			if row.RowID == rowID {
				c.rows = append(c.rows, row)
				return true
			}
			return false
		})
	}

	return c.table.sheet.Iter(c.table.language, func(row archive.Row) bool {
		c.rows = append(c.rows, row)
		return true
	})
}

// rowIDArg converts whatever numeric representation SQLite hands back for
// a bound row_id argument into a uint32.
func rowIDArg(v vtab.Value) (uint32, bool) {
	switch val := v.(type) {
	case int64:
		return uint32(val), true
	case float64:
		return uint32(val), true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

func (c *sheetCursor) Next() error {
	c.pos++
	return nil
}

func (c *sheetCursor) Eof() bool {
	return c.pos >= len(c.rows)
}

func (c *sheetCursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	row := c.rows[c.pos]
	switch col {
	case 0:
		return int64(row.RowID), nil
	case 1:
		return int64(row.SubrowID), nil
	default:
		idx := col - 2
		if idx < 0 || idx >= len(row.Fields) {
			return nil, nil
		}
		return fieldValue(row.Fields[idx], c.table.columns[idx].Kind), nil
	}
}

func (c *sheetCursor) Rowid() (int64, error) {
	if c.pos >= len(c.rows) {
		return 0, nil
	}
	return int64(c.rows[c.pos].RowID), nil
}

func (c *sheetCursor) Close() error {
	c.rows = nil
	return nil
}

func fieldValue(f archive.Field, kind archive.ColumnKind) vtab.Value {
	switch {
	case kind == archive.KindString:
		return f.String
	case kind == archive.KindBool || kind.IsPackedBool():
		return f.Bool
	case kind == archive.KindFloat32:
		return float64(f.Float)
	case isSignedColumn(kind):
		return f.Int
	default:
		return int64(f.Uint)
	}
}

func isSignedColumn(k archive.ColumnKind) bool {
	switch k {
	case archive.KindInt8, archive.KindInt16, archive.KindInt32, archive.KindInt64:
		return true
	default:
		return false
	}
}
