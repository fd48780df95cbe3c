package search

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/search/vtab"
	"github.com/agentic-research/mache/internal/version"
	_ "modernc.org/sqlite"
)

// Engine owns one in-memory SQLite database per indexed version, plus the
// cursor cache shared across search requests. Each database's sheet tables
// are virtual tables backed live by the version's archive, via the
// mache_sheet module -- there is no separate row copy to keep in sync.
type Engine struct {
	mu      sync.Mutex
	module  *vtab.SheetModule
	dbs     map[version.Key]*sql.DB
	cursors *Cache
}

// NewEngine constructs an Engine backed by the given cursor cache,
// registering the mache_sheet virtual table module with the SQLite driver
// on first use.
func NewEngine(cursors *Cache) (*Engine, error) {
	module, err := vtab.Register()
	if err != nil {
		return nil, err
	}
	return &Engine{
		module:  module,
		dbs:     make(map[version.Key]*sql.DB),
		cursors: cursors,
	}, nil
}

// Index makes every named sheet, under every language it supports,
// queryable against key's database as a mache_sheet virtual table,
// creating the database on first use. Re-indexing a version already open
// is a no-op for tables that already exist.
func (e *Engine) Index(key version.Key, excel *archive.Excel, sheetNames []string) error {
	db, err := e.open(key, excel)
	if err != nil {
		return err
	}

	for _, name := range sheetNames {
		sheet, err := excel.Sheet(name)
		if err != nil {
			return fmt.Errorf("search: index %s: %w", name, err)
		}
		for _, lang := range sheet.Languages() {
			if err := declareSheetTable(db, key, name, lang); err != nil {
				return fmt.Errorf("search: index %s@%s: %w", name, lang, err)
			}
		}
	}
	return nil
}

func (e *Engine) open(key version.Key, excel *archive.Excel) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if db, ok := e.dbs[key]; ok {
		return db, nil
	}

	e.module.RegisterArchive(key.String(), excel)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", key)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		e.module.UnregisterArchive(key.String())
		return nil, fmt.Errorf("search: open database for version %s: %w", key, err)
	}
	db.SetMaxIdleConns(4)

	e.dbs[key] = db
	return db, nil
}

// db returns the already-open database for a version, or ErrVersionNotIndexed.
func (e *Engine) db(key version.Key) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	db, ok := e.dbs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotIndexed, key)
	}
	return db, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func declareSheetTable(db *sql.DB, key version.Key, sheetName string, lang archive.Language) error {
	table := tableName(sheetName, lang)
	exists, err := tableExists(db, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Printf("search: declaring %s", table)

	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE %s USING mache_sheet(archive=%s, sheet=%s, language=%s)",
		quoteIdent(table), key.String(), sheetName, lang,
	)
	_, err = db.Exec(stmt)
	return err
}
