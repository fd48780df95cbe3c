package archive

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRowNotFound is returned when a requested row id has no entry in the
// sheet's offset table.
var ErrRowNotFound = errors.New("archive: row not found")

// Sheet is a typed, column-described relational table within the archive.
type Sheet struct {
	name  string
	hdr   *exhHeader
	excel *Excel

	pageCacheMu sync.Mutex
	pageCache   map[pageKey][]exdOffset
	fileCache   map[pageKey][]byte
}

type pageKey struct {
	startID uint32
	lang    Language
}

// Name returns the sheet's name.
func (s *Sheet) Name() string { return s.name }

// Kind reports whether the sheet is Default or Subrows.
func (s *Sheet) Kind() SheetKind { return s.hdr.Kind }

// Columns returns the sheet's columns in the order the sheet header
// declares them (not sorted by offset).
func (s *Sheet) Columns() []ColumnDef {
	out := make([]ColumnDef, len(s.hdr.Columns))
	copy(out, s.hdr.Columns)
	return out
}

// Languages returns the sheet's supported languages.
func (s *Sheet) Languages() []Language {
	out := make([]Language, len(s.hdr.Languages))
	copy(out, s.hdr.Languages)
	return out
}

// SupportsLanguage reports whether lang is among the sheet's declared
// languages, by exact match.
func (s *Sheet) SupportsLanguage(lang Language) bool {
	for _, l := range s.hdr.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

func (s *Sheet) pageFor(rowID uint32) (exhPage, bool) {
	var best exhPage
	found := false
	for _, p := range s.hdr.Pages {
		if rowID >= p.StartID && rowID < p.StartID+p.RowCount {
			return p, true
		}
		if !found || p.StartID > best.StartID {
			best, found = p, true
		}
	}
	return exhPage{}, false
}

func (s *Sheet) loadPage(page exhPage, lang Language) ([]exdOffset, []byte, error) {
	s.pageCacheMu.Lock()
	defer s.pageCacheMu.Unlock()
	if s.pageCache == nil {
		s.pageCache = make(map[pageKey][]exdOffset)
		s.fileCache = make(map[pageKey][]byte)
	}
	key := pageKey{startID: page.StartID, lang: lang}
	if offs, ok := s.pageCache[key]; ok {
		return offs, s.fileCache[key], nil
	}

	path := fmt.Sprintf("exd/%s_%d%s.exd", s.name, page.StartID, langSuffix(lang))
	raw, err := s.excel.view.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	offs, err := decodeEXDOffsets(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: decode %s: %w", path, err)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i].RowID < offs[j].RowID })

	s.pageCache[key] = offs
	s.fileCache[key] = raw
	return offs, raw, nil
}

func langSuffix(lang Language) string {
	if lang == None {
		return ""
	}
	return "_" + string(lang)
}

// Row fetches a single (rowID, subrowID) record under the given language.
func (s *Sheet) Row(rowID uint32, subrowID uint16, lang Language) (Row, error) {
	page, ok := s.pageFor(rowID)
	if !ok {
		return Row{}, fmt.Errorf("%w: row %d", ErrRowNotFound, rowID)
	}
	offs, raw, err := s.loadPage(page, lang)
	if err != nil {
		return Row{}, err
	}

	idx := sort.Search(len(offs), func(i int) bool { return offs[i].RowID >= rowID })
	if idx >= len(offs) || offs[idx].RowID != rowID {
		return Row{}, fmt.Errorf("%w: row %d", ErrRowNotFound, rowID)
	}

	blocks, err := decodeEXDRow(raw, offs[idx].Offset, s.hdr)
	if err != nil {
		return Row{}, fmt.Errorf("archive: decode row %d: %w", rowID, err)
	}

	for _, b := range blocks {
		if b.SubrowID != subrowID {
			continue
		}
		fields, err := s.readFields(b.Data)
		if err != nil {
			return Row{}, err
		}
		return Row{RowID: rowID, SubrowID: subrowID, Fields: fields, Language: lang}, nil
	}
	return Row{}, fmt.Errorf("%w: row %d subrow %d", ErrRowNotFound, rowID, subrowID)
}

func (s *Sheet) readFields(data []byte) ([]Field, error) {
	fields := make([]Field, len(s.hdr.Columns))
	for i, col := range s.hdr.Columns {
		f, err := readField(data, int(s.hdr.DataOffset), col)
		if err != nil {
			return nil, fmt.Errorf("archive: column %d: %w", i, err)
		}
		fields[i] = f
	}
	return fields, nil
}

// Iter calls fn for every row in the sheet under the given language, in
// ascending row-id (then subrow-id) order, stopping early if fn returns
// false.
func (s *Sheet) Iter(lang Language, fn func(Row) bool) error {
	pages := make([]exhPage, len(s.hdr.Pages))
	copy(pages, s.hdr.Pages)
	sort.Slice(pages, func(i, j int) bool { return pages[i].StartID < pages[j].StartID })

	for _, page := range pages {
		offs, raw, err := s.loadPage(page, lang)
		if err != nil {
			return err
		}
		for _, o := range offs {
			blocks, err := decodeEXDRow(raw, o.Offset, s.hdr)
			if err != nil {
				return fmt.Errorf("archive: decode row %d: %w", o.RowID, err)
			}
			for _, b := range blocks {
				fields, err := s.readFields(b.Data)
				if err != nil {
					return err
				}
				if !fn(Row{RowID: o.RowID, SubrowID: b.SubrowID, Fields: fields, Language: lang}) {
					return nil
				}
			}
		}
	}
	return nil
}
