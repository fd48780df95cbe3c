package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSheetNotFound is returned when a sheet name is absent from root.exl.
var ErrSheetNotFound = errors.New("archive: sheet not found")

// Excel is a typed reader over one version's archive view, exposing the
// sheet list and per-sheet column/row access described by the data-layer
// contract.
type Excel struct {
	view            *View
	defaultLanguage Language

	mu     sync.Mutex
	list   []string
	sheets map[string]*Sheet
}

// NewExcel opens the sheet list ("exd/root.exl") and prepares an empty
// per-sheet cache; individual sheets are decoded lazily on first access.
func NewExcel(v *View, defaultLanguage Language) (*Excel, error) {
	raw, err := v.ReadFile("exd/root.exl")
	if err != nil {
		return nil, fmt.Errorf("archive: read root.exl: %w", err)
	}
	list, err := parseRootList(raw)
	if err != nil {
		return nil, err
	}
	return &Excel{
		view:            v,
		defaultLanguage: defaultLanguage,
		list:            list,
		sheets:          make(map[string]*Sheet),
	}, nil
}

// List returns every sheet name known to this version, sorted by name
// (parseRootList sorts them when the root list is read).
func (e *Excel) List() []string {
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out
}

// DefaultLanguage returns the version's default language.
func (e *Excel) DefaultLanguage() Language { return e.defaultLanguage }

// Sheet returns the named sheet, decoding and caching its .exh header on
// first access.
func (e *Excel) Sheet(name string) (*Sheet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sheets[name]; ok {
		return s, nil
	}
	if !contains(e.list, name) {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}

	raw, err := e.view.ReadFile(fmt.Sprintf("exd/%s.exh", name))
	if err != nil {
		return nil, fmt.Errorf("archive: read %s.exh: %w", name, err)
	}
	hdr, err := decodeEXH(raw)
	if err != nil {
		return nil, fmt.Errorf("archive: decode %s.exh: %w", name, err)
	}

	s := &Sheet{name: name, hdr: hdr, excel: e}
	e.sheets[name] = s
	return s, nil
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func parseRootList(raw []byte) ([]string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	var names []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("archive: scan root.exl: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
