// Package filter parses the dot-path filter DSL ("a.b[].c@lang(ja)@as(html)")
// into a nested selection tree and merges multiple parsed filters.
package filter

import (
	"errors"
	"fmt"
)

// ReadAs controls how a matched string scalar is rendered at read time.
type ReadAs int

const (
	ReadDefault ReadAs = iota
	ReadRaw
	ReadHTML
)

// Kind tags which variant a Filter holds.
type Kind int

const (
	KindStruct Kind = iota
	KindArray
	KindAll
)

// StructEntry is one key's selection within a Struct filter: the schema
// field name it targets, the language to read it under, how to render
// string scalars, and the nested filter for its children.
type StructEntry struct {
	Field    string
	Language string
	ReadAs   ReadAs
	Filter   Filter
}

// Filter is the parsed selection tree. All, Array, and Struct are the only
// inhabited variants; the zero value is an empty Struct (match nothing).
type Filter struct {
	Kind   Kind
	Array  *Filter
	Struct map[string]StructEntry
}

// All is the Filter that selects everything.
var All = Filter{Kind: KindAll}

// Empty is the Filter that selects nothing (an empty Struct).
var Empty = Filter{Kind: KindStruct, Struct: map[string]StructEntry{}}

// ErrInvalid is returned for malformed filter strings and unmergeable
// filter shapes.
var ErrInvalid = errors.New("filter: invalid")

// Merge combines two filters at the same tree position per the parser's
// merge rule: All absorbs anything; two Arrays merge their inners
// recursively; two Structs merge by key, keeping the first entry's
// Field/Language/ReadAs on collision; anything else is invalid.
func Merge(a, b Filter) (Filter, error) {
	if a.Kind == KindAll || b.Kind == KindAll {
		return All, nil
	}
	if a.Kind == KindArray && b.Kind == KindArray {
		inner, err := Merge(*a.Array, *b.Array)
		if err != nil {
			return Filter{}, err
		}
		return Filter{Kind: KindArray, Array: &inner}, nil
	}
	if a.Kind == KindStruct && b.Kind == KindStruct {
		merged := make(map[string]StructEntry, len(a.Struct)+len(b.Struct))
		for k, v := range a.Struct {
			merged[k] = v
		}
		for k, v := range b.Struct {
			existing, ok := merged[k]
			if !ok {
				merged[k] = v
				continue
			}
			innerMerged, err := Merge(existing.Filter, v.Filter)
			if err != nil {
				return Filter{}, err
			}
			existing.Filter = innerMerged
			merged[k] = existing
		}
		return Filter{Kind: KindStruct, Struct: merged}, nil
	}
	return Filter{}, fmt.Errorf("%w: cannot merge incompatible filter shapes", ErrInvalid)
}
