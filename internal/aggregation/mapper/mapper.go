// Package mapper normalises raw submitted field values onto the canonical
// dropdown options of a solution category.
//
// Mapping is a pure function of (field, raw value, category) and the loaded
// tables, so re-aggregating the same ratings always yields the same buckets.
package mapper

import (
	"strings"

	"golang.org/x/text/cases"
)

// MatchKind records how a raw value was resolved.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchAlias MatchKind = "alias"
	// MatchNone means the field has a table but the value is not in it.
	MatchNone MatchKind = "none"
	// MatchNoTable means the field is free-form for this category.
	MatchNoTable MatchKind = "no_table"
)

// Result is the tagged outcome of one mapping. Unmapped values pass through
// unchanged (trimmed) so no submitted data is dropped.
type Result struct {
	Value  string
	Mapped bool
	Kind   MatchKind
}

// Miss reports a value that a known dropdown could not place.
func (r Result) Miss() bool { return r.Kind == MatchNone }

type fieldIndex struct {
	canonical map[string]string // folded option -> option
	aliases   map[string]string // folded alias -> option
}

type Mapper struct {
	common     map[string]*fieldIndex
	categories map[string]map[string]*fieldIndex
	thresholds map[string]int
}

func New(opts *Options) *Mapper {
	m := &Mapper{
		common:     map[string]*fieldIndex{},
		categories: map[string]map[string]*fieldIndex{},
		thresholds: map[string]int{},
	}
	if opts == nil {
		return m
	}
	for field, fo := range opts.CommonFields {
		m.common[normalizeKey(field)] = buildIndex(fo)
	}
	for cat, co := range opts.Categories {
		key := normalizeKey(cat)
		fields := make(map[string]*fieldIndex, len(co.Fields))
		for field, fo := range co.Fields {
			fields[normalizeKey(field)] = buildIndex(fo)
		}
		m.categories[key] = fields
		if co.TransitionThreshold > 0 {
			m.thresholds[key] = co.TransitionThreshold
		}
	}
	return m
}

func buildIndex(fo FieldOptions) *fieldIndex {
	idx := &fieldIndex{
		canonical: make(map[string]string, len(fo.Options)),
		aliases:   make(map[string]string, len(fo.Aliases)),
	}
	for _, opt := range fo.Options {
		idx.canonical[fold(opt)] = opt
	}
	for alias, target := range fo.Aliases {
		idx.aliases[fold(alias)] = target
	}
	return idx
}

// MapToDropdownValue resolves raw against the category's table for field:
// a case-insensitive option match wins, then the alias table, then passthrough.
func (m *Mapper) MapToDropdownValue(field, raw, category string) Result {
	value := collapseSpace(raw)
	if value == "" {
		return Result{Kind: MatchNone}
	}
	idx := m.lookup(field, category)
	if idx == nil {
		return Result{Value: value, Kind: MatchNoTable}
	}
	key := fold(value)
	if opt, ok := idx.canonical[key]; ok {
		return Result{Value: opt, Mapped: true, Kind: MatchExact}
	}
	if opt, ok := idx.aliases[key]; ok {
		return Result{Value: opt, Mapped: true, Kind: MatchAlias}
	}
	return Result{Value: value, Kind: MatchNone}
}

// TransitionThreshold returns the category override, or def.
func (m *Mapper) TransitionThreshold(category string, def int) int {
	if n, ok := m.thresholds[normalizeKey(category)]; ok {
		return n
	}
	return def
}

func (m *Mapper) lookup(field, category string) *fieldIndex {
	f := normalizeKey(field)
	if fields, ok := m.categories[normalizeKey(category)]; ok {
		if idx, ok := fields[f]; ok {
			return idx
		}
	}
	return m.common[f]
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fold builds a fresh Caser per call: cases.Caser keeps state and must not be
// shared across goroutines.
func fold(s string) string {
	return cases.Fold().String(collapseSpace(s))
}
