package docstore

import (
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
)

// FieldType selects the index representation of a schema field.
type FieldType int

const (
	// FieldKeyword indexes the whole value as a single token run
	// through the schema analyzer. This is what makes exact-match
	// lookups deterministic.
	FieldKeyword FieldType = iota
	// FieldBool indexes a boolean flag.
	FieldBool
	// FieldDate indexes a timestamp.
	FieldDate
	// FieldNumeric indexes a number.
	FieldNumeric
)

// Field describes one indexed path of the document body. Path is dotted
// for nested objects (e.g. "email.address"); array elements share the
// path of their parent field.
type Field struct {
	Path  string
	Type  FieldType
	Store bool
	// IncludeInAll opts the field into the catch-all aggregate field.
	// Left false for exact-match fields so cross-field indexing cannot
	// break lookup determinism.
	IncludeInAll bool
}

// Analyzer describes the custom analyzer applied to keyword fields.
type Analyzer struct {
	Name         string
	Tokenizer    string
	TokenFilters []string
}

// Schema describes an index: its analyzer, its indexed fields, and
// whether the catch-all aggregate field is disabled. Body fields not
// listed here are stored but not indexed when DisableCatchAll is set.
type Schema struct {
	Analyzer        Analyzer
	Fields          []Field
	DisableCatchAll bool
}

// LowercaseKeywordAnalyzer returns the case-insensitive exact-match
// analyzer: the whole value tokenized as one token, then lowercased.
func LowercaseKeywordAnalyzer() Analyzer {
	return Analyzer{
		Name:         "keyword_lowercase",
		Tokenizer:    single.Name,
		TokenFilters: []string{lowercase.Name},
	}
}
