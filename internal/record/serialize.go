package record

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	// FieldSeparator joins serialized "name: value" parts.
	FieldSeparator = " | "
	// PairSeparator joins the two sides of a serialized pair.
	PairSeparator = " [SEP] "
)

var sentinels = map[string]struct{}{
	"":     {},
	"nan":  {},
	"none": {},
	"null": {},
}

// IsBlank reports whether a value carries no information: empty after
// trimming, or one of the missing-value sentinels.
func IsBlank(v string) bool {
	_, ok := sentinels[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// Serialize renders a record as "name: value" parts joined by " | ".
// An explicit order is used as given; otherwise fields are sorted by name.
// Blank values are skipped.
func Serialize(r Record, order []string) string {
	if order == nil {
		order = r.FieldNames()
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		v, ok := r.Fields[name]
		if !ok || IsBlank(v) {
			continue
		}
		parts = append(parts, name+": "+strings.TrimSpace(v))
	}
	return strings.Join(parts, FieldSeparator)
}

// SerializePair serializes both records over the same field order, taken
// from the sorted union of their names.
func SerializePair(p Pair) (string, string) {
	order := p.UnionFields()
	return Serialize(p.RecordA, order), Serialize(p.RecordB, order)
}

// SerializePairJoined is SerializePair with both sides joined by " [SEP] ".
func SerializePairJoined(p Pair) string {
	a, b := SerializePair(p)
	return a + PairSeparator + b
}

// FieldEmbeddingTexts maps each field name to "value_a [SEP] value_b" for
// field-level encoding. Fields empty on both sides are left out.
func FieldEmbeddingTexts(p Pair) map[string]string {
	out := make(map[string]string)
	for _, fp := range ExtractFieldPairs(p) {
		if fp.ValueA == "" && fp.ValueB == "" {
			continue
		}
		out[fp.Name] = fp.ValueA + PairSeparator + fp.ValueB
	}
	return out
}

// NormalizeText applies NFKC, lowercases, collapses whitespace runs to a
// single space and trims.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	// Casers keep state, so one per call.
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Preprocess returns normalized copies of the records. Only the named
// fields are normalized; all fields are when none are named.
func Preprocess(records []Record, fields []string) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		c := r.Clone()
		targets := fields
		if len(targets) == 0 {
			targets = c.FieldNames()
		}
		for _, name := range targets {
			if v, ok := c.Fields[name]; ok {
				c.Fields[name] = NormalizeText(v)
			}
		}
		out[i] = c
	}
	return out
}
