// Package record defines the record model and its canonical text form.
package record

import (
	"sort"

	"github.com/google/uuid"
)

// keyNamespace scopes the UUIDv5 keys derived for records without an ID.
var keyNamespace = uuid.MustParse("6f1c2a4e-93b1-5d0e-8c43-1d7a2b9e4f60")

// Record is one observation of an entity: a field name to value map.
type Record struct {
	ID     string            `json:"id,omitempty"`
	Fields map[string]string `json:"fields"`
}

// New returns a record holding a copy of fields.
func New(id string, fields map[string]string) Record {
	return Record{ID: id, Fields: copyFields(fields)}
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	return New(r.ID, r.Fields)
}

// Get returns the value of a field and whether it is present.
func (r Record) Get(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// FieldNames returns the record's field names in lexicographic order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Key returns the record ID, or a stable UUID derived from the canonical
// text when the record has none.
func (r Record) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return uuid.NewSHA1(keyNamespace, []byte(Serialize(r, nil))).String()
}

// Pair is an ordered pair of records under comparison.
type Pair struct {
	RecordA Record `json:"record_a"`
	RecordB Record `json:"record_b"`
}

// NewPair builds a pair.
func NewPair(a, b Record) Pair {
	return Pair{RecordA: a, RecordB: b}
}

// FieldPair aligns one field across both records of a pair.
type FieldPair struct {
	Name   string
	ValueA string
	ValueB string
}

// UnionFields returns the sorted union of both records' field names.
func (p Pair) UnionFields() []string {
	seen := make(map[string]struct{}, len(p.RecordA.Fields)+len(p.RecordB.Fields))
	for k := range p.RecordA.Fields {
		seen[k] = struct{}{}
	}
	for k := range p.RecordB.Fields {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CommonFields returns the sorted names present in both records.
func (p Pair) CommonFields() []string {
	var names []string
	for k := range p.RecordA.Fields {
		if _, ok := p.RecordB.Fields[k]; ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// ExtractFieldPairs aligns both records over the sorted union of their field
// names. An absent field is reported as the empty string.
func ExtractFieldPairs(p Pair) []FieldPair {
	names := p.UnionFields()
	out := make([]FieldPair, len(names))
	for i, name := range names {
		out[i] = FieldPair{
			Name:   name,
			ValueA: p.RecordA.Fields[name],
			ValueB: p.RecordB.Fields[name],
		}
	}
	return out
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
