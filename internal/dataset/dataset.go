// Package dataset catalogs the benchmark datasets and loads records from
// CSV and JSON files.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/efebarandurmaz/linkage/internal/record"
)

// ErrNotFound is returned for unknown datasets and missing files.
var ErrNotFound = errors.New("dataset not found")

// DefaultSamples is the number of sample records returned with Info.
const DefaultSamples = 5

// Info describes a dataset.
type Info struct {
	Key           string          `json:"key"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	NumRecords    int             `json:"num_records"`
	Fields        []string        `json:"fields"`
	SampleRecords []record.Record `json:"sample_records,omitempty"`
}

type entry struct {
	name        string
	description string
	file        string
}

var builtin = map[string]entry{
	"uci": {
		name:        "UCI Record Linkage",
		description: "UCI Record Linkage Comparison Patterns (~574K pairs)",
		file:        "uci_record_linkage.csv",
	},
	"dblp_acm": {
		name:        "DBLP-ACM",
		description: "Academic publications from DBLP and ACM (clean data)",
		file:        "dblp_acm.csv",
	},
	"dblp_scholar_dirty": {
		name:        "DBLP-Scholar (Dirty)",
		description: "Academic publications with data quality issues",
		file:        "dblp_scholar_dirty.csv",
	},
	"walmart_amazon": {
		name:        "Walmart-Amazon",
		description: "E-commerce product matching (~10K pairs)",
		file:        "walmart_amazon.csv",
	},
}

// Catalog resolves dataset names to files under a data directory.
type Catalog struct {
	dir string
}

// NewCatalog creates a catalog rooted at dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Dir returns the data directory.
func (c *Catalog) Dir() string { return c.dir }

// NormalizeName lowercases name and maps spaces and dashes to underscores.
func NormalizeName(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(name)))
}

// Keys returns the known dataset keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(builtin))
	for k := range builtin {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List describes every known dataset. Datasets whose file is missing or
// unreadable are listed with zero records.
func (c *Catalog) List() []Info {
	out := make([]Info, 0, len(builtin))
	for _, key := range Keys() {
		e := builtin[key]
		info := Info{Key: key, Name: e.name, Description: e.description, Fields: []string{}}
		if recs, fields, err := loadCSVFile(c.path(e)); err == nil {
			info.NumRecords = len(recs)
			info.Fields = fields
		}
		out = append(out, info)
	}
	return out
}

// Info describes one dataset with up to samples sample records.
func (c *Catalog) Info(name string, samples int) (*Info, error) {
	key, e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	recs, fields, err := loadCSVFile(c.path(e))
	if err != nil {
		return nil, err
	}
	info := &Info{
		Key:         key,
		Name:        e.name,
		Description: e.description,
		NumRecords:  len(recs),
		Fields:      fields,
	}
	if samples > 0 {
		info.SampleRecords = recs[:min(samples, len(recs))]
	}
	return info, nil
}

// Load returns every record of a dataset.
func (c *Catalog) Load(name string) ([]record.Record, error) {
	_, e, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	recs, _, err := loadCSVFile(c.path(e))
	return recs, err
}

func (c *Catalog) lookup(name string) (string, entry, error) {
	key := NormalizeName(name)
	e, ok := builtin[key]
	if !ok {
		return "", entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return key, e, nil
}

func (c *Catalog) path(e entry) string {
	return filepath.Join(c.dir, e.file)
}

func loadCSVFile(path string) ([]record.Record, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
