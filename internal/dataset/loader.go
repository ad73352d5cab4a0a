package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/efebarandurmaz/linkage/internal/record"
)

// ReadCSV reads a header row followed by records. Each record's ID is its
// zero-based row index. It also returns the header.
func ReadCSV(r io.Reader) ([]record.Record, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("csv has no header")
		}
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var recs []record.Record
	for row := 0; ; row++ {
		cols, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(cols) {
				fields[name] = cols[i]
			} else {
				fields[name] = ""
			}
		}
		recs = append(recs, record.Record{ID: strconv.Itoa(row), Fields: fields})
	}
	return recs, header, nil
}

// ReadJSON reads an array of records. Elements may be record objects
// ({"id": ..., "fields": {...}}) or flat objects whose keys are the fields.
// Elements without an ID get their index.
func ReadJSON(r io.Reader) ([]record.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json records: %w", err)
	}

	recs := make([]record.Record, len(raw))
	for i, obj := range raw {
		id := strconv.Itoa(i)
		src := obj
		if nested, ok := obj["fields"].(map[string]any); ok {
			src = nested
			if v, ok := obj["id"]; ok && v != nil {
				id = stringify(v)
			}
		}
		fields := make(map[string]string, len(src))
		for k, v := range src {
			fields[k] = stringify(v)
		}
		recs[i] = record.Record{ID: id, Fields: fields}
	}
	return recs, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(bytes.TrimSpace(b))
	}
}

// LoadFile loads records from a .csv or .json file.
func LoadFile(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		recs, _, err := ReadCSV(f)
		return recs, err
	case ".json":
		return ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
}
