package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/efebarandurmaz/linkage/internal/record"
)

// readArg returns the argument itself, or a file's contents for "@path".
func readArg(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		return os.ReadFile(path)
	}
	return []byte(arg), nil
}

// parseRecord accepts {"id": ..., "fields": {...}} or a flat JSON object of
// field values. Non-string values are kept in their JSON text form.
func parseRecord(arg string) (record.Record, error) {
	data, err := readArg(arg)
	if err != nil {
		return record.Record{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return record.Record{}, fmt.Errorf("parse record: %w", err)
	}

	if nested, ok := raw["fields"].(map[string]any); ok {
		id, _ := raw["id"].(string)
		return record.New(id, stringify(nested)), nil
	}
	return record.New("", stringify(raw)), nil
}

func stringify(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = x
		case json.Number:
			out[k] = x.String()
		default:
			b, _ := json.Marshal(x)
			out[k] = string(b)
		}
	}
	return out
}

// parseFieldFlags turns name=value pairs into a record.
func parseFieldFlags(pairs []string) (record.Record, error) {
	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return record.Record{}, fmt.Errorf("field %q is not name=value", p)
		}
		fields[strings.TrimSpace(name)] = value
	}
	return record.New("", fields), nil
}
