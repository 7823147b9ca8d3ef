package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"grailed-lister/models"
)

// LoadListings reads a batch file. The format is chosen by extension:
// .yaml/.yml are YAML, everything else is JSON. The top level must be a list.
// Elements are decoded one field at a time; a field of the wrong type is
// recorded on that record's DecodeErrors and the rest of the batch still loads.
func LoadListings(path string) ([]*models.ListingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("listings: read %q: %w", path, err)
	}

	var records []*models.ListingRecord
	if isYAML(path) {
		records, err = decodeYAML(data)
	} else {
		records, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("listings: %q: %w", path, err)
	}

	for i, r := range records {
		r.Index = i
	}
	return records, nil
}

func decodeJSON(data []byte) ([]*models.ListingRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("must contain a list of items")
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	records := make([]*models.ListingRecord, len(elems))
	for i, raw := range elems {
		records[i] = decodeJSONRecord(raw)
	}
	return records, nil
}

func decodeJSONRecord(raw json.RawMessage) *models.ListingRecord {
	rec := &models.ListingRecord{}
	if err := json.Unmarshal(raw, rec); err == nil {
		return rec
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		rec.DecodeErrors = []models.Violation{{Field: "record", Rule: "must be an object"}}
		rec.Original = raw
		return rec
	}

	for _, key := range slices.Sorted(maps.Keys(fields)) {
		one, _ := json.Marshal(map[string]json.RawMessage{key: fields[key]})
		if err := json.Unmarshal(one, rec); err != nil {
			rec.DecodeErrors = append(rec.DecodeErrors, models.Violation{Field: key, Rule: typeRule(err)})
		}
	}
	if len(rec.DecodeErrors) > 0 {
		rec.Original = raw
	}
	return rec
}

func decodeYAML(data []byte) ([]*models.ListingRecord, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	list := doc.Content[0]
	if list.Kind != yaml.SequenceNode {
		return nil, errors.New("must contain a list of items")
	}

	records := make([]*models.ListingRecord, len(list.Content))
	for i, node := range list.Content {
		records[i] = decodeYAMLRecord(node)
	}
	return records, nil
}

func decodeYAMLRecord(node *yaml.Node) *models.ListingRecord {
	rec := &models.ListingRecord{}
	if node.Kind != yaml.MappingNode {
		rec.DecodeErrors = []models.Violation{{Field: "record", Rule: "must be a mapping"}}
		rec.Original = node
		return rec
	}
	if err := node.Decode(rec); err == nil {
		return rec
	}

	*rec = models.ListingRecord{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		one := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{key, val}}
		if err := one.Decode(rec); err != nil {
			rec.DecodeErrors = append(rec.DecodeErrors, models.Violation{Field: key.Value, Rule: typeRule(err)})
		}
	}
	if len(rec.DecodeErrors) > 0 {
		rec.Original = node
	}
	return rec
}

// typeRule turns a decoder error into a violation rule.
func typeRule(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("must be %s, got %s", kindName(typeErr.Type), typeErr.Value)
	}
	var yamlErr *yaml.TypeError
	if errors.As(err, &yamlErr) && len(yamlErr.Errors) > 0 {
		return "cannot decode: " + yamlErr.Errors[0]
	}
	return "cannot decode: " + err.Error()
}

func kindName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return "a number"
	case reflect.Bool:
		return "true or false"
	case reflect.Slice:
		return "a list"
	case reflect.String:
		return "a string"
	}
	return "a " + t.String()
}

// SaveListings writes records back in the format implied by the extension.
// Records that failed to decode are written back as they were read. The file
// is replaced atomically via a temporary sibling.
func SaveListings(path string, records []*models.ListingRecord) error {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r
		if r.Original != nil {
			out[i] = r.Original
		}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(out)
	} else {
		data, err = json.MarshalIndent(out, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("listings: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".listings-*")
	if err != nil {
		return fmt.Errorf("listings: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("listings: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("listings: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("listings: replace %q: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
