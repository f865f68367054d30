package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Depths of the two traversal levels. Nothing deeper is ever visited.
const (
	DepthSeed       = 0
	DepthDiscovered = 1
)

// AssetsKey is the result key holding the asset URLs captured during a visit.
const AssetsKey = "cdnImages"

// CrawlTarget represents a URL scheduled for a visit
type CrawlTarget struct {
	URL   string
	Depth int
}

// Field is a single named value of a Record. Value is a string, nil,
// a []string or a []Record.
type Field struct {
	Name  string
	Value any
}

// Record is an ordered field mapping extracted from one page. Field order is
// preserved through JSON encoding so checkpoints read the same way the schema
// was written.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord builds a record from the given fields, later duplicates
// overwriting earlier ones in place.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Set assigns a value, appending the field if it is new.
func (r *Record) Set(name string, value any) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = value
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: value})
}

// Get returns the value stored under name.
func (r Record) Get(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Fields returns a copy of the fields in insertion order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Compact returns a copy without null, empty-string and empty-list fields.
// Nested records are compacted too.
func (r Record) Compact() Record {
	var out Record
	for _, f := range r.fields {
		switch v := f.Value.(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
		case []string:
			if len(v) == 0 {
				continue
			}
		case []Record:
			if len(v) == 0 {
				continue
			}
			nested := make([]Record, len(v))
			for i, sub := range v {
				nested[i] = sub.Compact()
			}
			out.Set(f.Name, nested)
			continue
		case []any:
			if len(v) == 0 {
				continue
			}
		}
		out.Set(f.Name, f.Value)
	}
	return out
}

// MarshalJSON encodes the record as an object with keys in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping the key order of the document.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	*r = Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		v, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		r.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

func decodeValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		var sub Record
		if err := json.Unmarshal(trimmed, &sub); err != nil {
			return nil, err
		}
		return sub, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		if len(items) > 0 && bytes.HasPrefix(bytes.TrimSpace(items[0]), []byte("{")) {
			recs := make([]Record, len(items))
			for i, item := range items {
				if err := json.Unmarshal(item, &recs[i]); err != nil {
					return nil, err
				}
			}
			return recs, nil
		}
		strs := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				var v []any
				if err := json.Unmarshal(trimmed, &v); err != nil {
					return nil, err
				}
				return v, nil
			}
			strs = append(strs, s)
		}
		return strs, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// CrawlResult is the persisted outcome of one successful visit: the target URL,
// the extracted record and the asset URLs captured while the page rendered.
type CrawlResult struct {
	URL    string
	Record Record
	Assets []string
}

// Flatten merges the result into a single record in persistence order
// (url, extracted fields, assets) with empty fields removed.
func (c CrawlResult) Flatten() Record {
	var out Record
	out.Set("url", c.URL)
	for _, f := range c.Record.fields {
		if f.Name == "url" || f.Name == AssetsKey {
			continue
		}
		out.Set(f.Name, f.Value)
	}
	out.Set(AssetsKey, c.Assets)
	return out.Compact()
}

// MarshalJSON encodes the flattened result.
func (c CrawlResult) MarshalJSON() ([]byte, error) {
	return c.Flatten().MarshalJSON()
}

// UnmarshalJSON splits a flattened result back into its parts.
func (c *CrawlResult) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*c = CrawlResult{}
	for _, f := range rec.fields {
		switch f.Name {
		case "url":
			s, _ := f.Value.(string)
			c.URL = s
		case AssetsKey:
			if s, ok := f.Value.([]string); ok {
				c.Assets = s
			}
		default:
			c.Record.Set(f.Name, f.Value)
		}
	}
	return nil
}
