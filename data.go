package tabdb

import (
	"bytes"
	"encoding/json"
	"sync"
)

// Data is any value a query table can hold: nil, bool, float64/int, string,
// a Table, or a slice of Data. tabdb never distinguishes int from float64
// at the type-switch level beyond what CreateKey needs.
type Data = any

// Table is the document shape: a JSON object. Every stored item and every
// query is a Table; a projection result is one when its expression
// evaluates to a table.
type Table map[string]Data

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Serialize encodes a table to compact JSON.
func (t Table) Serialize() ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	enc := json.NewEncoder(buf)
	if err := enc.Encode(map[string]Data(t)); err != nil {
		return nil, newErr(PersistenceError, "serialize table: %v", err)
	}
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// DeserializeTable decodes a single JSON object into a Table.
func DeserializeTable(data []byte) (Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, newErr(PersistenceError, "deserialize table: %v", err)
	}
	return t, nil
}

// Clone deep-copies a table so callers never share mutable state with a
// collection's stored items.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Data) Data {
	switch val := v.(type) {
	case Table:
		return val.Clone()
	case map[string]Data:
		return Table(val).Clone()
	case []Data:
		cp := make([]Data, len(val))
		for i, e := range val {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return val
	}
}

// GetID returns the "_id" field of a table, if present and a string.
func GetID(t Table) (string, bool) {
	id, ok := t[DefaultIndexName]
	if !ok {
		return "", false
	}
	s, ok := id.(string)
	return s, ok
}

// SetID sets the "_id" field of a table.
func SetID(t Table, id string) {
	t[DefaultIndexName] = id
}

func toDataSlice(v Data) ([]Data, bool) {
	switch val := v.(type) {
	case []Data:
		return val, true
	default:
		return nil, false
	}
}

func itemsAsData(items []*Table) []Data {
	out := make([]Data, len(items))
	for i, it := range items {
		out[i] = map[string]Data(*it)
	}
	return out
}

// asQueryTable normalizes the three accepted ExecuteQuery input shapes
// (a Table, a JSON string, or raw JSON bytes) into a Table.
func asQueryTable(raw any) (Table, error) {
	switch v := raw.(type) {
	case Table:
		return v, nil
	case map[string]Data:
		return Table(v), nil
	case string:
		var t Table
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, newErr(ParseError, "invalid query json: %v", err)
		}
		return t, nil
	case []byte:
		var t Table
		if err := json.Unmarshal(v, &t); err != nil {
			return nil, newErr(ParseError, "invalid query json: %v", err)
		}
		return t, nil
	default:
		return nil, newErr(ParseError, "query must be a table, JSON string, or JSON bytes, got %T", raw)
	}
}
