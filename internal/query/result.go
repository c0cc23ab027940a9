package query

import (
	"encoding/json"
	"errors"
)

// Envelope is the canonical result shape. Exactly one of Tabular or Message
// is set.
type Envelope struct {
	Tabular *Tabular
	Message *Message
}

type Tabular struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"rowCount"`
}

type Message struct {
	Message      string `json:"message"`
	RowCount     int    `json:"rowCount"`
	RowsAffected *int64 `json:"rowsAffected,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	switch {
	case e.Tabular != nil:
		return json.Marshal(e.Tabular)
	case e.Message != nil:
		return json.Marshal(e.Message)
	default:
		return nil, errors.New("empty result envelope")
	}
}

// Field is one key/value pair of an Object.
type Field struct {
	Key   string
	Value any
}

// Object is an ordered record. Key order is significant: the first Object of
// a list defines the column order of the normalized table.
type Object []Field

func (o Object) Get(key string) (any, bool) {
	for _, field := range o {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	seen := make(map[string]struct{}, len(o))
	for _, field := range o {
		if _, ok := seen[field.Key]; ok {
			continue
		}
		seen[field.Key] = struct{}{}
		keys = append(keys, field.Key)
	}
	return keys
}

func (o Object) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o))
	for _, field := range o {
		out[field.Key] = field.Value
	}
	return json.Marshal(out)
}

// ExecSummary is the native result of a statement that returns no rows.
type ExecSummary struct {
	RowsAffected int64
}
