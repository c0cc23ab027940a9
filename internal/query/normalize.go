package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	noResultsMessage   = "No results found"
	execSummaryMessage = "Statement executed successfully"
)

// Normalize maps a backend-native result onto the canonical Envelope:
//
//   - string: multi-line text becomes a table whose header is the first
//     non-empty line; one line or less becomes a message.
//   - []Object: the first object's keys define the columns; keys missing on
//     later objects render as "".
//   - ExecSummary: a message carrying RowsAffected.
//   - anything else: an indented JSON dump of the value.
func Normalize(native any) Envelope {
	switch value := native.(type) {
	case string:
		return normalizeText(value)
	case []Object:
		return normalizeObjects(value)
	case ExecSummary:
		affected := value.RowsAffected
		return Envelope{Message: &Message{Message: execSummaryMessage, RowCount: 0, RowsAffected: &affected}}
	default:
		return Envelope{Message: &Message{Message: dump(value), RowCount: 1}}
	}
}

func normalizeText(text string) Envelope {
	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) <= 1 {
		return Envelope{Message: &Message{Message: strings.TrimSpace(text), RowCount: 0}}
	}

	rows := make([][]any, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		row := make([]any, len(fields))
		for i, field := range fields {
			row[i] = field
		}
		rows = append(rows, row)
	}
	return Envelope{Tabular: &Tabular{
		Columns:  strings.Fields(lines[0]),
		Rows:     rows,
		RowCount: len(rows),
	}}
}

func normalizeObjects(objects []Object) Envelope {
	if len(objects) == 0 {
		return Envelope{Message: &Message{Message: noResultsMessage, RowCount: 0}}
	}

	columns := objects[0].Keys()
	rows := make([][]any, 0, len(objects))
	for _, object := range objects {
		row := make([]any, len(columns))
		for i, column := range columns {
			value, ok := object.Get(column)
			if !ok {
				value = ""
			}
			row[i] = value
		}
		rows = append(rows, row)
	}
	return Envelope{Tabular: &Tabular{Columns: columns, Rows: rows, RowCount: len(rows)}}
}

func dump(value any) string {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", value)
	}
	return string(formatted)
}
