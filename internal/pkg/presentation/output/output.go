// Package output renders query results as CSV or JSON files.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
)

type Format int

const (
	JSON Format = iota
	CSV
)

// FormatFor selects the format from the extension of a file name
func FormatFor(filename string) Format {
	if strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return CSV
	}
	return JSON
}

// Descriptor describes where the records came from
type Descriptor struct {
	Query   string
	BaseURL string
}

// Write renders the records and returns the number of records written. The
// sequence is consumed once.
func Write(w io.Writer, format Format, records iter.Seq2[types.Record, error], d Descriptor) (int, error) {
	if format == CSV {
		return WriteCSV(w, records)
	}
	return WriteJSON(w, records, d)
}

type document struct {
	Data    []types.Record `json:"data"`
	Query   string         `json:"query"`
	BaseURL string         `json:"base_url"`
}

func WriteJSON(w io.Writer, records iter.Seq2[types.Record, error], d Descriptor) (int, error) {
	doc := document{
		Data:    []types.Record{},
		Query:   d.Query,
		BaseURL: d.BaseURL,
	}

	for record, err := range records {
		if err != nil {
			return 0, err
		}
		doc.Data = append(doc.Data, record)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("failed to encode records: %w", err)
	}

	return len(doc.Data), nil
}

// WriteCSV writes a header with the sorted keys of the first record followed
// by one row per record. Keys missing in a record are left empty and keys not
// present in the first record are dropped.
func WriteCSV(w io.Writer, records iter.Seq2[types.Record, error]) (int, error) {
	cw := csv.NewWriter(w)

	var header []string
	count := 0

	for record, err := range records {
		if err != nil {
			cw.Flush()
			return count, err
		}

		if header == nil {
			header = make([]string, 0, len(record))
			for k := range record {
				header = append(header, k)
			}
			slices.Sort(header)

			if err = cw.Write(header); err != nil {
				return count, err
			}
		}

		row := make([]string, len(header))
		for i, k := range header {
			row[i] = cell(record[k])
		}

		if err = cw.Write(row); err != nil {
			return count, err
		}

		count++
	}

	cw.Flush()
	return count, cw.Error()
}

func cell(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case map[string]any, []any:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(b)
	}

	return fmt.Sprint(v)
}
