package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/matryer/is"
)

func TestFormatFor(t *testing.T) {
	is := is.New(t)

	is.Equal(FormatFor("things.CSV"), CSV)
	is.Equal(FormatFor("things.json"), JSON)
	is.Equal(FormatFor("things"), JSON)
}

func TestWriteCSV(t *testing.T) {
	is := is.New(t)
	buf := &bytes.Buffer{}

	n, err := Write(buf, CSV, seq(testRecords()...), Descriptor{})

	is.NoErr(err)
	is.Equal(n, 2)
	is.Equal(buf.String(), "@iot.id,name,properties\n1,Well 1,\"{\"\"agency\"\":\"\"NMBGMR\"\"}\"\n2,\"Well, 2\",\n")
}

func TestWriteJSON(t *testing.T) {
	is := is.New(t)
	buf := &bytes.Buffer{}

	n, err := Write(buf, JSON, seq(testRecords()...), Descriptor{Query: "name eq 'Well 1'", BaseURL: "https://example.org/FROST-Server/v1.1"})
	is.NoErr(err)
	is.Equal(n, 2)

	doc := struct {
		Data    []map[string]any `json:"data"`
		Query   string           `json:"query"`
		BaseURL string           `json:"base_url"`
	}{}

	is.NoErr(json.Unmarshal(buf.Bytes(), &doc))
	is.Equal(len(doc.Data), 2)
	is.Equal(doc.Data[1]["name"], "Well, 2")
	is.Equal(doc.Query, "name eq 'Well 1'")
	is.Equal(doc.BaseURL, "https://example.org/FROST-Server/v1.1")
}

func TestWriteJSONWithoutRecords(t *testing.T) {
	is := is.New(t)
	buf := &bytes.Buffer{}

	n, err := WriteJSON(buf, seq(), Descriptor{})
	is.NoErr(err)
	is.Equal(n, 0)
	is.True(bytes.Contains(buf.Bytes(), []byte(`"data": []`)))
}

func TestQueryFailureIsReturned(t *testing.T) {
	is := is.New(t)
	failure := errors.New("boom")

	records := func(yield func(types.Record, error) bool) {
		if !yield(types.Record{"name": "a"}, nil) {
			return
		}
		yield(nil, failure)
	}

	_, err := WriteCSV(&bytes.Buffer{}, records)
	is.True(errors.Is(err, failure))

	_, err = WriteJSON(&bytes.Buffer{}, records, Descriptor{})
	is.True(errors.Is(err, failure))
}

func testRecords() []types.Record {
	return []types.Record{
		{"@iot.id": json.Number("1"), "name": "Well 1", "properties": map[string]any{"agency": "NMBGMR"}},
		{"@iot.id": json.Number("2"), "name": "Well, 2", "description": "dropped"},
	}
}

func seq(records ...types.Record) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}
