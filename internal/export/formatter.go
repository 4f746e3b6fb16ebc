// Package export turns form submissions into downloadable CSV or JSON.
//
// Submission data is arbitrarily nested. CSV output is produced by
// optionally unwinding array values into extra rows, flattening the
// remaining structure into dotted column names and reconciling those names
// with the field order declared by the form schema.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// MetaKey is the key under which submission metadata is placed alongside
// the submission content.
const MetaKey = "form"

// Form is the part of a form definition the formatter needs.
type Form struct {
	Name string
}

// Submission is one submission ready for export: its metadata fields
// (confirmation id, creation time, submitter...) and its content.
type Submission struct {
	Meta *Object
	Data *Object
}

// Result is a finished export.
type Result struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ContentDisposition returns the attachment header value for r.
func (r *Result) ContentDisposition() string {
	return fmt.Sprintf("attachment; filename=%q", r.Filename)
}

// FormatError reports a failure while transforming submissions into the
// requested output.
type FormatError struct {
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format %s export: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Render renders submissions according to req. fields is the flattened
// schema field order for the exported form version. The request is
// defaulted and validated before anything else happens.
func Render(form Form, fields []string, subs []Submission, req Request) (*Result, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rows := documents(subs)

	var (
		data        []byte
		contentType string
		err         error
	)
	switch req.Format {
	case FormatJSON:
		data, err = encodeJSON(rows)
		contentType = "application/json"
	case FormatCSV:
		data, err = encodeCSV(rows, fields, req)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, &FormatError{Format: req.Format, Err: err}
	}

	return &Result{
		Data:        data,
		ContentType: contentType,
		Filename:    Filename(form.Name, req.Type, req.Format),
	}, nil
}

// Headers returns the CSV header row that Render would write for the same
// inputs.
func Headers(fields []string, subs []Submission, req Request) ([]string, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	headers, _ := tabulate(documents(subs), fields, req)
	return headers, nil
}

// documents places each submission's metadata under MetaKey followed by the
// submission content. A content key named like MetaKey replaces the
// metadata value.
func documents(subs []Submission) []*Object {
	rows := make([]*Object, 0, len(subs))
	for _, s := range subs {
		doc := NewObject()
		if s.Meta != nil {
			doc.Set(MetaKey, s.Meta)
		}
		if s.Data != nil {
			for _, k := range s.Data.keys {
				doc.Set(k, s.Data.vals[k])
			}
		}
		rows = append(rows, doc)
	}
	return rows
}

func encodeJSON(rows []*Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(&buf, row); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeCSV(rows []*Object, fields []string, req Request) ([]byte, error) {
	headers, flat := tabulate(rows, fields, req)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}

	record := make([]string, len(headers))
	for _, row := range flat {
		for i, h := range headers {
			v, _ := row.Get(h)
			cell, err := renderCell(v)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", h, err)
			}
			record[i] = cell
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tabulate produces the header row and the flattened output rows.
func tabulate(rows []*Object, fields []string, req Request) ([]string, []*Object) {
	expanded := rows
	if req.Template.unwinds() {
		paths := unwindPaths(rows)
		blankOut := req.Template == TemplateBlankOut
		expanded = make([]*Object, 0, len(rows))
		for _, row := range rows {
			expanded = append(expanded, unwind(row, paths, blankOut)...)
		}
	}

	flat := make([]*Object, len(expanded))
	for i, row := range expanded {
		flat[i] = flatten(row)
	}

	return reconcileHeaders(rows, fields, flat, req.Columns), flat
}

// reconcileHeaders builds the canonical header row: a "form.<key>" column
// for each metadata key of the first submission, then the schema fields,
// then any column seen in the data but missing from the schema, in the
// order first seen. With a column filter the data portion keeps only the
// listed columns.
func reconcileHeaders(rows []*Object, fields []string, flat []*Object, columns []string) []string {
	var (
		meta    []string
		data    []string
		present = make(map[string]struct{})
	)
	add := func(dst *[]string, h string) {
		if _, ok := present[h]; ok {
			return
		}
		present[h] = struct{}{}
		*dst = append(*dst, h)
	}

	if len(rows) > 0 {
		if m, ok := rows[0].vals[MetaKey].(*Object); ok {
			for _, k := range m.keys {
				add(&meta, MetaKey+"."+k)
			}
		}
	}
	for _, f := range fields {
		add(&data, f)
	}
	for _, row := range flat {
		for _, k := range row.keys {
			add(&data, k)
		}
	}

	if len(columns) > 0 {
		keep := make(map[string]struct{}, len(columns))
		for _, c := range columns {
			keep[c] = struct{}{}
		}
		filtered := data[:0]
		for _, h := range data {
			if _, ok := keep[h]; ok {
				filtered = append(filtered, h)
			}
		}
		data = filtered
	}

	headers := make([]string, 0, len(meta)+len(data))
	headers = append(headers, meta...)
	return append(headers, data...)
}
