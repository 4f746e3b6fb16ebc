package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRequest is returned for export parameters that cannot be
// honored. It is always reported before any data is read.
var ErrInvalidRequest = errors.New("invalid export request")

// Type is the kind of records being exported.
type Type string

// Format is the output encoding.
type Format string

// Template selects how nested submission data is laid out in CSV output.
type Template string

const (
	TypeSubmissions Type = "submissions"

	FormatCSV  Format = "csv"
	FormatJSON Format = "json"

	// TemplateBlankOut unwinds arrays and leaves other columns empty on
	// continuation rows.
	TemplateBlankOut Template = "flattenedWithBlankOut"
	// TemplateFilled unwinds arrays and repeats other columns on every row.
	TemplateFilled Template = "flattenedWithFilled"
	// TemplateUnflattened writes one row per submission.
	TemplateUnflattened Template = "unflattened"
)

// Request describes one export. The zero value is a valid request for the
// default export (submissions as filled CSV).
type Request struct {
	Type     Type
	Format   Format
	Template Template

	// Version selects the form version. Nil means the latest version.
	Version *int

	// Columns restricts the data columns written to CSV output. Metadata
	// columns are always written.
	Columns []string

	// MinDate and MaxDate bound submission creation time, inclusive and
	// exclusive respectively.
	MinDate *time.Time
	MaxDate *time.Time

	Deleted bool
	Drafts  bool
}

// WithDefaults fills unset selector fields.
func (r Request) WithDefaults() Request {
	if r.Type == "" {
		r.Type = TypeSubmissions
	}
	if r.Format == "" {
		r.Format = FormatCSV
	}
	if r.Template == "" {
		r.Template = TemplateFilled
	}
	return r
}

// Validate rejects unknown selector values. Call it on a request that has
// been through WithDefaults.
func (r Request) Validate() error {
	switch r.Type {
	case TypeSubmissions:
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidRequest, r.Type)
	}
	switch r.Format {
	case FormatCSV, FormatJSON:
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, r.Format)
	}
	switch r.Template {
	case TemplateBlankOut, TemplateFilled, TemplateUnflattened:
	default:
		return fmt.Errorf("%w: unsupported template %q", ErrInvalidRequest, r.Template)
	}
	if r.Version != nil && *r.Version < 1 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidRequest)
	}
	if r.MinDate != nil && r.MaxDate != nil && !r.MinDate.Before(*r.MaxDate) {
		return fmt.Errorf("%w: minDate must be before maxDate", ErrInvalidRequest)
	}
	return nil
}

// unwinds reports whether the template expands arrays into rows.
func (t Template) unwinds() bool {
	return t == TemplateBlankOut || t == TemplateFilled
}

// ParseParams builds a request from URL query parameters. The result has
// defaults applied and is validated.
func ParseParams(q url.Values) (Request, error) {
	req := Request{
		Type:     Type(q.Get("type")),
		Format:   Format(q.Get("format")),
		Template: Template(q.Get("template")),
	}

	if v := q.Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, fmt.Errorf("%w: invalid version %q", ErrInvalidRequest, v)
		}
		req.Version = &n
	}

	for _, c := range q["columns"] {
		req.Columns = append(req.Columns, splitList(c)...)
	}

	if p := q.Get("preference"); p != "" {
		if err := req.applyPreference([]byte(p)); err != nil {
			return Request{}, err
		}
	}

	var err error
	if req.Deleted, err = parseFlag(q, "deleted"); err != nil {
		return Request{}, err
	}
	if req.Drafts, err = parseFlag(q, "drafts"); err != nil {
		return Request{}, err
	}

	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// requestBody is the JSON shape accepted by ParseBody. Preference may be
// either an object or a JSON-encoded string of one.
type requestBody struct {
	Type       string          `json:"type"`
	Format     string          `json:"format"`
	Template   string          `json:"template"`
	Version    *int            `json:"version"`
	Columns    []string        `json:"columns"`
	Preference json.RawMessage `json:"preference"`
	Deleted    bool            `json:"deleted"`
	Drafts     bool            `json:"drafts"`
}

// ParseBody builds a request from a JSON body. An empty body yields the
// default request.
func ParseBody(r io.Reader) (Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Request{}, fmt.Errorf("read export request: %w", err)
	}

	var body requestBody
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	req := Request{
		Type:     Type(body.Type),
		Format:   Format(body.Format),
		Template: Template(body.Template),
		Version:  body.Version,
		Columns:  body.Columns,
		Deleted:  body.Deleted,
		Drafts:   body.Drafts,
	}

	pref := bytes.TrimSpace(body.Preference)
	if len(pref) > 0 && pref[0] == '"' {
		var s string
		if err := json.Unmarshal(pref, &s); err != nil {
			return Request{}, fmt.Errorf("%w: preference: %v", ErrInvalidRequest, err)
		}
		pref = []byte(s)
	}
	if len(pref) > 0 && !bytes.Equal(pref, []byte("null")) {
		if err := req.applyPreference(pref); err != nil {
			return Request{}, err
		}
	}

	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (r *Request) applyPreference(raw []byte) error {
	var pref struct {
		MinDate string `json:"minDate"`
		MaxDate string `json:"maxDate"`
	}
	if err := json.Unmarshal(raw, &pref); err != nil {
		return fmt.Errorf("%w: preference: %v", ErrInvalidRequest, err)
	}
	if pref.MinDate != "" {
		t, err := parseDate(pref.MinDate)
		if err != nil {
			return err
		}
		r.MinDate = &t
	}
	if pref.MaxDate != "" {
		t, err := parseDate(pref.MaxDate)
		if err != nil {
			return err
		}
		r.MaxDate = &t
	}
	return nil
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, s)
}

func parseFlag(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", ErrInvalidRequest, name)
	}
	return b, nil
}

// splitList accepts "a,b" as well as a JSON array.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return list
		}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
