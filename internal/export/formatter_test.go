package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obj(t *testing.T, s string) *Object {
	t.Helper()
	o, err := ParseObject([]byte(s))
	require.NoError(t, err)
	return o
}

func sub(t *testing.T, meta, data string) Submission {
	t.Helper()
	s := Submission{Data: obj(t, data)}
	if meta != "" {
		s.Meta = obj(t, meta)
	}
	return s
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRender_JSONKeepsMetadataAndContentOrder(t *testing.T) {
	subs := []Submission{sub(t, `{"createdAt":"2024-01-01"}`, `{"b":"data","a":"x"}`)}

	res, err := Render(Form{Name: "My Form"}, []string{"a", "b"}, subs, Request{Format: FormatJSON})
	require.NoError(t, err)

	assert.Equal(t, `[{"form":{"createdAt":"2024-01-01"},"b":"data","a":"x"}]`, string(res.Data))
	assert.Equal(t, "application/json", res.ContentType)
	assert.Equal(t, "my_form_submissions.json", res.Filename)
	assert.Equal(t, `attachment; filename="my_form_submissions.json"`, res.ContentDisposition())
}

func TestRender_JSONRoundTrip(t *testing.T) {
	subs := []Submission{
		sub(t, `{"confirmationId":"A1","version":2}`, `{"name":"Ann","pets":[{"kind":"cat"}],"age":31.5}`),
		sub(t, `{"confirmationId":"B2","version":2}`, `{"name":"<Bob & co>","nested":{"deep":{"x":true}}}`),
	}

	res, err := Render(Form{Name: "pets"}, nil, subs, Request{Format: FormatJSON})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &decoded))
	require.Len(t, decoded, len(subs))

	for i, s := range subs {
		var wantMeta, wantData map[string]any
		metaJSON, err := s.Meta.MarshalJSON()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(metaJSON, &wantMeta))
		dataJSON, err := s.Data.MarshalJSON()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(dataJSON, &wantData))

		got := decoded[i]
		assert.Equal(t, wantMeta, got[MetaKey])
		delete(got, MetaKey)
		assert.Equal(t, wantData, got)
	}
}

func TestRender_JSONNoSubmissions(t *testing.T) {
	res, err := Render(Form{Name: "empty"}, []string{"a"}, nil, Request{Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(res.Data))
}

func TestRender_CSVTemplates(t *testing.T) {
	subs := []Submission{sub(t, `{"confirmationId":"A1"}`, `{"name":"x","items":[{"q":1},{"q":2}]}`)}
	fields := []string{"name", "items.q"}

	tests := []struct {
		template Template
		want     string
	}{
		{
			template: TemplateUnflattened,
			want:     "form.confirmationId,name,items.q,items.0.q,items.1.q\nA1,x,,1,2\n",
		},
		{
			template: TemplateFilled,
			want:     "form.confirmationId,name,items.q\nA1,x,1\nA1,x,2\n",
		},
		{
			template: TemplateBlankOut,
			want:     "form.confirmationId,name,items.q\nA1,x,1\n,,2\n",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.template), func(t *testing.T) {
			res, err := Render(Form{Name: "Order Form"}, fields, subs, Request{Template: tt.template})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(res.Data))
			assert.Equal(t, "text/csv", res.ContentType)
			assert.Equal(t, "order_form_submissions.csv", res.Filename)
		})
	}
}

func TestRender_DefaultsToFilledCSV(t *testing.T) {
	subs := []Submission{sub(t, ``, `{"tags":["a","b"]}`)}

	res, err := Render(Form{Name: "f"}, nil, subs, Request{})
	require.NoError(t, err)
	assert.Equal(t, "tags\na\nb\n", string(res.Data))
}

func TestRender_CSVDeterministic(t *testing.T) {
	subs := []Submission{
		sub(t, `{"confirmationId":"A1"}`, `{"z":"1","a":[{"b":[1,2]},{"b":[3]}],"m":{"n":"o"}}`),
		sub(t, `{"confirmationId":"B2"}`, `{"a":[],"extra":"drift","m":{}}`),
	}
	fields := []string{"a.b", "m.n", "z"}

	for _, tmpl := range []Template{TemplateUnflattened, TemplateFilled, TemplateBlankOut} {
		first, err := Render(Form{Name: "det"}, fields, subs, Request{Template: tmpl})
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := Render(Form{Name: "det"}, fields, subs, Request{Template: tmpl})
			require.NoError(t, err)
			require.Equal(t, first.Data, again.Data, "template %s", tmpl)
		}
	}
}

func TestRender_BlankOutAndFilledDifferOnlyInContinuationCells(t *testing.T) {
	subs := []Submission{
		sub(t, `{"confirmationId":"A1"}`, `{"name":"Ann","kids":[{"n":"k1"},{"n":"k2"},{"n":"k3"}]}`),
		sub(t, `{"confirmationId":"B2"}`, `{"name":"Bob","kids":[{"n":"k4"}]}`),
		sub(t, `{"confirmationId":"C3"}`, `{"name":"Cy","kids":[]}`),
	}
	fields := []string{"name", "kids.n"}

	filled, err := Render(Form{Name: "f"}, fields, subs, Request{Template: TemplateFilled})
	require.NoError(t, err)
	blank, err := Render(Form{Name: "f"}, fields, subs, Request{Template: TemplateBlankOut})
	require.NoError(t, err)

	fRows := readCSV(t, filled.Data)
	bRows := readCSV(t, blank.Data)
	require.Equal(t, len(fRows), len(bRows))
	require.Len(t, fRows, 1+3+1+1)
	require.Equal(t, fRows[0], bRows[0])

	unwound := map[int]bool{}
	for i, h := range fRows[0] {
		if h == "kids.n" {
			unwound[i] = true
		}
	}

	continuation := map[int]bool{2: true, 3: true}
	for r := 1; r < len(fRows); r++ {
		for c := range fRows[r] {
			switch {
			case unwound[c], !continuation[r]:
				assert.Equal(t, fRows[r][c], bRows[r][c], "row %d col %d", r, c)
			default:
				assert.Equal(t, fRows[1][c], fRows[r][c], "row %d col %d", r, c)
				assert.Empty(t, bRows[r][c], "row %d col %d", r, c)
			}
		}
	}
}

func TestRender_UnwindMultipleArrays(t *testing.T) {
	tests := []struct {
		name    string
		meta    string
		data    string
		fields  []string
		unwound []string
		filled  string
		blank   string
	}{
		{
			name:    "sibling arrays",
			meta:    `{"confirmationId":"A1"}`,
			data:    `{"a":[1,2],"b":["x","y"]}`,
			fields:  []string{"a", "b"},
			unwound: []string{"a", "b"},
			filled:  "form.confirmationId,a,b\nA1,1,x\nA1,2,y\n",
			blank:   "form.confirmationId,a,b\nA1,1,x\n,2,y\n",
		},
		{
			name:    "sibling arrays of different length",
			meta:    `{"confirmationId":"A1"}`,
			data:    `{"name":"n","a":[1,2,3],"b":["x"]}`,
			fields:  []string{"name", "a", "b"},
			unwound: []string{"a", "b"},
			filled:  "form.confirmationId,name,a,b\nA1,n,1,x\nA1,n,2,\nA1,n,3,\n",
			blank:   "form.confirmationId,name,a,b\nA1,n,1,x\n,,2,\n,,3,\n",
		},
		{
			name:    "arrays nested in array elements",
			data:    `{"id":"s1","items":[{"n":"p","tags":["t1","t2"]},{"n":"q","tags":["t3"]}]}`,
			fields:  []string{"id", "items.n", "items.tags"},
			unwound: []string{"items.tags"},
			filled:  "id,items.n,items.tags\ns1,p,t1\ns1,p,t2\ns1,q,t3\n",
			blank:   "id,items.n,items.tags\ns1,p,t1\n,,t2\n,q,t3\n",
		},
		{
			name:    "nested and sibling arrays together",
			data:    `{"id":"s1","items":[{"tags":["t1","t2"]},{"tags":[]}],"notes":["x","y","z"]}`,
			fields:  []string{"id", "items.tags", "notes"},
			unwound: []string{"items.tags"},
			filled:  "id,items.tags,notes\ns1,t1,x\ns1,t2,x\ns1,,y\ns1,,z\n",
			blank:   "id,items.tags,notes\ns1,t1,x\n,t2,\n,,y\n,,z\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := []Submission{sub(t, tt.meta, tt.data)}

			filled, err := Render(Form{Name: "f"}, tt.fields, subs, Request{Template: TemplateFilled})
			require.NoError(t, err)
			blank, err := Render(Form{Name: "f"}, tt.fields, subs, Request{Template: TemplateBlankOut})
			require.NoError(t, err)

			assert.Equal(t, tt.filled, string(filled.Data))
			assert.Equal(t, tt.blank, string(blank.Data))

			fRows := readCSV(t, filled.Data)
			bRows := readCSV(t, blank.Data)
			require.Equal(t, len(fRows), len(bRows))
			require.Equal(t, fRows[0], bRows[0])
			require.Equal(t, fRows[1], bRows[1], "first row is never blanked")

			unwound := map[int]bool{}
			for i, h := range fRows[0] {
				for _, u := range tt.unwound {
					if h == u {
						unwound[i] = true
					}
				}
			}
			for r := 1; r < len(fRows); r++ {
				for c := range fRows[r] {
					if unwound[c] {
						assert.Equal(t, fRows[r][c], bRows[r][c], "row %d col %d", r, c)
					} else if bRows[r][c] != "" {
						assert.Equal(t, fRows[r][c], bRows[r][c], "row %d col %d", r, c)
					}
				}
			}
		})
	}
}

func TestRender_BlankOutAndFilledRowCountsMatch(t *testing.T) {
	subs := []Submission{
		sub(t, `{"id":"1"}`, `{"a":[1,2],"b":[{"c":[3,4,5]},{"c":[]}],"d":{"e":["p","q"]}}`),
		sub(t, `{"id":"2"}`, `{"a":[],"b":[{"c":[6]}]}`),
		sub(t, `{"id":"3"}`, `{"a":[[7,8],[9]],"x":"y"}`),
		sub(t, `{"id":"4"}`, `{}`),
	}

	filled, err := Render(Form{Name: "f"}, nil, subs, Request{Template: TemplateFilled})
	require.NoError(t, err)
	blank, err := Render(Form{Name: "f"}, nil, subs, Request{Template: TemplateBlankOut})
	require.NoError(t, err)

	fRows := readCSV(t, filled.Data)
	bRows := readCSV(t, blank.Data)
	require.Equal(t, len(fRows), len(bRows))
	require.Equal(t, fRows[0], bRows[0])

	for r := 1; r < len(fRows); r++ {
		for c := range fRows[r] {
			if bRows[r][c] != "" {
				assert.Equal(t, fRows[r][c], bRows[r][c], "row %d col %d", r, c)
			}
		}
	}
}

func TestRender_UnflattenedNeverAddsRows(t *testing.T) {
	subs := []Submission{
		sub(t, `{"id":"1"}`, `{"a":[1,2,3],"b":[{"c":[4,5]}]}`),
		sub(t, `{"id":"2"}`, `{"a":[]}`),
		sub(t, `{"id":"3"}`, `{}`),
	}

	res, err := Render(Form{Name: "f"}, nil, subs, Request{Template: TemplateUnflattened})
	require.NoError(t, err)
	records := readCSV(t, res.Data)
	assert.LessOrEqual(t, len(records)-1, len(subs))
}

func TestRender_HeaderReconciliation(t *testing.T) {
	subs := []Submission{
		sub(t, `{"confirmationId":"A1","createdAt":"2024-01-01"}`, `{"b":"2","a":"1"}`),
		sub(t, `{"confirmationId":"B2","createdAt":"2024-01-02"}`, `{"a":"3","late":"x"}`),
	}

	headers, err := Headers([]string{"a", "b", "never"}, subs, Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"form.confirmationId", "form.createdAt", "a", "b", "never", "late"}, headers)
}

func TestRender_ColumnFilterKeepsMetadata(t *testing.T) {
	subs := []Submission{sub(t, `{"confirmationId":"A1"}`, `{"a":"1","b":"2","c":"3"}`)}

	res, err := Render(Form{Name: "f"}, []string{"a", "b", "c"}, subs, Request{Columns: []string{"c", "a"}})
	require.NoError(t, err)
	assert.Equal(t, "form.confirmationId,a,c\nA1,1,3\n", string(res.Data))
}

func TestRender_CellRendering(t *testing.T) {
	subs := []Submission{sub(t, ``, `{"n":1.50,"big":12345678901234567890,"t":true,"f":false,"nil":null,"empty":{},"s":"a,\"b\""}`)}

	res, err := Render(Form{Name: "f"}, nil, subs, Request{Template: TemplateUnflattened})
	require.NoError(t, err)

	records := readCSV(t, res.Data)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"n", "big", "t", "f", "nil", "empty", "s"}, records[0])
	assert.Equal(t, []string{"1.50", "12345678901234567890", "true", "false", "", "{}", `a,"b"`}, records[1])
}

func TestRender_NestedArraysUnwindInOrder(t *testing.T) {
	subs := []Submission{sub(t, ``, `{"id":"s1","items":[{"tags":["x","y"]},{"tags":["z"]}]}`)}

	res, err := Render(Form{Name: "f"}, []string{"id", "items.tags"}, subs, Request{Template: TemplateFilled})
	require.NoError(t, err)
	assert.Equal(t, "id,items.tags\ns1,x\ns1,y\ns1,z\n", string(res.Data))
}

func TestRender_EmptyArrayKeepsRow(t *testing.T) {
	subs := []Submission{sub(t, ``, `{"id":"s1","tags":[]}`)}

	res, err := Render(Form{Name: "f"}, []string{"id", "tags"}, subs, Request{Template: TemplateBlankOut})
	require.NoError(t, err)
	assert.Equal(t, "id,tags\ns1,\n", string(res.Data))
}

func TestRender_NoSubmissionsWritesSchemaHeader(t *testing.T) {
	res, err := Render(Form{Name: "f"}, []string{"a", "b"}, nil, Request{})
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(res.Data))
}

func TestRender_RejectsUnknownSelectors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"format", Request{Format: "xlsx"}},
		{"template", Request{Template: "pivot"}},
		{"type", Request{Type: "forms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(Form{Name: "f"}, nil, nil, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
		})
	}
}

func TestFormatError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&FormatError{Format: FormatCSV, Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "format csv export: boom", err.Error())
}

func TestFilename(t *testing.T) {
	tests := map[string]string{
		"My Form":        "my_form",
		"myForm":         "my_form",
		"HTMLForm 2":     "html_form_2",
		"  spaced--out ": "spaced_out",
		"":               "form",
		"Été Survey":     "été_survey",
	}
	for in, slug := range tests {
		assert.Equal(t, slug+"_submissions.csv", Filename(in, TypeSubmissions, FormatCSV), in)
	}
}
