package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Row is one preview row keyed by column name, in backend column order.
type Row = *orderedmap.OrderedMap[string, any]

// Preview is the tabular result of a generated query.
//
// The backend sends it as a list of row objects, in the pandas "split"
// layout ({"columns": [...], "data": [[...]]}), or column-oriented
// ({"col": [...]} or {"col": {"<row>": v}}). Columns lists every column in
// order of first appearance.
type Preview struct {
	Columns []string
	Rows    []Row
}

// NewRow builds a row from alternating column/value pairs.
func NewRow(pairs ...any) Row {
	row := orderedmap.New[string, any]()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		row.Set(key, pairs[i+1])
	}
	return row
}

// AddRow appends a row and registers any column not seen before.
func (p *Preview) AddRow(row Row) {
	if row == nil {
		return
	}
	seen := make(map[string]struct{}, len(p.Columns))
	for _, c := range p.Columns {
		seen[c] = struct{}{}
	}
	for pair := row.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := seen[pair.Key]; ok {
			continue
		}
		seen[pair.Key] = struct{}{}
		p.Columns = append(p.Columns, pair.Key)
	}
	p.Rows = append(p.Rows, row)
}

func (p Preview) Len() int {
	return len(p.Rows)
}

// Value returns the cell at row i for column col.
func (p Preview) Value(i int, col string) (any, bool) {
	if i < 0 || i >= len(p.Rows) || p.Rows[i] == nil {
		return nil, false
	}
	return p.Rows[i].Get(col)
}

// Records returns the rows as plain maps, losing column order.
func (p Preview) Records() []map[string]any {
	out := make([]map[string]any, 0, len(p.Rows))
	for _, row := range p.Rows {
		rec := make(map[string]any, row.Len())
		for pair := row.Oldest(); pair != nil; pair = pair.Next() {
			rec[pair.Key] = pair.Value
		}
		out = append(out, rec)
	}
	return out
}

// MarshalJSON always encodes the preview as a list of row objects.
func (p Preview) MarshalJSON() ([]byte, error) {
	if p.Rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Rows)
}

func (p *Preview) UnmarshalJSON(data []byte) error {
	*p = Preview{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '[':
		return p.decodeRecords(trimmed)
	case '{':
		return p.decodeObject(trimmed)
	default:
		return fmt.Errorf("domain: preview must be a list or an object, got %q", string(trimmed[:1]))
	}
}

func (p *Preview) decodeRecords(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("domain: decode preview rows: %w", err)
	}
	for i, raw := range raws {
		row := orderedmap.New[string, any]()
		if err := json.Unmarshal(raw, row); err != nil {
			return fmt.Errorf("domain: decode preview row %d: %w", i, err)
		}
		p.AddRow(row)
	}
	return nil
}

func (p *Preview) decodeObject(data []byte) error {
	fields := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, fields); err != nil {
		return fmt.Errorf("domain: decode preview object: %w", err)
	}
	_, hasColumns := fields.Get("columns")
	_, hasData := fields.Get("data")
	if hasColumns && hasData {
		return p.decodeSplit(data)
	}

	rows := orderedmap.New[string, Row]()
	for col := fields.Oldest(); col != nil; col = col.Next() {
		cells, err := columnCells(col.Value)
		if err != nil {
			return fmt.Errorf("domain: preview column %q: %w", col.Key, err)
		}
		p.Columns = append(p.Columns, col.Key)
		for cell := cells.Oldest(); cell != nil; cell = cell.Next() {
			row, ok := rows.Get(cell.Key)
			if !ok {
				row = orderedmap.New[string, any]()
				rows.Set(cell.Key, row)
			}
			row.Set(col.Key, cell.Value)
		}
	}
	for pair := rows.Oldest(); pair != nil; pair = pair.Next() {
		p.Rows = append(p.Rows, pair.Value)
	}
	return nil
}

// columnCells returns one column's values keyed by row label. Lists are
// labelled by position.
func columnCells(raw json.RawMessage) (*orderedmap.OrderedMap[string, any], error) {
	trimmed := bytes.TrimSpace(raw)
	cells := orderedmap.New[string, any]()
	if len(trimmed) == 0 {
		return nil, errors.New("empty value")
	}
	switch trimmed[0] {
	case '[':
		var values []any
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return nil, err
		}
		for i, v := range values {
			cells.Set(strconv.Itoa(i), v)
		}
	case '{':
		if err := json.Unmarshal(trimmed, cells); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("must be a list or an object")
	}
	return cells, nil
}

func (p *Preview) decodeSplit(data []byte) error {
	var split struct {
		Columns []string `json:"columns"`
		Data    [][]any  `json:"data"`
	}
	if err := json.Unmarshal(data, &split); err != nil {
		return fmt.Errorf("domain: decode preview object: %w", err)
	}
	if split.Columns == nil {
		return errors.New("domain: preview object has no columns")
	}
	p.Columns = append([]string(nil), split.Columns...)
	for i, values := range split.Data {
		if len(values) != len(split.Columns) {
			return fmt.Errorf("domain: preview row %d has %d values for %d columns", i, len(values), len(split.Columns))
		}
		row := orderedmap.New[string, any]()
		for j, col := range split.Columns {
			row.Set(col, values[j])
		}
		p.Rows = append(p.Rows, row)
	}
	return nil
}

// Chart is a base64-encoded image, optionally written as a data URL.
type Chart string

func (c Chart) Empty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// Decode returns the raw image bytes.
func (c Chart) Decode() ([]byte, error) {
	if c.Empty() {
		return nil, errors.New("domain: chart is empty")
	}
	_, payload := c.split()
	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("domain: decode chart: %w", err)
	}
	return img, nil
}

// MediaType returns the declared data URL media type, or sniffs the
// decoded bytes when the chart is a bare base64 payload.
func (c Chart) MediaType() string {
	if mediaType, _ := c.split(); mediaType != "" {
		return mediaType
	}
	img, err := c.Decode()
	if err != nil {
		return ""
	}
	return http.DetectContentType(img)
}

func (c Chart) split() (mediaType, payload string) {
	s := strings.TrimSpace(string(c))
	if !strings.HasPrefix(s, "data:") {
		return "", s
	}
	header, data, ok := strings.Cut(s, ",")
	if !ok {
		return "", s
	}
	header = strings.TrimPrefix(header, "data:")
	header = strings.TrimSuffix(header, ";base64")
	return header, data
}
