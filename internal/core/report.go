package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// UploadedFile is the workbook chosen by the operator for one cycle.
// The console never looks inside Content; it is forwarded as-is.
type UploadedFile struct {
	Name    string
	Content []byte
}

// Size returns the content length in bytes.
func (f *UploadedFile) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Content))
}

// ContentType returns the MIME type implied by the file extension.
func (f *UploadedFile) ContentType() string {
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// CellValue is a scalar preview cell: a string, a number (kept verbatim as
// sent by the service), a bool, or null. The zero value is null.
type CellValue struct {
	v any
}

// IsNull reports whether the cell is null or absent.
func (c CellValue) IsNull() bool { return c.v == nil }

// Raw returns the underlying value: nil, string, json.Number or bool.
func (c CellValue) Raw() any { return c.v }

// String formats the cell for display. Null renders as an empty string.
func (c CellValue) String() string {
	switch v := c.v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}

// MarshalJSON implements json.Marshaler.
func (c CellValue) MarshalJSON() ([]byte, error) {
	if n, ok := c.v.(json.Number); ok {
		return []byte(n), nil
	}
	return json.Marshal(c.v)
}

// Row is one preview record. Column order is the order the service sent.
type Row struct {
	columns []string
	values  map[string]CellValue
}

// Columns returns the row's column names in wire order.
func (r Row) Columns() []string { return r.columns }

// Get returns the cell for column and whether the column is present.
func (r Row) Get(column string) (CellValue, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Len returns the number of columns in the row.
func (r Row) Len() int { return len(r.columns) }

// UnmarshalJSON decodes a JSON object while keeping key order.
// Nested objects and arrays are rejected.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("preview row must be a JSON object")
	}

	row := Row{values: make(map[string]CellValue)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in preview row", tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		if _, nested := tok.(json.Delim); nested {
			return fmt.Errorf("column %q: cell must be a scalar", key)
		}

		if _, dup := row.values[key]; !dup {
			row.columns = append(row.columns, key)
		}
		row.values[key] = CellValue{v: tok}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = row
	return nil
}

// MarshalJSON encodes the row as an object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.values[col].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Previews maps a table name to its preview rows. It is also the save payload.
type Previews map[string][]Row

// CheckOutcome is the result of one named check on one table.
type CheckOutcome struct {
	Passed  bool   `json:"passed"`
	Message string `json:"msg"`
}

// UnmarshalJSON accepts the message under either "msg" or "message".
func (c *CheckOutcome) UnmarshalJSON(data []byte) error {
	var wire struct {
		Passed  *bool   `json:"passed"`
		Msg     *string `json:"msg"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Passed == nil {
		return errors.New(`check outcome is missing "passed"`)
	}

	c.Passed = *wire.Passed
	switch {
	case wire.Msg != nil:
		c.Message = *wire.Msg
	case wire.Message != nil:
		c.Message = *wire.Message
	default:
		c.Message = ""
	}
	return nil
}

// CellRef addresses a preview cell by row index and column name.
// On the wire it is a two-element array: [row, "column"].
type CellRef struct {
	Row    int
	Column string
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CellRef) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("error location must be a [row, column] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("error location must have 2 elements, got %d", len(pair))
	}
	var ref CellRef
	if err := json.Unmarshal(pair[0], &ref.Row); err != nil {
		return fmt.Errorf("error location row: %w", err)
	}
	if err := json.Unmarshal(pair[1], &ref.Column); err != nil {
		return fmt.Errorf("error location column: %w", err)
	}
	*c = ref
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c CellRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Row, c.Column})
}

// ValidationReport is the decoded response of one validate call. A report is
// never mutated after construction; a new validate call replaces it whole.
type ValidationReport struct {
	Valid          bool                               `json:"valid"`
	CheckResults   map[string]map[string]CheckOutcome `json:"check_results"`
	Errors         []string                           `json:"errors,omitempty"`
	Previews       Previews                           `json:"previews"`
	ErrorLocations map[string][]CellRef               `json:"error_locations"`

	indexOnce sync.Once
	index     map[string]map[CellRef]struct{}
}

// NewReport builds a report from already-typed parts.
func NewReport(valid bool, checks map[string]map[string]CheckOutcome, previews Previews, locations map[string][]CellRef) *ValidationReport {
	return &ValidationReport{
		Valid:          valid,
		CheckResults:   checks,
		Previews:       previews,
		ErrorLocations: locations,
	}
}

// UnmarshalJSON decodes the wire shape strictly: "valid" is required and
// every nested value must match its declared type.
func (r *ValidationReport) UnmarshalJSON(data []byte) error {
	var wire struct {
		Valid          *bool                              `json:"valid"`
		CheckResults   map[string]map[string]CheckOutcome `json:"check_results"`
		Errors         []string                           `json:"errors"`
		Previews       Previews                           `json:"previews"`
		ErrorLocations map[string][]CellRef               `json:"error_locations"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Valid == nil {
		return errors.New(`report is missing "valid"`)
	}

	r.Valid = *wire.Valid
	r.CheckResults = wire.CheckResults
	r.Errors = wire.Errors
	r.Previews = wire.Previews
	r.ErrorLocations = wire.ErrorLocations
	return nil
}

// DecodeReport reads one report from rd.
func DecodeReport(rd io.Reader) (*ValidationReport, error) {
	var report ValidationReport
	if err := json.NewDecoder(rd).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode validation report: %w", err)
	}
	return &report, nil
}

func (r *ValidationReport) buildIndex() {
	r.index = make(map[string]map[CellRef]struct{}, len(r.ErrorLocations))
	for table, refs := range r.ErrorLocations {
		set := make(map[CellRef]struct{}, len(refs))
		for _, ref := range refs {
			set[ref] = struct{}{}
		}
		r.index[table] = set
	}
}

// IsCellFlagged reports whether the service flagged the given cell.
// Coordinates outside the preview (row out of range, column absent from that
// row) are never flagged.
func (r *ValidationReport) IsCellFlagged(table string, row int, column string) bool {
	rows := r.Previews[table]
	if row < 0 || row >= len(rows) {
		return false
	}
	if _, ok := rows[row].Get(column); !ok {
		return false
	}

	r.indexOnce.Do(r.buildIndex)
	_, flagged := r.index[table][CellRef{Row: row, Column: column}]
	return flagged
}

// FlaggedCount returns the number of distinct in-bounds flagged cells in table.
func (r *ValidationReport) FlaggedCount(table string) int {
	r.indexOnce.Do(r.buildIndex)
	n := 0
	for ref := range r.index[table] {
		if r.IsCellFlagged(table, ref.Row, ref.Column) {
			n++
		}
	}
	return n
}

// Tables returns every table named in the previews or check results, sorted.
func (r *ValidationReport) Tables() []string {
	seen := make(map[string]struct{})
	for t := range r.Previews {
		seen[t] = struct{}{}
	}
	for t := range r.CheckResults {
		seen[t] = struct{}{}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// FailedChecks returns the messages of failing checks. The service's own
// error list wins when present; otherwise it is derived from CheckResults.
func (r *ValidationReport) FailedChecks() []string {
	if len(r.Errors) > 0 {
		return r.Errors
	}
	var msgs []string
	for _, table := range r.Tables() {
		checks := r.CheckResults[table]
		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if c := checks[name]; !c.Passed {
				msgs = append(msgs, fmt.Sprintf("%s: %s", table, c.Message))
			}
		}
	}
	return msgs
}
