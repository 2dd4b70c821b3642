package segmentation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ignite/persona-segmentation/internal/domain"
)

// Well-known columns.
const (
	FieldCustomerID = "customer_id"
	FieldName       = "name"
	FieldEmail      = "email"
	FieldIncome     = "income"
	FieldBalance    = "balance"
	FieldAge        = "age"
)

// alwaysRequired columns must exist in every upload; labeling and routing
// depend on them.
var alwaysRequired = []string{FieldCustomerID, FieldIncome, FieldBalance}

// maxRejectSamples caps the per-row reasons returned to the caller.
const maxRejectSamples = 20

// Table is a parsed upload: a header and its data rows, as strings.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable parses a CSV upload. Short rows are padded with empty cells so
// the sanitizer can reject them as rows instead of failing the batch.
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Err: ErrNoColumns, Detail: "file is empty"}
	}
	if err != nil {
		return nil, &ValidationError{Err: ErrNotTabular, Detail: err.Error()}
	}

	seen := make(map[string]bool, len(header))
	cols := 0
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		if h == "" {
			continue
		}
		if seen[h] {
			return nil, &ValidationError{Err: ErrNotTabular, Detail: fmt.Sprintf("duplicate column %q", h)}
		}
		seen[h] = true
		cols++
	}
	if cols == 0 {
		return nil, &ValidationError{Err: ErrNoColumns}
	}

	t := &Table{Header: header}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ValidationError{Err: ErrNotTabular, Detail: err.Error()}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Schema declares how columns are validated and coerced.
type Schema struct {
	SentinelTokens []string
	BooleanFields  []string
	NumericFields  []string
	// OptionalFields may be missing without dropping the row. Every other
	// column in the upload is required.
	OptionalFields []string
}

// RejectedRow explains why one row was excluded.
type RejectedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// SanitizeResult is the outcome of a sanitize pass.
type SanitizeResult struct {
	Records  []domain.CustomerRecord `json:"-"`
	Columns  []string                `json:"columns"`
	Total    int                     `json:"total_rows"`
	Rejected int                     `json:"rejected_count"`
	Samples  []RejectedRow           `json:"rejected_samples,omitempty"`
}

// Sanitizer validates and coerces uploaded rows. It is a pure transform and
// safe for concurrent use.
type Sanitizer struct {
	sentinels map[string]bool
	booleans  map[string]bool
	numerics  map[string]bool
	optional  map[string]bool
}

// NewSanitizer builds a Sanitizer for the given schema.
func NewSanitizer(s Schema) *Sanitizer {
	return &Sanitizer{
		sentinels: toSet(s.SentinelTokens),
		booleans:  toSet(s.BooleanFields),
		numerics:  toSet(s.NumericFields),
		optional:  toSet(s.OptionalFields),
	}
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// Sanitize converts the table into customer records. Bad rows are dropped
// and counted; only a table without columns is an error.
func (s *Sanitizer) Sanitize(t *Table) (*SanitizeResult, error) {
	if t == nil {
		return nil, &ValidationError{Err: ErrNotTabular}
	}
	index := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		if h != "" {
			index[h] = i
		}
	}
	if len(index) == 0 {
		return nil, &ValidationError{Err: ErrNoColumns}
	}

	res := &SanitizeResult{Total: len(t.Rows), Columns: s.attributeColumns(t.Header)}

	var missingCol string
	for _, col := range alwaysRequired {
		if _, ok := index[col]; !ok {
			missingCol = col
			break
		}
	}

	for i, row := range t.Rows {
		line := i + 2 // header is line 1
		if missingCol != "" {
			res.reject(line, fmt.Sprintf("required column %q is absent", missingCol))
			continue
		}
		rec, reason := s.coerceRow(t.Header, row)
		if reason != "" {
			res.reject(line, reason)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	promoteNumeric(res.Records)
	return res, nil
}

// promoteNumeric moves undeclared columns into Attributes when every accepted
// row holds a number for them. Anything else stays categorical for the whole
// batch so each column reaches the classifier with one type.
func promoteNumeric(records []domain.CustomerRecord) {
	numeric := make(map[string]bool)
	for _, rec := range records {
		for col, cell := range rec.Categories {
			_, ok := parseNumber(cell)
			if prev, seen := numeric[col]; seen {
				numeric[col] = prev && ok
			} else {
				numeric[col] = ok
			}
		}
	}
	for col, ok := range numeric {
		if !ok {
			continue
		}
		for i := range records {
			cell, present := records[i].Categories[col]
			if !present {
				continue
			}
			v, _ := parseNumber(cell)
			records[i].Attributes[col] = v
			delete(records[i].Categories, col)
		}
	}
	for i := range records {
		if len(records[i].Categories) == 0 {
			records[i].Categories = nil
		}
	}
}

func (r *SanitizeResult) reject(line int, reason string) {
	r.Rejected++
	if len(r.Samples) < maxRejectSamples {
		r.Samples = append(r.Samples, RejectedRow{Line: line, Reason: reason})
	}
}

// attributeColumns lists the header columns that become record attributes,
// in upload order. This is the column schema handed to the classifier.
func (s *Sanitizer) attributeColumns(header []string) []string {
	var cols []string
	for _, h := range header {
		switch h {
		case "", FieldCustomerID, FieldName, FieldEmail:
			continue
		}
		cols = append(cols, h)
	}
	return cols
}

func (s *Sanitizer) isMissing(cell string) bool {
	cell = strings.TrimSpace(cell)
	return cell == "" || s.sentinels[cell]
}

func (s *Sanitizer) coerceRow(header, row []string) (domain.CustomerRecord, string) {
	if len(row) > len(header) {
		return domain.CustomerRecord{}, fmt.Sprintf("row has %d cells, header has %d", len(row), len(header))
	}

	rec := domain.CustomerRecord{
		Attributes: make(map[string]float64),
		Categories: make(map[string]string),
	}
	for i, col := range header {
		if col == "" {
			continue
		}
		cell := ""
		if i < len(row) {
			cell = strings.TrimSpace(row[i])
		}
		if s.isMissing(cell) {
			if s.optional[col] && col != FieldCustomerID && col != FieldIncome && col != FieldBalance {
				continue
			}
			return domain.CustomerRecord{}, fmt.Sprintf("missing value for %q", col)
		}

		switch {
		case col == FieldCustomerID:
			rec.CustomerID = cell
		case col == FieldName:
			rec.Name = cell
		case col == FieldEmail:
			rec.Email = cell
		case s.booleans[col]:
			v, ok := parseBoolish(cell)
			if !ok {
				return domain.CustomerRecord{}, fmt.Sprintf("%q is not boolean: %q", col, cell)
			}
			rec.Attributes[col] = v
		case s.numerics[col] || col == FieldIncome || col == FieldBalance:
			v, ok := parseNumber(cell)
			if !ok {
				return domain.CustomerRecord{}, fmt.Sprintf("%q is not numeric: %q", col, cell)
			}
			rec.Attributes[col] = v
		default:
			rec.Categories[col] = cell
		}
	}
	return rec, ""
}

func parseNumber(cell string) (float64, bool) {
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseBoolish accepts true/false words and 0/1 numbers (including "1.0").
func parseBoolish(cell string) (float64, bool) {
	switch strings.ToLower(cell) {
	case "true", "t", "yes", "y":
		return 1, true
	case "false", "f", "no", "n":
		return 0, true
	}
	v, ok := parseNumber(cell)
	if !ok || (v != 0 && v != 1) {
		return 0, false
	}
	return v, true
}
