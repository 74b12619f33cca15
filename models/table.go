package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Domain names one category of dataset with its own cleaning and feature rules.
type Domain string

const (
	DomainCovid      Domain = "covid"
	DomainWeather    Domain = "weather"
	DomainStock      Domain = "stock"
	DomainPopulation Domain = "population"
)

// AllDomains lists the domains in the order the pipeline processes them.
var AllDomains = []Domain{DomainCovid, DomainWeather, DomainStock, DomainPopulation}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	for _, d := range AllDomains {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// Table is a columnar, time-indexed dataset. Numeric cells use NaN for
// missing or undefined values; text cells use the empty string.
// Rows are identified by position only.
type Table struct {
	TimeColumn string
	Times      []time.Time

	order   []string
	numeric map[string][]float64
	text    map[string][]string
}

// NewTable creates an empty table whose timestamp column is called timeColumn
// ("date" or "datetime").
func NewTable(timeColumn string) *Table {
	if timeColumn == "" {
		timeColumn = "date"
	}
	return &Table{
		TimeColumn: timeColumn,
		numeric:    make(map[string][]float64),
		text:       make(map[string][]string),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Times)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return t.Len() == 0 }

// Columns returns every column name, timestamp first, in derivation order.
func (t *Table) Columns() []string {
	cols := make([]string, 0, len(t.order)+1)
	cols = append(cols, t.TimeColumn)
	return append(cols, t.order...)
}

// DataColumns returns the non-timestamp columns in derivation order.
func (t *Table) DataColumns() []string {
	return append([]string(nil), t.order...)
}

// NumericColumns returns the numeric column names in derivation order.
func (t *Table) NumericColumns() []string {
	var cols []string
	for _, c := range t.order {
		if _, ok := t.numeric[c]; ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// TextColumns returns the text column names in derivation order.
func (t *Table) TextColumns() []string {
	var cols []string
	for _, c := range t.order {
		if _, ok := t.text[c]; ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// Has reports whether a data column exists.
func (t *Table) Has(col string) bool {
	_, n := t.numeric[col]
	_, s := t.text[col]
	return n || s
}

// HasAll reports whether every named column exists, returning the missing ones.
func (t *Table) HasAll(cols ...string) (bool, []string) {
	var missing []string
	for _, c := range cols {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	return len(missing) == 0, missing
}

// IsNumeric reports whether col exists and holds numbers.
func (t *Table) IsNumeric(col string) bool {
	_, ok := t.numeric[col]
	return ok
}

// Numeric returns the backing slice of a numeric column.
func (t *Table) Numeric(col string) ([]float64, bool) {
	v, ok := t.numeric[col]
	return v, ok
}

// Text returns the backing slice of a text column.
func (t *Table) Text(col string) ([]string, bool) {
	v, ok := t.text[col]
	return v, ok
}

// SetNumeric adds or replaces a numeric column. New columns are appended to
// the derivation order.
func (t *Table) SetNumeric(col string, values []float64) error {
	if len(values) != t.Len() {
		return fmt.Errorf("table: column %q has %d values, table has %d rows", col, len(values), t.Len())
	}
	if _, isText := t.text[col]; isText {
		delete(t.text, col)
	} else if _, exists := t.numeric[col]; !exists {
		t.order = append(t.order, col)
	}
	t.numeric[col] = values
	return nil
}

// SetText adds or replaces a text column.
func (t *Table) SetText(col string, values []string) error {
	if len(values) != t.Len() {
		return fmt.Errorf("table: column %q has %d values, table has %d rows", col, len(values), t.Len())
	}
	if _, isNum := t.numeric[col]; isNum {
		delete(t.numeric, col)
	} else if _, exists := t.text[col]; !exists {
		t.order = append(t.order, col)
	}
	t.text[col] = values
	return nil
}

// AppendRow adds one row. Columns seen for the first time are back-filled as
// missing for earlier rows; known columns absent from the row are missing.
func (t *Table) AppendRow(ts time.Time, values map[string]float64, labels map[string]string) {
	n := t.Len()
	for _, col := range sortedKeys(values) {
		if _, ok := t.numeric[col]; !ok {
			filled := make([]float64, n)
			for i := range filled {
				filled[i] = math.NaN()
			}
			t.numeric[col] = filled
			t.order = append(t.order, col)
		}
	}
	for _, col := range sortedKeys(labels) {
		if _, ok := t.text[col]; !ok {
			t.text[col] = make([]string, n)
			t.order = append(t.order, col)
		}
	}
	t.Times = append(t.Times, ts)
	for col, vals := range t.numeric {
		v, ok := values[col]
		if !ok {
			v = math.NaN()
		}
		t.numeric[col] = append(vals, v)
	}
	for col, vals := range t.text {
		t.text[col] = append(vals, labels[col])
	}
}

// Filter returns a new table holding only rows where keep is true.
func (t *Table) Filter(keep []bool) *Table {
	out := NewTable(t.TimeColumn)
	out.order = append(out.order, t.order...)
	for i, k := range keep {
		if k {
			out.Times = append(out.Times, t.Times[i])
		}
	}
	for col, vals := range t.numeric {
		kept := make([]float64, 0, len(out.Times))
		for i, k := range keep {
			if k {
				kept = append(kept, vals[i])
			}
		}
		out.numeric[col] = kept
	}
	for col, vals := range t.text {
		kept := make([]string, 0, len(out.Times))
		for i, k := range keep {
			if k {
				kept = append(kept, vals[i])
			}
		}
		out.text[col] = kept
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := NewTable(t.TimeColumn)
	out.order = append(out.order, t.order...)
	out.Times = append([]time.Time(nil), t.Times...)
	for col, vals := range t.numeric {
		out.numeric[col] = append([]float64(nil), vals...)
	}
	for col, vals := range t.text {
		out.text[col] = append([]string(nil), vals...)
	}
	return out
}

// Row returns the numeric values of row i keyed by column, skipping NaN.
func (t *Table) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(t.numeric))
	for col, vals := range t.numeric {
		if !math.IsNaN(vals[i]) {
			row[col] = vals[i]
		}
	}
	return row
}

// Labels returns the non-empty text values of row i keyed by column.
func (t *Table) Labels(i int) map[string]string {
	row := make(map[string]string, len(t.text))
	for col, vals := range t.text {
		if vals[i] != "" {
			row[col] = vals[i]
		}
	}
	return row
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
