package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"insights-pipeline/models"
)

// CSVStore writes and reads domain tables as CSV files in one directory.
// Raw audit copies are named raw_<domain>_<YYYYMMDD>.csv and processed tables
// processed_<domain>_<YYYYMMDD>.csv. It is safe for concurrent use.
type CSVStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewCSVStore creates dir if needed.
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv: create data dir: %w", err)
	}
	return &CSVStore{dir: dir, now: time.Now}, nil
}

func (s *CSVStore) Dir() string { return s.dir }

func (s *CSVStore) path(kind string, domain models.Domain) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s.csv", kind, domain, s.now().Format("20060102")))
}

func (s *CSVStore) WriteRaw(domain models.Domain, t *models.Table) (string, error) {
	return s.write(s.path("raw", domain), t)
}

func (s *CSVStore) WriteProcessed(domain models.Domain, t *models.Table) (string, error) {
	return s.write(s.path("processed", domain), t)
}

func (s *CSVStore) write(path string, t *models.Table) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("csv: create file %q: %w", path, err)
	}
	if err := WriteTable(f, t); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("csv: close %q: %w", path, err)
	}
	return path, nil
}

// ReadProcessed loads the newest processed table of domain.
func (s *CSVStore) ReadProcessed(_ context.Context, domain models.Domain, _ string) (*models.Table, error) {
	path, found, err := LatestFile(s.dir, fmt.Sprintf("processed_%s_*.csv", domain))
	if err != nil || !found {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()
	return ReadTable(f)
}

// WriteTable encodes t with the timestamp column first in RFC 3339 form.
// Undefined numeric cells are written empty.
func WriteTable(w io.Writer, t *models.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns()); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	cols := t.DataColumns()
	record := make([]string, len(cols)+1)
	for i := 0; i < t.Len(); i++ {
		record[0] = t.Times[i].Format(time.RFC3339Nano)
		for j, name := range cols {
			if vals, ok := t.Numeric(name); ok {
				record[j+1] = formatFloat(vals[i])
			} else {
				vals, _ := t.Text(name)
				record[j+1] = vals[i]
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("csv: write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadTable decodes a table written by WriteTable. A column is numeric when
// every non-empty cell parses as a number.
func ReadTable(r io.Reader) (*models.Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: read: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv: missing header")
	}
	header := records[0]
	rows := records[1:]
	t := models.NewTable(header[0])
	t.Times = make([]time.Time, len(rows))
	for i, rec := range rows {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("csv: row %d has %d fields, header has %d", i+1, len(rec), len(header))
		}
		if rec[0] == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("csv: row %d timestamp: %w", i+1, err)
		}
		t.Times[i] = ts
	}

	for j := 1; j < len(header); j++ {
		nums := make([]float64, len(rows))
		numeric := true
		for i, rec := range rows {
			if rec[j] == "" {
				nums[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				numeric = false
				break
			}
			nums[i] = v
		}
		if numeric {
			if err := t.SetNumeric(header[j], nums); err != nil {
				return nil, err
			}
			continue
		}
		texts := make([]string, len(rows))
		for i, rec := range rows {
			texts[i] = rec[j]
		}
		if err := t.SetText(header[j], texts); err != nil {
			return nil, err
		}
	}
	return t, nil
}
