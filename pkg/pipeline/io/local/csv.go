package local

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/vocab-enricher/pkg/record"
)

// ReadRecordsCSV reads a CSV file with a header row. Every row becomes a record whose
// fields are the header columns, in header order, with string values.
func ReadRecordsCSV(r io.Reader) ([]record.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	keys := make([]string, 0, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, col := range header {
		name := strings.TrimSpace(col)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if name == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate header column %q", name)
		}
		seen[name] = struct{}{}
		keys = append(keys, name)
	}

	recs := make([]record.Record, 0)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(row) > len(keys) {
			return nil, fmt.Errorf("row %d has %d columns, header has %d", len(recs)+1, len(row), len(keys))
		}
		recs = append(recs, record.FromStrings(keys, row))
	}
	return recs, nil
}
