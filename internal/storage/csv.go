package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/tobsdb/recstore/internal/record"
)

// ExportCSV writes every record of table to path. The header is the sorted
// union of all record fields; a missing field is written as an empty cell.
func (e *Engine) ExportCSV(table, path string) error {
	if !e.TableExists(table) {
		return wrapError("export", table, ErrTableNotFound)
	}
	rows, err := e.Read(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return wrapError("export", table, ErrTableEmpty)
	}

	f, err := os.Create(path)
	if err != nil {
		return wrapError("export", table, err)
	}
	defer f.Close()

	if err := WriteCSV(f, rows); err != nil {
		return wrapError("export", table, err)
	}
	if err := f.Close(); err != nil {
		return wrapError("export", table, err)
	}
	e.log.Info(fmt.Sprintf("Exported table '%s' to CSV: %s", table, path))
	return nil
}

func WriteCSV(w io.Writer, rows []record.Record) error {
	fields := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			fields[k] = true
		}
	}
	header := make([]string, 0, len(fields))
	for k := range fields {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	line := make([]string, len(header))
	for _, r := range rows {
		for i, k := range header {
			line[i] = csvCell(r[k])
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case map[string]any, record.Record, []any:
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(buf)
	}
	return fmt.Sprint(v)
}

// ImportCSV appends every row of the csv file at path to table and returns
// the number of rows added. Cells are imported as strings.
func (e *Engine) ImportCSV(table, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, wrapError("import", table, err)
	}
	defer f.Close()

	imported, err := ReadCSV(f)
	if err != nil {
		return 0, wrapError("import", table, err)
	}

	err = e.Modify(table, func(rows []record.Record) ([]record.Record, bool, error) {
		return append(rows, imported...), true, nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info(fmt.Sprintf("Imported %d records from CSV to '%s'", len(imported), table))
	return len(imported), nil
}

// ReadCSV decodes a csv document with a header line into records.
// Short rows leave the trailing fields unset.
func ReadCSV(r io.Reader) ([]record.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return []record.Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	rows := []record.Record{}
	for {
		line, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		r := make(record.Record, len(header))
		for i, k := range header {
			if i < len(line) {
				r[k] = line[i]
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}
