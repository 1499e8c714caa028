package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
	zipMagic  = []byte("PK\x03\x04")
	ErrNoRows = errors.New("table has no header row")
)

// Table is a decoded spreadsheet: one header row and the data rows below it.
type Table struct {
	Header []string
	Rows   [][]string

	exact map[string]int
	lower map[string]int
}

func newTable(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	t := &Table{
		exact: make(map[string]int),
		lower: make(map[string]int),
	}
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		t.Header = append(t.Header, h)
		if _, ok := t.exact[h]; !ok {
			t.exact[h] = i
		}
		if _, ok := t.lower[strings.ToLower(h)]; !ok {
			t.lower[strings.ToLower(h)] = i
		}
	}
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Column returns the index of the first alias present in the header, or -1.
// Each alias is tried exactly, then case-insensitively, before the next one.
func (t *Table) Column(aliases ...string) int {
	for _, a := range aliases {
		if i, ok := t.exact[a]; ok {
			return i
		}
		if i, ok := t.lower[strings.ToLower(a)]; ok {
			return i
		}
	}
	return -1
}

// Value returns the trimmed cell, empty when the column is missing or the row is short.
func (t *Table) Value(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// DecodeTable sniffs the payload and decodes it as XLSX or CSV.
func DecodeTable(data []byte) (*Table, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return DecodeXLSX(data)
	}
	return DecodeCSV(data)
}

// DecodeCSV reads UTF-8 CSV, stripping a BOM. Input that is not valid UTF-8
// is decoded as Windows-1252, which is what the provincial exports use.
func DecodeCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode windows-1252: %w", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return newTable(rows)
}

// DecodeXLSX reads the first sheet of a workbook.
func DecodeXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoRows
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return newTable(rows)
}
