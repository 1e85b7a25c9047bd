package core

// mapping.go loads the CODE -> SKU table that drives renaming.
//
// The table is a comma-separated file with at least a code column and a SKU
// column. Spreadsheet exports arrive in whatever encoding the user's machine
// produced, so decoding falls back through a fixed list of encodings until
// one yields a table with both required columns.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding names a text encoding tried when reading a mapping table.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin-1"
	EncodingCP1252 Encoding = "cp1252"
)

// EncodingFallback is the order in which encodings are tried.
var EncodingFallback = []Encoding{EncodingUTF8, EncodingLatin1, EncodingCP1252}

// SKUColumn is the header of the identifier column.
const SKUColumn = "SKU"

// ImagesColumn is the header added by the annotator.
const ImagesColumn = "IMAGES"

// codeColumnNames are the accepted headers for the code column, lowercased.
var codeColumnNames = []string{"código", "codigo", "code"}

var (
	// ErrMissingColumns is returned when the code or SKU column is absent.
	ErrMissingColumns = errors.New("missing required column (expected CÓDIGO/CODE and SKU)")

	// ErrEmptyTable is returned for a file without a header row.
	ErrEmptyTable = errors.New("empty file")
)

// MappingLoadError is the fatal error returned when no usable mapping could
// be read. No partial mapping accompanies it.
type MappingLoadError struct {
	// Attempts holds the failure for each encoding that was tried, in order.
	Attempts map[Encoding]error
	Err      error
}

func (e *MappingLoadError) Error() string {
	return fmt.Sprintf("mapping load failed: %v", e.Err)
}

func (e *MappingLoadError) Unwrap() error {
	return e.Err
}

// MappingPair is one code/identifier entry.
type MappingPair struct {
	Code string `json:"code"`
	SKU  string `json:"sku"`
}

// MappingTable is the parsed mapping plus the original table it came from.
// It is immutable once loaded.
type MappingTable struct {
	Encoding Encoding
	Header   []string
	Rows     [][]string

	codeCol int
	skuCol  int
	order   []string
	entries map[string]string
}

// NewMappingTable builds a table from pairs, applying the same trimming and
// last-write-wins rules as LoadMapping. The synthetic header is CODE,SKU.
func NewMappingTable(pairs ...MappingPair) *MappingTable {
	m := &MappingTable{
		Encoding: EncodingUTF8,
		Header:   []string{"CODE", SKUColumn},
		codeCol:  0,
		skuCol:   1,
		entries:  make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		m.Rows = append(m.Rows, []string{p.Code, p.SKU})
		m.put(p.Code, p.SKU)
	}
	return m
}

func (m *MappingTable) put(code, sku string) {
	code = strings.TrimSpace(code)
	sku = strings.TrimSpace(sku)
	if code == "" || sku == "" {
		return
	}
	if _, exists := m.entries[code]; !exists {
		m.order = append(m.order, code)
	}
	m.entries[code] = sku
}

// Lookup returns the identifier mapped to code.
func (m *MappingTable) Lookup(code string) (string, bool) {
	if m == nil {
		return "", false
	}
	sku, ok := m.entries[code]
	return sku, ok
}

// Len returns the number of distinct codes.
func (m *MappingTable) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Pairs returns the deduplicated entries in first-seen order.
func (m *MappingTable) Pairs() []MappingPair {
	pairs := make([]MappingPair, 0, len(m.order))
	for _, code := range m.order {
		pairs = append(pairs, MappingPair{Code: code, SKU: m.entries[code]})
	}
	return pairs
}

// CodeCell returns the trimmed code cell of a data row.
func (m *MappingTable) CodeCell(row []string) string {
	return cell(row, m.codeCol)
}

// LoadMapping reads a mapping table from r, trying each encoding in
// EncodingFallback until one parses and has both required columns.
func LoadMapping(r io.Reader) (*MappingTable, error) {
	data, err := io.ReadAll(NewBOMSkippingReader(r))
	if err != nil {
		return nil, &MappingLoadError{Err: fmt.Errorf("read table: %w", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MappingLoadError{Err: ErrEmptyTable}
	}

	attempts := make(map[Encoding]error, len(EncodingFallback))
	var lastErr error
	for _, enc := range EncodingFallback {
		m, err := parseMapping(data, enc)
		if err == nil {
			return m, nil
		}
		attempts[enc] = err
		lastErr = err
	}

	return nil, &MappingLoadError{Attempts: attempts, Err: lastErr}
}

// parseMapping decodes data with enc and builds the table.
func parseMapping(data []byte, enc Encoding) (*MappingTable, error) {
	text, err := decodeText(data, enc)
	if err != nil {
		return nil, err
	}

	records, err := parseCSV(text)
	if err != nil {
		return nil, fmt.Errorf("invalid csv (%s): %w", enc, err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}

	header := records[0]
	idx := makeHeaderIndex(header)

	codeCol := -1
	for _, name := range codeColumnNames {
		if pos, ok := idx[name]; ok {
			codeCol = pos
			break
		}
	}
	skuCol, hasSKU := idx[strings.ToLower(SKUColumn)]
	if codeCol < 0 || !hasSKU {
		return nil, fmt.Errorf("%w (%s): header %v", ErrMissingColumns, enc, header)
	}

	m := &MappingTable{
		Encoding: enc,
		Header:   header,
		Rows:     records[1:],
		codeCol:  codeCol,
		skuCol:   skuCol,
		entries:  make(map[string]string, len(records)-1),
	}
	for _, row := range m.Rows {
		m.put(cell(row, codeCol), cell(row, skuCol))
	}
	return m, nil
}

// decodeText converts raw table bytes to a UTF-8 string.
func decodeText(data []byte, enc Encoding) (string, error) {
	switch enc {
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("encoding error: input is not valid %s", enc)
		}
		return string(data), nil
	case EncodingLatin1:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("encoding error (%s): %w", enc, err)
		}
		return string(out), nil
	case EncodingCP1252:
		out, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("encoding error (%s): %w", enc, err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("encoding error: unsupported encoding %q", enc)
	}
}

func parseCSV(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// makeHeaderIndex maps trimmed, lowercased header names to their position.
// The first occurrence of a repeated header wins.
func makeHeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, exists := idx[key]; !exists {
			idx[key] = i
		}
	}
	return idx
}

// cell returns the trimmed value at pos, or "" for short rows.
func cell(row []string, pos int) string {
	if pos < 0 || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

// CodeOf returns the first CodeLength characters of s.
func CodeOf(s string) string {
	n := 0
	for i := range s {
		if n == CodeLength {
			return s[:i]
		}
		n++
	}
	return s
}

// MappingPreview summarises a mapping table before a run starts.
type MappingPreview struct {
	Encoding   Encoding      `json:"encoding"`
	Header     []string      `json:"header"`
	Rows       int           `json:"rows"`
	Codes      int           `json:"codes"`
	ShortCodes []string      `json:"shortCodes,omitempty"`
	Sample     [][]string    `json:"sample"`
	Pairs      []MappingPair `json:"-"`
}

// maxPreviewRows is the number of rows included in a preview sample.
const maxPreviewRows = 10

// PreviewMapping reports what a table contains. Codes shorter than
// CodeLength can never match an image code and are listed as warnings.
func PreviewMapping(m *MappingTable) MappingPreview {
	p := MappingPreview{
		Encoding: m.Encoding,
		Header:   m.Header,
		Rows:     len(m.Rows),
		Codes:    m.Len(),
		Pairs:    m.Pairs(),
	}
	for _, code := range m.order {
		if utf8.RuneCountInString(code) < CodeLength {
			p.ShortCodes = append(p.ShortCodes, code)
		}
	}
	n := len(m.Rows)
	if n > maxPreviewRows {
		n = maxPreviewRows
	}
	p.Sample = m.Rows[:n]
	return p
}
