package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// imagesSeparator joins output names in the IMAGES column.
const imagesSeparator = ", "

// Annotate returns the mapping table with an IMAGES column appended. Each
// row's value lists the outputs produced for the first CodeLength characters
// of its code cell, or "" when there are none. The original columns and row
// order are kept.
func Annotate(table *MappingTable, groups map[string][]string) [][]string {
	out := make([][]string, 0, len(table.Rows)+1)

	header := make([]string, 0, len(table.Header)+1)
	header = append(header, table.Header...)
	header = append(header, ImagesColumn)
	out = append(out, header)

	width := len(table.Header)
	for _, row := range table.Rows {
		rec := make([]string, width, width+1)
		copy(rec, row)
		key := CodeOf(table.CodeCell(row))
		rec = append(rec, strings.Join(groups[key], imagesSeparator))
		out = append(out, rec)
	}
	return out
}

// WriteAnnotatedCSV writes the annotated table to w as UTF-8 CSV.
func WriteAnnotatedCSV(w io.Writer, table *MappingTable, groups map[string][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Annotate(table, groups)); err != nil {
		return fmt.Errorf("write annotated csv: %w", err)
	}
	return nil
}
