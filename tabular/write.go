package tabular

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
)

// WriteCSV streams a table as comma-separated text with a header row.
func WriteCSV(w io.Writer, tbl arrow.Table) error {
	cw := csv.NewWriter(w, tbl.Schema(), csv.WithHeader(true))
	rdr := array.NewTableReader(tbl, 1024)
	defer rdr.Release()
	for rdr.Next() {
		if err := cw.Write(rdr.RecordBatch()); err != nil {
			return fmt.Errorf("csv write: %w", err)
		}
	}
	if err := cw.Flush(); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	return cw.Error()
}
