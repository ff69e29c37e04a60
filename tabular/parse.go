package tabular

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Hints carries the optional parse parameters a caller may know about a flat
// file. The zero value means comma-separated, first row is a header, UTF-8.
type Hints struct {
	Delimiter rune
	NoHeader  bool
	Encoding  string
}

// Parse reads delimited text into an Arrow table with an inferred schema.
// Non-UTF-8 encodings are not decoded locally; those files ride the transfer
// service, which converts server side.
func Parse(r io.Reader, hints Hints) (arrow.Table, error) {
	if !utf8Encoding(hints.Encoding) {
		return nil, fmt.Errorf("unsupported encoding %q", hints.Encoding)
	}

	delim := hints.Delimiter
	if delim == 0 {
		delim = ','
	}

	reader := csv.NewInferringReader(r,
		csv.WithAllocator(memory.DefaultAllocator),
		csv.WithChunk(1024),
		csv.WithHeader(!hints.NoHeader),
		csv.WithComma(delim),
		csv.WithNullReader(true),
	)
	defer reader.Release()

	var recs []arrow.RecordBatch
	for reader.Next() {
		rec := reader.RecordBatch()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, fmt.Errorf("csv read: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("csv read: no rows in input")
	}

	tbl := array.NewTableFromRecords(reader.Schema(), recs)
	for _, rec := range recs {
		rec.Release()
	}
	return tbl, nil
}

func utf8Encoding(enc string) bool {
	switch strings.ToLower(enc) {
	case "", "utf-8", "utf8":
		return true
	default:
		return false
	}
}
