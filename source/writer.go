package source

import (
	"encoding/csv"
	"fmt"
	"os"
)

// DelimitedWriter streams output rows to a delimited text file. The
// header row, the resolved output column names, is written before any
// data row.
type DelimitedWriter struct {
	file   *os.File
	writer *csv.Writer
}

// CreateDelimited creates the output file and writes its header
func CreateDelimited(path string, header []string, separator rune) (*DelimitedWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if separator != 0 {
		w.Comma = separator
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header to %s: %w", path, err)
	}
	return &DelimitedWriter{file: f, writer: w}, nil
}

// Write appends one data row
func (w *DelimitedWriter) Write(row []string) error {
	return w.writer.Write(row)
}

// Close flushes and closes the output file
func (w *DelimitedWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
