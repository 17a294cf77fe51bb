package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/c-sungho/clojask/trace"
)

// Row is one raw input record with the monotonically increasing
// sequence id assigned at read time.
type Row struct {
	Seq    int64
	Fields []string
}

// RowSource is the input collaborator contract: sequential pull with an
// at-least-once-resumable checkpoint. Recover re-derives the row
// sequence and deterministically skips the given number of rows.
type RowSource interface {
	Header() []string
	Next() (Row, error) // io.EOF once exhausted
	Checkpoint() int64
	Recover(offset int64) error
	Completed() bool
	Close() error
}

// Options configures a delimited file source
type Options struct {
	Separator rune // 0 selects comma
	HasHeader bool
	// XZ forces xz decompression; files ending in .xz opt in implicitly
	XZ bool
}

// DelimitedSource reads a delimited text file row by row
type DelimitedSource struct {
	path   string
	opts   Options
	file   *os.File
	reader *csv.Reader
	header []string
	pushed []string
	seq    int64
	done   bool
}

// OpenDelimited opens a delimited file and resolves its column names.
// With HasHeader the first record names the columns; otherwise names
// are synthesized from the first record's width and the record stays
// part of the data.
func OpenDelimited(path string, opts Options) (*DelimitedSource, error) {
	s := &DelimitedSource{path: path, opts: opts}
	if err := s.open(); err != nil {
		return nil, err
	}

	record, err := s.reader.Read()
	if err == io.EOF {
		s.done = true
		return s, nil
	}
	if err != nil {
		s.file.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if opts.HasHeader {
		s.header = record
	} else {
		s.header = make([]string, len(record))
		for i := range record {
			s.header[i] = fmt.Sprintf("col_%d", i)
		}
		s.pushed = record
	}

	trace.Get().Debug(trace.ComponentSource, "Delimited source opened", trace.Context(
		"path", path, "columns", len(s.header), "header", opts.HasHeader,
	))
	return s, nil
}

func (s *DelimitedSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	var r io.Reader = f
	if s.opts.XZ || strings.HasSuffix(s.path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("opening xz stream %s: %w", s.path, err)
		}
		r = xr
	}
	cr := csv.NewReader(r)
	if s.opts.Separator != 0 {
		cr.Comma = s.opts.Separator
	}
	cr.FieldsPerRecord = -1
	s.file = f
	s.reader = cr
	return nil
}

// Header returns the resolved column names
func (s *DelimitedSource) Header() []string { return s.header }

// Next returns the next row with its sequence id
func (s *DelimitedSource) Next() (Row, error) {
	record := s.pushed
	if record != nil {
		s.pushed = nil
	} else {
		var err error
		record, err = s.reader.Read()
		if err == io.EOF {
			s.done = true
			return Row{}, io.EOF
		}
		if err != nil {
			return Row{}, fmt.Errorf("reading %s: %w", s.path, err)
		}
	}
	row := Row{Seq: s.seq, Fields: record}
	s.seq++
	return row, nil
}

// Checkpoint returns the number of rows delivered so far
func (s *DelimitedSource) Checkpoint() int64 { return s.seq }

// Recover reopens the file and deterministically skips offset rows
func (s *DelimitedSource) Recover(offset int64) error {
	if err := s.file.Close(); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}
	s.pushed = nil
	s.seq = 0
	s.done = false

	if s.opts.HasHeader {
		if _, err := s.reader.Read(); err != nil && err != io.EOF {
			return fmt.Errorf("skipping header of %s: %w", s.path, err)
		}
	}
	for s.seq < offset {
		if _, err := s.reader.Read(); err == io.EOF {
			s.done = true
			return nil
		} else if err != nil {
			return fmt.Errorf("recovering %s at offset %d: %w", s.path, offset, err)
		}
		s.seq++
	}
	trace.Get().Debug(trace.ComponentSource, "Source recovered", trace.Context(
		"path", s.path, "offset", offset,
	))
	return nil
}

// Completed reports whether the sequence is exhausted
func (s *DelimitedSource) Completed() bool { return s.done }

// Close releases the underlying file
func (s *DelimitedSource) Close() error { return s.file.Close() }
