package extsort

import (
	"container/heap"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/c-sungho/clojask/trace"
)

// RowReader pulls raw delimited rows; io.EOF signals exhaustion
type RowReader interface {
	Read() ([]string, error)
}

// RowWriter receives rows in final sorted order
type RowWriter interface {
	Write(row []string) error
}

// DefaultChunkRows bounds how many rows one in-memory run may hold
const DefaultChunkRows = 100000

// Options configures the external sort
type Options struct {
	// ChunkRows is the in-memory run size; 0 selects DefaultChunkRows
	ChunkRows int
	// TmpDir receives the spilled runs; empty selects os.TempDir
	TmpDir string
}

// Sort performs a bounded-memory merge sort: rows are read into
// memory-sized chunks, each chunk is sorted with cmp and spilled as a
// snappy-compressed run, and the runs are merged with a k-way heap
// preserving comparator order. Ties may reorder; stability is not part
// of the contract.
func Sort(r RowReader, cmp func(a, b []string) int, opts Options, w RowWriter) error {
	chunkRows := opts.ChunkRows
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}
	tmpDir := opts.TmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}

	tracer := trace.Get()
	var runs []string
	defer func() {
		for _, path := range runs {
			os.Remove(path)
		}
	}()

	// Partition into sorted runs
	chunk := make([][]string, 0, chunkRows)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		sort.Slice(chunk, func(i, j int) bool { return cmp(chunk[i], chunk[j]) < 0 })
		path, size, err := spillRun(tmpDir, chunk)
		if err != nil {
			return err
		}
		runs = append(runs, path)
		tracer.Debug(trace.ComponentSort, "Spilled sorted run", trace.Context(
			"run", len(runs), "rows", len(chunk), "size", humanize.Bytes(uint64(size)),
		))
		chunk = chunk[:0]
		return nil
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading sort input: %w", err)
		}
		chunk = append(chunk, row)
		if len(chunk) >= chunkRows {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	// Single in-memory run: skip the merge entirely
	if len(runs) == 0 {
		sort.Slice(chunk, func(i, j int) bool { return cmp(chunk[i], chunk[j]) < 0 })
		for _, row := range chunk {
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	}
	if err := flush(); err != nil {
		return err
	}

	tracer.Info(trace.ComponentSort, "Merging sorted runs", trace.Context("runs", len(runs)))
	return mergeRuns(runs, cmp, w)
}

// spillRun writes one sorted chunk as a snappy-compressed CSV run
func spillRun(tmpDir string, chunk [][]string) (string, int64, error) {
	path := filepath.Join(tmpDir, fmt.Sprintf("clojask-sort-%s.run", uuid.New().String()))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating spill file: %w", err)
	}
	sw := snappy.NewBufferedWriter(f)
	cw := csv.NewWriter(sw)
	for _, row := range chunk {
		if err := cw.Write(row); err != nil {
			f.Close()
			return "", 0, fmt.Errorf("writing spill file: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return "", 0, err
	}
	if err := sw.Close(); err != nil {
		f.Close()
		return "", 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}
	return path, info.Size(), nil
}

// runCursor reads one spilled run during the merge
type runCursor struct {
	file *os.File
	csv  *csv.Reader
	row  []string
	id   int
}

func (rc *runCursor) advance() (bool, error) {
	row, err := rc.csv.Read()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rc.row = row
	return true, nil
}

// mergeHeap orders run cursors by their current row under cmp, with
// run id as the deterministic tie break
type mergeHeap struct {
	cursors []*runCursor
	cmp     func(a, b []string) int
}

func (h *mergeHeap) Len() int { return len(h.cursors) }

func (h *mergeHeap) Less(i, j int) bool {
	c := h.cmp(h.cursors[i].row, h.cursors[j].row)
	if c != 0 {
		return c < 0
	}
	return h.cursors[i].id < h.cursors[j].id
}

func (h *mergeHeap) Swap(i, j int) {
	h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i]
}

func (h *mergeHeap) Push(x interface{}) {
	h.cursors = append(h.cursors, x.(*runCursor))
}

func (h *mergeHeap) Pop() interface{} {
	old := h.cursors
	n := len(old)
	x := old[n-1]
	h.cursors = old[:n-1]
	return x
}

func mergeRuns(runs []string, cmp func(a, b []string) int, w RowWriter) error {
	h := &mergeHeap{cmp: cmp}
	defer func() {
		for _, rc := range h.cursors {
			rc.file.Close()
		}
	}()

	heap.Init(h)
	for id, path := range runs {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening run %d: %w", id, err)
		}
		cr := csv.NewReader(snappy.NewReader(f))
		cr.FieldsPerRecord = -1
		rc := &runCursor{file: f, csv: cr, id: id}
		ok, err := rc.advance()
		if err != nil {
			f.Close()
			return fmt.Errorf("reading run %d: %w", id, err)
		}
		if !ok {
			f.Close()
			continue
		}
		heap.Push(h, rc)
	}

	for h.Len() > 0 {
		rc := h.cursors[0]
		if err := w.Write(rc.row); err != nil {
			return err
		}
		ok, err := rc.advance()
		if err != nil {
			return fmt.Errorf("reading run %d: %w", rc.id, err)
		}
		if ok {
			heap.Fix(h, 0)
		} else {
			rc.file.Close()
			heap.Pop(h)
		}
	}
	return nil
}
