// Package trace turns access traces into the (key, size) record stream the
// estimator consumes. Readers only promise the record tuple contract; the
// estimator does not care where records come from.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cuki/internal/logging"
)

// Record is a single access: an opaque key, a positive byte size, and an
// optional source timestamp (zero when the trace carries none).
type Record struct {
	Key       []byte
	Size      uint64
	Timestamp uint64
}

// Reader produces a monotonic sequence of records, returning io.EOF when the
// trace is exhausted.
type Reader interface {
	Next() (Record, error)
}

// CSVReader parses key,size[,timestamp] lines. Blank lines and lines starting
// with '#' are skipped. Malformed lines are counted, logged and skipped
// rather than aborting the run.
type CSVReader struct {
	scanner   *bufio.Scanner
	line      uint64
	malformed uint64
}

// NewCSVReader reads records from r. Lines longer than one MiB are rejected
// by the underlying scanner.
func NewCSVReader(r io.Reader) *CSVReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &CSVReader{scanner: sc}
}

func (r *CSVReader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		rec, err := parseLine(text)
		if err != nil {
			r.malformed++
			logging.Warn(nil, logging.ComponentTrace, logging.ActionRead, "skipping malformed trace line", map[string]interface{}{
				"line":  r.line,
				"error": err.Error(),
			})
			continue
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// Malformed returns the number of malformed lines skipped so far. Blank and
// comment lines are not counted.
func (r *CSVReader) Malformed() uint64 {
	return r.malformed
}

func parseLine(text string) (Record, error) {
	fields := strings.Split(text, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return Record{}, fmt.Errorf("expected key,size[,timestamp], got %d fields", len(fields))
	}

	key := strings.TrimSpace(fields[0])
	if key == "" {
		return Record{}, fmt.Errorf("empty key")
	}

	size, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("bad size %q: %w", fields[1], err)
	}
	if size == 0 {
		return Record{}, fmt.Errorf("size must be positive")
	}

	rec := Record{Key: []byte(key), Size: size}
	if len(fields) == 3 {
		ts, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("bad timestamp %q: %w", fields[2], err)
		}
		rec.Timestamp = ts
	}
	return rec, nil
}
