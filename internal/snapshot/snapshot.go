// Package snapshot reads and writes the JSON-lines files that sit between
// pipeline steps, and the request log.
package snapshot

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 16 * 1024 * 1024

// WriteCandidates writes one candidate per line, creating parent directories.
func WriteCandidates(path string, candidates []model.CandidateReview) error {
	return writeLines(path, len(candidates), func(i int) any { return candidates[i] })
}

// ReadCandidates reads a candidate snapshot. Blank lines are skipped.
func ReadCandidates(path string) ([]model.CandidateReview, error) {
	var out []model.CandidateReview
	err := readLines(path, func(line []byte) error {
		c, err := model.ParseCandidate(line)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// WritePayloads writes one payload per line, creating parent directories.
func WritePayloads(path string, payloads []model.LLMPayload) error {
	return writeLines(path, len(payloads), func(i int) any { return payloads[i] })
}

// ReadPayloads reads a payload snapshot. Blank lines are skipped.
func ReadPayloads(path string) ([]model.LLMPayload, error) {
	var out []model.LLMPayload
	err := readLines(path, func(line []byte) error {
		p, err := model.ParsePayload(line)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func writeLines(path string, n int, item func(i int) any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure.Wrapf(failure.KindPrecondition, err, "snapshot: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return failure.Wrapf(failure.KindPrecondition, err, "snapshot: create %s", path)
	}

	w := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		if err := writeLine(w, item(i)); err != nil {
			f.Close() //nolint:errcheck
			return eris.Wrapf(err, "snapshot: write %s line %d", path, i+1)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "snapshot: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "snapshot: close %s", path)
}

func writeLine(w io.Writer, v any) error {
	b, err := model.MarshalJSONLine(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

func readLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return failure.Wrapf(failure.KindPrecondition, err, "snapshot: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return failure.Wrapf(failure.KindData, err, "snapshot: %s line %d", path, lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return failure.Wrapf(failure.KindData, err, "snapshot: read %s after line %d", path, lineNo)
	}
	return nil
}
