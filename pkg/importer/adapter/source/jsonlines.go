package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// maxLineSize bounds a single JSON-lines record.
const maxLineSize = 4 * 1024 * 1024

// Opener returns a fresh reader positioned at the start of the stream.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// FileOpener opens path on every call.
func FileOpener(path string) Opener {
	return func(context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// JSONLinesSource streams one JSON object per line. Key order of each object is kept.
// Blank lines are ignored.
type JSONLinesSource struct {
	open    Opener
	rc      io.ReadCloser
	scanner *bufio.Scanner
	line    int
}

// NewJSONLinesSource creates a source reading from open.
func NewJSONLinesSource(open Opener) *JSONLinesSource {
	return &JSONLinesSource{open: open}
}

func (s *JSONLinesSource) Open(ctx context.Context) error {
	if s.rc != nil {
		_ = s.rc.Close()
	}
	rc, err := s.open(ctx)
	if err != nil {
		return exception.NewPermanentError("source", "cannot open JSON-lines stream", err)
	}
	s.rc = rc
	s.scanner = bufio.NewScanner(rc)
	s.scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	s.line = 0
	return nil
}

func (s *JSONLinesSource) Next(ctx context.Context) (model.FieldBag, error) {
	if s.scanner == nil {
		return model.FieldBag{}, io.EOF
	}
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return model.FieldBag{}, err
		}
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row model.FieldBag
		if err := row.UnmarshalJSON(line); err != nil {
			return model.FieldBag{}, exception.NewEngineError("source", exception.TierSystem, exception.CodeUnsupportedFormat,
				fmt.Sprintf("line %d is not a JSON object", s.line), err, false)
		}
		return row, nil
	}
	if err := s.scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return model.FieldBag{}, exception.NewEngineError("source", exception.TierSystem, exception.CodeFileTooLarge,
				fmt.Sprintf("line %d exceeds %d bytes", s.line+1, maxLineSize), err, false)
		}
		return model.FieldBag{}, exception.NewTransientError("source", "cannot read JSON-lines stream", err)
	}
	return model.FieldBag{}, io.EOF
}

// TotalHint is unknown for streams.
func (s *JSONLinesSource) TotalHint() int64 {
	return -1
}

func (s *JSONLinesSource) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc, s.scanner = nil, nil
	return err
}

var _ port.RowSource = (*JSONLinesSource)(nil)
