// Package source provides port.RowSource implementations over in-memory slices and
// JSON-lines streams.
package source

import (
	"context"
	"io"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
)

// SliceSource streams a fixed slice of rows.
type SliceSource struct {
	rows []model.FieldBag
	pos  int
	open bool
}

// NewSliceSource creates a SliceSource over rows. The rows are not copied.
func NewSliceSource(rows []model.FieldBag) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Open(ctx context.Context) error {
	s.pos = 0
	s.open = true
	return nil
}

func (s *SliceSource) Next(ctx context.Context) (model.FieldBag, error) {
	if err := ctx.Err(); err != nil {
		return model.FieldBag{}, err
	}
	if !s.open || s.pos >= len(s.rows) {
		return model.FieldBag{}, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *SliceSource) TotalHint() int64 {
	return int64(len(s.rows))
}

func (s *SliceSource) Close() error {
	s.open = false
	return nil
}

var _ port.RowSource = (*SliceSource)(nil)
