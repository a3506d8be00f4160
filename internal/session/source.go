package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/stitchfeed/internal/model"
)

// StaticSource serves a fixed thread list in pages. The cursor is the
// offset of the next page. It backs the simulator and tests.
type StaticSource struct {
	Threads  []model.ThreadRecord
	PageSize int
}

// FetchThreads implements model.DataSource.
func (s *StaticSource) FetchThreads(ctx context.Context, cursor string) (model.Page, error) {
	if err := ctx.Err(); err != nil {
		return model.Page{}, err
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return model.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}
	if offset > len(s.Threads) {
		offset = len(s.Threads)
	}

	size := s.PageSize
	if size <= 0 {
		size = len(s.Threads)
	}
	end := min(offset+size, len(s.Threads))

	return model.Page{
		Threads: append([]model.ThreadRecord(nil), s.Threads[offset:end]...),
		Cursor:  strconv.Itoa(end),
		HasMore: end < len(s.Threads),
	}, nil
}
