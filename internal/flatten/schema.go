package flatten

import (
	"fmt"
	"sync"
)

// UnseenPolicy decides what happens to a path that a row carries but the
// schema does not.
type UnseenPolicy string

const (
	// UnseenDrop discards the cell and reports the path.
	UnseenDrop UnseenPolicy = "drop"
	// UnseenAppend adds the path as a new trailing column.
	UnseenAppend UnseenPolicy = "append"
)

// ColumnSchema is the ordered, de-duplicated set of column paths. Column
// order never changes once a path is added; appended paths go last.
type ColumnSchema struct {
	Unseen UnseenPolicy

	paths []string
	index map[string]int

	parseOnce sync.Once
	parsed    []Path
	parseErr  error
}

// NewColumnSchema builds a schema from paths, dropping duplicates.
func NewColumnSchema(paths []string, unseen UnseenPolicy) *ColumnSchema {
	s := &ColumnSchema{Unseen: unseen, index: make(map[string]int, len(paths))}
	for _, p := range paths {
		s.add(p)
	}
	return s
}

func (s *ColumnSchema) add(p string) bool {
	if _, ok := s.index[p]; ok {
		return false
	}
	s.index[p] = len(s.paths)
	s.paths = append(s.paths, p)
	return true
}

// Columns returns a copy of the column paths in order.
func (s *ColumnSchema) Columns() []string {
	return append([]string(nil), s.paths...)
}

// Len is the number of columns.
func (s *ColumnSchema) Len() int { return len(s.paths) }

// Has reports whether path is a column.
func (s *ColumnSchema) Has(path string) bool {
	_, ok := s.index[path]
	return ok
}

// Paths returns the parsed form of every column. The result is cached;
// a schema must not be appended to after Paths is first called.
func (s *ColumnSchema) Paths() ([]Path, error) {
	s.parseOnce.Do(func() {
		s.parsed = make([]Path, len(s.paths))
		for i, p := range s.paths {
			parsed, err := ParsePath(p)
			if err != nil {
				s.parseErr = fmt.Errorf("column %d: %w", i+1, err)
				return
			}
			s.parsed[i] = parsed
		}
	})
	return s.parsed, s.parseErr
}

// Align lays row out in column order. Missing paths produce empty cells.
// Paths outside the schema are appended as new columns under
// UnseenAppend, otherwise dropped; either way they are returned.
func (s *ColumnSchema) Align(row Row) (cells []string, unseen []string) {
	for _, c := range row {
		if _, ok := s.index[c.Path]; !ok {
			unseen = append(unseen, c.Path)
			if s.Unseen == UnseenAppend {
				s.add(c.Path)
			}
		}
	}
	cells = make([]string, len(s.paths))
	for _, c := range row {
		if i, ok := s.index[c.Path]; ok {
			cells[i] = c.Value
		}
	}
	return cells, unseen
}
