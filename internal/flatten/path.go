package flatten

import (
	"fmt"
	"strconv"
	"strings"
)

// maxIndex caps array indexes accepted from a header so a hostile column
// name cannot force a huge allocation.
const maxIndex = 1 << 20

// Segment is one step of a Path: a document key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path addresses a leaf inside a document, e.g. a.b[0].c.
type Path []Segment

// PathError reports a column name that cannot be parsed.
type PathError struct {
	Path   string
	Offset int
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid column path %q at offset %d: %s", e.Path, e.Offset, e.Reason)
}

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if s.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		writeKey(&b, s.Key)
	}
	return b.String()
}

func (p Path) key(k string) Path {
	return append(p[:len(p):len(p)], Segment{Key: k})
}

func (p Path) index(i int) Path {
	return append(p[:len(p):len(p)], Segment{Index: i, IsIndex: true})
}

// EmptyKey is the column text of a field with an empty name.
const EmptyKey = `\0`

func writeKey(b *strings.Builder, k string) {
	if k == "" {
		b.WriteString(EmptyKey)
		return
	}
	for i := 0; i < len(k); i++ {
		switch c := k[i]; c {
		case '.', '[', ']', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
}

// ParsePath tokenizes a column name. The first segment is always a key;
// "\" escapes the next byte inside keys, except that a whole key of
// "\0" is the empty key.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, &PathError{Path: s, Reason: "empty path"}
	}
	var (
		path Path
		key  strings.Builder
		i    int
	)
	readKey := func() error {
		key.Reset()
		start := i
		for i < len(s) {
			c := s[i]
			switch c {
			case '\\':
				if i+1 >= len(s) {
					return &PathError{Path: s, Offset: i, Reason: "dangling escape"}
				}
				if s[i+1] == '0' {
					if i != start || (i+2 < len(s) && s[i+2] != '.' && s[i+2] != '[') {
						return &PathError{Path: s, Offset: i, Reason: `"\0" must be a whole key`}
					}
					i += 2
					return nil
				}
				key.WriteByte(s[i+1])
				i += 2
				continue
			case '.', '[':
				if i == start {
					return &PathError{Path: s, Offset: i, Reason: "empty key"}
				}
				return nil
			case ']':
				return &PathError{Path: s, Offset: i, Reason: "unexpected ']'"}
			}
			key.WriteByte(c)
			i++
		}
		if i == start {
			return &PathError{Path: s, Offset: i, Reason: "empty key"}
		}
		return nil
	}

	if s[0] == '[' {
		return nil, &PathError{Path: s, Reason: "path must start with a key"}
	}
	if err := readKey(); err != nil {
		return nil, err
	}
	path = append(path, Segment{Key: key.String()})

	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			if err := readKey(); err != nil {
				return nil, err
			}
			path = append(path, Segment{Key: key.String()})
		case '[':
			start := i
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, &PathError{Path: s, Offset: start, Reason: "unterminated index"}
			}
			digits := s[i+1 : i+end]
			if !isStrictUint(digits) {
				return nil, &PathError{Path: s, Offset: start, Reason: "index must be a non-negative integer"}
			}
			n, err := strconv.Atoi(digits)
			if err != nil || n >= maxIndex {
				return nil, &PathError{Path: s, Offset: start, Reason: "index out of range"}
			}
			path = append(path, Segment{Index: n, IsIndex: true})
			i += end + 1
		default:
			return nil, &PathError{Path: s, Offset: i, Reason: "expected '.' or '['"}
		}
	}
	return path, nil
}

func isStrictUint(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '0' {
		return len(s) == 1
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
