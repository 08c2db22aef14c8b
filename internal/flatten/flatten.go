package flatten

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"doctransfer/internal/document"
)

// DateLayout is the text form of dates in CSV cells.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// Cell is one (path, text) pair of a flattened document.
type Cell struct {
	Path  string
	Value string
}

// Row is a flattened document in walk order.
type Row []Cell

// Flattener converts between documents and rows of path-addressed text cells.
type Flattener struct {
	opts Options
}

// New builds a Flattener. Invalid options fall back to their defaults.
func New(opts Options) *Flattener {
	if err := opts.Validate(); err != nil {
		opts = DefaultOptions()
	}
	return &Flattener{opts: opts}
}

// Options returns the effective options.
func (f *Flattener) Options() Options { return f.opts }

// Flatten walks doc depth-first and emits one cell per leaf.
func (f *Flattener) Flatten(doc document.Document) (Row, error) {
	row := make(Row, 0, len(doc))
	for _, fld := range doc {
		var err error
		row, err = f.walk(row, Path{{Key: fld.Key}}, fld.Value)
		if err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (f *Flattener) walk(row Row, path Path, v document.Value) (Row, error) {
	switch v := v.(type) {
	case document.Document:
		if len(v) == 0 {
			return append(row, Cell{Path: path.String(), Value: "{}"}), nil
		}
		if f.tooDeep(path) {
			return f.opaque(row, path, v)
		}
		for _, fld := range v {
			var err error
			row, err = f.walk(row, path.key(fld.Key), fld.Value)
			if err != nil {
				return nil, err
			}
		}
		return row, nil
	case document.Array:
		if len(v) == 0 {
			return append(row, Cell{Path: path.String(), Value: "[]"}), nil
		}
		if f.tooDeep(path) || (f.opts.MaxArrayLen > 0 && len(v) > f.opts.MaxArrayLen) {
			return f.opaque(row, path, v)
		}
		for i, item := range v {
			var err error
			row, err = f.walk(row, path.index(i), item)
			if err != nil {
				return nil, err
			}
		}
		return row, nil
	default:
		cell, err := f.EncodeScalar(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return append(row, Cell{Path: path.String(), Value: cell}), nil
	}
}

func (f *Flattener) tooDeep(path Path) bool {
	return f.opts.MaxDepth > 0 && len(path) >= f.opts.MaxDepth
}

func (f *Flattener) opaque(row Row, path Path, v document.Value) (Row, error) {
	raw, err := document.MarshalValue(v, document.Relaxed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return append(row, Cell{Path: path.String(), Value: string(raw)}), nil
}

// EncodeScalar renders a leaf value as cell text.
func (f *Flattener) EncodeScalar(v document.Value) (string, error) {
	switch v := v.(type) {
	case nil, document.Null:
		return f.opts.NullSentinel, nil
	case document.String:
		return string(v), nil
	case document.Int32:
		return strconv.FormatInt(int64(v), 10), nil
	case document.Int64:
		return strconv.FormatInt(int64(v), 10), nil
	case document.Double:
		return formatDouble(float64(v)), nil
	case document.Bool:
		return strconv.FormatBool(bool(v)), nil
	case document.ObjectID:
		return v.Hex(), nil
	case document.DateTime:
		if f.opts.ExtendedScalars {
			return extJSON(v, document.Canonical)
		}
		return v.Time().Format(DateLayout), nil
	case document.Decimal128:
		if f.opts.ExtendedScalars {
			return extJSON(v, document.Canonical)
		}
		return v.String(), nil
	case document.Binary, document.Timestamp:
		if f.opts.ExtendedScalars {
			return extJSON(v, document.Canonical)
		}
		return extJSON(v, document.Relaxed)
	case document.Extended:
		return extJSON(v, document.Relaxed)
	case document.Document, document.Array:
		return extJSON(v, document.Relaxed)
	default:
		return "", &document.UnsupportedTypeError{Type: fmt.Sprintf("%T", v)}
	}
}

func extJSON(v document.Value, mode document.ExtJSONMode) (string, error) {
	raw, err := document.MarshalValue(v, mode)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// formatDouble keeps a fractional marker on integral values so that
// inference reads them back as doubles, not integers.
func formatDouble(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	format := byte('f')
	if abs := math.Abs(v); abs >= 1e21 || (abs != 0 && abs < 1e-6) {
		format = 'g'
	}
	s := strconv.FormatFloat(v, format, -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
