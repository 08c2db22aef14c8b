package flatten

import (
	"math"
	"regexp"
	"strconv"

	"doctransfer/internal/document"
)

var (
	intPattern   = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)
	floatPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)
	hexPattern   = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
)

// Infer maps a cell back to a typed value. present is false when the cell
// should not produce a field at all (empty cell under EmptyAsAbsent).
// implicit is true when the value came from an empty cell rather than
// from data, which lets structure found in other columns replace it.
func (f *Flattener) Infer(cell string) (v document.Value, present, implicit bool) {
	if cell == "" {
		if f.opts.EmptyCell == EmptyAsAbsent {
			return nil, false, true
		}
		return document.Null{}, true, true
	}
	if f.opts.NullSentinel != "" && cell == f.opts.NullSentinel {
		return document.Null{}, true, false
	}
	return InferScalar(cell), true, false
}

// InferScalar applies the lexical rules to a non-empty cell: integer,
// double, boolean, identifier, embedded Extended JSON, then string.
// Identifiers are tried before doubles; no 24-hex string is a valid
// double except an all-digit one, which overflows int64.
func InferScalar(cell string) document.Value {
	if intPattern.MatchString(cell) {
		if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return document.Int32(n)
			}
			return document.Int64(n)
		}
	}
	if hexPattern.MatchString(cell) {
		if oid, err := document.ObjectIDFromHex(cell); err == nil {
			return oid
		}
	}
	if floatPattern.MatchString(cell) {
		if n, err := strconv.ParseFloat(cell, 64); err == nil {
			return document.Double(n)
		}
	}
	switch cell {
	case "true":
		return document.Bool(true)
	case "false":
		return document.Bool(false)
	}
	if n := len(cell); n >= 2 {
		if (cell[0] == '{' && cell[n-1] == '}') || (cell[0] == '[' && cell[n-1] == ']') {
			if v, err := document.UnmarshalValue([]byte(cell)); err == nil {
				return v
			}
		}
	}
	return document.String(cell)
}
