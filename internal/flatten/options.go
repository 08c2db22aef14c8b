package flatten

import "fmt"

// EmptyCell decides what an empty cell means on import.
type EmptyCell string

const (
	// EmptyAsNull stores an explicit null at the cell's path.
	EmptyAsNull EmptyCell = "null"
	// EmptyAsAbsent omits the field entirely.
	EmptyAsAbsent EmptyCell = "absent"
)

// CollisionPolicy decides what happens when one row carries both a
// scalar and nested values at the same path.
type CollisionPolicy string

const (
	// CollisionReject fails the row with a CollisionError.
	CollisionReject CollisionPolicy = "reject"
	// CollisionValueKey keeps the nested values and moves the scalar
	// under "<path>._value". Arrays cannot host a side key and are
	// always rejected.
	CollisionValueKey CollisionPolicy = "value-key"
)

// ValueKey is the side-channel key used by CollisionValueKey.
const ValueKey = "_value"

// Options configures flattening and inference.
type Options struct {
	// MaxDepth bounds nesting. A document or array that would be walked
	// below this depth is written as one opaque Extended JSON cell.
	// Zero means unlimited.
	MaxDepth int `json:"max_depth" toml:"max_depth"`
	// MaxArrayLen bounds how many elements of an array are expanded into
	// columns. Longer arrays become one opaque cell. Zero means unlimited.
	MaxArrayLen int `json:"max_array_len" toml:"max_array_len"`
	// NullSentinel, when set, is written for explicit nulls and read back
	// as null. It lets a file tell null apart from an absent field.
	NullSentinel string          `json:"null_sentinel" toml:"null_sentinel"`
	EmptyCell    EmptyCell       `json:"empty_cell" toml:"empty_cell"`
	Collision    CollisionPolicy `json:"collision" toml:"collision"`
	// ExtendedScalars writes dates, decimals, binaries and timestamps as
	// canonical Extended JSON cells so they re-import with their type.
	ExtendedScalars bool `json:"extended_scalars" toml:"extended_scalars"`
}

// DefaultOptions returns the options used when a job does not override them.
func DefaultOptions() Options {
	return Options{
		MaxDepth:    32,
		MaxArrayLen: 0,
		EmptyCell:   EmptyAsNull,
		Collision:   CollisionReject,
	}
}

// Validate fills zero-valued enums and rejects unknown ones.
func (o *Options) Validate() error {
	if o.MaxDepth < 0 || o.MaxArrayLen < 0 {
		return fmt.Errorf("flatten limits must not be negative")
	}
	switch o.EmptyCell {
	case "":
		o.EmptyCell = EmptyAsNull
	case EmptyAsNull, EmptyAsAbsent:
	default:
		return fmt.Errorf("unknown empty cell policy %q", o.EmptyCell)
	}
	switch o.Collision {
	case "":
		o.Collision = CollisionReject
	case CollisionReject, CollisionValueKey:
	default:
		return fmt.Errorf("unknown collision policy %q", o.Collision)
	}
	return nil
}
