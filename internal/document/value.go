package document

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Value ──────────────────────────────────────────────────
// A Value is one of a closed set of kinds. Code that walks documents
// switches on the concrete type; the unexported marker method keeps
// the set closed to this package.

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt32
	KindInt64
	KindDouble
	KindBool
	KindDecimal128
	KindBinary
	KindDateTime
	KindTimestamp
	KindObjectID
	KindDocument
	KindArray
	KindExtended
)

var kindNames = [...]string{
	KindNull:       "null",
	KindString:     "string",
	KindInt32:      "int32",
	KindInt64:      "int64",
	KindDouble:     "double",
	KindBool:       "bool",
	KindDecimal128: "decimal128",
	KindBinary:     "binary",
	KindDateTime:   "date",
	KindTimestamp:  "timestamp",
	KindObjectID:   "objectId",
	KindDocument:   "document",
	KindArray:      "array",
	KindExtended:   "extended",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsScalar reports whether values of this kind are leaves when walking a document.
func (k Kind) IsScalar() bool {
	return k != KindDocument && k != KindArray
}

// Value is a single typed value inside a Document.
type Value interface {
	Kind() Kind
	value()
}

type (
	// Null is the explicit null value.
	Null struct{}
	// String is a UTF-8 string.
	String string
	// Int32 is a 32-bit signed integer.
	Int32 int32
	// Int64 is a 64-bit signed integer.
	Int64 int64
	// Double is an IEEE-754 double.
	Double float64
	// Bool is a boolean.
	Bool bool
	// Decimal128 is an IEEE-754 decimal128 number.
	Decimal128 struct{ V bson.Decimal128 }
	// Binary is a blob tagged with a BSON binary subtype.
	Binary struct {
		Subtype byte
		Data    []byte
	}
	// DateTime is milliseconds since the Unix epoch, UTC.
	DateTime int64
	// Timestamp is the internal replication timestamp (seconds, ordinal).
	Timestamp struct{ T, I uint32 }
	// ObjectID is the 12-byte document identifier.
	ObjectID [12]byte
	// Array is an ordered sequence of values.
	Array []Value
	// Extended carries a BSON value outside the core kinds (regex,
	// JavaScript, symbol, min/max key, ...) verbatim.
	Extended struct{ V any }
)

func (Null) Kind() Kind       { return KindNull }
func (String) Kind() Kind     { return KindString }
func (Int32) Kind() Kind      { return KindInt32 }
func (Int64) Kind() Kind      { return KindInt64 }
func (Double) Kind() Kind     { return KindDouble }
func (Bool) Kind() Kind       { return KindBool }
func (Decimal128) Kind() Kind { return KindDecimal128 }
func (Binary) Kind() Kind     { return KindBinary }
func (DateTime) Kind() Kind   { return KindDateTime }
func (Timestamp) Kind() Kind  { return KindTimestamp }
func (ObjectID) Kind() Kind   { return KindObjectID }
func (Array) Kind() Kind      { return KindArray }
func (Extended) Kind() Kind   { return KindExtended }

func (Null) value()       {}
func (String) value()     {}
func (Int32) value()      {}
func (Int64) value()      {}
func (Double) value()     {}
func (Bool) value()       {}
func (Decimal128) value() {}
func (Binary) value()     {}
func (DateTime) value()   {}
func (Timestamp) value()  {}
func (ObjectID) value()   {}
func (Array) value()      {}
func (Extended) value()   {}

// NewDateTime converts t to a DateTime, truncating to milliseconds.
func NewDateTime(t time.Time) DateTime {
	return DateTime(t.UnixMilli())
}

// Time returns the DateTime as a UTC time.Time.
func (d DateTime) Time() time.Time {
	return time.UnixMilli(int64(d)).UTC()
}

// Hex returns the 24-character lowercase hex form of the identifier.
func (o ObjectID) Hex() string {
	return bson.ObjectID(o).Hex()
}

// ObjectIDFromHex parses a 24-character hex identifier.
func ObjectIDFromHex(s string) (ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return ObjectID{}, err
	}
	return ObjectID(oid), nil
}

// NewObjectID generates a fresh identifier.
func NewObjectID() ObjectID {
	return ObjectID(bson.NewObjectID())
}

// ParseDecimal128 parses the decimal text form.
func ParseDecimal128(s string) (Decimal128, error) {
	d, err := bson.ParseDecimal128(s)
	if err != nil {
		return Decimal128{}, err
	}
	return Decimal128{V: d}, nil
}

func (d Decimal128) String() string {
	return d.V.String()
}
