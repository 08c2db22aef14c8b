package document

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// UnsupportedTypeError is returned when a Go or BSON value has no Value variant.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported value type %s", e.Type)
}

// FromBSON converts a driver-decoded bson.D into a Document.
func FromBSON(d bson.D) (Document, error) {
	doc := make(Document, 0, len(d))
	for _, e := range d {
		v, err := ValueOf(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
		doc = append(doc, Field{Key: e.Key, Value: v})
	}
	return doc, nil
}

// ValueOf converts a driver value (or a plain Go scalar, as produced by
// database/sql scans) into a Value.
func ValueOf(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case bson.Null:
		return Null{}, nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case int32:
		return Int32(v), nil
	case int64:
		return Int64(v), nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return Int32(v), nil
		}
		return Int64(v), nil
	case int8:
		return Int32(v), nil
	case int16:
		return Int32(v), nil
	case uint8:
		return Int32(v), nil
	case uint16:
		return Int32(v), nil
	case uint32:
		return Int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return Double(float64(v)), nil
		}
		return Int64(v), nil
	case float64:
		return Double(v), nil
	case float32:
		return Double(v), nil
	case []byte:
		return Binary{Subtype: 0, Data: append([]byte(nil), v...)}, nil
	case time.Time:
		return NewDateTime(v), nil
	case bson.ObjectID:
		return ObjectID(v), nil
	case bson.DateTime:
		return DateTime(v), nil
	case bson.Decimal128:
		return Decimal128{V: v}, nil
	case bson.Binary:
		return Binary{Subtype: v.Subtype, Data: v.Data}, nil
	case bson.Timestamp:
		return Timestamp{T: v.T, I: v.I}, nil
	case bson.D:
		return FromBSON(v)
	case bson.M:
		return fromMap(v)
	case map[string]any:
		return fromMap(v)
	case bson.A:
		return fromSlice(v)
	case []any:
		return fromSlice(v)
	case bson.Regex, bson.JavaScript, bson.Symbol, bson.CodeWithScope,
		bson.DBPointer, bson.MinKey, bson.MaxKey, bson.Undefined:
		return Extended{V: v}, nil
	default:
		return nil, &UnsupportedTypeError{Type: fmt.Sprintf("%T", raw)}
	}
}

// fromMap sorts keys: maps carry no order, and documents built from
// them must be deterministic.
func fromMap(m map[string]any) (Document, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	doc := make(Document, 0, len(m))
	for _, k := range keys {
		v, err := ValueOf(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc = append(doc, Field{Key: k, Value: v})
	}
	return doc, nil
}

func fromSlice(s []any) (Array, error) {
	arr := make(Array, 0, len(s))
	for i, item := range s {
		v, err := ValueOf(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// BSON converts the document into the driver's ordered representation.
func (d Document) BSON() bson.D {
	out := make(bson.D, 0, len(d))
	for _, f := range d {
		out = append(out, bson.E{Key: f.Key, Value: ToBSON(f.Value)})
	}
	return out
}

// ToBSON converts a Value into the driver type the encoder expects.
func ToBSON(v Value) any {
	switch v := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(v)
	case Int32:
		return int32(v)
	case Int64:
		return int64(v)
	case Double:
		return float64(v)
	case Bool:
		return bool(v)
	case Decimal128:
		return v.V
	case Binary:
		return bson.Binary{Subtype: v.Subtype, Data: v.Data}
	case DateTime:
		return bson.DateTime(v)
	case Timestamp:
		return bson.Timestamp{T: v.T, I: v.I}
	case ObjectID:
		return bson.ObjectID(v)
	case Document:
		return v.BSON()
	case Array:
		arr := make(bson.A, len(v))
		for i, item := range v {
			arr[i] = ToBSON(item)
		}
		return arr
	case Extended:
		return v.V
	default:
		panic(fmt.Sprintf("document: unhandled value kind %T", v))
	}
}
