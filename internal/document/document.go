package document

// Field is one key/value pair of a Document.
type Field struct {
	Key   string
	Value Value
}

// Document is an ordered mapping of field name to value. Field order is
// preserved through every codec; duplicate keys are not expected but are
// tolerated (Get returns the first).
type Document []Field

func (Document) Kind() Kind { return KindDocument }
func (Document) value()     {}

// IDKey is the identifier field name.
const IDKey = "_id"

// Get returns the value stored under key.
func (d Document) Get(key string) (Value, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key in place, or appends a new field.
func (d *Document) Set(key string, v Value) {
	for i := range *d {
		if (*d)[i].Key == key {
			(*d)[i].Value = v
			return
		}
	}
	*d = append(*d, Field{Key: key, Value: v})
}

// Delete removes key and reports whether it was present.
func (d *Document) Delete(key string) bool {
	for i := range *d {
		if (*d)[i].Key == key {
			*d = append((*d)[:i], (*d)[i+1:]...)
			return true
		}
	}
	return false
}

// Keys returns field names in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, f := range d {
		keys[i] = f.Key
	}
	return keys
}

// ID returns the identifier value, if present.
func (d Document) ID() (Value, bool) {
	return d.Get(IDKey)
}

// Without returns a copy of d with key removed.
func (d Document) Without(key string) Document {
	out := make(Document, 0, len(d))
	for _, f := range d {
		if f.Key != key {
			out = append(out, f)
		}
	}
	return out
}

// D is a shorthand constructor: D("a", Int32(1), "b", String("x")).
// It panics on an odd argument count or a non-string key; intended for
// literals in tests and fixtures.
func D(kv ...any) Document {
	if len(kv)%2 != 0 {
		panic("document.D: odd number of arguments")
	}
	doc := make(Document, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic("document.D: key must be a string")
		}
		val, ok := kv[i+1].(Value)
		if !ok {
			panic("document.D: value must be a document.Value")
		}
		doc = append(doc, Field{Key: key, Value: val})
	}
	return doc
}
