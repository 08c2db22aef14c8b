package document

import "strconv"

// Key is a stable identity for a document within one read. It is the
// relaxed Extended JSON of the identifier, so equal identifiers always
// produce equal keys across runs; documents without an identifier fall
// back to their position.
type Key string

// KeyOfID builds a key from an identifier value.
func KeyOfID(id Value) Key {
	raw, err := MarshalValue(id, Relaxed)
	if err != nil {
		return Key("invalid:" + id.Kind().String())
	}
	return Key(raw)
}

// KeyOf builds a key from doc, falling back to index when it has no _id.
func KeyOf(doc Document, index int64) Key {
	if id, ok := doc.ID(); ok {
		return KeyOfID(id)
	}
	return Key("index:" + strconv.FormatInt(index, 10))
}

func (k Key) String() string { return string(k) }
