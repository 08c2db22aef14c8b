package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ExtJSONMode selects how non-JSON-native scalars are rendered.
type ExtJSONMode string

const (
	// Relaxed renders numbers and dates as native JSON where unambiguous.
	Relaxed ExtJSONMode = "relaxed"
	// Canonical wraps every non-string/bool/null scalar in a type tag.
	Canonical ExtJSONMode = "canonical"
)

// ParseExtJSONMode accepts "relaxed" (or empty) and "canonical".
func ParseExtJSONMode(s string) (ExtJSONMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Relaxed):
		return Relaxed, nil
	case string(Canonical):
		return Canonical, nil
	default:
		return "", fmt.Errorf("unknown extended JSON mode %q", s)
	}
}

// MarshalExtJSON encodes doc as Extended JSON. Pretty output uses a
// two-space indent.
func MarshalExtJSON(doc Document, mode ExtJSONMode, pretty bool) ([]byte, error) {
	canonical := mode == Canonical
	if pretty {
		return bson.MarshalExtJSONIndent(doc.BSON(), canonical, false, "", "  ")
	}
	return bson.MarshalExtJSON(doc.BSON(), canonical, false)
}

// UnmarshalExtJSON decodes one Extended JSON object. Both relaxed and
// canonical input are accepted, as is plain JSON.
func UnmarshalExtJSON(data []byte) (Document, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON(data, false, &d); err != nil {
		return nil, err
	}
	return FromBSON(d)
}

// envelope is used to marshal a bare value: the encoder only accepts
// documents at the top level.
type envelope struct {
	V json.RawMessage `json:"v"`
}

// MarshalValue encodes a single value (scalar, array or document) as
// Extended JSON.
func MarshalValue(v Value, mode ExtJSONMode) ([]byte, error) {
	raw, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: ToBSON(v)}}, mode == Canonical, false)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(env.V), nil
}

// UnmarshalValue decodes a single Extended JSON value.
func UnmarshalValue(data []byte) (Value, error) {
	buf := make([]byte, 0, len(data)+6)
	buf = append(buf, `{"v":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	doc, err := UnmarshalExtJSON(buf)
	if err != nil {
		return nil, err
	}
	if len(doc) != 1 {
		return nil, fmt.Errorf("expected a single value")
	}
	return doc[0].Value, nil
}
