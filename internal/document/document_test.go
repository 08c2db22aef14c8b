package document_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"doctransfer/internal/document"
)

func sampleDoc(t *testing.T) document.Document {
	t.Helper()
	oid, err := document.ObjectIDFromHex("65a1b2c3d4e5f60718293a4b")
	require.NoError(t, err)
	dec, err := document.ParseDecimal128("12.50")
	require.NoError(t, err)
	return document.D(
		"_id", oid,
		"name", document.String("ada"),
		"age", document.Int32(36),
		"big", document.Int64(1<<40),
		"ratio", document.Double(0.25),
		"active", document.Bool(true),
		"nothing", document.Null{},
		"price", dec,
		"blob", document.Binary{Subtype: 0x80, Data: []byte{1, 2, 3}},
		"at", document.NewDateTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		"ts", document.Timestamp{T: 1700000000, I: 3},
		"address", document.D("city", document.String("London"), "zip", document.Int32(12345)),
		"tags", document.Array{document.String("x"), document.Int32(2), document.D("k", document.Bool(false))},
	)
}

func TestDocument_GetSetDelete(t *testing.T) {
	doc := document.D("a", document.Int32(1), "b", document.String("x"))

	v, ok := doc.Get("b")
	require.True(t, ok)
	assert.Equal(t, document.String("x"), v)

	doc.Set("a", document.Int32(2))
	doc.Set("c", document.Bool(true))
	assert.Equal(t, []string{"a", "b", "c"}, doc.Keys())
	v, _ = doc.Get("a")
	assert.Equal(t, document.Int32(2), v)

	assert.True(t, doc.Delete("b"))
	assert.False(t, doc.Delete("b"))
	assert.Equal(t, []string{"a", "c"}, doc.Keys())
}

func TestDocument_BSONRoundTrip(t *testing.T) {
	doc := sampleDoc(t)
	back, err := document.FromBSON(doc.BSON())
	require.NoError(t, err)
	assert.Equal(t, doc, back)
}

func TestExtJSON_CanonicalRoundTrip(t *testing.T) {
	doc := sampleDoc(t)
	raw, err := document.MarshalExtJSON(doc, document.Canonical, false)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"$numberInt":"36"`)

	back, err := document.UnmarshalExtJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, doc, back)
}

func TestExtJSON_RelaxedNarrowsSmallInt64(t *testing.T) {
	doc := document.D("n", document.Int64(5))
	raw, err := document.MarshalExtJSON(doc, document.Relaxed, false)
	require.NoError(t, err)
	assert.Equal(t, `{"n":5}`, string(raw))

	back, err := document.UnmarshalExtJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, document.D("n", document.Int32(5)), back)
}

func TestExtJSON_PrettyIsIndented(t *testing.T) {
	raw, err := document.MarshalExtJSON(document.D("a", document.Int32(1)), document.Relaxed, true)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"a\"")
}

func TestMarshalValue_Scalars(t *testing.T) {
	raw, err := document.MarshalValue(document.Array{document.Int32(1), document.String("a")}, document.Relaxed)
	require.NoError(t, err)
	assert.Equal(t, `[1,"a"]`, string(raw))

	v, err := document.UnmarshalValue(raw)
	require.NoError(t, err)
	assert.Equal(t, document.Array{document.Int32(1), document.String("a")}, v)
}

func TestValueOf_MapIsSorted(t *testing.T) {
	v, err := document.ValueOf(bson.M{"b": int32(2), "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, document.D("a", document.String("x"), "b", document.Int32(2)), v)
}

func TestValueOf_Unsupported(t *testing.T) {
	_, err := document.ValueOf(struct{}{})
	var ute *document.UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
}

func TestValueOf_ExtendedKindsCarried(t *testing.T) {
	v, err := document.ValueOf(bson.Regex{Pattern: "^a", Options: "i"})
	require.NoError(t, err)
	assert.Equal(t, document.KindExtended, v.Kind())
	assert.Equal(t, bson.Regex{Pattern: "^a", Options: "i"}, document.ToBSON(v))
}

func TestKeyOf(t *testing.T) {
	oid, err := document.ObjectIDFromHex("65a1b2c3d4e5f60718293a4b")
	require.NoError(t, err)

	k1 := document.KeyOf(document.D("_id", oid), 0)
	k2 := document.KeyOf(document.D("_id", oid, "x", document.Int32(1)), 9)
	assert.Equal(t, k1, k2, "same identifier must yield the same key")
	assert.Equal(t, document.Key(`{"$oid":"65a1b2c3d4e5f60718293a4b"}`), k1)

	assert.Equal(t, document.Key("7"), document.KeyOf(document.D("_id", document.Int32(7)), 0))
	assert.Equal(t, document.Key("index:3"), document.KeyOf(document.D("a", document.Int32(1)), 3))
}

func TestParseExtJSONMode(t *testing.T) {
	m, err := document.ParseExtJSONMode("")
	require.NoError(t, err)
	assert.Equal(t, document.Relaxed, m)
	m, err = document.ParseExtJSONMode("Canonical")
	require.NoError(t, err)
	assert.Equal(t, document.Canonical, m)
	_, err = document.ParseExtJSONMode("shell")
	assert.Error(t, err)
}
