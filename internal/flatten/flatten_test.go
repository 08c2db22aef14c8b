package flatten_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctransfer/internal/document"
	"doctransfer/internal/flatten"
)

// roundTrip flattens doc, discovers its columns and rebuilds it.
func roundTrip(t *testing.T, f *flatten.Flattener, doc document.Document) document.Document {
	t.Helper()
	schema, err := f.DiscoverColumns([]document.Document{doc})
	require.NoError(t, err)
	row, err := f.Flatten(doc)
	require.NoError(t, err)
	cells, unseen := schema.Align(row)
	require.Empty(t, unseen)
	back, err := f.Unflatten(cells, schema)
	require.NoError(t, err)
	return back
}

// ── Flatten ────────────────────────────────────────────────

func TestFlatten_NestedAndArray(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	doc := document.D(
		"a", document.D("b", document.Int32(1)),
		"c", document.Array{document.Int32(10), document.Int32(20)},
	)

	schema, err := f.DiscoverColumns([]document.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b", "c[0]", "c[1]"}, schema.Columns())

	row, err := f.Flatten(doc)
	require.NoError(t, err)
	cells, _ := schema.Align(row)
	assert.Equal(t, []string{"1", "10", "20"}, cells)
}

func TestFlatten_ScalarEncoding(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	oid, err := document.ObjectIDFromHex("65a1b2c3d4e5f60718293a4b")
	require.NoError(t, err)
	at := document.NewDateTime(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC))

	row, err := f.Flatten(document.D(
		"id", oid,
		"n", document.Null{},
		"d", document.Double(3),
		"frac", document.Double(0.5),
		"ok", document.Bool(false),
		"at", at,
		"empty", document.D(),
		"none", document.Array{},
	))
	require.NoError(t, err)
	assert.Equal(t, flatten.Row{
		{Path: "id", Value: "65a1b2c3d4e5f60718293a4b"},
		{Path: "n", Value: ""},
		{Path: "d", Value: "3.0"},
		{Path: "frac", Value: "0.5"},
		{Path: "ok", Value: "false"},
		{Path: "at", Value: "2024-03-01T12:30:00.000Z"},
		{Path: "empty", Value: "{}"},
		{Path: "none", Value: "[]"},
	}, row)
}

func TestFlatten_EscapesKeys(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	doc := document.D("a.b", document.D("c[0]", document.Int32(1)))
	row, err := f.Flatten(doc)
	require.NoError(t, err)
	require.Len(t, row, 1)
	assert.Equal(t, `a\.b.c\[0\]`, row[0].Path)

	assert.Equal(t, doc, roundTrip(t, f, doc))
}

func TestFlatten_DepthLimitEmitsOpaqueCell(t *testing.T) {
	opts := flatten.DefaultOptions()
	opts.MaxDepth = 2
	f := flatten.New(opts)
	doc := document.D("a", document.D("b", document.D("c", document.Int32(1))))

	row, err := f.Flatten(doc)
	require.NoError(t, err)
	assert.Equal(t, flatten.Row{{Path: "a.b", Value: `{"c":1}`}}, row)
	assert.Equal(t, doc, roundTrip(t, f, doc))
}

func TestFlatten_ArrayWidthLimit(t *testing.T) {
	opts := flatten.DefaultOptions()
	opts.MaxArrayLen = 2
	f := flatten.New(opts)
	doc := document.D("xs", document.Array{document.Int32(1), document.Int32(2), document.Int32(3)})

	row, err := f.Flatten(doc)
	require.NoError(t, err)
	assert.Equal(t, flatten.Row{{Path: "xs", Value: "[1,2,3]"}}, row)
	assert.Equal(t, doc, roundTrip(t, f, doc))
}

// ── Round-trip ─────────────────────────────────────────────

func TestRoundTrip_UnambiguousDocument(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	oid, err := document.ObjectIDFromHex("65a1b2c3d4e5f60718293a4b")
	require.NoError(t, err)

	doc := document.D(
		"_id", oid,
		"name", document.String("ada lovelace"),
		"age", document.Int32(36),
		"big", document.Int64(1<<40),
		"score", document.Double(9.75),
		"whole", document.Double(2),
		"active", document.Bool(true),
		"missing", document.Null{},
		"blob", document.Binary{Subtype: 0x80, Data: []byte("hi")},
		"ts", document.Timestamp{T: 1700000000, I: 1},
		"address", document.D(
			"city", document.String("London"),
			"geo", document.Array{document.Double(51.5), document.Double(-0.12)},
		),
		"tags", document.Array{
			document.String("x"),
			document.D("k", document.String("v"), "n", document.Int32(1)),
			document.Array{document.Bool(true)},
		},
		"empty", document.D(),
	)

	assert.Equal(t, doc, roundTrip(t, f, doc))
}

func TestRoundTrip_ExtendedScalars(t *testing.T) {
	opts := flatten.DefaultOptions()
	opts.ExtendedScalars = true
	f := flatten.New(opts)
	dec, err := document.ParseDecimal128("12.50")
	require.NoError(t, err)

	doc := document.D(
		"price", dec,
		"at", document.NewDateTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	)
	assert.Equal(t, doc, roundTrip(t, f, doc))
}

func TestRoundTrip_NullSentinelKeepsNullAndAbsentApart(t *testing.T) {
	opts := flatten.DefaultOptions()
	opts.NullSentinel = `\N`
	opts.EmptyCell = flatten.EmptyAsAbsent
	f := flatten.New(opts)

	withNull := document.D("a", document.Int32(1), "b", document.Null{})
	without := document.D("a", document.Int32(2))
	schema, err := f.DiscoverColumns([]document.Document{withNull, without})
	require.NoError(t, err)

	for _, doc := range []document.Document{withNull, without} {
		row, err := f.Flatten(doc)
		require.NoError(t, err)
		cells, _ := schema.Align(row)
		back, err := f.Unflatten(cells, schema)
		require.NoError(t, err)
		assert.Equal(t, doc, back)
	}
}

// ── Discovery ──────────────────────────────────────────────

func TestDiscoverColumns_StableUnion(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	docs := []document.Document{
		document.D("a", document.Int32(1), "b", document.D("c", document.Int32(2))),
		document.D("d", document.String("x"), "a", document.Int32(3)),
		document.D("b", document.D("e", document.Bool(true))),
	}

	first, err := f.DiscoverColumns(docs)
	require.NoError(t, err)
	second, err := f.DiscoverColumns(docs)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b.c", "d", "b.e"}, first.Columns())
	assert.Equal(t, first.Columns(), second.Columns())

	for _, doc := range docs {
		row, err := f.Flatten(doc)
		require.NoError(t, err)
		for _, c := range row {
			assert.True(t, first.Has(c.Path), c.Path)
		}
		cells, unseen := first.Align(row)
		assert.Len(t, cells, first.Len())
		assert.Empty(t, unseen)
	}
}

func TestDiscoverer_SampleBound(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	d := flatten.NewDiscoverer(flatten.Sample(1))

	row1, _ := f.Flatten(document.D("a", document.Int32(1)))
	row2, _ := f.Flatten(document.D("b", document.Int32(2)))
	assert.False(t, d.Observe(row1))
	assert.False(t, d.Observe(row2))
	assert.Equal(t, 1, d.Observed())

	schema := d.Schema(flatten.UnseenDrop)
	cells, unseen := schema.Align(row2)
	assert.Equal(t, []string{""}, cells)
	assert.Equal(t, []string{"b"}, unseen)

	appendSchema := d.Schema(flatten.UnseenAppend)
	cells, unseen = appendSchema.Align(row2)
	assert.Equal(t, []string{"", "2"}, cells)
	assert.Equal(t, []string{"b"}, unseen)
	assert.Equal(t, []string{"a", "b"}, appendSchema.Columns())
}

func TestWarnings(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	dec, _ := document.ParseDecimal128("1.1")
	docs := []document.Document{
		document.D("price", dec, "nested", document.D("at", document.DateTime(0))),
		document.D("price", dec, "name", document.String("x")),
	}
	ws := f.Warnings(docs)
	require.Len(t, ws, 2)
	assert.Equal(t, "nested.at", ws[0].Path)
	assert.Equal(t, document.KindDateTime, ws[0].Kind)
	assert.Equal(t, "price", ws[1].Path)
	assert.Contains(t, ws[1].String(), "decimal128")
}

func TestFlatten_EmptyFieldNameRoundTrips(t *testing.T) {
	f := flatten.New(flatten.DefaultOptions())
	doc := document.D(
		"_id", document.Int32(1),
		"", document.String("kept"),
		"a", document.D("", document.Int32(2), "b", document.Int32(3)),
	)

	row, err := f.Flatten(doc)
	require.NoError(t, err)
	paths := make([]string, len(row))
	for i, c := range row {
		paths[i] = c.Path
	}
	assert.Equal(t, []string{"_id", `\0`, `a.\0`, "a.b"}, paths)

	assert.Equal(t, doc, roundTrip(t, f, doc))
	back, err := f.UnflattenRow(row)
	require.NoError(t, err)
	assert.Equal(t, doc, back)

	ws := f.Warnings([]document.Document{doc})
	require.Len(t, ws, 2)
	assert.True(t, ws[0].EmptyName)
	assert.Equal(t, `\0`, ws[0].Path)
	assert.Equal(t, `a.\0`, ws[1].Path)
	assert.Contains(t, ws[1].String(), "empty name")
}
