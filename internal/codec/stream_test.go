package codec_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctransfer/internal/codec"
)

func TestWrapReader_DetectsGzip(t *testing.T) {
	var buf bytes.Buffer
	w := codec.WrapWriter(&buf, true)
	_, err := w.Write([]byte("{\"a\":1}\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, []byte{0x1f, 0x8b}, buf.Bytes()[:2])

	r, err := codec.WrapReader(&buf, codec.UTF8)
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n", string(out))
}

func TestWrapReader_PlainPassThrough(t *testing.T) {
	r, err := codec.WrapReader(bytes.NewReader([]byte("\xEF\xBB\xBFhello")), codec.UTF8)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestWrapReader_Latin1(t *testing.T) {
	r, err := codec.WrapReader(bytes.NewReader([]byte("caf\xe9")), codec.Latin1)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "café", string(out))
}

func TestParseEncoding(t *testing.T) {
	e, err := codec.ParseEncoding("ISO-8859-1")
	require.NoError(t, err)
	assert.Equal(t, codec.Latin1, e)
	_, err = codec.ParseEncoding("utf-16")
	assert.Error(t, err)
}
