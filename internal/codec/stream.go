package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"
)

// Encoding names the text encoding of an input file.
type Encoding string

const (
	UTF8   Encoding = "utf-8"
	Latin1 Encoding = "latin-1"
)

// ParseEncoding accepts common spellings of UTF-8 and Latin-1.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return UTF8, nil
	case "latin-1", "latin1", "iso-8859-1", "windows-1252", "cp1252":
		return Latin1, nil
	default:
		return "", fmt.Errorf("unsupported text encoding %q", s)
	}
}

// GzipExtension is appended to compressed output file names.
const GzipExtension = ".gz"

var gzipMagic = []byte{0x1f, 0x8b}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// WrapWriter returns w, gzip-compressed when compress is set. Closing the
// result flushes the compressor; it does not close w.
func WrapWriter(w io.Writer, compress bool) io.WriteCloser {
	if !compress {
		return nopWriteCloser{w}
	}
	return gzip.NewWriter(w)
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WrapReader prepares raw input for a decoder: gzip is detected from the
// magic bytes, Latin-1 input is transcoded to UTF-8, and a UTF-8 byte
// order mark is skipped. Closing the result does not close r.
func WrapReader(r io.Reader, enc Encoding) (io.ReadCloser, error) {
	out := &readCloser{}
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		out.closers = append(out.closers, zr)
		src = zr
	}
	if enc == Latin1 {
		src = charmap.Windows1252.NewDecoder().Reader(src)
	}
	bom := bufio.NewReader(src)
	if head, err := bom.Peek(3); err == nil && bytes.Equal(head, utf8BOM) {
		bom.Discard(3)
	}
	out.Reader = bom
	return out, nil
}

// IsGzipName reports whether a file name carries the gzip extension.
func IsGzipName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), GzipExtension)
}
