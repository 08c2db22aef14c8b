package codec

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"doctransfer/internal/document"
)

// ── Line-delimited JSON ────────────────────────────────────
// One Extended JSON document per "\n"-terminated line. Pretty printing
// does not apply: a document must fit on its line.

type jsonlCodec struct{}

func init() { Register(jsonlCodec{}) }

func (jsonlCodec) Spec() Spec {
	return Spec{Format: FormatJSONL, Label: "JSON Lines", Extension: "jsonl"}
}

func (jsonlCodec) NewEncoder(w io.Writer, opts Options) (Encoder, error) {
	return &jsonlEncoder{w: bufio.NewWriter(w), mode: opts.Mode}, nil
}

func (jsonlCodec) NewDecoder(r io.Reader, opts Options) (Decoder, error) {
	return &jsonlDecoder{r: bufio.NewReaderSize(r, 64*1024)}, nil
}

type jsonlEncoder struct {
	w    *bufio.Writer
	mode document.ExtJSONMode
}

func (e *jsonlEncoder) WriteBatch(docs []document.Document) error {
	var failed []RecordError
	for i, doc := range docs {
		raw, err := document.MarshalExtJSON(doc, e.mode, false)
		if err != nil {
			failed = append(failed, RecordError{Index: int64(i), Err: err})
			continue
		}
		e.w.Write(raw)
		e.w.WriteByte('\n')
	}
	if err := e.w.Flush(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &BatchError{Failures: failed}
	}
	return nil
}

func (e *jsonlEncoder) Close() error { return e.w.Flush() }

type jsonlDecoder struct {
	r     *bufio.Reader
	line  int
	index int64
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (d *jsonlDecoder) Next() (document.Document, error) {
	for {
		raw, err := d.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return nil, err
		}
		d.line++
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if d.line == 1 {
			raw = bytes.TrimPrefix(raw, utf8BOM)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		idx := d.index
		d.index++
		doc, perr := document.UnmarshalExtJSON(raw)
		if perr != nil {
			return nil, &RecordError{Index: idx, Line: d.line, Err: perr}
		}
		return doc, nil
	}
}
