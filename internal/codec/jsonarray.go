package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"doctransfer/internal/document"
)

// ── JSON array ─────────────────────────────────────────────
// A single top-level array of Extended JSON documents. Pretty output
// puts each element on its own lines, indented by two spaces:
//
//	[
//	  {...},
//	  {...}
//	]

type jsonArrayCodec struct{}

func init() { Register(jsonArrayCodec{}) }

func (jsonArrayCodec) Spec() Spec {
	return Spec{Format: FormatJSON, Label: "JSON Array", Extension: "json"}
}

func (jsonArrayCodec) NewEncoder(w io.Writer, opts Options) (Encoder, error) {
	return &jsonArrayEncoder{w: bufio.NewWriter(w), mode: opts.Mode, pretty: opts.Pretty}, nil
}

func (jsonArrayCodec) NewDecoder(r io.Reader, opts Options) (Decoder, error) {
	return &jsonArrayDecoder{r: bufio.NewReader(r)}, nil
}

type jsonArrayEncoder struct {
	w       *bufio.Writer
	mode    document.ExtJSONMode
	pretty  bool
	opened  bool
	written int64
	indent  bytes.Buffer
}

func (e *jsonArrayEncoder) open() {
	if e.opened {
		return
	}
	e.opened = true
	e.w.WriteByte('[')
	if e.pretty {
		e.w.WriteByte('\n')
	}
}

func (e *jsonArrayEncoder) WriteBatch(docs []document.Document) error {
	e.open()
	var failed []RecordError
	for i, doc := range docs {
		raw, err := document.MarshalExtJSON(doc, e.mode, false)
		if err != nil {
			failed = append(failed, RecordError{Index: int64(i), Err: err})
			continue
		}
		if e.written > 0 {
			e.w.WriteByte(',')
			if e.pretty {
				e.w.WriteByte('\n')
			}
		}
		if e.pretty {
			e.indent.Reset()
			if err := json.Indent(&e.indent, raw, "  ", "  "); err != nil {
				return fmt.Errorf("indent document: %w", err)
			}
			e.w.WriteString("  ")
			e.w.Write(e.indent.Bytes())
		} else {
			e.w.Write(raw)
		}
		e.written++
	}
	if err := e.w.Flush(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &BatchError{Failures: failed}
	}
	return nil
}

func (e *jsonArrayEncoder) Close() error {
	e.open()
	if e.pretty && e.written > 0 {
		e.w.WriteByte('\n')
	}
	e.w.WriteByte(']')
	return e.w.Flush()
}

type jsonArrayDecoder struct {
	r       *bufio.Reader
	dec     *json.Decoder
	started bool
	single  bool
	done    bool
	index   int64
}

// start peeks at the first significant byte: an array is streamed
// element by element, a lone object is read as one document.
func (d *jsonArrayDecoder) start() error {
	d.started = true
	if b, err := d.r.Peek(3); err == nil && bytes.Equal(b, utf8BOM) {
		d.r.Discard(3)
	}
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.done = true
				return nil
			}
			return err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			d.r.UnreadByte()
			d.dec = json.NewDecoder(d.r)
			_, err := d.dec.Token()
			return err
		case '{':
			d.r.UnreadByte()
			d.dec = json.NewDecoder(d.r)
			d.single = true
			return nil
		default:
			return fmt.Errorf("json input must be an array or an object, found %q", b)
		}
	}
}

func (d *jsonArrayDecoder) Next() (document.Document, error) {
	if !d.started {
		if err := d.start(); err != nil {
			return nil, err
		}
	}
	if d.done {
		return nil, io.EOF
	}
	if d.single {
		d.done = true
		return d.decodeOne()
	}
	if !d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read json array end: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != ']' {
			return nil, fmt.Errorf("unexpected token %v at end of json array", tok)
		}
		d.done = true
		return nil, io.EOF
	}
	return d.decodeOne()
}

// decodeOne reads one element. Malformed JSON leaves the stream in an
// unknown state and is fatal; a well-formed element that is not a
// valid document is a record error.
func (d *jsonArrayDecoder) decodeOne() (document.Document, error) {
	var raw json.RawMessage
	offset := d.dec.InputOffset()
	if err := d.dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json at offset %d: %w", offset, err)
	}
	idx := d.index
	d.index++
	doc, err := document.UnmarshalExtJSON(raw)
	if err != nil {
		return nil, &RecordError{Index: idx, Offset: offset, Err: err}
	}
	return doc, nil
}
