package transfer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"doctransfer/internal/document"
)

// ── MemoryStore ────────────────────────────────────────────
// MemoryStore is an in-process Store keyed by database and collection.
// It backs previews of pasted documents and the package tests. _id is
// unique per collection, as in a real document store.

// DuplicateKeyError rejects an insert whose _id already exists.
type DuplicateKeyError struct {
	Key document.Key
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: _id %s already exists", e.Key)
}

type memCollection struct {
	docs []document.Document
	ids  map[document.Key]int
}

func newMemCollection() *memCollection {
	return &memCollection{ids: map[document.Key]int{}}
}

// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu  sync.Mutex
	dbs map[string]map[string]*memCollection
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dbs: map[string]map[string]*memCollection{}}
}

func (s *MemoryStore) collection(db, coll string, create bool) *memCollection {
	colls, ok := s.dbs[db]
	if !ok {
		if !create {
			return nil
		}
		colls = map[string]*memCollection{}
		s.dbs[db] = colls
	}
	c, ok := colls[coll]
	if !ok && create {
		c = newMemCollection()
		colls[coll] = c
	}
	return c
}

// Insert seeds a collection, replacing documents with the same _id.
func (s *MemoryStore) Insert(db, coll string, docs ...document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(db, coll, true)
	for _, d := range docs {
		c.put(withID(d), true)
	}
}

// Documents returns a copy of a collection in insertion order.
func (s *MemoryStore) Documents(db, coll string) []document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(db, coll, false)
	if c == nil {
		return nil
	}
	out := make([]document.Document, len(c.docs))
	for i, d := range c.docs {
		out[i] = cloneDoc(d)
	}
	return out
}

// Collections implements Store.
func (s *MemoryStore) Collections(_ context.Context, ep Endpoint) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	colls, ok := s.dbs[ep.Database]
	if !ok {
		return nil, fmt.Errorf("database %q not found", ep.Database)
	}
	names := make([]string, 0, len(colls))
	for name := range colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Source implements Store. Filters match top-level fields by equality;
// projections and sorts apply to top-level fields.
func (s *MemoryStore) Source(_ context.Context, ep Endpoint, q ParsedQuery, limit int64) (Source, error) {
	return &memSource{store: s, ep: ep, query: q, limit: limit}, nil
}

// Destination implements Store.
func (s *MemoryStore) Destination(_ context.Context, ep Endpoint, opts DestinationOptions) (Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(ep.Database, ep.Collection, true)
	if opts.Drop {
		*c = *newMemCollection()
	}
	return &memDestination{store: s, ep: ep, opts: opts}, nil
}

// put stores d; overwrite replaces an existing document with the same _id.
func (c *memCollection) put(d document.Document, overwrite bool) bool {
	id, _ := d.ID()
	key := document.KeyOfID(id)
	if i, ok := c.ids[key]; ok {
		if !overwrite {
			return false
		}
		c.docs[i] = d
		return true
	}
	c.ids[key] = len(c.docs)
	c.docs = append(c.docs, d)
	return true
}

func withID(d document.Document) document.Document {
	d = cloneDoc(d)
	if _, ok := d.ID(); !ok {
		d = append(document.Document{{Key: "_id", Value: document.NewObjectID()}}, d...)
	}
	return d
}

func cloneDoc(d document.Document) document.Document {
	out := make(document.Document, len(d))
	copy(out, d)
	return out
}

// ── Source ─────────────────────────────────────────────────

type memSource struct {
	store *MemoryStore
	ep    Endpoint
	query ParsedQuery
	limit int64
}

func (m *memSource) Label() string { return "memory:" + m.ep.String() }

func (m *memSource) snapshot() ([]document.Document, error) {
	m.store.mu.Lock()
	c := m.store.collection(m.ep.Database, m.ep.Collection, false)
	var docs []document.Document
	if c != nil {
		docs = make([]document.Document, 0, len(c.docs))
		for _, d := range c.docs {
			if matches(d, m.query.Filter) {
				docs = append(docs, d)
			}
		}
	}
	m.store.mu.Unlock()

	if len(m.query.Sort) > 0 {
		sortDocs(docs, m.query.Sort)
	}
	if m.limit > 0 && int64(len(docs)) > m.limit {
		docs = docs[:m.limit]
	}
	if len(m.query.Projection) > 0 {
		for i, d := range docs {
			docs[i] = project(d, m.query.Projection)
		}
	}
	return docs, nil
}

func (m *memSource) Estimate(context.Context) (int64, bool) {
	docs, err := m.snapshot()
	if err != nil {
		return 0, false
	}
	return int64(len(docs)), true
}

func (m *memSource) Open(_ context.Context, offset int64) (Cursor, error) {
	docs, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	if offset > int64(len(docs)) {
		offset = int64(len(docs))
	}
	return &memCursor{docs: docs[offset:]}, nil
}

type memCursor struct {
	docs []document.Document
	pos  int
}

func (c *memCursor) Next(ctx context.Context) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.docs) {
		return nil, io.EOF
	}
	d := c.docs[c.pos]
	c.pos++
	return cloneDoc(d), nil
}

func (c *memCursor) Close(context.Context) error { return nil }

func matches(d, filter document.Document) bool {
	for _, f := range filter {
		v, ok := d.Get(f.Key)
		if !ok || document.KeyOfID(v) != document.KeyOfID(f.Value) {
			return false
		}
	}
	return true
}

func project(d, projection document.Document) document.Document {
	include := false
	keepID := true
	for _, f := range projection {
		on := truthy(f.Value)
		if f.Key == "_id" {
			keepID = on
			continue
		}
		if on {
			include = true
		}
	}
	out := document.Document{}
	for _, f := range d {
		want, listed := projection.Get(f.Key)
		switch {
		case f.Key == "_id":
			if keepID {
				out = append(out, f)
			}
		case include:
			if listed && truthy(want) {
				out = append(out, f)
			}
		default:
			if !listed || truthy(want) {
				out = append(out, f)
			}
		}
	}
	return out
}

func truthy(v document.Value) bool {
	switch x := v.(type) {
	case document.Bool:
		return bool(x)
	case document.Int32:
		return x != 0
	case document.Int64:
		return x != 0
	case document.Double:
		return x != 0
	default:
		return true
	}
}

func sortDocs(docs []document.Document, spec document.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range spec {
			a, _ := docs[i].Get(f.Key)
			b, _ := docs[j].Get(f.Key)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if !truthy(f.Value) || isNegative(f.Value) {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func isNegative(v document.Value) bool {
	switch x := v.(type) {
	case document.Int32:
		return x < 0
	case document.Int64:
		return x < 0
	case document.Double:
		return x < 0
	}
	return false
}

// compareValues orders missing < numbers < strings < everything else,
// which is enough for test fixtures.
func compareValues(a, b document.Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		x, y := number(a), number(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(string(a.(document.String)), string(b.(document.String)))
	case 3:
		return strings.Compare(string(document.KeyOfID(a)), string(document.KeyOfID(b)))
	}
	return 0
}

func rank(v document.Value) int {
	switch v.(type) {
	case nil, document.Null:
		return 0
	case document.Int32, document.Int64, document.Double:
		return 1
	case document.String:
		return 2
	default:
		return 3
	}
}

func number(v document.Value) float64 {
	switch x := v.(type) {
	case document.Int32:
		return float64(x)
	case document.Int64:
		return float64(x)
	case document.Double:
		return float64(x)
	}
	return 0
}

// ── Destination ────────────────────────────────────────────

type memDestination struct {
	store *MemoryStore
	ep    Endpoint
	opts  DestinationOptions
}

func (m *memDestination) WriteBatch(ctx context.Context, docs []document.Document) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	c := m.store.collection(m.ep.Database, m.ep.Collection, true)

	var res WriteResult
	for i, d := range docs {
		d = withID(d)
		id, _ := d.ID()
		key := document.KeyOfID(id)
		pos, exists := c.ids[key]
		switch {
		case !exists:
			c.put(d, false)
		case m.opts.Mode == InsertReplace:
			c.docs[pos] = d
		case m.opts.Mode == InsertUpsert:
			merged := cloneDoc(c.docs[pos])
			for _, f := range d {
				merged.Set(f.Key, f.Value)
			}
			c.docs[pos] = merged
		default:
			res.Failures = append(res.Failures, WriteFailure{Index: i, Err: &DuplicateKeyError{Key: key}})
			if m.opts.Ordered {
				return res, nil
			}
			continue
		}
		res.Written++
	}
	return res, nil
}

func (m *memDestination) Close(context.Context) error { return nil }
