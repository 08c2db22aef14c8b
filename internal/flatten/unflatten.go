package flatten

import (
	"fmt"

	"doctransfer/internal/document"
)

// CollisionError reports a row that holds a scalar and nested values at
// the same path, or two values for one column.
type CollisionError struct {
	Path   string
	Reason string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("column collision at %q: %s", e.Path, e.Reason)
}

// Unflatten rebuilds a document from cells aligned with schema. Missing
// trailing cells are treated as empty.
func (f *Flattener) Unflatten(cells []string, schema *ColumnSchema) (document.Document, error) {
	paths, err := schema.Paths()
	if err != nil {
		return nil, err
	}
	if len(cells) > len(paths) {
		return nil, fmt.Errorf("row has %d cells for %d columns", len(cells), len(paths))
	}
	b := newBuilder(f.opts.Collision)
	for i, p := range paths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		v, present, implicit := f.Infer(cell)
		if !present {
			continue
		}
		if err := b.insert(p, v, implicit); err != nil {
			return nil, err
		}
	}
	return b.document(), nil
}

// UnflattenRow rebuilds a document from (path, cell) pairs in row order.
func (f *Flattener) UnflattenRow(row Row) (document.Document, error) {
	b := newBuilder(f.opts.Collision)
	for _, c := range row {
		p, err := ParsePath(c.Path)
		if err != nil {
			return nil, err
		}
		v, present, implicit := f.Infer(c.Value)
		if !present {
			continue
		}
		if err := b.insert(p, v, implicit); err != nil {
			return nil, err
		}
	}
	return b.document(), nil
}

// ── builder ────────────────────────────────────────────────
// Cells are inserted into a tree of nodes first. A leaf that came from
// an empty cell is implicit: it keeps its position but gives way to any
// nested value later found under the same path.

type nodeKind uint8

const (
	leafNode nodeKind = iota
	docNode
	arrayNode
)

type node struct {
	kind     nodeKind
	implicit bool
	leaf     document.Value
	keys     []string
	children map[string]*node
	elems    []*node
}

func newDocNode() *node   { return &node{kind: docNode, children: map[string]*node{}} }
func newArrayNode() *node { return &node{kind: arrayNode} }

func (n *node) child(seg Segment) *node {
	if seg.IsIndex {
		if seg.Index < len(n.elems) {
			return n.elems[seg.Index]
		}
		return nil
	}
	return n.children[seg.Key]
}

func (n *node) setChild(seg Segment, c *node) {
	if seg.IsIndex {
		for len(n.elems) <= seg.Index {
			n.elems = append(n.elems, nil)
		}
		n.elems[seg.Index] = c
		return
	}
	if _, ok := n.children[seg.Key]; !ok {
		n.keys = append(n.keys, seg.Key)
	}
	n.children[seg.Key] = c
}

// fits reports whether the container can hold the next segment.
func (n *node) fits(next Segment) bool {
	return (n.kind == arrayNode) == next.IsIndex
}

// allImplicit reports whether everything under n came from empty cells.
func (n *node) allImplicit() bool {
	switch n.kind {
	case leafNode:
		return n.implicit
	case docNode:
		for _, c := range n.children {
			if !c.allImplicit() {
				return false
			}
		}
	case arrayNode:
		for _, e := range n.elems {
			if e != nil && !e.allImplicit() {
				return false
			}
		}
	}
	return true
}

type builder struct {
	root   *node
	policy CollisionPolicy
}

func newBuilder(policy CollisionPolicy) *builder {
	return &builder{root: newDocNode(), policy: policy}
}

func containerFor(next Segment) *node {
	if next.IsIndex {
		return newArrayNode()
	}
	return newDocNode()
}

func (b *builder) insert(path Path, v document.Value, implicit bool) error {
	cur := b.root
	for i, seg := range path {
		if seg.IsIndex != (cur.kind == arrayNode) {
			// The container was built for the other segment kind.
			if implicit {
				return nil
			}
			return &CollisionError{Path: path[:i].String(), Reason: "mixes document keys and array indexes"}
		}
		existing := cur.child(seg)
		last := i == len(path)-1

		if last {
			switch {
			case existing == nil || existing.allImplicit():
				cur.setChild(seg, &node{kind: leafNode, leaf: v, implicit: implicit})
				return nil
			case implicit:
				return nil
			case existing.kind == leafNode:
				return &CollisionError{Path: path.String(), Reason: "duplicate column"}
			default:
				return b.scalarOverContainer(path, existing, v)
			}
		}

		next := path[i+1]
		switch {
		case existing == nil:
			c := containerFor(next)
			cur.setChild(seg, c)
			cur = c
		case existing.kind != leafNode && existing.fits(next):
			cur = existing
		case existing.allImplicit():
			c := containerFor(next)
			cur.setChild(seg, c)
			cur = c
		case implicit:
			return nil
		case existing.kind == leafNode:
			c, err := b.containerOverScalar(path[:i+1], existing, next)
			if err != nil {
				return err
			}
			cur.setChild(seg, c)
			cur = c
		default:
			return &CollisionError{Path: path[:i+1].String(), Reason: "mixes document keys and array indexes"}
		}
	}
	return nil
}

// scalarOverContainer handles an explicit scalar arriving at a path that
// already holds nested values.
func (b *builder) scalarOverContainer(path Path, existing *node, v document.Value) error {
	if b.policy != CollisionValueKey || existing.kind != docNode {
		return &CollisionError{Path: path.String(), Reason: "scalar and nested values at the same path"}
	}
	return b.placeValueKey(path, existing, &node{kind: leafNode, leaf: v})
}

// containerOverScalar handles nested values arriving under a path that
// already holds an explicit scalar.
func (b *builder) containerOverScalar(path Path, scalar *node, next Segment) (*node, error) {
	if b.policy != CollisionValueKey || next.IsIndex {
		return nil, &CollisionError{Path: path.String(), Reason: "scalar and nested values at the same path"}
	}
	c := newDocNode()
	if err := b.placeValueKey(path, c, scalar); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *builder) placeValueKey(path Path, doc *node, scalar *node) error {
	seg := Segment{Key: ValueKey}
	if prev := doc.child(seg); prev != nil && !(prev.kind == leafNode && prev.implicit) {
		return &CollisionError{Path: path.key(ValueKey).String(), Reason: "side key already present"}
	}
	doc.setChild(seg, scalar)
	return nil
}

func (b *builder) document() document.Document {
	return b.root.value().(document.Document)
}

func (n *node) value() document.Value {
	switch n.kind {
	case docNode:
		doc := make(document.Document, 0, len(n.keys))
		for _, k := range n.keys {
			doc = append(doc, document.Field{Key: k, Value: n.children[k].value()})
		}
		return doc
	case arrayNode:
		arr := make(document.Array, len(n.elems))
		for i, e := range n.elems {
			if e == nil {
				arr[i] = document.Null{}
				continue
			}
			arr[i] = e.value()
		}
		return arr
	default:
		return n.leaf
	}
}
