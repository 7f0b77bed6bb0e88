package transform

import (
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NodeID addresses a node inside a DocumentTree.
type NodeID int

const noNode NodeID = -1

type treeNode struct {
	Type      html.NodeType
	DataAtom  atom.Atom
	Data      string
	Namespace string
	Attr      []html.Attribute

	parent   NodeID
	children []NodeID
}

// DocumentTree is a parsed document kept as an arena: nodes live in one slice
// and refer to each other by index. Detached nodes stay in the arena but are
// never reachable from the root, so rendering only sees the live document.
type DocumentTree struct {
	nodes []treeNode
	root  NodeID
}

func newDocumentTree(doc *html.Node) *DocumentTree {
	t := &DocumentTree{}
	t.root = t.adopt(doc, noNode)
	return t
}

func (t *DocumentTree) adopt(n *html.Node, parent NodeID) NodeID {
	id := t.add(treeNode{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}, parent)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		child := t.adopt(c, id)
		t.nodes[id].children = append(t.nodes[id].children, child)
	}
	return id
}

func (t *DocumentTree) add(n treeNode, parent NodeID) NodeID {
	n.parent = parent
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// Walk returns the live nodes in document order.
func (t *DocumentTree) Walk() []NodeID {
	var order []NodeID
	stack := []NodeID{t.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, id)
		children := t.nodes[id].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return order
}

// Elements returns the live elements whose tag is one of tags, in document order.
func (t *DocumentTree) Elements(tags ...string) []NodeID {
	var out []NodeID
	for _, id := range t.Walk() {
		n := &t.nodes[id]
		if n.Type != html.ElementNode {
			continue
		}
		if len(tags) == 0 {
			out = append(out, id)
			continue
		}
		for _, tag := range tags {
			if n.Data == tag {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func (t *DocumentTree) Tag(id NodeID) string {
	return t.nodes[id].Data
}

func (t *DocumentTree) Parent(id NodeID) NodeID {
	return t.nodes[id].parent
}

func (t *DocumentTree) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), t.nodes[id].children...)
}

// Attached reports whether id is still reachable from the document root.
func (t *DocumentTree) Attached(id NodeID) bool {
	for id != noNode {
		if id == t.root {
			return true
		}
		id = t.nodes[id].parent
	}
	return false
}

func (t *DocumentTree) Attr(id NodeID, key string) (string, bool) {
	for _, a := range t.nodes[id].Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func (t *DocumentTree) SetAttr(id NodeID, key, val string) {
	n := &t.nodes[id]
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttrs drops every attribute of id for which drop returns true.
func (t *DocumentTree) RemoveAttrs(id NodeID, drop func(html.Attribute) bool) {
	n := &t.nodes[id]
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !drop(a) {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

// Text concatenates the text node children of id.
func (t *DocumentTree) Text(id NodeID) string {
	var s string
	for _, c := range t.nodes[id].children {
		if t.nodes[c].Type == html.TextNode {
			s += t.nodes[c].Data
		}
	}
	return s
}

// SetText replaces all children of id with a single text node.
func (t *DocumentTree) SetText(id NodeID, text string) {
	for _, c := range t.nodes[id].children {
		t.nodes[c].parent = noNode
	}
	t.nodes[id].children = nil
	child := t.add(treeNode{Type: html.TextNode, Data: text}, id)
	t.nodes[id].children = []NodeID{child}
}

// Remove detaches id and its subtree from the document.
func (t *DocumentTree) Remove(id NodeID) {
	t.splice(id, nil)
}

// Unwrap removes id but keeps its children at its former position.
func (t *DocumentTree) Unwrap(id NodeID) {
	children := t.nodes[id].children
	t.nodes[id].children = nil
	t.splice(id, children)
}

// ReplaceWith puts a new element at the position of id and detaches id.
func (t *DocumentTree) ReplaceWith(id NodeID, tag string, attrs ...html.Attribute) NodeID {
	repl := t.add(treeNode{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(tag)),
		Data:     tag,
		Attr:     attrs,
	}, noNode)
	t.splice(id, []NodeID{repl})
	return repl
}

// splice replaces id in its parent's child list with repl, re-linking every
// node in repl to that parent.
func (t *DocumentTree) splice(id NodeID, repl []NodeID) {
	parent := t.nodes[id].parent
	t.nodes[id].parent = noNode
	if parent == noNode {
		return
	}

	siblings := t.nodes[parent].children
	out := make([]NodeID, 0, len(siblings)+len(repl))
	for _, s := range siblings {
		if s == id {
			out = append(out, repl...)
			continue
		}
		out = append(out, s)
	}
	for _, r := range repl {
		t.nodes[r].parent = parent
	}
	t.nodes[parent].children = out
}

// Render serializes the live document.
func (t *DocumentTree) Render(w io.Writer) error {
	return html.Render(w, t.toHTML(t.root))
}

func (t *DocumentTree) toHTML(id NodeID) *html.Node {
	n := &t.nodes[id]
	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      n.Attr,
	}
	for _, c := range n.children {
		out.AppendChild(t.toHTML(c))
	}
	return out
}
