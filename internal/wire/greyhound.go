// Package wire packs decoded points and built trees into the byte layouts
// expected by streaming clients.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mohammed-shakir/pcstream/internal/geom"
)

// GreyhoundRead appends the little-endian int32 point count to the raw
// records.
func GreyhoundRead(raw []byte, n int) []byte {
	out := make([]byte, len(raw)+4)
	copy(out, raw)
	binary.LittleEndian.PutUint32(out[len(raw):], uint32(int32(n)))
	return out
}

// GreyhoundEmpty is the payload sent for a read that produced no points or
// failed.
func GreyhoundEmpty() []byte { return make([]byte, 4) }

// Node is a greyhound hierarchy node. Children are indexed by geom.Octant;
// absent children are nil.
type Node struct {
	N        int64
	Children [8]*Node
}

// jsonOrder is the key order children are written in.
var jsonOrder = [8]geom.Octant{
	geom.NWU, geom.NWD, geom.NEU, geom.NED,
	geom.SWU, geom.SWD, geom.SEU, geom.SED,
}

func (n *Node) Leaf() bool {
	for _, c := range n.Children {
		if c != nil {
			return false
		}
	}
	return true
}

// Count returns the number of nodes in the subtree.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	c := 1
	for _, ch := range n.Children {
		c += ch.Count()
	}
	return c
}

func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	n.write(&buf)
	return buf.Bytes(), nil
}

func (n *Node) write(buf *bytes.Buffer) {
	buf.WriteString(`{"n":`)
	buf.WriteString(strconv.FormatInt(n.N, 10))
	for _, o := range jsonOrder {
		c := n.Children[o]
		if c == nil {
			continue
		}
		buf.WriteString(`,"`)
		buf.WriteString(o.String())
		buf.WriteString(`":`)
		c.write(buf)
	}
	buf.WriteByte('}')
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*n = Node{}
	for k, v := range raw {
		if k == "n" {
			if err := json.Unmarshal(v, &n.N); err != nil {
				return fmt.Errorf("node n: %w", err)
			}
			continue
		}
		o, ok := geom.ParseOctant(k)
		if !ok {
			return fmt.Errorf("node: unknown key %q", k)
		}
		child := &Node{}
		if err := child.UnmarshalJSON(v); err != nil {
			return err
		}
		n.Children[o] = child
	}
	return nil
}
