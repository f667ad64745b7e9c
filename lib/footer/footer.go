/*package footer reads and writes the XML tag tree stored at the end of a VLSV
file. Every array in the file is described by one tag, e.g.

   <VLSV>
      <MESH arraysize="12" datasize="8" datatype="uint" name="amr" vectorsize="1">16</MESH>
      <VARIABLE arraysize="12" datasize="8" datatype="float" mesh="amr" name="rho" vectorsize="64">112</VARIABLE>
   </VLSV>

The tag name and its attributes identify the array, and the text inside the
tag is the byte offset of the array's payload. Lookups take a tag name and an
ordered list of attribute constraints which must all match.
*/
package footer

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	// RootTag is the name of the tag that encloses all array tags.
	RootTag = "VLSV"
)

// Attr is a single name="value" pair. Attributes are kept in file order and
// the same name may appear more than once.
type Attr struct {
	Name, Value string
}

// Attrs builds an attribute list from name/value pairs, i.e.
// Attrs("name", "rho", "mesh", "amr").
func Attrs(pairs ...string) []Attr {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("footer.Attrs called with an odd number of "+
			"strings, %d.", len(pairs)))
	}
	out := make([]Attr, len(pairs)/2)
	for i := range out {
		out[i] = Attr{pairs[2*i], pairs[2*i+1]}
	}
	return out
}

// Node is one tag in the footer tree.
type Node struct {
	Name       string
	Attributes []Attr
	// Value is the trimmed text content of the tag.
	Value    string
	Children []*Node
}

// Attr returns the first value of the attribute with the given name.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrMap returns the node's attributes as a map. For repeated names the
// first value wins.
func (n *Node) AttrMap() map[string]string {
	m := make(map[string]string, len(n.Attributes))
	for _, a := range n.Attributes {
		if _, ok := m[a.Name]; !ok {
			m[a.Name] = a.Value
		}
	}
	return m
}

// matches returns true if every constraint is satisfied by the node.
func (n *Node) matches(tag string, constraints []Attr) bool {
	if n.Name != tag {
		return false
	}
	for _, c := range constraints {
		found := false
		for _, a := range n.Attributes {
			if a.Name == c.Name && a.Value == c.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Find returns the first node in the tree (depth-first, in file order) with
// the given tag name that satisfies every constraint, or nil.
func (n *Node) Find(tag string, constraints []Attr) *Node {
	if n.matches(tag, constraints) {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(tag, constraints); found != nil {
			return found
		}
	}
	return nil
}

// UniqueValues returns the sorted set of values that the attribute attr takes
// on across the direct children of n with the given tag name. Children without
// the attribute are skipped.
func (n *Node) UniqueValues(tag, attr string) []string {
	set := map[string]bool{}
	for _, c := range n.Children {
		if c.Name != tag {
			continue
		}
		if v, ok := c.Attr(attr); ok {
			set[v] = true
		}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Add appends a child to n and returns it.
func (n *Node) Add(name string, attrs []Attr, value string) *Node {
	c := &Node{Name: name, Attributes: attrs, Value: value}
	n.Children = append(n.Children, c)
	return c
}

// Parse reads a footer tree. The returned node is the outermost tag.
func Parse(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	var stack []*Node
	var root *Node
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("The footer could not be parsed: %s",
				err.Error())
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local}
			for _, a := range t.Attr {
				n.Attributes = append(n.Attributes,
					Attr{a.Name.Local, a.Value})
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			} else {
				return nil, fmt.Errorf("The footer has more than one "+
					"top-level tag: '%s' and '%s'.", root.Name, n.Name)
			}
			stack = append(stack, n)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			n := stack[len(stack)-1]
			if len(n.Children) == 0 {
				n.Value = strings.TrimSpace(text.String())
			}
			stack = stack[:len(stack)-1]
			text.Reset()
		}
	}

	if root == nil {
		return nil, fmt.Errorf("The footer doesn't contain any tags.")
	}
	return root, nil
}

// Encode writes the tree rooted at n in the format read by Parse.
func (n *Node) Encode(w io.Writer) error {
	return n.encode(w, 0)
}

func (n *Node) encode(w io.Writer, depth int) error {
	indent := strings.Repeat("   ", depth)

	var sb strings.Builder
	sb.WriteString(indent + "<" + n.Name)
	for _, a := range n.Attributes {
		sb.WriteString(" " + a.Name + "=\"")
		xml.EscapeText(&sb, []byte(a.Value))
		sb.WriteString("\"")
	}
	sb.WriteString(">")

	if len(n.Children) == 0 {
		xml.EscapeText(&sb, []byte(n.Value))
		sb.WriteString("</" + n.Name + ">\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	sb.WriteString("\n")
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.encode(w, depth+1); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, indent+"</"+n.Name+">\n")
	return err
}
