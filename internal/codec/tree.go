package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

const (
	maxTreeDepth = 4096
	// A YAML document may expand through aliases to the larger of these:
	// a fixed node count, or a multiple of the nodes it spells out.
	minExpandedNodes = 100_000
	aliasExpansion   = 16
)

var errExcessiveAliasing = errors.New("document contains excessive aliasing")

// parseJSONTree decodes JSON into a yaml.Node so that key order survives the
// trip to YAML. encoding/json is the validity gate; the YAML parser only
// builds the tree.
func parseJSONTree(content []byte) (*yaml.Node, error) {
	if !json.Valid(content) {
		var v any
		err := json.Unmarshal(content, &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return jsonFallbackTree(content)
	}
	plain(&doc)
	return &doc, nil
}

// jsonFallbackTree covers the rare JSON the YAML scanner rejects. Key order
// is lost.
func jsonFallbackTree(content []byte) (*yaml.Node, error) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, err
	}
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{&n}}, nil
}

func parseYAMLTree(content []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	if err := checkAliases(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// checkAliases walks doc the way the writers do, following aliases, and
// fails once the expanded node count passes the alias budget. Sizes are
// memoised per node so the walk itself stays linear.
func checkAliases(doc *yaml.Node) error {
	budget := max(minExpandedNodes, aliasExpansion*countNodes(doc))
	sizes := make(map[*yaml.Node]int)
	open := make(map[*yaml.Node]bool)

	var expand func(n *yaml.Node, depth int) (int, error)
	expand = func(n *yaml.Node, depth int) (int, error) {
		if n == nil {
			return 0, nil
		}
		if depth > maxTreeDepth {
			return 0, errors.New("document nested too deeply")
		}
		if size, ok := sizes[n]; ok {
			return size, nil
		}
		if open[n] {
			return 0, fmt.Errorf("anchor %q value contains itself", n.Anchor)
		}
		open[n] = true
		defer delete(open, n)

		size := 1
		if n.Kind == yaml.AliasNode {
			s, err := expand(n.Alias, depth+1)
			if err != nil {
				return 0, err
			}
			size = s
		}
		for _, c := range n.Content {
			s, err := expand(c, depth+1)
			if err != nil {
				return 0, err
			}
			size += s
			if size > budget {
				return 0, errExcessiveAliasing
			}
		}
		sizes[n] = size
		return size, nil
	}

	_, err := expand(doc, 0)
	return err
}

// countNodes counts the nodes written out in the source, without following
// aliases.
func countNodes(n *yaml.Node) int {
	total := 1
	for _, c := range n.Content {
		total += countNodes(c)
	}
	return total
}

// plain drops the flow and quoting styles the JSON syntax leaves on the tree,
// so the encoder picks block style and quotes only where YAML needs it.
func plain(n *yaml.Node) {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		n.Style &^= yaml.FlowStyle
	case yaml.ScalarNode:
		n.Style &^= yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle
	}
	for _, c := range n.Content {
		plain(c)
	}
}

func toYAML(_ context.Context, doc *Document, _ Source) (string, error) {
	root := doc.Tree
	if root != nil && root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	if root == nil || root.Kind == 0 {
		return "null\n", nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func toJSON(_ context.Context, doc *Document, _ Source) (string, error) {
	out, err := treeToJSON(doc.Tree, "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// treeToJSON writes n as JSON in document order. An empty indent produces
// compact output.
func treeToJSON(n *yaml.Node, indent string) ([]byte, error) {
	w := &jsonWriter{indent: indent}
	if err := w.node(n, 0); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

type jsonWriter struct {
	buf    bytes.Buffer
	indent string
}

func (w *jsonWriter) node(n *yaml.Node, depth int) error {
	if depth > maxTreeDepth {
		return errors.New("document nested too deeply")
	}
	if n == nil {
		w.buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case 0:
		w.buf.WriteString("null")
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			w.buf.WriteString("null")
			return nil
		}
		return w.node(n.Content[0], depth)
	case yaml.AliasNode:
		return w.node(n.Alias, depth+1)
	case yaml.MappingNode:
		return w.mapping(n, depth)
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			w.buf.WriteString("[]")
			return nil
		}
		w.buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			w.newline(depth + 1)
			if err := w.node(c, depth+1); err != nil {
				return err
			}
		}
		w.newline(depth)
		w.buf.WriteByte(']')
	case yaml.ScalarNode:
		v, err := scalarValue(n)
		if err != nil {
			return err
		}
		return w.value(v)
	default:
		return fmt.Errorf("unexpected node kind %d at line %d", n.Kind, n.Line)
	}
	return nil
}

// mapping keeps the first position of a repeated key and the last value.
func (w *jsonWriter) mapping(n *yaml.Node, depth int) error {
	if len(n.Content) == 0 {
		w.buf.WriteString("{}")
		return nil
	}
	last := make(map[string]int, len(n.Content)/2)
	keys := make([]string, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, err := keyString(n.Content[i])
		if err != nil {
			return err
		}
		if _, seen := last[k]; !seen {
			keys = append(keys, k)
		}
		last[k] = i + 1
	}
	w.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		w.newline(depth + 1)
		if err := w.value(k); err != nil {
			return err
		}
		w.buf.WriteByte(':')
		if w.indent != "" {
			w.buf.WriteByte(' ')
		}
		if err := w.node(n.Content[last[k]], depth+1); err != nil {
			return err
		}
	}
	w.newline(depth)
	w.buf.WriteByte('}')
	return nil
}

func (w *jsonWriter) newline(depth int) {
	if w.indent == "" {
		return
	}
	w.buf.WriteByte('\n')
	for i := 0; i < depth; i++ {
		w.buf.WriteString(w.indent)
	}
}

func (w *jsonWriter) value(v any) error {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	w.buf.Write(bytes.TrimSuffix(b.Bytes(), []byte{'\n'}))
	return nil
}

func keyString(k *yaml.Node) (string, error) {
	for k.Kind == yaml.AliasNode && k.Alias != nil {
		k = k.Alias
	}
	if k.Kind == yaml.ScalarNode {
		return k.Value, nil
	}
	out, err := treeToJSON(k, "")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// scalarValue resolves the core YAML scalar tags. Timestamps, binary and
// custom tags are kept as their literal text. JSON has no infinities or NaN,
// so .inf and .nan become null.
func scalarValue(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!str":
		return n.Value, nil
	case "!!null":
		return nil, nil
	case "!!bool", "!!int", "!!float":
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
			return nil, nil
		}
		return v, nil
	default:
		return n.Value, nil
	}
}
