package tsemitter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mark3labs/docshift/internal/schema"
)

// RenderOptions controls the text of the declarations.
type RenderOptions struct {
	// Banner is written verbatim above the declarations.
	Banner string
	// Indent is one indentation step; two spaces when empty.
	Indent string
}

// Render turns a compiled schema into TypeScript declarations: the root
// first, then every declared definition by name.
func Render(m *schema.Model, opts RenderOptions) (string, error) {
	if m == nil || strings.TrimSpace(m.Name) == "" {
		return "", fmt.Errorf("tsemitter: nil or unnamed model")
	}
	r := &renderer{indent: opts.Indent}
	if r.indent == "" {
		r.indent = "  "
	}

	var b strings.Builder
	if banner := strings.TrimSpace(opts.Banner); banner != "" {
		b.WriteString(banner)
		b.WriteString("\n\n")
	}

	root := schema.Schema{}
	if m.Root != nil && m.Root.Schema != nil {
		root = *m.Root.Schema
	} else if m.Root != nil {
		root = schema.Schema{AllOf: []*schema.SchemaOrRef{m.Root}}
	}
	if root.Description == "" {
		root.Description = m.Description
	}
	r.declaration(&b, m.Name, &root)

	names := make([]string, 0, len(m.Definitions))
	for name := range m.Definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := m.Definitions[name]
		b.WriteByte('\n')
		r.declaration(&b, name, &def)
	}
	return b.String(), nil
}

type renderer struct {
	indent string
}

// Operator precedence of a rendered type, loosest last.
const (
	precAtom = iota
	precIntersection
	precUnion
)

func (r *renderer) declaration(b *strings.Builder, name string, s *schema.Schema) {
	title := s.Title
	if schema.TypeName(title) == name {
		title = ""
	}
	writeDoc(b, "", title, s.Description, s.Deprecated)
	if isInterface(s) {
		fmt.Fprintf(b, "export interface %s %s\n", name, r.object(s, 0))
		return
	}
	expr, _ := r.expr(s, 0)
	fmt.Fprintf(b, "export type %s = %s;\n", name, expr)
}

// isInterface reports whether s is a plain object shape.
func isInterface(s *schema.Schema) bool {
	if s.Never || s.Nullable || len(s.Enum) > 0 || len(s.AllOf) > 0 || len(s.AnyOf) > 0 || len(s.OneOf) > 0 {
		return false
	}
	if s.Type != "" && s.Type != "object" {
		return false
	}
	return s.Type == "object" || len(s.Properties) > 0 || s.AdditionalProperties != nil || s.AllowAdditional
}

func (r *renderer) ref(sor *schema.SchemaOrRef, depth int) (string, int) {
	if sor == nil {
		return "unknown", precAtom
	}
	if sor.Ref != nil {
		if sor.Ref.Name != "" {
			return sor.Ref.Name, precAtom
		}
		return "unknown", precAtom
	}
	if sor.Schema == nil {
		return "unknown", precAtom
	}
	return r.expr(sor.Schema, depth)
}

func (r *renderer) expr(s *schema.Schema, depth int) (string, int) {
	if s.Never {
		return "never", precAtom
	}

	type part struct {
		text string
		prec int
	}
	var parts []part
	if own, p, ok := r.own(s, depth); ok {
		parts = append(parts, part{own, p})
	}
	for _, item := range s.AllOf {
		e, p := r.ref(item, depth)
		parts = append(parts, part{e, p})
	}
	for _, union := range [][]*schema.SchemaOrRef{s.AnyOf, s.OneOf} {
		if len(union) == 0 {
			continue
		}
		e, p := r.union(union, depth)
		parts = append(parts, part{e, p})
	}

	var out string
	prec := precAtom
	switch len(parts) {
	case 0:
		out = "unknown"
	case 1:
		out, prec = parts[0].text, parts[0].prec
	default:
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.prec == precUnion {
				p.text = "(" + p.text + ")"
			}
			texts = append(texts, p.text)
		}
		out, prec = strings.Join(texts, " & "), precIntersection
	}

	if s.Nullable && out != "null" && out != "unknown" {
		if prec == precIntersection {
			out = "(" + out + ")"
		}
		out, prec = out+" | null", precUnion
	}
	return out, prec
}

// own renders the schema's type, enum or shape, ignoring compositions.
func (r *renderer) own(s *schema.Schema, depth int) (string, int, bool) {
	if len(s.Enum) > 0 {
		lits := make([]string, 0, len(s.Enum))
		seen := map[string]bool{}
		for _, v := range s.Enum {
			lit := literal(v)
			if seen[lit] {
				continue
			}
			seen[lit] = true
			lits = append(lits, lit)
		}
		if len(lits) == 1 {
			return lits[0], precAtom, true
		}
		return strings.Join(lits, " | "), precUnion, true
	}

	switch s.Type {
	case "string":
		return "string", precAtom, true
	case "integer", "number":
		return "number", precAtom, true
	case "boolean":
		return "boolean", precAtom, true
	case "null":
		return "null", precAtom, true
	case "array":
		return r.array(s, depth), precAtom, true
	case "object":
		return r.object(s, depth), precAtom, true
	case "":
		if len(s.Properties) > 0 || s.AdditionalProperties != nil || s.AllowAdditional {
			return r.object(s, depth), precAtom, true
		}
		if s.Items != nil || len(s.TupleItems) > 0 {
			return r.array(s, depth), precAtom, true
		}
		return "", precAtom, false
	default:
		return "unknown", precAtom, true
	}
}

func (r *renderer) array(s *schema.Schema, depth int) string {
	if len(s.TupleItems) > 0 {
		elems := make([]string, 0, len(s.TupleItems)+1)
		for _, item := range s.TupleItems {
			e, _ := r.ref(item, depth)
			elems = append(elems, e)
		}
		if s.Items != nil {
			e, p := r.ref(s.Items, depth)
			elems = append(elems, "..."+arrayOf(e, p))
		}
		return "[" + strings.Join(elems, ", ") + "]"
	}
	e, p := r.ref(s.Items, depth)
	return arrayOf(e, p)
}

func arrayOf(elem string, prec int) string {
	if prec != precAtom {
		return "(" + elem + ")[]"
	}
	return elem + "[]"
}

func (r *renderer) union(items []*schema.SchemaOrRef, depth int) (string, int) {
	if len(items) == 1 {
		return r.ref(items[0], depth)
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		e, p := r.ref(item, depth)
		if p == precIntersection {
			e = "(" + e + ")"
		}
		parts = append(parts, e)
	}
	return strings.Join(parts, " | "), precUnion
}

func (r *renderer) object(s *schema.Schema, depth int) string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	hasIndex := s.AdditionalProperties != nil || s.AllowAdditional
	if len(names) == 0 && !hasIndex {
		return "{}"
	}

	pad := strings.Repeat(r.indent, depth+1)
	var b strings.Builder
	b.WriteString("{\n")
	for _, name := range names {
		prop := s.Properties[name]
		readonly := ""
		switch {
		case prop != nil && prop.Schema != nil:
			writeDoc(&b, pad, "", prop.Schema.Description, prop.Schema.Deprecated)
			if prop.Schema.ReadOnly {
				readonly = "readonly "
			}
		case prop != nil && prop.Ref != nil && prop.Ref.Name == "":
			writeDoc(&b, pad, "", "@see "+prop.Ref.Ref, false)
		}
		optional := "?"
		if s.IsRequired(name) {
			optional = ""
		}
		e, _ := r.ref(prop, depth+1)
		fmt.Fprintf(&b, "%s%s%s%s: %s;\n", pad, readonly, propertyKey(name), optional, e)
	}
	if hasIndex {
		// Declared properties must fit the index type.
		index := "unknown"
		if s.AdditionalProperties != nil && len(names) == 0 {
			index, _ = r.ref(s.AdditionalProperties, depth+1)
		}
		fmt.Fprintf(&b, "%s[k: string]: %s;\n", pad, index)
	}
	b.WriteString(strings.Repeat(r.indent, depth))
	b.WriteByte('}')
	return b.String()
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func propertyKey(name string) string {
	if identifier.MatchString(name) {
		return name
	}
	return literal(name)
}

func literal(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return "unknown"
	}
	return string(out)
}

func writeDoc(b *strings.Builder, pad, title, description string, deprecated bool) {
	var lines []string
	if title != "" {
		lines = append(lines, title)
	}
	if description != "" {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, strings.Split(description, "\n")...)
	}
	if deprecated {
		lines = append(lines, "@deprecated")
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString(pad + "/**\n")
	for _, l := range lines {
		l = strings.ReplaceAll(strings.TrimRight(l, " \t\r"), "*/", "*\\/")
		if l == "" {
			b.WriteString(pad + " *\n")
			continue
		}
		b.WriteString(pad + " * " + l + "\n")
	}
	b.WriteString(pad + " */\n")
}
