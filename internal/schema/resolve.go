package schema

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"
)

// ExternalRefs selects how $refs into other documents are compiled.
type ExternalRefs string

const (
	// ExternalRefsOpaque leaves external targets untyped.
	ExternalRefsOpaque ExternalRefs = "opaque"
	// ExternalRefsDeclare fetches external documents and declares their types.
	ExternalRefsDeclare ExternalRefs = "declare"
)

// ParseExternalRefs validates a policy name; empty means opaque.
func ParseExternalRefs(s string) (ExternalRefs, error) {
	switch ExternalRefs(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExternalRefsOpaque:
		return ExternalRefsOpaque, nil
	case ExternalRefsDeclare:
		return ExternalRefsDeclare, nil
	default:
		return "", fmt.Errorf("unknown external ref policy %q (want opaque or declare)", s)
	}
}

// DefaultMaxDocuments bounds the documents one Build loads unless
// WithMaxDocuments says otherwise.
const DefaultMaxDocuments = 32

type buildConfig struct {
	name         string
	defaultName  string
	externalRefs ExternalRefs
	maxDocuments int
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithName sets the root declaration name, overriding the root title.
func WithName(name string) BuildOption {
	return func(c *buildConfig) { c.name = name }
}

// WithDefaultName names the root when it has no title. "Schema" is used when
// neither is set.
func WithDefaultName(name string) BuildOption {
	return func(c *buildConfig) { c.defaultName = name }
}

func WithExternalRefs(p ExternalRefs) BuildOption {
	return func(c *buildConfig) { c.externalRefs = p }
}

// WithMaxDocuments bounds how many documents one Build may load, the root
// included.
func WithMaxDocuments(n int) BuildOption {
	return func(c *buildConfig) { c.maxDocuments = n }
}

// Build compiles src into a Model. Local $refs are always resolved and
// declared; external ones follow the ExternalRefs policy. Recursive schemas
// terminate because every target is declared once, before it is converted.
func Build(ctx context.Context, src *Source, opts ...BuildOption) (*Model, error) {
	if src == nil || src.Root == nil {
		return nil, &SchemaError{Code: InputError, Message: "schema: nil source"}
	}
	cfg := buildConfig{externalRefs: ExternalRefsOpaque, maxDocuments: DefaultMaxDocuments}
	for _, opt := range opts {
		opt(&cfg)
	}

	name := TypeName(cfg.name)
	if name == "" {
		name = TypeName(src.Title())
	}
	if name == "" {
		name = TypeName(cfg.defaultName)
	}
	if name == "" {
		name = "Schema"
	}

	r := &resolver{
		ctx:   ctx,
		cfg:   cfg,
		docs:  map[string]*Source{src.Location: src},
		names: map[string]string{declKey(src.Location, ""): name},
		taken: map[string]bool{name: true},
		model: &Model{
			Name:        name,
			Location:    src.Location,
			Definitions: map[string]Schema{},
		},
	}
	if src.Root.Value != nil {
		r.model.Description = strings.TrimSpace(src.Root.Value.Description)
	}

	root, err := r.convert(src, src.Root, 0)
	if err != nil {
		return nil, err
	}
	r.model.Root = root

	for len(r.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := r.pending[0]
		r.pending = r.pending[1:]

		target, err := d.doc.Lookup(d.pointer)
		if err != nil {
			return nil, &SchemaError{Code: ResolveError, Message: fmt.Sprintf("resolve %s: %v", d.ref, err), Location: d.doc.Location, Ref: d.ref, Cause: err}
		}
		sor, err := r.convert(d.doc, target, 0)
		if err != nil {
			return nil, err
		}
		var s Schema
		if sor.Schema != nil {
			s = *sor.Schema
		} else {
			// a declaration that is itself a $ref aliases its target
			s = Schema{AllOf: []*SchemaOrRef{sor}}
		}
		s.Name = d.name
		r.model.Definitions[d.name] = s
	}
	return r.model, nil
}

type pendingDecl struct {
	doc     *Source
	pointer string
	name    string
	ref     string
}

type resolver struct {
	ctx     context.Context
	cfg     buildConfig
	docs    map[string]*Source
	names   map[string]string
	taken   map[string]bool
	pending []pendingDecl
	model   *Model
}

const maxSchemaDepth = 256

func (r *resolver) convert(doc *Source, ref *openapi3.SchemaRef, depth int) (*SchemaOrRef, error) {
	if ref == nil {
		return nil, nil
	}
	if depth > maxSchemaDepth {
		return nil, &SchemaError{Code: ResolveError, Message: "schema nested too deeply", Location: doc.Location}
	}
	if ref.Ref != "" {
		sr, err := r.reference(doc, ref.Ref)
		if err != nil {
			return nil, err
		}
		return &SchemaOrRef{Ref: sr}, nil
	}
	if ref.Value == nil {
		return &SchemaOrRef{Schema: &Schema{}}, nil
	}
	v := ref.Value
	s := &Schema{
		Title:       strings.TrimSpace(v.Title),
		Type:        strings.TrimSpace(v.Type),
		Description: strings.TrimSpace(v.Description),
		Format:      strings.TrimSpace(v.Format),
		Example:     v.Example,
		Default:     v.Default,
		Required:    append([]string(nil), v.Required...),
		Nullable:    v.Nullable,
		ReadOnly:    v.ReadOnly,
		Deprecated:  v.Deprecated,
	}
	if v.Not != nil && isEmptySchema(v.Not) {
		s.Never = true
	}
	// Enum values
	if len(v.Enum) > 0 {
		s.Enum = append([]any(nil), v.Enum...)
	}
	// Items
	var err error
	if v.Items != nil {
		if s.Items, err = r.convert(doc, v.Items, depth+1); err != nil {
			return nil, err
		}
	}
	if raw, ok := v.Extensions["prefixItems"].([]any); ok {
		for _, item := range raw {
			ir, derr := toSchemaRef(item)
			if derr != nil {
				return nil, &SchemaError{Code: ParseError, Message: fmt.Sprintf("decode prefixItems: %v", derr), Location: doc.Location, Cause: derr}
			}
			conv, cerr := r.convert(doc, ir, depth+1)
			if cerr != nil {
				return nil, cerr
			}
			s.TupleItems = append(s.TupleItems, conv)
		}
	}
	// Properties
	if len(v.Properties) > 0 {
		s.Properties = make(map[string]*SchemaOrRef, len(v.Properties))
		keys := make([]string, 0, len(v.Properties))
		for name := range v.Properties {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		for _, name := range keys {
			if s.Properties[name], err = r.convert(doc, v.Properties[name], depth+1); err != nil {
				return nil, err
			}
		}
	}
	if ap := v.AdditionalProperties; ap.Schema != nil {
		if s.AdditionalProperties, err = r.convert(doc, ap.Schema, depth+1); err != nil {
			return nil, err
		}
	} else if ap.Has != nil && *ap.Has {
		s.AllowAdditional = true
	}
	// Compositions
	for _, list := range []struct {
		in  openapi3.SchemaRefs
		out *[]*SchemaOrRef
	}{{v.AllOf, &s.AllOf}, {v.AnyOf, &s.AnyOf}, {v.OneOf, &s.OneOf}} {
		for _, item := range list.in {
			conv, cerr := r.convert(doc, item, depth+1)
			if cerr != nil {
				return nil, cerr
			}
			*list.out = append(*list.out, conv)
		}
	}
	return &SchemaOrRef{Schema: s}, nil
}

func isEmptySchema(ref *openapi3.SchemaRef) bool {
	if ref.Ref != "" {
		return false
	}
	v := ref.Value
	if v == nil {
		return true
	}
	return v.Type == "" && len(v.Properties) == 0 && v.Items == nil && len(v.Enum) == 0 &&
		len(v.AllOf) == 0 && len(v.AnyOf) == 0 && len(v.OneOf) == 0 && v.Not == nil
}

// reference declares the target of a $ref and returns the resolved ref.
func (r *resolver) reference(doc *Source, ref string) (*SchemaRef, error) {
	docPart, fragment, _ := strings.Cut(ref, "#")
	if fragment != "" && !strings.HasPrefix(fragment, "/") {
		return nil, &SchemaError{Code: ResolveError, Message: fmt.Sprintf("unsupported $ref %q: only JSON pointer fragments are resolved", ref), Location: doc.Location, Ref: ref}
	}

	if docPart == "" {
		name := r.declare(doc, fragment, ref)
		return &SchemaRef{Ref: ref, Name: name}, nil
	}

	target, err := resolveLocation(doc.Location, docPart)
	if err != nil {
		return nil, &SchemaError{Code: ResolveError, Message: fmt.Sprintf("resolve %s: %v", ref, err), Location: doc.Location, Ref: ref, Cause: err}
	}
	if target == doc.Location {
		name := r.declare(doc, fragment, ref)
		return &SchemaRef{Ref: ref, Name: name}, nil
	}
	if r.cfg.externalRefs != ExternalRefsDeclare {
		return &SchemaRef{Ref: ref, External: true}, nil
	}

	ext, ok := r.docs[target]
	if !ok {
		if r.cfg.maxDocuments > 0 && len(r.docs) >= r.cfg.maxDocuments {
			return nil, &SchemaError{Code: ResolveError, Message: fmt.Sprintf("resolve %s: more than %d documents referenced", ref, r.cfg.maxDocuments), Location: doc.Location, Ref: ref}
		}
		ext, err = Load(r.ctx, target, settingsOptions(doc.settings)...)
		if err != nil {
			return nil, &SchemaError{Code: ResolveError, Message: fmt.Sprintf("resolve %s: %v", ref, err), Location: doc.Location, Ref: ref, Cause: err}
		}
		// Loaded documents are keyed by the location they were requested as.
		ext.Location = target
		r.docs[target] = ext
	}
	name := r.declare(ext, fragment, ref)
	return &SchemaRef{Ref: ref, Name: name, External: true}, nil
}

func settingsOptions(s Settings) []Option {
	return []Option{func(dst *Settings) { *dst = s }}
}

// declare reserves a unique name for doc#pointer and queues its conversion.
func (r *resolver) declare(doc *Source, pointer, ref string) string {
	if pointer == "/" {
		pointer = ""
	}
	key := declKey(doc.Location, pointer)
	if name, ok := r.names[key]; ok {
		return name
	}
	hint := ""
	if pointer != "" {
		hint = pointer[strings.LastIndexByte(pointer, '/')+1:]
		hint = strings.ReplaceAll(strings.ReplaceAll(hint, "~1", "/"), "~0", "~")
		if u, err := url.PathUnescape(hint); err == nil {
			hint = u
		}
	} else {
		hint = doc.Title()
		if hint == "" {
			hint = strings.TrimSuffix(path.Base(filepath.ToSlash(doc.Location)), path.Ext(doc.Location))
		}
	}
	name := r.unique(TypeName(hint))
	r.names[key] = name
	r.pending = append(r.pending, pendingDecl{doc: doc, pointer: pointer, name: name, ref: ref})
	return name
}

func (r *resolver) unique(base string) string {
	if base == "" {
		base = "Type"
	}
	name := base
	for i := 2; r.taken[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	r.taken[name] = true
	return name
}

func declKey(location, pointer string) string { return location + "#" + pointer }

// resolveLocation resolves ref relative to base, which is a URL, a file path,
// or empty.
func resolveLocation(base, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		u.Fragment = ""
		return u.String(), nil
	}
	if base == "" {
		if filepath.IsAbs(ref) {
			return filepath.Clean(ref), nil
		}
		return "", fmt.Errorf("relative reference %q without a base location", ref)
	}
	if bu, err := url.Parse(base); err == nil && bu.Scheme != "" && bu.Host != "" {
		return bu.ResolveReference(u).String(), nil
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref), nil
	}
	return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref)), nil
}

// TypeName turns an arbitrary title or key into a PascalCase identifier.
// It returns "" when nothing usable remains.
func TypeName(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '$' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out != "" && unicode.IsDigit(rune(out[0])) {
		out = "T" + out
	}
	return out
}
