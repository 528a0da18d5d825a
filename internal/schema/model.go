package schema

// Internal model consumed by the type emitters.

// Model is a compiled schema document: one root declaration plus the named
// declarations it reaches.
type Model struct {
	Name        string
	Description string
	Root        *SchemaOrRef
	Definitions map[string]Schema // by declared name
	Location    string
}

type Schema struct {
	Name                 string
	Title                string
	Type                 string
	Properties           map[string]*SchemaOrRef
	Required             []string
	Items                *SchemaOrRef
	TupleItems           []*SchemaOrRef
	AdditionalProperties *SchemaOrRef
	// AllowAdditional is set when additionalProperties is literally true.
	AllowAdditional bool
	AllOf           []*SchemaOrRef
	AnyOf           []*SchemaOrRef
	OneOf           []*SchemaOrRef
	Description     string
	Enum            []any
	Format          string
	Example         any
	Default         any
	Nullable        bool
	ReadOnly        bool
	Deprecated      bool
	// Never marks the false schema, which no value satisfies.
	Never bool
}

// SchemaRef is a $ref as written in the document. Name is the declaration it
// resolved to; it is empty for external refs left opaque.
type SchemaRef struct {
	Ref      string
	Name     string
	External bool
}

type SchemaOrRef struct {
	Schema *Schema
	Ref    *SchemaRef
}

// IsRequired reports whether prop is listed in s.Required.
func (s *Schema) IsRequired(prop string) bool {
	for _, r := range s.Required {
		if r == prop {
			return true
		}
	}
	return false
}
