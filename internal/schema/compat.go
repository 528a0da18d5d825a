package schema

// upgradeDraft rewrites JSON Schema constructs that kin-openapi's decoder
// either rejects or drops, in place:
//   - "type": [..] becomes a single type, nullable, or an anyOf of types
//   - "const" becomes a one-value enum
//   - "examples" feeds "example" when that is unset
//   - numeric exclusiveMinimum/exclusiveMaximum become the boolean form
//   - tuple "items": [..] moves to "prefixItems"
//   - boolean schemas become {} or {"not": {}}
//   - draft-3 "required": true on a property moves to the parent's list
//
// It reports whether anything changed.
func upgradeDraft(doc map[string]any) bool {
	return upgradeSchema(doc, 0)
}

const maxCompatDepth = 512

var (
	schemaMapKeywords   = []string{"properties", "patternProperties", "definitions", "$defs", "dependentSchemas"}
	schemaKeywords      = []string{"items", "additionalProperties", "additionalItems", "not", "contains", "propertyNames", "if", "then", "else", "unevaluatedProperties", "unevaluatedItems"}
	schemaListKeywords  = []string{"allOf", "anyOf", "oneOf", "prefixItems"}
	openAPINumberBounds = [][2]string{{"exclusiveMinimum", "minimum"}, {"exclusiveMaximum", "maximum"}}
)

func upgradeSchema(m map[string]any, depth int) bool {
	if depth > maxCompatDepth {
		return false
	}
	modified := false

	if types, ok := m["type"].([]any); ok {
		upgradeTypeList(m, types)
		modified = true
	}

	if c, ok := m["const"]; ok {
		if _, has := m["enum"]; !has {
			m["enum"] = []any{c}
		}
		delete(m, "const")
		modified = true
	}

	if ex, ok := m["examples"].([]any); ok {
		if _, has := m["example"]; !has && len(ex) > 0 {
			m["example"] = ex[0]
		}
		delete(m, "examples")
		modified = true
	}

	for _, pair := range openAPINumberBounds {
		v, ok := m[pair[0]]
		if !ok {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		m[pair[1]] = v
		m[pair[0]] = true
		modified = true
	}

	if tuple, ok := m["items"].([]any); ok {
		if _, has := m["prefixItems"]; !has {
			m["prefixItems"] = tuple
		}
		delete(m, "items")
		if extra, ok := m["additionalItems"]; ok {
			if _, isBool := extra.(bool); !isBool {
				m["items"] = extra
			}
			delete(m, "additionalItems")
		}
		modified = true
	}

	// Property-level required flags
	if props, ok := m["properties"].(map[string]any); ok {
		var lifted []any
		for name, p := range props {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if req, isBool := pm["required"].(bool); isBool {
				if req {
					lifted = append(lifted, name)
				}
				delete(pm, "required")
				modified = true
			}
		}
		if len(lifted) > 0 {
			existing, _ := m["required"].([]any)
			for _, name := range lifted {
				if !containsString(existing, name.(string)) {
					existing = append(existing, name)
				}
			}
			m["required"] = existing
		}
	}
	if _, isBool := m["required"].(bool); isBool {
		delete(m, "required")
		modified = true
	}

	// Nested schema positions
	for _, key := range schemaMapKeywords {
		children, ok := m[key].(map[string]any)
		if !ok {
			continue
		}
		for name, child := range children {
			if upgraded, changed := upgradeChild(child, depth); changed {
				children[name] = upgraded
				modified = true
			}
		}
	}
	for _, key := range schemaKeywords {
		child, ok := m[key]
		if !ok {
			continue
		}
		// additionalProperties: false is meaningful as a boolean.
		if _, isBool := child.(bool); isBool && (key == "additionalProperties" || key == "unevaluatedProperties") {
			continue
		}
		if upgraded, changed := upgradeChild(child, depth); changed {
			m[key] = upgraded
			modified = true
		}
	}
	for _, key := range schemaListKeywords {
		list, ok := m[key].([]any)
		if !ok {
			continue
		}
		for i, child := range list {
			if upgraded, changed := upgradeChild(child, depth); changed {
				list[i] = upgraded
				modified = true
			}
		}
	}
	return modified
}

func upgradeChild(child any, depth int) (any, bool) {
	switch c := child.(type) {
	case bool:
		if c {
			return map[string]any{}, true
		}
		return map[string]any{"not": map[string]any{}}, true
	case map[string]any:
		return c, upgradeSchema(c, depth+1)
	default:
		return child, false
	}
}

func upgradeTypeList(m map[string]any, types []any) {
	var kept []string
	nullable := false
	for _, t := range types {
		s, ok := t.(string)
		if !ok {
			continue
		}
		if s == "null" {
			nullable = true
			continue
		}
		kept = append(kept, s)
	}
	delete(m, "type")
	if nullable {
		m["nullable"] = true
	}
	switch len(kept) {
	case 0:
		if nullable {
			m["type"] = "null"
			delete(m, "nullable")
		}
	case 1:
		m["type"] = kept[0]
	default:
		variants := make([]any, 0, len(kept))
		for _, t := range kept {
			variants = append(variants, map[string]any{"type": t})
		}
		if existing, ok := m["anyOf"].([]any); ok {
			m["allOf"] = append(asList(m["allOf"]), map[string]any{"anyOf": existing})
		}
		m["anyOf"] = variants
	}
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

func containsString(list []any, want string) bool {
	for _, v := range list {
		if s, ok := v.(string); ok && s == want {
			return true
		}
	}
	return false
}
