package providers

import "fmt"

// googleSchemaKeys is the OpenAPI 3.0 subset accepted by Gemini
// function declarations and responseSchema.
var googleSchemaKeys = map[string]bool{
	"type":             true,
	"format":           true,
	"title":            true,
	"description":      true,
	"nullable":         true,
	"enum":             true,
	"properties":       true,
	"required":         true,
	"items":            true,
	"anyOf":            true,
	"minItems":         true,
	"maxItems":         true,
	"minLength":        true,
	"maxLength":        true,
	"minimum":          true,
	"maximum":          true,
	"pattern":          true,
	"propertyOrdering": true,
}

const maxSchemaDepth = 32

// googleSchema dereferences local $ref pointers and down-converts a JSON
// Schema to the subset Google accepts. Unsupported keywords are dropped.
func googleSchema(in map[string]interface{}) map[string]interface{} {
	defs := map[string]interface{}{}
	for _, k := range []string{"$defs", "definitions"} {
		if d, ok := in[k].(map[string]interface{}); ok {
			for name, v := range d {
				defs["#/"+k+"/"+name] = v
			}
		}
	}
	out, _ := convertSchemaNode(in, defs, 0).(map[string]interface{})
	return out
}

func convertSchemaNode(node interface{}, defs map[string]interface{}, depth int) interface{} {
	m, ok := node.(map[string]interface{})
	if !ok {
		return node
	}
	if depth > maxSchemaDepth {
		// recursive definitions are cut off as free-form objects
		return map[string]interface{}{"type": "object"}
	}
	if ref, ok := m["$ref"].(string); ok {
		target, found := defs[ref]
		if !found {
			return map[string]interface{}{"type": "object"}
		}
		merged := map[string]interface{}{}
		if t, ok := target.(map[string]interface{}); ok {
			for k, v := range t {
				merged[k] = v
			}
		}
		for k, v := range m {
			if k != "$ref" {
				merged[k] = v
			}
		}
		return convertSchemaNode(merged, defs, depth+1)
	}

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch k {
		case "type":
			if list, ok := v.([]interface{}); ok {
				var kept []string
				for _, t := range list {
					if s, _ := t.(string); s == "null" {
						out["nullable"] = true
					} else if s != "" {
						kept = append(kept, s)
					}
				}
				if len(kept) > 0 {
					out["type"] = kept[0]
				}
				continue
			}
			out["type"] = v
		case "const":
			out["enum"] = []interface{}{v}
		case "properties":
			props, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			converted := make(map[string]interface{}, len(props))
			for name, p := range props {
				converted[name] = convertSchemaNode(p, defs, depth+1)
			}
			out["properties"] = converted
		case "items":
			out["items"] = convertSchemaNode(v, defs, depth+1)
		case "anyOf", "oneOf":
			list, ok := v.([]interface{})
			if !ok {
				continue
			}
			var variants []interface{}
			for _, item := range list {
				if im, ok := item.(map[string]interface{}); ok && im["type"] == "null" {
					out["nullable"] = true
					continue
				}
				variants = append(variants, convertSchemaNode(item, defs, depth+1))
			}
			if len(variants) == 1 {
				if single, ok := variants[0].(map[string]interface{}); ok {
					for sk, sv := range single {
						if _, exists := out[sk]; !exists {
							out[sk] = sv
						}
					}
				}
				continue
			}
			if len(variants) > 0 {
				out["anyOf"] = variants
			}
		case "enum":
			out["enum"] = stringifyEnum(v)
		default:
			if googleSchemaKeys[k] {
				out[k] = v
			}
		}
	}
	if enum, ok := out["enum"].([]interface{}); ok && len(enum) > 0 {
		out["enum"] = stringifyEnum(enum)
		out["type"] = "string"
	}
	if f, ok := out["format"].(string); ok && out["type"] == "string" && f != "enum" && f != "date-time" {
		delete(out, "format")
	}
	if req, ok := out["required"].([]interface{}); ok {
		props, _ := out["properties"].(map[string]interface{})
		kept := make([]interface{}, 0, len(req))
		for _, r := range req {
			if name, ok := r.(string); ok && props[name] != nil {
				kept = append(kept, name)
			}
		}
		if len(kept) == 0 {
			delete(out, "required")
		} else {
			out["required"] = kept
		}
	}
	return out
}

// stringifyEnum renders enum members as strings; Google only accepts
// string enums.
func stringifyEnum(v interface{}) []interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]interface{}, 0, len(list))
	for _, item := range list {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case nil:
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}
