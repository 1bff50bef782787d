package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/gembridge/gembridge/pkg/models"
)

// RootPath is the field path reported when no parseable payload exists at all.
const RootPath = "<root>"

var fenceRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ExtractPayload isolates the first well-formed JSON object embedded in raw
// model output. Models wrap payloads in prose or markdown fences, so
// extraction is tiered: fenced blocks first, then brace matching over the
// whole text. Returns false when no valid object is present.
func ExtractPayload(raw string) (string, bool) {
	if strings.Contains(raw, "```") {
		if m := fenceRegex.FindStringSubmatch(raw); len(m) > 1 {
			candidate := strings.TrimSpace(m[1])
			if strings.HasPrefix(candidate, "{") && json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}

	// Brace matching that tracks string context and escapes, so braces
	// inside JSON strings do not confuse the scan.
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		level := 0
		inString := false
		escaped := false
		for j := i; j < len(raw); j++ {
			if escaped {
				escaped = false
				continue
			}
			switch raw[j] {
			case '\\':
				escaped = true
			case '"':
				inString = !inString
			case '{':
				if !inString {
					level++
				}
			case '}':
				if !inString {
					level--
					if level == 0 {
						candidate := raw[i : j+1]
						if json.Valid([]byte(candidate)) {
							return candidate, true
						}
						j = len(raw) // invalid; resume outer scan
					}
				}
			}
		}
	}
	return "", false
}

// Validate extracts a structured payload from raw model output and walks it
// against the descriptor. On success it returns the decoded value; otherwise
// a *models.ValidationError naming the first violating field path. Unknown
// extra fields are ignored.
func Validate(raw string, d *Descriptor) (map[string]any, *models.ValidationError) {
	payload, ok := ExtractPayload(raw)
	if !ok {
		return nil, &models.ValidationError{Path: RootPath, Reason: "unparseable: no JSON object found in response"}
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, &models.ValidationError{Path: RootPath, Reason: "unparseable: " + err.Error()}
	}

	if verr := validateObject("", value, d); verr != nil {
		return nil, verr
	}
	return value, nil
}

func validateObject(prefix string, value map[string]any, d *Descriptor) *models.ValidationError {
	for i := range d.Fields {
		f := &d.Fields[i]
		path := joinPath(prefix, f.Name)
		v, present := value[f.Name]
		if !present || v == nil {
			if f.Required {
				return &models.ValidationError{Path: path, Reason: "missing required field"}
			}
			continue
		}
		if verr := validateValue(path, v, f); verr != nil {
			return verr
		}
	}
	return nil
}

func validateValue(path string, v any, f *Field) *models.ValidationError {
	switch f.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return typeMismatch(path, "string", v)
		}

	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return typeMismatch(path, "boolean", v)
		}

	case TypeInteger:
		n, ok := v.(float64)
		if !ok || n != math.Trunc(n) {
			return typeMismatch(path, "integer", v)
		}
		return checkBounds(path, n, f)

	case TypeNumber:
		n, ok := v.(float64)
		if !ok {
			return typeMismatch(path, "number", v)
		}
		return checkBounds(path, n, f)

	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return typeMismatch(path, "string", v)
		}
		for _, allowed := range f.Enum {
			if s == allowed {
				return nil
			}
		}
		return &models.ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("value %q not in allowed set [%s]", s, strings.Join(f.Enum, ", ")),
		}

	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return typeMismatch(path, "object", v)
		}
		return validateObject(path, obj, f.Object)

	case TypeList:
		items, ok := v.([]any)
		if !ok {
			return typeMismatch(path, "array", v)
		}
		elem := *f.Items
		for i, item := range items {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				return &models.ValidationError{Path: elemPath, Reason: "null element"}
			}
			if verr := validateValue(elemPath, item, &elem); verr != nil {
				return verr
			}
		}
	}
	return nil
}

func checkBounds(path string, n float64, f *Field) *models.ValidationError {
	if f.Minimum != nil && n < *f.Minimum {
		return &models.ValidationError{Path: path, Reason: fmt.Sprintf("value %v below minimum %v", n, *f.Minimum)}
	}
	if f.Maximum != nil && n > *f.Maximum {
		return &models.ValidationError{Path: path, Reason: fmt.Sprintf("value %v above maximum %v", n, *f.Maximum)}
	}
	return nil
}

func typeMismatch(path, want string, got any) *models.ValidationError {
	return &models.ValidationError{Path: path, Reason: fmt.Sprintf("expected %s, got %s", want, jsonTypeName(got))}
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
