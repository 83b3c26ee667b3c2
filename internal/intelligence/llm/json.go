package llm

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// StripFences removes a surrounding Markdown code fence such as ```json ... ```.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractObject returns the text between the first '{' and the last '}'.
// It returns "" when no such span exists.
func ExtractObject(s string) string {
	return span(s, '{', '}')
}

// ExtractArray returns the text between the first '[' and the last ']'.
func ExtractArray(s string) string {
	return span(s, '[', ']')
}

func span(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// SchemaFor reflects T into a strict JSON schema: every property required and
// no additional properties, as structured-output backends expect.
func SchemaFor[T any](name string) *Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	b, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	strict(m)
	return &Schema{Name: name, Definition: m}
}

func strict(schema map[string]interface{}) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			schema["required"] = required
		}
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]interface{}); ok {
				strict(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		strict(items)
	}
}
