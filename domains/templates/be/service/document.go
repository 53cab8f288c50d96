package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ContentTypeJSON is the only template content type the sync engine applies.
const ContentTypeJSON = "json"

// Source formats accepted by ImportTemplate.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const documentSchemaURL = "memory://templates/role-template.json"

const documentSchemaText = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["roles", "permissions"],
  "properties": {
    "roles": {"$ref": "#/$defs/names"},
    "permissions": {"$ref": "#/$defs/names"},
    "rolePermissions": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/names"}
    }
  },
  "$defs": {
    "names": {
      "type": "array",
      "uniqueItems": true,
      "items": {"type": "string", "minLength": 1, "pattern": "\\S"}
    }
  }
}`

var documentSchema = jsonschema.MustCompileString(documentSchemaURL, documentSchemaText)

// Document is the structured body of a role template.
type Document struct {
	Roles           []string            `json:"roles"`
	Permissions     []string            `json:"permissions"`
	RolePermissions map[string][]string `json:"rolePermissions,omitempty"`
}

// DesiredPermissions returns the explicit mapping for role when one exists,
// otherwise the global permission list.
func (d Document) DesiredPermissions(role string) []string {
	if keys, ok := d.RolePermissions[role]; ok {
		return keys
	}
	return d.Permissions
}

// AllPermissions lists the global permissions followed by any key that only
// appears in the per-role mapping, without duplicates.
func (d Document) AllPermissions() []string {
	seen := make(map[string]struct{}, len(d.Permissions))
	out := make([]string, 0, len(d.Permissions))
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, key := range d.Permissions {
		add(key)
	}
	for _, role := range d.Roles {
		for _, key := range d.RolePermissions[role] {
			add(key)
		}
	}
	return out
}

// ParseDocument decodes cached template content, rejecting anything that is
// not a JSON document of the expected shape.
func ParseDocument(contentType, content string) (Document, error) {
	if strings.ToLower(strings.TrimSpace(contentType)) != ContentTypeJSON {
		return Document{}, &ValidationError{Fields: FieldErrors{
			"contentType": {fmt.Sprintf("unsupported template content type %q", contentType)},
		}}
	}
	return parseJSONDocument([]byte(content))
}

// DecodeDocument parses a JSON or YAML source into a validated Document.
func DecodeDocument(data []byte, format string) (Document, error) {
	switch format {
	case FormatJSON:
		return parseJSONDocument(data)
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Document{}, invalidContent(fmt.Errorf("decode yaml: %w", err))
		}
		buf, err := json.Marshal(raw)
		if err != nil {
			return Document{}, invalidContent(fmt.Errorf("convert yaml: %w", err))
		}
		return parseJSONDocument(buf)
	default:
		return Document{}, &ValidationError{Fields: FieldErrors{
			"format": {fmt.Sprintf("unsupported template format %q", format)},
		}}
	}
}

// FormatFromName picks the source format from a file or object name.
func FormatFromName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func parseJSONDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Document{}, invalidContent(fmt.Errorf("decode json: %w", err))
	}
	if err := documentSchema.Validate(raw); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return Document{}, invalidContent(verr)
		}
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, invalidContent(err)
	}
	return doc, nil
}

func invalidContent(err error) error {
	return &ValidationError{Fields: FieldErrors{"content": {err.Error()}}}
}

// DisplayName turns a key such as "users.read_all" into "Users Read All".
func DisplayName(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool {
		switch r {
		case '.', '_', '-', ':', '/':
			return true
		}
		return unicode.IsSpace(r)
	})
	if len(parts) == 0 {
		return strings.TrimSpace(key)
	}
	for i, p := range parts {
		first, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToUpper(first)) + strings.ToLower(p[size:])
	}
	return strings.Join(parts, " ")
}
