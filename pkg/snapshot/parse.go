package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/jskelly/gomend/pkg/domain/healing"
)

// snapshotSchema is the JSON schema every stored snapshot document must
// satisfy before it is decoded. Kept inline so validation works without a
// schema file on disk.
const snapshotSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["root"],
	"properties": {
		"captured_at": {"type": "string"},
		"root": {"$ref": "#/definitions/node"}
	},
	"definitions": {
		"node": {
			"type": "object",
			"required": ["tag"],
			"properties": {
				"tag": {"type": "string", "minLength": 1},
				"role": {"type": "string"},
				"name": {"type": "string"},
				"text": {"type": "string"},
				"attrs": {
					"type": "object",
					"additionalProperties": {"type": "string"}
				},
				"box": {
					"type": "object",
					"properties": {
						"x": {"type": "number"},
						"y": {"type": "number"},
						"w": {"type": "number", "minimum": 0},
						"h": {"type": "number", "minimum": 0}
					}
				},
				"children": {
					"type": "array",
					"items": {"$ref": "#/definitions/node"}
				}
			}
		}
	}
}`

// Validate checks a raw snapshot document against the snapshot schema.
func Validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty snapshot document")
	}

	schemaLoader := gojsonschema.NewStringLoader(snapshotSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate snapshot document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("snapshot document failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Parse validates and decodes a raw snapshot document.
func Parse(ref string, data []byte) (*UiSnapshot, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	root, err := parseNode(gjson.GetBytes(data, "root"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %q: %w", ref, err)
	}

	return &UiSnapshot{
		Ref:        ref,
		CapturedAt: gjson.GetBytes(data, "captured_at").String(),
		Root:       root,
	}, nil
}

// parseNode decodes one node and its children from a gjson result.
func parseNode(v gjson.Result) (*UiNode, error) {
	if !v.Exists() || !v.IsObject() {
		return nil, fmt.Errorf("node is not an object")
	}

	node := &UiNode{
		Tag:  v.Get("tag").String(),
		Role: v.Get("role").String(),
		Name: v.Get("name").String(),
		Text: v.Get("text").String(),
	}
	if node.Tag == "" {
		return nil, fmt.Errorf("node missing tag")
	}

	if attrs := v.Get("attrs"); attrs.IsObject() {
		node.Attrs = make(map[string]string)
		attrs.ForEach(func(key, val gjson.Result) bool {
			node.Attrs[key.String()] = val.String()
			return true
		})
	}

	if box := v.Get("box"); box.IsObject() {
		node.Box = healing.Rect{
			X: box.Get("x").Float(),
			Y: box.Get("y").Float(),
			W: box.Get("w").Float(),
			H: box.Get("h").Float(),
		}
	}

	for _, child := range v.Get("children").Array() {
		c, err := parseNode(child)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, c)
	}

	return node, nil
}

// Encode serializes a snapshot back to its document form. Used by tests
// and the dir store round trip.
func Encode(s *UiSnapshot) ([]byte, error) {
	doc := map[string]interface{}{
		"root": s.Root,
	}
	if s.CapturedAt != "" {
		doc["captured_at"] = s.CapturedAt
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}
