package curriculum

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const courseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "title", "modules"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "title": {"type": "string", "minLength": 1},
    "status": {"enum": ["draft", "published", "archived"]},
    "author_id": {"type": "string"},
    "description": {"type": "string"},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}},
    "modules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "order_index": {"type": "integer"},
          "lessons": {"type": "array", "items": {"$ref": "#/definitions/lesson"}}
        }
      }
    },
    "enrollments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["user_id"],
        "properties": {
          "id": {"type": "string"},
          "user_id": {"type": "string", "minLength": 1},
          "progress": {"type": "integer", "minimum": 0, "maximum": 100},
          "status": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "lesson": {
      "type": "object",
      "required": ["id", "title", "type"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string"},
        "type": {"type": "string", "minLength": 1},
        "order_index": {"type": "integer"},
        "body_file": {"type": "string"},
        "quiz": {
          "type": "object",
          "required": ["questions"],
          "properties": {
            "passing_score": {"type": "integer", "minimum": 0, "maximum": 100},
            "questions": {
              "type": "array",
              "minItems": 1,
              "items": {
                "type": "object",
                "required": ["id", "kind", "options", "correct"],
                "properties": {
                  "id": {"type": "string", "minLength": 1},
                  "kind": {"enum": ["single", "multiple"]},
                  "text": {"type": "string"},
                  "options": {
                    "type": "array",
                    "minItems": 1,
                    "items": {
                      "type": "object",
                      "required": ["id"],
                      "properties": {"id": {"type": "string"}, "text": {"type": "string"}}
                    }
                  },
                  "correct": {"type": "array", "minItems": 1, "items": {"type": "string"}}
                }
              }
            }
          }
        }
      }
    }
  }
}`

var courseSchemaLoader = gojsonschema.NewStringLoader(courseSchema)

// validateDocument checks a decoded YAML document against the course schema.
func validateDocument(doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	result, err := gojsonschema.Validate(courseSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
}
