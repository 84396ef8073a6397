package server

import (
	"fmt"
	"strings"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Payload schemas of the args a client may attach to a status report.
var argSchemas = map[models.ClientStatus]map[string]any{
	models.ClientReceived: {
		"type": "object",
	},
	models.ClientProcessing: {
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	},
	models.ClientComplete: {
		"type": "object",
		"properties": map[string]any{
			"result": map[string]any{},
		},
	},
	models.ClientErrored: {
		"type": "object",
		"properties": map[string]any{
			"error": map[string]any{"type": []any{"object", "string", "null"}},
		},
	},
}

var decisionsSchema = map[string]any{
	"type":     "object",
	"required": []any{"nodes"},
	"properties": map[string]any{
		"nodes": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"name", "type"},
				"properties": map[string]any{
					"name":           map[string]any{"type": "string", "minLength": 1},
					"type":           map[string]any{"type": "string"},
					"mode":           map[string]any{"enum": []any{"blocking", "non_blocking"}},
					"fires_at":       map[string]any{"type": "string"},
					"retry":          map[string]any{"type": "integer", "minimum": 0},
					"retry_interval": map[string]any{"type": "integer", "minimum": 0},
					"timeout":        map[string]any{"type": "integer", "minimum": 0},
					"metadata":       map[string]any{"type": "object"},
					"data":           map[string]any{"type": "object"},
				},
			},
		},
	},
}

// validateArgs checks the args reported with a client status.
func validateArgs(status models.ClientStatus, args map[string]any) error {
	schema, ok := argSchemas[status]
	if !ok || args == nil {
		return nil
	}

	return validateJSONSchema(args, schema)
}

// validateJSONSchema validates data against the provided JSON schema.
func validateJSONSchema(data map[string]any, schema map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgs, err)
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidArgs, strings.Join(errs, "; "))
	}

	return nil
}
