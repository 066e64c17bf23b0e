// Package validation validates admin API payloads against embedded JSON
// Schemas before they reach the maintenance handlers.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fieldlite/credvault/pkg/schema"
)

// maintenanceSchemaJSON is the JSON Schema for MaintenanceRequest payloads.
// Embedded as a constant to avoid filesystem dependencies.
const maintenanceSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://credvault.dev/schemas/maintenance.json",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {
      "type": "string",
      "enum": ["clear_cache", "reset_metrics", "force_migration"]
    },
    "tenant_id": {
      "type": "string",
      "minLength": 1
    }
  },
  "additionalProperties": false
}`

// MaintenanceValidator validates maintenance action requests.
// Safe for concurrent use once constructed.
type MaintenanceValidator struct {
	compiled *jsonschema.Schema
}

// NewMaintenanceValidator compiles the embedded maintenance schema.
func NewMaintenanceValidator() (*MaintenanceValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(maintenanceSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal maintenance schema: %w", err)
	}
	if err := c.AddResource("https://credvault.dev/schemas/maintenance.json", doc); err != nil {
		return nil, fmt.Errorf("add maintenance schema resource: %w", err)
	}
	compiled, err := c.Compile("https://credvault.dev/schemas/maintenance.json")
	if err != nil {
		return nil, fmt.Errorf("compile maintenance schema: %w", err)
	}
	return &MaintenanceValidator{compiled: compiled}, nil
}

// Validate checks a MaintenanceRequest against the schema plus the
// structural rule JSON Schema cannot express here: force_migration
// requires a tenant_id.
func (v *MaintenanceValidator) Validate(req *schema.MaintenanceRequest) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "maintenance request is nil")
	}

	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize maintenance request").WithCause(err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	if req.Action == schema.ActionForceMigration && req.TenantID == "" {
		return schema.NewError(schema.ErrCodeValidation, "force_migration requires tenant_id")
	}
	return nil
}

// toJSONValue round-trips a value through JSON so the validator sees the
// exact wire representation (numbers as json.Number, omitted fields gone).
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
