// Package treedef generalizes the teacher's BehaviorTreeLibrary /
// BehaviorTreeTemplate (internal/engine/behavior_templates.go — a map of
// hand-coded Go builder functions like buildWorkerAI/buildSoldierAI) into
// data-driven YAML templates: a designer adds a tree by writing a
// document, not by writing and recompiling a Builder func. Templates are
// validated against a JSON Schema before being turned into a bt.Spec, and
// discovered under a configured root by glob — this is purely a
// construction-time convenience; spec §6 is explicit that trees
// themselves have no required persisted wire format.
package treedef

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// nodeSchemaJSON is the JSON Schema every decoded template node is
// validated against before being turned into a bt.Spec. kind enumerates
// exactly the Kind values internal/bt understands (node.go), spelled the
// way a YAML author would write them.
const nodeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "https://decisioncore/schema/node.json",
  "type": "object",
  "required": ["kind", "name"],
  "properties": {
    "kind": {
      "type": "string",
      "enum": [
        "sequence", "selector", "parallel", "random_selector",
        "invert", "repeat", "retry_until_success", "retry_until_failure",
        "timer", "cooldown", "timeout",
        "force_success", "force_failure", "random_success", "random_failure",
        "action", "condition", "wait", "subtree"
      ]
    },
    "name": {"type": "string", "minLength": 1},
    "children": {"type": "array", "items": {"$ref": "https://decisioncore/schema/node.json"}},
    "policy": {"type": "string", "enum": ["require_all", "require_one", "quorum"]},
    "quorum": {"type": "integer", "minimum": 1},
    "weights": {"type": "array", "items": {"type": "number", "minimum": 0}},
    "count": {"type": "integer", "minimum": 1},
    "max_attempts": {"type": "integer", "minimum": 1},
    "duration_ms": {"type": "integer", "minimum": 0},
    "probability": {"type": "number", "minimum": 0, "maximum": 1},
    "action": {"type": "string", "minLength": 1},
    "condition": {"type": "string", "minLength": 1},
    "negate": {"type": "boolean"},
    "params": {"type": "object"},
    "ref": {"type": "string", "minLength": 1}
  }
}`

// templateSchemaJSON wraps one root node with the descriptive metadata
// the original BehaviorTreeMetadata (SPEC_FULL.md Supplemented Features)
// carries.
const templateSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "https://decisioncore/schema/template.json",
  "type": "object",
  "required": ["name", "root"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "author": {"type": "string"},
    "version": {"type": "string"},
    "unit_types": {"type": "array", "items": {"type": "string"}},
    "root": {"$ref": "https://decisioncore/schema/node.json"}
  }
}`

// compiledSchema compiles the two schema resources once; compilation
// failures here would be a bug in this package, not a bad template, so
// this is fatal at init time rather than returned per-call.
var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("https://decisioncore/schema/node.json", strings.NewReader(nodeSchemaJSON)); err != nil {
		panic(fmt.Sprintf("treedef: compiling node schema: %v", err))
	}
	if err := c.AddResource("https://decisioncore/schema/template.json", strings.NewReader(templateSchemaJSON)); err != nil {
		panic(fmt.Sprintf("treedef: compiling template schema: %v", err))
	}
	schema, err := c.Compile("https://decisioncore/schema/template.json")
	if err != nil {
		panic(fmt.Sprintf("treedef: compiling template schema: %v", err))
	}
	return schema
}

// Validate checks raw (a YAML document decoded into map[string]any-shaped
// data) against the template schema.
func Validate(raw any) error {
	if err := compiledSchema.Validate(raw); err != nil {
		return fmt.Errorf("treedef: schema validation: %w", err)
	}
	return nil
}
