package workflow

// definitionSchema is the JSON schema every workflow definition document must
// satisfy before struct-level validation runs.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "capability", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "capability": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1},
          "input": {"type": "object"},
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "priority": {"type": "integer"},
          "delay_seconds": {"type": "integer", "minimum": 0},
          "timeout_seconds": {"type": "integer", "minimum": 0},
          "max_retries": {"type": "integer", "minimum": 0},
          "on_failure": {"type": "string", "enum": ["abort", "continue"]}
        }
      }
    },
    "sla": {
      "type": "object",
      "properties": {
        "max_duration_minutes": {"type": "integer", "minimum": 0},
        "alert_after_minutes": {"type": "integer", "minimum": 0}
      }
    },
    "on_complete": {"$ref": "#/definitions/notification"},
    "on_failure": {"$ref": "#/definitions/notification"}
  },
  "definitions": {
    "notification": {
      "type": "object",
      "required": ["capability", "action"],
      "properties": {
        "capability": {"type": "string", "minLength": 1},
        "action": {"type": "string", "minLength": 1},
        "input": {"type": "object"}
      }
    }
  }
}`
