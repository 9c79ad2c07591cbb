package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const attendanceRecordedSchema = `{
  "type": "object",
  "title": "AttendanceRecorded",
  "properties": {
    "event_id": {"type": "string"},
    "run_id": {"type": "string"},
    "user_id": {"type": "string"},
    "action": {"type": "string", "enum": ["check_in", "check_out"]},
    "status": {"type": "string", "enum": ["CHECKED_IN", "CHECKED_OUT"]},
    "record_id": {"type": "string"},
    "lat": {"type": "number", "minimum": -90, "maximum": 90},
    "lng": {"type": "number", "minimum": -180, "maximum": 180},
    "accuracy_m": {"type": "number", "minimum": 0},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "run_id", "action", "status", "lat", "lng", "occurred_at"],
  "additionalProperties": false
}`

const attendanceFailedSchema = `{
  "type": "object",
  "title": "AttendanceFailed",
  "properties": {
    "event_id": {"type": "string"},
    "run_id": {"type": "string"},
    "user_id": {"type": "string"},
    "action": {"type": "string", "enum": ["check_in", "check_out"]},
    "stage": {"type": "string", "enum": ["locating", "submitting"]},
    "reason": {"type": "string", "minLength": 1},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "run_id", "action", "stage", "reason", "occurred_at"],
  "additionalProperties": false
}`

var schemaSources = map[string]string{
	TypeAttendanceRecorded: attendanceRecordedSchema,
	TypeAttendanceFailed:   attendanceFailedSchema,
}

// Validator checks event payloads against their compiled schema.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the schema of every known event type.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(schemaSources))}
	for eventType, source := range schemaSources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		url := "https://attendance.schemas.local/" + eventType + ".schema.json"
		if err := c.AddResource(url, strings.NewReader(source)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", eventType, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", eventType, err)
		}
		v.schemas[eventType] = schema
	}
	return v, nil
}

// Validate checks an encoded payload of the given type.
func (v *Validator) Validate(eventType string, payload []byte) error {
	schema, ok := v.schemas[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s payload: %w", eventType, err)
	}
	return nil
}
