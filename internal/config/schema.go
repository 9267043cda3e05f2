package config

// FileSchema is the JSON Schema the raw config file is validated against
// before unmarshalling. Limits are typed here; positivity is enforced by
// Validate so env overrides get the same treatment as file values.
const FileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "server": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535}
      }
    },
    "session": {
      "type": "object",
      "properties": {
        "max_sessions_total": {"type": "integer"},
        "max_sessions_per_ip": {"type": "integer"},
        "max_messages_per_session": {"type": "integer"},
        "ttl_seconds": {"type": "integer"}
      }
    },
    "rate_limit": {
      "type": "object",
      "properties": {
        "count": {"type": "integer"},
        "window_seconds": {"type": "integer"}
      }
    },
    "reclaim": {
      "type": "object",
      "properties": {
        "interval_seconds": {"type": "integer"}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "redaction": {"type": "boolean"}
      }
    },
    "data_dir": {"type": "string"}
  }
}`
