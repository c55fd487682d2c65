package domain

import "fmt"

// TransportError wraps a network, auth, or rate-limit failure from one of
// the external collaborators. Per-community and per-market occurrences are
// isolated by the callers; they never abort a whole cycle.
type TransportError struct {
	Collaborator string // "kalshi", "reddit", "openai"
	Op           string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SchemaValidationError reports reasoning-service output that failed the
// strict response schema after retries.
type SchemaValidationError struct {
	Field  string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	if e.Field == "" {
		return "analyst response: " + e.Reason
	}
	return fmt.Sprintf("analyst response field %q: %s", e.Field, e.Reason)
}

// StorageError is a persistence failure. Fatal for the current cycle's
// remaining writes but never for the process; it threatens the dedupe and
// audit invariants and is logged loudly.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigurationError is a missing or invalid required setting. Fatal at
// startup only.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}
