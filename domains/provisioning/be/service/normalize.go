package service

import "strings"

// Normalized deployment states.
const (
	StateSuccess    = "success"
	StateFailed     = "failed"
	StateInProgress = "in_progress"
	StateUnknown    = "unknown"
)

var stateAliases = map[string]string{
	"success":     StateSuccess,
	"successful":  StateSuccess,
	"completed":   StateSuccess,
	"failed":      StateFailed,
	"error":       StateFailed,
	"errored":     StateFailed,
	"running":     StateInProgress,
	"in_progress": StateInProgress,
	"pending":     StateInProgress,
	"queued":      StateInProgress,
}

// NormalizeState maps a provider status to success, failed, in_progress or
// unknown. Unrecognised values pass through lower-cased and otherwise
// unchanged. Every output maps to itself, so the function is idempotent.
func NormalizeState(raw string) string {
	s := strings.ToLower(raw)
	if s == "" {
		return StateUnknown
	}
	if mapped, ok := stateAliases[s]; ok {
		return mapped
	}
	return s
}

// IsTerminal reports whether a normalized state ends a deployment.
func IsTerminal(state string) bool {
	return state == StateSuccess || state == StateFailed
}
