package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeState(t *testing.T) {
	cases := map[string]string{
		"":            StateUnknown,
		"   ":         "   ",
		" Running ":   " running ",
		"SUCCESS":     StateSuccess,
		"Successful":  StateSuccess,
		"completed":   StateSuccess,
		"failed":      StateFailed,
		"Error":       StateFailed,
		"errored":     StateFailed,
		"running":     StateInProgress,
		"IN_PROGRESS": StateInProgress,
		"pending":     StateInProgress,
		"queued":      StateInProgress,
		"Cancelled":   "cancelled",
		"unknown":     StateUnknown,
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeState(in), "input %q", in)
	}
}

func TestNormalizeStateIsIdempotent(t *testing.T) {
	inputs := []string{"", "success", "Completed", "ERRORED", "queued", "Running", "Rolled-Back", "weird state", " Padded ", "in_progress"}
	for _, in := range inputs {
		once := NormalizeState(in)
		require.Equal(t, once, NormalizeState(once), "input %q", in)
	}
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(StateSuccess))
	require.True(t, IsTerminal(StateFailed))
	require.False(t, IsTerminal(StateInProgress))
	require.False(t, IsTerminal(StateUnknown))
	require.False(t, IsTerminal("cancelled"))
}
