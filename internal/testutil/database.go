package testutil

import (
	"testing"

	"luks-keeper/internal/database"
)

// NewTestHistory creates an in-memory run history driven by clock and
// sequential IDs. It is closed when the test completes.
func NewTestHistory(t *testing.T, clock *StubClock) *database.SQLiteHistory {
	t.Helper()

	h, err := database.NewSQLiteHistory(":memory:", clock, NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}
