// Package state provides the saved-question file store and the SQLite ask
// history.
package state

import "github.com/user/fabricagent/internal/types"

// Compile-time interface compliance checks.
var _ types.HistoryStore = (*HistoryStore)(nil)
