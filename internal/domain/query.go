package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Actions carried by a QueryUpdate.
const (
	ActionQuery  = "query"
	ActionCancel = "cancel"
	ActionEnd    = "end"
)

// NormalizeQuery trims surrounding whitespace and collapses internal
// whitespace runs to a single space.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// QueryLength is the length of a normalized query in runes.
func QueryLength(normalized string) int {
	return utf8.RuneCountInString(normalized)
}

// QueryUpdate is one change to a session's search text, e.g. a keystroke.
type QueryUpdate struct {
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Action    string `json:"action,omitempty"` // "query" (default), "cancel", "end"
	Query     string `json:"query"`
}

// LookupResult is the answer delivered for a session. Places is nil when the
// lookup produced no results.
type LookupResult struct {
	SessionID  string         `json:"session_id"`
	Seq        int64          `json:"seq"`
	Query      string         `json:"query"`
	Places     []GeocodePlace `json:"places"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// ParseQueryUpdate decodes and validates a query update payload.
func ParseQueryUpdate(data []byte) (QueryUpdate, error) {
	var u QueryUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return QueryUpdate{}, fmt.Errorf("parse query update: %w", err)
	}
	if u.SessionID == "" {
		return QueryUpdate{}, errors.New("parse query update: session_id is required")
	}
	switch u.Action {
	case "":
		u.Action = ActionQuery
	case ActionQuery, ActionCancel, ActionEnd:
	default:
		return QueryUpdate{}, fmt.Errorf("parse query update: unknown action %q", u.Action)
	}
	return u, nil
}

// NewLookupResult stamps a result with the current time.
func NewLookupResult(sessionID string, seq int64, query string, places []GeocodePlace) LookupResult {
	return LookupResult{
		SessionID:  sessionID,
		Seq:        seq,
		Query:      query,
		Places:     places,
		ResolvedAt: clock.Now().UTC(),
	}
}

// RawUpdate is an unprocessed query update message from the source topic.
type RawUpdate struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}
