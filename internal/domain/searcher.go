package domain

import (
	"context"
	"errors"
)

// Not-found class errors. A provider returns one of these (possibly wrapped)
// when the query definitively has no matches.
var (
	ErrPlacemarkNotFound  = errors.New("placemark not found")
	ErrDirectionsNotFound = errors.New("directions not found")
)

// Searcher resolves free-text queries to places.
type Searcher interface {
	// Search returns the ordered places matching query. An empty slice and a
	// not-found class error both mean "no matches".
	Search(ctx context.Context, query string) ([]GeocodePlace, error)
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlacemarkNotFound) || errors.Is(err, ErrDirectionsNotFound)
}
