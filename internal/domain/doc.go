// Package domain holds the types shared by the place lookup service: the
// place records produced by a geocoding provider, the Searcher contract that
// providers implement, and the query updates and lookup results exchanged
// with clients.
//
// # Query normalization
//
// Queries are compared after NormalizeQuery: surrounding whitespace is
// dropped and internal runs of whitespace collapse to one space, so
// "  main   st " and "main st" share a cache entry. Lengths are counted in
// runes.
//
// # No results
//
// A provider may report "no matches" either as an empty slice or as an error
// wrapping ErrPlacemarkNotFound or ErrDirectionsNotFound. Both are answered to
// clients as a nil place list; IsNotFound classifies the error form.
package domain
