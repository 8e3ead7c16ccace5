// Package storage is the narrow gateway to the authoritative game store.
//
// Every invariant-bearing state transition is a single conditional write:
// the UPDATE carries the expected prior state in its WHERE clause and the
// caller gets back whether the write matched. A zero-matched write is not
// an error; it means another execution already handled the transition.
package storage
