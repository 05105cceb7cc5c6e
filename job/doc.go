// Package job defines the stateful representation of a generation request
// as it moves through the orchestrator's lifecycle.
//
// A Job carries immutable generation parameters (package params) plus the
// scheduling and delivery metadata added by the store, the dispatcher and
// the reconciler: Status, Progress, lease information, and the terminal
// artifact or error.
//
// Job values returned by a Store are snapshots. They are not intended to
// be constructed manually by user code and mutating a returned value does
// not change stored state; transitions must go through the Store and
// Queue interfaces in package store.
package job
