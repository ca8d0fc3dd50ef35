// Package memory stores the artifacts a teaching profile has produced and
// composes spaced reviews from them.
//
// Artifacts are immutable. Every read is scoped to one profile; there is no
// cross-profile listing.
package memory
