// Package ingestion turns parsed textbooks into stored structure and content atoms.
//
// BuildStructure assigns teaching-order sequence indexes to a book's sections.
// The Indexer embeds content chunks through a worker pool and writes them as
// immutable atoms carrying the sequence index of their owning node. The
// Pipeline runs both for one book as a single unit: the book stays INGESTING
// while structure and atoms are written and is only marked READY once every
// atom is stored. Any failure leaves it FAILED and invisible to search.
package ingestion
