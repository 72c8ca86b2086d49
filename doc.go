// Package rbs describes a replicated, content-addressed object store.
//
// Blobs live in a namespaced BlobStore and are addressed by their Ref,
// the SHA2-256 hash of their content.
// Named objects - (namespace, bucket, key) triples - point at blobs
// and are kept in a reference store (package refs).
// Every write of a named object is also recorded as an event
// in a time-bucketed replication log (package replication),
// which remote readers consume incrementally from a cursor.
// When a cursor falls off the end of the log's retention,
// the reader is redirected to a snapshot (package snapshot)
// of the live object set, from which it can resume.
//
// Storage backends for all of these live under the store directory
// and are selected at runtime through the registry in package store.
package rbs
