// Package store persists meeting records as JSON documents keyed by meeting id.
// Every backend exposes the same partial-update, transaction and array-union
// semantics on top of its native atomic read-modify-write primitive.
package store
