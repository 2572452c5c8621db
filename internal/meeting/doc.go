// Package meeting defines the persisted meeting record, its action items and
// the document field names shared by the store, aggregator and pipelines.
package meeting
